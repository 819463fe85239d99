package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncboard/syncboard/pkg/models"
)

// wsConn wraps one websocket transport session. Inbound requests are handled
// synchronously in the read loop, which preserves per-connection ordering;
// outbound frames go through a buffered channel drained by the write loop so
// a slow consumer never blocks a broadcast.
type wsConn struct {
	id           string
	sock         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	logger       *slog.Logger
}

func newWSConn(id string, sock *websocket.Conn, sendBuffer int, writeTimeout time.Duration, logger *slog.Logger) *wsConn {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &wsConn{
		id:           id,
		sock:         sock,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Enqueue implements frameWriter. It never blocks: a full buffer or a closed
// connection drops the frame and reports false.
func (c *wsConn) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.sock.Close()
	})
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		}
	}
}

// readLoop processes inbound frames until the transport errors or closes.
// Request handling is synchronous: a connection's requests are applied in
// receipt order.
func (c *wsConn) readLoop(ctx context.Context, maxPayload int64, handle func(context.Context, string, models.Request)) {
	c.sock.SetReadLimit(maxPayload)
	for {
		messageType, data, err := c.sock.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req models.Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.logger.Debug("dropping malformed frame", "conn_id", c.id, "error", err)
			continue
		}
		if req.Type == "" {
			continue
		}
		handle(ctx, c.id, req)
	}
}
