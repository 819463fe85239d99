package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/syncboard/syncboard/internal/observability"
	"github.com/syncboard/syncboard/internal/registry"
	"github.com/syncboard/syncboard/pkg/models"
)

// frameWriter is the outbound half of a connection: a non-blocking enqueue
// of an already-serialized frame. Enqueue returns false when the connection
// is gone or its buffer is full; the frame is dropped either way.
type frameWriter interface {
	Enqueue(frame []byte) bool
}

// Dispatcher resolves broadcast targets through the connection registry and
// pushes serialized frames to them. Delivery is best-effort: a connection
// that cannot accept the frame right now is skipped, never retried; the
// periodic presence re-broadcast heals whatever state it missed.
type Dispatcher struct {
	registry *registry.Registry
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu      sync.RWMutex
	writers map[string]frameWriter
}

// NewDispatcher builds a dispatcher over the given registry. logger and
// metrics may be nil.
func NewDispatcher(reg *registry.Registry, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: reg,
		logger:   logger,
		metrics:  metrics,
		writers:  make(map[string]frameWriter),
	}
}

// Attach registers the outbound writer for a connection.
func (d *Dispatcher) Attach(connID string, w frameWriter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writers[connID] = w
}

// Detach removes the writer; subsequent sends to this connection are no-ops.
func (d *Dispatcher) Detach(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.writers, connID)
}

// ToAll delivers the message to every authenticated connection except
// excludeConnID. Returns the number of connections the frame was enqueued to.
func (d *Dispatcher) ToAll(msg models.Broadcast, excludeConnID string) int {
	frame, ok := d.marshal(msg.Type, msg)
	if !ok {
		return 0
	}
	d.count("all")
	sent := 0
	for _, conn := range d.registry.ListAuthenticated() {
		if conn.ID == excludeConnID {
			continue
		}
		if d.enqueue(conn.ID, frame) {
			sent++
		}
	}
	d.sent(sent)
	return sent
}

// ToBoard delivers the message to every connection whose active board is
// boardID, except excludeConnID.
func (d *Dispatcher) ToBoard(msg models.Broadcast, boardID, excludeConnID string) int {
	frame, ok := d.marshal(msg.Type, msg)
	if !ok {
		return 0
	}
	d.count("board")
	sent := 0
	for _, connID := range d.registry.ListByBoard(boardID) {
		if connID == excludeConnID {
			continue
		}
		if d.enqueue(connID, frame) {
			sent++
		}
	}
	d.sent(sent)
	return sent
}

// ToUser delivers the message to every connection authenticated as userID;
// a user with several tabs open receives one frame per tab.
func (d *Dispatcher) ToUser(userID string, msg models.Broadcast) int {
	frame, ok := d.marshal(msg.Type, msg)
	if !ok {
		return 0
	}
	d.count("user")
	sent := 0
	for _, connID := range d.registry.ListByUser(userID) {
		if d.enqueue(connID, frame) {
			sent++
		}
	}
	d.sent(sent)
	return sent
}

// ToConnection delivers a single frame to one connection; used for
// request/response correlation rather than broadcast. msg is typically a
// models.Response.
func (d *Dispatcher) ToConnection(connID string, msg any) bool {
	frame, ok := d.marshal("response", msg)
	if !ok {
		return false
	}
	d.count("connection")
	return d.enqueue(connID, frame)
}

func (d *Dispatcher) enqueue(connID string, frame []byte) bool {
	d.mu.RLock()
	w, ok := d.writers[connID]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	return w.Enqueue(frame)
}

// marshal serializes the message once per fanout. A marshal failure is a bug
// in the producing handler, not a transient condition: it is logged loudly
// with the message type so it cannot pass unnoticed, but it must not unwind
// into the caller and take the process down.
func (d *Dispatcher) marshal(msgType string, msg any) ([]byte, bool) {
	frame, err := json.Marshal(msg)
	if err != nil {
		d.logger.Error("message serialization failed", "type", msgType, "error", err)
		return nil, false
	}
	return frame, true
}

func (d *Dispatcher) count(target string) {
	if d.metrics != nil {
		d.metrics.BroadcastsTotal.WithLabelValues(target).Inc()
	}
}

func (d *Dispatcher) sent(n int) {
	if d.metrics != nil && n > 0 {
		d.metrics.BroadcastRecipients.Add(float64(n))
	}
}
