package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syncboard/syncboard/internal/config"
	"github.com/syncboard/syncboard/internal/observability"
	"github.com/syncboard/syncboard/internal/presence"
	"github.com/syncboard/syncboard/internal/registry"
)

// Server is the websocket front door. It upgrades connections, runs their
// read/write loops, and tears everything down in order when a socket closes.
type Server struct {
	cfg        config.ServerConfig
	gwCfg      config.GatewayConfig
	registry   *registry.Registry
	presence   *presence.Registry
	dispatcher *Dispatcher
	router     *Router
	timers     *Timers
	logger     *slog.Logger
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader

	httpSrv *http.Server
}

func NewServer(cfg config.ServerConfig, gwCfg config.GatewayConfig, reg *registry.Registry, pres *presence.Registry, disp *Dispatcher, router *Router, timers *Timers, logger *slog.Logger, metrics *observability.Metrics, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:        cfg,
		gwCfg:      gwCfg,
		registry:   reg,
		presence:   pres,
		dispatcher: disp,
		router:     router,
		timers:     timers,
		logger:     logger,
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary dev origins; auth
			// happens per-request via token, not via origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains with a shutdown grace
// period. A bind failure is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	go s.timers.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	connected, authed := s.registry.Counts()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","connections":%d,"authenticated":%d,"presence_entries":%d}`,
		connected, authed, s.presence.Len())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	connID := uuid.NewString()
	conn := newWSConn(connID, sock, s.gwCfg.SendBuffer, s.gwCfg.WriteTimeout, s.logger)

	s.registry.Add(connID)
	s.dispatcher.Attach(connID, conn)
	if s.metrics != nil {
		s.metrics.ConnectionsActive.Inc()
	}
	s.logger.Info("connection opened", "conn_id", connID, "remote", r.RemoteAddr)

	go conn.writeLoop()
	conn.readLoop(r.Context(), s.gwCfg.MaxPayloadBytes, s.router.Handle)

	// Teardown order matters: stop fanout to this connection first, then
	// retire its presence (which broadcasts to the survivors), then drop
	// the connection record itself.
	s.dispatcher.Detach(connID)
	s.router.HandleDisconnect(connID)
	s.registry.Remove(connID)
	conn.close()
	if s.metrics != nil {
		s.metrics.ConnectionsActive.Dec()
		_, authed := s.registry.Counts()
		s.metrics.ConnectionsAuthenticated.Set(float64(authed))
	}
	s.logger.Info("connection closed", "conn_id", connID)
}
