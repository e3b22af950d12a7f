// Package server implements the push server: it upgrades HTTP requests on one
// path to WebSocket connections, pumps messages in both directions and reports
// connection lifecycle events to subscribers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tecu23/logpush/pkg/events"
	"github.com/tecu23/logpush/pkg/metrics"
)

var (
	// ErrServerClosed is returned by operations on a closed server.
	ErrServerClosed = errors.New("server closed")
	// ErrAlreadyListening is returned when Listen is called twice.
	ErrAlreadyListening = errors.New("server already listening")
)

// Server accepts upgrade requests and lets callers push payloads to the
// resulting connections by identity.
type Server struct {
	cfg       Config
	hub       *Hub
	publisher *events.Publisher
	upgrader  websocket.Upgrader
	logger    *zap.Logger

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	closed     atomic.Bool
}

var _ http.Handler = (*Server)(nil)

// New creates a server. The given sinks receive opened, closed and message
// events for every connection; more can be added later with Subscribe.
func New(cfg Config, logger *zap.Logger, sinks ...events.Sink) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	logger = logger.Named("push")

	s := &Server{
		cfg:       cfg,
		hub:       NewHub(),
		publisher: events.NewPublisher(logger),
		upgrader:  newUpgrader(cfg),
		logger:    logger,
	}
	for _, sink := range sinks {
		s.publisher.Subscribe(sink)
	}
	return s
}

// Subscribe registers another event sink.
func (s *Server) Subscribe(sink events.Sink) (unsubscribe func()) {
	return s.publisher.Subscribe(sink)
}

// Subscribers returns the number of registered event sinks.
func (s *Server) Subscribers() int {
	return s.publisher.Len()
}

// Config returns the effective configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// Handler returns a handler serving the upgrade endpoint on the configured path.
// Every other path answers 404, as does every path when the configuration is
// invalid.
func (s *Server) Handler() http.Handler {
	if err := s.cfg.Validate(); err != nil {
		s.logger.Error("invalid push server configuration", zap.Error(err))
		return http.NotFoundHandler()
	}
	mux := http.NewServeMux()
	for _, pattern := range s.cfg.routes() {
		mux.Handle(pattern, s)
	}
	return mux
}

// Listen binds the configured port and starts accepting connections in the
// background.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrServerClosed
	}
	if s.listener != nil {
		return ErrAlreadyListening
	}
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	addr := listenAddress(s.cfg, Elevated())
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.HandshakeTimeout,
		ErrorLog:          zap.NewStdLog(s.logger.Named("http")),
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("accept loop stopped", zap.Error(err))
		}
	}()

	s.logger.Info("Starting push server",
		zap.String("address", ln.Addr().String()),
		zap.String("path", s.cfg.endpoint()),
	)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns the WebSocket URL of the upgrade endpoint, or "" before Listen.
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == nil {
		return ""
	}
	return "ws://" + addr.String() + s.cfg.endpoint()
}

// BroadcastText queues text for the connection with the given identity. It
// reports whether a live connection took the message; unknown or closed
// identities are dropped silently.
func (s *Server) BroadcastText(id uuid.UUID, text string) bool {
	return s.send(id, textFrame(text))
}

// BroadcastBytes queues a binary message, see BroadcastText.
func (s *Server) BroadcastBytes(id uuid.UUID, data []byte) bool {
	return s.send(id, binaryFrame(data))
}

// BroadcastAll queues text for every live connection and returns how many
// accepted it.
func (s *Server) BroadcastAll(text string) int {
	n := 0
	for _, id := range s.hub.IDs() {
		if s.BroadcastText(id, text) {
			n++
		}
	}
	return n
}

func (s *Server) send(id uuid.UUID, f frame) bool {
	if s.hub.send(id, f) {
		return true
	}
	metrics.MessagesDropped.WithLabelValues(metrics.DropUnknownConnection).Inc()
	return false
}

// ConnectionIDs returns the identities of all open connections.
func (s *Server) ConnectionIDs() []uuid.UUID {
	return s.hub.IDs()
}

// Count returns the number of open connections.
func (s *Server) Count() int {
	return s.hub.Count()
}

// CloseConnection closes one connection. It reports false for unknown identities.
func (s *Server) CloseConnection(id uuid.UUID) bool {
	conn, ok := s.hub.Get(id)
	if !ok {
		return false
	}
	conn.Close()
	return true
}

// Close stops accepting, closes every open connection and waits until each has
// fired its closed event or ctx is done.
func (s *Server) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var err error
	if srv != nil {
		// Hijacked connections are not tracked by net/http; the hub closes them.
		err = srv.Shutdown(ctx)
	}

	conns := s.hub.Shutdown()
	for _, conn := range conns {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.hub.wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}

	s.logger.Info("Push server stopped", zap.Int("closed_connections", len(conns)))
	return err
}
