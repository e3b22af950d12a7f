package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tecu23/logpush/pkg/metrics"
)

var (
	// ErrNotUpgrade is returned for requests that do not ask for a WebSocket upgrade.
	ErrNotUpgrade = errors.New("not a websocket upgrade request")
	// ErrPathMismatch is returned for requests outside the configured path.
	ErrPathMismatch = errors.New("request path does not match the upgrade endpoint")
)

func newUpgrader(cfg Config) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
		HandshakeTimeout: cfg.HandshakeTimeout,
		// Any origin may subscribe; access control lives outside the server.
		CheckOrigin: func(*http.Request) bool { return true },
	}
}

// checkUpgrade decides whether r is eligible for the upgrade endpoint.
func checkUpgrade(cfg Config, r *http.Request) error {
	if !matchPath(cfg, r.URL.Path) {
		return ErrPathMismatch
	}
	if !websocket.IsWebSocketUpgrade(r) {
		return ErrNotUpgrade
	}
	return nil
}

func matchPath(cfg Config, path string) bool {
	endpoint := cfg.endpoint()
	if endpoint == "/" {
		return true
	}
	return path == strings.TrimSuffix(endpoint, "/") || strings.HasPrefix(path, endpoint)
}

// handshake upgrades an eligible request. On failure the upgrader has already
// answered the request and the transport is released by net/http.
func (s *Server) handshake(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	if err := checkUpgrade(s.cfg, r); err != nil {
		return nil, err
	}

	// Upgrade HTTP connection to WebSocket
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	conn := NewConnection(ws, r.RemoteAddr, s.hub, &s.cfg, s.publisher, s.logger)
	if err := s.hub.register(conn); err != nil {
		_ = ws.Close()
		return nil, err
	}
	return conn, nil
}

// ServeHTTP handles one request on the upgrade endpoint. It returns as soon as
// the connection is handed to its pump.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		metrics.HandshakeFailures.WithLabelValues("closed").Inc()
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.handshake(w, r)
	switch {
	case err == nil:
	case errors.Is(err, ErrPathMismatch):
		metrics.HandshakeFailures.WithLabelValues("path").Inc()
		http.NotFound(w, r)
		return
	case errors.Is(err, ErrNotUpgrade):
		metrics.HandshakeFailures.WithLabelValues("not_upgrade").Inc()
		s.logger.Debug("rejecting non-upgrade request",
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
		)
		w.Header().Set("Upgrade", "websocket")
		http.Error(w, http.StatusText(http.StatusUpgradeRequired), http.StatusUpgradeRequired)
		return
	case errors.Is(err, ErrServerClosed):
		// Closed while upgrading; the transport is already released.
		metrics.HandshakeFailures.WithLabelValues("closed").Inc()
		return
	default:
		metrics.HandshakeFailures.WithLabelValues("handshake").Inc()
		s.logger.Warn("Failed to upgrade to WebSocket",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	// Start connection read/write goroutines
	go func() {
		defer s.hub.release()
		conn.run()
	}()
}
