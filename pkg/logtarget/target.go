// Package logtarget streams log entries to every peer connected to a push
// server. A Target is both an event sink, tracking which peers are connected,
// and a source of zapcore.Core values that render entries and broadcast them.
package logtarget

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tecu23/logpush/pkg/events"
	"github.com/tecu23/logpush/pkg/server"
)

// Broadcaster delivers text to one connection.
type Broadcaster interface {
	BroadcastText(id uuid.UUID, text string) bool
}

// Target tracks connected peers and pushes rendered log lines to them.
type Target struct {
	mu    sync.RWMutex
	peers map[uuid.UUID]events.Peer

	out         Broadcaster
	server      *server.Server
	unsubscribe func()
	logger      *zap.Logger
}

var _ events.Sink = (*Target)(nil)

// New creates a target that delivers through out.
func New(out Broadcaster, logger *zap.Logger) *Target {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Target{
		peers:  make(map[uuid.UUID]events.Peer),
		out:    out,
		logger: logger.Named("logtarget"),
	}
}

// Open starts a push server for cfg with a target subscribed to it.
func Open(cfg server.Config, logger *zap.Logger) (*Target, error) {
	t := New(nil, logger)
	srv := server.New(cfg, logger)
	t.out = srv
	t.server = srv
	t.unsubscribe = srv.Subscribe(t)

	if err := srv.Listen(); err != nil {
		return nil, fmt.Errorf("open log target: %w", err)
	}
	return t, nil
}

// Server returns the server started by Open, or nil.
func (t *Target) Server() *server.Server {
	return t.server
}

// Close unsubscribes from the server started by Open, forgets every tracked
// peer and shuts the server down.
func (t *Target) Close(ctx context.Context) error {
	if t.unsubscribe != nil {
		t.unsubscribe()
	}

	t.mu.Lock()
	clear(t.peers)
	t.mu.Unlock()

	if t.server == nil {
		return nil
	}
	return t.server.Close(ctx)
}

func (t *Target) OnOpen(peer events.Peer) {
	t.mu.Lock()
	t.peers[peer.ID] = peer
	n := len(t.peers)
	t.mu.Unlock()

	t.logger.Debug("log subscriber joined",
		zap.String("remote_addr", peer.RemoteAddr),
		zap.Int("subscribers", n),
	)
}

func (t *Target) OnClose(peer events.Peer) {
	t.mu.Lock()
	delete(t.peers, peer.ID)
	n := len(t.peers)
	t.mu.Unlock()

	t.logger.Debug("log subscriber left",
		zap.String("remote_addr", peer.RemoteAddr),
		zap.Int("subscribers", n),
	)
}

// OnMessage ignores what peers send; the stream is one-way.
func (t *Target) OnMessage(peer events.Peer, payload []byte) {
	t.logger.Debug("ignoring message from log subscriber",
		zap.String("connection_id", peer.ID.String()),
		zap.Int("bytes", len(payload)),
	)
}

// Subscribers returns the number of tracked peers.
func (t *Target) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Broadcast sends text to every tracked peer and returns how many accepted it.
func (t *Target) Broadcast(text string) int {
	if t.out == nil {
		return 0
	}

	t.mu.RLock()
	ids := make([]uuid.UUID, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if t.out.BroadcastText(id, text) {
			n++
		}
	}
	return n
}

// Core returns a zapcore.Core that renders entries with enc and broadcasts
// those enabled by level.
func (t *Target) Core(enc zapcore.Encoder, level zapcore.LevelEnabler) zapcore.Core {
	return &core{LevelEnabler: level, enc: enc, target: t}
}

// NewEncoder returns the encoder for a layout name: "json" or "console".
func NewEncoder(layout string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.EqualFold(layout, "json") {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

type core struct {
	zapcore.LevelEnabler
	enc    zapcore.Encoder
	target *Target
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	clone := c.enc.Clone()
	for _, f := range fields {
		f.AddTo(clone)
	}
	return &core{LevelEnabler: c.LevelEnabler, enc: clone, target: c.target}
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	line := strings.TrimSuffix(buf.String(), "\n")
	buf.Free()

	c.target.Broadcast(line)
	return nil
}

func (c *core) Sync() error {
	return nil
}
