package server

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the tunables of the push server.
type Config struct {
	Host string // empty: chosen by BindHost
	Port int
	Path string

	WriteWait        time.Duration // deadline for a single frame write
	PongWait         time.Duration // how long a peer may stay silent
	PingPeriod       time.Duration // derived from PongWait when zero
	HandshakeTimeout time.Duration
	MaxMessageSize   int64 // 0: no limit
	ReadBufferSize   int
	WriteBufferSize  int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Port:             5000,
		WriteWait:        10 * time.Second,
		PongWait:         60 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
}

// withDefaults fills zero values from DefaultConfig and derives PingPeriod.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.MaxMessageSize < 0 {
		c.MaxMessageSize = 0
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	return c
}

// Validate checks the values that cannot be defaulted.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	// Braces would be read as wildcards by http.ServeMux.
	if strings.ContainsAny(c.Path, " ?#{}") {
		return fmt.Errorf("invalid path %q", c.Path)
	}
	return nil
}

// routes returns the mux patterns served for the configured path: the bare
// path and its subtree, e.g. "/logs" and "/logs/".
func (c Config) routes() []string {
	p := strings.Trim(c.Path, "/")
	if p == "" {
		return []string{"/"}
	}
	return []string{"/" + p, "/" + p + "/"}
}

// endpoint returns the canonical request path, always with a trailing slash.
func (c Config) endpoint() string {
	p := strings.Trim(c.Path, "/")
	if p == "" {
		return "/"
	}
	return "/" + p + "/"
}
