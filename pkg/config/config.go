// Package config loads the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/tecu23/logpush/pkg/server"
)

// Config is the full process configuration.
type Config struct {
	Debug  bool   `env:"LOGPUSH_DEBUG" envDefault:"false"`
	Layout string `env:"LOGPUSH_LAYOUT" envDefault:"console"`

	Host string `env:"LOGPUSH_HOST"`
	Port int    `env:"LOGPUSH_PORT" envDefault:"5000"`
	Path string `env:"LOGPUSH_PATH"`

	WriteWait        time.Duration `env:"LOGPUSH_WRITE_WAIT" envDefault:"10s"`
	PongWait         time.Duration `env:"LOGPUSH_PONG_WAIT" envDefault:"60s"`
	PingPeriod       time.Duration `env:"LOGPUSH_PING_PERIOD"`
	HandshakeTimeout time.Duration `env:"LOGPUSH_HANDSHAKE_TIMEOUT" envDefault:"5s"`
	MaxMessageSize   int64         `env:"LOGPUSH_MAX_MESSAGE_SIZE" envDefault:"0"`
	ReadBufferSize   int           `env:"LOGPUSH_READ_BUFFER" envDefault:"1024"`
	WriteBufferSize  int           `env:"LOGPUSH_WRITE_BUFFER" envDefault:"1024"`

	AdminAddr string   `env:"LOGPUSH_ADMIN_ADDR"`
	APIKeys   []string `env:"LOGPUSH_API_KEYS" envSeparator:","`
}

// Load reads an optional .env file and parses the environment into a Config.
// A missing .env file is not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values that would make the server unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.Layout != "console" && c.Layout != "json" {
		errs = append(errs, fmt.Errorf("layout must be console or json, got %q", c.Layout))
	}
	if c.WriteWait <= 0 || c.PongWait <= 0 || c.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.MaxMessageSize < 0 {
		errs = append(errs, errors.New("max message size must not be negative"))
	}
	if c.Port == 0 {
		errs = append(errs, errors.New("port must be set; 0 would bind an ephemeral port"))
	}
	if err := c.Server().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Server returns the push server settings.
func (c *Config) Server() server.Config {
	return server.Config{
		Host:             c.Host,
		Port:             c.Port,
		Path:             c.Path,
		WriteWait:        c.WriteWait,
		PongWait:         c.PongWait,
		PingPeriod:       c.PingPeriod,
		HandshakeTimeout: c.HandshakeTimeout,
		MaxMessageSize:   c.MaxMessageSize,
		ReadBufferSize:   c.ReadBufferSize,
		WriteBufferSize:  c.WriteBufferSize,
	}
}
