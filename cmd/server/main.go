// Package main is the entry point of the application
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tecu23/logpush/internal/auth"
	"github.com/tecu23/logpush/pkg/config"
	"github.com/tecu23/logpush/pkg/logtarget"
)

// App encapsulates global dependencies
type application struct {
	Auth      *auth.APIKeyAuth
	Logger    *zap.Logger // process logger, never streamed to peers
	AppLogger *zap.Logger // tee of Logger and the log target
	Config    *config.Config
	Target    *logtarget.Target
	Server    *http.Server // admin listener, nil when disabled

	StartTime time.Time
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.Int("port", 0, "push server port (overrides LOGPUSH_PORT)")
	path := flag.String("path", "", "upgrade endpoint path (overrides LOGPUSH_PATH)")
	demo := flag.Bool("demo", false, "log a random number every second")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "debug":
			cfg.Debug = *debug
		case "port":
			cfg.Port = *port
		case "path":
			cfg.Path = *path
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	// Start the push server with the log target subscribed to it
	target, err := logtarget.Open(cfg.Server(), logger)
	if err != nil {
		logger.Fatal("starting push server", zap.Error(err))
	}

	app := &application{
		Auth:      auth.NewAPIKeyAuth(cfg.APIKeys),
		Logger:    logger,
		AppLogger: newAppLogger(logger, target, cfg),
		Config:    cfg,
		Target:    target,
		StartTime: time.Now(),
	}

	logger.Info("Streaming logs", zap.String("url", target.Server().URL()))

	if err := app.serve(*demo); err != nil {
		logger.Fatal("error serving", zap.Error(err))
	}
}

func initLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}

// newAppLogger tees the process logger into the log target so that every
// application entry is also pushed to connected peers.
func newAppLogger(logger *zap.Logger, target *logtarget.Target, cfg *config.Config) *zap.Logger {
	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}
	core := target.Core(logtarget.NewEncoder(cfg.Layout), level)
	return zap.New(zapcore.NewTee(logger.Core(), core))
}
