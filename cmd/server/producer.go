package main

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// produce logs a random number once per second through the application
// logger until ctx is done.
func (app *application) produce(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.AppLogger.Info("random number", zap.Int("value", rand.Int()))
		}
	}
}
