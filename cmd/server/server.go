package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// serve runs until SIGINT or SIGTERM, then shuts everything down.
func (app *application) serve(demo bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveError := make(chan error, 1)

	if app.Config.AdminAddr != "" {
		app.Server = &http.Server{
			Addr:         app.Config.AdminAddr,
			Handler:      app.routes(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			app.Logger.Info("Starting admin server", zap.String("address", app.Server.Addr))
			if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveError <- err
			}
		}()
	}

	if demo {
		go app.produce(ctx)
	}

	select {
	case <-ctx.Done():
		app.Logger.Info("Shutting down server")
	case err := <-serveError:
		app.Logger.Error("Admin server error", zap.Error(err))
		app.Shutdown(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	err := app.Shutdown(shutdownCtx)
	if err != nil {
		app.Logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	app.Logger.Info("Server stopped gracefully")
	return nil
}

// Shutdown cleans up resources
func (app *application) Shutdown(ctx context.Context) error {
	var errs []error

	if app.Server != nil {
		if err := app.Server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if app.Target != nil {
		if err := app.Target.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		app.Logger.Info("All components shut down successfully")
	}
	return errors.Join(errs...)
}
