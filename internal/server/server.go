// Package server provides the service lifecycle runner: signal handling,
// config loading, observability init, the HTTP server, and graceful
// shutdown. cmd/ binaries delegate to server.Run.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kossrlive/isignin/internal/config"
	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/observability"
)

// Params configures a service's lifecycle runner.
type Params struct {
	// Name identifies the service (e.g. "authsvc").
	Name string

	// Setup is called after config, logging, and observability are
	// initialized but before the server starts accepting connections. It
	// returns the HTTP handler to serve. Long-running goroutines (SMS
	// workers, queue pumps) should be started on ctx, which is cancelled
	// at shutdown.
	//
	// The returned cleanup function (if non-nil) is called during graceful
	// shutdown after the HTTP server stops but before the OTEL flush. Use
	// it to wait on workers and close infrastructure clients.
	Setup func(ctx context.Context, deps SetupDeps) (http.Handler, func(context.Context) error, error)
}

// SetupDeps holds the dependencies available to a service's Setup callback.
type SetupDeps struct {
	Config *config.Config
	Logger *slog.Logger
}

// Listeners holds an optional pre-created listener for testing (port-0).
// A zero value causes Run to create the listener from config.
type Listeners struct {
	HTTP net.Listener
}

// Run executes the full service lifecycle. It returns nil after a clean
// signal-initiated shutdown and an error on startup failure.
func Run(ctx context.Context, p Params, lns Listeners) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: p.Name,
		Environment: cfg.Environment,
	})

	otelProviders, err := observability.InitOTEL(ctx, observability.OTELConfig{
		ServiceName:    p.Name,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTELEndpoint,
		Insecure:       cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	handler, cleanupFn, err := p.Setup(ctx, SetupDeps{Config: cfg, Logger: logger})
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	httpLn := lns.HTTP
	if httpLn == nil {
		httpLn, err = (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", cfg.Port))
		if err != nil {
			return fmt.Errorf("listen on port %d: %w", cfg.Port, err)
		}
	}

	httpSrv := &http.Server{
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", httpLn.Addr().String()))
		if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), domain.GracefulShutdownTimeout)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", slog.Any("error", err))
		}

		if cleanupFn != nil {
			if err := cleanupFn(shutdownCtx); err != nil {
				logger.Warn("cleanup failed", slog.Any("error", err))
			}
		}

		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
		return nil
	})

	return g.Wait()
}
