package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/target/portal-session/config"
	"github.com/target/portal-session/internal/observability/statsd"
)

// Run wires the session core and serves HTTP until SIGINT/SIGTERM or a server error.
func Run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (err error) {
	if cfg == nil {
		return errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink := buildMetricsSink(cfg.Observability.Metrics, logger)
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			logger.Warn("close statsd client", "error", cerr)
		}
	}()

	store, err := OpenStore(ctx, StoreConfig{
		Store:    cfg.Store,
		Postgres: cfg.Postgres,
		Redis:    cfg.Redis,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close session store: %w", cerr))
		}
	}()

	auth, err := BuildAuth(AuthConfig{
		Backend: cfg.Backend,
		Device:  cfg.Device,
		KV:      store.KV,
		Metrics: sink,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer auth.Close()

	errCh := make(chan error, 1)
	server := StartHTTPServer(HTTPServerConfig{
		HTTP:        cfg.HTTP,
		Auth:        auth,
		Logger:      logger,
		ServeDevAPI: cfg.Backend.Dev.ServeAPI,
	}, errCh)

	// Resolve the identity up front so the first gated request does not wait.
	go func() {
		if initErr := auth.Controller.Init(ctx); initErr != nil && ctx.Err() == nil {
			logger.Warn("initial identity resolution failed; will retry on demand", "error", initErr)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
	}

	// ctx is already cancelled here; shutdown gets its own deadline.
	if shutdownErr := ShutdownHTTPServer(context.WithoutCancel(ctx), server, cfg.HTTP.ShutdownTimeout, logger); shutdownErr != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("shutdown http server: %w", shutdownErr))
	}
	return serveErr
}

// buildMetricsSink returns a statsd client; a disabled client is a no-op sink.
func buildMetricsSink(cfg config.ObservabilityMetricsConfig, logger *slog.Logger) *statsd.Client {
	client, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.IsEnabled(),
		Address: cfg.StatsdAddress,
		Prefix:  cfg.Prefix,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client; metrics disabled", "error", err)
		return nil
	}
	return client
}
