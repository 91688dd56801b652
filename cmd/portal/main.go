package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/target/portal-session/config"
	"github.com/target/portal-session/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	logger = bootstrap.SetLogger(os.Stdout, cfg)

	logStartupInfo(ctx, logger, &cfg)

	return bootstrap.Run(ctx, &cfg, logger)
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting portal session service",
		"dev", cfg.IsDev,
		"backend_mode", cfg.Backend.Mode,
		"backend_url", cfg.Backend.BaseURL,
		"store_driver", cfg.Store.Driver,
		"http_addr", cfg.HTTP.Addr,
		"metrics_enabled", cfg.Observability.Metrics.IsEnabled())
}
