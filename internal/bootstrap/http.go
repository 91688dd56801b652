package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/target/portal-session/config"
	domainauth "github.com/target/portal-session/internal/domain/auth"
	httpx "github.com/target/portal-session/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	HTTP   config.HTTPConfig
	Auth   *Auth
	Logger *slog.Logger

	// ServeDevAPI mounts the dev backend's portal API when Auth has one.
	ServeDevAPI bool
}

// BuildHTTPHandler assembles the router for the session core.
func BuildHTTPHandler(cfg HTTPServerConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	services := httpx.RouterServices{
		Auth: cfg.Auth.Controller,
		Paths: domainauth.GatePaths{
			Login:        cfg.HTTP.LoginPath,
			Unauthorized: cfg.HTTP.UnauthorizedPath,
		},
		Logger: logger,
	}
	if cfg.ServeDevAPI && cfg.Auth.DevBackend != nil {
		logger.Info("serving dev portal API", "prefix", "/api/")
		services.PortalAPI = cfg.Auth.DevBackend.Handler()
	}
	return httpx.NewRouter(services)
}

// StartHTTPServer creates and starts the HTTP server.
// Serve errors other than http.ErrServerClosed are sent on errCh.
func StartHTTPServer(cfg HTTPServerConfig, errCh chan<- error) *http.Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	addr := cfg.HTTP.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           BuildHTTPHandler(cfg),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			errCh <- err
		}
	}()

	return server
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(ctx context.Context, server *http.Server, timeout time.Duration, logger *slog.Logger) error {
	if server == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("HTTP server stopped")
	return nil
}
