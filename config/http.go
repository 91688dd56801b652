package config

import (
	"strings"
	"time"
)

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// LoginPath and UnauthorizedPath are where the gate sends denied browsers.
	LoginPath        string `env:"HTTP_LOGIN_PATH"        envDefault:"/login"`
	UnauthorizedPath string `env:"HTTP_UNAUTHORIZED_PATH" envDefault:"/unauthorized"`

	// ReadHeaderTimeout bounds request header reads.
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	h.LoginPath = rootedPath(h.LoginPath, "/login")
	h.UnauthorizedPath = rootedPath(h.UnauthorizedPath, "/unauthorized")
	if h.ReadHeaderTimeout <= 0 {
		h.ReadHeaderTimeout = 5 * time.Second
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 10 * time.Second
	}
}

func rootedPath(p, def string) string {
	p = strings.TrimSpace(p)
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return def
	}
	return p
}
