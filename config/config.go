package config

import (
	"fmt"
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - backend.go: Portal backend and dev backend configuration
//   - store.go: Session store driver selection
//   - database.go: PostgreSQL and Redis connection configuration
//   - device.go: Device fingerprint signals
//   - http.go: HTTP server configuration
//   - observability.go: Metrics configuration
type AppConfig struct {
	// IsDev controls development mode behavior (text logs, debug level).
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// LogLevel overrides the default level (debug in dev, info otherwise).
	LogLevel string `env:"LOG_LEVEL"`

	// Backend configuration
	Backend BackendConfig

	// Session persistence
	Store    StoreConfig
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Device fingerprint configuration
	Device DeviceConfig `envPrefix:"DEVICE_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))

	c.Backend.Sanitize()
	c.Store.Sanitize()
	c.Device.Sanitize()
	c.HTTP.Sanitize()
	c.Observability.Sanitize()

	// Check NODE_ENV for dev mode
	c.detectDevMode()
}

// Validate reports combinations that cannot start. Call after Sanitize.
func (c *AppConfig) Validate() error {
	if c.Backend.Mode == BackendModeHTTP && c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required when BACKEND_MODE=%s", BackendModeHTTP)
	}
	if c.Backend.Mode == BackendModeMock && !c.IsDev {
		return fmt.Errorf("BACKEND_MODE=%s is only allowed in development", BackendModeMock)
	}
	if c.Store.Driver == StoreDriverMemory && !c.IsDev {
		return fmt.Errorf("STORE_DRIVER=%s is only allowed in development", StoreDriverMemory)
	}
	return nil
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// This is called by Sanitize() to ensure IsDev is set correctly.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}
