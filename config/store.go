package config

import (
	"fmt"
	"strings"
)

// StoreDriver selects where the session pair and login hints are persisted.
type StoreDriver string

const (
	StoreDriverRedis    StoreDriver = "redis"
	StoreDriverPostgres StoreDriver = "postgres"
	// StoreDriverMemory keeps state in process; it does not survive a restart.
	StoreDriverMemory StoreDriver = "memory"
)

// UnmarshalText implements encoding.TextUnmarshaler for StoreDriver.
func (d *StoreDriver) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "redis", "postgres", "memory":
		*d = StoreDriver(v)
		return nil
	default:
		return fmt.Errorf("invalid StoreDriver: %q (valid options: redis, postgres, memory)", v)
	}
}

// StoreConfig contains session store configuration.
type StoreConfig struct {
	Driver StoreDriver `env:"STORE_DRIVER" envDefault:"redis"`

	// Prefix namespaces every key. The braces keep all keys in one Redis
	// Cluster hash slot so multi-key writes stay on one node.
	Prefix string `env:"STORE_PREFIX" envDefault:"{portal}:"`

	// EncryptionKey seals stored values with AES-256-GCM when set
	// (64 hex digits or base64 of 32 bytes).
	EncryptionKey string `env:"STORE_ENCRYPTION_KEY"`
}

// Sanitize restores the default prefix when it is blank.
func (s *StoreConfig) Sanitize() {
	if strings.TrimSpace(s.Prefix) == "" {
		s.Prefix = "{portal}:"
	}
	s.EncryptionKey = strings.TrimSpace(s.EncryptionKey)
}
