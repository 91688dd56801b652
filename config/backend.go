package config

import (
	"fmt"
	"strings"
	"time"
)

// BackendMode selects the identity backend implementation.
type BackendMode string

const (
	// BackendModeHTTP talks to the captive portal API.
	BackendModeHTTP BackendMode = "http"
	// BackendModeMock serves identities from an in-process dev backend (for development only).
	BackendModeMock BackendMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for BackendMode.
func (m *BackendMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "http", "mock":
		*m = BackendMode(v)
		return nil
	default:
		return fmt.Errorf("invalid BackendMode: %q (valid options: http, mock)", v)
	}
}

// EndpointsConfig overrides the portal API routes.
type EndpointsConfig struct {
	Guest           string `env:"GUEST"             envDefault:"/api/auth/guest"`
	PasswordLogin   string `env:"PASSWORD_LOGIN"    envDefault:"/api/auth/login"`
	CodeLogin       string `env:"CODE_LOGIN"        envDefault:"/api/auth/transaction-login"`
	UsernameLogin   string `env:"USERNAME_LOGIN"    envDefault:"/api/auth/admin-login"`
	Logout          string `env:"LOGOUT"            envDefault:"/api/auth/logout"`
	DeviceKeyHeader string `env:"DEVICE_KEY_HEADER" envDefault:"X-Device-Key"`
}

// ResponsePathsConfig holds JMESPath expressions used to read portal responses.
// Empty values fall back to the client's defaults.
type ResponsePathsConfig struct {
	Identity string `env:"IDENTITY_PATH"`
	Token    string `env:"TOKEN_PATH"`
	Error    string `env:"ERROR_PATH"`
	ID       string `env:"ID_PATH"`
	Role     string `env:"ROLE_PATH"`
	Contact  string `env:"CONTACT_PATH"`
}

// DevBackendConfig controls the in-process dev backend.
// Used when BACKEND_MODE=mock for development and testing.
type DevBackendConfig struct {
	// Accounts is a ';' separated list of user:password:ROLE[:phone].
	Accounts string `env:"ACCOUNTS" envDefault:"admin:admin:ADMIN;mod:mod:MODERATOR;alice:alice:USER:0712345678"`
	// TransactionCodes is a ';' separated list of CODE:phone.
	TransactionCodes string        `env:"TRANSACTION_CODES" envDefault:"QWE123RTY:0712345678"`
	TokenSecret      string        `env:"TOKEN_SECRET"`
	TokenTTL         time.Duration `env:"TOKEN_TTL"         envDefault:"8h"`
	// ServeAPI mounts the dev backend's portal API on the main HTTP server.
	ServeAPI bool `env:"SERVE_API" envDefault:"true"`
}

// BackendConfig groups all backend-related configuration.
type BackendConfig struct {
	// Mode determines which backend implementation to use.
	Mode BackendMode `env:"BACKEND_MODE" envDefault:"http"`

	// BaseURL of the portal API (used when Mode=http).
	BaseURL string `env:"BACKEND_BASE_URL"`

	// Timeout bounds one backend request.
	Timeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s"`

	// ProvisionTimeout bounds one shared identity resolution.
	ProvisionTimeout time.Duration `env:"BACKEND_PROVISION_TIMEOUT" envDefault:"15s"`

	Endpoints EndpointsConfig     `envPrefix:"BACKEND_ENDPOINT_"`
	Paths     ResponsePathsConfig `envPrefix:"BACKEND_"`

	// AdminRoleNames and ModeratorRoleNames map backend role names onto portal roles.
	AdminRoleNames     []string `env:"ADMIN_ROLE_NAMES"     envDefault:"admin,administrator" envSeparator:","`
	ModeratorRoleNames []string `env:"MODERATOR_ROLE_NAMES" envDefault:"moderator"           envSeparator:","`

	// Dev backend configuration (used when Mode=mock).
	Dev DevBackendConfig `envPrefix:"DEV_BACKEND_"`
}

// Sanitize trims values and restores defaults for non-positive durations.
func (b *BackendConfig) Sanitize() {
	b.BaseURL = strings.TrimRight(strings.TrimSpace(b.BaseURL), "/")
	if b.Timeout <= 0 {
		b.Timeout = 10 * time.Second
	}
	if b.ProvisionTimeout <= 0 {
		b.ProvisionTimeout = 15 * time.Second
	}
	if b.Dev.TokenTTL <= 0 {
		b.Dev.TokenTTL = 8 * time.Hour
	}
	b.AdminRoleNames = trimList(b.AdminRoleNames)
	b.ModeratorRoleNames = trimList(b.ModeratorRoleNames)
}

func trimList(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
