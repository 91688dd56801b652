package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/target/portal-session/config"
	"github.com/target/portal-session/internal/adapters/authroles"
	"github.com/target/portal-session/internal/adapters/devauth"
	"github.com/target/portal-session/internal/adapters/portalapi"
	domainauth "github.com/target/portal-session/internal/domain/auth"
	"github.com/target/portal-session/internal/domain/device"
	"github.com/target/portal-session/internal/observability/metrics"
	"github.com/target/portal-session/internal/observability/statsd"
	"github.com/target/portal-session/internal/ports"
	"github.com/target/portal-session/internal/service"
)

// AuthConfig contains configuration for the session core.
type AuthConfig struct {
	Backend config.BackendConfig
	Device  config.DeviceConfig
	KV      ports.KVStore
	Metrics statsd.Sink // optional
	Logger  *slog.Logger
}

// Auth is the wired session core.
type Auth struct {
	Controller *service.AuthController
	DeviceKey  string

	// DevBackend is set only when BACKEND_MODE=mock.
	DevBackend *devauth.Provider

	unsubscribe func()
}

// Close detaches the state observers registered by BuildAuth.
func (a *Auth) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}

// BuildAuth wires the backend, session store, resolver and controller.
func BuildAuth(cfg AuthConfig) (*Auth, error) {
	if cfg.KV == nil {
		return nil, errors.New("session store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	deviceKey := DeviceKey(cfg.Device)
	roles := authroles.StaticRoleMapper{
		AdminNames:     cfg.Backend.AdminRoleNames,
		ModeratorNames: cfg.Backend.ModeratorRoleNames,
	}

	backend, dev, err := buildBackend(cfg.Backend, roles, logger)
	if err != nil {
		return nil, err
	}

	sessions := service.NewSessionStore(service.SessionStoreOptions{KV: cfg.KV, Logger: logger})
	resolver := service.NewIdentityResolver(service.IdentityResolverOptions{
		Sessions:  sessions,
		Backend:   backend,
		DeviceKey: deviceKey,
		Logger:    logger,
	})
	ctrl := service.NewAuthController(service.AuthControllerOptions{
		Sessions:         sessions,
		Resolver:         resolver,
		Backend:          backend,
		Logger:           logger,
		Metrics:          cfg.Metrics,
		ProvisionTimeout: cfg.Backend.ProvisionTimeout,
	})

	unsubscribe := ctrl.Subscribe(stateObserver(logger, cfg.Metrics))

	logger.Info("session core ready",
		"backend_mode", cfg.Backend.Mode,
		"device_key", deviceKey)

	return &Auth{
		Controller:  ctrl,
		DeviceKey:   deviceKey,
		DevBackend:  dev,
		unsubscribe: unsubscribe,
	}, nil
}

// DeviceKey returns the configured key, or the fingerprint of the configured signals.
func DeviceKey(cfg config.DeviceConfig) string {
	if cfg.Key != "" {
		return cfg.Key
	}
	h := http.Header{}
	h.Set("User-Agent", cfg.UserAgent)
	h.Set("Accept-Language", cfg.AcceptLanguage)
	h.Set("Sec-Ch-Ua-Platform", cfg.Platform)
	h.Set(device.HeaderScreen, cfg.Screen)
	h.Set(device.HeaderTimezone, cfg.Timezone)
	return device.Compute(device.SignalsFromHeader(h)).String()
}

//nolint:ireturn // the backend is chosen at runtime.
func buildBackend(
	cfg config.BackendConfig,
	roles ports.RoleMapper,
	logger *slog.Logger,
) (ports.Backend, *devauth.Provider, error) {
	switch cfg.Mode {
	case config.BackendModeMock:
		prov, err := buildDevBackend(cfg.Dev)
		if err != nil {
			return nil, nil, err
		}
		logger.Warn("using in-process dev backend; do not run this in production")
		return prov, prov, nil

	case config.BackendModeHTTP:
		client, err := portalapi.NewClient(portalapi.Config{
			BaseURL: cfg.BaseURL,
			Endpoints: portalapi.Endpoints{
				Guest:           cfg.Endpoints.Guest,
				PasswordLogin:   cfg.Endpoints.PasswordLogin,
				CodeLogin:       cfg.Endpoints.CodeLogin,
				UsernameLogin:   cfg.Endpoints.UsernameLogin,
				Logout:          cfg.Endpoints.Logout,
				DeviceKeyHeader: cfg.Endpoints.DeviceKeyHeader,
			},
			Paths: portalapi.Paths{
				Identity: cfg.Paths.Identity,
				Token:    cfg.Paths.Token,
				Error:    cfg.Paths.Error,
				ID:       cfg.Paths.ID,
				Role:     cfg.Paths.Role,
				Contact:  cfg.Paths.Contact,
			},
			Roles:   roles,
			Timeout: cfg.Timeout,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("portal api client: %w", err)
		}
		return client, nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported backend mode %q", cfg.Mode)
	}
}

func buildDevBackend(cfg config.DevBackendConfig) (*devauth.Provider, error) {
	accounts, err := devauth.ParseAccounts(cfg.Accounts)
	if err != nil {
		return nil, fmt.Errorf("dev backend accounts: %w", err)
	}
	codes, err := devauth.ParseTransactionCodes(cfg.TransactionCodes)
	if err != nil {
		return nil, fmt.Errorf("dev backend transaction codes: %w", err)
	}
	prov, err := devauth.NewProvider(devauth.Config{
		Accounts:         accounts,
		TransactionCodes: codes,
		Secret:           []byte(cfg.TokenSecret),
		TokenTTL:         cfg.TokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("dev backend: %w", err)
	}
	return prov, nil
}

// stateObserver logs identity transitions and reports the authenticated gauge.
func stateObserver(logger *slog.Logger, sink statsd.Sink) func(domainauth.AuthState) {
	var (
		mu       sync.Mutex
		lastID   string
		lastRole domainauth.Role
	)
	return func(st domainauth.AuthState) {
		var id string
		var role domainauth.Role
		if st.Identity != nil {
			id, role = st.Identity.ID, st.Identity.Role
		}
		mu.Lock()
		if id == lastID && role == lastRole {
			mu.Unlock()
			return
		}
		lastID, lastRole = id, role
		mu.Unlock()

		logger.Info("identity changed",
			"identity_id", id,
			"role", role,
			"guest", st.Identity != nil && st.Identity.IsGuest,
			"authenticated", st.Authenticated())
		metrics.EmitAuthenticated(sink, st.Authenticated(), role)
	}
}
