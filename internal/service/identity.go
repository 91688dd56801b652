package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	domainauth "github.com/target/portal-session/internal/domain/auth"
	"github.com/target/portal-session/internal/ports"
)

// IdentityResolverOptions groups dependencies for IdentityResolver.
type IdentityResolverOptions struct {
	Sessions  *SessionStore
	Backend   ports.Backend
	DeviceKey string // device fingerprint used as the guest correlation key
	Logger    *slog.Logger
}

// IdentityResolver finds the identity for this device: a persisted session
// when one is usable (Restore), otherwise a guest provisioned by the backend
// (Provision). It never writes the session store; AuthController commits the
// result so the store keeps a single writer.
type IdentityResolver struct {
	sessions  *SessionStore
	backend   ports.Backend
	deviceKey string
	logger    *slog.Logger
}

var errDeviceKeyRequired = errors.New("device key is required")

// NewIdentityResolver constructs an IdentityResolver.
func NewIdentityResolver(opts IdentityResolverOptions) *IdentityResolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityResolver{
		sessions:  opts.Sessions,
		backend:   opts.Backend,
		deviceKey: opts.DeviceKey,
		logger:    logger.With("component", "identity_resolver"),
	}
}

// DeviceKey returns the correlation key sent with guest provisioning.
func (r *IdentityResolver) DeviceKey() string { return r.deviceKey }

// Restore returns the persisted session without any backend call.
func (r *IdentityResolver) Restore(ctx context.Context) (domainauth.Session, bool, error) {
	return r.sessions.Load(ctx)
}

// Provision asks the backend for this device's guest identity.
func (r *IdentityResolver) Provision(ctx context.Context) (domainauth.Session, error) {
	if r.deviceKey == "" {
		return domainauth.Session{}, errDeviceKeyRequired
	}

	grant, err := r.backend.ProvisionGuest(ctx, r.deviceKey)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("provision guest: %w", err)
	}

	sess := grant.Session()
	sess.Identity.IsGuest = true
	sess.Identity.Role = domainauth.ParseRole(string(sess.Identity.Role))
	if !sess.Complete() {
		return domainauth.Session{}, fmt.Errorf("provision guest: incomplete grant: %w", domainauth.ErrNetworkFailure)
	}
	r.logger.DebugContext(ctx, "guest provisioned", "identity_id", sess.Identity.ID, "device_key", r.deviceKey)
	return sess, nil
}
