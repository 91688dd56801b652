// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.
package ports

import (
	"context"

	domainauth "github.com/target/portal-session/internal/domain/auth"
)

// Backend is the remote portal API as seen by the session core.
type Backend interface {
	// ProvisionGuest returns a new or existing guest grant for the device
	// correlation key. Repeated calls with the same key resolve to the same
	// backend-side guest record.
	ProvisionGuest(ctx context.Context, deviceKey string) (domainauth.Grant, error)

	// Login exchanges one of the supported credential shapes for a grant.
	// Rejected credentials must wrap domainauth.ErrInvalidCredentials;
	// transport and server failures must wrap domainauth.ErrNetworkFailure.
	Login(ctx context.Context, creds domainauth.LoginCredentials) (domainauth.Grant, error)

	// Logout is a best-effort notification; callers ignore its error.
	Logout(ctx context.Context, credential domainauth.Credential) error
}

// KVStore is the durable key-value storage the session store persists into.
// Set and Delete are atomic across all keys passed in one call, and Get
// reads all requested keys from a single snapshot.
type KVStore interface {
	// Get returns the values present for keys; missing keys are absent from the map.
	Get(ctx context.Context, keys ...string) (map[string]string, error)
	Set(ctx context.Context, entries map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

// RoleMapper maps backend role names to application roles.
type RoleMapper interface {
	Map(raw string) domainauth.Role
}
