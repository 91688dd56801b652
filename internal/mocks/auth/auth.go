// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.
package auth

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/target/portal-session/internal/adapters/memory"
	domainauth "github.com/target/portal-session/internal/domain/auth"
	"github.com/target/portal-session/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.Backend    = (*MockBackend)(nil)
	_ ports.KVStore    = (*RecordingKV)(nil)
	_ ports.RoleMapper = (*StaticRoleMapper)(nil)
)

// MockBackend simulates the portal API with deterministic grants.
// Func fields override the defaults; call counters are safe for concurrent use.
type MockBackend struct {
	ProvisionGuestFunc func(ctx context.Context, deviceKey string) (domainauth.Grant, error)
	LoginFunc          func(ctx context.Context, creds domainauth.LoginCredentials) (domainauth.Grant, error)
	LogoutFunc         func(ctx context.Context, credential domainauth.Credential) error

	// LoginRole is the role granted by the default Login. Empty means USER.
	LoginRole domainauth.Role

	mu             sync.Mutex
	provisionCalls int
	loginCalls     int
	logoutCalls    int
	deviceKeys     []string
	loggedOut      []domainauth.Credential
}

// NewMockBackend creates a MockBackend that grants USER logins.
func NewMockBackend() *MockBackend {
	return &MockBackend{LoginRole: domainauth.RoleUser}
}

func (m *MockBackend) ProvisionGuest(ctx context.Context, deviceKey string) (domainauth.Grant, error) {
	m.mu.Lock()
	m.provisionCalls++
	m.deviceKeys = append(m.deviceKeys, deviceKey)
	m.mu.Unlock()

	if m.ProvisionGuestFunc != nil {
		return m.ProvisionGuestFunc(ctx, deviceKey)
	}
	return GuestGrant(deviceKey), nil
}

func (m *MockBackend) Login(ctx context.Context, creds domainauth.LoginCredentials) (domainauth.Grant, error) {
	m.mu.Lock()
	m.loginCalls++
	n := m.loginCalls
	m.mu.Unlock()

	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, creds)
	}

	role := m.LoginRole
	if role == "" {
		role = domainauth.RoleUser
	}
	contact := creds.HintContact()
	if contact == "" {
		contact = creds.Code
	}
	return domainauth.Grant{
		Identity: domainauth.Identity{
			ID:      "user-" + contact,
			Role:    role,
			Contact: contact,
		},
		Credential: domainauth.Credential(fmt.Sprintf("tok-%d", n)),
	}, nil
}

func (m *MockBackend) Logout(ctx context.Context, credential domainauth.Credential) error {
	m.mu.Lock()
	m.logoutCalls++
	m.loggedOut = append(m.loggedOut, credential)
	m.mu.Unlock()

	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, credential)
	}
	return nil
}

// ProvisionCalls returns how many times ProvisionGuest was invoked.
func (m *MockBackend) ProvisionCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provisionCalls
}

// LoginCalls returns how many times Login was invoked.
func (m *MockBackend) LoginCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginCalls
}

// LogoutCalls returns how many times Logout was invoked.
func (m *MockBackend) LogoutCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logoutCalls
}

// DeviceKeys returns the correlation keys passed to ProvisionGuest, in order.
func (m *MockBackend) DeviceKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.deviceKeys)
}

// LoggedOut returns the credentials passed to Logout, in order.
func (m *MockBackend) LoggedOut() []domainauth.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.loggedOut)
}

// GuestGrant is the grant the default ProvisionGuest returns for deviceKey.
func GuestGrant(deviceKey string) domainauth.Grant {
	return domainauth.Grant{
		Identity: domainauth.Identity{
			ID:      "guest-" + deviceKey,
			Role:    domainauth.RoleUser,
			IsGuest: true,
		},
		Credential: domainauth.Credential("guest-token-" + deviceKey),
	}
}

// KVWrite records one mutating call against RecordingKV.
type KVWrite struct {
	Op   string // "set" or "delete"
	Keys []string
}

// RecordingKV is an in-memory KV store that records every write and can be
// told to fail. Use it to assert on how many writes an operation performed.
type RecordingKV struct {
	*memory.KVStore

	GetErr    error
	SetErr    error
	DeleteErr error

	mu     sync.Mutex
	writes []KVWrite
}

// NewRecordingKV creates a RecordingKV, optionally pre-populated with seed.
// Seeding is not recorded as a write.
func NewRecordingKV(seed map[string]string) *RecordingKV {
	kv := &RecordingKV{KVStore: memory.NewKVStore()}
	if len(seed) > 0 {
		_ = kv.KVStore.Set(context.Background(), seed)
	}
	return kv
}

func (r *RecordingKV) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	return r.KVStore.Get(ctx, keys...)
}

func (r *RecordingKV) Set(ctx context.Context, entries map[string]string) error {
	if r.SetErr != nil {
		return r.SetErr
	}
	r.record("set", slices.Sorted(maps.Keys(entries)))
	return r.KVStore.Set(ctx, entries)
}

func (r *RecordingKV) Delete(ctx context.Context, keys ...string) error {
	if r.DeleteErr != nil {
		return r.DeleteErr
	}
	r.record("delete", slices.Sorted(slices.Values(keys)))
	return r.KVStore.Delete(ctx, keys...)
}

func (r *RecordingKV) record(op string, keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, KVWrite{Op: op, Keys: keys})
}

// Writes returns the recorded writes, in order.
func (r *RecordingKV) Writes() []KVWrite {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.writes)
}

// Snapshot returns the current value of every key in keys that is present.
func (r *RecordingKV) Snapshot(keys ...string) map[string]string {
	out, _ := r.KVStore.Get(context.Background(), keys...)
	return out
}

// ErrUnavailable is a stand-in transport failure for backend doubles.
var ErrUnavailable = fmt.Errorf("mock backend: %w", domainauth.ErrNetworkFailure)

// ErrRejected is a stand-in credential rejection for backend doubles.
var ErrRejected = fmt.Errorf("mock backend: %w", domainauth.ErrInvalidCredentials)

// StaticRoleMapper maps every raw name through a fixed table; misses are USER.
type StaticRoleMapper struct {
	Table map[string]domainauth.Role
}

func (m StaticRoleMapper) Map(raw string) domainauth.Role {
	if r, ok := m.Table[raw]; ok {
		return r
	}
	return domainauth.RoleUser
}

// BlockingLogin returns a LoginFunc that waits until release is closed (or
// ctx ends) before returning grant. started is closed when the call begins.
func BlockingLogin(started chan<- struct{}, release <-chan struct{}, grant domainauth.Grant) func(context.Context, domainauth.LoginCredentials) (domainauth.Grant, error) {
	var once sync.Once
	return func(ctx context.Context, _ domainauth.LoginCredentials) (domainauth.Grant, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return grant, nil
		case <-ctx.Done():
			return domainauth.Grant{}, ctx.Err()
		}
	}
}

// BlockingProvision returns a ProvisionGuestFunc that waits until release is
// closed before returning the default guest grant.
func BlockingProvision(started chan<- struct{}, release <-chan struct{}) func(context.Context, string) (domainauth.Grant, error) {
	var once sync.Once
	return func(ctx context.Context, deviceKey string) (domainauth.Grant, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return GuestGrant(deviceKey), nil
		case <-ctx.Done():
			return domainauth.Grant{}, ctx.Err()
		}
	}
}
