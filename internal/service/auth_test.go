package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/portal-session/internal/domain/auth"
	"github.com/target/portal-session/internal/mocks"
	"github.com/target/portal-session/internal/ports"
	"go.uber.org/mock/gomock"

	authmocks "github.com/target/portal-session/internal/mocks/auth"
)

var adminRoute = domainauth.Route{Path: "/admin/", RequiredRole: domainauth.RoleAdmin}

type controllerFixture struct {
	ctrl    *AuthController
	kv      *authmocks.RecordingKV
	backend *authmocks.MockBackend
	sink    *recordingSink
}

func newControllerFixture(t *testing.T, seed map[string]string) *controllerFixture {
	t.Helper()
	kv := authmocks.NewRecordingKV(seed)
	backend := authmocks.NewMockBackend()
	sink := &recordingSink{}
	return &controllerFixture{
		ctrl:    newTestController(kv, backend, sink),
		kv:      kv,
		backend: backend,
		sink:    sink,
	}
}

func newTestController(kv ports.KVStore, backend ports.Backend, sink *recordingSink) *AuthController {
	logger := discardLogger()
	sessions := NewSessionStore(SessionStoreOptions{KV: kv, Logger: logger})
	resolver := NewIdentityResolver(IdentityResolverOptions{
		Sessions:  sessions,
		Backend:   backend,
		DeviceKey: testDeviceKey,
		Logger:    logger,
	})
	opts := AuthControllerOptions{
		Sessions:         sessions,
		Resolver:         resolver,
		Backend:          backend,
		Logger:           logger,
		ProvisionTimeout: 5 * time.Second,
	}
	if sink != nil {
		opts.Metrics = sink
	}
	return NewAuthController(opts)
}

// recordingSink captures emitted counters by name.
type recordingSink struct {
	mu     sync.Mutex
	counts []string
	tags   []map[string]string
}

func (s *recordingSink) Count(name string, _ int64, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = append(s.counts, name)
	s.tags = append(s.tags, tags)
}

func (s *recordingSink) Gauge(string, float64, map[string]string) {}

func (s *recordingSink) Timing(string, time.Duration, map[string]string) {}

func (s *recordingSink) find(name, result string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.counts {
		if n == name && s.tags[i]["result"] == result {
			return true
		}
	}
	return false
}

func passwordLogin(contact string) LoginRequest {
	return LoginRequest{Credentials: domainauth.LoginCredentials{
		Method:   domainauth.LoginPassword,
		Contact:  contact,
		Password: "secret",
	}}
}

func sessionSeed(id string, role domainauth.Role, token string) map[string]string {
	return map[string]string{
		KeyUser:  `{"id":"` + id + `","role":"` + string(role) + `","is_guest":false}`,
		KeyToken: token,
	}
}

func TestNewAuthController(t *testing.T) {
	f := newControllerFixture(t, nil)

	s := f.ctrl.State()
	assert.Nil(t, s.Identity)
	assert.False(t, s.Loading)
	assert.Nil(t, s.LastError)
	assert.False(t, f.ctrl.IsAuthenticated())
	assert.False(t, f.ctrl.IsAdmin())
	assert.Zero(t, f.backend.ProvisionCalls(), "construction makes no backend call")
}

func TestAuthController_InitProvisionsGuestForFreshDevice(t *testing.T) {
	f := newControllerFixture(t, nil)

	require.NoError(t, f.ctrl.Init(context.Background()))

	s := f.ctrl.State()
	require.NotNil(t, s.Identity)
	assert.True(t, s.Identity.IsGuest)
	assert.Equal(t, domainauth.RoleUser, s.Identity.Role)
	assert.True(t, f.ctrl.IsAuthenticated())
	assert.False(t, f.ctrl.IsAdmin())
	assert.Equal(t, []string{testDeviceKey}, f.backend.DeviceKeys())

	// The guest is persisted as a complete pair.
	snap := f.kv.Snapshot(KeyUser, KeyToken)
	assert.Equal(t, "guest-token-"+testDeviceKey, snap[KeyToken])
	assert.True(t, f.sink.find("auth.guest_provision", "success"))

	d := domainauth.Evaluate(s, adminRoute)
	assert.Equal(t, domainauth.OutcomeDeniedInsufficientRole, d.Outcome)
	assert.Equal(t, domainauth.DefaultUnauthorizedPath, d.RedirectTo)
}

func TestAuthController_RestoreWithoutNetwork(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl) // no expectations: any call fails the test

	kv := authmocks.NewRecordingKV(sessionSeed("u-admin", domainauth.RoleAdmin, "tok123"))
	c := newTestController(kv, backend, nil)

	require.NoError(t, c.Init(context.Background()))

	assert.True(t, c.IsAuthenticated())
	assert.True(t, c.IsAdmin())
	assert.True(t, c.HasPermission(domainauth.RoleModerator))
	assert.Equal(t, domainauth.Credential("tok123"), c.State().Credential)
	assert.Equal(t, domainauth.OutcomeAllowed, domainauth.Evaluate(c.State(), adminRoute).Outcome)
	assert.Empty(t, kv.Writes())
}

func TestAuthController_CorruptStateFallsBackToGuest(t *testing.T) {
	f := newControllerFixture(t, map[string]string{KeyUser: `{"id":"u1","role":"ADMIN"}`})

	require.NoError(t, f.ctrl.Init(context.Background()))

	s := f.ctrl.State()
	require.NotNil(t, s.Identity)
	assert.True(t, s.Identity.IsGuest, "one-sided pair must never yield the stored identity")
	assert.Nil(t, s.LastError)
	assert.Equal(t, []authmocks.KVWrite{
		{Op: "delete", Keys: []string{KeyToken, KeyUser}},
		{Op: "set", Keys: []string{KeyToken, KeyUser}},
	}, f.kv.Writes())
}

func TestAuthController_RestoreReadFailureProvisions(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.kv.GetErr = errors.New("disk unavailable")

	require.NoError(t, f.ctrl.Init(context.Background()))
	assert.Equal(t, 1, f.backend.ProvisionCalls())
	require.NotNil(t, f.ctrl.State().Identity)
	assert.True(t, f.sink.find("auth.restore", "error"))
}

func TestAuthController_ConcurrentEnsureIdentityProvisionsOnce(t *testing.T) {
	f := newControllerFixture(t, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	f.backend.ProvisionGuestFunc = authmocks.BlockingProvision(started, release)

	const callers = 16
	var wg sync.WaitGroup
	ids := make([]domainauth.Identity, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = f.ctrl.EnsureIdentity(context.Background())
		}(i)
	}

	<-started
	assert.True(t, f.ctrl.State().Loading)
	close(release)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, f.backend.ProvisionCalls())
	assert.Equal(t, []authmocks.KVWrite{{Op: "set", Keys: []string{KeyToken, KeyUser}}}, f.kv.Writes())
	assert.False(t, f.ctrl.State().Loading)
}

func TestAuthController_ProvisionFailure(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.backend.ProvisionGuestFunc = func(context.Context, string) (domainauth.Grant, error) {
		return domainauth.Grant{}, authmocks.ErrUnavailable
	}

	_, err := f.ctrl.EnsureIdentity(context.Background())
	require.Error(t, err)

	var ae *domainauth.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, domainauth.KindNetworkFailure, ae.Kind)
	assert.ErrorIs(t, err, domainauth.ErrNetworkFailure)

	s := f.ctrl.State()
	assert.Nil(t, s.Identity)
	assert.False(t, s.Loading)
	assert.Nil(t, s.LastError)
	assert.Empty(t, f.kv.Writes())

	// A later call retries.
	f.backend.ProvisionGuestFunc = nil
	_, err = f.ctrl.EnsureIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.backend.ProvisionCalls())
}

func TestAuthController_EnsureIdentityCallerCancel(t *testing.T) {
	f := newControllerFixture(t, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	f.backend.ProvisionGuestFunc = authmocks.BlockingProvision(started, release)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.ctrl.EnsureIdentity(ctx)
		errCh <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	// The shared resolution keeps running for other callers.
	close(release)
	require.Eventually(t, func() bool {
		s := f.ctrl.State()
		return s.Identity != nil && !s.Loading
	}, time.Second, 5*time.Millisecond)
}

func TestAuthController_PrefetchReportsLoading(t *testing.T) {
	f := newControllerFixture(t, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	f.backend.ProvisionGuestFunc = authmocks.BlockingProvision(started, release)

	var mu sync.Mutex
	var loading []bool
	unsubscribe := f.ctrl.Subscribe(func(s domainauth.AuthState) {
		mu.Lock()
		defer mu.Unlock()
		loading = append(loading, s.Loading)
	})
	defer unsubscribe()

	f.ctrl.Prefetch(context.Background())
	assert.True(t, f.ctrl.State().Loading)
	assert.Equal(t, domainauth.OutcomeLoading, domainauth.Evaluate(f.ctrl.State(), adminRoute).Outcome)

	<-started
	close(release)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(loading) > 1 && !loading[len(loading)-1]
	}, time.Second, 5*time.Millisecond)

	assert.NotNil(t, f.ctrl.State().Identity)
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, loading[0])
}

func TestAuthController_Unsubscribe(t *testing.T) {
	f := newControllerFixture(t, nil)

	calls := 0
	unsubscribe := f.ctrl.Subscribe(func(domainauth.AuthState) { calls++ })
	f.ctrl.ClearError()
	assert.Equal(t, 1, calls)

	unsubscribe()
	unsubscribe()
	f.ctrl.ClearError()
	assert.Equal(t, 1, calls)
}

func TestAuthController_LoginSuccess(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.backend.LoginRole = domainauth.RoleAdmin
	ctx := context.Background()
	require.NoError(t, f.ctrl.Init(ctx))

	req := passwordLogin("0712345678")
	req.RequireAdmin = true
	req.RememberMe = true
	res := f.ctrl.Login(ctx, req)

	require.True(t, res.Success)
	require.Nil(t, res.Err)
	require.NotNil(t, res.Identity)
	assert.Equal(t, "user-0712345678", res.Identity.ID)
	assert.False(t, res.Identity.IsGuest)
	assert.True(t, f.ctrl.IsAdmin())
	assert.Equal(t, domainauth.OutcomeAllowed, domainauth.Evaluate(f.ctrl.State(), adminRoute).Outcome)

	snap := f.kv.Snapshot(KeyUser, KeyToken)
	assert.Equal(t, "tok-1", snap[KeyToken])
	assert.Contains(t, snap[KeyUser], `"user-0712345678"`)

	hints, err := f.ctrl.Hints(ctx)
	require.NoError(t, err)
	assert.Equal(t, domainauth.LoginHints{RememberedContact: "0712345678", RememberMe: true}, hints)
	assert.True(t, f.sink.find("auth.login", "success"))
}

func TestAuthController_LoginWithoutRememberMeClearsHints(t *testing.T) {
	f := newControllerFixture(t, map[string]string{KeyRememberedContact: "0700", KeyRememberMe: "true"})

	res := f.ctrl.Login(context.Background(), passwordLogin("0712"))
	require.True(t, res.Success)

	assert.Empty(t, f.kv.Snapshot(KeyRememberedContact, KeyRememberMe))
}

func TestAuthController_LoginWritesPairAtomically(t *testing.T) {
	f := newControllerFixture(t, sessionSeed("u-old", domainauth.RoleUser, "tok-old"))
	ctx := context.Background()
	require.NoError(t, f.ctrl.Init(ctx))

	res := f.ctrl.Login(ctx, passwordLogin("0712"))
	require.True(t, res.Success)

	var pairWrites []authmocks.KVWrite
	for _, w := range f.kv.Writes() {
		if w.Op == "set" && len(w.Keys) == 2 && w.Keys[0] == KeyToken {
			pairWrites = append(pairWrites, w)
		}
	}
	assert.Len(t, pairWrites, 1, "identity and credential are persisted in one write")
}

func TestAuthController_FailedLoginKeepsSession(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind domainauth.ErrorKind
	}{
		{name: "rejected", err: authmocks.ErrRejected, kind: domainauth.KindInvalidCredentials},
		{name: "unreachable", err: authmocks.ErrUnavailable, kind: domainauth.KindNetworkFailure},
		{name: "unclassified", err: errors.New("boom"), kind: domainauth.KindNetworkFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newControllerFixture(t, sessionSeed("u1", domainauth.RoleModerator, "tokA"))
			ctx := context.Background()
			require.NoError(t, f.ctrl.Init(ctx))
			f.backend.LoginFunc = func(context.Context, domainauth.LoginCredentials) (domainauth.Grant, error) {
				return domainauth.Grant{}, tt.err
			}

			res := f.ctrl.Login(ctx, passwordLogin("0712"))
			assert.False(t, res.Success)
			require.NotNil(t, res.Err)
			assert.Equal(t, tt.kind, res.Err.Kind)

			s := f.ctrl.State()
			require.NotNil(t, s.Identity)
			assert.Equal(t, "u1", s.Identity.ID)
			assert.Equal(t, domainauth.Credential("tokA"), s.Credential)
			require.NotNil(t, s.LastError)
			assert.Equal(t, tt.kind, s.LastError.Kind)
			assert.Empty(t, f.kv.Writes())

			f.ctrl.ClearError()
			s = f.ctrl.State()
			assert.Nil(t, s.LastError)
			assert.Equal(t, "u1", s.Identity.ID, "ClearError touches nothing else")
		})
	}
}

func TestAuthController_LoginSaveFailureDoesNotAdopt(t *testing.T) {
	f := newControllerFixture(t, sessionSeed("u1", domainauth.RoleUser, "tokA"))
	ctx := context.Background()
	require.NoError(t, f.ctrl.Init(ctx))
	f.kv.SetErr = errors.New("write failed")

	res := f.ctrl.Login(ctx, passwordLogin("0712"))
	assert.False(t, res.Success)
	assert.Equal(t, "u1", f.ctrl.State().Identity.ID)
}

func TestAuthController_LoginInvalidRequest(t *testing.T) {
	f := newControllerFixture(t, nil)

	res := f.ctrl.Login(context.Background(), LoginRequest{Credentials: domainauth.LoginCredentials{
		Method: domainauth.LoginTransactionCode,
	}})

	assert.False(t, res.Success)
	require.NotNil(t, res.Err)
	assert.Equal(t, domainauth.KindInvalidRequest, res.Err.Kind)
	assert.Zero(t, f.backend.LoginCalls())
	assert.Equal(t, domainauth.KindInvalidRequest, f.ctrl.State().LastError.Kind)
}

func TestAuthController_TransactionCodeLogin(t *testing.T) {
	f := newControllerFixture(t, nil)

	res := f.ctrl.Login(context.Background(), LoginRequest{Credentials: domainauth.LoginCredentials{
		Method: domainauth.LoginTransactionCode,
		Code:   "QK7H2L9P",
	}})

	require.True(t, res.Success)
	assert.Equal(t, "user-QK7H2L9P", res.Identity.ID)
}

func TestAuthController_AdminViewRejectsNonAdmin(t *testing.T) {
	f := newControllerFixture(t, sessionSeed("u-mod", domainauth.RoleModerator, "tok-mod"))
	ctx := context.Background()
	require.NoError(t, f.ctrl.Init(ctx))

	req := passwordLogin("0712")
	req.RequireAdmin = true
	res := f.ctrl.Login(ctx, req)

	assert.False(t, res.Success)
	require.NotNil(t, res.Err)
	assert.Equal(t, domainauth.KindInsufficientRole, res.Err.Kind)
	assert.ErrorIs(t, res.Err, domainauth.ErrInsufficientRole)

	s := f.ctrl.State()
	assert.Nil(t, s.Identity, "controller logs out after a rejected elevation")
	assert.False(t, s.Authenticated())
	require.NotNil(t, s.LastError)
	assert.Equal(t, domainauth.KindInsufficientRole, s.LastError.Kind)

	assert.Empty(t, f.kv.Snapshot(KeyUser, KeyToken))
	for _, w := range f.kv.Writes() {
		assert.NotEqual(t, "set", w.Op, "non-admin grant must never be persisted")
	}
	assert.ElementsMatch(t, []domainauth.Credential{"tok-1", "tok-mod"}, f.backend.LoggedOut())

	d := domainauth.Evaluate(s, adminRoute)
	assert.Equal(t, domainauth.OutcomeDeniedUnauthenticated, d.Outcome)
}

func TestAuthController_LogoutDuringLogin(t *testing.T) {
	f := newControllerFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.ctrl.Init(ctx))

	started := make(chan struct{})
	release := make(chan struct{})
	f.backend.LoginFunc = authmocks.BlockingLogin(started, release, domainauth.Grant{
		Identity:   domainauth.Identity{ID: "u-admin", Role: domainauth.RoleAdmin},
		Credential: "tok-late",
	})

	done := make(chan LoginResult, 1)
	go func() { done <- f.ctrl.Login(ctx, passwordLogin("0712")) }()

	<-started
	require.NoError(t, f.ctrl.Logout(ctx))
	close(release)
	res := <-done

	assert.False(t, res.Success)
	require.NotNil(t, res.Err)
	assert.Equal(t, domainauth.KindSuperseded, res.Err.Kind)

	s := f.ctrl.State()
	assert.Nil(t, s.Identity)
	assert.Nil(t, s.LastError, "a superseded login does not report into the shared error")
	assert.Empty(t, f.kv.Snapshot(KeyUser, KeyToken))
	assert.Contains(t, f.backend.LoggedOut(), domainauth.Credential("tok-late"))
}

func TestAuthController_LatestLoginWins(t *testing.T) {
	f := newControllerFixture(t, nil)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	slow := authmocks.BlockingLogin(started, release, domainauth.Grant{
		Identity:   domainauth.Identity{ID: "u-first", Role: domainauth.RoleUser},
		Credential: "tok-first",
	})
	f.backend.LoginFunc = func(ctx context.Context, creds domainauth.LoginCredentials) (domainauth.Grant, error) {
		if creds.Contact == "first" {
			return slow(ctx, creds)
		}
		return domainauth.Grant{
			Identity:   domainauth.Identity{ID: "u-second", Role: domainauth.RoleModerator},
			Credential: "tok-second",
		}, nil
	}

	first := make(chan LoginResult, 1)
	go func() { first <- f.ctrl.Login(ctx, passwordLogin("first")) }()
	<-started

	second := f.ctrl.Login(ctx, passwordLogin("second"))
	require.True(t, second.Success)

	close(release)
	res := <-first
	require.NotNil(t, res.Err)
	assert.Equal(t, domainauth.KindSuperseded, res.Err.Kind)

	s := f.ctrl.State()
	assert.Equal(t, "u-second", s.Identity.ID)
	assert.Equal(t, domainauth.Credential("tok-second"), s.Credential)
	assert.Equal(t, "tok-second", f.kv.Snapshot(KeyToken)[KeyToken])
}

func TestAuthController_LoginDuringProvisioning(t *testing.T) {
	f := newControllerFixture(t, nil)
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	f.backend.ProvisionGuestFunc = authmocks.BlockingProvision(started, release)

	f.ctrl.Prefetch(ctx)
	<-started

	res := f.ctrl.Login(ctx, passwordLogin("0712"))
	require.True(t, res.Success)

	close(release)
	require.Eventually(t, func() bool { return !f.ctrl.State().Loading }, time.Second, 5*time.Millisecond)

	s := f.ctrl.State()
	assert.False(t, s.Identity.IsGuest, "a late guest never replaces a login")
	assert.Equal(t, "user-0712", s.Identity.ID)
	assert.Equal(t, "tok-1", f.kv.Snapshot(KeyToken)[KeyToken])
}

func TestAuthController_Logout(t *testing.T) {
	f := newControllerFixture(t, sessionSeed("u1", domainauth.RoleAdmin, "tokA"))
	ctx := context.Background()
	require.NoError(t, f.ctrl.Init(ctx))
	require.NoError(t, f.kv.Set(ctx, map[string]string{KeyRememberMe: "true", KeyRememberedContact: "0712"}))

	require.NoError(t, f.ctrl.Logout(ctx))

	s := f.ctrl.State()
	assert.Nil(t, s.Identity)
	assert.True(t, s.Credential.Empty())
	assert.False(t, f.ctrl.IsAdmin())
	assert.Empty(t, f.kv.Snapshot(KeyUser, KeyToken, KeyRememberMe, KeyRememberedContact))
	assert.Equal(t, []domainauth.Credential{"tokA"}, f.backend.LoggedOut())

	writes := f.kv.Writes()
	assert.Equal(t, authmocks.KVWrite{
		Op:   "delete",
		Keys: []string{KeyRememberMe, KeyRememberedContact, KeyToken, KeyUser},
	}, writes[len(writes)-1])

	// The device can be provisioned again.
	id, err := f.ctrl.EnsureIdentity(ctx)
	require.NoError(t, err)
	assert.True(t, id.IsGuest)
}

func TestAuthController_LogoutStoreFailure(t *testing.T) {
	f := newControllerFixture(t, sessionSeed("u1", domainauth.RoleUser, "tokA"))
	ctx := context.Background()
	require.NoError(t, f.ctrl.Init(ctx))
	f.kv.DeleteErr = errors.New("delete failed")

	err := f.ctrl.Logout(ctx)
	require.Error(t, err)
	assert.Nil(t, f.ctrl.State().Identity, "memory is cleared even when the store is not")
	assert.True(t, f.sink.find("auth.logout", "error"))
}

func TestAuthController_FailedLogoutClearIsNotUndone(t *testing.T) {
	f := newControllerFixture(t, sessionSeed("u1", domainauth.RoleAdmin, "tokA"))
	ctx := context.Background()
	require.NoError(t, f.ctrl.Init(ctx))
	require.True(t, f.ctrl.IsAdmin())

	f.kv.DeleteErr = errors.New("delete failed")
	require.Error(t, f.ctrl.Logout(ctx))
	f.kv.DeleteErr = nil

	id, err := f.ctrl.EnsureIdentity(ctx)
	require.NoError(t, err)
	assert.True(t, id.IsGuest, "the logged-out pair is never restored")
	assert.False(t, f.ctrl.IsAdmin())
	assert.Equal(t, 1, f.backend.ProvisionCalls())
	assert.Equal(t, "guest-token-"+testDeviceKey, f.kv.Snapshot(KeyToken)[KeyToken])

	var deletes []authmocks.KVWrite
	for _, w := range f.kv.Writes() {
		if w.Op == "delete" {
			deletes = append(deletes, w)
		}
	}
	require.Len(t, deletes, 1, "the failed clear is retried before restoring")
	assert.Equal(t, []string{KeyRememberMe, KeyRememberedContact, KeyToken, KeyUser}, deletes[0].Keys)
}

func TestAuthController_FailedLogoutClearStillFailing(t *testing.T) {
	f := newControllerFixture(t, sessionSeed("u1", domainauth.RoleAdmin, "tokA"))
	ctx := context.Background()
	require.NoError(t, f.ctrl.Init(ctx))

	f.kv.DeleteErr = errors.New("delete failed")
	require.Error(t, f.ctrl.Logout(ctx))

	id, err := f.ctrl.EnsureIdentity(ctx)
	require.NoError(t, err)
	assert.True(t, id.IsGuest)
	assert.False(t, f.ctrl.IsAdmin())
	assert.True(t, f.sink.find("auth.restore", "error"))
	assert.Equal(t, "guest-token-"+testDeviceKey, f.kv.Snapshot(KeyToken)[KeyToken],
		"the guest pair overwrites the logged-out one")
}

func TestAuthController_LoginSurvivesCallerLeaving(t *testing.T) {
	f := newControllerFixture(t, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	f.backend.LoginFunc = authmocks.BlockingLogin(started, release, domainauth.Grant{
		Identity:   domainauth.Identity{ID: "u1", Role: domainauth.RoleUser},
		Credential: "tok-1",
	})

	callerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan LoginResult, 1)
	go func() { done <- f.ctrl.Login(callerCtx, passwordLogin("0712")) }()

	<-started
	cancel()
	close(release)
	res := <-done

	require.True(t, res.Success, "leaving the login view does not cancel the backend call")
	s := f.ctrl.State()
	assert.Nil(t, s.LastError)
	assert.Equal(t, "u1", s.Identity.ID)
	assert.Equal(t, "tok-1", f.kv.Snapshot(KeyToken)[KeyToken])
}

func TestAuthController_LogoutBackendFailureIgnored(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().Logout(gomock.Any(), domainauth.Credential("tokA")).Return(authmocks.ErrUnavailable)

	kv := authmocks.NewRecordingKV(sessionSeed("u1", domainauth.RoleUser, "tokA"))
	c := newTestController(kv, backend, nil)
	ctx := context.Background()
	require.NoError(t, c.Init(ctx))

	require.NoError(t, c.Logout(ctx))
	assert.Nil(t, c.State().Identity)
}

func TestAuthController_StateIsSnapshot(t *testing.T) {
	f := newControllerFixture(t, sessionSeed("u1", domainauth.RoleUser, "tokA"))
	require.NoError(t, f.ctrl.Init(context.Background()))

	s := f.ctrl.State()
	s.Identity.Role = domainauth.RoleAdmin
	assert.False(t, f.ctrl.IsAdmin())
}
