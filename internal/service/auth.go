package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	domainauth "github.com/target/portal-session/internal/domain/auth"
	"github.com/target/portal-session/internal/observability/metrics"
	"github.com/target/portal-session/internal/observability/statsd"
	"github.com/target/portal-session/internal/ports"
	"golang.org/x/sync/singleflight"
)

const defaultProvisionTimeout = 15 * time.Second

// LoginRequest is one login attempt submitted from a login view.
type LoginRequest struct {
	Credentials domainauth.LoginCredentials `json:"credentials"`
	// RequireAdmin marks logins from the admin login view.
	RequireAdmin bool `json:"require_admin"`
	RememberMe   bool `json:"remember_me"`
}

// LoginResult reports a login outcome. Login never returns a bare error.
type LoginResult struct {
	Success  bool                  `json:"success"`
	Identity *domainauth.Identity  `json:"identity,omitempty"`
	Err      *domainauth.AuthError `json:"error,omitempty"`
}

// AuthControllerOptions groups dependencies for AuthController.
type AuthControllerOptions struct {
	Sessions *SessionStore
	Resolver *IdentityResolver
	Backend  ports.Backend
	Logger   *slog.Logger
	Metrics  statsd.Sink // optional

	// ProvisionTimeout bounds one shared identity resolution. Defaults to 15s.
	ProvisionTimeout time.Duration
}

// AuthController is the only writer of auth state and of the session store.
// All methods are safe for concurrent use. No lock is held across a backend call.
type AuthController struct {
	sessions         *SessionStore
	resolver         *IdentityResolver
	backend          ports.Backend
	logger           *slog.Logger
	metrics          statsd.Sink
	provisionTimeout time.Duration

	flight singleflight.Group

	// commitMu serializes session store writes with the state change they back.
	commitMu sync.Mutex
	// purgePending marks a logout whose store clear failed. Guarded by
	// commitMu; the clear is retried before any restore.
	purgePending bool

	mu        sync.RWMutex
	state     domainauth.AuthState
	waiting   int  // callers waiting on a resolution
	resolving bool // shared resolution running

	subMu   sync.Mutex
	subs    map[uint64]func(domainauth.AuthState)
	nextSub uint64
}

// NewAuthController constructs an AuthController with no identity loaded.
// Call Init to restore or provision one.
func NewAuthController(opts AuthControllerOptions) *AuthController {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.ProvisionTimeout
	if timeout <= 0 {
		timeout = defaultProvisionTimeout
	}
	return &AuthController{
		sessions:         opts.Sessions,
		resolver:         opts.Resolver,
		backend:          opts.Backend,
		logger:           logger.With("component", "auth_controller"),
		metrics:          opts.Metrics,
		provisionTimeout: timeout,
		subs:             make(map[uint64]func(domainauth.AuthState)),
	}
}

// State returns a snapshot of the current auth state.
func (c *AuthController) State() domainauth.AuthState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *AuthController) snapshotLocked() domainauth.AuthState {
	s := c.state
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	s.Loading = c.waiting > 0 || c.resolving
	return s
}

// IsAuthenticated is true only when both identity and credential are present.
func (c *AuthController) IsAuthenticated() bool { return c.State().Authenticated() }

// IsAdmin reports whether an authenticated identity holds the ADMIN role.
func (c *AuthController) IsAdmin() bool {
	s := c.State()
	return s.Authenticated() && s.HasPermission(domainauth.RoleAdmin)
}

// HasPermission reports whether the current identity satisfies required.
func (c *AuthController) HasPermission(required domainauth.Role) bool {
	return c.State().HasPermission(required)
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that made the change and must not block.
func (c *AuthController) Subscribe(fn func(domainauth.AuthState)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

func (c *AuthController) notify() {
	snap := c.State()
	c.subMu.Lock()
	ids := slices.Sorted(maps.Keys(c.subs))
	fns := make([]func(domainauth.AuthState), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.subs[id])
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// update mutates state under the lock and notifies subscribers afterwards.
func (c *AuthController) update(fn func(*domainauth.AuthState)) {
	c.mu.Lock()
	fn(&c.state)
	c.mu.Unlock()
	c.notify()
}

// setLoadingCounters applies fn and notifies only if the loading flag flipped.
func (c *AuthController) setLoadingCounters(fn func()) {
	c.mu.Lock()
	before := c.waiting > 0 || c.resolving
	fn()
	after := c.waiting > 0 || c.resolving
	c.mu.Unlock()
	if before != after {
		c.notify()
	}
}

func (c *AuthController) currentIdentity() (domainauth.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.Identity == nil {
		return domainauth.Identity{}, false
	}
	return *c.state.Identity, true
}

// adopt installs sess as the current state. Caller holds commitMu.
func (c *AuthController) adopt(sess domainauth.Session) {
	id := sess.Identity
	c.mu.Lock()
	c.state.Identity = &id
	c.state.Credential = sess.Credential
	c.state.LastError = nil
	c.mu.Unlock()
}

// Init restores the persisted session or provisions a guest identity.
// It reports loading while the resolution runs.
func (c *AuthController) Init(ctx context.Context) error {
	_, err := c.EnsureIdentity(ctx)
	return err
}

// EnsureIdentity returns the current identity, resolving one if none is
// present. Concurrent callers share a single resolution; a caller whose ctx
// ends stops waiting without cancelling the shared work.
func (c *AuthController) EnsureIdentity(ctx context.Context) (domainauth.Identity, error) {
	if id, ok := c.currentIdentity(); ok {
		return id, nil
	}

	ch, done := c.startResolution(ctx)
	defer done()

	select {
	case res := <-ch:
		if res.Err != nil {
			return domainauth.Identity{}, res.Err
		}
		id, _ := res.Val.(domainauth.Identity)
		return id, nil
	case <-ctx.Done():
		return domainauth.Identity{}, fmt.Errorf("ensure identity: %w", ctx.Err())
	}
}

// Prefetch starts identity resolution without waiting for it. The state
// reports loading before Prefetch returns.
func (c *AuthController) Prefetch(ctx context.Context) {
	if _, ok := c.currentIdentity(); ok {
		return
	}
	ch, done := c.startResolution(ctx)
	go func() {
		defer done()
		if res := <-ch; res.Err != nil {
			c.logger.DebugContext(ctx, "background identity resolution failed", "error", res.Err)
		}
	}()
}

func (c *AuthController) startResolution(ctx context.Context) (<-chan singleflight.Result, func()) {
	c.setLoadingCounters(func() { c.waiting++ })

	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(c.resolver.DeviceKey(), func() (any, error) {
		return c.resolve(detached)
	})

	var once sync.Once
	return ch, func() {
		once.Do(func() { c.setLoadingCounters(func() { c.waiting-- }) })
	}
}

// resolve is the shared body of a coalesced resolution.
func (c *AuthController) resolve(ctx context.Context) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.provisionTimeout)
	defer cancel()

	c.setLoadingCounters(func() { c.resolving = true })
	defer c.setLoadingCounters(func() { c.resolving = false })

	if id, ok := c.restore(ctx); ok {
		return id, nil
	}

	start := time.Now()
	sess, err := c.resolver.Provision(ctx)
	if err != nil {
		c.emit(metrics.AuthMetric{
			Operation: metrics.OpGuestProvision,
			Result:    metrics.ResultError,
			Duration:  time.Since(start),
			Err:       err,
		})
		c.logger.WarnContext(ctx, "guest provisioning failed", "error", err)
		return nil, domainauth.NewAuthError(
			domainauth.KindNetworkFailure,
			"Unable to set up this device. Please try again.",
			fmt.Errorf("%w: %w", domainauth.ErrNetworkFailure, err),
		)
	}

	id, adopted, err := c.commitGuest(ctx, sess)
	if err != nil {
		c.emit(metrics.AuthMetric{Operation: metrics.OpGuestProvision, Result: metrics.ResultError, Err: err})
		c.logger.ErrorContext(ctx, "persist guest session", "error", err)
		return nil, domainauth.NewAuthError(domainauth.KindNetworkFailure, "Unable to save this device's session.", err)
	}

	result := metrics.ResultNoop
	if adopted {
		result = metrics.ResultSuccess
		c.notify()
	}
	c.emit(metrics.AuthMetric{Operation: metrics.OpGuestProvision, Result: result, Duration: time.Since(start)})
	return id, nil
}

// restore adopts the persisted session if one is usable. It runs under
// commitMu so a concurrent logout cannot be undone by a stale read, and it
// never adopts a pair left behind by a logout whose clear failed.
func (c *AuthController) restore(ctx context.Context) (domainauth.Identity, bool) {
	c.commitMu.Lock()
	if id, ok := c.currentIdentity(); ok {
		c.commitMu.Unlock()
		return id, true
	}
	if c.purgePending {
		if err := c.sessions.ClearAll(ctx); err != nil {
			c.commitMu.Unlock()
			c.logger.WarnContext(ctx, "logged-out session still stored, not restoring it", "error", err)
			c.emit(metrics.AuthMetric{Operation: metrics.OpRestore, Result: metrics.ResultError, Err: err})
			return domainauth.Identity{}, false
		}
		c.purgePending = false
	}

	sess, ok, err := c.resolver.Restore(ctx)
	switch {
	case err != nil:
		c.commitMu.Unlock()
		c.logger.WarnContext(ctx, "restore failed, provisioning guest", "error", err)
		c.emit(metrics.AuthMetric{Operation: metrics.OpRestore, Result: metrics.ResultError, Err: err})
		return domainauth.Identity{}, false
	case !ok:
		c.commitMu.Unlock()
		c.emit(metrics.AuthMetric{Operation: metrics.OpRestore, Result: metrics.ResultNoop})
		return domainauth.Identity{}, false
	}

	c.adopt(sess)
	c.commitMu.Unlock()
	c.notify()

	c.emit(metrics.AuthMetric{Operation: metrics.OpRestore, Result: metrics.ResultSuccess})
	c.logger.InfoContext(ctx, "session restored",
		"identity_id", sess.Identity.ID,
		"role", sess.Identity.Role,
		"guest", sess.Identity.IsGuest)
	return sess.Identity, true
}

// commitGuest persists and adopts a provisioned guest unless an identity
// appeared in the meantime, in which case the guest is discarded.
func (c *AuthController) commitGuest(ctx context.Context, sess domainauth.Session) (domainauth.Identity, bool, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	if id, ok := c.currentIdentity(); ok {
		c.logger.DebugContext(ctx, "discarding guest identity; identity already present", "identity_id", id.ID)
		return id, false, nil
	}
	if err := c.sessions.Save(ctx, sess); err != nil {
		return domainauth.Identity{}, false, err
	}
	c.purgePending = false
	c.adopt(sess)
	return sess.Identity, true, nil
}

// Login exchanges credentials for a session. A failed login leaves the prior
// state intact. A result that resolves after a logout or a newer login is
// discarded and reported as superseded.
func (c *AuthController) Login(ctx context.Context, req LoginRequest) LoginResult {
	start := time.Now()
	method := string(req.Credentials.Method)

	if err := req.Credentials.Validate(); err != nil {
		ae := domainauth.NewAuthError(domainauth.KindInvalidRequest, err.Error(), err)
		c.update(func(s *domainauth.AuthState) { s.LastError = ae })
		return LoginResult{Err: ae}
	}

	// Leaving the login view does not cancel the backend call; a stale
	// result is discarded by the epoch check instead.
	ctx = context.WithoutCancel(ctx)
	epoch := c.beginLogin()

	grant, err := c.backend.Login(ctx, req.Credentials)
	if err != nil {
		return c.loginFailed(ctx, epoch, method, start, err)
	}

	sess := grant.Session()
	sess.Identity.IsGuest = false
	sess.Identity.Role = domainauth.ParseRole(string(sess.Identity.Role))
	if !sess.Complete() {
		return c.loginFailed(ctx, epoch, method, start, fmt.Errorf("incomplete grant: %w", domainauth.ErrNetworkFailure))
	}

	if req.RequireAdmin && !domainauth.Satisfies(sess.Identity.Role, domainauth.RoleAdmin) {
		return c.rejectElevation(ctx, epoch, method, start, sess)
	}

	if err := c.commitLogin(ctx, epoch, sess); err != nil {
		if errors.Is(err, domainauth.ErrLoginSuperseded) {
			c.revoke(ctx, sess.Credential)
		}
		return c.loginFailed(ctx, epoch, method, start, err)
	}
	c.notify()

	c.rememberHints(ctx, req)
	c.emit(metrics.AuthMetric{
		Operation: metrics.OpLogin,
		Method:    method,
		Result:    metrics.ResultSuccess,
		Duration:  time.Since(start),
	})
	c.logger.InfoContext(ctx, "login succeeded",
		"identity_id", sess.Identity.ID,
		"role", sess.Identity.Role,
		"method", method)

	id := sess.Identity
	return LoginResult{Success: true, Identity: &id}
}

// beginLogin bumps the epoch so that any older in-flight login is superseded.
func (c *AuthController) beginLogin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Epoch++
	return c.state.Epoch
}

func (c *AuthController) epochIs(epoch uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Epoch == epoch
}

func (c *AuthController) commitLogin(ctx context.Context, epoch uint64, sess domainauth.Session) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	if !c.epochIs(epoch) {
		return domainauth.ErrLoginSuperseded
	}
	if err := c.sessions.Save(ctx, sess); err != nil {
		return err
	}
	c.purgePending = false
	c.adopt(sess)
	return nil
}

func (c *AuthController) loginFailed(ctx context.Context, epoch uint64, method string, start time.Time, err error) LoginResult {
	ae := domainauth.Classify(err)

	// Only the latest login may report into the shared error slot.
	if ae.Kind != domainauth.KindSuperseded {
		c.mu.Lock()
		current := c.state.Epoch == epoch
		if current {
			c.state.LastError = ae
		}
		c.mu.Unlock()
		if current {
			c.notify()
		}
	}

	c.emit(metrics.AuthMetric{
		Operation: metrics.OpLogin,
		Method:    method,
		Result:    metrics.ResultError,
		Duration:  time.Since(start),
		Err:       err,
	})
	c.logger.InfoContext(ctx, "login failed", "method", method, "kind", ae.Kind, "error", err)
	return LoginResult{Err: ae}
}

// rejectElevation handles a non-admin grant from the admin login view: the
// grant is never persisted and the controller logs out.
func (c *AuthController) rejectElevation(
	ctx context.Context,
	epoch uint64,
	method string,
	start time.Time,
	sess domainauth.Session,
) LoginResult {
	c.revoke(ctx, sess.Credential)

	if !c.epochIs(epoch) {
		return c.loginFailed(ctx, epoch, method, start, domainauth.ErrLoginSuperseded)
	}

	c.logger.WarnContext(ctx, "non-admin login from admin view; logging out",
		"identity_id", sess.Identity.ID,
		"role", sess.Identity.Role)
	if err := c.Logout(ctx); err != nil {
		c.logger.ErrorContext(ctx, "logout after rejected elevation", "error", err)
	}

	ae := domainauth.NewAuthError(
		domainauth.KindInsufficientRole,
		"This account does not have administrator access.",
		domainauth.ErrInsufficientRole,
	)
	c.update(func(s *domainauth.AuthState) { s.LastError = ae })
	c.emit(metrics.AuthMetric{
		Operation: metrics.OpLogin,
		Method:    method,
		Result:    metrics.ResultError,
		Duration:  time.Since(start),
		Err:       ae,
	})
	return LoginResult{Err: ae}
}

func (c *AuthController) rememberHints(ctx context.Context, req LoginRequest) {
	var err error
	if req.RememberMe {
		err = c.sessions.SaveHints(ctx, domainauth.LoginHints{
			RememberedContact: req.Credentials.HintContact(),
			RememberMe:        true,
		})
	} else {
		err = c.sessions.ClearHints(ctx)
	}
	if err != nil {
		c.logger.WarnContext(ctx, "update login hints", "error", err)
	}
}

// Logout clears the persisted pair and login hints in one delete, cancels
// any in-flight login, and notifies the backend on a best-effort basis. The
// controller is left without an identity and eligible for a new guest.
func (c *AuthController) Logout(ctx context.Context) error {
	start := time.Now()

	c.commitMu.Lock()
	c.mu.Lock()
	prev := c.state.Credential
	c.state.Epoch++
	c.state.Identity = nil
	c.state.Credential = ""
	c.mu.Unlock()
	err := c.sessions.ClearAll(ctx)
	c.purgePending = err != nil
	c.commitMu.Unlock()
	c.notify()

	if !prev.Empty() {
		c.revoke(ctx, prev)
	}

	if err != nil {
		c.emit(metrics.AuthMetric{Operation: metrics.OpLogout, Result: metrics.ResultError, Err: err})
		c.logger.ErrorContext(ctx, "logout: clear session", "error", err)
		return fmt.Errorf("logout: %w", err)
	}
	c.emit(metrics.AuthMetric{Operation: metrics.OpLogout, Result: metrics.ResultSuccess, Duration: time.Since(start)})
	return nil
}

// revoke tells the backend a credential is no longer in use. Errors are logged only.
func (c *AuthController) revoke(ctx context.Context, cred domainauth.Credential) {
	if err := c.backend.Logout(ctx, cred); err != nil {
		c.logger.DebugContext(ctx, "backend logout notification failed", "error", err)
	}
}

// ClearError clears the last error and nothing else.
func (c *AuthController) ClearError() {
	c.update(func(s *domainauth.AuthState) { s.LastError = nil })
}

// Hints returns the remembered login-form fields.
func (c *AuthController) Hints(ctx context.Context) (domainauth.LoginHints, error) {
	return c.sessions.Hints(ctx)
}

func (c *AuthController) emit(m metrics.AuthMetric) {
	metrics.EmitAuth(c.metrics, m)
}
