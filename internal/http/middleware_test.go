package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/portal-session/internal/domain/auth"
	"github.com/target/portal-session/internal/service"
)

// stubController serves a fixed state; Prefetch flips it to loading.
type stubController struct {
	state      domainauth.AuthState
	prefetches int
	logoutErr  error
	ensure     func(ctx context.Context) (domainauth.Identity, error)
}

func (s *stubController) State() domainauth.AuthState { return s.state }

func (s *stubController) Prefetch(context.Context) {
	s.prefetches++
	s.state.Loading = true
}

func (s *stubController) EnsureIdentity(ctx context.Context) (domainauth.Identity, error) {
	if s.ensure != nil {
		return s.ensure(ctx)
	}
	return domainauth.Identity{}, errors.New("not implemented")
}

func (s *stubController) Login(context.Context, service.LoginRequest) service.LoginResult {
	return service.LoginResult{}
}
func (s *stubController) Logout(context.Context) error { return s.logoutErr }
func (s *stubController) ClearError()                  {}
func (s *stubController) Hints(context.Context) (domainauth.LoginHints, error) {
	return domainauth.LoginHints{}, nil
}

func stateFor(id *domainauth.Identity, cred domainauth.Credential) domainauth.AuthState {
	return domainauth.AuthState{Identity: id, Credential: cred}
}

func gatedHandler(auth AuthController, route domainauth.Route) (http.Handler, *domainauth.AuthState) {
	var seen domainauth.AuthState
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetAuthStateFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return BrowserDetection()(Gate(auth, domainauth.NewGate(domainauth.GatePaths{}), route)(next)), &seen
}

func browserRequest(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	return req
}

func apiRequest(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Accept", "application/json")
	return req
}

var adminRoute = domainauth.Route{Path: "/admin/", RequiredRole: domainauth.RoleAdmin}

func TestGate_LoadingNeverRedirects(t *testing.T) {
	auth := &stubController{state: domainauth.AuthState{Loading: true}}
	h, _ := gatedHandler(auth, adminRoute)

	for _, req := range []*http.Request{browserRequest("/admin/"), apiRequest("/admin/")} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))
		assert.Empty(t, rec.Header().Get("Location"))
	}
	assert.Zero(t, auth.prefetches, "resolution already running")
}

func TestGate_NoIdentityStartsResolution(t *testing.T) {
	auth := &stubController{}
	h, _ := gatedHandler(auth, domainauth.Route{Path: "/portal/", RequireAuth: true})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, browserRequest("/portal/"))

	assert.Equal(t, 1, auth.prefetches)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestGate_Unauthenticated(t *testing.T) {
	guestNoCred := &domainauth.Identity{ID: "g1", Role: domainauth.RoleUser, IsGuest: true}
	auth := &stubController{state: stateFor(guestNoCred, "")}
	h, _ := gatedHandler(auth, adminRoute)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, browserRequest("/admin/users?page=2"))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?redirect_uri=%2Fadmin%2Fusers%3Fpage%3D2", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, apiRequest("/admin/users"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "authentication_required", body["error"])
}

func TestGate_InsufficientRole(t *testing.T) {
	guest := &domainauth.Identity{ID: "g1", Role: domainauth.RoleUser, IsGuest: true}
	auth := &stubController{state: stateFor(guest, "guest-token")}
	h, _ := gatedHandler(auth, adminRoute)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, browserRequest("/admin/"))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/unauthorized", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, apiRequest("/admin/"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGate_Allowed(t *testing.T) {
	admin := &domainauth.Identity{ID: "u1", Role: domainauth.RoleAdmin}
	auth := &stubController{state: stateFor(admin, "tok123")}
	h, seen := gatedHandler(auth, adminRoute)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, browserRequest("/admin/"))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen.Identity)
	assert.Equal(t, "u1", seen.Identity.ID)
}

func TestGate_RegisteredOnly(t *testing.T) {
	guest := &domainauth.Identity{ID: "g1", Role: domainauth.RoleUser, IsGuest: true}
	auth := &stubController{state: stateFor(guest, "guest-token")}
	h, _ := gatedHandler(auth, domainauth.Route{Path: "/account/", RequireRegistered: true})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, browserRequest("/account/"))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?redirect_uri=%2Faccount%2F", rec.Header().Get("Location"))
}

func TestIsBrowserRequest(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		accept string
		want   bool
	}{
		{name: "html accept", path: "/portal/", accept: "text/html", want: true},
		{name: "no accept", path: "/portal/", want: true},
		{name: "json accept", path: "/portal/", accept: "application/json", want: false},
		{name: "api path", path: "/api/x", accept: "text/html", want: false},
		{name: "auth path", path: "/auth/status", accept: "text/html", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			assert.Equal(t, tt.want, IsBrowserRequest(req))
		})
	}
}

func TestRequestID(t *testing.T) {
	var got string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, got, 36)
	assert.Equal(t, got, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", got)
}

func TestRecover(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recover(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestIsGuestUser(t *testing.T) {
	assert.True(t, IsGuestUser(context.Background()))

	ctx := SetAuthStateInContext(context.Background(), stateFor(&domainauth.Identity{ID: "g", IsGuest: true}, "t"))
	assert.True(t, IsGuestUser(ctx))

	ctx = SetAuthStateInContext(context.Background(), stateFor(&domainauth.Identity{ID: "u"}, "t"))
	assert.False(t, IsGuestUser(ctx))
}
