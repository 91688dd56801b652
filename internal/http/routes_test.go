package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/portal-session/internal/domain/auth"
	apperrors "github.com/target/portal-session/internal/errors"
	authmocks "github.com/target/portal-session/internal/mocks/auth"
	"github.com/target/portal-session/internal/service"
)

type routerFixture struct {
	handler http.Handler
	ctrl    *service.AuthController
	backend *authmocks.MockBackend
	kv      *authmocks.RecordingKV
}

func newRouterFixture(t *testing.T, seed map[string]string) *routerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := authmocks.NewRecordingKV(seed)
	backend := authmocks.NewMockBackend()
	sessions := service.NewSessionStore(service.SessionStoreOptions{KV: kv, Logger: logger})
	resolver := service.NewIdentityResolver(service.IdentityResolverOptions{
		Sessions:  sessions,
		Backend:   backend,
		DeviceKey: "02:aa:bb:cc:dd:ee",
		Logger:    logger,
	})
	ctrl := service.NewAuthController(service.AuthControllerOptions{
		Sessions: sessions,
		Resolver: resolver,
		Backend:  backend,
		Logger:   logger,
	})
	return &routerFixture{
		handler: NewRouter(RouterServices{Auth: ctrl, Logger: logger}),
		ctrl:    ctrl,
		backend: backend,
		kv:      kv,
	}
}

func (f *routerFixture) do(t *testing.T, method, target, body string, browser bool) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if browser {
		req.Header.Set("Accept", "text/html")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRouter_Healthz(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","loading":false}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(t, http.MethodHead, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.backend.ProvisionCalls())
}

func TestRouter_FreshBrowserGetsGuestThenDenied(t *testing.T) {
	f := newRouterFixture(t, nil)

	// First navigation starts resolution and is asked to retry.
	rec := f.do(t, http.MethodGet, "/admin/", "", true)
	assert.Contains(t, []int{http.StatusAccepted, http.StatusSeeOther}, rec.Code)

	require.Eventually(t, func() bool {
		s := f.ctrl.State()
		return s.Identity != nil && !s.Loading
	}, time.Second, 5*time.Millisecond)

	rec = f.do(t, http.MethodGet, "/admin/", "", true)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/unauthorized", rec.Header().Get("Location"))

	rec = f.do(t, http.MethodGet, "/portal/", "", true)
	assert.Equal(t, http.StatusOK, rec.Code, "guest with credential may use the portal")

	rec = f.do(t, http.MethodGet, "/account/", "", true)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/login?"))
}

func TestRouter_RestoredAdminAllowed(t *testing.T) {
	f := newRouterFixture(t, map[string]string{
		service.KeyUser:  `{"id":"u-admin","role":"ADMIN"}`,
		service.KeyToken: "tok123",
	})
	require.NoError(t, f.ctrl.Init(context.Background()))

	rec := f.do(t, http.MethodGet, "/admin/", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.backend.ProvisionCalls())

	status := decode[statusResponse](t, f.do(t, http.MethodGet, "/auth/status", "", false))
	assert.True(t, status.Authenticated)
	assert.True(t, status.Admin)
	assert.Equal(t, "u-admin", status.Identity.ID)
}

func TestRouter_LoginFlow(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.backend.LoginRole = domainauth.RoleAdmin

	rec := f.do(t, http.MethodPost, "/auth/login?redirect_uri=%2Fadmin%2Freports",
		`{"method":"username","username":"ops","password":"pw","require_admin":true,"remember_me":true}`, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[loginResponse](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, "/admin/reports", res.RedirectTo)
	assert.Equal(t, "user-ops", res.Identity.ID)

	hints := decode[hintsResponse](t, f.do(t, http.MethodGet, "/auth/hints", "", false))
	assert.Equal(t, hintsResponse{RememberedContact: "ops", RememberMe: true}, hints)

	rec = f.do(t, http.MethodGet, "/admin/", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/logout", "", false)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	status := decode[statusResponse](t, f.do(t, http.MethodGet, "/auth/status", "", false))
	assert.False(t, status.Authenticated)
	assert.Nil(t, status.Identity)

	hints = decode[hintsResponse](t, f.do(t, http.MethodGet, "/auth/hints", "", false))
	assert.Equal(t, hintsResponse{}, hints)
}

func TestRouter_LoginRedirectSanitized(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/auth/login",
		`{"method":"password","contact":"0712","password":"pw","redirect_to":"https://evil.example/"}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/", decode[loginResponse](t, rec).RedirectTo)

	rec = f.do(t, http.MethodPost, "/auth/login",
		`{"method":"username","username":"a","password":"pw","require_admin":true}`, false)
	assert.Equal(t, http.StatusForbidden, rec.Code, "USER grant from the admin view")
}

func TestRouter_LoginErrors(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/auth/login", `{"method":"password"}`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domainauth.KindInvalidRequest, decode[loginResponse](t, rec).Error.Kind)

	rec = f.do(t, http.MethodPost, "/auth/login", `{"method":"password","bogus":1}`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.backend.LoginFunc = func(context.Context, domainauth.LoginCredentials) (domainauth.Grant, error) {
		return domainauth.Grant{}, authmocks.ErrRejected
	}
	rec = f.do(t, http.MethodPost, "/auth/login", `{"method":"transaction_code","code":"BAD"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, domainauth.KindInvalidCredentials, decode[loginResponse](t, rec).Error.Kind)

	status := decode[statusResponse](t, f.do(t, http.MethodGet, "/auth/status", "", false))
	require.NotNil(t, status.Error)
	assert.Equal(t, domainauth.KindInvalidCredentials, status.Error.Kind)

	rec = f.do(t, http.MethodPost, "/auth/clear-error", "", false)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	status = decode[statusResponse](t, f.do(t, http.MethodGet, "/auth/status", "", false))
	assert.Nil(t, status.Error)
}

func TestRouter_Identity(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/auth/identity", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]domainauth.Identity](t, rec)
	assert.True(t, body["identity"].IsGuest)
	assert.Equal(t, []string{"02:aa:bb:cc:dd:ee"}, f.backend.DeviceKeys())
}

func TestRouter_IdentityProvisionFailure(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.backend.ProvisionGuestFunc = func(context.Context, string) (domainauth.Grant, error) {
		return domainauth.Grant{}, authmocks.ErrUnavailable
	}

	rec := f.do(t, http.MethodPost, "/auth/identity", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	body := decode[map[string]domainauth.AuthError](t, rec)
	assert.Equal(t, domainauth.KindNetworkFailure, body["error"].Kind)

	status := decode[statusResponse](t, f.do(t, http.MethodGet, "/auth/status", "", false))
	assert.False(t, status.Loading)
	assert.Nil(t, status.Identity)
}

func TestRouter_LoginAndUnauthorizedPages(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/login?redirect_uri=%2Fadmin%2F", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/admin/")

	rec = f.do(t, http.MethodGet, "/login?redirect_uri=//evil.example", "", false)
	page := decode[map[string]any](t, rec)
	assert.Equal(t, "/", page["redirect_uri"])
	assert.Equal(t, true, page["login_required"])

	rec = f.do(t, http.MethodGet, "/unauthorized", "", true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestRouter_LogoutStorageFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		retryAfter string
	}{
		{
			name:       "transient",
			err:        fmt.Errorf("clear session: %w", apperrors.New(apperrors.ErrCodeUnavailable, "down")),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "storage_unavailable",
			retryAfter: "1",
		},
		{
			name:       "permanent",
			err:        errors.New("clear session: permission denied"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "logout_failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(RouterServices{Auth: &stubController{logoutErr: tt.err}, Logger: logger})
			req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
			body := decode[map[string]string](t, rec)
			assert.Equal(t, tt.wantCode, body["error"])
		})
	}
}
