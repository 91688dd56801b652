package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	domainauth "github.com/target/portal-session/internal/domain/auth"
	apperrors "github.com/target/portal-session/internal/errors"
	"github.com/target/portal-session/internal/service"
)

// AuthController is the session core as seen by the HTTP layer.
type AuthController interface {
	State() domainauth.AuthState
	EnsureIdentity(ctx context.Context) (domainauth.Identity, error)
	Prefetch(ctx context.Context)
	Login(ctx context.Context, req service.LoginRequest) service.LoginResult
	Logout(ctx context.Context) error
	ClearError()
	Hints(ctx context.Context) (domainauth.LoginHints, error)
}

var _ AuthController = (*service.AuthController)(nil)

// AuthHandlers provides HTTP handlers for authentication operations.
type AuthHandlers struct {
	Auth   AuthController
	Gate   domainauth.Gate
	Logger *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type statusResponse struct {
	Authenticated bool                  `json:"authenticated"`
	Admin         bool                  `json:"admin"`
	Loading       bool                  `json:"loading"`
	Identity      *domainauth.Identity  `json:"identity,omitempty"`
	Error         *domainauth.AuthError `json:"error,omitempty"`
}

func newStatusResponse(s domainauth.AuthState) statusResponse {
	return statusResponse{
		Authenticated: s.Authenticated(),
		Admin:         s.Authenticated() && s.HasPermission(domainauth.RoleAdmin),
		Loading:       s.Loading,
		Identity:      s.Identity,
		Error:         s.LastError,
	}
}

// Status returns the current auth snapshot.
// GET /auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, newStatusResponse(h.Auth.State()))
}

type loginRequestBody struct {
	Method       domainauth.LoginMethod `json:"method"`
	Contact      string                 `json:"contact"`
	Username     string                 `json:"username"`
	Password     string                 `json:"password"`
	Code         string                 `json:"code"`
	RememberMe   bool                   `json:"remember_me"`
	RequireAdmin bool                   `json:"require_admin"`
	RedirectTo   string                 `json:"redirect_to"`
}

type loginResponse struct {
	Success    bool                  `json:"success"`
	Identity   *domainauth.Identity  `json:"identity,omitempty"`
	Error      *domainauth.AuthError `json:"error,omitempty"`
	RedirectTo string                `json:"redirect_to,omitempty"`
}

// Login submits credentials from the regular or admin login view.
// POST /auth/login?redirect_uri=<optional_redirect>.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequestBody
	if !DecodeJSON(w, r, &body) {
		return
	}

	res := h.Auth.Login(r.Context(), service.LoginRequest{
		Credentials: domainauth.LoginCredentials{
			Method:   body.Method,
			Contact:  body.Contact,
			Username: body.Username,
			Password: body.Password,
			Code:     body.Code,
		},
		RequireAdmin: body.RequireAdmin,
		RememberMe:   body.RememberMe,
	})
	if !res.Success {
		WriteJSON(w, StatusForKind(res.Err.Kind), loginResponse{Error: res.Err})
		return
	}

	WriteJSON(w, http.StatusOK, loginResponse{
		Success:    true,
		Identity:   res.Identity,
		RedirectTo: loginDestination(body, r),
	})
}

// loginDestination preserves the originally requested page. Admin logins
// without one land on the admin area.
func loginDestination(body loginRequestBody, r *http.Request) string {
	candidate := body.RedirectTo
	if candidate == "" {
		candidate = r.URL.Query().Get("redirect_uri")
	}
	dest := domainauth.SafeRedirectPath(candidate)
	if dest == "/" && body.RequireAdmin {
		return "/admin/"
	}
	return dest
}

// Logout ends the session and clears login hints.
// POST /auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Auth.Logout(r.Context()); err != nil {
		h.logger().ErrorContext(r.Context(), "logout failed", "error", err, "code", apperrors.GetCode(err))
		p := ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "logout_failed",
			Err:     errors.New("session cleared in memory but could not be removed from storage"),
		}
		if apperrors.IsTransient(err) {
			w.Header().Set("Retry-After", "1")
			p.Code, p.ErrCode = http.StatusServiceUnavailable, "storage_unavailable"
		}
		WriteError(w, p)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearError dismisses the last auth error.
// POST /auth/clear-error.
func (h *AuthHandlers) ClearError(w http.ResponseWriter, _ *http.Request) {
	h.Auth.ClearError()
	w.WriteHeader(http.StatusNoContent)
}

// Identity resolves the device identity for flows that need one before any
// login, such as purchasing a voucher.
// POST /auth/identity.
func (h *AuthHandlers) Identity(w http.ResponseWriter, r *http.Request) {
	id, err := h.Auth.EnsureIdentity(r.Context())
	if err != nil {
		ae := domainauth.Classify(err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			ae = domainauth.NewAuthError(domainauth.KindNetworkFailure, "Still setting up this device. Please try again.", err)
		}
		w.Header().Set("Retry-After", "1")
		WriteAuthError(w, ae)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"identity": id})
}

type hintsResponse struct {
	RememberedContact string `json:"remembered_contact,omitempty"`
	RememberMe        bool   `json:"remember_me"`
}

// Hints returns remembered login-form fields.
// GET /auth/hints.
func (h *AuthHandlers) Hints(w http.ResponseWriter, r *http.Request) {
	hints, err := h.Auth.Hints(r.Context())
	if err != nil {
		h.logger().WarnContext(r.Context(), "load login hints", "error", err)
		hints = domainauth.LoginHints{}
	}
	WriteJSON(w, http.StatusOK, hintsResponse{RememberedContact: hints.RememberedContact, RememberMe: hints.RememberMe})
}

// LoginPage tells callers where and how to sign in.
// GET /login?redirect_uri=<optional_redirect>.
func (h *AuthHandlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	redirect := domainauth.SafeRedirectPath(r.URL.Query().Get("redirect_uri"))
	if IsBrowserRequest(r) {
		writeText(w, http.StatusOK, fmt.Sprintf("Sign in to continue to %s.\n", redirect))
		return
	}
	s := h.Auth.State()
	WriteJSON(w, http.StatusOK, map[string]any{
		"login_required": !s.Authenticated() || s.Identity.IsGuest,
		"redirect_uri":   redirect,
		"methods": []domainauth.LoginMethod{
			domainauth.LoginPassword, domainauth.LoginTransactionCode, domainauth.LoginUsername,
		},
		"error": s.LastError,
	})
}

// Unauthorized explains that the signed-in identity lacks the required role.
// GET /unauthorized.
func (h *AuthHandlers) Unauthorized(w http.ResponseWriter, r *http.Request) {
	const msg = "You do not have access to this page."
	if IsBrowserRequest(r) {
		writeText(w, http.StatusForbidden, msg+"\n")
		return
	}
	WriteError(w, ErrorParams{Code: http.StatusForbidden, ErrCode: "insufficient_permissions", Err: errors.New(msg)})
}

// Page renders a protected area for the identity admitted by Gate.
func (h *AuthHandlers) Page(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, _ := GetAuthStateFromContext(r.Context())
		if IsBrowserRequest(r) {
			name := "guest"
			if s.Identity != nil && !s.Identity.IsGuest {
				name = s.Identity.ID
			}
			writeText(w, http.StatusOK, fmt.Sprintf("%s\nSigned in as %s.\n", title, name))
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"page": title, "identity": s.Identity})
	}
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
