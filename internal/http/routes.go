package httpx

import (
	"log/slog"
	"net/http"

	domainauth "github.com/target/portal-session/internal/domain/auth"
)

// ProtectedRoute is a gated area and the title its page renders.
type ProtectedRoute struct {
	domainauth.Route
	Title string
}

// DefaultProtectedRoutes are the portal's gated areas.
func DefaultProtectedRoutes() []ProtectedRoute {
	return []ProtectedRoute{
		{Route: domainauth.Route{Path: "/portal/", RequiredRole: domainauth.RoleUser, RequireAuth: true}, Title: "Portal"},
		{Route: domainauth.Route{Path: "/account/", RequiredRole: domainauth.RoleUser, RequireRegistered: true}, Title: "Account"},
		{Route: domainauth.Route{Path: "/moderation/", RequiredRole: domainauth.RoleModerator}, Title: "Moderation"},
		{Route: domainauth.Route{Path: "/admin/", RequiredRole: domainauth.RoleAdmin}, Title: "Administration"},
	}
}

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Auth   AuthController
	Paths  domainauth.GatePaths
	Routes []ProtectedRoute // optional, defaults to DefaultProtectedRoutes
	Logger *slog.Logger     // optional

	// PortalAPI is mounted under /api/ when set (dev backend only).
	PortalAPI http.Handler
}

// NewRouter creates and configures the HTTP router with its middleware chain.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gate := domainauth.NewGate(services.Paths)
	routes := services.Routes
	if routes == nil {
		routes = DefaultProtectedRoutes()
	}

	mux := http.NewServeMux()
	h := &AuthHandlers{Auth: services.Auth, Gate: gate, Logger: logger}

	health := healthHandler(services.Auth)
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)

	registerAuthRoutes(mux, h)
	loginPath, unauthorizedPath := services.Paths.Login, services.Paths.Unauthorized
	if loginPath == "" {
		loginPath = domainauth.DefaultLoginPath
	}
	if unauthorizedPath == "" {
		unauthorizedPath = domainauth.DefaultUnauthorizedPath
	}
	mux.HandleFunc("GET "+loginPath, h.LoginPage)
	mux.HandleFunc("GET "+unauthorizedPath, h.Unauthorized)

	if services.PortalAPI != nil {
		mux.Handle("/api/", services.PortalAPI)
	}

	for _, pr := range routes {
		mux.Handle("GET "+pr.Path, Gate(services.Auth, gate, pr.Route)(h.Page(pr.Title)))
	}

	var handler http.Handler = mux
	handler = BrowserDetection()(handler)
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return RequestID()(handler)
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers) {
	mux.HandleFunc("GET /auth/status", h.Status)
	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("POST /auth/clear-error", h.ClearError)
	mux.HandleFunc("POST /auth/identity", h.Identity)
	mux.HandleFunc("GET /auth/hints", h.Hints)
}
