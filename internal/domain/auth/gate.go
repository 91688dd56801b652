package auth

import (
	"net/url"
	"strings"
)

// AuthState is a read-only snapshot of the controller's auth state.
type AuthState struct {
	Identity   *Identity  `json:"identity,omitempty"`
	Credential Credential `json:"-"`
	Loading    bool       `json:"loading"`
	LastError  *AuthError `json:"error,omitempty"`
	Epoch      uint64     `json:"-"`
}

// Authenticated is true only when both identity and credential are present.
// A guest identity without a credential does not count.
func (s AuthState) Authenticated() bool {
	return s.Identity != nil && s.Identity.Validate() == nil && !s.Credential.Empty()
}

// Role returns the identity's role, or RoleUser when no identity is present.
func (s AuthState) Role() Role {
	if s.Identity == nil {
		return RoleUser
	}
	return s.Identity.Role
}

// HasPermission reports whether the current identity satisfies required.
func (s AuthState) HasPermission(required Role) bool {
	if s.Identity == nil {
		return false
	}
	return Satisfies(s.Identity.Role, required)
}

// Outcome is the result of evaluating a route against the auth state.
type Outcome string

const (
	OutcomeLoading                Outcome = "LOADING"
	OutcomeDeniedUnauthenticated  Outcome = "DENIED_UNAUTHENTICATED"
	OutcomeDeniedInsufficientRole Outcome = "DENIED_INSUFFICIENT_ROLE"
	OutcomeAllowed                Outcome = "ALLOWED"
)

// Default navigation targets for denied outcomes.
const (
	DefaultLoginPath        = "/login"
	DefaultUnauthorizedPath = "/unauthorized"
)

// Route describes a protected view.
type Route struct {
	Path         string
	RequiredRole Role
	// RequireAuth demands a credential even when RequiredRole is RoleUser.
	RequireAuth bool
	// RequireRegistered additionally turns guests away to the login view.
	RequireRegistered bool
}

// Decision is the gate verdict plus where to navigate for denied outcomes.
type Decision struct {
	Outcome    Outcome
	RedirectTo string
}

// GatePaths configures the navigation targets of a Gate.
type GatePaths struct {
	Login        string
	Unauthorized string
}

// Gate evaluates protected navigations. It has no side effects.
type Gate struct {
	paths GatePaths
}

// NewGate builds a gate, falling back to the default paths.
func NewGate(paths GatePaths) Gate {
	if paths.Login == "" {
		paths.Login = DefaultLoginPath
	}
	if paths.Unauthorized == "" {
		paths.Unauthorized = DefaultUnauthorizedPath
	}
	return Gate{paths: paths}
}

// Evaluate never yields a redirect while the state is loading.
func (g Gate) Evaluate(state AuthState, route Route) Decision {
	if state.Loading {
		return Decision{Outcome: OutcomeLoading}
	}

	needsAuth := route.RequireAuth || route.RequireRegistered || Rank(route.RequiredRole) > Rank(RoleUser)
	guestOnly := route.RequireRegistered && (state.Identity == nil || state.Identity.IsGuest)
	if (needsAuth && !state.Authenticated()) || guestOnly {
		return Decision{
			Outcome:    OutcomeDeniedUnauthenticated,
			RedirectTo: g.LoginURL(route.Path),
		}
	}

	// USER is the floor of the hierarchy; only higher requirements need a role check.
	if Rank(route.RequiredRole) > Rank(RoleUser) && !state.HasPermission(route.RequiredRole) {
		return Decision{Outcome: OutcomeDeniedInsufficientRole, RedirectTo: g.paths.Unauthorized}
	}

	return Decision{Outcome: OutcomeAllowed}
}

// Evaluate uses the default gate paths.
func Evaluate(state AuthState, route Route) Decision {
	return NewGate(GatePaths{}).Evaluate(state, route)
}

// LoginURL returns the login path carrying the originally requested destination.
func (g Gate) LoginURL(requested string) string {
	u := url.URL{Path: g.paths.Login}
	q := url.Values{}
	q.Set("redirect_uri", SafeRedirectPath(requested))
	u.RawQuery = q.Encode()
	return u.String()
}

// SafeRedirectPath ensures the provided redirect is a same-origin relative path
// starting with "/" and not an absolute URL. Returns "/" when invalid.
func SafeRedirectPath(candidate string) string {
	if candidate == "" {
		return "/"
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") ||
		strings.HasPrefix(candidate, "//") {
		return "/"
	}
	return candidate
}
