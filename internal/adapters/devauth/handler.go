package devauth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	domainauth "github.com/target/portal-session/internal/domain/auth"
)

// Handler serves the reference portal API routes backed by p, so the HTTP
// backend client can run against a local portal.
func (p *Provider) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/guest", p.handleGuest)
	mux.HandleFunc("POST /api/auth/login", p.handleLogin(domainauth.LoginPassword))
	mux.HandleFunc("POST /api/auth/transaction-login", p.handleLogin(domainauth.LoginTransactionCode))
	mux.HandleFunc("POST /api/auth/admin-login", p.handleLogin(domainauth.LoginUsername))
	mux.HandleFunc("POST /api/auth/logout", p.handleLogout)
	mux.HandleFunc("GET /api/auth/me", p.handleMe)
	return mux
}

type userBody struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Phone    string `json:"phone,omitempty"`
	Username string `json:"username,omitempty"`
	IsGuest  bool   `json:"is_guest"`
}

func toUserBody(id domainauth.Identity) userBody {
	b := userBody{ID: id.ID, Role: strings.ToLower(string(id.Role)), IsGuest: id.IsGuest}
	if strings.HasPrefix(id.Contact, "+") || strings.Trim(id.Contact, "0123456789") == "" {
		b.Phone = id.Contact
	} else {
		b.Username = id.Contact
	}
	return b
}

func (p *Provider) handleGuest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DeviceKey string `json:"device_key"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)
	if in.DeviceKey == "" {
		in.DeviceKey = r.Header.Get("X-Device-Key")
	}
	grant, err := p.ProvisionGuest(r.Context(), in.DeviceKey)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	writeGrant(w, grant)
}

func (p *Provider) handleLogin(method domainauth.LoginMethod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Phone    string `json:"phone"`
			Username string `json:"username"`
			Password string `json:"password"`
			Code     string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Malformed request body."})
			return
		}
		grant, err := p.Login(r.Context(), domainauth.LoginCredentials{
			Method:   method,
			Contact:  in.Phone,
			Username: in.Username,
			Password: in.Password,
			Code:     in.Code,
		})
		if err != nil {
			writeAuthError(w, err)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     "portal_sid",
			Value:    grant.Identity.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		writeGrant(w, grant)
	}
}

func (p *Provider) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := p.Logout(r.Context(), bearer(r)); err != nil {
		writeAuthError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "portal_sid", Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (p *Provider) handleMe(w http.ResponseWriter, r *http.Request) {
	id, err := p.Verify(bearer(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserBody(id)})
}

func bearer(r *http.Request) domainauth.Credential {
	h := r.Header.Get("Authorization")
	if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
		return domainauth.Credential(strings.TrimSpace(tok))
	}
	return ""
}

func writeGrant(w http.ResponseWriter, g domainauth.Grant) {
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  toUserBody(g.Identity),
		"token": g.Credential.String(),
	})
}

func writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, domainauth.ErrInvalidCredentials) {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]string{"message": domainauth.Classify(err).Message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
