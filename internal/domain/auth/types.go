// Package auth contains domain-level types for device identity, sessions and
// authorization. It is pure and free of framework/adapter concerns.
package auth

import (
	"errors"
	"strings"
)

// Identity is either a device-scoped guest or a registered principal.
// Role and Contact only change when the backend returns a fresh grant.
type Identity struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Contact string `json:"contact,omitempty"` // phone number or username
	IsGuest bool   `json:"is_guest"`
}

// Validate reports whether the identity is well formed enough to adopt.
func (i Identity) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return errors.New("identity id is required")
	}
	return nil
}

// Credential is the opaque bearer token issued by the backend.
type Credential string

// String returns the raw token.
func (c Credential) String() string { return string(c) }

// Empty reports whether the credential carries no token.
func (c Credential) Empty() bool { return strings.TrimSpace(string(c)) == "" }

// Session is the persisted (Identity, Credential) pair. Both halves are
// written and cleared together.
type Session struct {
	Identity   Identity
	Credential Credential
}

// Complete reports whether both halves are present and usable.
func (s Session) Complete() bool {
	return s.Identity.Validate() == nil && !s.Credential.Empty()
}

// Grant is what the backend returns from guest provisioning or login.
type Grant struct {
	Identity   Identity
	Credential Credential
}

// Session converts a grant into the pair persisted by the session store.
func (g Grant) Session() Session {
	return Session{Identity: g.Identity, Credential: g.Credential}
}

// LoginHints are remembered login-form fields. They are cosmetic and never
// used for authorization decisions.
type LoginHints struct {
	RememberedContact string
	RememberMe        bool
}

// LoginMethod selects which backend login endpoint is used.
type LoginMethod string

const (
	// LoginPassword authenticates with a contact (phone) and password.
	LoginPassword LoginMethod = "password"
	// LoginTransactionCode authenticates with a one-time payment confirmation code.
	LoginTransactionCode LoginMethod = "transaction_code"
	// LoginUsername authenticates a registered account with username and password.
	LoginUsername LoginMethod = "username"
)

// LoginCredentials carries one of the three supported credential shapes.
type LoginCredentials struct {
	Method   LoginMethod `json:"method"`
	Contact  string      `json:"contact,omitempty"`
	Username string      `json:"username,omitempty"`
	Password string      `json:"password,omitempty"`
	Code     string      `json:"code,omitempty"`
}

// Validate checks that the fields required by Method are present.
func (c LoginCredentials) Validate() error {
	switch c.Method {
	case LoginPassword:
		if strings.TrimSpace(c.Contact) == "" || c.Password == "" {
			return errors.New("contact and password are required")
		}
	case LoginUsername:
		if strings.TrimSpace(c.Username) == "" || c.Password == "" {
			return errors.New("username and password are required")
		}
	case LoginTransactionCode:
		if strings.TrimSpace(c.Code) == "" {
			return errors.New("transaction code is required")
		}
	default:
		return errors.New("unsupported login method")
	}
	return nil
}

// HintContact returns the contact worth remembering for the login form.
func (c LoginCredentials) HintContact() string {
	if c.Method == LoginUsername {
		return strings.TrimSpace(c.Username)
	}
	return strings.TrimSpace(c.Contact)
}
