// Package devauth provides an in-memory, config-driven portal backend for
// local development and tests. It issues HS256 bearer tokens and keeps guest
// records keyed by device fingerprint.
package devauth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	domainauth "github.com/target/portal-session/internal/domain/auth"
	"github.com/target/portal-session/internal/ports"
)

const issuer = "portal-dev"

// Account is a registered dev login.
type Account struct {
	Username string
	Password string
	Role     domainauth.Role
	Phone    string
}

// Config controls the dev backend behavior.
type Config struct {
	Accounts []Account
	// TransactionCodes maps a payment confirmation code to the payer's phone.
	TransactionCodes map[string]string
	// Secret signs issued tokens. A random secret is generated when empty.
	Secret   []byte
	TokenTTL time.Duration    // default 8h when zero
	Now      func() time.Time // optional, defaults to time.Now
}

// Provider implements ports.Backend entirely in memory.
type Provider struct {
	accounts map[string]Account
	codes    map[string]string
	secret   []byte
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	guests  map[string]domainauth.Identity
	revoked map[string]struct{}
}

var _ ports.Backend = (*Provider)(nil)

type claims struct {
	Role    domainauth.Role `json:"role"`
	Guest   bool            `json:"guest,omitempty"`
	Contact string          `json:"contact,omitempty"`
	jwt.RegisteredClaims
}

// NewProvider constructs a dev backend from Config.
func NewProvider(cfg Config) (*Provider, error) {
	secret := cfg.Secret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("dev auth: generate secret: %w", err)
		}
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	accounts := make(map[string]Account, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		name := strings.ToLower(strings.TrimSpace(a.Username))
		if name == "" || a.Password == "" {
			return nil, errors.New("dev auth: account username and password are required")
		}
		if _, dup := accounts[name]; dup {
			return nil, fmt.Errorf("dev auth: duplicate account %q", a.Username)
		}
		a.Role = domainauth.ParseRole(string(a.Role))
		accounts[name] = a
	}

	codes := make(map[string]string, len(cfg.TransactionCodes))
	for code, phone := range cfg.TransactionCodes {
		codes[strings.ToUpper(strings.TrimSpace(code))] = strings.TrimSpace(phone)
	}

	return &Provider{
		accounts: accounts,
		codes:    codes,
		secret:   secret,
		ttl:      ttl,
		now:      now,
		guests:   make(map[string]domainauth.Identity),
		revoked:  make(map[string]struct{}),
	}, nil
}

// ProvisionGuest returns the guest record for deviceKey, creating it on first use.
// Every call issues a fresh token for the same identity.
func (p *Provider) ProvisionGuest(_ context.Context, deviceKey string) (domainauth.Grant, error) {
	key := strings.TrimSpace(deviceKey)
	if key == "" {
		return domainauth.Grant{}, errors.New("device key is required")
	}

	p.mu.Lock()
	id, ok := p.guests[key]
	if !ok {
		id = domainauth.Identity{ID: "guest-" + uuid.NewString(), Role: domainauth.RoleUser, IsGuest: true}
		p.guests[key] = id
	}
	p.mu.Unlock()

	return p.issue(id)
}

// Login checks creds against the configured accounts and transaction codes.
func (p *Provider) Login(_ context.Context, creds domainauth.LoginCredentials) (domainauth.Grant, error) {
	if err := creds.Validate(); err != nil {
		return domainauth.Grant{}, fmt.Errorf("%w: %w", domainauth.ErrInvalidCredentials, err)
	}

	switch creds.Method {
	case domainauth.LoginTransactionCode:
		phone, ok := p.codes[strings.ToUpper(strings.TrimSpace(creds.Code))]
		if !ok {
			return domainauth.Grant{}, rejected("Unknown transaction code.")
		}
		return p.issue(domainauth.Identity{ID: stableID("phone", phone), Role: domainauth.RoleUser, Contact: phone})
	case domainauth.LoginPassword:
		acct, ok := p.accountByContact(creds.Contact)
		if !ok || acct.Password != creds.Password {
			return domainauth.Grant{}, rejected("Wrong phone number or password.")
		}
		return p.issue(acct.identity(acct.Phone))
	default:
		acct, ok := p.accounts[strings.ToLower(strings.TrimSpace(creds.Username))]
		if !ok || acct.Password != creds.Password {
			return domainauth.Grant{}, rejected("Wrong username or password.")
		}
		return p.issue(acct.identity(acct.Username))
	}
}

func rejected(msg string) error {
	return domainauth.NewAuthError(domainauth.KindInvalidCredentials, msg, domainauth.ErrInvalidCredentials)
}

func (p *Provider) accountByContact(contact string) (Account, bool) {
	contact = strings.TrimSpace(contact)
	for _, a := range p.accounts {
		if a.Phone != "" && a.Phone == contact {
			return a, true
		}
	}
	a, ok := p.accounts[strings.ToLower(contact)]
	return a, ok
}

func (a Account) identity(contact string) domainauth.Identity {
	return domainauth.Identity{ID: stableID("account", strings.ToLower(a.Username)), Role: a.Role, Contact: contact}
}

// Logout revokes the token. Unknown or tampered tokens are rejected.
func (p *Provider) Logout(_ context.Context, credential domainauth.Credential) error {
	c, err := p.parse(credential.String())
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.revoked[c.ID] = struct{}{}
	p.mu.Unlock()
	return nil
}

// Verify returns the identity a live, unrevoked token was issued for.
func (p *Provider) Verify(credential domainauth.Credential) (domainauth.Identity, error) {
	c, err := p.parse(credential.String())
	if err != nil {
		return domainauth.Identity{}, err
	}
	p.mu.Lock()
	_, revoked := p.revoked[c.ID]
	p.mu.Unlock()
	if revoked {
		return domainauth.Identity{}, fmt.Errorf("%w: token revoked", domainauth.ErrInvalidCredentials)
	}
	return domainauth.Identity{ID: c.Subject, Role: c.Role, Contact: c.Contact, IsGuest: c.Guest}, nil
}

func (p *Provider) issue(id domainauth.Identity) (domainauth.Grant, error) {
	now := p.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:    id.Role,
		Guest:   id.IsGuest,
		Contact: id.Contact,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	})
	signed, err := tok.SignedString(p.secret)
	if err != nil {
		return domainauth.Grant{}, fmt.Errorf("sign token: %w", err)
	}
	return domainauth.Grant{Identity: id, Credential: domainauth.Credential(signed)}, nil
}

func (p *Provider) parse(raw string) (*claims, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(raw, c, func(*jwt.Token) (any, error) { return p.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domainauth.ErrInvalidCredentials, err)
	}
	return c, nil
}

// stableID derives a deterministic identity id so restarts keep ids stable.
func stableID(kind, name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+":"+name)).String()
}

// ParseAccounts parses "user:password:ROLE[:phone]" entries separated by ';'.
func ParseAccounts(s string) ([]Account, error) {
	var out []Account
	for _, entry := range splitEntries(s) {
		parts := strings.Split(entry, ":")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("invalid dev account %q: want user:password:ROLE[:phone]", entry)
		}
		role := domainauth.Role(strings.ToUpper(strings.TrimSpace(parts[2])))
		if !role.Valid() {
			return nil, fmt.Errorf("invalid dev account %q: unknown role %q", parts[0], parts[2])
		}
		a := Account{Username: strings.TrimSpace(parts[0]), Password: parts[1], Role: role}
		if len(parts) == 4 {
			a.Phone = strings.TrimSpace(parts[3])
		}
		out = append(out, a)
	}
	return out, nil
}

// ParseTransactionCodes parses "CODE:phone" entries separated by ';'.
func ParseTransactionCodes(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, entry := range splitEntries(s) {
		code, phone, ok := strings.Cut(entry, ":")
		if !ok || strings.TrimSpace(code) == "" || strings.TrimSpace(phone) == "" {
			return nil, fmt.Errorf("invalid transaction code entry %q: want CODE:phone", entry)
		}
		out[strings.TrimSpace(code)] = strings.TrimSpace(phone)
	}
	return out, nil
}

func splitEntries(s string) []string {
	var out []string
	for _, e := range strings.Split(s, ";") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}
