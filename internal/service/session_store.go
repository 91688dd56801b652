package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	domainauth "github.com/target/portal-session/internal/domain/auth"
	"github.com/target/portal-session/internal/ports"
)

// Persisted key names. The KV adapter applies its own namespace prefix.
const (
	KeyUser              = "user"
	KeyToken             = "token"
	KeyRememberedContact = "remembered_contact"
	KeyRememberMe        = "remember_me"
)

// SessionStoreOptions groups dependencies for SessionStore.
type SessionStoreOptions struct {
	KV     ports.KVStore
	Logger *slog.Logger
	Now    func() time.Time // optional, defaults to time.Now
}

// SessionStore persists the (Identity, Credential) pair and the login hints.
// The pair is always written and cleared with one KV call so no reader can
// observe half of it.
type SessionStore struct {
	kv     ports.KVStore
	logger *slog.Logger
	now    func() time.Time
}

var errIncompleteSession = errors.New("session requires both identity and credential")

// NewSessionStore constructs a SessionStore.
func NewSessionStore(opts SessionStoreOptions) *SessionStore {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SessionStore{
		kv:     opts.KV,
		logger: logger.With("component", "session_store"),
		now:    now,
	}
}

// Load reads the persisted pair. It reports found=false when nothing usable
// is stored. One-sided, unparseable or expired entries are purged and also
// reported as not found; only storage failures are returned as errors.
func (s *SessionStore) Load(ctx context.Context) (domainauth.Session, bool, error) {
	vals, err := s.kv.Get(ctx, KeyUser, KeyToken)
	if err != nil {
		return domainauth.Session{}, false, fmt.Errorf("load session: %w", err)
	}

	rawUser, hasUser := vals[KeyUser]
	rawToken, hasToken := vals[KeyToken]
	if !hasUser && !hasToken {
		return domainauth.Session{}, false, nil
	}

	sess, reason := s.decode(rawUser, rawToken, hasUser && hasToken)
	if reason != "" {
		s.purge(ctx, reason)
		return domainauth.Session{}, false, nil
	}
	return sess, true, nil
}

// decode returns the session or a non-empty reason it cannot be used.
func (s *SessionStore) decode(rawUser, rawToken string, both bool) (domainauth.Session, string) {
	if !both {
		return domainauth.Session{}, "one-sided pair"
	}

	var ident domainauth.Identity
	if err := json.Unmarshal([]byte(rawUser), &ident); err != nil {
		return domainauth.Session{}, "unparseable identity"
	}
	ident.Role = domainauth.ParseRole(string(ident.Role))

	sess := domainauth.Session{Identity: ident, Credential: domainauth.Credential(rawToken)}
	if !sess.Complete() {
		return domainauth.Session{}, "incomplete pair"
	}
	if s.expired(sess.Credential) {
		return domainauth.Session{}, "expired credential"
	}
	return sess, ""
}

// expired reports whether a JWT-shaped credential carries an exp in the past.
// Opaque tokens and JWTs without exp are never considered expired.
func (s *SessionStore) expired(cred domainauth.Credential) bool {
	tok := cred.String()
	if strings.Count(tok, ".") != 2 {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(s.now())
}

func (s *SessionStore) purge(ctx context.Context, reason string) {
	s.logger.WarnContext(ctx, "discarding persisted session",
		"reason", reason,
		"error", domainauth.ErrCorruptState)
	if err := s.Clear(ctx); err != nil {
		s.logger.ErrorContext(ctx, "purge persisted session", "error", err)
	}
}

// Save replaces the persisted pair in a single write.
func (s *SessionStore) Save(ctx context.Context, sess domainauth.Session) error {
	if !sess.Complete() {
		return errIncompleteSession
	}
	raw, err := json.Marshal(sess.Identity)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := s.kv.Set(ctx, map[string]string{
		KeyUser:  string(raw),
		KeyToken: sess.Credential.String(),
	}); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear removes the persisted pair in a single delete.
func (s *SessionStore) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyUser, KeyToken); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// ClearAll removes the pair and the login hints in a single delete.
func (s *SessionStore) ClearAll(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyUser, KeyToken, KeyRememberedContact, KeyRememberMe); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Hints returns the remembered login-form fields. Missing or malformed
// values read as zero values.
func (s *SessionStore) Hints(ctx context.Context) (domainauth.LoginHints, error) {
	vals, err := s.kv.Get(ctx, KeyRememberedContact, KeyRememberMe)
	if err != nil {
		return domainauth.LoginHints{}, fmt.Errorf("load hints: %w", err)
	}
	remember, _ := strconv.ParseBool(vals[KeyRememberMe])
	return domainauth.LoginHints{
		RememberedContact: vals[KeyRememberedContact],
		RememberMe:        remember,
	}, nil
}

// SaveHints stores the login-form fields.
func (s *SessionStore) SaveHints(ctx context.Context, h domainauth.LoginHints) error {
	if err := s.kv.Set(ctx, map[string]string{
		KeyRememberedContact: h.RememberedContact,
		KeyRememberMe:        strconv.FormatBool(h.RememberMe),
	}); err != nil {
		return fmt.Errorf("save hints: %w", err)
	}
	return nil
}

// ClearHints removes the login-form fields.
func (s *SessionStore) ClearHints(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyRememberedContact, KeyRememberMe); err != nil {
		return fmt.Errorf("clear hints: %w", err)
	}
	return nil
}
