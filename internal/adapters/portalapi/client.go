// Package portalapi implements ports.Backend against the captive portal's
// HTTP API. Response shapes vary between portal deployments, so identity,
// token and error fields are located with configurable JMESPath expressions.
package portalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jmespath "github.com/jmespath-community/go-jmespath"
	domainauth "github.com/target/portal-session/internal/domain/auth"
	"github.com/target/portal-session/internal/ports"
	"golang.org/x/net/publicsuffix"
)

// Default JMESPath expressions for the reference portal API.
const (
	DefaultIdentityPath = "user || data.user"
	DefaultTokenPath    = "token || access_token || data.token"
	DefaultErrorPath    = "message || error.message || error"
	DefaultIDPath       = "id || _id || uuid"
	DefaultRolePath     = "role || roles[0]"
	DefaultContactPath  = "phone || username || contact"
)

const maxResponseBytes = 1 << 20

// Endpoints holds the request paths relative to BaseURL.
type Endpoints struct {
	Guest           string
	PasswordLogin   string
	CodeLogin       string
	UsernameLogin   string
	Logout          string
	DeviceKeyHeader string
}

// DefaultEndpoints returns the reference portal API routes.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Guest:           "/api/auth/guest",
		PasswordLogin:   "/api/auth/login",
		CodeLogin:       "/api/auth/transaction-login",
		UsernameLogin:   "/api/auth/admin-login",
		Logout:          "/api/auth/logout",
		DeviceKeyHeader: "X-Device-Key",
	}
}

// Paths are the JMESPath expressions used to read responses.
type Paths struct {
	Identity string // locates the identity object in a success body
	Token    string // locates the bearer token in a success body
	Error    string // locates a displayable message in an error body
	ID       string // relative to the identity object
	Role     string // relative to the identity object
	Contact  string // relative to the identity object
}

func (p Paths) withDefaults() Paths {
	def := func(v, d string) string {
		if strings.TrimSpace(v) == "" {
			return d
		}
		return v
	}
	return Paths{
		Identity: def(p.Identity, DefaultIdentityPath),
		Token:    def(p.Token, DefaultTokenPath),
		Error:    def(p.Error, DefaultErrorPath),
		ID:       def(p.ID, DefaultIDPath),
		Role:     def(p.Role, DefaultRolePath),
		Contact:  def(p.Contact, DefaultContactPath),
	}
}

func (p Paths) validate() error {
	for name, expr := range map[string]string{
		"identity": p.Identity, "token": p.Token, "error": p.Error,
		"id": p.ID, "role": p.Role, "contact": p.Contact,
	} {
		if _, err := jmespath.Compile(expr); err != nil {
			return fmt.Errorf("invalid %s JMESPath %q: %w", name, expr, err)
		}
	}
	return nil
}

// Config holds configuration for the portal API client.
type Config struct {
	BaseURL    string
	Endpoints  Endpoints
	Paths      Paths
	Roles      ports.RoleMapper // optional, defaults to domainauth.ParseRole
	Timeout    time.Duration    // per request, defaults to 10s
	HTTPClient *http.Client     // optional; a cookie jar is attached when it has none
	Logger     *slog.Logger
}

// Client implements ports.Backend over HTTP.
type Client struct {
	base      *url.URL
	endpoints Endpoints
	paths     Paths
	roles     ports.RoleMapper
	http      *http.Client
	logger    *slog.Logger
}

var _ ports.Backend = (*Client)(nil)

type parseRoleMapper struct{}

func (parseRoleMapper) Map(raw string) domainauth.Role { return domainauth.ParseRole(raw) }

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL scheme: %s", base.Scheme)
	}
	if base.Host == "" {
		return nil, errors.New("invalid base URL: missing host")
	}

	paths := cfg.Paths.withDefaults()
	if err := paths.validate(); err != nil {
		return nil, err
	}

	hc, err := resolveHTTPClient(cfg.HTTPClient, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	endpoints := cfg.Endpoints
	if endpoints == (Endpoints{}) {
		endpoints = DefaultEndpoints()
	}

	roles := cfg.Roles
	if roles == nil {
		roles = parseRoleMapper{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:      base,
		endpoints: endpoints,
		paths:     paths,
		roles:     roles,
		http:      hc,
		logger:    logger.With("component", "portal_api"),
	}, nil
}

func resolveHTTPClient(hc *http.Client, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	} else {
		cp := *hc
		hc = &cp
	}
	if hc.Jar == nil {
		// The portal pairs its bearer token with a session cookie; logout needs both.
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		hc.Jar = jar
	}
	return hc, nil
}

// ProvisionGuest requests the guest record for deviceKey.
func (c *Client) ProvisionGuest(ctx context.Context, deviceKey string) (domainauth.Grant, error) {
	if strings.TrimSpace(deviceKey) == "" {
		return domainauth.Grant{}, errors.New("device key is required")
	}
	headers := map[string]string{}
	if c.endpoints.DeviceKeyHeader != "" {
		headers[c.endpoints.DeviceKeyHeader] = deviceKey
	}
	body := map[string]string{"device_key": deviceKey}
	grant, err := c.grant(ctx, c.endpoints.Guest, body, headers)
	if err != nil {
		return domainauth.Grant{}, fmt.Errorf("provision guest: %w", err)
	}
	grant.Identity.IsGuest = true
	return grant, nil
}

// Login exchanges credentials for a grant using the endpoint for creds.Method.
func (c *Client) Login(ctx context.Context, creds domainauth.LoginCredentials) (domainauth.Grant, error) {
	if err := creds.Validate(); err != nil {
		return domainauth.Grant{}, fmt.Errorf("%w: %w", domainauth.ErrInvalidCredentials, err)
	}

	var (
		path string
		body map[string]string
	)
	switch creds.Method {
	case domainauth.LoginPassword:
		path = c.endpoints.PasswordLogin
		body = map[string]string{"phone": strings.TrimSpace(creds.Contact), "password": creds.Password}
	case domainauth.LoginTransactionCode:
		path = c.endpoints.CodeLogin
		body = map[string]string{"code": strings.TrimSpace(creds.Code)}
	case domainauth.LoginUsername:
		path = c.endpoints.UsernameLogin
		body = map[string]string{"username": strings.TrimSpace(creds.Username), "password": creds.Password}
	}

	grant, err := c.grant(ctx, path, body, nil)
	if err != nil {
		return domainauth.Grant{}, fmt.Errorf("login (%s): %w", creds.Method, err)
	}
	grant.Identity.IsGuest = false
	return grant, nil
}

// Logout tells the portal the credential is no longer in use.
func (c *Client) Logout(ctx context.Context, credential domainauth.Credential) error {
	headers := map[string]string{}
	if !credential.Empty() {
		headers["Authorization"] = "Bearer " + credential.String()
	}
	status, raw, err := c.do(ctx, c.endpoints.Logout, struct{}{}, headers)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("logout: %w", c.statusError(status, raw))
	}
	return nil
}

func (c *Client) grant(ctx context.Context, path string, body any, headers map[string]string) (domainauth.Grant, error) {
	status, raw, err := c.do(ctx, path, body, headers)
	if err != nil {
		return domainauth.Grant{}, err
	}
	if status >= http.StatusBadRequest {
		return domainauth.Grant{}, c.statusError(status, raw)
	}
	return c.decodeGrant(raw)
}

func (c *Client) do(ctx context.Context, path string, body any, headers map[string]string) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", domainauth.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %w", domainauth.ErrNetworkFailure, err)
	}
	c.logger.DebugContext(ctx, "portal api call",
		"path", u.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())
	return resp.StatusCode, raw, nil
}

// statusError classifies a non-2xx response. Client errors mean the portal
// rejected the credentials; everything else is treated as unreachable.
func (c *Client) statusError(status int, raw []byte) error {
	msg := c.errorMessage(raw)
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusUnprocessableEntity:
		if msg == "" {
			return fmt.Errorf("%w: status %d", domainauth.ErrInvalidCredentials, status)
		}
		return domainauth.NewAuthError(domainauth.KindInvalidCredentials, msg,
			fmt.Errorf("%w: status %d", domainauth.ErrInvalidCredentials, status))
	default:
		return fmt.Errorf("%w: status %d", domainauth.ErrNetworkFailure, status)
	}
}

func (c *Client) errorMessage(raw []byte) string {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return ""
	}
	v, err := jmespath.Search(c.paths.Error, data)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func (c *Client) decodeGrant(raw []byte) (domainauth.Grant, error) {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return domainauth.Grant{}, fmt.Errorf("%w: decode response: %w", domainauth.ErrNetworkFailure, err)
	}

	token := searchString(c.paths.Token, data)
	identity, err := jmespath.Search(c.paths.Identity, data)
	if err != nil || identity == nil {
		return domainauth.Grant{}, fmt.Errorf("%w: response has no identity", domainauth.ErrNetworkFailure)
	}

	grant := domainauth.Grant{
		Identity: domainauth.Identity{
			ID:      searchString(c.paths.ID, identity),
			Role:    c.roles.Map(searchString(c.paths.Role, identity)),
			Contact: searchString(c.paths.Contact, identity),
		},
		Credential: domainauth.Credential(token),
	}
	if !grant.Session().Complete() {
		return domainauth.Grant{}, fmt.Errorf("%w: response missing identity id or token", domainauth.ErrNetworkFailure)
	}
	return grant, nil
}

// searchString evaluates expr and renders scalar results as strings.
func searchString(expr string, data any) string {
	v, err := jmespath.Search(expr, data)
	if err != nil || v == nil {
		return ""
	}
	switch tv := v.(type) {
	case string:
		return strings.TrimSpace(tv)
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(tv)
	default:
		return ""
	}
}
