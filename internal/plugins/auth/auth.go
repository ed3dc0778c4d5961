// Package auth provides AuthProvider plugin implementations. Each adapter
// translates one identity provider's native API into plugins.AuthProvider.
//
// Built-in providers:
//   - local: Folio's own identity service (internal/identity)
//   - jwt: stateless HS256 session tokens, API keys via a KeyVerifier
//   - oidc: OpenID Connect ID tokens, API keys via a KeyVerifier
//   - noop: no credentials ever resolve
//
// To add a new auth provider:
//  1. Create a new file implementing plugins.AuthProvider
//  2. Resolve credentials through Credentials and derive the Require*
//     variants with requireSession / requireAPIKey
//  3. Register a factory with the plugins.Registry in main
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rjsadow/folio/internal/identity"
	"github.com/rjsadow/folio/internal/plugins"
)

// Defaults for where credentials are read from.
const (
	DefaultSessionCookie = "folio.session_token"
	DefaultAPIKeyHeader  = "x-api-key"
)

// PermissionResource is the resource name whose actions become boundary
// permissions when mapping a provider's native permission map.
const PermissionResource = "cms"

// Failure reasons reported to a FailureRecorder for sessions. API key
// failures report the provider's own code.
const (
	ReasonSessionNotFound = "session_not_found"
	ReasonSessionExpired  = "session_expired"
	ReasonInvalidToken    = "invalid_token"
	ReasonProviderError   = "provider_error"
)

var errNilRequest = errors.New("auth: nil request")

// Credentials says where an adapter looks for the session token and the API
// key on a request.
type Credentials struct {
	SessionCookie string
	APIKeyHeader  string
}

// DefaultCredentials returns the standard cookie and header names.
func DefaultCredentials() Credentials {
	return Credentials{SessionCookie: DefaultSessionCookie, APIKeyHeader: DefaultAPIKeyHeader}
}

// withConfig overrides names from plugin config keys "session_cookie" and
// "api_key_header".
func (c Credentials) withConfig(config map[string]string) Credentials {
	if v := config["session_cookie"]; v != "" {
		c.SessionCookie = v
	}
	if v := config["api_key_header"]; v != "" {
		c.APIKeyHeader = v
	}
	return c
}

// SessionToken returns the session token from the session cookie, falling
// back to an "Authorization: Bearer" header. Empty means none was presented.
func (c Credentials) SessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(c.SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	authHeader := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// APIKey returns the API key header value. Empty means none was presented.
func (c Credentials) APIKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(c.APIKeyHeader))
}

// KeyVerifier is the provider call that validates a raw API key. The local
// identity service implements it; the jwt and oidc adapters delegate key
// checks to it.
type KeyVerifier interface {
	VerifyAPIKey(ctx context.Context, key string) (*identity.KeyVerification, error)
}

// Option configures the behavior shared by all adapters.
type Option func(*base)

// WithFailureRecorder reports presented-but-invalid credentials to rec.
func WithFailureRecorder(rec plugins.FailureRecorder) Option {
	return func(b *base) { b.recorder = rec }
}

// WithCredentials sets the cookie and header names. Plugin config keys
// still override them at Initialize.
func WithCredentials(c Credentials) Option {
	return func(b *base) { b.creds = c }
}

// base holds what every adapter shares.
type base struct {
	creds    Credentials
	recorder plugins.FailureRecorder
}

func newBase(opts []Option) base {
	b := base{creds: DefaultCredentials()}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) configure(config map[string]string) {
	b.creds = b.creds.withConfig(config)
}

func (b *base) recordFailure(ctx context.Context, kind plugins.CredentialKind, reason string) {
	if b.recorder != nil {
		b.recorder.RecordAuthFailure(ctx, kind, reason)
	}
}

// requireSession derives RequireSession from a GetSession implementation so
// every adapter fails the same way.
func requireSession(ctx context.Context, r *http.Request, get func(context.Context, *http.Request) (*plugins.SessionAuth, error)) (*plugins.SessionAuth, error) {
	session, err := get(ctx, r)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, plugins.ErrUnauthorized
	}
	return session, nil
}

// requireAPIKey derives RequireAPIKey from a ValidateAPIKey implementation.
// Every listed permission must be present; none listed accepts any valid key.
func requireAPIKey(ctx context.Context, r *http.Request, validate func(context.Context, *http.Request) (*plugins.APIKeyAuth, error), perms ...plugins.Permission) (*plugins.APIKeyAuth, error) {
	key, err := validate(ctx, r)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, plugins.ErrUnauthorized
	}
	if !key.Permissions.HasAll(perms...) {
		return nil, plugins.ErrForbidden
	}
	return key, nil
}

// permissionsFromNative maps {"cms": ["read", ...]} to a PermissionSet.
// Other resources and unknown actions are ignored.
func permissionsFromNative(native map[string][]string) plugins.PermissionSet {
	actions := native[PermissionResource]
	perms := make([]plugins.Permission, 0, len(actions))
	for _, a := range actions {
		perms = append(perms, plugins.Permission(a))
	}
	return plugins.NewPermissionSet(perms...)
}

// NativePermissions is the inverse of the boundary's permission mapping,
// used when creating keys through the identity service.
func NativePermissions(perms ...plugins.Permission) map[string][]string {
	set := plugins.NewPermissionSet(perms...)
	actions := make([]string, 0, len(set))
	for _, p := range set.List() {
		actions = append(actions, string(p))
	}
	return map[string][]string{PermissionResource: actions}
}
