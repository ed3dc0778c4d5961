package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rjsadow/folio/internal/identity"
	"github.com/rjsadow/folio/internal/plugins"
)

// LocalClient is the part of the built-in identity service the local
// adapter calls. *identity.Service implements it.
type LocalClient interface {
	GetSession(ctx context.Context, token string) (*identity.SessionResult, error)
	VerifyAPIKey(ctx context.Context, key string) (*identity.KeyVerification, error)
	Healthy(ctx context.Context) bool
}

// LocalAuthProvider adapts Folio's built-in identity service.
type LocalAuthProvider struct {
	base
	client LocalClient
}

// NewLocalAuthProvider creates the adapter around an injected client.
func NewLocalAuthProvider(client LocalClient, opts ...Option) *LocalAuthProvider {
	return &LocalAuthProvider{base: newBase(opts), client: client}
}

func (p *LocalAuthProvider) Name() string             { return "local" }
func (p *LocalAuthProvider) Type() plugins.PluginType { return plugins.PluginTypeAuth }
func (p *LocalAuthProvider) Version() string          { return "1.0.0" }
func (p *LocalAuthProvider) Description() string {
	return "Built-in identity provider with database sessions and API keys"
}

// Initialize reads optional "session_cookie" and "api_key_header" keys.
func (p *LocalAuthProvider) Initialize(ctx context.Context, config map[string]string) error {
	if p.client == nil {
		return errors.New("local: identity client is required")
	}
	p.configure(config)
	return nil
}

func (p *LocalAuthProvider) Healthy(ctx context.Context) bool {
	return p.client != nil && p.client.Healthy(ctx)
}

func (p *LocalAuthProvider) Close() error { return nil }

// GetSession resolves the session token through the identity service.
func (p *LocalAuthProvider) GetSession(ctx context.Context, r *http.Request) (*plugins.SessionAuth, error) {
	if r == nil {
		return nil, errNilRequest
	}
	token := p.creds.SessionToken(r)
	if token == "" {
		return nil, nil
	}

	result, err := p.client.GetSession(ctx, token)
	switch {
	case errors.Is(err, identity.ErrSessionNotFound):
		p.recordFailure(ctx, plugins.CredentialSession, ReasonSessionNotFound)
		return nil, nil
	case errors.Is(err, identity.ErrSessionExpired):
		p.recordFailure(ctx, plugins.CredentialSession, ReasonSessionExpired)
		return nil, nil
	case err != nil:
		slog.Warn("session lookup failed", "provider", p.Name(), "error", err)
		p.recordFailure(ctx, plugins.CredentialSession, ReasonProviderError)
		return nil, nil
	case result == nil:
		return nil, nil
	}

	return plugins.NewSessionAuth(
		plugins.SessionUser{
			ID:    result.User.ID,
			Email: result.User.Email,
			Name:  result.User.Name,
			Image: result.User.Image,
		},
		plugins.SessionInfo{
			ID:        result.Session.ID,
			ExpiresAt: result.Session.ExpiresAt,
		},
	), nil
}

func (p *LocalAuthProvider) RequireSession(ctx context.Context, r *http.Request) (*plugins.SessionAuth, error) {
	return requireSession(ctx, r, p.GetSession)
}

func (p *LocalAuthProvider) ValidateAPIKey(ctx context.Context, r *http.Request) (*plugins.APIKeyAuth, error) {
	return p.keys().validate(ctx, r)
}

func (p *LocalAuthProvider) RequireAPIKey(ctx context.Context, r *http.Request, perms ...plugins.Permission) (*plugins.APIKeyAuth, error) {
	return requireAPIKey(ctx, r, p.ValidateAPIKey, perms...)
}

func (p *LocalAuthProvider) keys() keyResolver {
	var verifier KeyVerifier
	if p.client != nil {
		verifier = p.client
	}
	return keyResolver{base: &p.base, provider: p.Name(), keys: verifier}
}

// Verify interface compliance
var _ plugins.AuthProvider = (*LocalAuthProvider)(nil)
