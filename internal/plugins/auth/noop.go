package auth

import (
	"context"
	"net/http"

	"github.com/rjsadow/folio/internal/plugins"
)

// NoopAuthProvider resolves nothing. Every Get* returns absent and every
// Require* fails with ErrUnauthorized. Useful for read-only deployments
// and for tests of unauthenticated paths.
type NoopAuthProvider struct {
	base
}

// NewNoopAuthProvider creates a new no-op auth provider.
func NewNoopAuthProvider() *NoopAuthProvider {
	return &NoopAuthProvider{base: newBase(nil)}
}

func (p *NoopAuthProvider) Name() string             { return "noop" }
func (p *NoopAuthProvider) Type() plugins.PluginType { return plugins.PluginTypeAuth }
func (p *NoopAuthProvider) Version() string          { return "1.0.0" }
func (p *NoopAuthProvider) Description() string {
	return "No authentication - no session or API key ever resolves"
}

func (p *NoopAuthProvider) Initialize(ctx context.Context, config map[string]string) error {
	p.configure(config)
	return nil
}

func (p *NoopAuthProvider) Healthy(ctx context.Context) bool { return true }
func (p *NoopAuthProvider) Close() error                     { return nil }

func (p *NoopAuthProvider) GetSession(ctx context.Context, r *http.Request) (*plugins.SessionAuth, error) {
	if r == nil {
		return nil, errNilRequest
	}
	return nil, nil
}

func (p *NoopAuthProvider) RequireSession(ctx context.Context, r *http.Request) (*plugins.SessionAuth, error) {
	return requireSession(ctx, r, p.GetSession)
}

func (p *NoopAuthProvider) ValidateAPIKey(ctx context.Context, r *http.Request) (*plugins.APIKeyAuth, error) {
	if r == nil {
		return nil, errNilRequest
	}
	return nil, nil
}

func (p *NoopAuthProvider) RequireAPIKey(ctx context.Context, r *http.Request, perms ...plugins.Permission) (*plugins.APIKeyAuth, error) {
	return requireAPIKey(ctx, r, p.ValidateAPIKey, perms...)
}

// Verify interface compliance
var _ plugins.AuthProvider = (*NoopAuthProvider)(nil)
