package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/rjsadow/folio/internal/plugins"
)

// DefaultAccessTokenHeader carries the access token used for userinfo
// enrichment. The session credential itself is the ID token.
const DefaultAccessTokenHeader = "X-Access-Token"

// UserInfoFetcher is the userinfo call of an OIDC provider. *oidc.Provider
// implements it.
type UserInfoFetcher interface {
	UserInfo(ctx context.Context, tokenSource oauth2.TokenSource) (*oidc.UserInfo, error)
}

// OIDCAuthProvider implements AuthProvider on top of any OpenID Connect
// issuer (Auth0, Keycloak, Entra ID, Okta, etc.). The session credential is
// an ID token obtained by the client from the issuer; this adapter only
// verifies it. API keys are delegated to an injected KeyVerifier.
type OIDCAuthProvider struct {
	base
	keys KeyVerifier

	provider          *oidc.Provider
	verifier          *oidc.IDTokenVerifier
	userInfo          UserInfoFetcher
	enrich            bool
	accessTokenHeader string
}

// oidcClaims are the ID token claims the adapter reads.
type oidcClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	SessionID     string `json:"sid"`
}

// NewOIDCAuthProvider creates a new OIDC auth provider.
func NewOIDCAuthProvider(keys KeyVerifier, opts ...Option) *OIDCAuthProvider {
	return &OIDCAuthProvider{
		base:              newBase(opts),
		keys:              keys,
		accessTokenHeader: DefaultAccessTokenHeader,
	}
}

func (p *OIDCAuthProvider) Name() string             { return "oidc" }
func (p *OIDCAuthProvider) Type() plugins.PluginType { return plugins.PluginTypeAuth }
func (p *OIDCAuthProvider) Version() string          { return "1.0.0" }
func (p *OIDCAuthProvider) Description() string {
	return "OpenID Connect ID token verification (Auth0, Keycloak, Entra ID, Okta)"
}

// SetVerifier installs a verifier, skipping issuer discovery at Initialize.
func (p *OIDCAuthProvider) SetVerifier(v *oidc.IDTokenVerifier) {
	p.verifier = v
}

// SetUserInfoFetcher overrides the discovered provider for userinfo calls.
func (p *OIDCAuthProvider) SetUserInfoFetcher(f UserInfoFetcher) {
	p.userInfo = f
}

// Initialize sets up the OIDC provider with configuration.
// Required config keys: issuer, client_id
// Optional: userinfo ("true" enables enrichment), access_token_header
func (p *OIDCAuthProvider) Initialize(ctx context.Context, config map[string]string) error {
	p.configure(config)

	issuer := config["issuer"]
	if issuer == "" {
		return fmt.Errorf("oidc: issuer is required")
	}
	clientID := config["client_id"]
	if clientID == "" {
		return fmt.Errorf("oidc: client_id is required")
	}
	p.enrich = strings.EqualFold(config["userinfo"], "true")
	if h := config["access_token_header"]; h != "" {
		p.accessTokenHeader = h
	}

	if p.verifier == nil || (p.enrich && p.userInfo == nil) {
		// Discover OIDC provider (fetches .well-known/openid-configuration)
		provider, err := oidc.NewProvider(ctx, issuer)
		if err != nil {
			return fmt.Errorf("oidc: failed to discover provider at %s: %w", issuer, err)
		}
		p.provider = provider
		if p.verifier == nil {
			p.verifier = provider.Verifier(&oidc.Config{ClientID: clientID})
		}
		if p.userInfo == nil {
			p.userInfo = provider
		}
	}

	return nil
}

func (p *OIDCAuthProvider) Healthy(ctx context.Context) bool {
	return p.verifier != nil
}

func (p *OIDCAuthProvider) Close() error {
	return nil
}

// GetSession verifies the presented ID token. Signature, audience, issuer
// and expiry failures all resolve to absent.
func (p *OIDCAuthProvider) GetSession(ctx context.Context, r *http.Request) (*plugins.SessionAuth, error) {
	if r == nil {
		return nil, errNilRequest
	}
	raw := p.creds.SessionToken(r)
	if raw == "" || p.verifier == nil {
		return nil, nil
	}

	idToken, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		reason := ReasonInvalidToken
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			reason = ReasonSessionExpired
		}
		slog.Debug("rejected id token", "provider", p.Name(), "error", err)
		p.recordFailure(ctx, plugins.CredentialSession, reason)
		return nil, nil
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		slog.Warn("failed to parse id token claims", "provider", p.Name(), "error", err)
		p.recordFailure(ctx, plugins.CredentialSession, ReasonInvalidToken)
		return nil, nil
	}
	if claims.Subject == "" {
		claims.Subject = idToken.Subject
	}

	if p.enrich {
		p.enrichClaims(ctx, r, &claims)
	}

	sessionID := claims.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("%s@%d", claims.Subject, idToken.IssuedAt.Unix())
	}

	return plugins.NewSessionAuth(
		plugins.SessionUser{
			ID:    claims.Subject,
			Email: claims.Email,
			Name:  claims.Name,
			Image: claims.Picture,
		},
		plugins.SessionInfo{
			ID:        sessionID,
			ExpiresAt: idToken.Expiry,
		},
	), nil
}

// enrichClaims fills missing profile claims from the userinfo endpoint. A
// failed or mismatched lookup leaves the ID token claims untouched.
func (p *OIDCAuthProvider) enrichClaims(ctx context.Context, r *http.Request, claims *oidcClaims) {
	accessToken := strings.TrimSpace(r.Header.Get(p.accessTokenHeader))
	if accessToken == "" || p.userInfo == nil {
		return
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	info, err := p.userInfo.UserInfo(ctx, ts)
	if err != nil {
		slog.Warn("userinfo lookup failed", "provider", p.Name(), "error", err)
		return
	}
	if info == nil || info.Subject != claims.Subject {
		return
	}

	var extra oidcClaims
	if err := info.Claims(&extra); err != nil {
		slog.Warn("failed to parse userinfo claims", "provider", p.Name(), "error", err)
	}
	if claims.Email == "" {
		claims.Email = info.Email
	}
	if claims.Name == "" {
		claims.Name = extra.Name
	}
	if claims.Picture == "" {
		claims.Picture = extra.Picture
	}
}

func (p *OIDCAuthProvider) RequireSession(ctx context.Context, r *http.Request) (*plugins.SessionAuth, error) {
	return requireSession(ctx, r, p.GetSession)
}

func (p *OIDCAuthProvider) ValidateAPIKey(ctx context.Context, r *http.Request) (*plugins.APIKeyAuth, error) {
	return keyResolver{base: &p.base, provider: p.Name(), keys: p.keys}.validate(ctx, r)
}

func (p *OIDCAuthProvider) RequireAPIKey(ctx context.Context, r *http.Request, perms ...plugins.Permission) (*plugins.APIKeyAuth, error) {
	return requireAPIKey(ctx, r, p.ValidateAPIKey, perms...)
}

// Verify interface compliance
var _ plugins.AuthProvider = (*OIDCAuthProvider)(nil)
