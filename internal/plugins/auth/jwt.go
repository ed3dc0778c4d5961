package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rjsadow/folio/internal/plugins"
)

// TokenType distinguishes Folio session tokens from other JWTs that may be
// signed with the same secret.
type TokenType string

const (
	TokenTypeSession TokenType = "session"
)

// DefaultJWTIssuer is the "iss" claim of issued session tokens.
const DefaultJWTIssuer = "folio"

// Claims represents JWT claims for Folio session tokens
type Claims struct {
	jwt.RegisteredClaims
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Image     string    `json:"picture,omitempty"`
	SessionID string    `json:"sid"`
	TokenType TokenType `json:"token_type"`
}

// JWTAuthProvider implements AuthProvider with stateless HS256 session
// tokens. API keys are delegated to an injected KeyVerifier.
type JWTAuthProvider struct {
	base
	keys      KeyVerifier
	jwtSecret []byte
	issuer    string
	expiry    time.Duration
	now       func() time.Time
}

// NewJWTAuthProvider creates a new JWT auth provider. keys may be nil, in
// which case no API key ever validates.
func NewJWTAuthProvider(keys KeyVerifier, opts ...Option) *JWTAuthProvider {
	return &JWTAuthProvider{
		base:   newBase(opts),
		keys:   keys,
		issuer: DefaultJWTIssuer,
		expiry: 24 * time.Hour,
		now:    time.Now,
	}
}

// Name returns the plugin name
func (p *JWTAuthProvider) Name() string {
	return "jwt"
}

// Type returns the plugin type
func (p *JWTAuthProvider) Type() plugins.PluginType {
	return plugins.PluginTypeAuth
}

// Version returns the plugin version
func (p *JWTAuthProvider) Version() string {
	return "1.0.0"
}

// Description returns a human-readable description
func (p *JWTAuthProvider) Description() string {
	return "Stateless HS256 session tokens"
}

// Initialize sets up the plugin with configuration.
// Required: jwt_secret (at least 32 characters).
// Optional: session_expiry (default 24h), issuer (default "folio").
func (p *JWTAuthProvider) Initialize(ctx context.Context, config map[string]string) error {
	p.configure(config)

	secret, ok := config["jwt_secret"]
	if !ok || len(secret) < 32 {
		return fmt.Errorf("jwt_secret must be at least 32 characters")
	}
	p.jwtSecret = []byte(secret)

	if expiry, ok := config["session_expiry"]; ok {
		d, err := time.ParseDuration(expiry)
		if err != nil {
			return fmt.Errorf("invalid session_expiry: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("session_expiry must be positive")
		}
		p.expiry = d
	}

	if issuer := config["issuer"]; issuer != "" {
		p.issuer = issuer
	}

	return nil
}

// Healthy returns true if the plugin is operational
func (p *JWTAuthProvider) Healthy(ctx context.Context) bool {
	return len(p.jwtSecret) > 0
}

// Close releases resources
func (p *JWTAuthProvider) Close() error {
	return nil
}

// IssueSession mints a session token for user. Tokens cannot be revoked
// before they expire.
func (p *JWTAuthProvider) IssueSession(user plugins.SessionUser) (string, time.Time, error) {
	if len(p.jwtSecret) == 0 {
		return "", time.Time{}, errors.New("jwt provider not initialized")
	}
	if user.ID == "" {
		return "", time.Time{}, errors.New("user id is required")
	}

	now := p.now()
	expiresAt := now.Add(p.expiry)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    p.issuer,
			Subject:   user.ID,
		},
		Email:     user.Email,
		Name:      user.Name,
		Image:     user.Image,
		SessionID: uuid.NewString(),
		TokenType: TokenTypeSession,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

func (p *JWTAuthProvider) parse(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

// GetSession validates the session JWT. Expired, malformed and foreign
// tokens all resolve to absent.
func (p *JWTAuthProvider) GetSession(ctx context.Context, r *http.Request) (*plugins.SessionAuth, error) {
	if r == nil {
		return nil, errNilRequest
	}
	tokenString := p.creds.SessionToken(r)
	if tokenString == "" {
		return nil, nil
	}

	claims, err := p.parse(tokenString)
	if err != nil {
		reason := ReasonInvalidToken
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = ReasonSessionExpired
		}
		slog.Debug("rejected session token", "provider", p.Name(), "error", err)
		p.recordFailure(ctx, plugins.CredentialSession, reason)
		return nil, nil
	}

	// Verify this is a session token
	if claims.TokenType != TokenTypeSession || claims.Subject == "" {
		p.recordFailure(ctx, plugins.CredentialSession, ReasonInvalidToken)
		return nil, nil
	}

	return plugins.NewSessionAuth(
		plugins.SessionUser{
			ID:    claims.Subject,
			Email: claims.Email,
			Name:  claims.Name,
			Image: claims.Image,
		},
		plugins.SessionInfo{
			ID:        claims.SessionID,
			ExpiresAt: claims.ExpiresAt.Time,
		},
	), nil
}

func (p *JWTAuthProvider) RequireSession(ctx context.Context, r *http.Request) (*plugins.SessionAuth, error) {
	return requireSession(ctx, r, p.GetSession)
}

func (p *JWTAuthProvider) ValidateAPIKey(ctx context.Context, r *http.Request) (*plugins.APIKeyAuth, error) {
	return keyResolver{base: &p.base, provider: p.Name(), keys: p.keys}.validate(ctx, r)
}

func (p *JWTAuthProvider) RequireAPIKey(ctx context.Context, r *http.Request, perms ...plugins.Permission) (*plugins.APIKeyAuth, error) {
	return requireAPIKey(ctx, r, p.ValidateAPIKey, perms...)
}

// Verify interface compliance
var _ plugins.AuthProvider = (*JWTAuthProvider)(nil)
