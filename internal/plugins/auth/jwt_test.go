package auth

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rjsadow/folio/internal/plugins"
)

const testSecret = "this-is-a-test-secret-that-is-at-least-32-characters-long"

// setupTestProvider creates a JWTAuthProvider with a fixed clock.
func setupTestProvider(t *testing.T, opts ...Option) (*JWTAuthProvider, *time.Time) {
	t.Helper()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	provider := NewJWTAuthProvider(readKeys(), opts...)
	provider.now = func() time.Time { return now }
	err := provider.Initialize(context.Background(), map[string]string{
		"jwt_secret":     testSecret,
		"session_expiry": "1h",
	})
	if err != nil {
		t.Fatalf("failed to initialize provider: %v", err)
	}
	return provider, &now
}

func TestNewJWTAuthProvider(t *testing.T) {
	p := NewJWTAuthProvider(nil)
	if p == nil {
		t.Fatal("NewJWTAuthProvider returned nil")
	}
	if p.Name() != "jwt" {
		t.Errorf("expected name 'jwt', got %q", p.Name())
	}
	if p.Type() != "auth" {
		t.Errorf("expected type 'auth', got %q", p.Type())
	}
	if p.Version() == "" {
		t.Error("expected non-empty version")
	}
	if p.Description() == "" {
		t.Error("expected non-empty description")
	}
	if p.Healthy(context.Background()) {
		t.Error("uninitialized provider should not be healthy")
	}
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]string
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  map[string]string{"jwt_secret": testSecret},
			wantErr: false,
		},
		{
			name:    "missing secret",
			config:  map[string]string{},
			wantErr: true,
		},
		{
			name:    "short secret",
			config:  map[string]string{"jwt_secret": "short"},
			wantErr: true,
		},
		{
			name:    "invalid session_expiry",
			config:  map[string]string{"jwt_secret": testSecret, "session_expiry": "soon"},
			wantErr: true,
		},
		{
			name:    "negative session_expiry",
			config:  map[string]string{"jwt_secret": testSecret, "session_expiry": "-1h"},
			wantErr: true,
		},
		{
			name:    "custom issuer",
			config:  map[string]string{"jwt_secret": testSecret, "issuer": "cms.example.com"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewJWTAuthProvider(nil)
			err := p.Initialize(context.Background(), tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Initialize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !p.Healthy(context.Background()) {
				t.Error("initialized provider should be healthy")
			}
		})
	}
}

func TestIssueAndGetSession(t *testing.T) {
	p, _ := setupTestProvider(t)

	token, expiresAt, err := p.IssueSession(plugins.SessionUser{ID: "u1", Email: "ada@example.com", Name: "Ada"})
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}
	if !expiresAt.Equal(p.now().Add(time.Hour)) {
		t.Errorf("expiresAt = %v", expiresAt)
	}

	first, err := p.GetSession(context.Background(), withBearer(token))
	if err != nil || first == nil {
		t.Fatalf("GetSession() = %v, %v", first, err)
	}
	if first.User.ID != "u1" || first.User.Email != "ada@example.com" || first.User.Name != "Ada" {
		t.Errorf("User = %+v", first.User)
	}
	if first.Session.ID == "" {
		t.Error("expected a session id")
	}
	if !first.Session.ExpiresAt.Equal(expiresAt) {
		t.Errorf("Session.ExpiresAt = %v, want %v", first.Session.ExpiresAt, expiresAt)
	}

	second, _ := p.GetSession(context.Background(), withSessionCookie(token))
	if !reflect.DeepEqual(second, first) {
		t.Errorf("second GetSession() = %+v, want %+v", second, first)
	}
}

func TestIssueSessionRequiresUserID(t *testing.T) {
	p, _ := setupTestProvider(t)
	if _, _, err := p.IssueSession(plugins.SessionUser{Email: "x@example.com"}); err == nil {
		t.Error("expected error for empty user id")
	}

	uninit := NewJWTAuthProvider(nil)
	if _, _, err := uninit.IssueSession(plugins.SessionUser{ID: "u1"}); err == nil {
		t.Error("expected error from uninitialized provider")
	}
}

func TestGetSessionRejects(t *testing.T) {
	p, now := setupTestProvider(t)
	valid, _, err := p.IssueSession(plugins.SessionUser{ID: "u1"})
	if err != nil {
		t.Fatal(err)
	}

	sign := func(claims Claims, secret string) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatal(err)
		}
		return tok
	}
	baseClaims := func() Claims {
		return Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				IssuedAt:  jwt.NewNumericDate(*now),
				Issuer:    DefaultJWTIssuer,
				Subject:   "u1",
			},
			SessionID: "s1",
			TokenType: TokenTypeSession,
		}
	}

	wrongType := baseClaims()
	wrongType.TokenType = "refresh"
	wrongIssuer := baseClaims()
	wrongIssuer.Issuer = "someone-else"
	noExpiry := baseClaims()
	noExpiry.ExpiresAt = nil
	noSubject := baseClaims()
	noSubject.Subject = ""

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, baseClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		token      string
		advance    time.Duration
		wantReason string
	}{
		{name: "garbage", token: "not-a-valid-jwt", wantReason: ReasonInvalidToken},
		{name: "wrong secret", token: sign(baseClaims(), "another-secret-that-is-also-32-characters-long"), wantReason: ReasonInvalidToken},
		{name: "alg none", token: none, wantReason: ReasonInvalidToken},
		{name: "wrong token type", token: sign(wrongType, testSecret), wantReason: ReasonInvalidToken},
		{name: "wrong issuer", token: sign(wrongIssuer, testSecret), wantReason: ReasonInvalidToken},
		{name: "no expiry", token: sign(noExpiry, testSecret), wantReason: ReasonInvalidToken},
		{name: "no subject", token: sign(noSubject, testSecret), wantReason: ReasonInvalidToken},
		{name: "expired", token: valid, advance: 2 * time.Hour, wantReason: ReasonSessionExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			p.base.recorder = rec
			start := *now
			*now = now.Add(tt.advance)
			defer func() { *now = start }()

			session, err := p.GetSession(context.Background(), withBearer(tt.token))
			if err != nil {
				t.Fatalf("GetSession() error = %v", err)
			}
			if session != nil {
				t.Fatalf("expected absent session, got %+v", session)
			}
			failures := rec.all()
			if len(failures) != 1 || failures[0].reason != tt.wantReason {
				t.Errorf("failures = %v, want %q", failures, tt.wantReason)
			}

			_, err = p.RequireSession(context.Background(), withBearer(tt.token))
			if !errors.Is(err, plugins.ErrUnauthorized) {
				t.Errorf("RequireSession() error = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestJWTAPIKeysDelegate(t *testing.T) {
	keys := readKeys()
	p := NewJWTAuthProvider(keys)
	if err := p.Initialize(context.Background(), map[string]string{"jwt_secret": testSecret}); err != nil {
		t.Fatal(err)
	}

	key, err := p.RequireAPIKey(context.Background(), withAPIKey("rw"), plugins.PermissionWrite)
	if err != nil {
		t.Fatalf("RequireAPIKey() error = %v", err)
	}
	if key.KeyID != "k2" || keys.calls != 1 {
		t.Errorf("key = %+v, calls = %d", key, keys.calls)
	}

	// No verifier means no key ever validates.
	bare := NewJWTAuthProvider(nil)
	if err := bare.Initialize(context.Background(), map[string]string{"jwt_secret": testSecret}); err != nil {
		t.Fatal(err)
	}
	if _, err := bare.RequireAPIKey(context.Background(), withAPIKey("rw")); !errors.Is(err, plugins.ErrUnauthorized) {
		t.Errorf("RequireAPIKey() error = %v, want ErrUnauthorized", err)
	}
}

func TestClose(t *testing.T) {
	p := NewJWTAuthProvider(nil)
	if err := p.Close(); err != nil {
		t.Errorf("Close() returned error: %v", err)
	}
}
