package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"

	"github.com/rjsadow/folio/internal/plugins"
)

// mockAuthProvider implements plugins.AuthProvider for testing. The
// "Authorization: Bearer valid-token" session and the "x-api-key: abc123"
// key (read only) resolve.
type mockAuthProvider struct {
	sessionCalls int
	keyCalls     int
}

func (m *mockAuthProvider) Name() string             { return "mock" }
func (m *mockAuthProvider) Type() plugins.PluginType { return plugins.PluginTypeAuth }
func (m *mockAuthProvider) Version() string          { return "1.0.0" }
func (m *mockAuthProvider) Description() string      { return "mock auth" }
func (m *mockAuthProvider) Initialize(_ context.Context, _ map[string]string) error {
	return nil
}
func (m *mockAuthProvider) Healthy(_ context.Context) bool { return true }
func (m *mockAuthProvider) Close() error                   { return nil }

func (m *mockAuthProvider) GetSession(_ context.Context, r *http.Request) (*plugins.SessionAuth, error) {
	m.sessionCalls++
	if r.Header.Get("Authorization") != "Bearer valid-token" {
		return nil, nil
	}
	return plugins.NewSessionAuth(
		plugins.SessionUser{ID: "user-1", Email: "user-1@example.com"},
		plugins.SessionInfo{ID: "s1", ExpiresAt: time.Now().Add(time.Hour)},
	), nil
}

func (m *mockAuthProvider) RequireSession(ctx context.Context, r *http.Request) (*plugins.SessionAuth, error) {
	s, err := m.GetSession(ctx, r)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, plugins.ErrUnauthorized
	}
	return s, nil
}

func (m *mockAuthProvider) ValidateAPIKey(_ context.Context, r *http.Request) (*plugins.APIKeyAuth, error) {
	m.keyCalls++
	if r.Header.Get("x-api-key") != "abc123" {
		return nil, nil
	}
	return plugins.NewAPIKeyAuth("k1", "reader", plugins.NewPermissionSet(plugins.PermissionRead), nil), nil
}

func (m *mockAuthProvider) RequireAPIKey(ctx context.Context, r *http.Request, perms ...plugins.Permission) (*plugins.APIKeyAuth, error) {
	k, err := m.ValidateAPIKey(ctx, r)
	if err != nil {
		return nil, err
	}
	if k == nil {
		return nil, plugins.ErrUnauthorized
	}
	for _, p := range perms {
		if !k.Permissions.Has(p) {
			return nil, plugins.ErrForbidden
		}
	}
	return k, nil
}

// capture records the identity seen by the inner handler.
func capture(dst **Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*dst = GetIdentity(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestIdentify(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		bearer      string
		apiKey      string
		wantSession bool
		wantKey     bool
		wantKeyCall bool
	}{
		{name: "anonymous page", path: "/"},
		{name: "session on page", path: "/", bearer: "valid-token", wantSession: true},
		{name: "api key outside api prefix ignored", path: "/", apiKey: "abc123"},
		{name: "api key on api route", path: "/api/v1/content", apiKey: "abc123", wantKey: true, wantKeyCall: true},
		{name: "both on api route", path: "/api/v1/content", bearer: "valid-token", apiKey: "abc123", wantSession: true, wantKey: true, wantKeyCall: true},
		{name: "invalid credentials pass through", path: "/api/v1/content", bearer: "forged", apiKey: "nope", wantKeyCall: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockAuthProvider{}
			var identity *Identity
			handler := Identify(provider, Options{})(capture(&identity))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			if tt.apiKey != "" {
				req.Header.Set("x-api-key", tt.apiKey)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("Identify rejected request: %d", rec.Code)
			}
			if identity == nil {
				t.Fatal("expected identity in context")
			}
			if (identity.Session != nil) != tt.wantSession {
				t.Errorf("session = %+v, want present=%v", identity.Session, tt.wantSession)
			}
			if (identity.APIKey != nil) != tt.wantKey {
				t.Errorf("api key = %+v, want present=%v", identity.APIKey, tt.wantKey)
			}
			if (provider.keyCalls > 0) != tt.wantKeyCall {
				t.Errorf("key calls = %d, want called=%v", provider.keyCalls, tt.wantKeyCall)
			}
			if identity.Authenticated() != (tt.wantSession || tt.wantKey) {
				t.Errorf("Authenticated() = %v", identity.Authenticated())
			}
		})
	}
}

func TestRequireSession(t *testing.T) {
	provider := &mockAuthProvider{}
	var identity *Identity
	handler := RequireSession(provider, Options{})(capture(&identity))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without credentials: status = %d, want 401", rec.Code)
	}

	req.Header.Set("Authorization", "Bearer valid-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with session: status = %d, want 200", rec.Code)
	}
	if identity.UserID() != "user-1" {
		t.Errorf("UserID() = %q, want user-1", identity.UserID())
	}
}

func TestRequireAPIKey(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		perms  []plugins.Permission
		want   int
	}{
		{name: "missing key", want: http.StatusUnauthorized},
		{name: "invalid key", apiKey: "nope", want: http.StatusUnauthorized},
		{name: "any valid key", apiKey: "abc123", want: http.StatusOK},
		{name: "read allowed", apiKey: "abc123", perms: []plugins.Permission{plugins.PermissionRead}, want: http.StatusOK},
		{name: "write forbidden", apiKey: "abc123", perms: []plugins.Permission{plugins.PermissionWrite}, want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var identity *Identity
			handler := RequireAPIKey(&mockAuthProvider{}, Options{}, tt.perms...)(capture(&identity))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/content", nil)
			if tt.apiKey != "" {
				req.Header.Set("x-api-key", tt.apiKey)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && (identity == nil || identity.APIKey.KeyID != "k1") {
				t.Errorf("identity = %+v", identity)
			}
		})
	}
}

func TestRequireStacksOnIdentify(t *testing.T) {
	provider := &mockAuthProvider{}
	var identity *Identity
	handler := Identify(provider, Options{})(RequireAPIKey(provider, Options{})(capture(&identity)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	req.Header.Set("x-api-key", "abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if identity.Session == nil || identity.APIKey == nil {
		t.Errorf("merged identity = %+v, want both", identity)
	}
	if provider.keyCalls != 1 {
		t.Errorf("ValidateAPIKey calls = %d, want 1", provider.keyCalls)
	}
}

func TestRequireReusesIdentify(t *testing.T) {
	tests := []struct {
		name         string
		build        func(p plugins.AuthProvider) http.Handler
		session      string
		apiKey       string
		want         int
		sessionCalls int
		keyCalls     int
	}{
		{
			name: "session resolved once",
			build: func(p plugins.AuthProvider) http.Handler {
				return Identify(p, Options{})(RequireSession(p, Options{})(capture(new(*Identity))))
			},
			session:      "Bearer valid-token",
			want:         http.StatusOK,
			sessionCalls: 1,
			keyCalls:     1,
		},
		{
			name: "missing session not retried",
			build: func(p plugins.AuthProvider) http.Handler {
				return Identify(p, Options{})(RequireSession(p, Options{})(capture(new(*Identity))))
			},
			want:         http.StatusUnauthorized,
			sessionCalls: 1,
			keyCalls:     1,
		},
		{
			name: "invalid key not retried",
			build: func(p plugins.AuthProvider) http.Handler {
				return Identify(p, Options{})(RequireAPIKey(p, Options{})(capture(new(*Identity))))
			},
			apiKey:       "wrong",
			want:         http.StatusUnauthorized,
			sessionCalls: 1,
			keyCalls:     1,
		},
		{
			name: "missing permission checked against resolved key",
			build: func(p plugins.AuthProvider) http.Handler {
				return Identify(p, Options{})(RequireAPIKey(p, Options{}, plugins.PermissionWrite)(capture(new(*Identity))))
			},
			apiKey:       "abc123",
			want:         http.StatusForbidden,
			sessionCalls: 1,
			keyCalls:     1,
		},
		{
			name: "without Identify the provider is asked",
			build: func(p plugins.AuthProvider) http.Handler {
				return RequireAPIKey(p, Options{}, plugins.PermissionRead)(capture(new(*Identity)))
			},
			apiKey:   "abc123",
			want:     http.StatusOK,
			keyCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockAuthProvider{}
			req := httptest.NewRequest(http.MethodGet, "/api/v1/content", nil)
			if tt.session != "" {
				req.Header.Set("Authorization", tt.session)
			}
			if tt.apiKey != "" {
				req.Header.Set("x-api-key", tt.apiKey)
			}
			rec := httptest.NewRecorder()
			tt.build(provider).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if provider.sessionCalls != tt.sessionCalls {
				t.Errorf("GetSession calls = %d, want %d", provider.sessionCalls, tt.sessionCalls)
			}
			if provider.keyCalls != tt.keyCalls {
				t.Errorf("ValidateAPIKey calls = %d, want %d", provider.keyCalls, tt.keyCalls)
			}
		})
	}
}

// stubTracer starts non-recording spans with valid, distinct span contexts.
type stubTracer struct {
	embedded.Tracer
	started int
}

func (t *stubTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	t.started++
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{byte(t.started)},
		TraceFlags: trace.FlagsSampled,
	})
	ctx = trace.ContextWithSpanContext(ctx, sc)
	return ctx, trace.SpanFromContext(ctx)
}

func TestRequirePropagatesSpan(t *testing.T) {
	tracer := &stubTracer{}
	opts := Options{Tracer: tracer}

	var parent trace.SpanContext
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parent = trace.SpanContextFromContext(r.Context())
	})

	for name, mw := range map[string]func(http.Handler) http.Handler{
		"session": RequireSession(&mockAuthProvider{}, opts),
		"api key": RequireAPIKey(&mockAuthProvider{}, opts),
	} {
		t.Run(name, func(t *testing.T) {
			parent = trace.SpanContext{}
			req := httptest.NewRequest(http.MethodGet, "/api/v1/content", nil)
			req.Header.Set("Authorization", "Bearer valid-token")
			req.Header.Set("x-api-key", "abc123")
			mw(inner).ServeHTTP(httptest.NewRecorder(), req)

			if !parent.IsValid() || parent.SpanID() != (trace.SpanID{byte(tracer.started)}) {
				t.Errorf("handler span = %v, want the require span", parent.SpanID())
			}
		})
	}
}

func TestGetIdentityWithoutMiddleware(t *testing.T) {
	ctx := context.Background()
	if GetIdentity(ctx) != nil || GetSession(ctx) != nil || GetAPIKey(ctx) != nil {
		t.Error("expected nil identity on bare context")
	}
	var nilIdentity *Identity
	if nilIdentity.Authenticated() || nilIdentity.UserID() != "" {
		t.Error("nil identity should be unauthenticated")
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	provider := &mockAuthProvider{}
	opts := Options{Metrics: m}

	write := RequireAPIKey(provider, opts, plugins.PermissionWrite)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/content", nil)
	req.Header.Set("x-api-key", "abc123")
	write.ServeHTTP(httptest.NewRecorder(), req)

	Identify(provider, opts)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	m.RecordAuthFailure(context.Background(), plugins.CredentialAPIKey, "KEY_EXPIRED")

	if got := testutil.ToFloat64(m.denials.WithLabelValues("api_key", "403")); got != 1 {
		t.Errorf("403 denials = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.resolutions.WithLabelValues("session", "absent")); got != 1 {
		t.Errorf("absent sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("api_key", "KEY_EXPIRED")); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}

	// A nil *Metrics is a valid no-op recorder
	var nilMetrics *Metrics
	nilMetrics.RecordAuthFailure(context.Background(), plugins.CredentialSession, "x")
}
