package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/rjsadow/folio/internal/config"
	"github.com/rjsadow/folio/internal/db"
	"github.com/rjsadow/folio/internal/db/dbtest"
	"github.com/rjsadow/folio/internal/identity"
	"github.com/rjsadow/folio/internal/middleware"
	"github.com/rjsadow/folio/internal/plugins"
	"github.com/rjsadow/folio/internal/plugins/auth"
	"github.com/rjsadow/folio/internal/plugins/storage"
)

const (
	testAdminEmail    = "admin@example.com"
	testAdminPassword = "admin-password"
)

// testServer is a running Folio handler wired to the local provider and a
// temp-file database.
type testServer struct {
	*httptest.Server
	DB       *db.DB
	Identity *identity.Service
	Profiles plugins.ProfileStore
	Admin    *identity.User
}

func testConfig() *config.Config {
	return &config.Config{
		SessionCookie: config.DefaultSessionCookie,
		APIKeyHeader:  config.DefaultAPIKeyHeader,
		AllowSignUp:   true,
	}
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	return newTestServerWith(t, nil, mutate...)
}

// newTestServerWith lets a test adjust the App before its handler is built.
func newTestServerWith(t *testing.T, adjust func(*App), mutate ...func(*config.Config)) *testServer {
	t.Helper()
	ctx := context.Background()

	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	database := dbtest.NewTestDB(t)
	svc := identity.NewService(database, identity.Config{
		BcryptCost:      bcrypt.MinCost,
		APIKeyRateLimit: cfg.APIKeyRateLimit,
		APIKeyBurst:     cfg.APIKeyBurst,
	})

	promReg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(promReg)
	recorder := plugins.FailureRecorders{db.NewAuditRecorder(database), metrics}

	reg := plugins.NewRegistry()
	if err := reg.Register(plugins.PluginTypeAuth, "local", func() plugins.Plugin {
		return auth.NewLocalAuthProvider(svc, auth.WithFailureRecorder(recorder))
	}); err != nil {
		t.Fatalf("register auth: %v", err)
	}
	if err := reg.Register(plugins.PluginTypeStorage, "database", func() plugins.Plugin {
		return storage.NewDatabaseStorage(database)
	}); err != nil {
		t.Fatalf("register storage: %v", err)
	}
	if err := reg.Initialize(ctx, &plugins.RegistryConfig{Auth: "local", Storage: "database"}); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	svc.OnSignUp(ProfileOnSignUp(reg.Storage()))
	admin, err := SeedAdmin(ctx, svc, reg.Storage(), testAdminEmail, testAdminPassword)
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	app := &App{
		DB:       database,
		Registry: reg,
		Auth:     reg.Auth(),
		Profiles: reg.Storage(),
		Identity: svc,
		Metrics:  metrics,
		Gatherer: promReg,
		Config:   cfg,
	}
	if adjust != nil {
		adjust(app)
	}
	ts := httptest.NewServer(app.Handler())
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, DB: database, Identity: svc, Profiles: reg.Storage(), Admin: admin}
}

// do sends a request with an optional JSON body. Header pairs are applied
// in order.
func (ts *testServer) do(t *testing.T, method, path string, body any, headers ...string) *http.Response {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, ts.URL+path, r)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func bearer(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}

func apiKey(key string) []string {
	return []string{config.DefaultAPIKeyHeader, key}
}

// signIn returns the raw session token for the account.
func (ts *testServer) signIn(t *testing.T, email, password string) string {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/auth/sign-in", map[string]string{"email": email, "password": password})
	expectStatus(t, resp, http.StatusOK)

	var result struct {
		Token string `json:"token"`
	}
	readJSON(t, resp, &result)
	if result.Token == "" {
		t.Fatal("sign-in returned no token")
	}
	return result.Token
}

// signUpAndIn creates an editor account and returns its id and token.
func (ts *testServer) signUpAndIn(t *testing.T, email string) (string, string) {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/auth/sign-up", map[string]string{"email": email, "password": "password123"})
	expectStatus(t, resp, http.StatusCreated)

	var user identity.User
	readJSON(t, resp, &user)
	return user.ID, ts.signIn(t, email, "password123")
}

// createKey issues an API key for the session holder.
func (ts *testServer) createKey(t *testing.T, token string, perms ...plugins.Permission) *identity.CreatedAPIKey {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/me/keys", map[string]any{"name": "ci", "permissions": perms}, bearer(token)...)
	expectStatus(t, resp, http.StatusCreated)

	var created identity.CreatedAPIKey
	readJSON(t, resp, &created)
	return &created
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, string(b))
	}
}

func readJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}
