package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/rjsadow/folio/internal/identity"
	"github.com/rjsadow/folio/internal/plugins"
)

// fakeKeys is a KeyVerifier backed by a map of raw key to verification.
type fakeKeys struct {
	results map[string]*identity.KeyVerification
	err     error
	calls   int
}

func (f *fakeKeys) VerifyAPIKey(ctx context.Context, key string) (*identity.KeyVerification, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.results[key]; ok {
		return v, nil
	}
	return &identity.KeyVerification{
		Error: &identity.KeyError{Code: identity.CodeKeyNotFound, Message: "not found"},
	}, nil
}

// readKeys returns a verifier that knows "abc123" as key k1 with cms:read.
func readKeys() *fakeKeys {
	return &fakeKeys{results: map[string]*identity.KeyVerification{
		"abc123": {
			Valid: true,
			Key: &identity.APIKey{
				ID:          "k1",
				Name:        "reader",
				Permissions: map[string][]string{"cms": {"read"}},
				Enabled:     true,
			},
		},
		"rw": {
			Valid: true,
			Key: &identity.APIKey{
				ID:          "k2",
				Name:        "writer",
				Permissions: map[string][]string{"cms": {"read", "write"}},
				Enabled:     true,
			},
		},
		"bare": {
			Valid: true,
			Key:   &identity.APIKey{ID: "k3", Name: "bare", Enabled: true},
		},
		"off": {
			Error: &identity.KeyError{Code: identity.CodeKeyDisabled, Message: "disabled"},
		},
	}}
}

// fakeLocalClient is a LocalClient with a fixed set of session tokens.
type fakeLocalClient struct {
	fakeKeys
	sessions map[string]*identity.SessionResult
	expired  map[string]bool
	err      error
	healthy  bool
}

func (f *fakeLocalClient) GetSession(ctx context.Context, token string) (*identity.SessionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.expired[token] {
		return nil, identity.ErrSessionExpired
	}
	if res, ok := f.sessions[token]; ok {
		return res, nil
	}
	return nil, identity.ErrSessionNotFound
}

func (f *fakeLocalClient) Healthy(ctx context.Context) bool { return f.healthy }

func newFakeLocalClient() *fakeLocalClient {
	return &fakeLocalClient{
		fakeKeys: *readKeys(),
		sessions: map[string]*identity.SessionResult{
			"sess-1": {
				Session: identity.Session{ID: "s1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour).UTC()},
				User:    identity.User{ID: "u1", Email: "ada@example.com", Name: "Ada"},
			},
		},
		expired: map[string]bool{"sess-old": true},
		healthy: true,
	}
}

var errProviderDown = errors.New("connection refused")

type failure struct {
	kind   plugins.CredentialKind
	reason string
}

// recorder captures reported auth failures.
type recorder struct {
	mu       sync.Mutex
	failures []failure
}

func (r *recorder) RecordAuthFailure(ctx context.Context, kind plugins.CredentialKind, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, failure{kind: kind, reason: reason})
}

func (r *recorder) all() []failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]failure(nil), r.failures...)
}

func newRequest() *http.Request {
	return httptest.NewRequest(http.MethodGet, "/api/v1/content", nil)
}

func withAPIKey(key string) *http.Request {
	r := newRequest()
	r.Header.Set(DefaultAPIKeyHeader, key)
	return r
}

func withSessionCookie(token string) *http.Request {
	r := newRequest()
	r.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: token})
	return r
}

func withBearer(token string) *http.Request {
	r := newRequest()
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}
