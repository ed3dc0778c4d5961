package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rjsadow/folio/internal/plugins"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// IdentityContextKey is the key used to store the resolved identity in the request context
	IdentityContextKey contextKey = "identity"

	// DefaultAPIPrefix is the path prefix under which Identify resolves API keys.
	DefaultAPIPrefix = "/api/"

	tracerName = "github.com/rjsadow/folio/internal/middleware"
)

// Identity is what the boundary resolved for one request. Either field may
// be nil.
type Identity struct {
	Session *plugins.SessionAuth
	APIKey  *plugins.APIKeyAuth

	// Set once a credential has been resolved for this request, whether or
	// not it was valid. Require* reuse the result instead of asking the
	// provider again.
	sessionChecked bool
	keyChecked     bool
}

// Authenticated reports whether any credential resolved.
func (i *Identity) Authenticated() bool {
	return i != nil && (i.Session != nil || i.APIKey != nil)
}

// UserID returns the session user's id, or "" for key-only identities.
func (i *Identity) UserID() string {
	if i == nil || i.Session == nil {
		return ""
	}
	return i.Session.User.ID
}

// Options configures the auth middleware.
type Options struct {
	// APIPrefix limits API key resolution in Identify to matching paths.
	// Default: "/api/".
	APIPrefix string

	// Metrics counts resolutions and denials. Optional.
	Metrics *Metrics

	// Tracer wraps each resolution in a span. Default: the global provider.
	Tracer trace.Tracer
}

func (o Options) withDefaults() Options {
	if o.APIPrefix == "" {
		o.APIPrefix = DefaultAPIPrefix
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracerName)
	}
	return o
}

// GetIdentity retrieves the identity attached by Identify or a Require*
// middleware. Returns nil if none ran.
func GetIdentity(ctx context.Context) *Identity {
	identity, ok := ctx.Value(IdentityContextKey).(*Identity)
	if !ok {
		return nil
	}
	return identity
}

// GetSession retrieves the resolved session from the request context.
func GetSession(ctx context.Context) *plugins.SessionAuth {
	if identity := GetIdentity(ctx); identity != nil {
		return identity.Session
	}
	return nil
}

// GetAPIKey retrieves the resolved API key from the request context.
func GetAPIKey(ctx context.Context) *plugins.APIKeyAuth {
	if identity := GetIdentity(ctx); identity != nil {
		return identity.APIKey
	}
	return nil
}

// withIdentity merges update into any identity already on ctx.
func withIdentity(ctx context.Context, update Identity) context.Context {
	merged := Identity{}
	if existing := GetIdentity(ctx); existing != nil {
		merged = *existing
	}
	if update.Session != nil {
		merged.Session = update.Session
	}
	if update.APIKey != nil {
		merged.APIKey = update.APIKey
	}
	merged.sessionChecked = merged.sessionChecked || update.sessionChecked
	merged.keyChecked = merged.keyChecked || update.keyChecked
	return context.WithValue(ctx, IdentityContextKey, &merged)
}

// Identify resolves the session on every request and the API key on API
// routes, and attaches the result. It never rejects a request.
func Identify(provider plugins.AuthProvider, opts Options) func(http.Handler) http.Handler {
	opts = opts.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := opts.Tracer.Start(r.Context(), "auth.identify")
			defer span.End()

			identity := Identity{sessionChecked: true}

			session, err := provider.GetSession(ctx, r)
			if err != nil {
				Logger(ctx).Error("session resolution failed", "provider", provider.Name(), "error", err)
				span.RecordError(err)
			}
			identity.Session = session
			opts.Metrics.resolved(plugins.CredentialSession, session != nil)

			if strings.HasPrefix(r.URL.Path, opts.APIPrefix) {
				key, err := provider.ValidateAPIKey(ctx, r)
				if err != nil {
					Logger(ctx).Error("api key resolution failed", "provider", provider.Name(), "error", err)
					span.RecordError(err)
				}
				identity.APIKey = key
				identity.keyChecked = true
				opts.Metrics.resolved(plugins.CredentialAPIKey, key != nil)
			}

			span.SetAttributes(
				attribute.String("auth.provider", provider.Name()),
				attribute.Bool("auth.session", identity.Session != nil),
				attribute.Bool("auth.api_key", identity.APIKey != nil),
			)

			next.ServeHTTP(w, r.WithContext(withIdentity(ctx, identity)))
		})
	}
}

// RequireSession rejects requests without a valid session with 401.
func RequireSession(provider plugins.AuthProvider, opts Options) func(http.Handler) http.Handler {
	opts = opts.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := opts.Tracer.Start(r.Context(), "auth.require_session")
			defer span.End()
			span.SetAttributes(attribute.String("auth.provider", provider.Name()))

			session, err := requireSession(ctx, r, provider, opts.Metrics)
			if err != nil {
				deny(ctx, w, span, opts.Metrics, plugins.CredentialSession, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(withIdentity(ctx, Identity{Session: session, sessionChecked: true})))
		})
	}
}

// RequireAPIKey rejects requests without a valid API key with 401, and keys
// missing any of perms with 403.
func RequireAPIKey(provider plugins.AuthProvider, opts Options, perms ...plugins.Permission) func(http.Handler) http.Handler {
	opts = opts.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := opts.Tracer.Start(r.Context(), "auth.require_api_key")
			defer span.End()
			span.SetAttributes(attribute.String("auth.provider", provider.Name()))

			key, err := requireAPIKey(ctx, r, provider, opts.Metrics, perms)
			if err != nil {
				deny(ctx, w, span, opts.Metrics, plugins.CredentialAPIKey, err)
				return
			}
			span.SetAttributes(attribute.String("auth.key_id", key.KeyID))

			next.ServeHTTP(w, r.WithContext(withIdentity(ctx, Identity{APIKey: key, keyChecked: true})))
		})
	}
}

// requireSession reuses the session Identify resolved, if it ran, and asks
// the provider otherwise.
func requireSession(ctx context.Context, r *http.Request, provider plugins.AuthProvider, m *Metrics) (*plugins.SessionAuth, error) {
	if identity := GetIdentity(ctx); identity != nil && identity.sessionChecked {
		if identity.Session == nil {
			return nil, plugins.ErrUnauthorized
		}
		return identity.Session, nil
	}
	session, err := provider.RequireSession(ctx, r)
	if err == nil {
		m.resolved(plugins.CredentialSession, true)
	}
	return session, err
}

// requireAPIKey checks perms against the key Identify resolved, if it ran,
// and asks the provider otherwise.
func requireAPIKey(ctx context.Context, r *http.Request, provider plugins.AuthProvider, m *Metrics, perms []plugins.Permission) (*plugins.APIKeyAuth, error) {
	if identity := GetIdentity(ctx); identity != nil && identity.keyChecked {
		if identity.APIKey == nil {
			return nil, plugins.ErrUnauthorized
		}
		if !identity.APIKey.Permissions.HasAll(perms...) {
			return nil, plugins.ErrForbidden
		}
		return identity.APIKey, nil
	}
	key, err := provider.RequireAPIKey(ctx, r, perms...)
	if err == nil {
		m.resolved(plugins.CredentialAPIKey, true)
	}
	return key, err
}

// deny maps boundary errors to HTTP statuses.
func deny(ctx context.Context, w http.ResponseWriter, span trace.Span, m *Metrics, kind plugins.CredentialKind, err error) {
	switch {
	case errors.Is(err, plugins.ErrUnauthorized):
		m.denied(kind, "401")
		span.SetStatus(codes.Error, "unauthorized")
		http.Error(w, "Authentication required", http.StatusUnauthorized)
	case errors.Is(err, plugins.ErrForbidden):
		m.denied(kind, "403")
		span.SetStatus(codes.Error, "forbidden")
		http.Error(w, "Insufficient permissions", http.StatusForbidden)
	default:
		Logger(ctx).Error("credential check failed", "credential", kind, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
