// Package server provides the HTTP handler assembly for Folio.
// It accepts all dependencies as parameters so that both main() and tests
// can build the same handler chain without route drift.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rjsadow/folio/internal/config"
	"github.com/rjsadow/folio/internal/db"
	"github.com/rjsadow/folio/internal/identity"
	"github.com/rjsadow/folio/internal/middleware"
	"github.com/rjsadow/folio/internal/plugins"
)

// App holds all dependencies needed to build the HTTP handler.
type App struct {
	DB       *db.DB
	Registry *plugins.Registry // nil skips plugin checks in /readyz
	Auth     plugins.AuthProvider
	Profiles plugins.ProfileStore

	// Identity enables sign-up, sign-in, sign-out and key management. Set
	// it only when the local provider is active.
	Identity *identity.Service

	Secrets  SecretsBackend      // nil skips the secrets check in /readyz
	Metrics  *middleware.Metrics
	Gatherer prometheus.Gatherer // nil disables /metrics
	Config   *config.Config
}

// SecretsBackend is the part of secrets.Manager that /readyz reports on.
type SecretsBackend interface {
	ProviderName() string
	Healthy(ctx context.Context) bool
}

// Handler builds and returns the complete HTTP handler with all routes
// registered and middleware applied.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	h := &handlers{app: a}

	opts := middleware.Options{Metrics: a.Metrics}
	requireSession := middleware.RequireSession(a.Auth, opts)
	requireAdmin := middleware.RequireRole(a.Profiles, plugins.RoleAdmin)

	// Every request gets a resolved Identity; Require* below reuse it
	r.Use(middleware.Identify(a.Auth, opts))

	// Observability endpoints (public)
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyz)
	if a.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			if a.Identity != nil {
				r.Group(func(r chi.Router) {
					if limit := a.Config.SignInRateLimit; limit > 0 {
						r.Use(httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
					}
					r.Post("/sign-up", h.handleSignUp)
					r.Post("/sign-in", h.handleSignIn)
				})
				r.Post("/sign-out", h.handleSignOut)
			}
			r.With(requireSession).Get("/session", h.handleSession)
		})

		r.Route("/me", func(r chi.Router) {
			r.Use(requireSession)
			r.Get("/profile", h.handleGetProfile)
			r.Patch("/profile", h.handleUpdatePreferences)
			if a.Identity != nil {
				r.Get("/keys", h.handleListKeys)
				r.Post("/keys", h.handleCreateKey)
				r.Delete("/keys/{id}", h.handleRevokeKey)
			}
		})

		// Stand-ins for the CMS core's programmatic routes
		r.Route("/v1", func(r chi.Router) {
			r.Get("/whoami", h.handleWhoami)
			r.With(middleware.RequireAPIKey(a.Auth, opts, plugins.PermissionRead)).Get("/content", h.handleListContent)
			r.With(middleware.RequireAPIKey(a.Auth, opts, plugins.PermissionWrite)).Post("/content", h.handleCreateContent)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireSession, requireAdmin)
			r.Get("/profiles", h.handleListProfiles)
			r.Put("/profiles/{userID}/role", h.handleSetRole)
			r.Get("/audit", h.handleAuditLogs)
			r.Get("/audit/actions", h.handleAuditActions)
			r.Get("/plugins", h.handlePlugins)
		})
	})

	return middleware.SecurityHeaders(middleware.RequestID(r))
}
