package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rjsadow/folio/internal/config"
	"github.com/rjsadow/folio/internal/db"
	"github.com/rjsadow/folio/internal/identity"
	"github.com/rjsadow/folio/internal/middleware"
	"github.com/rjsadow/folio/internal/plugins"
	"github.com/rjsadow/folio/internal/plugins/auth"
	"github.com/rjsadow/folio/internal/plugins/storage"
	"github.com/rjsadow/folio/internal/secrets"
	"github.com/rjsadow/folio/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Parse command-line flags (can override env vars)
	port := flag.Int("port", config.DefaultPort, "Port to listen on")
	dbPath := flag.String("db", config.DefaultDBPath, "Path to SQLite database")
	provider := flag.String("auth", "", "Auth provider: local, jwt, oidc or noop")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.LoadWithFlags(*port, *dbPath, *provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error:\n%v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("folio exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	secretsMgr, err := resolveSecrets(ctx, cfg)
	if err != nil {
		return err
	}
	defer secretsMgr.Close()

	database, err := db.OpenDB(cfg.DBType, cfg.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	svc := identity.NewService(database, identity.Config{
		SessionTTL:      cfg.SessionTTL,
		APIKeyPrefix:    cfg.APIKeyPrefix,
		APIKeyRateLimit: cfg.APIKeyRateLimit,
		APIKeyBurst:     cfg.APIKeyBurst,
	})
	svc.StartCleanup(ctx, cfg.SessionCleanup)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := middleware.NewMetrics(promReg)
	recorder := plugins.FailureRecorders{db.NewAuditRecorder(database), metrics}

	reg, err := buildRegistry(database, svc, recorder)
	if err != nil {
		return err
	}
	if err := reg.Initialize(ctx, registryConfig(cfg)); err != nil {
		return err
	}
	defer reg.Close()

	app := &server.App{
		DB:       database,
		Registry: reg,
		Auth:     reg.Auth(),
		Profiles: reg.Storage(),
		Metrics:  metrics,
		Secrets:  secretsMgr,
		Gatherer: promReg,
		Config:   cfg,
	}

	// Sign-up, sign-in and key management only exist for the built-in provider
	if cfg.AuthProvider == "local" {
		app.Identity = svc
		svc.OnSignUp(server.ProfileOnSignUp(reg.Storage()))

		if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
			if _, err := server.SeedAdmin(ctx, svc, reg.Storage(), cfg.AdminEmail, cfg.AdminPassword); err != nil {
				slog.Warn("failed to seed admin account", "error", err)
			}
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("folio listening",
			"addr", srv.Addr,
			"auth_provider", cfg.AuthProvider,
			"profile_store", cfg.ProfileStore,
			"db_type", cfg.DBType,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// resolveSecrets fills the JWT secret and admin password from the secrets
// backend when they were not given directly. The returned manager stays open
// so /readyz can report on the backend; the caller closes it.
func resolveSecrets(ctx context.Context, cfg *config.Config) (*secrets.Manager, error) {
	scfg := secrets.LoadConfig()
	scfg.Provider = secrets.ProviderType(cfg.SecretsProvider)

	mgr, err := secrets.NewManager(scfg)
	if err != nil {
		return nil, err
	}
	if err := fillSecrets(ctx, cfg, mgr); err != nil {
		mgr.Close()
		return nil, err
	}

	keys, err := mgr.List(ctx)
	if err != nil {
		slog.Warn("failed to list secrets", "provider", mgr.ProviderName(), "error", err)
	}
	slog.Debug("secrets resolved", "provider", mgr.ProviderName(), "available", len(keys))
	return mgr, nil
}

func fillSecrets(ctx context.Context, cfg *config.Config, mgr *secrets.Manager) error {
	var err error
	if cfg.AuthProvider == "jwt" {
		if cfg.JWTSecret, err = mgr.Resolve(ctx, cfg.JWTSecret, secrets.KeyJWTSecret); err != nil {
			return err
		}
		if len(cfg.JWTSecret) < config.MinJWTSecretLength {
			return fmt.Errorf("jwt provider needs FOLIO_JWT_SECRET or a %q secret of at least %d characters",
				secrets.KeyJWTSecret, config.MinJWTSecretLength)
		}
	}
	if cfg.AdminEmail != "" {
		if cfg.AdminPassword, err = mgr.Resolve(ctx, cfg.AdminPassword, secrets.KeyAdminPassword); err != nil {
			return err
		}
	}
	return nil
}

// buildRegistry registers every shipped plugin. Factories close over their
// dependencies so nothing is global.
func buildRegistry(database *db.DB, svc *identity.Service, recorder plugins.FailureRecorder) (*plugins.Registry, error) {
	reg := plugins.NewRegistry()
	opts := []auth.Option{auth.WithFailureRecorder(recorder)}

	factories := []struct {
		pluginType plugins.PluginType
		name       string
		factory    plugins.PluginFactory
	}{
		{plugins.PluginTypeAuth, "local", func() plugins.Plugin { return auth.NewLocalAuthProvider(svc, opts...) }},
		{plugins.PluginTypeAuth, "jwt", func() plugins.Plugin { return auth.NewJWTAuthProvider(svc, opts...) }},
		{plugins.PluginTypeAuth, "oidc", func() plugins.Plugin { return auth.NewOIDCAuthProvider(svc, opts...) }},
		{plugins.PluginTypeAuth, "noop", func() plugins.Plugin { return auth.NewNoopAuthProvider() }},
		{plugins.PluginTypeStorage, "database", func() plugins.Plugin { return storage.NewDatabaseStorage(database) }},
		{plugins.PluginTypeStorage, "memory", func() plugins.Plugin { return storage.NewMemoryStorage() }},
	}
	for _, f := range factories {
		if err := reg.Register(f.pluginType, f.name, f.factory); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// registryConfig selects the configured plugins and hands each its settings.
func registryConfig(cfg *config.Config) *plugins.RegistryConfig {
	rc := plugins.DefaultRegistryConfig()
	rc.Auth = cfg.AuthProvider
	rc.Storage = cfg.ProfileStore
	rc.PluginConfigs["auth."+cfg.AuthProvider] = cfg.AuthConfig()
	return rc
}
