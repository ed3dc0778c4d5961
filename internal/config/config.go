// Package config provides centralized configuration management for Folio.
// Configuration is loaded from environment variables with sensible defaults.
// Invalid values cause the application to fail fast with every problem listed
// at once.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Port int

	// Database configuration
	DB         string // SQLite file path
	DBType     string // "sqlite" (default) or "postgres"
	DBDSN      string // Full PostgreSQL DSN (takes precedence over individual params)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Plugin selection
	AuthProvider string // local, jwt, oidc or noop
	ProfileStore string // database or memory

	// Credential transport
	SessionCookie string
	APIKeyHeader  string

	// Built-in identity provider
	SessionTTL      time.Duration
	SessionCleanup  time.Duration
	APIKeyPrefix    string
	APIKeyRateLimit float64 // verifications per second per key (0 = unlimited)
	APIKeyBurst     int
	AllowSignUp     bool
	AdminEmail      string
	AdminPassword   string
	SignInRateLimit int // attempts per minute per client IP (0 = disabled)

	// JWT provider
	JWTSecret string
	JWTExpiry time.Duration

	// OIDC provider
	OIDCIssuer   string
	OIDCClientID string
	OIDCUserInfo bool

	// Secrets backend
	SecretsProvider string
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "configuration errors:\n  - " + strings.Join(msgs, "\n  - ")
}

// Default values for configuration.
const (
	DefaultPort      = 8080
	DefaultDBPath    = "folio.db"
	DefaultDBType    = "sqlite"
	DefaultDBPort    = 5432
	DefaultDBSSLMode = "disable"

	DefaultAuthProvider = "local"
	DefaultProfileStore = "database"

	DefaultSessionCookie = "folio.session_token"
	DefaultAPIKeyHeader  = "x-api-key"

	DefaultSessionTTL      = 7 * 24 * time.Hour
	DefaultSessionCleanup  = 15 * time.Minute
	DefaultAPIKeyPrefix    = "folio_"
	DefaultAPIKeyRateLimit = 10.0
	DefaultAPIKeyBurst     = 20
	DefaultSignInRateLimit = 10

	DefaultJWTExpiry = 24 * time.Hour

	DefaultSecretsProvider = "env"

	// MinJWTSecretLength matches the jwt adapter's own check.
	MinJWTSecretLength = 32
)

// Load reads configuration from environment variables and validates it.
// Returns an error describing all validation failures.
func Load() (*Config, error) {
	cfg := &Config{
		Port:      DefaultPort,
		DB:        DefaultDBPath,
		DBType:    DefaultDBType,
		DBPort:    DefaultDBPort,
		DBSSLMode: DefaultDBSSLMode,

		AuthProvider: DefaultAuthProvider,
		ProfileStore: DefaultProfileStore,

		SessionCookie: DefaultSessionCookie,
		APIKeyHeader:  DefaultAPIKeyHeader,

		SessionTTL:      DefaultSessionTTL,
		SessionCleanup:  DefaultSessionCleanup,
		APIKeyPrefix:    DefaultAPIKeyPrefix,
		APIKeyRateLimit: DefaultAPIKeyRateLimit,
		APIKeyBurst:     DefaultAPIKeyBurst,
		SignInRateLimit: DefaultSignInRateLimit,
		AllowSignUp:     true,

		JWTExpiry: DefaultJWTExpiry,

		SecretsProvider: DefaultSecretsProvider,
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}

// envParser accumulates parse failures so Load can report them together.
type envParser struct {
	errs ValidationErrors
}

func (p *envParser) fail(field, format string, args ...any) {
	p.errs = append(p.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (p *envParser) str(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (p *envParser) boolean(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, "invalid boolean: %q (use true or false)", v)
		return
	}
	*dst = b
}

func (p *envParser) integer(key string, min int, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, "invalid value: %q (must be an integer)", v)
		return
	}
	if n < min {
		p.fail(key, "value must be at least %d: %d", min, n)
		return
	}
	*dst = n
}

func (p *envParser) number(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, "invalid rate: %q (must be a number)", v)
		return
	}
	if f < 0 {
		p.fail(key, "rate must be non-negative: %v", f)
		return
	}
	*dst = f
}

// duration accepts Go duration syntax ("12h", "90m").
func (p *envParser) duration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, "invalid duration: %q (e.g. \"24h\" or \"30m\")", v)
		return
	}
	if d <= 0 {
		p.fail(key, "duration must be positive: %s", d)
		return
	}
	*dst = d
}

// loadFromEnv populates the config from environment variables.
func (c *Config) loadFromEnv() error {
	p := &envParser{}

	p.integer("FOLIO_PORT", 0, &c.Port)

	p.str("FOLIO_DB", &c.DB)
	p.str("FOLIO_DB_TYPE", &c.DBType)
	p.str("FOLIO_DB_DSN", &c.DBDSN)
	p.str("FOLIO_DB_HOST", &c.DBHost)
	p.integer("FOLIO_DB_PORT", 1, &c.DBPort)
	p.str("FOLIO_DB_NAME", &c.DBName)
	p.str("FOLIO_DB_USER", &c.DBUser)
	p.str("FOLIO_DB_PASSWORD", &c.DBPassword)
	p.str("FOLIO_DB_SSLMODE", &c.DBSSLMode)

	p.str("FOLIO_AUTH_PROVIDER", &c.AuthProvider)
	p.str("FOLIO_PROFILE_STORE", &c.ProfileStore)
	c.AuthProvider = strings.ToLower(c.AuthProvider)
	c.ProfileStore = strings.ToLower(c.ProfileStore)

	p.str("FOLIO_SESSION_COOKIE", &c.SessionCookie)
	p.str("FOLIO_API_KEY_HEADER", &c.APIKeyHeader)

	p.duration("FOLIO_SESSION_TTL", &c.SessionTTL)
	p.duration("FOLIO_SESSION_CLEANUP_INTERVAL", &c.SessionCleanup)
	p.str("FOLIO_API_KEY_PREFIX", &c.APIKeyPrefix)
	p.number("FOLIO_API_KEY_RATE_LIMIT", &c.APIKeyRateLimit)
	p.integer("FOLIO_API_KEY_BURST", 1, &c.APIKeyBurst)
	p.integer("FOLIO_SIGNIN_RATE_LIMIT", 0, &c.SignInRateLimit)
	p.boolean("FOLIO_ALLOW_SIGNUP", &c.AllowSignUp)
	p.str("FOLIO_ADMIN_EMAIL", &c.AdminEmail)
	p.str("FOLIO_ADMIN_PASSWORD", &c.AdminPassword)

	p.str("FOLIO_JWT_SECRET", &c.JWTSecret)
	p.duration("FOLIO_JWT_EXPIRY", &c.JWTExpiry)

	p.str("FOLIO_OIDC_ISSUER", &c.OIDCIssuer)
	p.str("FOLIO_OIDC_CLIENT_ID", &c.OIDCClientID)
	p.boolean("FOLIO_OIDC_USERINFO", &c.OIDCUserInfo)

	p.str("FOLIO_SECRETS_PROVIDER", &c.SecretsProvider)

	if len(p.errs) > 0 {
		return p.errs
	}
	return nil
}

// Validate checks that the configuration is valid. Secrets that may still
// arrive from the secrets backend (FOLIO_JWT_SECRET, FOLIO_ADMIN_PASSWORD)
// are only checked for length when present.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "FOLIO_PORT",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Port),
		})
	}

	switch c.DBType {
	case "sqlite":
		if c.DB == "" {
			errs = append(errs, ValidationError{
				Field:   "FOLIO_DB",
				Message: "database path cannot be empty",
			})
		}
	case "postgres":
		if c.DBDSN == "" && (c.DBHost == "" || c.DBName == "" || c.DBUser == "") {
			errs = append(errs, ValidationError{
				Field:   "FOLIO_DB_DSN",
				Message: "PostgreSQL requires either FOLIO_DB_DSN or all of FOLIO_DB_HOST, FOLIO_DB_NAME, and FOLIO_DB_USER",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "FOLIO_DB_TYPE",
			Message: fmt.Sprintf("unsupported database type: %q (must be \"sqlite\" or \"postgres\")", c.DBType),
		})
	}

	switch c.AuthProvider {
	case "local", "noop":
	case "jwt":
		if c.JWTSecret != "" && len(c.JWTSecret) < MinJWTSecretLength {
			errs = append(errs, ValidationError{
				Field:   "FOLIO_JWT_SECRET",
				Message: fmt.Sprintf("secret must be at least %d characters", MinJWTSecretLength),
			})
		}
	case "oidc":
		if c.OIDCIssuer == "" || c.OIDCClientID == "" {
			errs = append(errs, ValidationError{
				Field:   "FOLIO_OIDC_ISSUER",
				Message: "oidc provider requires FOLIO_OIDC_ISSUER and FOLIO_OIDC_CLIENT_ID",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "FOLIO_AUTH_PROVIDER",
			Message: fmt.Sprintf("unknown auth provider: %q (must be local, jwt, oidc or noop)", c.AuthProvider),
		})
	}

	switch c.ProfileStore {
	case "database", "memory":
	default:
		errs = append(errs, ValidationError{
			Field:   "FOLIO_PROFILE_STORE",
			Message: fmt.Sprintf("unknown profile store: %q (must be database or memory)", c.ProfileStore),
		})
	}

	if c.SessionCookie == "" {
		errs = append(errs, ValidationError{Field: "FOLIO_SESSION_COOKIE", Message: "cookie name cannot be empty"})
	}
	if c.APIKeyHeader == "" {
		errs = append(errs, ValidationError{Field: "FOLIO_API_KEY_HEADER", Message: "header name cannot be empty"})
	}

	if c.AdminPassword != "" && c.AdminEmail == "" {
		errs = append(errs, ValidationError{
			Field:   "FOLIO_ADMIN_EMAIL",
			Message: "FOLIO_ADMIN_PASSWORD is set without FOLIO_ADMIN_EMAIL",
		})
	}

	switch c.SecretsProvider {
	case "env", "kubernetes":
	default:
		errs = append(errs, ValidationError{
			Field:   "FOLIO_SECRETS_PROVIDER",
			Message: fmt.Sprintf("unknown secrets provider: %q (must be env or kubernetes)", c.SecretsProvider),
		})
	}

	return errs
}

// DSN returns the database connection string based on the configured database type.
// For SQLite, it returns the file path. For PostgreSQL, it constructs a DSN from
// individual parameters or returns the explicit DSN if set.
func (c *Config) DSN() string {
	switch c.DBType {
	case "postgres":
		if c.DBDSN != "" {
			return c.DBDSN
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
	default:
		return c.DB
	}
}

// IsPostgres returns true if the configured database type is PostgreSQL.
func (c *Config) IsPostgres() bool {
	return c.DBType == "postgres"
}

// AuthConfig is the Initialize map shared by every auth adapter. Keys an
// adapter does not know are ignored.
func (c *Config) AuthConfig() map[string]string {
	m := map[string]string{
		"session_cookie": c.SessionCookie,
		"api_key_header": c.APIKeyHeader,
	}
	switch c.AuthProvider {
	case "jwt":
		m["jwt_secret"] = c.JWTSecret
		if c.JWTExpiry > 0 {
			m["session_expiry"] = c.JWTExpiry.String()
		}
	case "oidc":
		m["issuer"] = c.OIDCIssuer
		m["client_id"] = c.OIDCClientID
		m["userinfo"] = strconv.FormatBool(c.OIDCUserInfo)
	}
	return m
}

// LoadWithFlags loads configuration from environment variables,
// then applies command-line flag overrides.
func LoadWithFlags(port int, db, authProvider string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	// Apply flag overrides (only if non-default values provided)
	if port != 0 && port != DefaultPort {
		cfg.Port = port
	}
	if db != "" && db != DefaultDBPath {
		cfg.DB = db
	}
	if authProvider != "" {
		cfg.AuthProvider = strings.ToLower(authProvider)
	}

	// Re-validate after applying overrides
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}
