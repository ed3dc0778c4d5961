// Package secrets resolves sensitive configuration (the JWT signing secret,
// the bootstrap admin password) from an external store.
//
// Supported providers:
//   - Kubernetes Secrets (kubernetes)
//   - Environment variables (env) - default fallback
//
// Secrets are fetched on demand and not cached. Configuration errors fail
// fast at startup.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Provider defines the interface for secret store backends.
type Provider interface {
	// Name returns the provider name for logging and debugging.
	Name() string

	// Get retrieves a secret by key.
	// Returns ErrSecretNotFound if the secret doesn't exist.
	Get(ctx context.Context, key string) (string, error)

	// GetWithMetadata retrieves a secret along with metadata.
	GetWithMetadata(ctx context.Context, key string) (*Secret, error)

	// List returns all available secret keys.
	List(ctx context.Context) ([]string, error)

	// Close releases any resources held by the provider.
	Close() error

	// Healthy returns true if the provider is accessible.
	Healthy(ctx context.Context) bool
}

// Secret represents a secret value with optional metadata.
type Secret struct {
	Key       string
	Value     string
	Version   string
	CreatedAt time.Time
	Metadata  map[string]string
}

// Common errors returned by providers.
var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrNotConfigured  = errors.New("provider not configured")
)

// Well-known secret keys.
const (
	KeyJWTSecret     = "jwt-secret"
	KeyAdminPassword = "admin-password"
)

// ProviderType represents the type of secret provider.
type ProviderType string

const (
	ProviderTypeEnv        ProviderType = "env"
	ProviderTypeKubernetes ProviderType = "kubernetes"
)

// Config holds the configuration for secrets management.
type Config struct {
	// Provider specifies which secret store to use: env or kubernetes.
	Provider ProviderType

	// Kubernetes configuration
	K8sNamespace  string
	K8sSecretName string
	K8sKubeconfig string
	K8sInCluster  bool
}

// DefaultConfig returns the default secrets configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider:     ProviderTypeEnv,
		K8sInCluster: true,
	}
}

// LoadConfig loads secrets configuration from environment variables.
func LoadConfig() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("FOLIO_SECRETS_PROVIDER"); v != "" {
		cfg.Provider = ProviderType(strings.ToLower(v))
	}

	if v := os.Getenv("FOLIO_K8S_SECRET_NAMESPACE"); v != "" {
		cfg.K8sNamespace = v
	} else if v := os.Getenv("POD_NAMESPACE"); v != "" {
		cfg.K8sNamespace = v
	}

	if v := os.Getenv("FOLIO_K8S_SECRET_NAME"); v != "" {
		cfg.K8sSecretName = v
	}

	if v := os.Getenv("KUBECONFIG"); v != "" {
		cfg.K8sKubeconfig = v
		cfg.K8sInCluster = false
	}

	return cfg
}

// Validate checks that the configuration is valid for the selected provider.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderTypeEnv:
		return nil
	case ProviderTypeKubernetes:
		if c.K8sSecretName == "" {
			return fmt.Errorf("FOLIO_K8S_SECRET_NAME is required for kubernetes provider")
		}
		return nil
	default:
		return fmt.Errorf("unknown provider type: %q (valid: env, kubernetes)", c.Provider)
	}
}

// Manager provides access to secrets through the configured provider.
type Manager struct {
	provider Provider
}

// NewManager creates a new secrets manager with the given configuration.
func NewManager(cfg *Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid secrets configuration: %w", err)
	}

	var provider Provider
	var err error

	switch cfg.Provider {
	case ProviderTypeEnv:
		provider = NewEnvProvider()
	case ProviderTypeKubernetes:
		provider, err = NewKubernetesProvider(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s provider: %w", cfg.Provider, err)
	}

	return NewManagerWithProvider(provider), nil
}

// NewManagerWithProvider wraps an already-built provider.
func NewManagerWithProvider(provider Provider) *Manager {
	return &Manager{provider: provider}
}

// Get retrieves a secret by key.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	return m.provider.Get(ctx, key)
}

// Resolve returns current when set, otherwise the secret stored under key.
// A missing secret yields "" without error.
func (m *Manager) Resolve(ctx context.Context, current, key string) (string, error) {
	if current != "" {
		return current, nil
	}
	value, err := m.provider.Get(ctx, key)
	if errors.Is(err, ErrSecretNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve secret %q: %w", key, err)
	}
	return value, nil
}

// List returns all available secret keys.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.provider.List(ctx)
}

// Healthy returns true if the secrets provider is accessible.
func (m *Manager) Healthy(ctx context.Context) bool {
	return m.provider.Healthy(ctx)
}

// ProviderName returns the name of the active provider.
func (m *Manager) ProviderName() string {
	return m.provider.Name()
}

// Close releases resources held by the manager.
func (m *Manager) Close() error {
	if m.provider != nil {
		return m.provider.Close()
	}
	return nil
}
