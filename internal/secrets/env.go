package secrets

import (
	"context"
	"os"
	"sort"
	"strings"
)

// EnvProvider reads secrets from environment variables.
// This is the default provider and requires no external dependencies.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates a new environment variable provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{
		prefix: "FOLIO_SECRET_",
	}
}

// Name returns the provider name.
func (p *EnvProvider) Name() string {
	return "env"
}

// Get retrieves a secret from environment variables.
// It tries FOLIO_SECRET_<KEY>, then <KEY>, then the key as written.
func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	secret, err := p.GetWithMetadata(ctx, key)
	if err != nil {
		return "", err
	}
	return secret.Value, nil
}

// candidates lists the variable names tried for key, in order.
func (p *EnvProvider) candidates(key string) []string {
	envKey := p.normalizeKey(key)
	return []string{p.prefix + envKey, envKey, key}
}

// GetWithMetadata retrieves a secret and names the variable it came from.
func (p *EnvProvider) GetWithMetadata(_ context.Context, key string) (*Secret, error) {
	for _, name := range p.candidates(key) {
		if value := os.Getenv(name); value != "" {
			return &Secret{
				Key:      key,
				Value:    value,
				Version:  "env",
				Metadata: map[string]string{"source": "environment", "variable": name},
			}, nil
		}
	}
	return nil, ErrSecretNotFound
}

// List returns environment variables that match the prefix.
func (p *EnvProvider) List(_ context.Context) ([]string, error) {
	var keys []string
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 && strings.HasPrefix(parts[0], p.prefix) {
			key := strings.TrimPrefix(parts[0], p.prefix)
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op for environment provider.
func (p *EnvProvider) Close() error {
	return nil
}

// Healthy always returns true for environment provider.
func (p *EnvProvider) Healthy(_ context.Context) bool {
	return true
}

// normalizeKey converts a key to environment variable format.
// e.g., "database.password" -> "DATABASE_PASSWORD"
func (p *EnvProvider) normalizeKey(key string) string {
	key = strings.ToUpper(key)
	key = strings.ReplaceAll(key, ".", "_")
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, "/", "_")
	return key
}
