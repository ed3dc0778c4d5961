package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry manages registered plugin factories and the active instances.
// A Registry is built by the caller and passed where needed; there is no
// process-wide instance, so tests can assemble their own.
type Registry struct {
	mu sync.RWMutex

	// factories stores plugin factories by type and name
	factories map[PluginType]map[string]PluginFactory

	activeAuth    AuthProvider
	activeStorage ProfileStore

	config *RegistryConfig
}

// RegistryConfig holds configuration for the plugin registry.
type RegistryConfig struct {
	// Auth is the name of the auth plugin to use.
	Auth string

	// Storage is the name of the profile store plugin to use.
	Storage string

	// PluginConfigs holds configuration for individual plugins.
	// Key format: "type.name" (e.g., "auth.jwt", "storage.database")
	PluginConfigs map[string]map[string]string
}

// DefaultRegistryConfig returns the default registry configuration.
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		Auth:          "local",
		Storage:       "database",
		PluginConfigs: make(map[string]map[string]string),
	}
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[PluginType]map[string]PluginFactory{
			PluginTypeAuth:    make(map[string]PluginFactory),
			PluginTypeStorage: make(map[string]PluginFactory),
		},
	}
}

// Register adds a plugin factory to the registry.
func (r *Registry) Register(pluginType PluginType, name string, factory PluginFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[pluginType]; !exists {
		return fmt.Errorf("unknown plugin type: %s", pluginType)
	}

	if _, exists := r.factories[pluginType][name]; exists {
		return fmt.Errorf("plugin already registered: %s.%s", pluginType, name)
	}

	r.factories[pluginType][name] = factory
	slog.Debug("registered plugin", "type", pluginType, "name", name)
	return nil
}

// Initialize creates and initializes the configured plugins.
func (r *Registry) Initialize(ctx context.Context, cfg *RegistryConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.config = cfg

	plugin, err := r.build(ctx, PluginTypeAuth, cfg.Auth, cfg.PluginConfigs)
	if err != nil {
		return fmt.Errorf("failed to initialize auth plugin: %w", err)
	}
	auth, ok := plugin.(AuthProvider)
	if !ok {
		return fmt.Errorf("plugin %s does not implement AuthProvider", cfg.Auth)
	}
	r.activeAuth = auth

	plugin, err = r.build(ctx, PluginTypeStorage, cfg.Storage, cfg.PluginConfigs)
	if err != nil {
		return fmt.Errorf("failed to initialize storage plugin: %w", err)
	}
	storage, ok := plugin.(ProfileStore)
	if !ok {
		return fmt.Errorf("plugin %s does not implement ProfileStore", cfg.Storage)
	}
	r.activeStorage = storage

	return nil
}

func (r *Registry) build(ctx context.Context, pluginType PluginType, name string, configs map[string]map[string]string) (Plugin, error) {
	factory, exists := r.factories[pluginType][name]
	if !exists {
		return nil, fmt.Errorf("%w: %s.%s", ErrPluginNotFound, pluginType, name)
	}

	plugin := factory()

	pluginConfig := configs[fmt.Sprintf("%s.%s", pluginType, name)]
	if pluginConfig == nil {
		pluginConfig = make(map[string]string)
	}

	if err := plugin.Initialize(ctx, pluginConfig); err != nil {
		return nil, fmt.Errorf("failed to initialize %s: %w", name, err)
	}

	slog.Info("initialized plugin", "type", pluginType, "name", name)
	return plugin, nil
}

// Auth returns the active auth plugin.
func (r *Registry) Auth() AuthProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeAuth
}

// Storage returns the active profile store.
func (r *Registry) Storage() ProfileStore {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeStorage
}

// ListPlugins returns information about all registered plugins, sorted by
// type then name.
func (r *Registry) ListPlugins() []PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var infos []PluginInfo
	for pluginType, factories := range r.factories {
		for name, factory := range factories {
			plugin := factory()
			infos = append(infos, PluginInfo{
				Name:        name,
				Type:        pluginType,
				Version:     plugin.Version(),
				Description: plugin.Description(),
				Active:      r.isActive(pluginType, name),
			})
		}
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Type != infos[j].Type {
			return infos[i].Type < infos[j].Type
		}
		return infos[i].Name < infos[j].Name
	})
	return infos
}

func (r *Registry) isActive(pluginType PluginType, name string) bool {
	switch pluginType {
	case PluginTypeAuth:
		return r.activeAuth != nil && r.activeAuth.Name() == name
	case PluginTypeStorage:
		return r.activeStorage != nil && r.activeStorage.Name() == name
	}
	return false
}

// HealthCheck performs health checks on all active plugins.
func (r *Registry) HealthCheck(ctx context.Context) []HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var statuses []HealthStatus

	if r.activeAuth != nil {
		statuses = append(statuses, checkHealth(ctx, r.activeAuth))
	}

	if r.activeStorage != nil {
		statuses = append(statuses, checkHealth(ctx, r.activeStorage))
	}

	return statuses
}

func checkHealth(ctx context.Context, plugin Plugin) HealthStatus {
	healthy := plugin.Healthy(ctx)
	status := HealthStatus{
		PluginName: plugin.Name(),
		PluginType: plugin.Type(),
		Healthy:    healthy,
		CheckedAt:  time.Now(),
	}

	if healthy {
		status.Message = "OK"
	} else {
		status.Message = "Unhealthy"
	}

	return status
}

// Close releases resources for all active plugins.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error

	if r.activeAuth != nil {
		if err := r.activeAuth.Close(); err != nil {
			errs = append(errs, fmt.Errorf("auth close: %w", err))
		}
	}

	if r.activeStorage != nil {
		if err := r.activeStorage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}

	return errors.Join(errs...)
}
