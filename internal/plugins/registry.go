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

// Registry manages registered provider factories and the providers that
// have been built from them.
type Registry struct {
	mu sync.RWMutex

	// factories stores plugin factories by id
	factories map[string]PluginFactory

	// active stores initialized plugin instances in the order they were built
	active []Plugin
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]PluginFactory),
	}
}

// ConfigKey returns the key under which a provider's configuration is stored.
func ConfigKey(id string) string {
	return fmt.Sprintf("provider.%s", id)
}

// Register adds a plugin factory to the registry.
// This should be called during init() in plugin packages.
func (r *Registry) Register(id string, factory PluginFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		return fmt.Errorf("%w: empty plugin id", ErrInvalidConfig)
	}
	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("plugin already registered: %s", id)
	}

	r.factories[id] = factory
	slog.Debug("registered plugin", "id", id)
	return nil
}

// Build instantiates and initializes the providers named by ids, in that
// order. configs is keyed by ConfigKey. Any failure closes the providers
// built so far.
func (r *Registry) Build(ctx context.Context, ids []string, configs map[string]map[string]string) ([]Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	built := make([]Plugin, 0, len(ids))
	seen := make(map[string]bool, len(ids))

	fail := func(err error) ([]Plugin, error) {
		for _, p := range built {
			p.Close()
		}
		return nil, err
	}

	for _, id := range ids {
		if seen[id] {
			return fail(fmt.Errorf("duplicate provider: %s", id))
		}
		seen[id] = true

		factory, exists := r.factories[id]
		if !exists {
			return fail(fmt.Errorf("%w: %s", ErrPluginNotFound, id))
		}

		plugin := factory()
		if plugin.ID() != id {
			return fail(fmt.Errorf("plugin registered as %s reports id %s", id, plugin.ID()))
		}

		pluginConfig := configs[ConfigKey(id)]
		if pluginConfig == nil {
			pluginConfig = make(map[string]string)
		}

		if err := plugin.Initialize(ctx, pluginConfig); err != nil {
			return fail(fmt.Errorf("failed to initialize %s: %w", id, err))
		}

		built = append(built, plugin)
		slog.Info("initialized provider", "id", id, "type", plugin.Type())
	}

	r.active = append(r.active, built...)
	return built, nil
}

// ListPlugins returns information about all registered plugins, sorted by id.
func (r *Registry) ListPlugins() []PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugins := make([]PluginInfo, 0, len(r.factories))
	for id, factory := range r.factories {
		plugin := factory()
		plugins = append(plugins, PluginInfo{
			ID:          id,
			Name:        plugin.Name(),
			Type:        plugin.Type(),
			Version:     plugin.Version(),
			Description: plugin.Description(),
		})
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].ID < plugins[j].ID })

	return plugins
}

// HealthCheck performs health checks on all active plugins.
func (r *Registry) HealthCheck(ctx context.Context) []HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]HealthStatus, 0, len(r.active))
	for _, p := range r.active {
		statuses = append(statuses, checkHealth(ctx, p))
	}
	return statuses
}

func checkHealth(ctx context.Context, plugin Plugin) HealthStatus {
	healthy := plugin.Healthy(ctx)
	status := HealthStatus{
		PluginID:   plugin.ID(),
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
	for _, p := range r.active {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close: %w", p.ID(), err))
		}
	}
	r.active = nil

	if len(errs) > 0 {
		return fmt.Errorf("errors closing plugins: %w", errors.Join(errs...))
	}
	return nil
}

// Global registry instance
var globalRegistry *Registry
var globalRegistryOnce sync.Once

// Global returns the global plugin registry.
func Global() *Registry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}

// RegisterGlobal registers a plugin with the global registry.
// This is a convenience function for use in plugin init() functions.
func RegisterGlobal(id string, factory PluginFactory) {
	if err := Global().Register(id, factory); err != nil {
		slog.Warn("failed to register plugin", "id", id, "error", err)
	}
}
