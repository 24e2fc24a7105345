// Package secrets resolves Passage credentials from an external secret store.
//
// Supported providers:
//   - Environment variables (env) - default
//   - Kubernetes Secrets (kubernetes)
//
// Secrets are read once at startup and copied into the server configuration.
// A secret missing from the store leaves the configured value in place.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Provider defines the interface for secret store backends.
type Provider interface {
	// Name returns the provider name for logging and debugging.
	Name() string

	// Get retrieves a secret by key.
	// Returns ErrSecretNotFound if the secret doesn't exist.
	Get(ctx context.Context, key string) (string, error)

	// Healthy returns true if the provider is accessible.
	Healthy(ctx context.Context) bool

	// Close releases any resources held by the provider.
	Close() error
}

// Common errors returned by providers.
var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrNotConfigured  = errors.New("provider not configured")
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

	// Kubernetes configuration. An empty namespace means the namespace of
	// the pod's service account.
	K8sNamespace  string
	K8sSecretName string
	K8sKubeconfig string
}

// Validate checks that the configuration is valid for the selected provider.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderTypeEnv, "":
		return nil
	case ProviderTypeKubernetes:
		if c.K8sSecretName == "" {
			return fmt.Errorf("%w: PASSAGE_K8S_SECRET_NAME is required for the kubernetes provider", ErrNotConfigured)
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
	case ProviderTypeKubernetes:
		provider, err = NewKubernetesProvider(cfg)
	default:
		provider = NewEnvProvider()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s provider: %w", cfg.Provider, err)
	}

	return NewManagerWithProvider(provider), nil
}

// NewManagerWithProvider wraps an already constructed provider.
func NewManagerWithProvider(p Provider) *Manager {
	return &Manager{provider: p}
}

// Get retrieves a secret by key.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	return m.provider.Get(ctx, key)
}

// Resolve looks up each key of dests and stores the value found through its
// pointer. Keys absent from the store keep their current value; any other
// lookup error aborts.
func (m *Manager) Resolve(ctx context.Context, dests map[string]*string) error {
	for key, dest := range dests {
		value, err := m.provider.Get(ctx, key)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to resolve secret %s: %w", key, err)
		}
		*dest = value
		slog.Debug("Resolved secret", "key", key, "provider", m.provider.Name())
	}
	return nil
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
