package secrets

import (
	"context"
	"os"
	"strings"
)

// DefaultEnvPrefix is checked before the bare variable name.
const DefaultEnvPrefix = "PASSAGE_SECRET_"

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates a provider using DefaultEnvPrefix.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{prefix: DefaultEnvPrefix}
}

// NewEnvProviderWithPrefix creates a provider with a custom prefix.
func NewEnvProviderWithPrefix(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

// Get looks up PREFIX+KEY, then KEY, with the key normalized to an
// environment variable name ("auth.secret" becomes "AUTH_SECRET").
func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	envKey := normalizeKey(key)
	if value := os.Getenv(p.prefix + envKey); value != "" {
		return value, nil
	}
	if value := os.Getenv(envKey); value != "" {
		return value, nil
	}
	return "", ErrSecretNotFound
}

func (p *EnvProvider) Healthy(_ context.Context) bool { return true }
func (p *EnvProvider) Close() error                   { return nil }

func normalizeKey(key string) string {
	return strings.NewReplacer(".", "_", "-", "_", "/", "_").Replace(strings.ToUpper(key))
}
