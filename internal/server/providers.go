package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rjsadow/passage/internal/authn"
	"github.com/rjsadow/passage/internal/config"
	"github.com/rjsadow/passage/internal/db"
	"github.com/rjsadow/passage/internal/plugins"
	"github.com/rjsadow/passage/internal/plugins/auth"
	"github.com/rjsadow/passage/internal/statestore"
)

// ProviderIDs are the providers offered by the server, in the order they
// appear on the sign-in page.
var ProviderIDs = []string{"google", "discord", "email"}

// ProviderConfigs returns the per-provider settings keyed by
// plugins.ConfigKey.
func ProviderConfigs(cfg *config.Config) map[string]map[string]string {
	email := map[string]string{
		auth.ConfigEmailServer: cfg.EmailServer,
		auth.ConfigEmailFrom:   cfg.EmailFrom,
	}
	if cfg.EmailMaxAge > 0 {
		email[auth.ConfigEmailMaxAge] = cfg.EmailMaxAge.String()
	}

	return map[string]map[string]string{
		plugins.ConfigKey("google"): {
			auth.ConfigClientID:     cfg.GoogleClientID,
			auth.ConfigClientSecret: cfg.GoogleClientSecret,
			auth.ConfigIssuer:       cfg.GoogleIssuer,
		},
		plugins.ConfigKey("discord"): {
			auth.ConfigClientID:     cfg.DiscordClientID,
			auth.ConfigClientSecret: cfg.DiscordClientSecret,
		},
		plugins.ConfigKey("email"): email,
	}
}

// NewAuth builds the providers named by ProviderIDs from reg and returns
// the auth core configured from cfg. Providers are closed again if the
// core rejects the configuration.
func NewAuth(ctx context.Context, cfg *config.Config, reg *plugins.Registry, database *db.DB, states statestore.Store) (*authn.Auth, error) {
	providers, err := reg.Build(ctx, ProviderIDs, ProviderConfigs(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to build providers: %w", err)
	}

	baseURL := cfg.BaseURL()
	if cfg.URL == "" && cfg.TrustHost {
		baseURL = ""
	}

	a, err := authn.New(authn.Config{
		Providers:  providers,
		Secret:     cfg.Secret,
		BaseURL:    baseURL,
		TrustHost:  cfg.TrustHost,
		Adapter:    database,
		StateStore: states,
		Session: authn.SessionConfig{
			Strategy:  authn.SessionStrategy(cfg.SessionStrategy),
			MaxAge:    cfg.SessionMaxAge,
			UpdateAge: cfg.SessionUpdateAge,
		},
	})
	if err != nil {
		if cerr := reg.Close(); cerr != nil {
			slog.Warn("Failed to close providers", "error", cerr)
		}
		return nil, err
	}
	return a, nil
}
