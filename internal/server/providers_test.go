package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rjsadow/passage/internal/authn"
	"github.com/rjsadow/passage/internal/config"
	"github.com/rjsadow/passage/internal/db/dbtest"
	"github.com/rjsadow/passage/internal/plugins"
	"github.com/rjsadow/passage/internal/plugins/auth"
	"github.com/rjsadow/passage/internal/statestore"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                8080,
		Secret:              "0123456789abcdef0123456789abcdef",
		URL:                 "http://localhost:8080",
		GoogleClientID:      "google-id",
		GoogleClientSecret:  "google-secret",
		GoogleIssuer:        "https://accounts.google.com",
		DiscordClientID:     "discord-id",
		DiscordClientSecret: "discord-secret",
		EmailServer:         "log",
		EmailFrom:           "Passage <no-reply@example.com>",
		EmailMaxAge:         time.Hour,
		SessionStrategy:     "database",
		SessionMaxAge:       config.DefaultSessionMaxAge,
		SessionUpdateAge:    config.DefaultSessionUpdateAge,
	}
}

func TestProviderConfigs(t *testing.T) {
	configs := ProviderConfigs(testConfig())

	tests := []struct {
		provider string
		key      string
		want     string
	}{
		{"google", auth.ConfigClientID, "google-id"},
		{"google", auth.ConfigClientSecret, "google-secret"},
		{"google", auth.ConfigIssuer, "https://accounts.google.com"},
		{"discord", auth.ConfigClientID, "discord-id"},
		{"discord", auth.ConfigClientSecret, "discord-secret"},
		{"email", auth.ConfigEmailServer, "log"},
		{"email", auth.ConfigEmailFrom, "Passage <no-reply@example.com>"},
		{"email", auth.ConfigEmailMaxAge, "1h0m0s"},
	}

	for _, tt := range tests {
		t.Run(tt.provider+"/"+tt.key, func(t *testing.T) {
			if got := configs[plugins.ConfigKey(tt.provider)][tt.key]; got != tt.want {
				t.Errorf("config[%s][%s] = %q, want %q", tt.provider, tt.key, got, tt.want)
			}
		})
	}

	cfg := testConfig()
	cfg.EmailMaxAge = 0
	if _, ok := ProviderConfigs(cfg)[plugins.ConfigKey("email")][auth.ConfigEmailMaxAge]; ok {
		t.Error("zero EmailMaxAge should leave the provider default")
	}
}

func TestNewAuth(t *testing.T) {
	tp := newTestProviders()
	database := dbtest.NewTestDB(t)

	a, err := NewAuth(context.Background(), testConfig(), tp.registry, database, statestore.NewDBStore(database))
	if err != nil {
		t.Fatalf("NewAuth() error = %v", err)
	}
	t.Cleanup(func() { tp.registry.Close() })

	providers := a.Providers()
	if len(providers) != len(ProviderIDs) {
		t.Fatalf("Providers() len = %d, want %d", len(providers), len(ProviderIDs))
	}
	for i, id := range ProviderIDs {
		if providers[i].ID() != id {
			t.Errorf("Providers()[%d] = %s, want %s", i, providers[i].ID(), id)
		}
	}

	if got := tp.google.config[auth.ConfigClientSecret]; got != "google-secret" {
		t.Errorf("google client_secret = %q, want google-secret", got)
	}
	if a.BasePath() != authn.DefaultBasePath {
		t.Errorf("BasePath() = %q, want %q", a.BasePath(), authn.DefaultBasePath)
	}
}

func TestNewAuth_InvalidConfigClosesProviders(t *testing.T) {
	tp := newTestProviders()
	database := dbtest.NewTestDB(t)

	cfg := testConfig()
	cfg.Secret = "too-short"

	_, err := NewAuth(context.Background(), cfg, tp.registry, database, nil)
	if !errors.Is(err, authn.ErrConfiguration) {
		t.Fatalf("NewAuth() error = %v, want Configuration", err)
	}
	if !tp.google.closed || !tp.discord.closed {
		t.Error("providers should be closed when the auth core rejects the config")
	}
	if statuses := tp.registry.HealthCheck(context.Background()); len(statuses) != 0 {
		t.Errorf("registry still holds %d active providers", len(statuses))
	}
}

func TestNewAuth_UnknownProvider(t *testing.T) {
	_, err := NewAuth(context.Background(), testConfig(), plugins.NewRegistry(), dbtest.NewTestDB(t), nil)
	if !errors.Is(err, plugins.ErrPluginNotFound) {
		t.Errorf("NewAuth() error = %v, want ErrPluginNotFound", err)
	}
}

func TestCleanupOnce(t *testing.T) {
	database := dbtest.NewTestDB(t)
	ctx := context.Background()
	store := statestore.NewDBStore(database)

	if err := store.Save(ctx, &statestore.Entry{
		State:     "stale",
		Provider:  "google",
		ExpiresAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, &statestore.Entry{
		State:     "fresh",
		Provider:  "google",
		ExpiresAt: time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if n := cleanupOnce(ctx, database); n != 1 {
		t.Errorf("cleanupOnce() = %d, want 1", n)
	}
	if entry, err := store.Consume(ctx, "fresh"); err != nil || entry == nil {
		t.Errorf("Consume(fresh) = %v, %v", entry, err)
	}
}
