package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/rjsadow/passage/internal/config"
	"github.com/rjsadow/passage/internal/db"
	"github.com/rjsadow/passage/internal/plugins"
	"github.com/rjsadow/passage/internal/ratelimit"
	"github.com/rjsadow/passage/internal/secrets"
	"github.com/rjsadow/passage/internal/server"
	"github.com/rjsadow/passage/internal/statestore"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Parse command-line flags (can override env vars)
	port := flag.Int("port", config.DefaultPort, "Port to listen on")
	dbPath := flag.String("db", config.DefaultDBPath, "Path to SQLite database")
	flag.Parse()

	// Load configuration (env vars + flag overrides)
	cfg, err := config.LoadWithFlags(*port, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error:\n%v\n\nSee .env.example for configuration options.\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Passage exited with error", "error", err)
		os.Exit(1)
	}
}

// newLogger returns a slog logger writing JSON or text at the given level.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// resolveSecrets fills provider credentials from the configured secrets
// backend.
func resolveSecrets(ctx context.Context, cfg *config.Config) error {
	if cfg.SecretsProvider == config.DefaultSecretsProvider {
		return nil
	}

	mgr, err := secrets.NewManager(&secrets.Config{
		Provider:      secrets.ProviderType(cfg.SecretsProvider),
		K8sNamespace:  cfg.K8sSecretNamespace,
		K8sSecretName: cfg.K8sSecretName,
	})
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.Resolve(ctx, cfg.SecretFields()); err != nil {
		return err
	}
	if errs := cfg.ValidateSecrets(); len(errs) > 0 {
		return errs
	}
	slog.Info("Resolved secrets", "provider", mgr.ProviderName())
	return nil
}

func openStateStore(ctx context.Context, cfg *config.Config, database *db.DB) (statestore.Store, func(), error) {
	if cfg.StateStore != "redis" {
		return statestore.NewDBStore(database), func() {}, nil
	}
	store, err := statestore.NewRedisStore(ctx, statestore.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := resolveSecrets(ctx, cfg); err != nil {
		return fmt.Errorf("failed to resolve secrets: %w", err)
	}

	// Initialize database
	database, err := db.OpenDB(cfg.DBType, cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()
	slog.Info("Database ready", "type", cfg.DBType)

	states, closeStates, err := openStateStore(ctx, cfg, database)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer closeStates()

	registry := plugins.Global()
	auth, err := server.NewAuth(ctx, cfg, registry, database, states)
	if err != nil {
		return err
	}
	defer registry.Close()

	app := &server.App{
		DB:      database,
		Auth:    auth,
		Plugins: registry,
		States:  states,
		Config:  cfg,
	}
	if cfg.SigninRateLimit > 0 {
		limiter := ratelimit.New(rate.Limit(cfg.SigninRateLimit), cfg.SigninBurst)
		defer limiter.Stop()
		app.SigninLimiter = limiter
	}

	go server.RunCleanup(ctx, database, server.DefaultCleanupInterval)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Passage server starting", "addr", srv.Addr, "url", cfg.BaseURL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
