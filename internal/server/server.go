// Package server provides the HTTP handler assembly for Passage.
// It accepts all dependencies as parameters so that both main() and tests
// can build the same handler chain without route drift.
package server

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rjsadow/passage/internal/authn"
	"github.com/rjsadow/passage/internal/config"
	"github.com/rjsadow/passage/internal/db"
	"github.com/rjsadow/passage/internal/middleware"
	"github.com/rjsadow/passage/internal/plugins"
	"github.com/rjsadow/passage/internal/ratelimit"
	"github.com/rjsadow/passage/internal/statestore"
)

// App holds all dependencies needed to build the HTTP handler.
type App struct {
	DB      *db.DB
	Auth    *authn.Auth
	Plugins *plugins.Registry
	States  statestore.Store
	Config  *config.Config

	// SigninLimiter throttles sign-in and sign-out posts per client IP.
	// Nil disables the limit.
	SigninLimiter *ratelimit.Limiter
}

// Handler builds and returns the complete HTTP handler with all routes
// registered and middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	// Bind the handlers to this App's dependencies.
	h := &handlers{app: a}

	// Observability endpoints (public, no auth required)
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	// Auth routes (public)
	basePath := a.Auth.BasePath()
	mux.Handle(basePath+"/", a.Auth.Handlers())

	// Session-protected API routes
	mux.Handle("/api/me", a.Auth.RequireSession(http.HandlerFunc(h.handleMe)))
	mux.Handle("/api/me/activity", a.Auth.RequireSession(http.HandlerFunc(h.handleMyActivity)))

	var handler http.Handler = mux
	if a.SigninLimiter != nil {
		// Forwarding headers are trusted together with forwarded hosts.
		trustProxy := a.Config != nil && a.Config.TrustHost
		handler = middleware.RateLimit(a.SigninLimiter, "signin", middleware.SignInPosts(basePath), trustProxy)(handler)
	}
	if a.Config != nil && len(a.Config.CORSOrigins) > 0 {
		handler = cors.Handler(cors.Options{
			AllowedOrigins:   a.Config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Auth-Return-Redirect"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		})(handler)
	}

	// Wrap with middleware
	return middleware.SecurityHeaders(middleware.RequestID(middleware.Logging(handler)))
}
