// Package plugins provides the plugin architecture for identity providers.
// New sign-in methods are added by implementing one of the provider
// interfaces and registering a factory, without touching the auth core.
//
// Plugin Types:
//   - oauth: OAuth 2.0 authorization-code providers
//   - oidc: OpenID Connect providers (OAuth 2.0 plus a verified ID token)
//   - email: passwordless sign-in through an emailed link
//
// Adding new plugins:
//  1. Implement OAuthProvider or EmailProvider
//  2. Register a factory with RegisterGlobal from an init() function
//  3. Configure via the "provider.<id>" config map
package plugins

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by plugins.
var (
	ErrPluginNotFound  = errors.New("plugin not found")
	ErrPluginNotReady  = errors.New("plugin not ready")
	ErrInvalidConfig   = errors.New("invalid plugin configuration")
	ErrOperationFailed = errors.New("plugin operation failed")
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrRateLimited     = errors.New("too many requests")
)

// PluginType represents the category of a plugin.
type PluginType string

const (
	PluginTypeOAuth PluginType = "oauth"
	PluginTypeOIDC  PluginType = "oidc"
	PluginTypeEmail PluginType = "email"
)

// Plugin is the base interface all plugins must implement.
type Plugin interface {
	// ID returns the unique identifier used in URLs (e.g. "google").
	ID() string

	// Name returns the display name shown on the sign-in page.
	Name() string

	// Type returns the plugin type (oauth, oidc, email).
	Type() PluginType

	// Version returns the plugin version.
	Version() string

	// Description returns a human-readable description.
	Description() string

	// Initialize sets up the plugin with the given configuration.
	// Called once during application startup.
	Initialize(ctx context.Context, config map[string]string) error

	// Healthy returns true if the plugin is operational.
	Healthy(ctx context.Context) bool

	// Close releases any resources held by the plugin.
	Close() error
}

// Profile is the normalized identity returned by a provider.
type Profile struct {
	// ID is the stable account identifier at the provider.
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"email_verified"`
	Image         string         `json:"image,omitempty"`
	Raw           map[string]any `json:"-"`
}

// TokenSet holds the credentials returned by a token exchange.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	IDToken      string
	Expiry       time.Time
}

// AuthorizationRequest carries the per-attempt values used to build the
// provider's authorization URL.
type AuthorizationRequest struct {
	State        string
	CodeVerifier string
	Nonce        string
	RedirectURL  string
}

// CallbackRequest carries what the provider sent back plus the values saved
// when the flow started.
type CallbackRequest struct {
	Code         string
	CodeVerifier string
	Nonce        string
	RedirectURL  string
}

// OAuthProvider is implemented by OAuth 2.0 and OpenID Connect providers.
type OAuthProvider interface {
	Plugin

	// AuthCodeURL returns the URL the browser is sent to for consent.
	AuthCodeURL(ctx context.Context, req AuthorizationRequest) (string, error)

	// Exchange redeems an authorization code and returns the user's profile.
	Exchange(ctx context.Context, req CallbackRequest) (*Profile, *TokenSet, error)

	// AllowDangerousEmailAccountLinking reports whether accounts from this
	// provider may be linked to an existing user purely by matching email.
	AllowDangerousEmailAccountLinking() bool
}

// VerificationRequest is a magic link ready to be delivered.
type VerificationRequest struct {
	Identifier string
	URL        string
	Expires    time.Time
	Host       string
}

// EmailProvider is implemented by passwordless email providers.
type EmailProvider interface {
	Plugin

	// NormalizeIdentifier validates an address and returns its canonical form.
	NormalizeIdentifier(email string) (string, error)

	// MaxAge is how long an emailed link stays valid.
	MaxAge() time.Duration

	// Throttle returns ErrRateLimited when identifier has used up its
	// allowance of sign-in emails. Callers check it before storing a token.
	Throttle(identifier string) error

	// SendVerificationRequest delivers the sign-in link.
	SendVerificationRequest(ctx context.Context, req VerificationRequest) error
}

// PluginInfo contains metadata about a registered plugin.
type PluginInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        PluginType `json:"type"`
	Version     string     `json:"version"`
	Description string     `json:"description"`
}

// HealthStatus represents the health check result for a plugin.
type HealthStatus struct {
	PluginID   string     `json:"plugin_id"`
	PluginType PluginType `json:"plugin_type"`
	Healthy    bool       `json:"healthy"`
	Message    string     `json:"message,omitempty"`
	CheckedAt  time.Time  `json:"checked_at"`
}

// PluginFactory is a function that creates a new instance of a plugin.
type PluginFactory func() Plugin
