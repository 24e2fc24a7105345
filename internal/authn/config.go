package authn

import (
	"context"
	"time"

	"github.com/rjsadow/passage/internal/db"
	"github.com/rjsadow/passage/internal/plugins"
	"github.com/rjsadow/passage/internal/statestore"
)

// SessionStrategy selects where session state lives.
type SessionStrategy string

const (
	// StrategyDatabase stores an opaque token in the cookie and the session
	// row in the adapter.
	StrategyDatabase SessionStrategy = "database"
	// StrategyJWT stores a signed token carrying the user in the cookie.
	StrategyJWT SessionStrategy = "jwt"
)

const (
	DefaultBasePath         = "/api/auth"
	DefaultSessionMaxAge    = 30 * 24 * time.Hour
	DefaultSessionUpdateAge = 24 * time.Hour

	// MinSecretLength is the shortest secret New accepts.
	MinSecretLength = 32

	oauthStateMaxAge = 15 * time.Minute
)

// Adapter persists users, accounts, sessions and verification tokens.
// *db.DB satisfies it.
type Adapter interface {
	CreateUser(ctx context.Context, user *db.User) error
	GetUser(ctx context.Context, id string) (*db.User, error)
	GetUserByEmail(ctx context.Context, email string) (*db.User, error)
	GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*db.User, error)
	UpdateUser(ctx context.Context, user *db.User) error
	LinkAccount(ctx context.Context, account *db.Account) error
	CreateUserWithAccount(ctx context.Context, user *db.User, account *db.Account) error

	CreateSession(ctx context.Context, session *db.Session) error
	GetSessionAndUser(ctx context.Context, sessionToken string) (*db.Session, *db.User, error)
	UpdateSessionExpiry(ctx context.Context, sessionToken string, expires time.Time) error
	DeleteSession(ctx context.Context, sessionToken string) error

	CreateVerificationToken(ctx context.Context, token *db.VerificationToken) error
	DeleteVerificationToken(ctx context.Context, identifier, tokenHash string) error
	UseVerificationToken(ctx context.Context, identifier, tokenHash string) (*db.VerificationToken, error)

	LogAudit(ctx context.Context, userID, action, provider, details string) error
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	// Strategy defaults to database when an adapter is set, jwt otherwise.
	Strategy SessionStrategy
	// MaxAge is how long an idle session stays valid.
	MaxAge time.Duration
	// UpdateAge is how often a database session's expiry is pushed forward
	// when it is read through the session endpoint.
	UpdateAge time.Duration
}

// Callbacks let the application veto or shape the flow. Nil fields use the
// default behaviour.
type Callbacks struct {
	// SignIn runs after the provider has identified the user and before
	// anything is written. Returning false rejects the attempt with
	// AccessDenied. account is nil for email verification requests.
	SignIn func(ctx context.Context, user *db.User, account *db.Account, profile *plugins.Profile) (bool, error)

	// Redirect decides where to send the browser after sign-in or sign-out.
	// The default allows relative paths and URLs on the base origin.
	Redirect func(url, baseURL string) string

	// Session shapes what Auth and the session endpoint return.
	Session func(ctx context.Context, session *Session, user *db.User) (*Session, error)
}

// Events are notified after the fact; they cannot change the outcome.
type Events struct {
	OnSignIn      func(ctx context.Context, user *db.User, account *db.Account, isNewUser bool)
	OnSignOut     func(ctx context.Context, session *Session)
	OnCreateUser  func(ctx context.Context, user *db.User)
	OnLinkAccount func(ctx context.Context, user *db.User, account *db.Account)
}

// Config configures New.
type Config struct {
	// Providers in display order. Each must be an OAuthProvider or an
	// EmailProvider and already initialized.
	Providers []plugins.Plugin

	// Secret signs sessions and CSRF tokens and salts verification token
	// hashes. At least MinSecretLength bytes.
	Secret string

	// BaseURL is the public origin, e.g. https://app.example.com.
	BaseURL string

	// BasePath is where Handlers serves its routes. Defaults to /api/auth.
	BasePath string

	// TrustHost derives the origin from X-Forwarded-Host/-Proto when set.
	TrustHost bool

	// Adapter is required for the database strategy and for email sign-in.
	Adapter Adapter

	// StateStore keeps OAuth state between redirect and callback.
	// Defaults to an in-process store.
	StateStore statestore.Store

	Session   SessionConfig
	Callbacks Callbacks
	Events    Events
}
