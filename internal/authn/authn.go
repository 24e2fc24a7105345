// Package authn is the sign-in framework: it drives OAuth and email
// sign-in against the configured providers, links provider identities to
// users, issues sessions and serves the browser-facing routes under
// BasePath.
//
// A typical setup mounts Handlers and protects application routes with
// RequireSession:
//
//	auth, err := authn.New(authn.Config{Providers: providers, Secret: secret, BaseURL: origin, Adapter: database})
//	mux.Handle("/api/auth/", auth.Handlers())
//	mux.Handle("/api/me", auth.RequireSession(meHandler))
package authn

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rjsadow/passage/internal/plugins"
	"github.com/rjsadow/passage/internal/statestore"
)

// Auth is a configured sign-in framework. It is safe for concurrent use.
type Auth struct {
	providers []plugins.Plugin
	byID      map[string]plugins.Plugin

	secret    string
	origin    string
	basePath  string
	trustHost bool

	adapter   Adapter
	states    statestore.Store
	session   SessionConfig
	callbacks Callbacks
	events    Events

	keys   keys
	now    func() time.Time
	router http.Handler
}

// New validates cfg and returns a ready Auth.
func New(cfg Config) (*Auth, error) {
	if len(cfg.Providers) == 0 {
		return nil, newError(Configuration, errors.New("at least one provider is required"))
	}
	if len(cfg.Secret) < MinSecretLength {
		return nil, newError(Configuration, fmt.Errorf("secret must be at least %d bytes", MinSecretLength))
	}

	a := &Auth{
		byID:      make(map[string]plugins.Plugin, len(cfg.Providers)),
		secret:    cfg.Secret,
		trustHost: cfg.TrustHost,
		adapter:   cfg.Adapter,
		states:    cfg.StateStore,
		session:   cfg.Session,
		callbacks: cfg.Callbacks,
		events:    cfg.Events,
		now:       time.Now,
	}

	hasEmail := false
	for _, p := range cfg.Providers {
		if p == nil {
			return nil, newError(Configuration, errors.New("nil provider"))
		}
		switch p.(type) {
		case plugins.OAuthProvider:
		case plugins.EmailProvider:
			hasEmail = true
		default:
			return nil, newError(Configuration, fmt.Errorf("provider %q is neither an OAuth nor an email provider", p.ID()))
		}
		if _, dup := a.byID[p.ID()]; dup {
			return nil, newError(Configuration, fmt.Errorf("duplicate provider id %q", p.ID()))
		}
		a.byID[p.ID()] = p
		a.providers = append(a.providers, p)
	}

	if hasEmail && a.adapter == nil {
		return nil, newError(MissingAdapter, errors.New("email sign-in requires an adapter"))
	}

	origin, err := normalizeOrigin(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if origin == "" && !cfg.TrustHost {
		return nil, newError(Configuration, errors.New("base URL is required"))
	}
	a.origin = origin

	a.basePath = strings.TrimRight(cfg.BasePath, "/")
	if a.basePath == "" {
		a.basePath = DefaultBasePath
	}
	if !strings.HasPrefix(a.basePath, "/") {
		return nil, newError(Configuration, fmt.Errorf("base path %q must start with /", cfg.BasePath))
	}

	switch a.session.Strategy {
	case "":
		a.session.Strategy = StrategyJWT
		if a.adapter != nil {
			a.session.Strategy = StrategyDatabase
		}
	case StrategyDatabase:
		if a.adapter == nil {
			return nil, newError(MissingAdapter, errors.New("database sessions require an adapter"))
		}
	case StrategyJWT:
	default:
		return nil, newError(Configuration, fmt.Errorf("unknown session strategy %q", a.session.Strategy))
	}
	if a.session.MaxAge <= 0 {
		a.session.MaxAge = DefaultSessionMaxAge
	}
	if a.session.UpdateAge <= 0 {
		a.session.UpdateAge = DefaultSessionUpdateAge
	}

	if a.states == nil {
		slog.Warn("No OAuth state store configured, using in-memory store (single replica only)")
		a.states = statestore.NewMemoryStore()
	}

	if a.keys, err = deriveKeys(cfg.Secret); err != nil {
		return nil, newError(Configuration, err)
	}
	a.router = a.routes()

	slog.Info("Auth initialized",
		"providers", len(a.providers),
		"session_strategy", a.session.Strategy,
		"base_path", a.basePath)
	return a, nil
}

// normalizeOrigin reduces a base URL to scheme://host.
func normalizeOrigin(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", newError(Configuration, fmt.Errorf("invalid base URL %q", raw))
	}
	return u.Scheme + "://" + u.Host, nil
}

// Providers returns the configured providers in order.
func (a *Auth) Providers() []plugins.Plugin {
	out := make([]plugins.Plugin, len(a.providers))
	copy(out, a.providers)
	return out
}

// BasePath is where Handlers serves its routes.
func (a *Auth) BasePath() string { return a.basePath }

// Handlers serves the sign-in routes under BasePath.
func (a *Auth) Handlers() http.Handler { return a.router }

// SignInOptions configure SignIn.
type SignInOptions struct {
	// CallbackURL is where the browser lands after signing in.
	CallbackURL string
	// Email is the address to send a link to. Email provider only.
	Email string
	// Redirect makes SignIn write the redirect response itself.
	Redirect bool
}

// SignIn starts a sign-in with providerID and returns the URL to send the
// browser to: the provider's authorization page for OAuth, the
// verify-request page for email.
func (a *Auth) SignIn(w http.ResponseWriter, r *http.Request, providerID string, opts SignInOptions) (string, error) {
	target, err := a.signIn(w, r, providerID, opts)
	if err != nil {
		a.signInFailed(r.Context(), providerID, err)
		return "", err
	}
	if opts.Redirect {
		http.Redirect(w, r, target, http.StatusFound)
	}
	return target, nil
}

func (a *Auth) signIn(w http.ResponseWriter, r *http.Request, providerID string, opts SignInOptions) (string, error) {
	provider, ok := a.byID[providerID]
	if !ok {
		return "", newError(UnknownProvider, fmt.Errorf("%q", providerID))
	}
	if err := validateCallbackURL(opts.CallbackURL); err != nil {
		return "", err
	}

	baseURL := a.baseURL(r)
	target := opts.CallbackURL
	if target == "" {
		target = a.cookieValue(r, cookieCallbackURL)
	}
	callback := a.redirect(target, baseURL)
	a.setCookie(w, r, cookieCallbackURL, callback, 0)

	switch p := provider.(type) {
	case plugins.OAuthProvider:
		return a.oauthSignIn(w, r, p, callback)
	case plugins.EmailProvider:
		return a.emailSignIn(r, p, opts.Email, callback)
	}
	return "", newError(Configuration, fmt.Errorf("unsupported provider %q", providerID))
}

// SignOutOptions configure SignOut.
type SignOutOptions struct {
	// RedirectTo is where the browser lands after signing out.
	RedirectTo string
	// Redirect makes SignOut write the redirect response itself.
	Redirect bool
}

// SignOut ends the request's session, clears the session cookie and
// returns where to send the browser. Signing out without a session is not
// an error.
func (a *Auth) SignOut(w http.ResponseWriter, r *http.Request, opts SignOutOptions) (string, error) {
	ctx := r.Context()

	ls, err := a.loadSession(ctx, r)
	if err != nil {
		return "", err
	}
	if a.session.Strategy == StrategyDatabase {
		if token := a.cookieValue(r, cookieSessionToken); token != "" {
			if err := a.adapter.DeleteSession(ctx, token); err != nil {
				return "", fmt.Errorf("failed to delete session: %w", err)
			}
		}
	}
	a.clearCookie(w, r, cookieSessionToken)

	var session *Session
	if ls != nil {
		session = &Session{
			User:    SessionUser{ID: ls.user.ID, Name: ls.user.Name, Email: ls.user.Email, Image: ls.user.Image},
			Expires: ls.expires.UTC(),
		}
	}
	a.signedOut(ctx, session)

	target := a.redirect(opts.RedirectTo, a.baseURL(r))
	if opts.Redirect {
		http.Redirect(w, r, target, http.StatusFound)
	}
	return target, nil
}

// providerURL builds an absolute URL under BasePath.
func (a *Auth) providerURL(baseURL, path string) string {
	return baseURL + a.basePath + path
}
