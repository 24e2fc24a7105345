package authn

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/rjsadow/passage/internal/db"
	"github.com/rjsadow/passage/internal/plugins"
	"github.com/rjsadow/passage/internal/statestore"
)

// oauthSignIn records a new authorization attempt and returns the
// provider's authorization URL.
func (a *Auth) oauthSignIn(w http.ResponseWriter, r *http.Request, p plugins.OAuthProvider, callback string) (string, error) {
	ctx := r.Context()

	state, err := randomToken(32)
	if err != nil {
		return "", newError(OAuthSignin, err)
	}
	var nonce string
	if p.Type() == plugins.PluginTypeOIDC {
		if nonce, err = randomToken(16); err != nil {
			return "", newError(OAuthSignin, err)
		}
	}
	verifier := oauth2.GenerateVerifier()
	redirectURL := a.providerURL(a.baseURL(r), "/callback/"+p.ID())

	authURL, err := p.AuthCodeURL(ctx, plugins.AuthorizationRequest{
		State:        state,
		CodeVerifier: verifier,
		Nonce:        nonce,
		RedirectURL:  redirectURL,
	})
	if err != nil {
		return "", newError(OAuthSignin, err)
	}

	err = a.states.Save(ctx, &statestore.Entry{
		State:        state,
		Provider:     p.ID(),
		CodeVerifier: verifier,
		Nonce:        nonce,
		CallbackURL:  callback,
		ExpiresAt:    a.now().Add(oauthStateMaxAge),
	})
	if err != nil {
		return "", newError(OAuthSignin, err)
	}
	a.setCookie(w, r, cookieState, state, oauthStateMaxAge)

	return authURL, nil
}

// oauthCallback completes an authorization-code flow and returns where to
// send the browser.
func (a *Auth) oauthCallback(w http.ResponseWriter, r *http.Request, p plugins.OAuthProvider) (string, error) {
	ctx := r.Context()
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		if e == "access_denied" {
			return "", newError(AccessDenied, fmt.Errorf("%s: %s", p.ID(), e))
		}
		return "", newError(OAuthCallbackError, fmt.Errorf("%s returned %s: %s", p.ID(), e, q.Get("error_description")))
	}

	state, code := q.Get("state"), q.Get("code")
	bound := a.cookieValue(r, cookieState)
	a.clearCookie(w, r, cookieState)
	if state == "" || code == "" {
		return "", newError(OAuthCallbackError, errors.New("missing state or code"))
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(bound)) != 1 {
		return "", newError(OAuthCallbackError, errors.New("state does not match this browser"))
	}

	entry, err := a.states.Consume(ctx, state)
	if err != nil {
		return "", newError(OAuthCallbackError, err)
	}
	if entry == nil {
		return "", newError(OAuthCallbackError, errors.New("unknown or expired state"))
	}
	if entry.Provider != p.ID() {
		return "", newError(OAuthCallbackError, fmt.Errorf("state was issued for %q", entry.Provider))
	}

	baseURL := a.baseURL(r)
	profile, tokens, err := p.Exchange(ctx, plugins.CallbackRequest{
		Code:         code,
		CodeVerifier: entry.CodeVerifier,
		Nonce:        entry.Nonce,
		RedirectURL:  a.providerURL(baseURL, "/callback/"+p.ID()),
	})
	if err != nil {
		return "", newError(OAuthCallbackError, err)
	}
	if profile == nil || profile.ID == "" {
		return "", newError(OAuthCallbackError, errors.New("provider returned no account id"))
	}

	var current *db.User
	if a.adapter != nil {
		ls, err := a.loadSession(ctx, r)
		if err != nil {
			return "", err
		}
		if ls != nil {
			current = ls.user
		}
	}

	plan, err := a.planOAuthSignIn(ctx, p, profile, tokens, current)
	if err != nil {
		return "", err
	}
	if err := a.allowSignIn(ctx, plan.user, plan.account, profile); err != nil {
		return "", err
	}
	created, err := a.apply(ctx, plan)
	if err != nil {
		return "", err
	}

	// Linking to the signed-in user keeps the existing session.
	if current == nil || current.ID != plan.user.ID {
		if err := a.createSession(w, r, plan.user); err != nil {
			return "", err
		}
	}
	a.signedIn(ctx, plan.user, plan.account, created)

	if entry.CallbackURL == "" {
		return baseURL, nil
	}
	return a.redirect(entry.CallbackURL, baseURL), nil
}

// allowSignIn consults the SignIn callback.
func (a *Auth) allowSignIn(ctx context.Context, user *db.User, account *db.Account, profile *plugins.Profile) error {
	if a.callbacks.SignIn == nil {
		return nil
	}
	ok, err := a.callbacks.SignIn(ctx, user, account, profile)
	if err != nil {
		return newError(AccessDenied, err)
	}
	if !ok {
		return newError(AccessDenied, nil)
	}
	return nil
}
