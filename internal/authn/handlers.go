package authn

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rjsadow/passage/internal/metrics"
	"github.com/rjsadow/passage/internal/plugins"
)

func (a *Auth) routes() chi.Router {
	r := chi.NewRouter()
	r.Route(a.basePath, func(r chi.Router) {
		r.Get("/providers", a.handleProviders)
		r.Get("/csrf", a.handleCSRF)
		r.Get("/session", a.handleSession)
		r.Get("/signin", a.handleSignInPage)
		r.Post("/signin/{provider}", a.handleSignIn)
		r.Get("/callback/{provider}", a.handleCallback)
		r.Get("/signout", a.handleSignOutPage)
		r.Post("/signout", a.handleSignOut)
		r.Get("/verify-request", a.handleVerifyRequest)
		r.Get("/error", a.handleError)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// wantsJSON reports whether a POST came from a script that wants the
// redirect target back instead of a 302.
func wantsJSON(r *http.Request) bool {
	return r.Header.Get("X-Auth-Return-Redirect") == "1" ||
		r.Header.Get("Accept") == "application/json"
}

func (a *Auth) errorURL(t ErrorType) string {
	return a.basePath + "/error?" + url.Values{"error": {string(t)}}.Encode()
}

// fail reports err to the browser: a redirect to the error page, or a JSON
// body for scripted requests.
func (a *Auth) fail(w http.ResponseWriter, r *http.Request, err error) {
	t := errorType(err)
	if t == Configuration {
		slog.ErrorContext(r.Context(), "Auth request failed", "path", r.URL.Path, "error", err)
	}
	if wantsJSON(r) {
		writeJSON(w, statusFor(t), map[string]string{"error": string(t), "url": a.errorURL(t)})
		return
	}
	// Linking conflicts go back to the sign-in page so the user can pick
	// the provider they used before.
	if t == OAuthAccountNotLinked || t == EmailSignInError {
		http.Redirect(w, r, a.basePath+"/signin?"+url.Values{"error": {string(t)}}.Encode(), http.StatusFound)
		return
	}
	http.Redirect(w, r, a.errorURL(t), http.StatusFound)
}

type providerInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	SignInURL   string `json:"signinUrl"`
	CallbackURL string `json:"callbackUrl"`
}

func (a *Auth) handleProviders(w http.ResponseWriter, r *http.Request) {
	baseURL := a.baseURL(r)
	out := make(map[string]providerInfo, len(a.providers))
	for _, p := range a.providers {
		out[p.ID()] = providerInfo{
			ID:          p.ID(),
			Name:        p.Name(),
			Type:        string(p.Type()),
			SignInURL:   a.providerURL(baseURL, "/signin/"+p.ID()),
			CallbackURL: a.providerURL(baseURL, "/callback/"+p.ID()),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *Auth) handleCSRF(w http.ResponseWriter, r *http.Request) {
	token, err := a.csrfToken(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

func (a *Auth) handleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ls, err := a.loadSession(ctx, r)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load session", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": string(Configuration)})
		return
	}
	if ls == nil {
		if a.cookieValue(r, cookieSessionToken) != "" {
			a.clearCookie(w, r, cookieSessionToken)
		}
		writeJSON(w, http.StatusOK, nil)
		return
	}

	if err := a.touchSession(w, r, ls); err != nil {
		slog.WarnContext(ctx, "Failed to extend session", "error", err)
	}
	session, err := a.toSession(ctx, ls)
	if err != nil {
		slog.ErrorContext(ctx, "Session callback failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": string(Configuration)})
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *Auth) handleSignInPage(w http.ResponseWriter, r *http.Request) {
	token, err := a.csrfToken(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	baseURL := a.baseURL(r)

	page := signInPage{
		Title:       "Sign in",
		Error:       signInErrorMessage(ErrorType(r.URL.Query().Get("error"))),
		CSRFToken:   token,
		CallbackURL: a.callbackURL(w, r, baseURL),
	}
	for _, p := range a.providers {
		link := providerLink{Name: p.Name(), SignInURL: a.basePath + "/signin/" + p.ID()}
		if _, ok := p.(plugins.EmailProvider); ok {
			page.Email = append(page.Email, link)
		} else {
			page.OAuth = append(page.OAuth, link)
		}
	}
	renderPage(w, r, "signin", http.StatusOK, page)
}

func (a *Auth) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.fail(w, r, newError(Configuration, err))
		return
	}
	if err := a.verifyCSRF(r); err != nil {
		a.fail(w, r, err)
		return
	}

	target, err := a.SignIn(w, r, chi.URLParam(r, "provider"), SignInOptions{
		CallbackURL: r.PostFormValue("callbackUrl"),
		Email:       r.PostFormValue("email"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]string{"url": target})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *Auth) handleCallback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "provider")
	provider, ok := a.byID[id]
	if !ok {
		a.fail(w, r, newError(UnknownProvider, nil))
		return
	}
	defer metrics.ObserveCallback(id, time.Now())

	var (
		target string
		err    error
	)
	switch p := provider.(type) {
	case plugins.OAuthProvider:
		target, err = a.oauthCallback(w, r, p)
	case plugins.EmailProvider:
		target, err = a.emailCallback(w, r, p)
	}
	if err != nil {
		a.signInFailed(r.Context(), id, err)
		a.fail(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *Auth) handleSignOutPage(w http.ResponseWriter, r *http.Request) {
	token, err := a.csrfToken(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	renderPage(w, r, "signout", http.StatusOK, signOutPage{
		Title:       "Sign out",
		Action:      a.basePath + "/signout",
		CSRFToken:   token,
		CallbackURL: a.callbackURL(w, r, a.baseURL(r)),
	})
}

func (a *Auth) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.fail(w, r, newError(Configuration, err))
		return
	}
	if err := a.verifyCSRF(r); err != nil {
		a.fail(w, r, err)
		return
	}

	target, err := a.SignOut(w, r, SignOutOptions{RedirectTo: r.PostFormValue("callbackUrl")})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]string{"url": target})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *Auth) handleVerifyRequest(w http.ResponseWriter, r *http.Request) {
	baseURL := a.baseURL(r)
	renderPage(w, r, "verify-request", http.StatusOK, verifyRequestPage{
		Title: "Verify request",
		Home:  baseURL,
		Host:  hostOf(baseURL),
	})
}

func (a *Auth) handleError(w http.ResponseWriter, r *http.Request) {
	t := ErrorType(r.URL.Query().Get("error"))
	if t == "" {
		t = Configuration
	}
	heading, message := errorPageText(t)
	renderPage(w, r, "error", statusFor(t), errorPage{
		Title:     "Error",
		Heading:   heading,
		Message:   message,
		SignInURL: a.basePath + "/signin",
	})
}
