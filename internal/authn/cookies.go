package authn

import (
	"net/http"
	"strings"
	"time"
)

const (
	cookieSessionToken = "authjs.session-token"
	cookieCallbackURL  = "authjs.callback-url"
	cookieCSRFToken    = "authjs.csrf-token"
	cookieState        = "authjs.state"
)

// secureCookies reports whether cookies for r are Secure and prefixed. With
// TrustHost and no configured origin this follows the forwarded scheme.
func (a *Auth) secureCookies(r *http.Request) bool {
	return strings.HasPrefix(a.baseURL(r), "https://")
}

// cookieName returns the name used on the wire, which carries the __Secure-
// or __Host- prefix on https.
func cookieName(name string, secure bool) string {
	switch {
	case !secure:
		return name
	case name == cookieCSRFToken:
		return "__Host-" + name
	default:
		return "__Secure-" + name
	}
}

// setCookie writes a cookie. maxAge <= 0 makes it a browser-session cookie.
func (a *Auth) setCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge time.Duration) {
	secure := a.secureCookies(r)
	cookie := &http.Cookie{
		Name:     cookieName(name, secure),
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		cookie.MaxAge = int(maxAge.Seconds())
		cookie.Expires = time.Now().Add(maxAge)
	}
	http.SetCookie(w, cookie)
}

func (a *Auth) clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	secure := a.secureCookies(r)
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName(name, secure),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *Auth) cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(cookieName(name, a.secureCookies(r)))
	if err != nil {
		return ""
	}
	return c.Value
}
