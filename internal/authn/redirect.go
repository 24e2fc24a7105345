package authn

import (
	"net/http"
	"net/url"
	"strings"
)

// DefaultRedirect allows relative paths and absolute URLs on baseURL's
// origin. Everything else resolves to baseURL.
func DefaultRedirect(target, baseURL string) string {
	if isRelativePath(target) {
		return strings.TrimRight(baseURL, "/") + target
	}
	if sameOrigin(target, baseURL) {
		return target
	}
	return baseURL
}

// validateCallbackURL rejects values that are not URLs at all. Well-formed
// URLs on another origin are not an error; they fall back to the base URL.
func validateCallbackURL(target string) error {
	if target == "" {
		return nil
	}
	if strings.ContainsAny(target, "\r\n\t") {
		return newError(InvalidCallbackURL, nil)
	}
	if _, err := url.Parse(target); err != nil {
		return newError(InvalidCallbackURL, err)
	}
	return nil
}

func isRelativePath(target string) bool {
	return strings.HasPrefix(target, "/") &&
		!strings.HasPrefix(target, "//") &&
		!strings.HasPrefix(target, "/\\")
}

func sameOrigin(target, baseURL string) bool {
	t, err := url.Parse(target)
	if err != nil || t.Scheme == "" || t.Host == "" {
		return false
	}
	b, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(t.Scheme, b.Scheme) && strings.EqualFold(t.Host, b.Host)
}

// redirect runs the Redirect callback and enforces the origin rule on its
// result, so a callback cannot send the browser off-site by mistake.
func (a *Auth) redirect(target, baseURL string) string {
	if target == "" {
		return baseURL
	}
	if a.callbacks.Redirect == nil {
		return DefaultRedirect(target, baseURL)
	}
	got := a.callbacks.Redirect(target, baseURL)
	if isRelativePath(got) || sameOrigin(got, baseURL) {
		return DefaultRedirect(got, baseURL)
	}
	return baseURL
}

// callbackURL resolves where to go after a flow finishes: the request's
// callbackUrl parameter, then the callback-url cookie, then baseURL. The
// result is remembered in the cookie.
func (a *Auth) callbackURL(w http.ResponseWriter, r *http.Request, baseURL string) string {
	target := r.FormValue("callbackUrl")
	if target == "" {
		target = a.cookieValue(r, cookieCallbackURL)
	}
	resolved := a.redirect(target, baseURL)
	if resolved != a.cookieValue(r, cookieCallbackURL) {
		a.setCookie(w, r, cookieCallbackURL, resolved, 0)
	}
	return resolved
}

// baseURL is the configured origin, or the forwarded one when TrustHost is
// set and no origin was configured.
func (a *Auth) baseURL(r *http.Request) string {
	if a.origin != "" || r == nil || !a.trustHost {
		return a.origin
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
		if r.TLS != nil {
			proto = "https"
		}
	}
	return proto + "://" + host
}
