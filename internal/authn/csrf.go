package authn

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// csrfToken returns the token bound to the request's CSRF cookie, minting a
// new one (and setting the cookie) when the cookie is missing or was not
// signed by us.
func (a *Auth) csrfToken(w http.ResponseWriter, r *http.Request) (string, error) {
	if token, ok := a.csrfFromCookie(r); ok {
		return token, nil
	}

	token, err := randomToken(32)
	if err != nil {
		return "", err
	}
	a.setCookie(w, r, cookieCSRFToken, token+"|"+hmacHex(a.keys.csrf, token), 0)
	return token, nil
}

// csrfFromCookie parses and authenticates the double-submit cookie.
func (a *Auth) csrfFromCookie(r *http.Request) (string, bool) {
	token, mac, ok := strings.Cut(a.cookieValue(r, cookieCSRFToken), "|")
	if !ok || token == "" {
		return "", false
	}
	want := hmacHex(a.keys.csrf, token)
	if subtle.ConstantTimeCompare([]byte(mac), []byte(want)) != 1 {
		return "", false
	}
	return token, true
}

// verifyCSRF checks that the submitted csrfToken matches the cookie.
func (a *Auth) verifyCSRF(r *http.Request) error {
	cookieToken, ok := a.csrfFromCookie(r)
	if !ok {
		return newError(MissingCSRF, nil)
	}
	submitted := r.PostFormValue("csrfToken")
	if submitted == "" || subtle.ConstantTimeCompare([]byte(submitted), []byte(cookieToken)) != 1 {
		return newError(MissingCSRF, nil)
	}
	return nil
}
