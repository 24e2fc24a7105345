package authn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rjsadow/passage/internal/db"
	"github.com/rjsadow/passage/internal/metrics"
)

const jwtIssuer = "passage"

// SessionUser is the user as exposed to the browser.
type SessionUser struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

// Session is what Auth and the session endpoint return.
type Session struct {
	User    SessionUser `json:"user"`
	Expires time.Time   `json:"expires"`
}

// sessionClaims are carried by jwt strategy session cookies.
type sessionClaims struct {
	jwt.RegisteredClaims
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// loadedSession is a session read from its cookie, before callbacks run.
type loadedSession struct {
	token    string
	user     *db.User
	expires  time.Time
	issuedAt time.Time // jwt only
}

// createSession issues a session for user and sets the session cookie.
func (a *Auth) createSession(w http.ResponseWriter, r *http.Request, user *db.User) error {
	ctx := r.Context()
	expires := a.now().Add(a.session.MaxAge)

	var token string
	switch a.session.Strategy {
	case StrategyDatabase:
		t, err := randomToken(32)
		if err != nil {
			return err
		}
		if err := a.adapter.CreateSession(ctx, &db.Session{
			SessionToken: t,
			UserID:       user.ID,
			Expires:      expires,
		}); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		token = t
	default:
		t, err := a.signSessionToken(user, expires)
		if err != nil {
			return err
		}
		token = t
	}

	a.setCookie(w, r, cookieSessionToken, token, a.session.MaxAge)
	metrics.RecordSessionCreated(string(a.session.Strategy))
	return nil
}

func (a *Auth) signSessionToken(user *db.User, expires time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(a.now()),
			Issuer:    jwtIssuer,
			Subject:   user.ID,
		},
		Name:    user.Name,
		Email:   user.Email,
		Picture: user.Image,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.keys.session)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

func (a *Auth) parseSessionToken(tokenString string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.keys.session, nil
	}, jwt.WithIssuer(jwtIssuer), jwt.WithExpirationRequired(), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, newError(SessionTokenError, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, newError(SessionTokenError, errors.New("invalid session token"))
	}
	return claims, nil
}

// loadSession reads the session cookie. A missing, expired or invalid
// session is nil with no error; errors are adapter failures.
func (a *Auth) loadSession(ctx context.Context, r *http.Request) (*loadedSession, error) {
	token := a.cookieValue(r, cookieSessionToken)
	if token == "" {
		return nil, nil
	}

	if a.session.Strategy == StrategyJWT {
		claims, err := a.parseSessionToken(token)
		if err != nil {
			slog.DebugContext(ctx, "Ignoring session cookie", "error", err)
			return nil, nil
		}
		var issuedAt time.Time
		if claims.IssuedAt != nil {
			issuedAt = claims.IssuedAt.Time
		}
		return &loadedSession{
			token: token,
			user: &db.User{
				ID:    claims.Subject,
				Name:  claims.Name,
				Email: claims.Email,
				Image: claims.Picture,
			},
			expires:  claims.ExpiresAt.Time,
			issuedAt: issuedAt,
		}, nil
	}

	session, user, err := a.adapter.GetSessionAndUser(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil || user == nil || !a.now().Before(session.Expires) {
		return nil, nil
	}
	return &loadedSession{token: token, user: user, expires: session.Expires}, nil
}

// toSession runs the Session callback over a loaded session.
func (a *Auth) toSession(ctx context.Context, ls *loadedSession) (*Session, error) {
	s := &Session{
		User: SessionUser{
			ID:    ls.user.ID,
			Name:  ls.user.Name,
			Email: ls.user.Email,
			Image: ls.user.Image,
		},
		Expires: ls.expires.UTC(),
	}
	if a.callbacks.Session == nil {
		return s, nil
	}
	shaped, err := a.callbacks.Session(ctx, s, ls.user)
	if err != nil {
		return nil, fmt.Errorf("session callback: %w", err)
	}
	return shaped, nil
}

// touchSession pushes the expiry of a session forward once UpdateAge has
// passed since it was last extended, and rewrites the cookie.
func (a *Auth) touchSession(w http.ResponseWriter, r *http.Request, ls *loadedSession) error {
	ctx := r.Context()
	now := a.now()
	expires := now.Add(a.session.MaxAge)

	switch a.session.Strategy {
	case StrategyDatabase:
		lastExtended := ls.expires.Add(-a.session.MaxAge)
		if now.Before(lastExtended.Add(a.session.UpdateAge)) {
			return nil
		}
		if err := a.adapter.UpdateSessionExpiry(ctx, ls.token, expires); err != nil {
			return fmt.Errorf("failed to extend session: %w", err)
		}
		a.setCookie(w, r, cookieSessionToken, ls.token, a.session.MaxAge)
	default:
		if now.Before(ls.issuedAt.Add(a.session.UpdateAge)) {
			return nil
		}
		token, err := a.signSessionToken(ls.user, expires)
		if err != nil {
			return err
		}
		ls.token = token
		a.setCookie(w, r, cookieSessionToken, token, a.session.MaxAge)
	}
	ls.expires = expires
	return nil
}

// Auth returns the session of the request, or nil when signed out.
func (a *Auth) Auth(r *http.Request) (*Session, error) {
	ls, err := a.loadSession(r.Context(), r)
	if err != nil || ls == nil {
		return nil, err
	}
	return a.toSession(r.Context(), ls)
}
