package authn

import (
	"context"
	"log/slog"
	"net/http"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const sessionContextKey contextKey = "session"

// Middleware loads the session, if any, into the request context. Requests
// without a session pass through unchanged.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := a.Auth(r)
		if err != nil {
			slog.WarnContext(r.Context(), "Failed to load session", "error", err)
		}
		if session == nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}

// RequireSession rejects requests without a session with 401.
func (a *Auth) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := SessionFromContext(r.Context())
		if session == nil {
			var err error
			session, err = a.Auth(r)
			if err != nil {
				slog.ErrorContext(r.Context(), "Failed to load session", "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": string(Configuration)})
				return
			}
		}
		if session == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}

// WithSession returns a copy of ctx carrying session.
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// SessionFromContext retrieves the session stored by Middleware or
// RequireSession.
func SessionFromContext(ctx context.Context) *Session {
	session, ok := ctx.Value(sessionContextKey).(*Session)
	if !ok {
		return nil
	}
	return session
}
