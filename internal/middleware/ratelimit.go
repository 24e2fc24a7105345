package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/rjsadow/passage/internal/metrics"
	"github.com/rjsadow/passage/internal/ratelimit"
)

// RateLimit returns middleware that limits requests matched by match to the
// per-client rate of l. Unmatched requests pass through untouched. Rejected
// requests get 429 and are counted under scope. Forwarded client addresses
// are only honored when trustProxy is set.
func RateLimit(l *ratelimit.Limiter, scope string, match func(*http.Request) bool, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if match != nil && !match(r) {
				next.ServeHTTP(w, r)
				return
			}
			if !l.Allow(ClientIP(r, trustProxy)) {
				metrics.RecordRateLimited(scope)
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SignInPosts matches POST requests to the sign-in and sign-out endpoints
// under basePath.
func SignInPosts(basePath string) func(*http.Request) bool {
	signin := strings.TrimRight(basePath, "/") + "/signin/"
	signout := strings.TrimRight(basePath, "/") + "/signout"
	return func(r *http.Request) bool {
		if r.Method != http.MethodPost {
			return false
		}
		return strings.HasPrefix(r.URL.Path, signin) || r.URL.Path == signout
	}
}

// ClientIP returns the address of the client. Without trustProxy it is the
// peer address, since any client can set forwarding headers. Behind a trusted
// proxy it is X-Real-Ip, or else the last X-Forwarded-For hop, which is the
// one the proxy appended.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xri != "" {
			return xri
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			hops := strings.Split(xff, ",")
			if last := strings.TrimSpace(hops[len(hops)-1]); last != "" {
				return last
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
