// Package metrics provides Prometheus metrics for sign-in activity.
// Labels are limited to provider ids and fixed outcome names; user ids and
// addresses never appear in labels.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sign-in outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

var (
	// SignInTotal counts completed sign-in attempts by provider and outcome.
	SignInTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "passage_signin_total",
		Help: "Total number of sign-in attempts, by provider and outcome.",
	}, []string{"provider", "outcome"})

	// SignOutTotal counts sign-outs.
	SignOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "passage_signout_total",
		Help: "Total number of sign-outs.",
	})

	// VerificationEmailsTotal counts magic-link emails by result (sent/failed).
	VerificationEmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "passage_verification_emails_total",
		Help: "Total number of verification emails, by result.",
	}, []string{"result"})

	// SessionsCreatedTotal counts sessions issued by strategy (database/jwt).
	SessionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "passage_sessions_created_total",
		Help: "Total number of sessions created, by strategy.",
	}, []string{"strategy"})

	// UsersCreatedTotal counts new users by the provider they first used.
	UsersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "passage_users_created_total",
		Help: "Total number of users created, by provider.",
	}, []string{"provider"})

	// CallbackDuration observes provider callback handling time.
	CallbackDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "passage_callback_duration_seconds",
		Help:    "Time spent handling provider callbacks, by provider.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	// RateLimitedTotal counts requests rejected by a rate limiter, by scope.
	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "passage_ratelimit_exceeded_total",
		Help: "Total rate limit rejections, by scope.",
	}, []string{"scope"})

	// ExpiredRowsRemovedTotal counts rows removed by the periodic cleanup.
	ExpiredRowsRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "passage_expired_rows_removed_total",
		Help: "Total number of expired sessions, tokens and OAuth states removed.",
	})
)

// RecordSignIn increments the sign-in counter.
func RecordSignIn(provider, outcome string) {
	SignInTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordSignOut increments the sign-out counter.
func RecordSignOut() {
	SignOutTotal.Inc()
}

// RecordVerificationEmail records a magic-link delivery attempt.
func RecordVerificationEmail(sent bool) {
	result := "sent"
	if !sent {
		result = "failed"
	}
	VerificationEmailsTotal.WithLabelValues(result).Inc()
}

// RecordSessionCreated increments the session counter for a strategy.
func RecordSessionCreated(strategy string) {
	SessionsCreatedTotal.WithLabelValues(strategy).Inc()
}

// RecordUserCreated increments the new-user counter.
func RecordUserCreated(provider string) {
	UsersCreatedTotal.WithLabelValues(provider).Inc()
}

// ObserveCallback records how long a callback took since start.
func ObserveCallback(provider string, start time.Time) {
	CallbackDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

// RecordRateLimited increments the rate limit rejection counter.
func RecordRateLimited(scope string) {
	RateLimitedTotal.WithLabelValues(scope).Inc()
}

// RecordExpiredRowsRemoved adds n to the cleanup counter.
func RecordExpiredRowsRemoved(n int64) {
	if n > 0 {
		ExpiredRowsRemovedTotal.Add(float64(n))
	}
}
