package authn

import (
	"context"
	"log/slog"

	"github.com/rjsadow/passage/internal/db"
	"github.com/rjsadow/passage/internal/metrics"
)

// audit records an action when an adapter is configured. Failures are
// logged and never fail the request.
func (a *Auth) audit(ctx context.Context, userID, action, provider, details string) {
	if a.adapter == nil {
		return
	}
	if err := a.adapter.LogAudit(ctx, userID, action, provider, details); err != nil {
		slog.WarnContext(ctx, "Failed to write audit log", "action", action, "error", err)
	}
}

func (a *Auth) userCreated(ctx context.Context, user *db.User, provider string) {
	slog.InfoContext(ctx, "User created", "user_id", user.ID, "provider", provider)
	metrics.RecordUserCreated(provider)
	a.audit(ctx, user.ID, db.AuditCreateUser, provider, "")
	if a.events.OnCreateUser != nil {
		a.events.OnCreateUser(ctx, user)
	}
}

func (a *Auth) accountLinked(ctx context.Context, user *db.User, account *db.Account) {
	slog.InfoContext(ctx, "Account linked", "user_id", user.ID, "provider", account.Provider)
	a.audit(ctx, user.ID, db.AuditLinkAccount, account.Provider, "")
	if a.events.OnLinkAccount != nil {
		a.events.OnLinkAccount(ctx, user, account)
	}
}

func (a *Auth) signedIn(ctx context.Context, user *db.User, account *db.Account, isNewUser bool) {
	slog.InfoContext(ctx, "User signed in", "user_id", user.ID, "provider", account.Provider, "new_user", isNewUser)
	metrics.RecordSignIn(account.Provider, metrics.OutcomeSuccess)
	a.audit(ctx, user.ID, db.AuditSignIn, account.Provider, "")
	if a.events.OnSignIn != nil {
		a.events.OnSignIn(ctx, user, account, isNewUser)
	}
}

// signInFailed records a failed attempt. Denials by the SignIn callback
// count separately from errors.
func (a *Auth) signInFailed(ctx context.Context, provider string, err error) {
	t := errorType(err)
	outcome := metrics.OutcomeError
	if t == AccessDenied {
		outcome = metrics.OutcomeDenied
	}
	slog.WarnContext(ctx, "Sign-in failed", "provider", provider, "type", t, "error", err)
	metrics.RecordSignIn(provider, outcome)
	a.audit(ctx, "", db.AuditSignInError, provider, string(t))
}

func (a *Auth) signedOut(ctx context.Context, session *Session) {
	metrics.RecordSignOut()
	if session == nil {
		return
	}
	slog.InfoContext(ctx, "User signed out", "user_id", session.User.ID)
	a.audit(ctx, session.User.ID, db.AuditSignOut, "", "")
	if a.events.OnSignOut != nil {
		a.events.OnSignOut(ctx, session)
	}
}
