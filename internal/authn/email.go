package authn

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rjsadow/passage/internal/db"
	"github.com/rjsadow/passage/internal/metrics"
	"github.com/rjsadow/passage/internal/plugins"
)

// emailSignIn stores a verification token for the address and emails the
// link. It returns the verify-request page URL.
func (a *Auth) emailSignIn(r *http.Request, p plugins.EmailProvider, email, callback string) (string, error) {
	ctx := r.Context()

	identifier, err := p.NormalizeIdentifier(email)
	if err != nil {
		return "", newError(EmailSignInError, err)
	}
	if err := p.Throttle(identifier); err != nil {
		metrics.RecordRateLimited("email")
		return "", newError(EmailSignInError, err)
	}

	user, err := a.adapter.GetUserByEmail(ctx, identifier)
	if err != nil {
		return "", fmt.Errorf("failed to look up user by email: %w", err)
	}
	if user == nil {
		user = &db.User{Email: identifier}
	}
	if err := a.allowSignIn(ctx, user, nil, nil); err != nil {
		return "", err
	}

	token, err := randomToken(32)
	if err != nil {
		return "", newError(EmailSignInError, err)
	}
	expires := a.now().Add(p.MaxAge())
	tokenHash := hashVerificationToken(token, a.secret)
	err = a.adapter.CreateVerificationToken(ctx, &db.VerificationToken{
		Identifier: identifier,
		TokenHash:  tokenHash,
		Expires:    expires,
	})
	if err != nil {
		return "", fmt.Errorf("failed to store verification token: %w", err)
	}

	baseURL := a.baseURL(r)
	link := a.providerURL(baseURL, "/callback/"+p.ID()) + "?" + url.Values{
		"callbackUrl": {callback},
		"token":       {token},
		"email":       {identifier},
	}.Encode()

	err = p.SendVerificationRequest(ctx, plugins.VerificationRequest{
		Identifier: identifier,
		URL:        link,
		Expires:    expires,
		Host:       hostOf(baseURL),
	})
	metrics.RecordVerificationEmail(err == nil)
	if err != nil {
		if derr := a.adapter.DeleteVerificationToken(ctx, identifier, tokenHash); derr != nil {
			slog.WarnContext(ctx, "Failed to remove undelivered verification token", "error", derr)
		}
		return "", newError(EmailSignInError, err)
	}

	return a.providerURL(baseURL, "/verify-request?"+url.Values{
		"provider": {p.ID()},
		"type":     {string(p.Type())},
	}.Encode()), nil
}

// emailCallback redeems an emailed token and signs the user in, creating
// the user on first verification.
func (a *Auth) emailCallback(w http.ResponseWriter, r *http.Request, p plugins.EmailProvider) (string, error) {
	ctx := r.Context()
	q := r.URL.Query()

	token, email := q.Get("token"), q.Get("email")
	if token == "" || email == "" {
		return "", newError(Verification, errors.New("missing token or email"))
	}
	identifier, err := p.NormalizeIdentifier(email)
	if err != nil {
		return "", newError(Verification, err)
	}

	vt, err := a.adapter.UseVerificationToken(ctx, identifier, hashVerificationToken(token, a.secret))
	if err != nil {
		return "", fmt.Errorf("failed to redeem verification token: %w", err)
	}
	if vt == nil {
		return "", newError(Verification, errors.New("unknown or already used token"))
	}
	now := a.now()
	if !now.Before(vt.Expires) {
		return "", newError(Verification, errors.New("token expired"))
	}

	user, err := a.adapter.GetUserByEmail(ctx, identifier)
	if err != nil {
		return "", fmt.Errorf("failed to look up user by email: %w", err)
	}
	account := &db.Account{
		Type:              string(p.Type()),
		Provider:          p.ID(),
		ProviderAccountID: identifier,
	}

	created := false
	if user == nil {
		user = &db.User{Email: identifier, EmailVerified: &now}
		if err := a.allowSignIn(ctx, user, account, nil); err != nil {
			return "", err
		}
		if err := a.adapter.CreateUser(ctx, user); err != nil {
			return "", fmt.Errorf("failed to create user: %w", err)
		}
		created = true
		a.userCreated(ctx, user, p.ID())
	} else {
		if err := a.allowSignIn(ctx, user, account, nil); err != nil {
			return "", err
		}
		if user.EmailVerified == nil {
			user.EmailVerified = &now
			if err := a.adapter.UpdateUser(ctx, user); err != nil {
				return "", fmt.Errorf("failed to mark email verified: %w", err)
			}
		}
	}
	account.UserID = user.ID

	if err := a.createSession(w, r, user); err != nil {
		return "", err
	}
	a.signedIn(ctx, user, account, created)

	return a.redirect(q.Get("callbackUrl"), a.baseURL(r)), nil
}

func hostOf(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}
	return u.Host
}
