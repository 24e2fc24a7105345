package authn

import (
	"context"
	"fmt"
	"time"

	"github.com/rjsadow/passage/internal/db"
	"github.com/rjsadow/passage/internal/plugins"
)

type linkAction int

const (
	actionSignIn linkAction = iota // account already linked
	actionLink                     // add account to an existing user
	actionCreate                   // new user and account
)

// linkPlan is the outcome of resolving a provider identity against the
// adapter, computed before anything is written so the SignIn callback can
// still refuse.
type linkPlan struct {
	action  linkAction
	user    *db.User
	account *db.Account
}

func accountFromProfile(providerID string, t plugins.PluginType, profile *plugins.Profile, tokens *plugins.TokenSet) *db.Account {
	account := &db.Account{
		Type:              string(t),
		Provider:          providerID,
		ProviderAccountID: profile.ID,
	}
	if tokens != nil {
		account.AccessToken = tokens.AccessToken
		account.RefreshToken = tokens.RefreshToken
		account.TokenType = tokens.TokenType
		account.Scope = tokens.Scope
		account.IDToken = tokens.IDToken
		if !tokens.Expiry.IsZero() {
			account.ExpiresAt = tokens.Expiry.Unix()
		}
	}
	return account
}

func userFromProfile(profile *plugins.Profile, now time.Time) *db.User {
	user := &db.User{
		Name:  profile.Name,
		Email: profile.Email,
		Image: profile.Image,
	}
	if profile.Email != "" && profile.EmailVerified {
		verified := now
		user.EmailVerified = &verified
	}
	return user
}

// planOAuthSignIn decides how a provider identity maps onto users.
// current is the already signed-in user, if any.
func (a *Auth) planOAuthSignIn(ctx context.Context, provider plugins.OAuthProvider, profile *plugins.Profile, tokens *plugins.TokenSet, current *db.User) (*linkPlan, error) {
	account := accountFromProfile(provider.ID(), provider.Type(), profile, tokens)

	// Without an adapter the provider identity is the user.
	if a.adapter == nil {
		user := userFromProfile(profile, a.now())
		user.ID = profile.ID
		account.UserID = user.ID
		return &linkPlan{action: actionSignIn, user: user, account: account}, nil
	}

	linked, err := a.adapter.GetUserByAccount(ctx, provider.ID(), profile.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if linked != nil {
		if current != nil && current.ID != linked.ID {
			return nil, newError(OAuthAccountNotLinked,
				fmt.Errorf("%s account belongs to another user", provider.ID()))
		}
		account.UserID = linked.ID
		return &linkPlan{action: actionSignIn, user: linked, account: account}, nil
	}

	if current != nil {
		account.UserID = current.ID
		return &linkPlan{action: actionLink, user: current, account: account}, nil
	}

	if profile.Email != "" {
		existing, err := a.adapter.GetUserByEmail(ctx, profile.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to look up user by email: %w", err)
		}
		if existing != nil {
			if !provider.AllowDangerousEmailAccountLinking() {
				return nil, newError(OAuthAccountNotLinked,
					fmt.Errorf("email already used with another provider"))
			}
			account.UserID = existing.ID
			return &linkPlan{action: actionLink, user: existing, account: account}, nil
		}
	}

	return &linkPlan{action: actionCreate, user: userFromProfile(profile, a.now()), account: account}, nil
}

// apply writes the plan. It reports whether a user was created.
func (a *Auth) apply(ctx context.Context, plan *linkPlan) (bool, error) {
	if a.adapter == nil || plan.action == actionSignIn {
		return false, nil
	}

	if plan.action == actionCreate {
		if err := a.adapter.CreateUserWithAccount(ctx, plan.user, plan.account); err != nil {
			return false, fmt.Errorf("failed to create user: %w", err)
		}
		a.userCreated(ctx, plan.user, plan.account.Provider)
		a.accountLinked(ctx, plan.user, plan.account)
		return true, nil
	}

	plan.account.UserID = plan.user.ID
	if err := a.adapter.LinkAccount(ctx, plan.account); err != nil {
		return false, fmt.Errorf("failed to link account: %w", err)
	}
	a.accountLinked(ctx, plan.user, plan.account)
	return false, nil
}
