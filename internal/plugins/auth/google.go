package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/rjsadow/passage/internal/plugins"
)

// DefaultGoogleIssuer is Google's OpenID Connect issuer.
const DefaultGoogleIssuer = "https://accounts.google.com"

// GoogleProvider signs users in with Google over OpenID Connect.
// The ID token returned by the token endpoint is verified against the
// issuer's published keys and must carry the nonce sent with the request.
type GoogleProvider struct {
	oauthProvider

	issuer   string
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

func init() {
	plugins.RegisterGlobal("google", func() plugins.Plugin {
		return NewGoogleProvider()
	})
}

// NewGoogleProvider creates an uninitialized Google provider.
func NewGoogleProvider() *GoogleProvider {
	return &GoogleProvider{
		oauthProvider: oauthProvider{
			id:          "google",
			name:        "Google",
			description: "Google sign-in (OpenID Connect)",
			pluginType:  plugins.PluginTypeOIDC,
		},
		issuer: DefaultGoogleIssuer,
	}
}

// Initialize discovers the issuer and configures the client.
// Required config keys: client_id, client_secret
// Optional: issuer, scopes, allow_dangerous_email_account_linking
func (p *GoogleProvider) Initialize(ctx context.Context, config map[string]string) error {
	if issuer := config[ConfigIssuer]; issuer != "" {
		p.issuer = issuer
	}

	// Fetches .well-known/openid-configuration
	provider, err := oidc.NewProvider(ctx, p.issuer)
	if err != nil {
		return fmt.Errorf("google: failed to discover provider at %s: %w", p.issuer, err)
	}

	scopes := []string{oidc.ScopeOpenID, "email", "profile"}
	if err := p.configure(config, provider.Endpoint(), scopes); err != nil {
		return err
	}

	p.provider = provider
	p.verifier = provider.Verifier(&oidc.Config{ClientID: p.oauth2Config.ClientID})
	p.ready = true
	return nil
}

// AuthCodeURL returns Google's consent URL for this attempt.
func (p *GoogleProvider) AuthCodeURL(ctx context.Context, req plugins.AuthorizationRequest) (string, error) {
	var opts []oauth2.AuthCodeOption
	if req.Nonce != "" {
		opts = append(opts, oidc.Nonce(req.Nonce))
	}
	return p.authCodeURL(req, opts...)
}

// Exchange redeems the code, verifies the ID token and returns its claims
// as a profile.
func (p *GoogleProvider) Exchange(ctx context.Context, req plugins.CallbackRequest) (*plugins.Profile, *plugins.TokenSet, error) {
	token, err := p.exchange(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, nil, errors.New("google: no id_token in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, nil, fmt.Errorf("google: failed to verify id_token: %w", err)
	}
	if req.Nonce != "" && idToken.Nonce != req.Nonce {
		return nil, nil, errors.New("google: id_token nonce mismatch")
	}

	var claims struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, nil, fmt.Errorf("google: failed to parse claims: %w", err)
	}
	if claims.Sub == "" {
		return nil, nil, errors.New("google: id_token has no subject")
	}

	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, nil, fmt.Errorf("google: failed to parse claims: %w", err)
	}

	return &plugins.Profile{
		ID:            claims.Sub,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Image:         claims.Picture,
		Raw:           raw,
	}, tokenSet(token), nil
}

// Verify interface compliance
var _ plugins.OAuthProvider = (*GoogleProvider)(nil)
