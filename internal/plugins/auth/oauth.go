package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/rjsadow/passage/internal/plugins"
)

// Provider config keys.
const (
	ConfigClientID       = "client_id"
	ConfigClientSecret   = "client_secret"
	ConfigScopes         = "scopes"
	ConfigDangerousLink  = "allow_dangerous_email_account_linking"
	ConfigIssuer         = "issuer"
	ConfigBaseURL        = "base_url"
	ConfigEmailServer    = "server"
	ConfigEmailFrom      = "from"
	ConfigEmailMaxAge    = "max_age"
	ConfigEmailRateEvery = "rate_interval"
	ConfigEmailRateBurst = "rate_burst"
)

// oauthProvider holds what every authorization-code provider needs.
type oauthProvider struct {
	id          string
	name        string
	description string
	pluginType  plugins.PluginType

	oauth2Config       oauth2.Config
	allowDangerousLink bool
	ready              bool
}

func (p *oauthProvider) ID() string                       { return p.id }
func (p *oauthProvider) Name() string                     { return p.name }
func (p *oauthProvider) Type() plugins.PluginType         { return p.pluginType }
func (p *oauthProvider) Version() string                  { return "1.0.0" }
func (p *oauthProvider) Description() string              { return p.description }
func (p *oauthProvider) Healthy(ctx context.Context) bool { return p.ready }
func (p *oauthProvider) Close() error                     { return nil }

func (p *oauthProvider) AllowDangerousEmailAccountLinking() bool {
	return p.allowDangerousLink
}

// configure reads the client credentials and common options.
func (p *oauthProvider) configure(config map[string]string, endpoint oauth2.Endpoint, defaultScopes []string) error {
	clientID := config[ConfigClientID]
	if clientID == "" {
		return fmt.Errorf("%s: %w: client_id is required", p.id, plugins.ErrInvalidConfig)
	}
	clientSecret := config[ConfigClientSecret]
	if clientSecret == "" {
		return fmt.Errorf("%s: %w: client_secret is required", p.id, plugins.ErrInvalidConfig)
	}

	scopes := defaultScopes
	if s, ok := config[ConfigScopes]; ok && s != "" {
		scopes = splitScopes(s)
	}

	if v, ok := config[ConfigDangerousLink]; ok && v != "" {
		allow, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w: invalid %s: %v", p.id, plugins.ErrInvalidConfig, ConfigDangerousLink, err)
		}
		p.allowDangerousLink = allow
	}

	p.oauth2Config = oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}
	return nil
}

// configFor returns a copy of the client config bound to a redirect URL.
func (p *oauthProvider) configFor(redirectURL string) *oauth2.Config {
	cfg := p.oauth2Config
	cfg.RedirectURL = redirectURL
	return &cfg
}

// authCodeURL builds the consent URL with PKCE when a verifier is supplied.
func (p *oauthProvider) authCodeURL(req plugins.AuthorizationRequest, extra ...oauth2.AuthCodeOption) (string, error) {
	if !p.ready {
		return "", fmt.Errorf("%s: %w", p.id, plugins.ErrPluginNotReady)
	}
	if req.State == "" {
		return "", fmt.Errorf("%s: state is required", p.id)
	}
	opts := extra
	if req.CodeVerifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(req.CodeVerifier))
	}
	return p.configFor(req.RedirectURL).AuthCodeURL(req.State, opts...), nil
}

// exchange redeems the authorization code.
func (p *oauthProvider) exchange(ctx context.Context, req plugins.CallbackRequest) (*oauth2.Token, error) {
	if !p.ready {
		return nil, fmt.Errorf("%s: %w", p.id, plugins.ErrPluginNotReady)
	}
	if req.Code == "" {
		return nil, fmt.Errorf("%s: missing authorization code", p.id)
	}
	var opts []oauth2.AuthCodeOption
	if req.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(req.CodeVerifier))
	}
	token, err := p.configFor(req.RedirectURL).Exchange(ctx, req.Code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to exchange code: %w", p.id, err)
	}
	return token, nil
}

func tokenSet(token *oauth2.Token) *plugins.TokenSet {
	ts := &plugins.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		ts.IDToken = idToken
	}
	return ts
}

// splitScopes accepts comma or space separated scopes.
func splitScopes(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	scopes := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			scopes = append(scopes, f)
		}
	}
	return scopes
}
