package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/rjsadow/passage/internal/plugins"
)

const (
	// DefaultDiscordBaseURL is the root of Discord's HTTP API.
	DefaultDiscordBaseURL = "https://discord.com/api"

	discordCDN = "https://cdn.discordapp.com"
)

// DiscordProvider signs users in with Discord over OAuth 2.0.
// Discord has no ID token, so the profile is read from /users/@me.
type DiscordProvider struct {
	oauthProvider

	baseURL string
}

func init() {
	plugins.RegisterGlobal("discord", func() plugins.Plugin {
		return NewDiscordProvider()
	})
}

// NewDiscordProvider creates an uninitialized Discord provider.
func NewDiscordProvider() *DiscordProvider {
	return &DiscordProvider{
		oauthProvider: oauthProvider{
			id:          "discord",
			name:        "Discord",
			description: "Discord sign-in (OAuth 2.0)",
			pluginType:  plugins.PluginTypeOAuth,
		},
		baseURL: DefaultDiscordBaseURL,
	}
}

// Initialize configures the client.
// Required config keys: client_id, client_secret
// Optional: base_url, scopes, allow_dangerous_email_account_linking
func (p *DiscordProvider) Initialize(ctx context.Context, config map[string]string) error {
	if base := config[ConfigBaseURL]; base != "" {
		p.baseURL = strings.TrimRight(base, "/")
	}

	endpoint := oauth2.Endpoint{
		AuthURL:   p.baseURL + "/oauth2/authorize",
		TokenURL:  p.baseURL + "/oauth2/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	if err := p.configure(config, endpoint, []string{"identify", "email"}); err != nil {
		return err
	}

	p.ready = true
	return nil
}

// AuthCodeURL returns Discord's consent URL for this attempt.
func (p *DiscordProvider) AuthCodeURL(ctx context.Context, req plugins.AuthorizationRequest) (string, error) {
	return p.authCodeURL(req)
}

type discordUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	GlobalName    string `json:"global_name"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar"`
	Email         string `json:"email"`
	Verified      bool   `json:"verified"`
}

// Exchange redeems the code and fetches the user's Discord profile.
func (p *DiscordProvider) Exchange(ctx context.Context, req plugins.CallbackRequest) (*plugins.Profile, *plugins.TokenSet, error) {
	token, err := p.exchange(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	client := p.configFor(req.RedirectURL).Client(ctx, token)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/users/@me", nil)
	if err != nil {
		return nil, nil, fmt.Errorf("discord: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("discord: failed to fetch user: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("discord: failed to read user: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("discord: user endpoint returned %d", resp.StatusCode)
	}

	var user discordUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, nil, fmt.Errorf("discord: failed to decode user: %w", err)
	}
	if user.ID == "" {
		return nil, nil, errors.New("discord: user has no id")
	}

	var raw map[string]any
	_ = json.Unmarshal(body, &raw)

	name := user.GlobalName
	if name == "" {
		name = user.Username
	}

	return &plugins.Profile{
		ID:            user.ID,
		Name:          name,
		Email:         user.Email,
		EmailVerified: user.Verified,
		Image:         discordAvatarURL(user),
		Raw:           raw,
	}, tokenSet(token), nil
}

// discordAvatarURL returns the user's avatar, or Discord's default avatar
// when none is set. Animated avatars have an "a_" prefix.
func discordAvatarURL(u discordUser) string {
	if u.Avatar != "" {
		format := "png"
		if strings.HasPrefix(u.Avatar, "a_") {
			format = "gif"
		}
		return fmt.Sprintf("%s/avatars/%s/%s.%s", discordCDN, u.ID, u.Avatar, format)
	}

	var index uint64
	if u.Discriminator == "" || u.Discriminator == "0" {
		// Users on the new username system.
		id, _ := strconv.ParseUint(u.ID, 10, 64)
		index = (id >> 22) % 6
	} else {
		d, _ := strconv.ParseUint(u.Discriminator, 10, 64)
		index = d % 5
	}
	return fmt.Sprintf("%s/embed/avatars/%d.png", discordCDN, index)
}

// Verify interface compliance
var _ plugins.OAuthProvider = (*DiscordProvider)(nil)
