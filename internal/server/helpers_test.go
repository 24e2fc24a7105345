package server

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/rjsadow/passage/internal/mailer"
	"github.com/rjsadow/passage/internal/plugins"
	"github.com/rjsadow/passage/internal/plugins/auth"
)

// fakeOAuth stands in for google and discord. It accepts the code
// "good-code" and returns a fixed profile.
type fakeOAuth struct {
	id      string
	typ     plugins.PluginType
	profile plugins.Profile

	mu      sync.Mutex
	config  map[string]string
	healthy bool
	closed  bool
}

func newFakeOAuth(id string, typ plugins.PluginType, profile plugins.Profile) *fakeOAuth {
	return &fakeOAuth{id: id, typ: typ, profile: profile, healthy: true}
}

func (p *fakeOAuth) ID() string                              { return p.id }
func (p *fakeOAuth) Name() string                            { return strings.ToUpper(p.id[:1]) + p.id[1:] }
func (p *fakeOAuth) Type() plugins.PluginType                { return p.typ }
func (p *fakeOAuth) Version() string                         { return "1.0.0" }
func (p *fakeOAuth) Description() string                     { return "fake " + p.id }
func (p *fakeOAuth) AllowDangerousEmailAccountLinking() bool { return false }

func (p *fakeOAuth) Initialize(_ context.Context, config map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config = config
	return nil
}

func (p *fakeOAuth) Healthy(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy
}

func (p *fakeOAuth) setHealthy(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = v
}

func (p *fakeOAuth) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeOAuth) AuthCodeURL(_ context.Context, req plugins.AuthorizationRequest) (string, error) {
	return "https://" + p.id + ".example/authorize?" + url.Values{
		"state":        {req.State},
		"redirect_uri": {req.RedirectURL},
	}.Encode(), nil
}

func (p *fakeOAuth) Exchange(_ context.Context, req plugins.CallbackRequest) (*plugins.Profile, *plugins.TokenSet, error) {
	if req.Code != "good-code" {
		return nil, nil, errors.New("invalid_grant")
	}
	profile := p.profile
	return &profile, &plugins.TokenSet{AccessToken: p.id + "-access", TokenType: "Bearer"}, nil
}

// recordingMailer captures sent messages.
type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (m *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) messages() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Message(nil), m.sent...)
}

// testProviders is a registry whose google, discord and email factories
// return fakes.
type testProviders struct {
	registry *plugins.Registry
	google   *fakeOAuth
	discord  *fakeOAuth
	mailer   *recordingMailer
}

func newTestProviders() *testProviders {
	tp := &testProviders{
		registry: plugins.NewRegistry(),
		google: newFakeOAuth("google", plugins.PluginTypeOIDC, plugins.Profile{
			ID: "google-1", Name: "Ada", Email: "ada@example.com", EmailVerified: true,
		}),
		discord: newFakeOAuth("discord", plugins.PluginTypeOAuth, plugins.Profile{
			ID: "discord-1", Name: "grace_h", Email: "grace@example.com", EmailVerified: true,
		}),
		mailer: &recordingMailer{},
	}
	tp.registry.Register("google", func() plugins.Plugin { return tp.google })
	tp.registry.Register("discord", func() plugins.Plugin { return tp.discord })
	tp.registry.Register("email", func() plugins.Plugin { return auth.NewEmailProviderWithMailer(tp.mailer) })
	return tp
}
