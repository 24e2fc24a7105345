package authn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/rjsadow/passage/internal/db"
	"github.com/rjsadow/passage/internal/db/dbtest"
	"github.com/rjsadow/passage/internal/mailer"
	"github.com/rjsadow/passage/internal/plugins"
	"github.com/rjsadow/passage/internal/plugins/auth"
)

const (
	testSecret  = "0123456789abcdef0123456789abcdef"
	testBaseURL = "http://localhost:8080"
)

// fakeOAuth is an OAuth provider whose authorization server is the test
// itself: any code "good-code" exchanges for profile.
type fakeOAuth struct {
	id        string
	typ       plugins.PluginType
	dangerous bool

	mu       sync.Mutex
	profile  *plugins.Profile
	lastAuth plugins.AuthorizationRequest
	lastCall plugins.CallbackRequest
}

func newFakeOAuth(id string, typ plugins.PluginType, profile *plugins.Profile) *fakeOAuth {
	return &fakeOAuth{id: id, typ: typ, profile: profile}
}

func (p *fakeOAuth) ID() string                                          { return p.id }
func (p *fakeOAuth) Name() string                                        { return strings.ToUpper(p.id[:1]) + p.id[1:] }
func (p *fakeOAuth) Type() plugins.PluginType                            { return p.typ }
func (p *fakeOAuth) Version() string                                     { return "1.0.0" }
func (p *fakeOAuth) Description() string                                 { return "fake" }
func (p *fakeOAuth) Initialize(context.Context, map[string]string) error { return nil }
func (p *fakeOAuth) Healthy(context.Context) bool                        { return true }
func (p *fakeOAuth) Close() error                                        { return nil }
func (p *fakeOAuth) AllowDangerousEmailAccountLinking() bool             { return p.dangerous }

func (p *fakeOAuth) AuthCodeURL(ctx context.Context, req plugins.AuthorizationRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastAuth = req
	return "https://" + p.id + ".example/authorize?" + url.Values{
		"state":        {req.State},
		"redirect_uri": {req.RedirectURL},
	}.Encode(), nil
}

func (p *fakeOAuth) Exchange(ctx context.Context, req plugins.CallbackRequest) (*plugins.Profile, *plugins.TokenSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCall = req
	if req.Code != "good-code" {
		return nil, nil, errors.New("invalid_grant")
	}
	profile := *p.profile
	return &profile, &plugins.TokenSet{AccessToken: p.id + "-access", TokenType: "Bearer"}, nil
}

func (p *fakeOAuth) setProfile(profile *plugins.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profile = profile
}

// recordingMailer captures sent messages.
type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (m *recordingMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) last(t *testing.T) mailer.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no message sent")
	}
	return m.sent[len(m.sent)-1]
}

type testEnv struct {
	auth    *Auth
	db      *db.DB
	google  *fakeOAuth
	discord *fakeOAuth
	mailer  *recordingMailer
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	env := &testEnv{
		db: dbtest.NewTestDB(t),
		google: newFakeOAuth("google", plugins.PluginTypeOIDC, &plugins.Profile{
			ID: "google-1", Name: "Ada", Email: "ada@example.com", EmailVerified: true,
		}),
		discord: newFakeOAuth("discord", plugins.PluginTypeOAuth, &plugins.Profile{
			ID: "discord-1", Name: "ada_l", Email: "ada@example.com", EmailVerified: true,
		}),
		mailer: &recordingMailer{},
	}

	email := auth.NewEmailProviderWithMailer(env.mailer)
	if err := email.Initialize(context.Background(), map[string]string{auth.ConfigEmailRateBurst: "100"}); err != nil {
		t.Fatalf("email Initialize() error = %v", err)
	}
	t.Cleanup(func() { email.Close() })

	cfg := Config{
		Providers: []plugins.Plugin{env.google, env.discord, email},
		Secret:    testSecret,
		BaseURL:   testBaseURL,
		Adapter:   env.db,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.auth = a
	return env
}

// browser carries cookies between requests against the auth handlers.
type browser struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
}

func newBrowser(t *testing.T, h http.Handler) *browser {
	return &browser{t: t, handler: h, cookies: make(map[string]*http.Cookie)}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rec
}

func (b *browser) get(target string) *httptest.ResponseRecorder {
	b.t.Helper()
	return b.do(httptest.NewRequest(http.MethodGet, target, nil))
}

func (b *browser) post(target string, form url.Values) *httptest.ResponseRecorder {
	b.t.Helper()
	return b.do(newFormRequest(target, form))
}

func newFormRequest(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// csrf fetches a CSRF token the way the sign-in page does.
func (b *browser) csrf() string {
	b.t.Helper()
	rec := b.get("/api/auth/csrf")
	if rec.Code != http.StatusOK {
		b.t.Fatalf("GET /csrf status = %d", rec.Code)
	}
	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	decodeJSON(b.t, rec, &body)
	if body.CSRFToken == "" {
		b.t.Fatal("empty csrf token")
	}
	return body.CSRFToken
}

// oauthSignIn runs a complete OAuth round trip and returns the final
// response from the callback.
func (b *browser) oauthSignIn(provider, callbackURL string) *httptest.ResponseRecorder {
	b.t.Helper()
	rec := b.post("/api/auth/signin/"+provider, url.Values{
		"csrfToken":   {b.csrf()},
		"callbackUrl": {callbackURL},
	})
	if rec.Code != http.StatusFound {
		b.t.Fatalf("POST /signin/%s status = %d, body %s", provider, rec.Code, rec.Body)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		b.t.Fatalf("bad Location: %v", err)
	}
	state := loc.Query().Get("state")
	return b.get("/api/auth/callback/" + provider + "?" + url.Values{
		"code":  {"good-code"},
		"state": {state},
	}.Encode())
}

func (b *browser) session() *Session {
	b.t.Helper()
	rec := b.get("/api/auth/session")
	if rec.Code != http.StatusOK {
		b.t.Fatalf("GET /session status = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) == "null" {
		return nil
	}
	var s Session
	decodeJSON(b.t, rec, &s)
	return &s
}

func assertRedirect(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302 (body %s)", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Location"); got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}
}

func TestNew_Validation(t *testing.T) {
	database := dbtest.NewTestDB(t)
	google := newFakeOAuth("google", plugins.PluginTypeOIDC, nil)
	email := auth.NewEmailProviderWithMailer(&recordingMailer{})

	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{
			name: "no providers",
			cfg:  Config{Secret: testSecret, BaseURL: testBaseURL},
			want: ErrConfiguration,
		},
		{
			name: "short secret",
			cfg:  Config{Providers: []plugins.Plugin{google}, Secret: "short", BaseURL: testBaseURL},
			want: ErrConfiguration,
		},
		{
			name: "duplicate provider",
			cfg:  Config{Providers: []plugins.Plugin{google, google}, Secret: testSecret, BaseURL: testBaseURL},
			want: ErrConfiguration,
		},
		{
			name: "email without adapter",
			cfg:  Config{Providers: []plugins.Plugin{google, email}, Secret: testSecret, BaseURL: testBaseURL},
			want: ErrMissingAdapter,
		},
		{
			name: "database sessions without adapter",
			cfg: Config{
				Providers: []plugins.Plugin{google}, Secret: testSecret, BaseURL: testBaseURL,
				Session: SessionConfig{Strategy: StrategyDatabase},
			},
			want: ErrMissingAdapter,
		},
		{
			name: "unknown strategy",
			cfg: Config{
				Providers: []plugins.Plugin{google}, Secret: testSecret, BaseURL: testBaseURL,
				Session: SessionConfig{Strategy: "cookie"},
			},
			want: ErrConfiguration,
		},
		{
			name: "missing base URL",
			cfg:  Config{Providers: []plugins.Plugin{google}, Secret: testSecret},
			want: ErrConfiguration,
		},
		{
			name: "invalid base URL",
			cfg:  Config{Providers: []plugins.Plugin{google}, Secret: testSecret, BaseURL: "ftp://example.com"},
			want: ErrConfiguration,
		},
		{
			name: "relative base path",
			cfg:  Config{Providers: []plugins.Plugin{google}, Secret: testSecret, BaseURL: testBaseURL, BasePath: "auth"},
			want: ErrConfiguration,
		},
		{
			name: "plain plugin",
			cfg: Config{
				Providers: []plugins.Plugin{plainPlugin{}}, Secret: testSecret, BaseURL: testBaseURL, Adapter: database,
			},
			want: ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Fatalf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// plainPlugin is neither an OAuth nor an email provider.
type plainPlugin struct{}

func (plainPlugin) ID() string                                          { return "plain" }
func (plainPlugin) Name() string                                        { return "Plain" }
func (plainPlugin) Type() plugins.PluginType                            { return plugins.PluginTypeOAuth }
func (plainPlugin) Version() string                                     { return "1.0.0" }
func (plainPlugin) Description() string                                 { return "" }
func (plainPlugin) Initialize(context.Context, map[string]string) error { return nil }
func (plainPlugin) Healthy(context.Context) bool                        { return true }
func (plainPlugin) Close() error                                        { return nil }

func TestNew_Defaults(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.auth

	if a.session.Strategy != StrategyDatabase {
		t.Errorf("Strategy = %q, want database with an adapter", a.session.Strategy)
	}
	if a.session.MaxAge != DefaultSessionMaxAge || a.session.UpdateAge != DefaultSessionUpdateAge {
		t.Errorf("session = %+v", a.session)
	}
	if a.BasePath() != DefaultBasePath {
		t.Errorf("BasePath() = %q", a.BasePath())
	}
	ids := []string{}
	for _, p := range a.Providers() {
		ids = append(ids, p.ID())
	}
	if strings.Join(ids, ",") != "google,discord,email" {
		t.Errorf("Providers() = %v, want configured order", ids)
	}

	jwtAuth, err := New(Config{
		Providers: []plugins.Plugin{env.google},
		Secret:    testSecret,
		BaseURL:   testBaseURL + "/some/path",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if jwtAuth.session.Strategy != StrategyJWT {
		t.Errorf("Strategy = %q, want jwt without an adapter", jwtAuth.session.Strategy)
	}
	if jwtAuth.origin != testBaseURL {
		t.Errorf("origin = %q, want path stripped", jwtAuth.origin)
	}
}

func TestErrorIs(t *testing.T) {
	err := newError(AccessDenied, errors.New("nope"))
	if !errors.Is(err, ErrAccessDenied) {
		t.Error("errors.Is(AccessDenied) = false")
	}
	if errors.Is(err, ErrVerification) {
		t.Error("errors.Is(Verification) = true")
	}
	if err.Error() != "AccessDenied: nope" {
		t.Errorf("Error() = %q", err.Error())
	}

	var target *Error
	wrapped := errors.Join(errors.New("context"), err)
	if !errors.As(wrapped, &target) || target.Type != AccessDenied {
		t.Errorf("errors.As() = %v", target)
	}
	if errorType(errors.New("plain")) != Configuration {
		t.Error("untyped errors should map to Configuration")
	}
}

func TestProvidersEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	b := newBrowser(t, env.auth.Handlers())

	rec := b.get("/api/auth/providers")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]providerInfo
	decodeJSON(t, rec, &got)

	if len(got) != 3 {
		t.Fatalf("got %d providers, want 3", len(got))
	}
	google := got["google"]
	if google.Type != "oidc" || google.Name != "Google" {
		t.Errorf("google = %+v", google)
	}
	if google.SignInURL != testBaseURL+"/api/auth/signin/google" {
		t.Errorf("signinUrl = %q", google.SignInURL)
	}
	if got["email"].CallbackURL != testBaseURL+"/api/auth/callback/email" {
		t.Errorf("email callbackUrl = %q", got["email"].CallbackURL)
	}
}

func TestCSRFEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	b := newBrowser(t, env.auth.Handlers())

	first := b.csrf()
	if _, ok := b.cookies[cookieCSRFToken]; !ok {
		t.Fatal("csrf cookie not set")
	}
	if second := b.csrf(); second != first {
		t.Errorf("token changed with a valid cookie: %q != %q", second, first)
	}

	// A cookie not signed with our key is replaced.
	b.cookies[cookieCSRFToken].Value = "forged|deadbeef"
	if third := b.csrf(); third == first || third == "forged" {
		t.Errorf("forged cookie was accepted, token = %q", third)
	}
}

func TestSignIn_MissingCSRF(t *testing.T) {
	env := newTestEnv(t, nil)
	b := newBrowser(t, env.auth.Handlers())
	b.csrf()

	rec := b.post("/api/auth/signin/google", url.Values{"csrfToken": {"wrong"}})
	assertRedirect(t, rec, "/api/auth/error?error=MissingCSRF")

	req := newFormRequest("/api/auth/signin/google", nil)
	req.Header.Set("X-Auth-Return-Redirect", "1")
	rec = b.do(req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var body map[string]string
	decodeJSON(t, rec, &body)
	if body["error"] != "MissingCSRF" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestSignIn_UnknownProvider(t *testing.T) {
	env := newTestEnv(t, nil)
	b := newBrowser(t, env.auth.Handlers())

	rec := b.post("/api/auth/signin/github", url.Values{"csrfToken": {b.csrf()}})
	assertRedirect(t, rec, "/api/auth/error?error=UnknownProvider")

	rec = b.get("/api/auth/callback/github?code=x&state=y")
	assertRedirect(t, rec, "/api/auth/error?error=UnknownProvider")
}

func TestSignIn_Programmatic(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	rec := httptest.NewRecorder()
	target, err := env.auth.SignIn(rec, req, "discord", SignInOptions{CallbackURL: "/home", Redirect: true})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if !strings.HasPrefix(target, "https://discord.example/authorize?") {
		t.Errorf("SignIn() = %q", target)
	}
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != target {
		t.Errorf("response = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	if env.discord.lastAuth.Nonce != "" {
		t.Error("plain OAuth provider should not get a nonce")
	}
	if env.discord.lastAuth.CodeVerifier == "" {
		t.Error("missing PKCE verifier")
	}
	if env.discord.lastAuth.RedirectURL != testBaseURL+"/api/auth/callback/discord" {
		t.Errorf("RedirectURL = %q", env.discord.lastAuth.RedirectURL)
	}

	if _, err := env.auth.SignIn(httptest.NewRecorder(), req, "nope", SignInOptions{}); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("SignIn(unknown) error = %v", err)
	}
	_, err = env.auth.SignIn(httptest.NewRecorder(), req, "google", SignInOptions{CallbackURL: "/a\nb"})
	if !errors.Is(err, ErrInvalidCallbackURL) {
		t.Errorf("SignIn(bad callback) error = %v", err)
	}
}

func TestPages(t *testing.T) {
	env := newTestEnv(t, nil)
	b := newBrowser(t, env.auth.Handlers())

	tests := []struct {
		path       string
		wantStatus int
		wantBody   []string
	}{
		{"/api/auth/signin", http.StatusOK, []string{"Sign in with Google", "Sign in with Discord", `name="email"`, `name="csrfToken"`}},
		{"/api/auth/signin?error=OAuthAccountNotLinked", http.StatusOK, []string{"same account you used originally"}},
		{"/api/auth/signout", http.StatusOK, []string{`action="/api/auth/signout"`}},
		{"/api/auth/verify-request?provider=email&type=email", http.StatusOK, []string{"Check your email", "localhost:8080"}},
		{"/api/auth/error?error=AccessDenied", http.StatusForbidden, []string{"Access Denied"}},
		{"/api/auth/error?error=Verification", http.StatusForbidden, []string{"no longer valid"}},
		{"/api/auth/error", http.StatusInternalServerError, []string{"server configuration"}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := b.get(tt.path)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
				t.Errorf("Content-Type = %q", ct)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(rec.Body.String(), want) {
					t.Errorf("body missing %q", want)
				}
			}
		})
	}
}

func TestSecureCookies(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.BaseURL = "https://app.example.com" })
	b := newBrowser(t, env.auth.Handlers())

	b.csrf()
	c, ok := b.cookies["__Host-"+cookieCSRFToken]
	if !ok {
		t.Fatalf("cookies = %v, want __Host- csrf cookie", b.cookies)
	}
	if !c.Secure || !c.HttpOnly || c.Path != "/" || c.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie attributes = %+v", c)
	}

	rec := b.oauthSignIn("google", "/")
	assertRedirect(t, rec, "https://app.example.com/")
	if _, ok := b.cookies["__Secure-"+cookieSessionToken]; !ok {
		t.Errorf("cookies = %v, want __Secure- session cookie", b.cookies)
	}
}

func TestSecureCookies_TrustHost(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.BaseURL = ""
		cfg.TrustHost = true
	})

	csrf := func(proto string) []*http.Cookie {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/csrf", nil)
		req.Header.Set("X-Forwarded-Host", "auth.example.com")
		if proto != "" {
			req.Header.Set("X-Forwarded-Proto", proto)
		}
		rec := httptest.NewRecorder()
		env.auth.Handlers().ServeHTTP(rec, req)
		return rec.Result().Cookies()
	}

	secure := csrf("https")
	if len(secure) != 1 || secure[0].Name != "__Host-"+cookieCSRFToken || !secure[0].Secure {
		t.Errorf("https cookies = %+v, want a Secure __Host- csrf cookie", secure)
	}

	plain := csrf("")
	if len(plain) != 1 || plain[0].Name != cookieCSRFToken || plain[0].Secure {
		t.Errorf("http cookies = %+v, want a plain csrf cookie", plain)
	}

	// The prefixed cookie is read back on https requests.
	req := httptest.NewRequest(http.MethodGet, "/api/auth/csrf", nil)
	req.Header.Set("X-Forwarded-Host", "auth.example.com")
	req.Header.Set("X-Forwarded-Proto", "https")
	req.AddCookie(secure[0])
	rec := httptest.NewRecorder()
	env.auth.Handlers().ServeHTTP(rec, req)
	if got := rec.Result().Cookies(); len(got) != 0 {
		t.Errorf("cookies = %+v, want the existing csrf cookie reused", got)
	}
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
}
