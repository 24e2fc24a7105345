package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/time/rate"

	"github.com/rjsadow/passage/internal/db"
	"github.com/rjsadow/passage/internal/ratelimit"
	"github.com/rjsadow/passage/internal/statestore"
)

// testClient is a browser: it keeps cookies and does not follow redirects.
type testClient struct {
	baseURL string
	http    *http.Client
}

func newTestClient(baseURL string) *testClient {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &testClient{
		baseURL: baseURL,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *testClient) get(path string) *http.Response {
	resp, err := c.http.Get(c.baseURL + path)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(resp.Body.Close)
	return resp
}

func (c *testClient) post(path string, form url.Values) *http.Response {
	resp, err := c.http.PostForm(c.baseURL+path, form)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(resp.Body.Close)
	return resp
}

func (c *testClient) csrf() string {
	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	decode(c.get("/api/auth/csrf"), &body)
	Expect(body.CSRFToken).NotTo(BeEmpty())
	return body.CSRFToken
}

// signInWith runs an OAuth sign-in against a fake provider and returns the
// final redirect.
func (c *testClient) signInWith(provider, callbackURL string) *http.Response {
	resp := c.post("/api/auth/signin/"+provider, url.Values{
		"csrfToken":   {c.csrf()},
		"callbackUrl": {callbackURL},
	})
	Expect(resp.StatusCode).To(Equal(http.StatusFound))

	authorize, err := url.Parse(resp.Header.Get("Location"))
	Expect(err).NotTo(HaveOccurred())
	Expect(authorize.Host).To(Equal(provider + ".example"))

	state := authorize.Query().Get("state")
	return c.get("/api/auth/callback/" + provider + "?" + url.Values{
		"code":  {"good-code"},
		"state": {state},
	}.Encode())
}

func decode(resp *http.Response, v any) {
	Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
}

var _ = Describe("Server", func() {
	var (
		tp       *testProviders
		database *db.DB
		app      *App
		ts       *httptest.Server
		client   *testClient
	)

	BeforeEach(func() {
		var err error
		database, err = db.OpenDB("sqlite", filepath.Join(GinkgoT().TempDir(), "passage.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(database.Close)

		tp = newTestProviders()
		DeferCleanup(tp.registry.Close)

		// The URL is only known once the server is listening.
		ts = httptest.NewUnstartedServer(nil)
		cfg := testConfig()
		cfg.URL = "http://" + ts.Listener.Addr().String()
		cfg.CORSOrigins = []string{"https://app.example.com"}

		states := statestore.NewDBStore(database)
		a, err := NewAuth(context.Background(), cfg, tp.registry, database, states)
		Expect(err).NotTo(HaveOccurred())

		limiter := ratelimit.New(rate.Limit(0.001), 20)
		DeferCleanup(limiter.Stop)

		app = &App{
			DB:            database,
			Auth:          a,
			Plugins:       tp.registry,
			States:        states,
			Config:        cfg,
			SigninLimiter: limiter,
		}
		ts.Config.Handler = app.Handler()
		ts.Start()
		DeferCleanup(ts.Close)

		client = newTestClient(ts.URL)
	})

	Describe("observability endpoints", func() {
		It("reports liveness", func() {
			resp := client.get("/healthz")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body map[string]string
			decode(resp, &body)
			Expect(body).To(HaveKeyWithValue("status", "ok"))
		})

		It("reports readiness with provider health", func() {
			resp := client.get("/readyz")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body map[string]any
			decode(resp, &body)
			Expect(body).To(HaveKeyWithValue("status", "ready"))
			Expect(body["providers"]).To(HaveLen(3))
		})

		It("is not ready when a provider is unhealthy", func() {
			tp.discord.setHealthy(false)

			resp := client.get("/readyz")
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
		})

		It("exposes Prometheus metrics", func() {
			client.signInWith("google", "/")

			resp := client.get("/metrics")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`passage_signin_total{outcome="success",provider="google"}`))
		})
	})

	Describe("middleware chain", func() {
		It("sets security headers and a request ID", func() {
			resp := client.get("/api/auth/providers")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("X-Content-Type-Options")).To(Equal("nosniff"))
			Expect(resp.Header.Get("X-Frame-Options")).To(Equal("DENY"))
			Expect(resp.Header.Get("X-Request-ID")).NotTo(BeEmpty())
		})

		It("answers CORS preflight for configured origins only", func() {
			preflight := func(origin string) *http.Response {
				req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/auth/session", nil)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Origin", origin)
				req.Header.Set("Access-Control-Request-Method", http.MethodGet)
				resp, err := client.http.Do(req)
				Expect(err).NotTo(HaveOccurred())
				DeferCleanup(resp.Body.Close)
				return resp
			}

			allowed := preflight("https://app.example.com")
			Expect(allowed.Header.Get("Access-Control-Allow-Origin")).To(Equal("https://app.example.com"))
			Expect(allowed.Header.Get("Access-Control-Allow-Credentials")).To(Equal("true"))

			denied := preflight("https://evil.example")
			Expect(denied.Header.Get("Access-Control-Allow-Origin")).To(BeEmpty())
		})

		It("rate limits sign-in posts per client", func() {
			var codes []int
			for range 25 {
				resp := client.post("/api/auth/signin/google", url.Values{"csrfToken": {"x"}})
				codes = append(codes, resp.StatusCode)
			}
			Expect(codes[:20]).NotTo(ContainElement(http.StatusTooManyRequests))
			Expect(codes[20:]).To(HaveEach(http.StatusTooManyRequests))

			// Reads are not limited.
			Expect(client.get("/api/auth/session").StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("/api/me", func() {
		It("requires a session", func() {
			resp := client.get("/api/me")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("returns the session after an OAuth sign-in", func() {
			resp := client.signInWith("google", "/dashboard")
			Expect(resp.StatusCode).To(Equal(http.StatusFound))
			Expect(resp.Header.Get("Location")).To(Equal(ts.URL + "/dashboard"))

			var session struct {
				User struct {
					ID    string `json:"id"`
					Name  string `json:"name"`
					Email string `json:"email"`
				} `json:"user"`
			}
			me := client.get("/api/me")
			Expect(me.StatusCode).To(Equal(http.StatusOK))
			decode(me, &session)
			Expect(session.User.Email).To(Equal("ada@example.com"))
			Expect(session.User.Name).To(Equal("Ada"))
			Expect(session.User.ID).NotTo(BeEmpty())
		})

		It("lists the caller's activity", func() {
			client.signInWith("discord", "/")

			// Another user's activity is not visible.
			other := newTestClient(ts.URL)
			other.signInWith("google", "/")

			resp := client.get("/api/me/activity")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var page db.AuditLogPage
			decode(resp, &page)
			Expect(page.Total).To(BeNumerically(">=", 2))
			Expect(page.Logs).To(HaveEach(HaveField("UserID", page.Logs[0].UserID)))

			actions := make([]string, 0, len(page.Logs))
			for _, l := range page.Logs {
				actions = append(actions, l.Action)
			}
			Expect(actions).To(ContainElements(db.AuditCreateUser, db.AuditSignIn))

			Expect(client.get("/api/me/activity?limit=0").StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("email sign-in", func() {
		It("signs in through the emailed link", func() {
			resp := client.post("/api/auth/signin/email", url.Values{
				"csrfToken":   {client.csrf()},
				"email":       {"Linus@Example.com"},
				"callbackUrl": {"/welcome"},
			})
			Expect(resp.StatusCode).To(Equal(http.StatusFound))
			Expect(resp.Header.Get("Location")).To(ContainSubstring("/api/auth/verify-request"))

			sent := tp.mailer.messages()
			Expect(sent).To(HaveLen(1))
			Expect(sent[0].To).To(Equal("linus@example.com"))

			link := regexp.MustCompile(`https?://\S+/api/auth/callback/email\?\S+`).FindString(sent[0].Text)
			Expect(link).NotTo(BeEmpty())
			u, err := url.Parse(link)
			Expect(err).NotTo(HaveOccurred())

			callback := client.get(u.RequestURI())
			Expect(callback.StatusCode).To(Equal(http.StatusFound))
			Expect(callback.Header.Get("Location")).To(Equal(ts.URL + "/welcome"))

			// The link is single use.
			again := newTestClient(ts.URL).get(u.RequestURI())
			Expect(again.StatusCode).To(Equal(http.StatusFound))
			Expect(again.Header.Get("Location")).To(ContainSubstring("error=Verification"))

			var session struct {
				User struct {
					Email string `json:"email"`
				} `json:"user"`
			}
			decode(client.get("/api/me"), &session)
			Expect(strings.ToLower(session.User.Email)).To(Equal("linus@example.com"))
		})
	})

	Describe("sign-out", func() {
		It("ends the session", func() {
			client.signInWith("google", "/")
			Expect(client.get("/api/me").StatusCode).To(Equal(http.StatusOK))

			resp := client.post("/api/auth/signout", url.Values{"csrfToken": {client.csrf()}})
			Expect(resp.StatusCode).To(Equal(http.StatusFound))
			Expect(client.get("/api/me").StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})
})
