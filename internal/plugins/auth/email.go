package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rjsadow/passage/internal/mailer"
	"github.com/rjsadow/passage/internal/plugins"
	"github.com/rjsadow/passage/internal/ratelimit"
)

const (
	// DefaultEmailMaxAge is how long a magic link stays valid.
	DefaultEmailMaxAge = 24 * time.Hour

	defaultEmailRateInterval = time.Minute
	defaultEmailRateBurst    = 3
)

var validate = validator.New()

// EmailProvider signs users in with a one-time link sent by email.
// Token creation and redemption live in the auth core; this plugin owns
// address normalization and delivery.
type EmailProvider struct {
	mailer  mailer.Mailer
	from    string
	maxAge  time.Duration
	limiter *ratelimit.Limiter
}

func init() {
	plugins.RegisterGlobal("email", func() plugins.Plugin {
		return NewEmailProvider()
	})
}

// NewEmailProvider creates an email provider whose mailer is built from the
// "server" config key during Initialize.
func NewEmailProvider() *EmailProvider {
	return &EmailProvider{maxAge: DefaultEmailMaxAge}
}

// NewEmailProviderWithMailer creates an email provider that delivers
// through m instead of building one from config.
func NewEmailProviderWithMailer(m mailer.Mailer) *EmailProvider {
	return &EmailProvider{mailer: m, maxAge: DefaultEmailMaxAge}
}

func (p *EmailProvider) ID() string               { return "email" }
func (p *EmailProvider) Name() string             { return "Email" }
func (p *EmailProvider) Type() plugins.PluginType { return plugins.PluginTypeEmail }
func (p *EmailProvider) Version() string          { return "1.0.0" }
func (p *EmailProvider) Description() string {
	return "Passwordless sign-in with an emailed magic link"
}

// Initialize sets up delivery.
// Required config keys: server (unless a mailer was supplied), "log" for development
// Optional: from, max_age, rate_interval, rate_burst
func (p *EmailProvider) Initialize(ctx context.Context, config map[string]string) error {
	if p.mailer == nil {
		server := config[ConfigEmailServer]
		if server == "" {
			return fmt.Errorf("email: %w: server is required", plugins.ErrInvalidConfig)
		}
		m, err := mailer.New(server)
		if err != nil {
			return fmt.Errorf("email: %w", err)
		}
		p.mailer = m
	}

	p.from = config[ConfigEmailFrom]

	if v := config[ConfigEmailMaxAge]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("email: %w: invalid max_age %q", plugins.ErrInvalidConfig, v)
		}
		p.maxAge = d
	}

	interval := defaultEmailRateInterval
	if v := config[ConfigEmailRateEvery]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("email: %w: invalid rate_interval %q", plugins.ErrInvalidConfig, v)
		}
		interval = d
	}
	burst := defaultEmailRateBurst
	if v := config[ConfigEmailRateBurst]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("email: %w: invalid rate_burst %q", plugins.ErrInvalidConfig, v)
		}
		burst = n
	}
	p.limiter = ratelimit.Every(interval, burst)

	return nil
}

func (p *EmailProvider) Healthy(ctx context.Context) bool {
	return p.mailer != nil
}

func (p *EmailProvider) Close() error {
	if p.limiter != nil {
		p.limiter.Stop()
	}
	return nil
}

// MaxAge is how long an emailed link stays valid.
func (p *EmailProvider) MaxAge() time.Duration {
	return p.maxAge
}

// NormalizeIdentifier lowercases and trims the address and drops anything
// after a comma in the domain, so "User@Example.com,evil.com" becomes
// "user@example.com".
func (p *EmailProvider) NormalizeIdentifier(email string) (string, error) {
	return NormalizeEmail(email)
}

// NormalizeEmail is the normalization used by EmailProvider.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" {
		return "", fmt.Errorf("%w: %q", plugins.ErrInvalidEmail, email)
	}
	domain, _, _ = strings.Cut(domain, ",")
	normalized := local + "@" + domain

	if err := validate.Var(normalized, "required,email"); err != nil {
		return "", fmt.Errorf("%w: %q", plugins.ErrInvalidEmail, normalized)
	}
	return normalized, nil
}

// Throttle consumes one send from the address's allowance. Requests beyond
// the configured rate fail with plugins.ErrRateLimited.
func (p *EmailProvider) Throttle(identifier string) error {
	if p.limiter != nil && !p.limiter.Allow(identifier) {
		return fmt.Errorf("email: %w", plugins.ErrRateLimited)
	}
	return nil
}

// SendVerificationRequest emails the sign-in link.
func (p *EmailProvider) SendVerificationRequest(ctx context.Context, req plugins.VerificationRequest) error {
	if p.mailer == nil {
		return fmt.Errorf("email: %w", plugins.ErrPluginNotReady)
	}

	from := p.from
	if from == "" {
		from = mailer.DefaultFrom(req.Host)
	}

	msg, err := mailer.SignInMessage(from, req.Identifier, req.Host, req.URL)
	if err != nil {
		return fmt.Errorf("email: %w", err)
	}
	if err := p.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("email: failed to send verification request: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ plugins.EmailProvider = (*EmailProvider)(nil)
