package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/NeboLoop/kick-go-sdk/telemetry"
)

// ErrWaitTimeout is returned by Page.WaitFirst when none of the selectors
// became visible in time.
var ErrWaitTimeout = errors.New("session: wait timed out")

// Page is one scripted browser tab. Implementations must be safe to Close
// more than once.
type Page interface {
	// Navigate loads url and returns the HTTP status of the main document.
	Navigate(ctx context.Context, url string) (int, error)
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	// WaitFirst blocks until one of selectors is visible and returns it.
	WaitFirst(ctx context.Context, timeout time.Duration, selectors ...string) (string, error)
	// CaptureRequest runs trigger and returns the outgoing headers of the
	// first request whose URL contains urlPart.
	CaptureRequest(ctx context.Context, urlPart string, trigger func(context.Context) error) (http.Header, error)
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	Close() error
}

// Browser opens pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
}

// Credentials are the interactive login inputs. OTPSecret is the base32
// TOTP seed; it may be empty for accounts without two-factor auth.
type Credentials struct {
	Username  string
	Password  string
	OTPSecret string
}

// Selectors locate the login form elements.
type Selectors struct {
	OpenLogin string
	Username  string
	Password  string
	Submit    string
	OTPInput  string
	OTPSubmit string
	SignedIn  string
}

// DefaultSelectors match the kick.com login modal.
var DefaultSelectors = Selectors{
	OpenLogin: `[data-testid="login"]`,
	Username:  `input[name="emailOrUsername"]`,
	Password:  `input[name="password"]`,
	Submit:    `[data-testid="login-submit"]`,
	OTPInput:  `input[name="one_time_password"]`,
	OTPSubmit: `[data-testid="verify-code-submit"]`,
	SignedIn:  `[data-testid="user-menu"]`,
}

const (
	DefaultBaseURL          = "https://kick.com"
	DefaultChallengeTimeout = 6 * time.Second
	DefaultStepTimeout      = 20 * time.Second

	followedPath   = "/api/v2/channels/followed"
	followingPage  = "/following"
	xsrfCookieName = "XSRF-TOKEN"
)

// Options tune the interactive flow. Zero values take the defaults above.
type Options struct {
	Browser          Browser
	Selectors        Selectors
	BaseURL          string
	ChallengeTimeout time.Duration // wait for the OTP prompt or a signed-in page
	StepTimeout      time.Duration // per navigation/form step
	Logger           *slog.Logger
	Now              func() time.Time
}

// FromCredentials returns a provider that logs in through opts.Browser.
func FromCredentials(creds Credentials, opts Options) Provider {
	if opts.Selectors == (Selectors{}) {
		opts.Selectors = DefaultSelectors
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.ChallengeTimeout <= 0 {
		opts.ChallengeTimeout = DefaultChallengeTimeout
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &interactive{creds: creds, opts: opts}
}

type interactive struct {
	creds Credentials
	opts  Options
}

func (c Credentials) validate() error {
	var missing []string
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "username")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: empty %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// Login runs the scripted flow. The page is closed on every exit path.
func (l *interactive) Login(ctx context.Context) (a Artifacts, err error) {
	telemetry.Init()
	ctx, span := telemetry.StartSpan(ctx, "session.Login", attribute.String("mode", "credentials"))
	defer func() {
		telemetry.Logins.WithLabelValues("credentials", loginResult(err)).Inc()
		telemetry.End(span, err)
	}()

	if err := l.creds.validate(); err != nil {
		return Artifacts{}, err
	}
	if l.opts.Browser == nil {
		return Artifacts{}, fmt.Errorf("%w: no browser configured", ErrValidation)
	}

	log := l.opts.Logger.With("username", l.creds.Username)
	log.Info("starting interactive login")

	page, err := l.opts.Browser.NewPage(ctx)
	if err != nil {
		return Artifacts{}, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := l.navigate(ctx, page, l.opts.BaseURL); err != nil {
		return Artifacts{}, err
	}
	if err := l.submitForm(ctx, page); err != nil {
		return Artifacts{}, err
	}

	found, err := page.WaitFirst(ctx, l.opts.ChallengeTimeout, l.opts.Selectors.OTPInput, l.opts.Selectors.SignedIn)
	switch {
	case errors.Is(err, ErrWaitTimeout):
		return Artifacts{}, ErrTimedOutWaitingForChallenge
	case err != nil:
		return Artifacts{}, fmt.Errorf("wait for challenge: %w", err)
	}
	if found == l.opts.Selectors.OTPInput {
		if err := l.answerChallenge(ctx, page); err != nil {
			return Artifacts{}, err
		}
		log.Debug("one-time code submitted")
	}

	a, err = l.capture(ctx, page)
	if err != nil {
		return Artifacts{}, err
	}
	log.Info("login complete")
	return a, nil
}

func (l *interactive) step(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.opts.StepTimeout)
}

func (l *interactive) navigate(ctx context.Context, page Page, target string) error {
	sctx, cancel := l.step(ctx)
	defer cancel()
	status, err := page.Navigate(sctx, target)
	if status == http.StatusForbidden {
		return ErrEdgeBlocked
	}
	if err != nil {
		return fmt.Errorf("navigate %s: %w", target, err)
	}
	return nil
}

func (l *interactive) submitForm(ctx context.Context, page Page) error {
	sel := l.opts.Selectors
	sctx, cancel := l.step(ctx)
	defer cancel()
	if err := page.Click(sctx, sel.OpenLogin); err != nil {
		return fmt.Errorf("open login form: %w", err)
	}
	if err := page.Fill(sctx, sel.Username, l.creds.Username); err != nil {
		return fmt.Errorf("fill username: %w", err)
	}
	if err := page.Fill(sctx, sel.Password, l.creds.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := page.Click(sctx, sel.Submit); err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}
	return nil
}

func (l *interactive) answerChallenge(ctx context.Context, page Page) error {
	if l.creds.OTPSecret == "" {
		return ErrTwoFactorRequired
	}
	code, err := totp.GenerateCode(l.creds.OTPSecret, l.opts.Now())
	if err != nil {
		return fmt.Errorf("%w: otp secret: %v", ErrValidation, err)
	}
	sctx, cancel := l.step(ctx)
	defer cancel()
	if err := page.Fill(sctx, l.opts.Selectors.OTPInput, code); err != nil {
		return fmt.Errorf("fill one-time code: %w", err)
	}
	if err := page.Click(sctx, l.opts.Selectors.OTPSubmit); err != nil {
		return fmt.Errorf("submit one-time code: %w", err)
	}
	return nil
}

// capture loads the followed-channels page and reads the bearer token and
// cookie header off the API request it issues. The XSRF token comes from
// the cookie jar.
func (l *interactive) capture(ctx context.Context, page Page) (Artifacts, error) {
	sctx, cancel := l.step(ctx)
	defer cancel()

	var a Artifacts
	headers, capErr := page.CaptureRequest(sctx, followedPath, func(ctx context.Context) error {
		return l.navigate(ctx, page, l.opts.BaseURL+followingPage)
	})
	if errors.Is(capErr, ErrEdgeBlocked) {
		return Artifacts{}, ErrEdgeBlocked
	}
	if capErr == nil {
		a.BearerToken = bearerFromHeader(headers.Get("Authorization"))
		a.CookieHeader = headers.Get("Cookie")
	}

	cookies, jarErr := page.Cookies(sctx)
	if jarErr == nil {
		a.XSRFToken = xsrfFromCookies(cookies)
		if a.CookieHeader == "" {
			a.CookieHeader = cookieHeader(cookies)
		}
	}

	if missing := a.missing(); len(missing) > 0 {
		return Artifacts{}, &TokenCaptureError{Missing: missing, Err: errors.Join(capErr, jarErr)}
	}
	return a, nil
}

func bearerFromHeader(v string) string {
	_, token, ok := strings.Cut(v, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func xsrfFromCookies(cookies []*http.Cookie) string {
	for _, c := range cookies {
		if c.Name != xsrfCookieName {
			continue
		}
		if v, err := url.QueryUnescape(c.Value); err == nil {
			return v
		}
		return c.Value
	}
	return ""
}

func cookieHeader(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func loginResult(err error) string {
	var capErr *TokenCaptureError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrEdgeBlocked):
		return "blocked"
	case errors.Is(err, ErrTwoFactorRequired):
		return "otp_required"
	case errors.Is(err, ErrTimedOutWaitingForChallenge):
		return "timeout"
	case errors.As(err, &capErr):
		return "capture_failed"
	}
	return "error"
}
