// Package session produces the three artifacts that authorize both the
// realtime subscription and the REST actions: a bearer token, an
// anti-forgery (XSRF) token and a cookie header.
//
// Two providers exist. FromTokens accepts artifacts captured elsewhere and
// never touches the network. FromCredentials drives a scripted browser
// through the site's login form, answers a one-time-code challenge when
// one is shown, and reads the artifacts off an authenticated request.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/NeboLoop/kick-go-sdk/telemetry"
)

var (
	// ErrValidation means the caller supplied incomplete credentials. It is
	// returned before any network activity.
	ErrValidation = errors.New("session: invalid credentials")

	// ErrTimedOutWaitingForChallenge means neither a one-time-code prompt
	// nor a signed-in page appeared after the login form was submitted.
	ErrTimedOutWaitingForChallenge = errors.New("session: timed out waiting for login challenge")

	// ErrTwoFactorRequired means the account asked for a one-time code but
	// no OTP secret was configured.
	ErrTwoFactorRequired = errors.New("session: two-factor code required but no otp secret provided")

	// ErrEdgeBlocked means the platform's anti-bot layer answered 403.
	// Callers should back off rather than retry immediately.
	ErrEdgeBlocked = errors.New("session: blocked by edge protection")
)

// Artifact names one of the captured session values.
type Artifact string

const (
	ArtifactBearerToken Artifact = "bearerToken"
	ArtifactXSRFToken   Artifact = "xsrfToken"
	ArtifactCookies     Artifact = "cookies"
)

// TokenCaptureError reports artifacts that could not be recovered after an
// otherwise successful login.
type TokenCaptureError struct {
	Missing []Artifact
	Err     error // underlying capture failure, if any
}

func (e *TokenCaptureError) Error() string {
	names := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		names[i] = string(m)
	}
	msg := "session: token capture failed, missing " + strings.Join(names, ", ")
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TokenCaptureError) Unwrap() error { return e.Err }

// Artifacts are the session values attached to authenticated requests.
// They are immutable for the lifetime of a session.
type Artifacts struct {
	BearerToken  string
	XSRFToken    string
	CookieHeader string
}

// Validate checks that every artifact is present.
func (a Artifacts) Validate() error {
	if missing := a.missing(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, m := range missing {
			names[i] = string(m)
		}
		return fmt.Errorf("%w: empty %s", ErrValidation, strings.Join(names, ", "))
	}
	return nil
}

func (a Artifacts) missing() []Artifact {
	var out []Artifact
	if strings.TrimSpace(a.BearerToken) == "" {
		out = append(out, ArtifactBearerToken)
	}
	if strings.TrimSpace(a.XSRFToken) == "" {
		out = append(out, ArtifactXSRFToken)
	}
	if strings.TrimSpace(a.CookieHeader) == "" {
		out = append(out, ArtifactCookies)
	}
	return out
}

// Provider establishes a session.
type Provider interface {
	Login(ctx context.Context) (Artifacts, error)
}

// FromTokens returns a provider for pre-captured artifacts.
func FromTokens(bearerToken, xsrfToken, cookieHeader string) Provider {
	return tokens{Artifacts{
		BearerToken:  bearerToken,
		XSRFToken:    xsrfToken,
		CookieHeader: cookieHeader,
	}}
}

type tokens struct{ a Artifacts }

// Login validates the artifacts and returns them verbatim.
func (t tokens) Login(ctx context.Context) (Artifacts, error) {
	telemetry.Init()
	if err := t.a.Validate(); err != nil {
		telemetry.Logins.WithLabelValues("tokens", "invalid").Inc()
		return Artifacts{}, err
	}
	telemetry.Logins.WithLabelValues("tokens", "ok").Inc()
	return t.a, nil
}
