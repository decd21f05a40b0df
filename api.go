package kick

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/gzhttp"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/NeboLoop/kick-go-sdk/session"
	"github.com/NeboLoop/kick-go-sdk/telemetry"
	"github.com/NeboLoop/kick-go-sdk/wire"
)

// DefaultAPIBase is the site serving both the REST API and channel pages.
const DefaultAPIBase = "https://kick.com"

// MaxMessageLength is the longest chat message the platform accepts.
const MaxMessageLength = 500

var (
	ErrNotAuthenticated = errors.New("kick: authentication required, login first")
	ErrValidation       = errors.New("kick: invalid argument")
	ErrChannelNotFound  = errors.New("kick: channel not found")

	// ErrEdgeBlocked means the platform's anti-bot layer refused the
	// request. It is the same value the session package returns.
	ErrEdgeBlocked = session.ErrEdgeBlocked
)

// HTTPError is a non-2xx API response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("kick: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == code
}

// APIClient talks to the platform's REST endpoints. Channel lookups and
// VOD info work anonymously; moderation and chat actions need a session.
type APIClient struct {
	base string
	http *http.Client

	mu       sync.RWMutex
	session  *session.Artifacts
	authHTTP *http.Client
}

// NewAPIClient creates a client for base (DefaultAPIBase if empty). hc may
// be nil; its transport is wrapped to accept compressed responses.
func NewAPIClient(base string, hc *http.Client) *APIClient {
	telemetry.Init()
	if base == "" {
		base = DefaultAPIBase
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	parent := hc.Transport
	if parent == nil {
		parent = http.DefaultTransport
	}
	plain := *hc
	plain.Transport = gzhttp.Transport(parent)
	return &APIClient{
		base: strings.TrimRight(base, "/"),
		http: &plain,
	}
}

// Base returns the API base URL.
func (c *APIClient) Base() string { return c.base }

// SetSession attaches session artifacts to every later authenticated call.
func (c *APIClient) SetSession(a session.Artifacts) {
	authed := *c.http
	authed.Transport = &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: a.BearerToken, TokenType: "Bearer"}),
		Base:   c.http.Transport,
	}
	c.mu.Lock()
	c.session = &a
	c.authHTTP = &authed
	c.mu.Unlock()
}

// Authenticated reports whether a session is attached.
func (c *APIClient) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil
}

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

type call struct {
	action string // metric / span label
	method string
	path   string
	slug   string // sets the Referer channel page
	auth   bool
	body   any
	dest   any
}

// do sends a request and decodes a JSON response into call.dest.
func (c *APIClient) do(ctx context.Context, r call) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "kick.api."+r.action,
		attribute.String("http.method", r.method),
		attribute.String("kick.channel", r.slug),
	)
	defer func() { telemetry.End(span, err) }()

	hc := c.http
	var art session.Artifacts
	if r.auth {
		c.mu.RLock()
		authed := c.session != nil
		if authed {
			art = *c.session
			hc = c.authHTTP
		}
		c.mu.RUnlock()
		if !authed {
			return ErrNotAuthenticated
		}
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.base+r.path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cluster", "v2")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.slug != "" {
		req.Header.Set("Referer", c.base+"/"+url.PathEscape(r.slug))
	}
	if r.auth {
		req.Header.Set("X-XSRF-TOKEN", art.XSRFToken)
		req.Header.Set("Cookie", art.CookieHeader)
	}

	resp, err := hc.Do(req)
	if err != nil {
		telemetry.APIRequests.WithLabelValues(r.action, "error").Inc()
		return fmt.Errorf("%s: request failed: %w", r.action, err)
	}
	defer resp.Body.Close()
	telemetry.APIRequests.WithLabelValues(r.action, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if edgeBlocked(resp) {
			slog.Warn("request blocked by edge protection", "action", r.action, "status", resp.StatusCode)
			return fmt.Errorf("%s: %w", r.action, ErrEdgeBlocked)
		}
		return fmt.Errorf("%s: %w", r.action, &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(b)})
	}

	if r.dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(r.dest); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: decode response: %w", r.action, err)
		}
	}
	return nil
}

// edgeBlocked tells an anti-bot challenge apart from an API-level 403: the
// edge answers with an HTML page or marks the response as mitigated.
func edgeBlocked(resp *http.Response) bool {
	if resp.StatusCode != http.StatusForbidden {
		return false
	}
	if resp.Header.Get("Cf-Mitigated") != "" {
		return true
	}
	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return mt == "text/html"
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string    `json:"message"`
		Status  APIStatus `json:"status"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Status.Message != "" {
			return payload.Status.Message
		}
	}
	return strings.TrimSpace(string(body))
}

// --------------------------------------------------------------------------
// Channels
// --------------------------------------------------------------------------

// GetChannel fetches channel metadata, including the chatroom id.
func (c *APIClient) GetChannel(ctx context.Context, slug string) (*ChannelInfo, error) {
	var info ChannelInfo
	err := c.do(ctx, call{
		action: "get_channel",
		method: http.MethodGet,
		path:   "/api/v2/channels/" + url.PathEscape(slug),
		slug:   slug,
		dest:   &info,
	})
	if IsStatus(err, http.StatusNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, slug)
	}
	if err != nil {
		return nil, err
	}
	if info.Chatroom.ID == 0 {
		return nil, fmt.Errorf("%w: %s has no chatroom", ErrChannelNotFound, slug)
	}
	return &info, nil
}

// GetPoll returns the active poll of a channel. The poll is nil when none
// is running.
func (c *APIClient) GetPoll(ctx context.Context, slug string) (*PollResponse, error) {
	var resp PollResponse
	if err := c.do(ctx, call{
		action: "get_poll",
		method: http.MethodGet,
		path:   "/api/v2/channels/" + url.PathEscape(slug) + "/polls",
		slug:   slug,
		auth:   c.Authenticated(),
		dest:   &resp,
	}); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetLeaderboards returns the gift leaderboards of a channel.
func (c *APIClient) GetLeaderboards(ctx context.Context, slug string) (*Leaderboard, error) {
	var resp Leaderboard
	if err := c.do(ctx, call{
		action: "get_leaderboards",
		method: http.MethodGet,
		path:   "/api/v2/channels/" + url.PathEscape(slug) + "/leaderboards",
		slug:   slug,
		auth:   c.Authenticated(),
		dest:   &resp,
	}); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --------------------------------------------------------------------------
// Videos
// --------------------------------------------------------------------------

// GetVideo fetches VOD metadata by video uuid.
func (c *APIClient) GetVideo(ctx context.Context, id string) (*VideoInfo, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty video id", ErrValidation)
	}
	var info VideoInfo
	if err := c.do(ctx, call{
		action: "get_video",
		method: http.MethodGet,
		path:   "/api/v1/video/" + url.PathEscape(id),
		dest:   &info,
	}); err != nil {
		return nil, err
	}
	return &info, nil
}

// --------------------------------------------------------------------------
// Chat
// --------------------------------------------------------------------------

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: empty message", ErrValidation)
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return fmt.Errorf("%w: message longer than %d characters", ErrValidation, MaxMessageLength)
	}
	return nil
}

// SendMessage posts a chat message to a channel's chatroom.
func (c *APIClient) SendMessage(ctx context.Context, ch *ChannelInfo, content string) error {
	if err := validateContent(content); err != nil {
		return err
	}
	return c.do(ctx, call{
		action: "send_message",
		method: http.MethodPost,
		path:   "/api/v2/messages/send/" + ch.Chatroom.ID.String(),
		slug:   ch.Slug,
		auth:   true,
		body:   sendMessageRequest{Content: content, Type: "message"},
	})
}

// SendReply posts a chat message quoting an earlier one.
func (c *APIClient) SendReply(ctx context.Context, ch *ChannelInfo, content string, to ReplyTo) error {
	if err := validateContent(content); err != nil {
		return err
	}
	if to.MessageID == "" {
		return fmt.Errorf("%w: reply without original message id", ErrValidation)
	}
	return c.do(ctx, call{
		action: "send_reply",
		method: http.MethodPost,
		path:   "/api/v2/messages/send/" + ch.Chatroom.ID.String(),
		slug:   ch.Slug,
		auth:   true,
		body: sendMessageRequest{
			Content: content,
			Type:    "reply",
			Metadata: &wire.MessageMetadata{
				OriginalMessage: wire.OriginalMessage{ID: to.MessageID, Content: to.Content},
				OriginalSender: wire.OriginalSender{
					ID:       json.Number(strconv.FormatInt(to.SenderID, 10)),
					Username: to.SenderUsername,
				},
			},
		},
	})
}

// DeleteMessage removes a chat message.
func (c *APIClient) DeleteMessage(ctx context.Context, ch *ChannelInfo, messageID string) error {
	if messageID == "" {
		return fmt.Errorf("%w: empty message id", ErrValidation)
	}
	return c.do(ctx, call{
		action: "delete_message",
		method: http.MethodDelete,
		path:   "/api/v2/channels/" + strconv.FormatInt(ch.ID, 10) + "/messages/" + url.PathEscape(messageID),
		slug:   ch.Slug,
		auth:   true,
	})
}

// --------------------------------------------------------------------------
// Moderation
// --------------------------------------------------------------------------

// BanUser bans username from a channel. A non-permanent ban is a timeout
// of at least one minute.
func (c *APIClient) BanUser(ctx context.Context, ch *ChannelInfo, username string, minutes int, permanent bool) error {
	if username == "" {
		return fmt.Errorf("%w: specify a user to ban", ErrValidation)
	}
	req := banRequest{BannedUsername: username, Permanent: permanent}
	if !permanent {
		if minutes < 1 {
			return fmt.Errorf("%w: timeout must be at least 1 minute", ErrValidation)
		}
		req.Duration = minutes
	}
	return c.do(ctx, call{
		action: "ban_user",
		method: http.MethodPost,
		path:   "/api/v2/channels/" + strconv.FormatInt(ch.ID, 10) + "/bans",
		slug:   ch.Slug,
		auth:   true,
		body:   req,
	})
}

// UnbanUser lifts a ban or timeout.
func (c *APIClient) UnbanUser(ctx context.Context, ch *ChannelInfo, username string) error {
	if username == "" {
		return fmt.Errorf("%w: specify a user to unban", ErrValidation)
	}
	return c.do(ctx, call{
		action: "unban_user",
		method: http.MethodDelete,
		path:   "/api/v2/channels/" + strconv.FormatInt(ch.ID, 10) + "/bans/" + url.PathEscape(username),
		slug:   ch.Slug,
		auth:   true,
	})
}

// SlowMode toggles slow mode. When enabling, seconds is the minimum
// interval between messages and must be positive.
func (c *APIClient) SlowMode(ctx context.Context, ch *ChannelInfo, on bool, seconds int) error {
	req := slowModeRequest{SlowMode: on}
	if on {
		if seconds < 1 {
			return fmt.Errorf("%w: slow mode interval must be at least 1 second", ErrValidation)
		}
		req.MessageInterval = seconds
	}
	return c.do(ctx, call{
		action: "slow_mode",
		method: http.MethodPut,
		path:   "/api/v2/channels/" + url.PathEscape(ch.Slug) + "/chatroom",
		slug:   ch.Slug,
		auth:   true,
		body:   req,
	})
}
