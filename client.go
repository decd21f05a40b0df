// Package kick is a chat-bot client for Kick livestream chat. It resolves
// channels to chatrooms, multiplexes their realtime feeds over a bounded
// pool of gateway WebSockets, decodes every frame into a typed event, and
// wraps the REST actions a moderation bot needs.
package kick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/NeboLoop/kick-go-sdk/frame"
	"github.com/NeboLoop/kick-go-sdk/pool"
	"github.com/NeboLoop/kick-go-sdk/session"
	"github.com/NeboLoop/kick-go-sdk/telemetry"
	"github.com/NeboLoop/kick-go-sdk/wire"
)

// Config holds client parameters. Start from DefaultConfig; zero numeric
// and string fields fall back to their defaults.
type Config struct {
	Endpoint             string // gateway WebSocket URL (pool.DefaultEndpoint if empty)
	APIBase              string // REST base URL (DefaultAPIBase if empty)
	MaxChannelsPerSocket int    // rooms per gateway connection (10 if <= 0)
	PlainEmotes          bool   // rewrite [emote:id:name] to name in chat messages
	ReadOnly             bool   // subscribe without a session; actions are refused

	Reconnect         bool // re-subscribe rooms of a dropped connection
	ReconnectAttempts uint // per drop; 0 means 8

	ThroughputWindow time.Duration // RollingEventCounter window (10s if <= 0)
	LogThroughput    bool          // log messages/sec per channel every window

	Session    session.Provider // used by Login
	Logger     *slog.Logger
	HTTPClient *http.Client
	Dial       pool.Dialer // overrides the gateway dialer
}

// DefaultConfig returns the default configuration: emotes rendered as
// plain names, authenticated mode, no reconnect.
func DefaultConfig() Config {
	return Config{
		Endpoint:             pool.DefaultEndpoint,
		APIBase:              DefaultAPIBase,
		MaxChannelsPerSocket: pool.DefaultMaxChannelsPerSocket,
		PlainEmotes:          true,
		ThroughputWindow:     DefaultThroughputWindow,
	}
}

const defaultReconnectAttempts = 8

// Client composes the channel directory, the gateway pool, the event bus
// and the REST actions.
type Client struct {
	*Bus

	cfg     Config
	log     *slog.Logger
	api     *APIClient
	dir     *Directory
	pool    *pool.Pool
	counter *RollingEventCounter

	ctx    context.Context // cancelled by Close
	cancel context.CancelFunc

	mu        sync.RWMutex
	loggedIn  bool
	primary   *ChannelInfo
	readyOnce sync.Once
	closeOnce sync.Once
}

// New creates a client. Nothing is dialed until Connect or Join.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReconnectAttempts == 0 {
		cfg.ReconnectAttempts = defaultReconnectAttempts
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		Bus:     newBus(),
		cfg:     cfg,
		log:     cfg.Logger,
		api:     NewAPIClient(cfg.APIBase, cfg.HTTPClient),
		counter: NewRollingEventCounter(cfg.ThroughputWindow),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.dir = NewDirectory(c.api)
	c.pool = pool.New(pool.Config{
		Endpoint:             cfg.Endpoint,
		MaxChannelsPerSocket: cfg.MaxChannelsPerSocket,
		PlainEmotes:          cfg.PlainEmotes,
		Dial:                 cfg.Dial,
		Logger:               cfg.Logger,
	}, sink{c})

	if cfg.LogThroughput {
		go c.counter.Run(ctx, c.logThroughput)
	}
	return c
}

// API returns the REST client.
func (c *Client) API() *APIClient { return c.api }

// Directory returns the channel directory.
func (c *Client) Directory() *Directory { return c.dir }

// Counter returns the per-room chat throughput counter.
func (c *Client) Counter() *RollingEventCounter { return c.counter }

// Stats returns a snapshot of the gateway connections.
func (c *Client) Stats() []pool.ConnStats { return c.pool.Stats() }

// Login establishes a session with cfg.Session. A failed login leaves the
// client unauthenticated.
func (c *Client) Login(ctx context.Context) (err error) {
	if c.cfg.Session == nil {
		return fmt.Errorf("%w: no session provider configured", ErrValidation)
	}
	ctx, span := telemetry.StartSpan(ctx, "kick.Login")
	defer func() { telemetry.End(span, err) }()

	c.log.Info("starting authentication")
	a, err := c.cfg.Session.Login(ctx)
	if err != nil {
		c.log.Warn("authentication failed", "error", err)
		return err
	}
	c.api.SetSession(a)
	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	c.log.Info("authentication successful")
	return nil
}

// Authenticated reports whether Login succeeded.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loggedIn
}

// Connect attaches the client to its primary channel: actions without an
// explicit channel target it and User describes it. Ready handlers run once
// the channel's room is subscribed.
func (c *Client) Connect(ctx context.Context, slug string) (err error) {
	if !c.cfg.ReadOnly && !c.Authenticated() {
		return ErrNotAuthenticated
	}
	ctx, span := telemetry.StartSpan(ctx, "kick.Connect", attribute.String("kick.channel", slug))
	defer func() { telemetry.End(span, err) }()

	c.log.Info("fetching channel data", "channel", slug)
	info, err := c.dir.Channel(ctx, slug)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.primary = info
	c.mu.Unlock()

	if err := c.pool.EnsureSubscribed(ctx, []wire.RoomID{info.Chatroom.ID}); err != nil {
		return err
	}
	c.log.Info("connected to channel", "channel", info.Slug, "room", info.Chatroom.ID)
	c.readyOnce.Do(func() {
		u, _ := c.User()
		c.emitReady(u)
	})
	return nil
}

// Join subscribes to more channels. Every slug is resolved first; if any
// fails to resolve nothing is subscribed.
func (c *Client) Join(ctx context.Context, slugs ...string) error {
	if !c.cfg.ReadOnly && !c.Authenticated() {
		return ErrNotAuthenticated
	}
	rooms, err := c.dir.ResolveAll(ctx, slugs)
	if err != nil {
		return err
	}
	if err := c.pool.EnsureSubscribed(ctx, rooms); err != nil {
		return err
	}
	c.log.Info("joined channels", "channels", slugs)
	return nil
}

// Leave unsubscribes from channels resolved earlier.
func (c *Client) Leave(ctx context.Context, slugs ...string) error {
	rooms := make([]wire.RoomID, 0, len(slugs))
	for _, s := range slugs {
		if r, ok := c.dir.LookupRoomID(s); ok {
			rooms = append(rooms, r)
		}
	}
	return c.pool.Unsubscribe(ctx, rooms)
}

// Channels returns the slugs of every subscribed room.
func (c *Client) Channels() []string {
	var out []string
	for _, r := range c.pool.Rooms() {
		if s, ok := c.dir.LookupSlug(r); ok {
			out = append(out, s)
		}
	}
	return out
}

// User describes the primary channel. ok is false before Connect.
func (c *Client) User() (u User, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.primary == nil {
		return User{}, false
	}
	return User{ID: c.primary.ID, Username: c.primary.Slug, Tag: c.primary.User.Username}, true
}

// Close stops every connection and background task.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.pool.Close()
	})
	return err
}

// --------------------------------------------------------------------------
// Actions
// --------------------------------------------------------------------------

// channel returns the metadata for slug, or the primary channel if slug is
// empty.
func (c *Client) channel(ctx context.Context, slug string) (*ChannelInfo, error) {
	if slug != "" {
		return c.dir.Channel(ctx, slug)
	}
	c.mu.RLock()
	primary := c.primary
	c.mu.RUnlock()
	if primary == nil {
		return nil, fmt.Errorf("%w: channel info not available, call Connect first", ErrValidation)
	}
	return primary, nil
}

func (c *Client) action(ctx context.Context, slug string) (*ChannelInfo, error) {
	if c.cfg.ReadOnly || !c.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	return c.channel(ctx, slug)
}

// SendMessage posts to the primary channel.
func (c *Client) SendMessage(ctx context.Context, content string) error {
	return c.SendMessageTo(ctx, "", content)
}

// SendMessageTo posts to slug (the primary channel if empty).
func (c *Client) SendMessageTo(ctx context.Context, slug, content string) error {
	ch, err := c.action(ctx, slug)
	if err != nil {
		return err
	}
	return c.api.SendMessage(ctx, ch, content)
}

// Reply answers msg in the room it was posted in.
func (c *Client) Reply(ctx context.Context, msg *wire.ChatMessage, content string) error {
	slug, ok := c.dir.LookupSlug(msg.ChatroomID)
	if !ok {
		return fmt.Errorf("%w: room %s was not resolved by this client", ErrValidation, msg.ChatroomID)
	}
	ch, err := c.action(ctx, slug)
	if err != nil {
		return err
	}
	return c.api.SendReply(ctx, ch, content, ReplyTo{
		MessageID:      msg.ID,
		Content:        msg.Content,
		SenderID:       msg.Sender.ID,
		SenderUsername: msg.Sender.Username,
	})
}

// BanUser bans username permanently, or times them out for minutes.
func (c *Client) BanUser(ctx context.Context, username string, minutes int, permanent bool) error {
	ch, err := c.action(ctx, "")
	if err != nil {
		return err
	}
	if err := c.api.BanUser(ctx, ch, username, minutes, permanent); err != nil {
		return err
	}
	c.log.Info("user banned", "channel", ch.Slug, "user", username, "permanent", permanent, "minutes", minutes)
	return nil
}

// UnbanUser lifts a ban in the primary channel.
func (c *Client) UnbanUser(ctx context.Context, username string) error {
	ch, err := c.action(ctx, "")
	if err != nil {
		return err
	}
	return c.api.UnbanUser(ctx, ch, username)
}

// DeleteMessage removes a message from the primary channel.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	ch, err := c.action(ctx, "")
	if err != nil {
		return err
	}
	return c.api.DeleteMessage(ctx, ch, messageID)
}

// SlowMode toggles slow mode in the primary channel.
func (c *Client) SlowMode(ctx context.Context, on bool, seconds int) error {
	ch, err := c.action(ctx, "")
	if err != nil {
		return err
	}
	return c.api.SlowMode(ctx, ch, on, seconds)
}

// GetPoll returns the poll of slug (the primary channel if empty).
func (c *Client) GetPoll(ctx context.Context, slug string) (*PollResponse, error) {
	ch, err := c.channel(ctx, slug)
	if err != nil {
		return nil, err
	}
	return c.api.GetPoll(ctx, ch.Slug)
}

// GetLeaderboards returns the leaderboards of slug (the primary channel if
// empty).
func (c *Client) GetLeaderboards(ctx context.Context, slug string) (*Leaderboard, error) {
	ch, err := c.channel(ctx, slug)
	if err != nil {
		return nil, err
	}
	return c.api.GetLeaderboards(ctx, ch.Slug)
}

// VOD fetches a recorded broadcast.
func (c *Client) VOD(ctx context.Context, videoID string) (*VOD, error) {
	info, err := c.api.GetVideo(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("fetch video data: %w", err)
	}
	return info.vod(), nil
}

// --------------------------------------------------------------------------
// Internal
// --------------------------------------------------------------------------

// sink adapts the client to pool.Sink without exporting the callbacks.
type sink struct{ c *Client }

func (s sink) HandleEvent(ev frame.Event) {
	if ev.Type == frame.TypeChatMessage {
		if room, ok := ev.Room(); ok {
			s.c.counter.Observe(room)
		}
	}
	s.c.emit(ev)
}

func (s sink) HandleError(err error) {
	s.c.emitError(err)
}

func (s sink) HandleClose(connID string, rooms []wire.RoomID, err error) {
	c := s.c
	d := Disconnect{ConnID: connID, Rooms: rooms, Slugs: c.slugsOf(rooms), Err: err}
	c.log.Info("disconnected", "conn", connID, "channels", d.Slugs)
	c.emitDisconnect(d)

	if c.cfg.Reconnect && len(rooms) > 0 && c.ctx.Err() == nil {
		go c.resubscribe(rooms)
	}
}

func (c *Client) slugsOf(rooms []wire.RoomID) []string {
	out := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if s, ok := c.dir.LookupSlug(r); ok {
			out = append(out, s)
		}
	}
	return out
}

// resubscribe re-offers dropped rooms to the pool with exponential backoff.
func (c *Client) resubscribe(rooms []wire.RoomID) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second

	_, err := backoff.Retry(c.ctx, func() (struct{}, error) {
		err := c.pool.EnsureSubscribed(c.ctx, rooms)
		if errors.Is(err, pool.ErrPoolClosed) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.cfg.ReconnectAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn("re-subscribe failed, retrying", "rooms", len(rooms), "in", next, "error", err)
		}),
	)
	if err != nil {
		if c.ctx.Err() == nil {
			c.emitError(fmt.Errorf("re-subscribe %d rooms: %w", len(rooms), err))
		}
		return
	}
	c.log.Info("re-subscribed", "channels", c.slugsOf(rooms))
}

func (c *Client) logThroughput(counts map[wire.RoomID]int) {
	for room, n := range counts {
		slug, ok := c.dir.LookupSlug(room)
		if !ok {
			slug = room.String()
		}
		c.log.Info("chat throughput",
			"channel", slug,
			"messages", n,
			"per_sec", fmt.Sprintf("%.2f", c.counter.Rate(n)),
			"window", c.counter.Window(),
		)
	}
}
