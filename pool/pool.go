// Package pool multiplexes chatroom subscriptions over a bounded set of
// gateway WebSocket connections. Each connection serves at most
// MaxChannelsPerSocket rooms; new connections are opened only once the
// existing ones are saturated.
package pool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"sync"

	"github.com/gobwas/ws"
	"golang.org/x/sync/errgroup"

	"github.com/NeboLoop/kick-go-sdk/frame"
	"github.com/NeboLoop/kick-go-sdk/telemetry"
	"github.com/NeboLoop/kick-go-sdk/wire"
)

// DefaultMaxChannelsPerSocket bounds how many rooms share one connection.
const DefaultMaxChannelsPerSocket = 10

// DefaultEndpoint is the public Pusher cluster serving Kick chatrooms.
var DefaultEndpoint = "wss://ws-us2.pusher.com/app/32cbd69e4b950bf97679?" + url.Values{
	"protocol": {"7"},
	"client":   {"js"},
	"version":  {"8.4.0"},
	"flash":    {"false"},
}.Encode()

var (
	ErrPoolClosed = errors.New("pool: closed")
	ErrConnClosed = errors.New("pool: connection closed")
)

// TransportError reports a connection that closed because of a transport
// failure. The rooms it served are no longer subscribed.
type TransportError struct {
	ConnID string
	Rooms  []wire.RoomID
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.ConnID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Dialer opens an upgraded WebSocket connection to endpoint.
type Dialer func(ctx context.Context, endpoint string) (net.Conn, error)

// Sink receives everything the pool produces. Calls for one connection are
// made from that connection's read goroutine, in arrival order.
type Sink interface {
	HandleEvent(ev frame.Event)
	HandleError(err error)
	HandleClose(connID string, rooms []wire.RoomID, err error) // err is nil for a deliberate close
}

// Config holds pool parameters.
type Config struct {
	Endpoint             string // gateway URL; DefaultEndpoint if empty
	MaxChannelsPerSocket int    // DefaultMaxChannelsPerSocket if <= 0
	PlainEmotes          bool   // rewrite [emote:id:name] tokens in chat messages
	Dial                 Dialer // ws.Dial-based if nil
	Logger               *slog.Logger
}

// Pool owns the gateway connections.
type Pool struct {
	cfg   Config
	sink  Sink
	log   *slog.Logger
	dedup *frame.DedupWindow

	mu     sync.Mutex
	conns  []*Conn
	closed bool
}

// New creates an empty pool. No connection is opened until rooms are
// requested.
func New(cfg Config, sink Sink) *Pool {
	telemetry.Init()
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.MaxChannelsPerSocket <= 0 {
		cfg.MaxChannelsPerSocket = DefaultMaxChannelsPerSocket
	}
	if cfg.Dial == nil {
		cfg.Dial = dialGateway
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pool{
		cfg:   cfg,
		sink:  sink,
		log:   cfg.Logger,
		dedup: frame.NewDedupWindow(),
	}
}

// EnsureSubscribed makes sure every room is served by some connection.
// Rooms already in the pool are skipped. Free capacity on open
// connections is used first, in pool order; the remainder is spread over
// new connections of at most MaxChannelsPerSocket rooms each. A subscribe
// counts as accepted once sent; the gateway's acknowledgement only shows up
// in Stats.
func (p *Pool) EnsureSubscribed(ctx context.Context, rooms []wire.RoomID) error {
	rooms = uniqueRooms(rooms)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	pending := rooms[:0:0]
	for _, r := range rooms {
		if p.ownerLocked(r) == nil {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		p.mu.Unlock()
		return nil
	}

	var open []*Conn
	var free []int
	for _, c := range p.conns {
		if c.State() == StateOpen {
			open = append(open, c)
			free = append(free, p.cfg.MaxChannelsPerSocket-len(c.rooms))
		}
	}
	fills, batches := plan(free, pending, p.cfg.MaxChannelsPerSocket)

	for i, assigned := range fills {
		for _, r := range assigned {
			open[i].rooms[r] = SubPending
		}
	}
	fresh := make([]*Conn, 0, len(batches))
	for _, batch := range batches {
		c := newConn(p, batch)
		p.conns = append(p.conns, c)
		fresh = append(fresh, c)
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	var (
		errMu sync.Mutex
		errs  []error
	)
	record := func(err error) {
		errMu.Lock()
		errs = append(errs, err)
		errMu.Unlock()
	}

	for i, assigned := range fills {
		for _, r := range assigned {
			if err := open[i].subscribe(ctx, r); err != nil {
				p.release(open[i], r)
				record(fmt.Errorf("subscribe room %d: %w", r, err))
			}
		}
	}

	var g errgroup.Group
	g.SetLimit(4)
	for _, c := range fresh {
		g.Go(func() error {
			if err := c.open(ctx); err != nil {
				record(err)
			}
			return nil
		})
	}
	g.Wait()

	return errors.Join(errs...)
}

// Unsubscribe leaves rooms. Connections left without rooms are closed.
func (p *Pool) Unsubscribe(ctx context.Context, rooms []wire.RoomID) error {
	var errs []error
	for _, r := range uniqueRooms(rooms) {
		p.mu.Lock()
		c := p.ownerLocked(r)
		p.mu.Unlock()
		if c == nil {
			continue
		}
		if c.State() == StateOpen {
			if err := c.unsubscribe(ctx, r); err != nil {
				errs = append(errs, fmt.Errorf("unsubscribe room %d: %w", r, err))
			}
		}
		if p.release(c, r) == 0 {
			c.shutdown(nil)
		}
	}
	return errors.Join(errs...)
}

// Close shuts down every connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := slices.Clone(p.conns)
	p.mu.Unlock()

	for _, c := range conns {
		c.shutdown(nil)
	}
	return nil
}

// Len returns the number of connections in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Rooms returns every room currently assigned to a connection.
func (p *Pool) Rooms() []wire.RoomID {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []wire.RoomID
	for _, c := range p.conns {
		for r := range c.rooms {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return out
}

// ConnStats is a diagnostic snapshot of one connection.
type ConnStats struct {
	ID       string
	State    State
	SocketID string
	Rooms    map[wire.RoomID]SubState
}

// Stats returns a snapshot of every connection in pool order.
func (p *Pool) Stats() []ConnStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnStats, 0, len(p.conns))
	for _, c := range p.conns {
		rooms := make(map[wire.RoomID]SubState, len(c.rooms))
		for r, s := range c.rooms {
			rooms[r] = s
		}
		out = append(out, ConnStats{
			ID:       c.ID(),
			State:    c.State(),
			SocketID: c.socketID,
			Rooms:    rooms,
		})
	}
	return out
}

func (p *Pool) ownerLocked(room wire.RoomID) *Conn {
	for _, c := range p.conns {
		if _, ok := c.rooms[room]; ok {
			return c
		}
	}
	return nil
}

// release drops a room from a connection and returns how many remain.
func (p *Pool) release(c *Conn, room wire.RoomID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(c.rooms, room)
	p.updateGaugesLocked()
	return len(c.rooms)
}

// confirm marks a room acknowledged by the gateway.
func (p *Pool) confirm(c *Conn, room wire.RoomID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := c.rooms[room]; !ok {
		return false
	}
	c.rooms[room] = SubConfirmed
	return true
}

// remove takes a connection out of the pool and returns the rooms it held.
func (p *Pool) remove(c *Conn) []wire.RoomID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns = slices.DeleteFunc(p.conns, func(x *Conn) bool { return x == c })
	rooms := make([]wire.RoomID, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	clear(c.rooms)
	slices.Sort(rooms)
	p.updateGaugesLocked()
	return rooms
}

func (p *Pool) updateGaugesLocked() {
	open, rooms := 0, 0
	for _, c := range p.conns {
		if c.State() == StateOpen {
			open++
		}
		rooms += len(c.rooms)
	}
	telemetry.OpenSockets.Set(float64(open))
	telemetry.SubscribedRooms.Set(float64(rooms))
}

// dialGateway opens a client WebSocket the way a browser on kick.com would.
func dialGateway(ctx context.Context, endpoint string) (net.Conn, error) {
	d := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(http.Header{
			"Origin": []string{"https://kick.com"},
		}),
	}
	conn, br, _, err := d.Dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if br != nil {
		// The server may push its first frame together with the handshake.
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }
