package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/NeboLoop/kick-go-sdk/frame"
	"github.com/NeboLoop/kick-go-sdk/telemetry"
	"github.com/NeboLoop/kick-go-sdk/wire"
)

// State is the lifecycle of a connection: Connecting -> Open -> Closed.
// Closed is terminal.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// SubState tracks whether the gateway acknowledged a room subscription.
type SubState uint8

const (
	SubPending SubState = iota
	SubConfirmed
)

func (s SubState) String() string {
	if s == SubConfirmed {
		return "confirmed"
	}
	return "pending"
}

const (
	defaultActivityTimeout = 120 * time.Second
	pongTimeout            = 30 * time.Second
	keepaliveCheck         = 5 * time.Second
)

var errActivityTimeout = errors.New("no traffic within activity timeout")

// Conn is one gateway connection. Its room set is guarded by the owning
// pool's mutex.
type Conn struct {
	id    uuid.UUID
	pool  *Pool
	nc    net.Conn
	state atomic.Int32

	rooms    map[wire.RoomID]SubState
	socketID string

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	lastRead atomic.Int64 // unix nanos
	activity atomic.Int64 // nanos
}

func newConn(p *Pool, rooms []wire.RoomID) *Conn {
	c := &Conn{
		id:     uuid.New(),
		pool:   p,
		rooms:  make(map[wire.RoomID]SubState, len(rooms)),
		sendCh: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	for _, r := range rooms {
		c.rooms[r] = SubPending
	}
	c.state.Store(int32(StateConnecting))
	c.activity.Store(int64(defaultActivityTimeout))
	return c
}

// ID returns the diagnostic connection identifier.
func (c *Conn) ID() string { return c.id.String() }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// open dials the gateway, starts the I/O loops and subscribes the rooms
// reserved for this connection.
func (c *Conn) open(ctx context.Context) error {
	p := c.pool
	nc, err := p.cfg.Dial(ctx, p.cfg.Endpoint)
	if err != nil {
		rooms := p.remove(c)
		c.markClosed()
		return &TransportError{ConnID: c.ID(), Rooms: rooms, Err: fmt.Errorf("dial: %w", err)}
	}
	c.lastRead.Store(time.Now().UnixNano())

	p.mu.Lock()
	if p.closed || c.State() == StateClosed {
		err := ErrConnClosed
		if p.closed {
			err = ErrPoolClosed
		}
		p.mu.Unlock()
		nc.Close()
		p.remove(c)
		c.markClosed()
		return err
	}
	c.nc = nc
	c.state.Store(int32(StateOpen))
	rooms := make([]wire.RoomID, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	telemetry.SocketsOpened.Inc()
	p.log.Info("connected to gateway", "conn", c.ID(), "rooms", len(rooms))

	go c.readLoop()
	go c.writeLoop()
	go c.keepalive()

	var errs []error
	for _, r := range rooms {
		if err := c.subscribe(ctx, r); err != nil {
			p.release(c, r)
			errs = append(errs, fmt.Errorf("subscribe room %d: %w", r, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Conn) subscribe(ctx context.Context, room wire.RoomID) error {
	data, err := wire.SubscribeFrame(room)
	if err != nil {
		return err
	}
	if err := c.send(ctx, data); err != nil {
		return err
	}
	c.pool.log.Debug("subscribe sent", "conn", c.ID(), "room", room)
	return nil
}

func (c *Conn) unsubscribe(ctx context.Context, room wire.RoomID) error {
	data, err := wire.UnsubscribeFrame(room)
	if err != nil {
		return err
	}
	return c.send(ctx, data)
}

func (c *Conn) send(ctx context.Context, data []byte) error {
	select {
	case c.sendCh <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markClosed retires a connection that never reached StateOpen.
func (c *Conn) markClosed() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
}

// shutdown closes the connection once. A nil cause means a deliberate
// close; anything else is reported to the sink as a TransportError.
func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		p := c.pool
		p.mu.Lock()
		c.state.Store(int32(StateClosed))
		nc := c.nc
		p.mu.Unlock()
		close(c.done)
		if nc != nil {
			nc.Close()
		}
		rooms := p.remove(c)
		var terr error
		if cause != nil {
			telemetry.SocketErrors.Inc()
			p.log.Warn("gateway connection lost", "conn", c.ID(), "rooms", len(rooms), "error", cause)
			terr = &TransportError{ConnID: c.ID(), Rooms: rooms, Err: cause}
			p.sink.HandleError(terr)
		} else {
			p.log.Info("gateway connection closed", "conn", c.ID())
		}
		p.sink.HandleClose(c.ID(), rooms, terr)
	})
}

func (c *Conn) readLoop() {
	for {
		data, op, err := wsutil.ReadServerData(c.nc)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.shutdown(fmt.Errorf("read: %w", err))
			}
			return
		}
		c.lastRead.Store(time.Now().UnixNano())
		if op != ws.OpText {
			continue
		}
		c.handle(data)
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case data := <-c.sendCh:
			if err := wsutil.WriteClientText(c.nc, data); err != nil {
				c.shutdown(fmt.Errorf("write: %w", err))
				return
			}
		case <-c.done:
			return
		}
	}
}

// keepalive pings the gateway after a quiet activity timeout and drops the
// connection if the ping goes unanswered.
func (c *Conn) keepalive() {
	t := time.NewTicker(keepaliveCheck)
	defer t.Stop()
	var pinged int64
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
		}
		last := c.lastRead.Load()
		idle := time.Since(time.Unix(0, last))
		activity := time.Duration(c.activity.Load())
		switch {
		case idle > activity+pongTimeout:
			c.shutdown(errActivityTimeout)
			return
		case idle > activity && pinged != last:
			pinged = last
			if data, err := wire.PingFrame(); err == nil {
				select {
				case c.sendCh <- data:
				case <-c.done:
					return
				}
			}
		}
	}
}

// handle routes one text frame. Decode failures are reported and skipped;
// they never close the connection.
func (c *Conn) handle(data []byte) {
	p := c.pool
	env, err := frame.ParseEnvelope(data)
	if err != nil {
		telemetry.DecodeErrors.WithLabelValues("malformed").Inc()
		p.log.Debug("bad frame", "conn", c.ID(), "error", err)
		p.sink.HandleError(fmt.Errorf("connection %s: %w", c.ID(), err))
		return
	}
	if wire.IsControl(env.Event) {
		c.handleControl(env)
		return
	}

	ev, err := frame.DecodeEnvelope(env)
	if err != nil {
		telemetry.DecodeErrors.WithLabelValues("payload").Inc()
		p.log.Warn("undecodable event", "conn", c.ID(), "event", env.Event, "error", err)
		p.sink.HandleError(fmt.Errorf("connection %s: %w", c.ID(), err))
		return
	}
	telemetry.EventsDecoded.WithLabelValues(ev.Type.String()).Inc()

	if ev.Type == frame.TypeUnknown {
		p.log.Debug("unknown event", "conn", c.ID(), "event", ev.Name)
	}
	if ev.Type == frame.TypeChatMessage {
		if p.dedup.Seen(ev) {
			telemetry.DuplicateEvents.Inc()
			return
		}
		if room, ok := ev.Room(); ok {
			telemetry.ChatMessages.WithLabelValues(room.String()).Inc()
		}
		if p.cfg.PlainEmotes {
			ev = frame.NormalizeChat(ev)
		}
	}
	p.sink.HandleEvent(ev)
}

func (c *Conn) handleControl(env wire.Envelope) {
	p := c.pool
	switch env.Event {
	case wire.EventConnectionEstablished:
		var est wire.ConnectionEstablished
		if payload, err := env.Payload(); err == nil {
			json.Unmarshal(payload, &est)
		}
		p.mu.Lock()
		c.socketID = est.SocketID
		p.mu.Unlock()
		if est.ActivityTimeout > 0 {
			c.activity.Store(int64(time.Duration(est.ActivityTimeout) * time.Second))
		}
		p.log.Debug("connection established", "conn", c.ID(), "socket_id", est.SocketID)

	case wire.EventSubscriptionSucceeded:
		if room, ok := wire.ParseChannelName(env.Channel); ok && p.confirm(c, room) {
			p.log.Debug("subscription confirmed", "conn", c.ID(), "room", room)
		}

	case wire.EventPing:
		if data, err := wire.PongFrame(); err == nil {
			c.send(context.Background(), data)
		}

	case wire.EventPong:
		// lastRead already refreshed

	case wire.EventError:
		var perr wire.ProtocolError
		if payload, err := env.Payload(); err == nil {
			json.Unmarshal(payload, &perr)
		}
		p.log.Warn("gateway error", "conn", c.ID(), "code", perr.Code, "message", perr.Message)
		p.sink.HandleError(fmt.Errorf("connection %s: %w", c.ID(), perr))

	default:
		p.log.Debug("ignored control event", "conn", c.ID(), "event", env.Event)
	}
}
