package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/NeboLoop/kick-go-sdk/frame"
	"github.com/NeboLoop/kick-go-sdk/wire"
)

// --- planner ---

func roomRange(from, n int) []wire.RoomID {
	out := make([]wire.RoomID, n)
	for i := range out {
		out[i] = wire.RoomID(from + i)
	}
	return out
}

func TestPlanEmptyPool(t *testing.T) {
	fills, batches := plan(nil, roomRange(1, 23), 10)
	if len(fills) != 0 {
		t.Fatalf("fills = %v, want none", fills)
	}
	var sizes []int
	for _, b := range batches {
		sizes = append(sizes, len(b))
	}
	if !slices.Equal(sizes, []int{10, 10, 3}) {
		t.Fatalf("batch sizes = %v, want [10 10 3]", sizes)
	}
}

func TestPlanFillsExistingFirst(t *testing.T) {
	fills, batches := plan([]int{3}, roomRange(100, 5), 10)
	if len(fills[0]) != 3 {
		t.Fatalf("existing connection got %d rooms, want 3", len(fills[0]))
	}
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("batches = %v, want one batch of 2", batches)
	}
	if batches[0][0] != 103 || batches[0][1] != 104 {
		t.Errorf("batch = %v, want [103 104]", batches[0])
	}
}

func TestPlanSkipsFullConnections(t *testing.T) {
	fills, batches := plan([]int{0, 2, 5}, roomRange(1, 4), 10)
	if len(fills[0]) != 0 || len(fills[1]) != 2 || len(fills[2]) != 2 {
		t.Fatalf("fills = %v", fills)
	}
	if len(batches) != 0 {
		t.Fatalf("batches = %v, want none", batches)
	}
}

func TestUniqueRooms(t *testing.T) {
	got := uniqueRooms([]wire.RoomID{3, 1, 3, 2, 1})
	if !slices.Equal(got, []wire.RoomID{3, 1, 2}) {
		t.Errorf("uniqueRooms = %v", got)
	}
}

// --- fake gateway ---

// fakeGateway hands the pool one end of a net.Pipe per dial and speaks the
// server side of the protocol on the other.
type fakeGateway struct {
	mu      sync.Mutex
	conns   []*serverConn
	dialErr error
}

type serverConn struct {
	nc  net.Conn
	wmu sync.Mutex

	mu     sync.Mutex
	subs   []wire.RoomID
	unsubs []wire.RoomID
	pongs  int
}

func (g *fakeGateway) dial(ctx context.Context, endpoint string) (net.Conn, error) {
	if g.dialErr != nil {
		return nil, g.dialErr
	}
	client, server := net.Pipe()
	sc := &serverConn{nc: server}
	g.mu.Lock()
	g.conns = append(g.conns, sc)
	g.mu.Unlock()
	go sc.serve()
	return client, nil
}

func (g *fakeGateway) conn(i int) *serverConn {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i >= len(g.conns) {
		return nil
	}
	return g.conns[i]
}

func (g *fakeGateway) dials() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

func (sc *serverConn) serve() {
	if err := sc.push(wire.EventConnectionEstablished, "", `{"socket_id":"123.456","activity_timeout":120}`); err != nil {
		return
	}
	for {
		data, op, err := wsutil.ReadClientData(sc.nc)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		var env struct {
			Event string             `json:"event"`
			Data  wire.SubscribeData `json:"data"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		room, _ := wire.ParseChannelName(env.Data.Channel)
		switch env.Event {
		case wire.EventSubscribe:
			sc.mu.Lock()
			sc.subs = append(sc.subs, room)
			sc.mu.Unlock()
			sc.push(wire.EventSubscriptionSucceeded, env.Data.Channel, "{}")
		case wire.EventUnsubscribe:
			sc.mu.Lock()
			sc.unsubs = append(sc.unsubs, room)
			sc.mu.Unlock()
		case wire.EventPong:
			sc.mu.Lock()
			sc.pongs++
			sc.mu.Unlock()
		}
	}
}

// push writes an envelope whose data is a JSON-encoded string.
func (sc *serverConn) push(event, channel, data string) error {
	raw, err := json.Marshal(map[string]string{"event": event, "data": data, "channel": channel})
	if err != nil {
		return err
	}
	return sc.pushRaw(raw)
}

func (sc *serverConn) pushRaw(raw []byte) error {
	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	return wsutil.WriteServerText(sc.nc, raw)
}

func (sc *serverConn) subscribed() []wire.RoomID {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return slices.Clone(sc.subs)
}

func (sc *serverConn) unsubscribed() []wire.RoomID {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return slices.Clone(sc.unsubs)
}

// --- recording sink ---

type closeRecord struct {
	connID string
	rooms  []wire.RoomID
	err    error
}

type recordingSink struct {
	mu     sync.Mutex
	events []frame.Event
	errs   []error
	closes []closeRecord
}

func (s *recordingSink) HandleEvent(ev frame.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) HandleError(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *recordingSink) HandleClose(connID string, rooms []wire.RoomID, err error) {
	s.mu.Lock()
	s.closes = append(s.closes, closeRecord{connID, rooms, err})
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() ([]frame.Event, []error, []closeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events), slices.Clone(s.errs), slices.Clone(s.closes)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestPool(t *testing.T, g *fakeGateway, sink Sink) *Pool {
	t.Helper()
	p := New(Config{
		MaxChannelsPerSocket: 10,
		PlainEmotes:          true,
		Dial:                 g.dial,
		Logger:               slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, sink)
	t.Cleanup(func() { p.Close() })
	return p
}

func roomCounts(p *Pool) []int {
	var out []int
	for _, s := range p.Stats() {
		out = append(out, len(s.Rooms))
	}
	return out
}

// --- EnsureSubscribed ---

func TestEnsureSubscribedOpensBatches(t *testing.T) {
	g := &fakeGateway{}
	p := newTestPool(t, g, &recordingSink{})

	if err := p.EnsureSubscribed(context.Background(), roomRange(1, 23)); err != nil {
		t.Fatalf("EnsureSubscribed: %v", err)
	}
	if n := p.Len(); n != 3 {
		t.Fatalf("connections = %d, want 3", n)
	}
	if got := roomCounts(p); !slices.Equal(got, []int{10, 10, 3}) {
		t.Fatalf("room counts = %v, want [10 10 3]", got)
	}
	if g.dials() != 3 {
		t.Errorf("dials = %d, want 3", g.dials())
	}

	waitFor(t, "all subscribes", func() bool {
		total := 0
		for i := 0; i < g.dials(); i++ {
			total += len(g.conn(i).subscribed())
		}
		return total == 23
	})
	var perConn []int
	for i := 0; i < 3; i++ {
		perConn = append(perConn, len(g.conn(i).subscribed()))
	}
	slices.Sort(perConn)
	if !slices.Equal(perConn, []int{3, 10, 10}) {
		t.Errorf("subscribes per connection = %v", perConn)
	}
	if got := p.Rooms(); !slices.Equal(got, roomRange(1, 23)) {
		t.Errorf("Rooms = %v", got)
	}
}

func TestEnsureSubscribedFillsExistingConnection(t *testing.T) {
	g := &fakeGateway{}
	p := newTestPool(t, g, &recordingSink{})
	ctx := context.Background()

	if err := p.EnsureSubscribed(ctx, roomRange(1, 7)); err != nil {
		t.Fatalf("first EnsureSubscribed: %v", err)
	}
	if err := p.EnsureSubscribed(ctx, roomRange(100, 5)); err != nil {
		t.Fatalf("second EnsureSubscribed: %v", err)
	}
	if n := p.Len(); n != 2 {
		t.Fatalf("connections = %d, want 2", n)
	}
	if got := roomCounts(p); !slices.Equal(got, []int{10, 2}) {
		t.Fatalf("room counts = %v, want [10 2]", got)
	}
	waitFor(t, "existing connection filled", func() bool {
		return len(g.conn(0).subscribed()) == 10
	})
}

func TestEnsureSubscribedSkipsKnownRooms(t *testing.T) {
	g := &fakeGateway{}
	p := newTestPool(t, g, &recordingSink{})
	ctx := context.Background()

	rooms := []wire.RoomID{5, 6, 5}
	if err := p.EnsureSubscribed(ctx, rooms); err != nil {
		t.Fatal(err)
	}
	if err := p.EnsureSubscribed(ctx, rooms); err != nil {
		t.Fatal(err)
	}
	if g.dials() != 1 {
		t.Fatalf("dials = %d, want 1", g.dials())
	}
	waitFor(t, "subscribes", func() bool { return len(g.conn(0).subscribed()) == 2 })
	time.Sleep(20 * time.Millisecond)
	if n := len(g.conn(0).subscribed()); n != 2 {
		t.Errorf("server saw %d subscribes, want 2", n)
	}
}

func TestSubscriptionConfirmed(t *testing.T) {
	g := &fakeGateway{}
	p := newTestPool(t, g, &recordingSink{})

	if err := p.EnsureSubscribed(context.Background(), []wire.RoomID{668}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "confirmation", func() bool {
		st := p.Stats()
		return len(st) == 1 && st[0].Rooms[668] == SubConfirmed
	})
	st := p.Stats()[0]
	if st.State != StateOpen {
		t.Errorf("state = %s, want open", st.State)
	}
	if st.SocketID != "123.456" {
		t.Errorf("socket id = %q", st.SocketID)
	}
}

func TestDialFailure(t *testing.T) {
	g := &fakeGateway{dialErr: errors.New("connection refused")}
	p := newTestPool(t, g, &recordingSink{})

	err := p.EnsureSubscribed(context.Background(), []wire.RoomID{1, 2})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if !slices.Equal(te.Rooms, []wire.RoomID{1, 2}) {
		t.Errorf("rooms = %v", te.Rooms)
	}
	if p.Len() != 0 {
		t.Errorf("failed connection kept in pool")
	}
}

func TestEnsureSubscribedAfterClose(t *testing.T) {
	g := &fakeGateway{}
	p := newTestPool(t, g, &recordingSink{})
	p.Close()
	if err := p.EnsureSubscribed(context.Background(), []wire.RoomID{1}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("err = %v, want ErrPoolClosed", err)
	}
}

// --- inbound frames ---

func TestEventsDeliveredAndNormalized(t *testing.T) {
	g := &fakeGateway{}
	sink := &recordingSink{}
	p := newTestPool(t, g, sink)

	if err := p.EnsureSubscribed(context.Background(), []wire.RoomID{668}); err != nil {
		t.Fatal(err)
	}
	sc := g.conn(0)
	chat := `{"id":"9a3f2b6e-2f0c-4d6e-9a55-5a0d7a5f1e11","chatroom_id":668,"content":"hello [emote:25:Kappa] world","type":"message","sender":{"id":1,"username":"Alice","slug":"alice"}}`
	if err := sc.push(wire.NameChatMessage, "chatrooms.668.v2", chat); err != nil {
		t.Fatal(err)
	}
	// replayed after a re-subscribe: filtered out
	if err := sc.push(wire.NameChatMessage, "chatrooms.668.v2", chat); err != nil {
		t.Fatal(err)
	}
	if err := sc.push(`App\Events\BrandNewEvent`, "chatrooms.668.v2", `{"x":1}`); err != nil {
		t.Fatal(err)
	}
	if err := sc.push(wire.NameSubscription, "chatrooms.668.v2", `{"chatroom_id":668,"username":"bob","months":2}`); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "events", func() bool {
		evs, _, _ := sink.snapshot()
		return len(evs) == 3
	})
	evs, errs, _ := sink.snapshot()
	if len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	msg, ok := evs[0].ChatMessage()
	if !ok {
		t.Fatalf("first event = %s, want ChatMessage", evs[0].Type)
	}
	if msg.Content != "hello Kappa world" {
		t.Errorf("content = %q", msg.Content)
	}
	if room, _ := evs[0].Room(); room != 668 {
		t.Errorf("room = %d", room)
	}
	if evs[1].Type != frame.TypeUnknown || evs[1].Name != `App\Events\BrandNewEvent` {
		t.Errorf("second event = %s %q, want Unknown", evs[1].Type, evs[1].Name)
	}
	if evs[2].Type != frame.TypeSubscription {
		t.Errorf("third event = %s, want Subscription", evs[2].Type)
	}
}

func TestEmotesKeptWhenPlainEmotesOff(t *testing.T) {
	g := &fakeGateway{}
	sink := &recordingSink{}
	p := New(Config{
		MaxChannelsPerSocket: 10,
		PlainEmotes:          false,
		Dial:                 g.dial,
		Logger:               slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, sink)
	t.Cleanup(func() { p.Close() })

	if err := p.EnsureSubscribed(context.Background(), []wire.RoomID{668}); err != nil {
		t.Fatal(err)
	}
	chat := `{"id":"1c9e3f0a-5b7d-4e2a-8f61-3d2c4b5a6e70","chatroom_id":668,"content":"hello [emote:25:Kappa] world","type":"message","sender":{"id":1,"username":"Alice","slug":"alice"}}`
	if err := g.conn(0).push(wire.NameChatMessage, "chatrooms.668.v2", chat); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "chat message", func() bool {
		evs, _, _ := sink.snapshot()
		return len(evs) == 1
	})
	evs, _, _ := sink.snapshot()
	msg, ok := evs[0].ChatMessage()
	if !ok {
		t.Fatalf("event = %s, want ChatMessage", evs[0].Type)
	}
	if msg.Content != "hello [emote:25:Kappa] world" {
		t.Errorf("content = %q, want emote token untouched", msg.Content)
	}
}

func TestBadFramesDoNotCloseConnection(t *testing.T) {
	g := &fakeGateway{}
	sink := &recordingSink{}
	p := newTestPool(t, g, sink)

	if err := p.EnsureSubscribed(context.Background(), []wire.RoomID{668}); err != nil {
		t.Fatal(err)
	}
	sc := g.conn(0)
	sc.pushRaw([]byte("not json"))
	sc.push(wire.NameUserBanned, "chatrooms.668.v2", `{"user":"not an object"}`)
	sc.push(wire.NameStreamHost, "chatrooms.668.v2", `{"chatroom_id":668,"host_username":"dave"}`)

	waitFor(t, "event after bad frames", func() bool {
		evs, _, _ := sink.snapshot()
		return len(evs) == 1
	})
	_, errs, closes := sink.snapshot()
	if len(errs) != 2 {
		t.Fatalf("errors = %v, want 2", errs)
	}
	if !errors.Is(errs[0], frame.ErrMalformed) {
		t.Errorf("errs[0] = %v, want ErrMalformed", errs[0])
	}
	if !errors.Is(errs[1], frame.ErrPayloadMismatch) {
		t.Errorf("errs[1] = %v, want ErrPayloadMismatch", errs[1])
	}
	if len(closes) != 0 || p.Len() != 1 {
		t.Errorf("connection closed on decode error")
	}
}

func TestServerPingAnswered(t *testing.T) {
	g := &fakeGateway{}
	p := newTestPool(t, g, &recordingSink{})

	if err := p.EnsureSubscribed(context.Background(), []wire.RoomID{1}); err != nil {
		t.Fatal(err)
	}
	sc := g.conn(0)
	sc.push(wire.EventPing, "", "{}")
	waitFor(t, "pong", func() bool {
		sc.mu.Lock()
		defer sc.mu.Unlock()
		return sc.pongs == 1
	})
}

func TestProtocolErrorSurfaced(t *testing.T) {
	g := &fakeGateway{}
	sink := &recordingSink{}
	p := newTestPool(t, g, sink)

	if err := p.EnsureSubscribed(context.Background(), []wire.RoomID{1}); err != nil {
		t.Fatal(err)
	}
	g.conn(0).push(wire.EventError, "", `{"code":4201,"message":"Pong reply not received"}`)
	waitFor(t, "error", func() bool {
		_, errs, _ := sink.snapshot()
		return len(errs) == 1
	})
	_, errs, _ := sink.snapshot()
	var perr wire.ProtocolError
	if !errors.As(errs[0], &perr) || perr.Code != 4201 {
		t.Errorf("err = %v, want ProtocolError 4201", errs[0])
	}
}

// --- close / unsubscribe ---

func TestTransportFailureReported(t *testing.T) {
	g := &fakeGateway{}
	sink := &recordingSink{}
	p := newTestPool(t, g, sink)

	if err := p.EnsureSubscribed(context.Background(), []wire.RoomID{7, 8}); err != nil {
		t.Fatal(err)
	}
	connID := p.Stats()[0].ID
	g.conn(0).nc.Close()

	waitFor(t, "close", func() bool {
		_, _, closes := sink.snapshot()
		return len(closes) == 1
	})
	_, errs, closes := sink.snapshot()
	if closes[0].connID != connID {
		t.Errorf("closed conn = %s, want %s", closes[0].connID, connID)
	}
	if !slices.Equal(closes[0].rooms, []wire.RoomID{7, 8}) {
		t.Errorf("lapsed rooms = %v", closes[0].rooms)
	}
	var te *TransportError
	if len(errs) != 1 || !errors.As(errs[0], &te) {
		t.Fatalf("errors = %v, want one TransportError", errs)
	}
	if closes[0].err != errs[0] {
		t.Errorf("close cause = %v, want the reported TransportError", closes[0].err)
	}
	if p.Len() != 0 || len(p.Rooms()) != 0 {
		t.Errorf("closed connection still in pool")
	}

	// the caller may re-offer the lapsed rooms
	if err := p.EnsureSubscribed(context.Background(), closes[0].rooms); err != nil {
		t.Fatalf("re-subscribe: %v", err)
	}
	if g.dials() != 2 {
		t.Errorf("dials = %d, want 2", g.dials())
	}
}

func TestUnsubscribe(t *testing.T) {
	g := &fakeGateway{}
	sink := &recordingSink{}
	p := newTestPool(t, g, sink)
	ctx := context.Background()

	if err := p.EnsureSubscribed(ctx, []wire.RoomID{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := p.Unsubscribe(ctx, []wire.RoomID{2}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "unsubscribe frame", func() bool {
		return slices.Equal(g.conn(0).unsubscribed(), []wire.RoomID{2})
	})
	if got := p.Rooms(); !slices.Equal(got, []wire.RoomID{1, 3}) {
		t.Errorf("Rooms = %v", got)
	}

	if err := p.Unsubscribe(ctx, []wire.RoomID{1, 3}); err != nil {
		t.Fatal(err)
	}
	if p.Len() != 0 {
		t.Fatalf("empty connection not closed")
	}
	_, errs, closes := sink.snapshot()
	if len(errs) != 0 {
		t.Errorf("deliberate close reported errors: %v", errs)
	}
	if len(closes) != 1 || closes[0].err != nil {
		t.Errorf("closes = %+v, want one deliberate close", closes)
	}
}

func TestConnRetiredWhileDialing(t *testing.T) {
	g := &fakeGateway{}
	sink := &recordingSink{}
	gate := make(chan struct{})
	dialing := make(chan struct{}, 1)
	p := New(Config{
		MaxChannelsPerSocket: 10,
		Dial: func(ctx context.Context, endpoint string) (net.Conn, error) {
			dialing <- struct{}{}
			<-gate
			return g.dial(ctx, endpoint)
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, sink)
	t.Cleanup(func() { p.Close() })
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- p.EnsureSubscribed(ctx, []wire.RoomID{5}) }()
	select {
	case <-dialing:
	case <-time.After(3 * time.Second):
		t.Fatal("dial not started")
	}
	if err := p.Unsubscribe(ctx, []wire.RoomID{5}); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	close(gate)

	var err error
	select {
	case err = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("EnsureSubscribed did not return")
	}
	if !errors.Is(err, ErrConnClosed) || errors.Is(err, ErrPoolClosed) {
		t.Fatalf("err = %v, want ErrConnClosed only", err)
	}
	if p.Len() != 0 {
		t.Errorf("retired connection still in pool")
	}

	// the pool itself is still usable
	if err := p.EnsureSubscribed(ctx, []wire.RoomID{5}); err != nil {
		t.Fatalf("EnsureSubscribed after retire: %v", err)
	}
}

func TestCloseShutsDownEveryConnection(t *testing.T) {
	g := &fakeGateway{}
	sink := &recordingSink{}
	p := newTestPool(t, g, sink)

	if err := p.EnsureSubscribed(context.Background(), roomRange(1, 15)); err != nil {
		t.Fatal(err)
	}
	p.Close()
	if p.Len() != 0 {
		t.Errorf("Len = %d after Close", p.Len())
	}
	_, errs, closes := sink.snapshot()
	if len(closes) != 2 {
		t.Errorf("closes = %d, want 2", len(closes))
	}
	if len(errs) != 0 {
		t.Errorf("errors on Close: %v", errs)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestTransportErrorMessage(t *testing.T) {
	err := &TransportError{ConnID: "abc", Err: io.EOF}
	if got := err.Error(); got != fmt.Sprintf("connection abc: %v", io.EOF) {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, io.EOF) {
		t.Error("TransportError does not unwrap")
	}
}
