package kick

import (
	"sync"

	"github.com/NeboLoop/kick-go-sdk/frame"
	"github.com/NeboLoop/kick-go-sdk/wire"
)

// Handler receives a decoded event.
type Handler func(frame.Event)

// Disconnect describes a gateway connection that closed. Rooms lists the
// rooms it served; they are no longer subscribed unless reconnect is on.
type Disconnect struct {
	ConnID string
	Rooms  []wire.RoomID
	Slugs  []string // channel slugs of Rooms, where known
	Err    error    // nil for a deliberate close
}

// Bus dispatches events by type. Handlers run on the goroutine of the
// connection that received the event, so events of one room arrive in
// order; a slow handler delays its connection only.
type Bus struct {
	mu         sync.RWMutex
	byType     map[frame.EventType][]Handler
	any        []Handler
	ready      []func(User)
	disconnect []func(Disconnect)
	errs       []func(error)
}

func newBus() *Bus {
	return &Bus{byType: make(map[frame.EventType][]Handler)}
}

// On registers h for one event type. TypeUnknown receives events whose
// wire name is not recognised.
func (b *Bus) On(t frame.EventType, h Handler) {
	b.mu.Lock()
	b.byType[t] = append(b.byType[t], h)
	b.mu.Unlock()
}

// OnAny registers h for every event, known or not.
func (b *Bus) OnAny(h Handler) {
	b.mu.Lock()
	b.any = append(b.any, h)
	b.mu.Unlock()
}

// OnUnknown registers h for unrecognised events.
func (b *Bus) OnUnknown(h Handler) { b.On(frame.TypeUnknown, h) }

// OnReady registers h for the client becoming ready.
func (b *Bus) OnReady(h func(User)) {
	b.mu.Lock()
	b.ready = append(b.ready, h)
	b.mu.Unlock()
}

// OnDisconnect registers h for closed gateway connections.
func (b *Bus) OnDisconnect(h func(Disconnect)) {
	b.mu.Lock()
	b.disconnect = append(b.disconnect, h)
	b.mu.Unlock()
}

// OnError registers h for transport and decode errors.
func (b *Bus) OnError(h func(error)) {
	b.mu.Lock()
	b.errs = append(b.errs, h)
	b.mu.Unlock()
}

func (b *Bus) emit(ev frame.Event) {
	b.mu.RLock()
	typed := b.byType[ev.Type]
	all := b.any
	b.mu.RUnlock()
	for _, h := range typed {
		h(ev)
	}
	for _, h := range all {
		h(ev)
	}
}

func (b *Bus) emitReady(u User) {
	b.mu.RLock()
	hs := b.ready
	b.mu.RUnlock()
	for _, h := range hs {
		h(u)
	}
}

func (b *Bus) emitDisconnect(d Disconnect) {
	b.mu.RLock()
	hs := b.disconnect
	b.mu.RUnlock()
	for _, h := range hs {
		h(d)
	}
}

func (b *Bus) emitError(err error) {
	b.mu.RLock()
	hs := b.errs
	b.mu.RUnlock()
	for _, h := range hs {
		h(err)
	}
}

// onPayload adapts a typed payload handler to a Handler.
func onPayload[T any](b *Bus, t frame.EventType, h func(T, frame.Event)) {
	b.On(t, func(ev frame.Event) {
		if p, ok := ev.Payload.(T); ok {
			h(p, ev)
		}
	})
}

// --- Typed helpers ---

// OnChatMessage subscribes to chat messages.
func (b *Bus) OnChatMessage(h func(*wire.ChatMessage, frame.Event)) {
	onPayload(b, frame.TypeChatMessage, h)
}

// OnSubscription subscribes to new subscriptions.
func (b *Bus) OnSubscription(h func(*wire.Subscription, frame.Event)) {
	onPayload(b, frame.TypeSubscription, h)
}

// OnGiftedSubscriptions subscribes to gifted subscription batches.
func (b *Bus) OnGiftedSubscriptions(h func(*wire.GiftedSubscriptions, frame.Event)) {
	onPayload(b, frame.TypeGiftedSubscriptions, h)
}

// OnStreamHost subscribes to hosts/raids into a room.
func (b *Bus) OnStreamHost(h func(*wire.StreamHost, frame.Event)) {
	onPayload(b, frame.TypeStreamHost, h)
}

// OnUserBanned subscribes to bans and timeouts.
func (b *Bus) OnUserBanned(h func(*wire.UserBanned, frame.Event)) {
	onPayload(b, frame.TypeUserBanned, h)
}

// OnUserUnbanned subscribes to lifted bans.
func (b *Bus) OnUserUnbanned(h func(*wire.UserUnbanned, frame.Event)) {
	onPayload(b, frame.TypeUserUnbanned, h)
}

// OnMessageDeleted subscribes to deleted chat messages.
func (b *Bus) OnMessageDeleted(h func(*wire.MessageDeleted, frame.Event)) {
	onPayload(b, frame.TypeMessageDeleted, h)
}

// OnPinnedMessageCreated subscribes to pinned messages.
func (b *Bus) OnPinnedMessageCreated(h func(*wire.PinnedMessageCreated, frame.Event)) {
	onPayload(b, frame.TypePinnedMessageCreated, h)
}

// OnPinnedMessageDeleted subscribes to unpinned messages.
func (b *Bus) OnPinnedMessageDeleted(h func(*wire.PinnedMessageDeleted, frame.Event)) {
	onPayload(b, frame.TypePinnedMessageDeleted, h)
}

// OnPollUpdate subscribes to poll starts and tally updates.
func (b *Bus) OnPollUpdate(h func(*wire.PollUpdate, frame.Event)) {
	onPayload(b, frame.TypePollUpdate, h)
}

// OnPollDelete subscribes to ended polls.
func (b *Bus) OnPollDelete(h func(*wire.PollDelete, frame.Event)) {
	onPayload(b, frame.TypePollDelete, h)
}
