// Package frame decodes inbound Kick gateway frames into typed events.
//
// Every frame is a two-layer JSON document:
//
//	{"event":"App\\Events\\ChatMessageEvent","data":"{...}","channel":"chatrooms.668.v2"}
//
// The outer envelope names the event; data is itself a JSON-encoded string
// holding the event payload. The set of recognised event names is closed:
// anything else decodes to TypeUnknown so new server events never break a
// connection.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/NeboLoop/kick-go-sdk/wire"
)

// EventType tags the variant held by an Event. Must fit in uint8.
type EventType uint8

// Event types.
const (
	TypeUnknown EventType = iota
	TypeChatMessage
	TypeSubscription
	TypeGiftedSubscriptions
	TypeStreamHost
	TypeUserBanned
	TypeUserUnbanned
	TypeMessageDeleted
	TypePinnedMessageCreated
	TypePinnedMessageDeleted
	TypePollUpdate
	TypePollDelete
)

var typeNames = [...]string{
	TypeUnknown:              "Unknown",
	TypeChatMessage:          "ChatMessage",
	TypeSubscription:         "Subscription",
	TypeGiftedSubscriptions:  "GiftedSubscriptions",
	TypeStreamHost:           "StreamHost",
	TypeUserBanned:           "UserBanned",
	TypeUserUnbanned:         "UserUnbanned",
	TypeMessageDeleted:       "MessageDeleted",
	TypePinnedMessageCreated: "PinnedMessageCreated",
	TypePinnedMessageDeleted: "PinnedMessageDeleted",
	TypePollUpdate:           "PollUpdate",
	TypePollDelete:           "PollDelete",
}

func (t EventType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("EventType(%d)", uint8(t))
}

// Types lists every known variant except TypeUnknown, in declaration order.
func Types() []EventType {
	out := make([]EventType, 0, len(typeNames)-1)
	for t := TypeChatMessage; int(t) < len(typeNames); t++ {
		out = append(out, t)
	}
	return out
}

var (
	ErrMalformed       = errors.New("frame: malformed envelope")
	ErrPayloadMismatch = errors.New("frame: payload does not match event schema")
)

// Event is one decoded application event. Payload holds a pointer to the
// wire struct matching Type (e.g. *wire.ChatMessage for TypeChatMessage)
// and is nil for TypeUnknown.
type Event struct {
	Type    EventType
	Name    string // wire event name as received
	Channel string // channel tag the event was published on
	Payload any
}

// Room returns the room the event was published on, if the channel tag
// belongs to the chatroom namespace.
func (e Event) Room() (wire.RoomID, bool) { return wire.ParseChannelName(e.Channel) }

type variant struct {
	typ EventType
	new func() any
}

// variants maps wire event names to their tag and payload schema.
var variants = map[string]variant{
	wire.NameChatMessage:          {TypeChatMessage, func() any { return new(wire.ChatMessage) }},
	wire.NameSubscription:         {TypeSubscription, func() any { return new(wire.Subscription) }},
	wire.NameGiftedSubscriptions:  {TypeGiftedSubscriptions, func() any { return new(wire.GiftedSubscriptions) }},
	wire.NameStreamHost:           {TypeStreamHost, func() any { return new(wire.StreamHost) }},
	wire.NameUserBanned:           {TypeUserBanned, func() any { return new(wire.UserBanned) }},
	wire.NameUserUnbanned:         {TypeUserUnbanned, func() any { return new(wire.UserUnbanned) }},
	wire.NameMessageDeleted:       {TypeMessageDeleted, func() any { return new(wire.MessageDeleted) }},
	wire.NamePinnedMessageCreated: {TypePinnedMessageCreated, func() any { return new(wire.PinnedMessageCreated) }},
	wire.NamePinnedMessageDeleted: {TypePinnedMessageDeleted, func() any { return new(wire.PinnedMessageDeleted) }},
	wire.NamePollUpdate:           {TypePollUpdate, func() any { return new(wire.PollUpdate) }},
	wire.NamePollDelete:           {TypePollDelete, func() any { return new(wire.PollDelete) }},
}

// Lookup returns the event type registered for a wire event name.
func Lookup(name string) (EventType, bool) {
	v, ok := variants[name]
	return v.typ, ok
}

// ParseEnvelope parses the outer frame.
func ParseEnvelope(raw []byte) (wire.Envelope, error) {
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return wire.Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return wire.Envelope{}, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	return env, nil
}

// Decode parses one raw gateway frame into an Event.
func Decode(raw []byte) (Event, error) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return Event{}, err
	}
	return DecodeEnvelope(env)
}

// DecodeEnvelope decodes the payload of an already parsed envelope. An
// unrecognised event name yields a TypeUnknown event and no error.
func DecodeEnvelope(env wire.Envelope) (Event, error) {
	ev := Event{Name: env.Event, Channel: env.Channel}
	v, ok := variants[env.Event]
	if !ok {
		ev.Type = TypeUnknown
		return ev, nil
	}
	ev.Type = v.typ

	payload, err := env.Payload()
	if err != nil {
		return ev, fmt.Errorf("%w: %s: %v", ErrPayloadMismatch, v.typ, err)
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return ev, fmt.Errorf("%w: %s: empty data", ErrPayloadMismatch, v.typ)
	}
	dst := v.new()
	if err := json.Unmarshal(payload, dst); err != nil {
		return ev, fmt.Errorf("%w: %s: %v", ErrPayloadMismatch, v.typ, err)
	}
	ev.Payload = dst
	return ev, nil
}

// ChatMessage returns the payload of a TypeChatMessage event.
func (e Event) ChatMessage() (*wire.ChatMessage, bool) {
	m, ok := e.Payload.(*wire.ChatMessage)
	return m, ok && m != nil
}
