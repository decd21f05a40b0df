// Package wire defines the JSON shapes exchanged with the Kick realtime
// gateway (a Pusher-protocol WebSocket) and the typed payloads carried
// inside its envelopes. The pool, the decoder and the facade all import
// these types — single source of truth.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RoomID identifies one chatroom's realtime feed. It is stable for the
// lifetime of a channel.
type RoomID int64

func (r RoomID) String() string { return strconv.FormatInt(int64(r), 10) }

// ChannelNamespace is the Pusher channel prefix for chatrooms.
const ChannelNamespace = "chatrooms"

// ChannelName returns the Pusher channel a room is published on,
// e.g. "chatrooms.668.v2".
func ChannelName(room RoomID) string {
	return ChannelNamespace + "." + room.String() + ".v2"
}

// ParseChannelName extracts the room id from a chatroom channel tag. It
// returns false for channels outside the chatroom namespace.
func ParseChannelName(channel string) (RoomID, bool) {
	rest, ok := strings.CutPrefix(channel, ChannelNamespace+".")
	if !ok {
		return 0, false
	}
	idPart, _, _ := strings.Cut(rest, ".")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return RoomID(id), true
}

// Pusher protocol events.
const (
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventError                 = "pusher:error"
	EventConnectionEstablished = "pusher:connection_established"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventSubscriptionCount     = "pusher_internal:subscription_count"

	controlPrefix         = "pusher:"
	internalControlPrefix = "pusher_internal:"
)

// IsControl reports whether event belongs to the Pusher protocol itself
// rather than to the application.
func IsControl(event string) bool {
	return strings.HasPrefix(event, controlPrefix) || strings.HasPrefix(event, internalControlPrefix)
}

// Envelope is the outer frame received from (and sent to) the gateway.
// Application events carry Data as a JSON-encoded string that needs a
// second decode pass; some protocol events carry a bare object instead.
type Envelope struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
	Channel string          `json:"channel,omitempty"`
}

// Payload returns the inner JSON document of the envelope, unquoting Data
// when it was sent as a string.
func (e Envelope) Payload() ([]byte, error) {
	data := bytes.TrimSpace(e.Data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] != '"' {
		return data, nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unquote data: %w", err)
	}
	return []byte(s), nil
}

// SubscribeData is the payload of a pusher:subscribe frame (client -> server).
type SubscribeData struct {
	Auth    string `json:"auth"`
	Channel string `json:"channel"`
}

// SubscribeFrame builds the control frame subscribing to a room.
func SubscribeFrame(room RoomID) ([]byte, error) {
	return controlFrame(EventSubscribe, SubscribeData{Auth: "", Channel: ChannelName(room)})
}

// UnsubscribeFrame builds the control frame leaving a room.
func UnsubscribeFrame(room RoomID) ([]byte, error) {
	return controlFrame(EventUnsubscribe, struct {
		Channel string `json:"channel"`
	}{Channel: ChannelName(room)})
}

// PingFrame builds a client-initiated keepalive.
func PingFrame() ([]byte, error) { return controlFrame(EventPing, struct{}{}) }

// PongFrame builds the reply to a server ping.
func PongFrame() ([]byte, error) { return controlFrame(EventPong, struct{}{}) }

func controlFrame(event string, data any) ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: data})
}

// ConnectionEstablished is the payload of pusher:connection_established
// (server -> client).
type ConnectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"` // seconds
}

// ProtocolError is the payload of pusher:error (server -> client).
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("pusher error %d: %s", e.Code, e.Message)
}
