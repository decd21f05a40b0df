package wire

import "encoding/json"

// Application event names as published by the gateway.
const (
	NameChatMessage          = `App\Events\ChatMessageEvent`
	NameSubscription         = `App\Events\SubscriptionEvent`
	NameGiftedSubscriptions  = `App\Events\GiftedSubscriptionsEvent`
	NameStreamHost           = `App\Events\StreamHostEvent`
	NameMessageDeleted       = `App\Events\MessageDeletedEvent`
	NameUserBanned           = `App\Events\UserBannedEvent`
	NameUserUnbanned         = `App\Events\UserUnbannedEvent`
	NamePinnedMessageCreated = `App\Events\PinnedMessageCreatedEvent`
	NamePinnedMessageDeleted = `App\Events\PinnedMessageDeletedEvent`
	NamePollUpdate           = `App\Events\PollUpdateEvent`
	NamePollDelete           = `App\Events\PollDeleteEvent`
)

// Badge is a chat badge shown next to a sender.
type Badge struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Count int    `json:"count,omitempty"`
}

// Identity holds the display attributes of a chat sender.
type Identity struct {
	Color  string  `json:"color"`
	Badges []Badge `json:"badges"`
}

// Sender is the author of a chat message.
type Sender struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Slug     string   `json:"slug"`
	Identity Identity `json:"identity"`
}

// OriginalSender is the author of the message a reply refers to.
type OriginalSender struct {
	ID       json.Number `json:"id"`
	Username string      `json:"username"`
}

// OriginalMessage is the message a reply refers to.
type OriginalMessage struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// MessageMetadata is set on replies.
type MessageMetadata struct {
	OriginalSender  OriginalSender  `json:"original_sender"`
	OriginalMessage OriginalMessage `json:"original_message"`
}

// ChatMessage is the payload of ChatMessageEvent.
type ChatMessage struct {
	ID         string           `json:"id"`
	ChatroomID RoomID           `json:"chatroom_id"`
	Content    string           `json:"content"`
	Type       string           `json:"type"` // "message", "reply"
	CreatedAt  string           `json:"created_at"`
	Sender     Sender           `json:"sender"`
	Metadata   *MessageMetadata `json:"metadata,omitempty"`
}

// Subscription is the payload of SubscriptionEvent.
type Subscription struct {
	ChatroomID RoomID `json:"chatroom_id"`
	Username   string `json:"username"`
	Months     int    `json:"months"`
}

// GiftedSubscriptions is the payload of GiftedSubscriptionsEvent.
type GiftedSubscriptions struct {
	ChatroomID      RoomID   `json:"chatroom_id"`
	GiftedUsernames []string `json:"gifted_usernames"`
	GifterUsername  string   `json:"gifter_username"`
	GifterTotal     int      `json:"gifter_total,omitempty"`
}

// StreamHost is the payload of StreamHostEvent (a raid/host into the room).
type StreamHost struct {
	ChatroomID      RoomID `json:"chatroom_id"`
	OptionalMessage string `json:"optional_message"`
	NumberViewers   int    `json:"number_viewers"`
	HostUsername    string `json:"host_username"`
}

// MessageRef identifies a chat message.
type MessageRef struct {
	ID string `json:"id"`
}

// MessageDeleted is the payload of MessageDeletedEvent.
type MessageDeleted struct {
	ID          string     `json:"id"`
	Message     MessageRef `json:"message"`
	AIModerated bool       `json:"aiModerated,omitempty"`
}

// UserRef identifies a platform user.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Slug     string `json:"slug"`
}

// UserBanned is the payload of UserBannedEvent.
type UserBanned struct {
	ID        string  `json:"id"`
	User      UserRef `json:"user"`
	BannedBy  UserRef `json:"banned_by"`
	Permanent bool    `json:"permanent"`
	Duration  int     `json:"duration,omitempty"` // minutes
	ExpiresAt string  `json:"expires_at,omitempty"`
}

// UserUnbanned is the payload of UserUnbannedEvent.
type UserUnbanned struct {
	ID         string  `json:"id"`
	User       UserRef `json:"user"`
	UnbannedBy UserRef `json:"unbanned_by"`
	Permanent  bool    `json:"permanent"`
}

// PinnedMessageCreated is the payload of PinnedMessageCreatedEvent.
type PinnedMessageCreated struct {
	Message  ChatMessage `json:"message"`
	Duration string      `json:"duration"`
}

// PinnedMessageDeleted is the payload of PinnedMessageDeletedEvent. The
// gateway usually sends an empty object.
type PinnedMessageDeleted struct {
	Message *MessageRef `json:"message,omitempty"`
}

// PollOption is one answer of a poll with its running tally.
type PollOption struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
	Votes int    `json:"votes"`
}

// Poll describes a chat poll.
type Poll struct {
	Title                 string       `json:"title"`
	Options               []PollOption `json:"options"`
	Duration              int          `json:"duration"`  // seconds
	Remaining             int          `json:"remaining"` // seconds
	ResultDisplayDuration int          `json:"result_display_duration"`
	HasVoted              bool         `json:"has_voted,omitempty"`
	VotedOptionID         *int         `json:"voted_option_id,omitempty"`
}

// PollUpdate is the payload of PollUpdateEvent.
type PollUpdate struct {
	Poll Poll `json:"poll"`
}

// PollDelete is the payload of PollDeleteEvent. The gateway sends an
// empty object.
type PollDelete struct{}
