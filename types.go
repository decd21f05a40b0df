package kick

import (
	"github.com/NeboLoop/kick-go-sdk/wire"
)

// --------------------------------------------------------------------------
// Channel Types
// --------------------------------------------------------------------------

// Image is a URL wrapper used for banners and thumbnails.
type Image struct {
	URL        string `json:"url"`
	Responsive string `json:"responsive,omitempty"`
}

// ChannelUser is the account that owns a channel.
type ChannelUser struct {
	ID              int64  `json:"id"`
	Username        string `json:"username"`
	AgreedToTerms   bool   `json:"agreed_to_terms"`
	EmailVerifiedAt string `json:"email_verified_at"`
	Bio             string `json:"bio"`
	Country         string `json:"country"`
	State           string `json:"state"`
	City            string `json:"city"`
	Instagram       string `json:"instagram"`
	Twitter         string `json:"twitter"`
	YouTube         string `json:"youtube"`
	Discord         string `json:"discord"`
	TikTok          string `json:"tiktok"`
	Facebook        string `json:"facebook"`
	ProfilePic      string `json:"profile_pic"`
}

// Chatroom holds a channel's chat configuration. ID is the room the
// realtime gateway publishes on.
type Chatroom struct {
	ID                   wire.RoomID `json:"id"`
	ChatableType         string      `json:"chatable_type"`
	ChannelID            int64       `json:"channel_id"`
	CreatedAt            string      `json:"created_at"`
	UpdatedAt            string      `json:"updated_at"`
	ChatModeOld          string      `json:"chat_mode_old"`
	ChatMode             string      `json:"chat_mode"`
	SlowMode             bool        `json:"slow_mode"`
	ChatableID           int64       `json:"chatable_id"`
	FollowersMode        bool        `json:"followers_mode"`
	SubscribersMode      bool        `json:"subscribers_mode"`
	EmotesMode           bool        `json:"emotes_mode"`
	MessageInterval      int         `json:"message_interval"`
	FollowingMinDuration int         `json:"following_min_duration"`
}

// CategoryRef is the parent category of a subcategory.
type CategoryRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
	Icon string `json:"icon"`
}

// Category is a stream category as listed on a channel or livestream.
type Category struct {
	ID         int64       `json:"id"`
	CategoryID int64       `json:"category_id"`
	Name       string      `json:"name"`
	Slug       string      `json:"slug"`
	Tags       []string    `json:"tags"`
	Viewers    int         `json:"viewers"`
	Banner     *Image      `json:"banner,omitempty"`
	Category   CategoryRef `json:"category"`
}

// SubscriberBadge is a per-channel subscriber badge tier.
type SubscriberBadge struct {
	ID         int64             `json:"id"`
	ChannelID  int64             `json:"channel_id"`
	Months     int               `json:"months"`
	BadgeImage map[string]string `json:"badge_image"`
}

// Livestream is the current broadcast embedded in ChannelInfo.
type Livestream struct {
	ID           int64      `json:"id"`
	Slug         string     `json:"slug"`
	ChannelID    int64      `json:"channel_id"`
	CreatedAt    string     `json:"created_at"`
	SessionTitle string     `json:"session_title"`
	IsLive       bool       `json:"is_live"`
	StartTime    string     `json:"start_time"`
	Duration     int64      `json:"duration"`
	Language     string     `json:"language"`
	IsMature     bool       `json:"is_mature"`
	ViewerCount  int        `json:"viewer_count"`
	Thumbnail    *Image     `json:"thumbnail,omitempty"`
	Categories   []Category `json:"categories"`
	Tags         []string   `json:"tags"`
}

// ChannelInfo is the metadata returned by GET /api/v2/channels/{slug}.
type ChannelInfo struct {
	ID                  int64             `json:"id"`
	UserID              int64             `json:"user_id"`
	Slug                string            `json:"slug"`
	IsBanned            bool              `json:"is_banned"`
	PlaybackURL         string            `json:"playback_url"`
	VODEnabled          bool              `json:"vod_enabled"`
	SubscriptionEnabled bool              `json:"subscription_enabled"`
	FollowersCount      int               `json:"followers_count"`
	SubscriberBadges    []SubscriberBadge `json:"subscriber_badges"`
	BannerImage         *Image            `json:"banner_image,omitempty"`
	Livestream          *Livestream       `json:"livestream"`
	Muted               bool              `json:"muted"`
	OfflineBannerImage  map[string]string `json:"offline_banner_image,omitempty"`
	Verified            bool              `json:"verified"`
	RecentCategories    []Category        `json:"recent_categories"`
	CanHost             bool              `json:"can_host"`
	User                ChannelUser       `json:"user"`
	Chatroom            Chatroom          `json:"chatroom"`
}

// User identifies the primary channel a client is attached to.
type User struct {
	ID       int64  // channel id
	Username string // channel slug
	Tag      string // display name of the owning account
}

// --------------------------------------------------------------------------
// Video Types
// --------------------------------------------------------------------------

// VideoChannel is the channel summary embedded in a video's livestream.
type VideoChannel struct {
	ID          int64       `json:"id"`
	UserID      int64       `json:"user_id"`
	Slug        string      `json:"slug"`
	IsBanned    bool        `json:"is_banned"`
	PlaybackURL string      `json:"playback_url"`
	VODEnabled  bool        `json:"vod_enabled"`
	Verified    bool        `json:"verified"`
	User        ChannelUser `json:"user"`
}

// VideoLivestream is the broadcast a VOD was recorded from.
type VideoLivestream struct {
	ID           int64        `json:"id"`
	Slug         string       `json:"slug"`
	ChannelID    int64        `json:"channel_id"`
	CreatedAt    string       `json:"created_at"`
	SessionTitle string       `json:"session_title"`
	IsLive       bool         `json:"is_live"`
	StartTime    string       `json:"start_time"`
	Duration     int64        `json:"duration"` // milliseconds
	Language     string       `json:"language"`
	IsMature     bool         `json:"is_mature"`
	ViewerCount  int          `json:"viewer_count"`
	Thumbnail    string       `json:"thumbnail"`
	Channel      VideoChannel `json:"channel"`
	Categories   []Category   `json:"categories"`
}

// VideoInfo is returned by GET /api/v1/video/{uuid}.
type VideoInfo struct {
	ID           int64           `json:"id"`
	LiveStreamID int64           `json:"live_stream_id"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
	UUID         string          `json:"uuid"`
	Views        int             `json:"views"`
	Source       string          `json:"source"`
	Livestream   VideoLivestream `json:"livestream"`
}

// VOD is the flattened view of a VideoInfo.
type VOD struct {
	ID           int64
	Title        string
	Thumbnail    string
	Duration     int64
	LiveStreamID int64
	StartTime    string
	CreatedAt    string
	UpdatedAt    string
	UUID         string
	Views        int
	Stream       string // playback source URL
	Language     string
	Livestream   VideoLivestream
	Channel      VideoChannel
}

func (v *VideoInfo) vod() *VOD {
	return &VOD{
		ID:           v.ID,
		Title:        v.Livestream.SessionTitle,
		Thumbnail:    v.Livestream.Thumbnail,
		Duration:     v.Livestream.Duration,
		LiveStreamID: v.LiveStreamID,
		StartTime:    v.Livestream.StartTime,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
		UUID:         v.UUID,
		Views:        v.Views,
		Stream:       v.Source,
		Language:     v.Livestream.Language,
		Livestream:   v.Livestream,
		Channel:      v.Livestream.Channel,
	}
}

// --------------------------------------------------------------------------
// Moderation / Interaction Types
// --------------------------------------------------------------------------

// APIStatus is the status block some endpoints wrap their data in.
type APIStatus struct {
	Error   bool   `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PollResponse is returned by GET /api/v2/channels/{slug}/polls.
type PollResponse struct {
	Status APIStatus `json:"status"`
	Data   struct {
		Poll *wire.Poll `json:"poll"`
	} `json:"data"`
}

// LeaderboardEntry is one gifter on a leaderboard.
type LeaderboardEntry struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Quantity int    `json:"quantity"`
}

// Leaderboard is returned by GET /api/v2/channels/{slug}/leaderboards.
type Leaderboard struct {
	Gifts      []LeaderboardEntry `json:"gifts"`
	GiftsWeek  []LeaderboardEntry `json:"gifts_week"`
	GiftsMonth []LeaderboardEntry `json:"gifts_month"`
}

// ReplyTo identifies the chat message a reply answers.
type ReplyTo struct {
	MessageID      string
	Content        string
	SenderID       int64
	SenderUsername string
}

type sendMessageRequest struct {
	Content  string                `json:"content"`
	Type     string                `json:"type"`
	Metadata *wire.MessageMetadata `json:"metadata,omitempty"`
}

type banRequest struct {
	BannedUsername string `json:"banned_username"`
	Duration       int    `json:"duration,omitempty"` // minutes
	Permanent      bool   `json:"permanent"`
}

type slowModeRequest struct {
	SlowMode        bool `json:"slow_mode"`
	MessageInterval int  `json:"message_interval,omitempty"` // seconds
}
