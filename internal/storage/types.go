package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrDisabled = errors.New("storage: disabled")
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Now overrides the clock used for created/joined/updated timestamps.
	Now func() time.Time
}

type MediaKind string

const (
	MediaNone     MediaKind = "none"
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// ParseMediaKind maps unknown or empty values to MediaNone.
func ParseMediaKind(s string) MediaKind {
	switch MediaKind(s) {
	case MediaPhoto, MediaVideo, MediaDocument:
		return MediaKind(s)
	default:
		return MediaNone
	}
}

type Group struct {
	ChatID   int64     `json:"chat_id"`
	Title    string    `json:"title"`
	JoinedAt time.Time `json:"joined_at"`
	IsActive bool      `json:"is_active"`
}

type UserJoin struct {
	UserID   int64     `json:"user_id"`
	ChatID   int64     `json:"chat_id"`
	JoinedAt time.Time `json:"joined_at"`
}

type ChatStatistics struct {
	ChatID            int64     `json:"chat_id"`
	DeletedJoinCount  int64     `json:"deleted_join_count"`
	DeletedLeaveCount int64     `json:"deleted_leave_count"`
	DeletedSpamCount  int64     `json:"deleted_spam_count"`
	LastUpdated       time.Time `json:"last_updated"`
}

type Advertisement struct {
	ID           int64     `json:"id"`
	Text         string    `json:"text"`
	MediaKind    MediaKind `json:"media_kind"`
	MediaRef     string    `json:"media_ref,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	DisplayOrder int       `json:"display_order"`
}

// GroupAdSettings holds per-group rotation state. A nil
// CustomIntervalMinutes falls back to the global default; a nil LastAdSentAt
// means no ad was ever sent.
type GroupAdSettings struct {
	ChatID                int64      `json:"chat_id"`
	AdsEnabled            bool       `json:"ads_enabled"`
	CustomIntervalMinutes *int       `json:"custom_interval_minutes,omitempty"`
	LastAdSentAt          *time.Time `json:"last_ad_sent_at,omitempty"`
	LastAdIndex           int        `json:"last_ad_index"`
}

// DefaultAdSettings returns the settings a group gets on first access.
func DefaultAdSettings(chatID int64) GroupAdSettings {
	return GroupAdSettings{ChatID: chatID, AdsEnabled: true, LastAdIndex: -1}
}

type AdSendCounter struct {
	ChatID     int64     `json:"chat_id"`
	AdID       int64     `json:"ad_id"`
	TotalSent  int64     `json:"total_sent"`
	LastSentAt time.Time `json:"last_sent_at"`
}
