package storage

import (
	"context"
	"io"
	"time"
)

type GroupStore interface {
	// AddOrUpdateGroup inserts the group or refreshes its title and
	// reactivates it.
	AddOrUpdateGroup(ctx context.Context, chatID int64, title string) error
	// RemoveGroup marks the group inactive. Unknown groups are ignored.
	RemoveGroup(ctx context.Context, chatID int64) error
	GetAllGroups(ctx context.Context) ([]Group, error)
	GetAllGroupsIncludingInactive(ctx context.Context) ([]Group, error)
	GetGroup(ctx context.Context, chatID int64) (Group, error)
}

type JoinStore interface {
	TrackUserJoin(ctx context.Context, userID, chatID int64) error
	// IsNewUser reports whether the user joined the chat within window.
	IsNewUser(ctx context.Context, userID, chatID int64, window time.Duration) (bool, error)
}

type StatsStore interface {
	IncrementDeletedJoin(ctx context.Context, chatID int64) error
	IncrementDeletedLeave(ctx context.Context, chatID int64) error
	IncrementDeletedSpam(ctx context.Context, chatID int64) error
	// GetStatistics returns a zero record (ChatID set) for unknown chats.
	GetStatistics(ctx context.Context, chatID int64) (ChatStatistics, error)
	GetAllStatistics(ctx context.Context) ([]ChatStatistics, error)
}

type AdStore interface {
	AddAdvertisement(ctx context.Context, text string) (Advertisement, error)
	AddAdvertisementWithMedia(ctx context.Context, text string, kind MediaKind, ref string) (Advertisement, error)
	// GetAllAdvertisements returns every ad ordered by DisplayOrder.
	GetAllAdvertisements(ctx context.Context) ([]Advertisement, error)
	GetAdvertisement(ctx context.Context, id int64) (Advertisement, error)
	DeleteAdvertisement(ctx context.Context, id int64) error
	// ToggleAdvertisement flips IsActive and returns the new value.
	ToggleAdvertisement(ctx context.Context, id int64) (bool, error)
}

type AdSettingsStore interface {
	// GetGroupAdSettings creates default settings on first access.
	GetGroupAdSettings(ctx context.Context, chatID int64) (GroupAdSettings, error)
	UpdateGroupAdSettings(ctx context.Context, s GroupAdSettings) error
	// SetGroupAdInterval sets or (with nil) clears the custom interval.
	SetGroupAdInterval(ctx context.Context, chatID int64, minutes *int) error
	// ToggleGroupAds flips AdsEnabled in place and returns the new value.
	// Rotation fields are left untouched.
	ToggleGroupAds(ctx context.Context, chatID int64) (bool, error)
	UpdateLastAdSent(ctx context.Context, chatID int64, index int, at time.Time) error
}

type AdCounterStore interface {
	IncrementAdSent(ctx context.Context, chatID, adID int64, at time.Time) error
	GetAdStatistics(ctx context.Context) ([]AdSendCounter, error)
	GetAdStatisticsForChat(ctx context.Context, chatID int64) ([]AdSendCounter, error)
}

// Store is the full persistence API.
type Store interface {
	GroupStore
	JoinStore
	StatsStore
	AdStore
	AdSettingsStore
	AdCounterStore

	Ping(ctx context.Context) error
	io.Closer
}
