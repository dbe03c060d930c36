package cache

import (
	"context"
	"slices"
	"time"

	"adbot/internal/storage"
)

// Store is a storage.Store that serves reads from a Cache and invalidates
// on writes. Returned slices are copies; callers may modify them.
type Store struct {
	next  storage.Store
	cache *Cache
}

var _ storage.Store = (*Store)(nil)

func NewStore(next storage.Store, c *Cache) *Store {
	return &Store{next: next, cache: c}
}

func (s *Store) Cache() *Cache { return s.cache }

func (s *Store) Ping(ctx context.Context) error { return s.next.Ping(ctx) }
func (s *Store) Close() error                   { return s.next.Close() }

// ---- groups ----

func (s *Store) AddOrUpdateGroup(ctx context.Context, chatID int64, title string) error {
	err := s.next.AddOrUpdateGroup(ctx, chatID, title)
	s.cache.Invalidate(KeyAllGroups, KeyAllGroupsIncludingInactive, GroupKey(chatID))
	return err
}

func (s *Store) RemoveGroup(ctx context.Context, chatID int64) error {
	err := s.next.RemoveGroup(ctx, chatID)
	s.cache.Invalidate(KeyAllGroups, KeyAllGroupsIncludingInactive, GroupKey(chatID))
	return err
}

func (s *Store) GetAllGroups(ctx context.Context) ([]storage.Group, error) {
	v, err := GetOrLoad(ctx, s.cache, KeyAllGroups, Long, s.next.GetAllGroups)
	return slices.Clone(v), err
}

func (s *Store) GetAllGroupsIncludingInactive(ctx context.Context) ([]storage.Group, error) {
	v, err := GetOrLoad(ctx, s.cache, KeyAllGroupsIncludingInactive, Long, s.next.GetAllGroupsIncludingInactive)
	return slices.Clone(v), err
}

func (s *Store) GetGroup(ctx context.Context, chatID int64) (storage.Group, error) {
	return GetOrLoad(ctx, s.cache, GroupKey(chatID), Long, func(ctx context.Context) (storage.Group, error) {
		return s.next.GetGroup(ctx, chatID)
	})
}

// ---- joins (uncached) ----

func (s *Store) TrackUserJoin(ctx context.Context, userID, chatID int64) error {
	return s.next.TrackUserJoin(ctx, userID, chatID)
}

func (s *Store) IsNewUser(ctx context.Context, userID, chatID int64, window time.Duration) (bool, error) {
	return s.next.IsNewUser(ctx, userID, chatID, window)
}

// ---- statistics ----

func (s *Store) IncrementDeletedJoin(ctx context.Context, chatID int64) error {
	err := s.next.IncrementDeletedJoin(ctx, chatID)
	s.cache.Invalidate(StatsKey(chatID), KeyAllStats)
	return err
}

func (s *Store) IncrementDeletedLeave(ctx context.Context, chatID int64) error {
	err := s.next.IncrementDeletedLeave(ctx, chatID)
	s.cache.Invalidate(StatsKey(chatID), KeyAllStats)
	return err
}

func (s *Store) IncrementDeletedSpam(ctx context.Context, chatID int64) error {
	err := s.next.IncrementDeletedSpam(ctx, chatID)
	s.cache.Invalidate(StatsKey(chatID), KeyAllStats)
	return err
}

func (s *Store) GetStatistics(ctx context.Context, chatID int64) (storage.ChatStatistics, error) {
	return GetOrLoad(ctx, s.cache, StatsKey(chatID), Short, func(ctx context.Context) (storage.ChatStatistics, error) {
		return s.next.GetStatistics(ctx, chatID)
	})
}

func (s *Store) GetAllStatistics(ctx context.Context) ([]storage.ChatStatistics, error) {
	v, err := GetOrLoad(ctx, s.cache, KeyAllStats, Short, s.next.GetAllStatistics)
	return slices.Clone(v), err
}

// ---- advertisements ----

func (s *Store) AddAdvertisement(ctx context.Context, text string) (storage.Advertisement, error) {
	ad, err := s.next.AddAdvertisement(ctx, text)
	s.cache.Invalidate(KeyAllAds)
	return ad, err
}

func (s *Store) AddAdvertisementWithMedia(ctx context.Context, text string, kind storage.MediaKind, ref string) (storage.Advertisement, error) {
	ad, err := s.next.AddAdvertisementWithMedia(ctx, text, kind, ref)
	s.cache.Invalidate(KeyAllAds)
	return ad, err
}

func (s *Store) GetAllAdvertisements(ctx context.Context) ([]storage.Advertisement, error) {
	v, err := GetOrLoad(ctx, s.cache, KeyAllAds, Default, s.next.GetAllAdvertisements)
	return slices.Clone(v), err
}

func (s *Store) GetAdvertisement(ctx context.Context, id int64) (storage.Advertisement, error) {
	return GetOrLoad(ctx, s.cache, AdKey(id), Default, func(ctx context.Context) (storage.Advertisement, error) {
		return s.next.GetAdvertisement(ctx, id)
	})
}

func (s *Store) DeleteAdvertisement(ctx context.Context, id int64) error {
	err := s.next.DeleteAdvertisement(ctx, id)
	s.cache.Invalidate(KeyAllAds, AdKey(id))
	return err
}

func (s *Store) ToggleAdvertisement(ctx context.Context, id int64) (bool, error) {
	active, err := s.next.ToggleAdvertisement(ctx, id)
	s.cache.Invalidate(KeyAllAds, AdKey(id))
	return active, err
}

// ---- ad settings ----

func (s *Store) GetGroupAdSettings(ctx context.Context, chatID int64) (storage.GroupAdSettings, error) {
	v, err := GetOrLoad(ctx, s.cache, AdSettingsKey(chatID), Short, func(ctx context.Context) (storage.GroupAdSettings, error) {
		return s.next.GetGroupAdSettings(ctx, chatID)
	})
	return cloneSettings(v), err
}

func (s *Store) UpdateGroupAdSettings(ctx context.Context, gs storage.GroupAdSettings) error {
	err := s.next.UpdateGroupAdSettings(ctx, gs)
	s.cache.Invalidate(AdSettingsKey(gs.ChatID))
	return err
}

func (s *Store) SetGroupAdInterval(ctx context.Context, chatID int64, minutes *int) error {
	err := s.next.SetGroupAdInterval(ctx, chatID, minutes)
	s.cache.Invalidate(AdSettingsKey(chatID))
	return err
}

func (s *Store) ToggleGroupAds(ctx context.Context, chatID int64) (bool, error) {
	enabled, err := s.next.ToggleGroupAds(ctx, chatID)
	s.cache.Invalidate(AdSettingsKey(chatID))
	return enabled, err
}

func (s *Store) UpdateLastAdSent(ctx context.Context, chatID int64, index int, at time.Time) error {
	err := s.next.UpdateLastAdSent(ctx, chatID, index, at)
	s.cache.Invalidate(AdSettingsKey(chatID))
	return err
}

func cloneSettings(in storage.GroupAdSettings) storage.GroupAdSettings {
	out := in
	if in.CustomIntervalMinutes != nil {
		m := *in.CustomIntervalMinutes
		out.CustomIntervalMinutes = &m
	}
	if in.LastAdSentAt != nil {
		t := *in.LastAdSentAt
		out.LastAdSentAt = &t
	}
	return out
}

// ---- ad counters ----

func (s *Store) IncrementAdSent(ctx context.Context, chatID, adID int64, at time.Time) error {
	err := s.next.IncrementAdSent(ctx, chatID, adID, at)
	s.cache.Invalidate(KeyAllAdStats, AdStatsKey(chatID))
	return err
}

func (s *Store) GetAdStatistics(ctx context.Context) ([]storage.AdSendCounter, error) {
	v, err := GetOrLoad(ctx, s.cache, KeyAllAdStats, Short, s.next.GetAdStatistics)
	return slices.Clone(v), err
}

func (s *Store) GetAdStatisticsForChat(ctx context.Context, chatID int64) ([]storage.AdSendCounter, error) {
	v, err := GetOrLoad(ctx, s.cache, AdStatsKey(chatID), Short, func(ctx context.Context) ([]storage.AdSendCounter, error) {
		return s.next.GetAdStatisticsForChat(ctx, chatID)
	})
	return slices.Clone(v), err
}
