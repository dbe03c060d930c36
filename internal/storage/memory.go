package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	logx "adbot/pkg/logx"
)

// memState is the whole dataset. The file backend serialises it as is.
type memState struct {
	Groups   map[int64]*Group           `json:"groups"`
	Joins    []UserJoin                 `json:"joins"`
	Stats    map[int64]*ChatStatistics  `json:"stats"`
	Ads      map[int64]*Advertisement   `json:"ads"`
	NextAdID int64                      `json:"next_ad_id"`
	Settings map[int64]*GroupAdSettings `json:"settings"`
	Counters map[string]*AdSendCounter  `json:"counters"`
}

func newMemState() *memState {
	return &memState{
		Groups:   map[int64]*Group{},
		Stats:    map[int64]*ChatStatistics{},
		Ads:      map[int64]*Advertisement{},
		Settings: map[int64]*GroupAdSettings{},
		Counters: map[string]*AdSendCounter{},
	}
}

func (st *memState) fill() {
	if st.Groups == nil {
		st.Groups = map[int64]*Group{}
	}
	if st.Stats == nil {
		st.Stats = map[int64]*ChatStatistics{}
	}
	if st.Ads == nil {
		st.Ads = map[int64]*Advertisement{}
	}
	if st.Settings == nil {
		st.Settings = map[int64]*GroupAdSettings{}
	}
	if st.Counters == nil {
		st.Counters = map[string]*AdSendCounter{}
	}
}

func counterKey(chatID, adID int64) string { return fmt.Sprintf("%d:%d", chatID, adID) }

// memStore keeps everything in maps under one mutex. When persist is set it
// runs after every successful mutation, still under the lock.
type memStore struct {
	log logx.Logger
	now func() time.Time

	mu      sync.Mutex
	st      *memState
	persist func(*memState) error
	closed  bool
}

func newMemory(cfg Config, log logx.Logger) *memStore {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &memStore{log: log, now: now, st: newMemState()}
}

// write runs fn under the lock and persists on success.
func (s *memStore) write(fn func(st *memState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	if err := fn(s.st); err != nil {
		return err
	}
	if s.persist != nil {
		if err := s.persist(s.st); err != nil {
			return fmt.Errorf("storage: persist: %w", err)
		}
	}
	return nil
}

func (s *memStore) read(fn func(st *memState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	return fn(s.st)
}

func (s *memStore) Ping(ctx context.Context) error {
	return s.read(func(*memState) error { return ctx.Err() })
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// ---- groups ----

func (s *memStore) AddOrUpdateGroup(ctx context.Context, chatID int64, title string) error {
	return s.write(func(st *memState) error {
		if g, ok := st.Groups[chatID]; ok {
			g.Title = title
			g.IsActive = true
			return nil
		}
		st.Groups[chatID] = &Group{ChatID: chatID, Title: title, JoinedAt: s.now(), IsActive: true}
		return nil
	})
}

func (s *memStore) RemoveGroup(ctx context.Context, chatID int64) error {
	return s.write(func(st *memState) error {
		if g, ok := st.Groups[chatID]; ok {
			g.IsActive = false
		}
		return nil
	})
}

func (s *memStore) groups(activeOnly bool) ([]Group, error) {
	var out []Group
	err := s.read(func(st *memState) error {
		out = make([]Group, 0, len(st.Groups))
		for _, g := range st.Groups {
			if activeOnly && !g.IsActive {
				continue
			}
			out = append(out, *g)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, err
}

func (s *memStore) GetAllGroups(ctx context.Context) ([]Group, error) { return s.groups(true) }

func (s *memStore) GetAllGroupsIncludingInactive(ctx context.Context) ([]Group, error) {
	return s.groups(false)
}

func (s *memStore) GetGroup(ctx context.Context, chatID int64) (Group, error) {
	var out Group
	err := s.read(func(st *memState) error {
		g, ok := st.Groups[chatID]
		if !ok {
			return ErrNotFound
		}
		out = *g
		return nil
	})
	return out, err
}

// ---- joins ----

func (s *memStore) TrackUserJoin(ctx context.Context, userID, chatID int64) error {
	return s.write(func(st *memState) error {
		st.Joins = append(st.Joins, UserJoin{UserID: userID, ChatID: chatID, JoinedAt: s.now()})
		return nil
	})
}

func (s *memStore) IsNewUser(ctx context.Context, userID, chatID int64, window time.Duration) (bool, error) {
	cutoff := s.now().Add(-window)
	found := false
	err := s.read(func(st *memState) error {
		for i := len(st.Joins) - 1; i >= 0; i-- {
			j := st.Joins[i]
			if j.UserID == userID && j.ChatID == chatID && j.JoinedAt.After(cutoff) {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

// ---- statistics ----

func (s *memStore) bump(chatID int64, fn func(cs *ChatStatistics)) error {
	return s.write(func(st *memState) error {
		cs, ok := st.Stats[chatID]
		if !ok {
			cs = &ChatStatistics{ChatID: chatID}
			st.Stats[chatID] = cs
		}
		fn(cs)
		cs.LastUpdated = s.now()
		return nil
	})
}

func (s *memStore) IncrementDeletedJoin(ctx context.Context, chatID int64) error {
	return s.bump(chatID, func(cs *ChatStatistics) { cs.DeletedJoinCount++ })
}

func (s *memStore) IncrementDeletedLeave(ctx context.Context, chatID int64) error {
	return s.bump(chatID, func(cs *ChatStatistics) { cs.DeletedLeaveCount++ })
}

func (s *memStore) IncrementDeletedSpam(ctx context.Context, chatID int64) error {
	return s.bump(chatID, func(cs *ChatStatistics) { cs.DeletedSpamCount++ })
}

func (s *memStore) GetStatistics(ctx context.Context, chatID int64) (ChatStatistics, error) {
	out := ChatStatistics{ChatID: chatID}
	err := s.read(func(st *memState) error {
		if cs, ok := st.Stats[chatID]; ok {
			out = *cs
		}
		return nil
	})
	return out, err
}

func (s *memStore) GetAllStatistics(ctx context.Context) ([]ChatStatistics, error) {
	var out []ChatStatistics
	err := s.read(func(st *memState) error {
		out = make([]ChatStatistics, 0, len(st.Stats))
		for _, cs := range st.Stats {
			out = append(out, *cs)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, err
}

// ---- advertisements ----

func (s *memStore) AddAdvertisement(ctx context.Context, text string) (Advertisement, error) {
	return s.AddAdvertisementWithMedia(ctx, text, MediaNone, "")
}

func (s *memStore) AddAdvertisementWithMedia(ctx context.Context, text string, kind MediaKind, ref string) (Advertisement, error) {
	var out Advertisement
	err := s.write(func(st *memState) error {
		maxOrder := 0
		for _, a := range st.Ads {
			maxOrder = max(maxOrder, a.DisplayOrder)
		}
		st.NextAdID++
		ad := &Advertisement{
			ID:           st.NextAdID,
			Text:         text,
			MediaKind:    ParseMediaKind(string(kind)),
			MediaRef:     ref,
			IsActive:     true,
			CreatedAt:    s.now(),
			DisplayOrder: maxOrder + 1,
		}
		st.Ads[ad.ID] = ad
		out = *ad
		return nil
	})
	return out, err
}

func (s *memStore) GetAllAdvertisements(ctx context.Context) ([]Advertisement, error) {
	var out []Advertisement
	err := s.read(func(st *memState) error {
		out = make([]Advertisement, 0, len(st.Ads))
		for _, a := range st.Ads {
			out = append(out, *a)
		}
		return nil
	})
	SortByDisplayOrder(out)
	return out, err
}

func (s *memStore) GetAdvertisement(ctx context.Context, id int64) (Advertisement, error) {
	var out Advertisement
	err := s.read(func(st *memState) error {
		a, ok := st.Ads[id]
		if !ok {
			return ErrNotFound
		}
		out = *a
		return nil
	})
	return out, err
}

func (s *memStore) DeleteAdvertisement(ctx context.Context, id int64) error {
	return s.write(func(st *memState) error {
		if _, ok := st.Ads[id]; !ok {
			return ErrNotFound
		}
		delete(st.Ads, id)
		return nil
	})
}

func (s *memStore) ToggleAdvertisement(ctx context.Context, id int64) (bool, error) {
	var active bool
	err := s.write(func(st *memState) error {
		a, ok := st.Ads[id]
		if !ok {
			return ErrNotFound
		}
		a.IsActive = !a.IsActive
		active = a.IsActive
		return nil
	})
	return active, err
}

// ---- ad settings ----

func (s *memStore) GetGroupAdSettings(ctx context.Context, chatID int64) (GroupAdSettings, error) {
	var out GroupAdSettings
	err := s.write(func(st *memState) error {
		gs, ok := st.Settings[chatID]
		if !ok {
			d := DefaultAdSettings(chatID)
			gs = &d
			st.Settings[chatID] = gs
		}
		out = cloneSettings(*gs)
		return nil
	})
	return out, err
}

func (s *memStore) UpdateGroupAdSettings(ctx context.Context, gs GroupAdSettings) error {
	return s.write(func(st *memState) error {
		c := cloneSettings(gs)
		st.Settings[gs.ChatID] = &c
		return nil
	})
}

func (s *memStore) settingsLocked(st *memState, chatID int64) *GroupAdSettings {
	gs, ok := st.Settings[chatID]
	if !ok {
		d := DefaultAdSettings(chatID)
		gs = &d
		st.Settings[chatID] = gs
	}
	return gs
}

func (s *memStore) SetGroupAdInterval(ctx context.Context, chatID int64, minutes *int) error {
	return s.write(func(st *memState) error {
		gs := s.settingsLocked(st, chatID)
		if minutes == nil {
			gs.CustomIntervalMinutes = nil
		} else {
			m := *minutes
			gs.CustomIntervalMinutes = &m
		}
		return nil
	})
}

func (s *memStore) ToggleGroupAds(ctx context.Context, chatID int64) (bool, error) {
	var enabled bool
	err := s.write(func(st *memState) error {
		gs := s.settingsLocked(st, chatID)
		gs.AdsEnabled = !gs.AdsEnabled
		enabled = gs.AdsEnabled
		return nil
	})
	return enabled, err
}

func (s *memStore) UpdateLastAdSent(ctx context.Context, chatID int64, index int, at time.Time) error {
	return s.write(func(st *memState) error {
		gs := s.settingsLocked(st, chatID)
		gs.LastAdIndex = index
		t := at
		gs.LastAdSentAt = &t
		return nil
	})
}

func cloneSettings(in GroupAdSettings) GroupAdSettings {
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

func (s *memStore) IncrementAdSent(ctx context.Context, chatID, adID int64, at time.Time) error {
	return s.write(func(st *memState) error {
		k := counterKey(chatID, adID)
		c, ok := st.Counters[k]
		if !ok {
			c = &AdSendCounter{ChatID: chatID, AdID: adID}
			st.Counters[k] = c
		}
		c.TotalSent++
		c.LastSentAt = at
		return nil
	})
}

func (s *memStore) counters(match func(c *AdSendCounter) bool) ([]AdSendCounter, error) {
	var out []AdSendCounter
	err := s.read(func(st *memState) error {
		for _, c := range st.Counters {
			if match(c) {
				out = append(out, *c)
			}
		}
		return nil
	})
	sortCounters(out)
	return out, err
}

func (s *memStore) GetAdStatistics(ctx context.Context) ([]AdSendCounter, error) {
	return s.counters(func(*AdSendCounter) bool { return true })
}

func (s *memStore) GetAdStatisticsForChat(ctx context.Context, chatID int64) ([]AdSendCounter, error) {
	return s.counters(func(c *AdSendCounter) bool { return c.ChatID == chatID })
}

// SortByDisplayOrder orders ads for rotation; ties fall back to id.
func SortByDisplayOrder(ads []Advertisement) {
	sort.SliceStable(ads, func(i, j int) bool {
		if ads[i].DisplayOrder != ads[j].DisplayOrder {
			return ads[i].DisplayOrder < ads[j].DisplayOrder
		}
		return ads[i].ID < ads[j].ID
	})
}

// sortCounters orders by total sent descending, then chat and ad id.
func sortCounters(cs []AdSendCounter) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].TotalSent != cs[j].TotalSent {
			return cs[i].TotalSent > cs[j].TotalSent
		}
		if cs[i].ChatID != cs[j].ChatID {
			return cs[i].ChatID < cs[j].ChatID
		}
		return cs[i].AdID < cs[j].AdID
	})
}
