package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "adbot/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// backends opens every driver that can run locally. Postgres joins when
// ADBOT_TEST_POSTGRES_DSN points at a scratch database.
func backends(t *testing.T) map[string]func(clock *fakeClock) Store {
	t.Helper()
	out := map[string]func(clock *fakeClock) Store{
		"memory": func(c *fakeClock) Store {
			return open(t, Config{Driver: "memory", Now: c.Now})
		},
		"file": func(c *fakeClock) Store {
			return open(t, Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.json"), Now: c.Now})
		},
		"sqlite": func(c *fakeClock) Store {
			return open(t, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "adbot.db"), Now: c.Now})
		},
	}
	if dsn := os.Getenv("ADBOT_TEST_POSTGRES_DSN"); dsn != "" {
		out["postgres"] = func(c *fakeClock) Store {
			st := open(t, Config{Driver: "postgres", DSN: dsn, Now: c.Now})
			if ss, ok := st.(*sqlStore); ok {
				_, err := ss.db.Exec(`TRUNCATE chat_groups, user_joins, chat_statistics, advertisements, group_ad_settings, ad_send_counters RESTART IDENTITY`)
				if err != nil {
					t.Fatalf("truncate: %v", err)
				}
			}
			return st
		}
	}
	return out
}

func open(t *testing.T, cfg Config) Store {
	t.Helper()
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s) error = %v", cfg.Driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestGroupsSoftDelete(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := mk(newClock())

			if err := st.AddOrUpdateGroup(ctx, -100, "Alpha"); err != nil {
				t.Fatalf("AddOrUpdateGroup() error = %v", err)
			}
			if err := st.AddOrUpdateGroup(ctx, -200, "Beta"); err != nil {
				t.Fatalf("AddOrUpdateGroup() error = %v", err)
			}
			for i := 0; i < 2; i++ {
				if err := st.RemoveGroup(ctx, -100); err != nil {
					t.Fatalf("RemoveGroup() #%d error = %v", i, err)
				}
			}
			if err := st.RemoveGroup(ctx, -999); err != nil {
				t.Fatalf("RemoveGroup(unknown) error = %v", err)
			}

			active, err := st.GetAllGroups(ctx)
			if err != nil || len(active) != 1 || active[0].ChatID != -200 {
				t.Fatalf("GetAllGroups() = %+v, %v", active, err)
			}
			all, err := st.GetAllGroupsIncludingInactive(ctx)
			if err != nil || len(all) != 2 {
				t.Fatalf("GetAllGroupsIncludingInactive() = %+v, %v", all, err)
			}
			g, err := st.GetGroup(ctx, -100)
			if err != nil || g.IsActive {
				t.Fatalf("GetGroup(-100) = %+v, %v, want inactive", g, err)
			}

			if err := st.AddOrUpdateGroup(ctx, -100, "Alpha 2"); err != nil {
				t.Fatalf("AddOrUpdateGroup() error = %v", err)
			}
			g, _ = st.GetGroup(ctx, -100)
			if !g.IsActive || g.Title != "Alpha 2" {
				t.Fatalf("GetGroup(-100) = %+v, want reactivated with new title", g)
			}
			if _, err := st.GetGroup(ctx, 1); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetGroup(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestIsNewUserWindow(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newClock()
			st := mk(clock)

			if err := st.TrackUserJoin(ctx, 7, -100); err != nil {
				t.Fatalf("TrackUserJoin() error = %v", err)
			}
			clock.Advance(30 * time.Minute)
			if ok, err := st.IsNewUser(ctx, 7, -100, time.Hour); err != nil || !ok {
				t.Fatalf("IsNewUser(within) = %v, %v, want true", ok, err)
			}
			if ok, _ := st.IsNewUser(ctx, 7, -200, time.Hour); ok {
				t.Fatalf("IsNewUser(other chat) = true, want false")
			}
			clock.Advance(time.Hour)
			if ok, _ := st.IsNewUser(ctx, 7, -100, time.Hour); ok {
				t.Fatalf("IsNewUser(after window) = true, want false")
			}
		})
	}
}

func TestStatisticsCounters(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := mk(newClock())

			empty, err := st.GetStatistics(ctx, -100)
			if err != nil || empty.ChatID != -100 || empty.DeletedJoinCount != 0 {
				t.Fatalf("GetStatistics(empty) = %+v, %v", empty, err)
			}
			_ = st.IncrementDeletedJoin(ctx, -100)
			_ = st.IncrementDeletedJoin(ctx, -100)
			_ = st.IncrementDeletedLeave(ctx, -100)
			_ = st.IncrementDeletedSpam(ctx, -200)

			got, err := st.GetStatistics(ctx, -100)
			if err != nil {
				t.Fatalf("GetStatistics() error = %v", err)
			}
			if got.DeletedJoinCount != 2 || got.DeletedLeaveCount != 1 || got.DeletedSpamCount != 0 {
				t.Fatalf("GetStatistics() = %+v", got)
			}
			all, _ := st.GetAllStatistics(ctx)
			if len(all) != 2 {
				t.Fatalf("GetAllStatistics() len = %d, want 2", len(all))
			}
		})
	}
}

func TestAdvertisementLifecycle(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := mk(newClock())

			a1, err := st.AddAdvertisement(ctx, "first")
			if err != nil {
				t.Fatalf("AddAdvertisement() error = %v", err)
			}
			a2, _ := st.AddAdvertisementWithMedia(ctx, "second", MediaPhoto, "file-1")
			if a2.DisplayOrder != a1.DisplayOrder+1 || a2.ID == a1.ID {
				t.Fatalf("orders = %d, %d; ids = %d, %d", a1.DisplayOrder, a2.DisplayOrder, a1.ID, a2.ID)
			}
			if err := st.DeleteAdvertisement(ctx, a2.ID); err != nil {
				t.Fatalf("DeleteAdvertisement() error = %v", err)
			}
			a3, _ := st.AddAdvertisement(ctx, "third")
			if a3.DisplayOrder <= a1.DisplayOrder {
				t.Fatalf("third order = %d, want > %d", a3.DisplayOrder, a1.DisplayOrder)
			}

			active, err := st.ToggleAdvertisement(ctx, a1.ID)
			if err != nil || active {
				t.Fatalf("ToggleAdvertisement() = %v, %v, want false", active, err)
			}
			got, _ := st.GetAdvertisement(ctx, a1.ID)
			if got.IsActive || got.Text != "first" || got.MediaKind != MediaNone {
				t.Fatalf("GetAdvertisement() = %+v", got)
			}

			all, _ := st.GetAllAdvertisements(ctx)
			if len(all) != 2 || all[0].ID != a1.ID || all[1].ID != a3.ID {
				t.Fatalf("GetAllAdvertisements() = %+v", all)
			}
			if err := st.DeleteAdvertisement(ctx, 9999); !errors.Is(err, ErrNotFound) {
				t.Fatalf("DeleteAdvertisement(missing) = %v, want ErrNotFound", err)
			}
			if _, err := st.ToggleAdvertisement(ctx, 9999); !errors.Is(err, ErrNotFound) {
				t.Fatalf("ToggleAdvertisement(missing) = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestGroupAdSettings(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := mk(newClock())

			s, err := st.GetGroupAdSettings(ctx, -100)
			if err != nil {
				t.Fatalf("GetGroupAdSettings() error = %v", err)
			}
			if !s.AdsEnabled || s.LastAdIndex != -1 || s.CustomIntervalMinutes != nil || s.LastAdSentAt != nil {
				t.Fatalf("defaults = %+v", s)
			}

			minutes := 90
			if err := st.SetGroupAdInterval(ctx, -100, &minutes); err != nil {
				t.Fatalf("SetGroupAdInterval() error = %v", err)
			}
			at := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
			if err := st.UpdateLastAdSent(ctx, -100, 2, at); err != nil {
				t.Fatalf("UpdateLastAdSent() error = %v", err)
			}
			s, _ = st.GetGroupAdSettings(ctx, -100)
			if s.CustomIntervalMinutes == nil || *s.CustomIntervalMinutes != 90 {
				t.Fatalf("CustomIntervalMinutes = %v, want 90", s.CustomIntervalMinutes)
			}
			if s.LastAdIndex != 2 || s.LastAdSentAt == nil || !s.LastAdSentAt.Equal(at) {
				t.Fatalf("last sent = %d @ %v", s.LastAdIndex, s.LastAdSentAt)
			}

			s.AdsEnabled = false
			if err := st.UpdateGroupAdSettings(ctx, s); err != nil {
				t.Fatalf("UpdateGroupAdSettings() error = %v", err)
			}
			if err := st.SetGroupAdInterval(ctx, -100, nil); err != nil {
				t.Fatalf("SetGroupAdInterval(nil) error = %v", err)
			}
			s, _ = st.GetGroupAdSettings(ctx, -100)
			if s.AdsEnabled || s.CustomIntervalMinutes != nil || s.LastAdIndex != 2 {
				t.Fatalf("after update = %+v", s)
			}
		})
	}
}

func TestToggleGroupAdsKeepsRotation(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := mk(newClock())

			at := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
			if err := st.UpdateLastAdSent(ctx, -100, 1, at); err != nil {
				t.Fatalf("UpdateLastAdSent() error = %v", err)
			}
			enabled, err := st.ToggleGroupAds(ctx, -100)
			if err != nil || enabled {
				t.Fatalf("ToggleGroupAds() = %v, %v, want false", enabled, err)
			}
			s, _ := st.GetGroupAdSettings(ctx, -100)
			if s.AdsEnabled || s.LastAdIndex != 1 || s.LastAdSentAt == nil || !s.LastAdSentAt.Equal(at) {
				t.Fatalf("after toggle = %+v", s)
			}
			if enabled, _ := st.ToggleGroupAds(ctx, -100); !enabled {
				t.Fatalf("second ToggleGroupAds() = false, want true")
			}

			// Unknown chats start from defaults.
			if enabled, err := st.ToggleGroupAds(ctx, -200); err != nil || enabled {
				t.Fatalf("ToggleGroupAds(new chat) = %v, %v, want false", enabled, err)
			}
		})
	}
}

func TestConcurrentAddsKeepOrderUnique(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := mk(newClock())

			const n = 8
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := st.AddAdvertisement(ctx, "ad"); err != nil {
						errs <- err
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("AddAdvertisement() error = %v", err)
			}

			all, _ := st.GetAllAdvertisements(ctx)
			if len(all) != n {
				t.Fatalf("len(ads) = %d, want %d", len(all), n)
			}
			for i := 1; i < len(all); i++ {
				if all[i].DisplayOrder <= all[i-1].DisplayOrder {
					t.Fatalf("orders not strictly increasing: %d then %d", all[i-1].DisplayOrder, all[i].DisplayOrder)
				}
			}
		})
	}
}

func TestSQLiteDisplayOrderIsUnique(t *testing.T) {
	st := open(t, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "adbot.db"), Now: newClock().Now})
	ss := st.(*sqlStore)
	ctx := context.Background()
	ad, err := st.AddAdvertisement(ctx, "first")
	if err != nil {
		t.Fatalf("AddAdvertisement() error = %v", err)
	}
	_, err = ss.db.ExecContext(ctx,
		`INSERT INTO advertisements(text, media_kind, media_ref, is_active, created_at, display_order) VALUES(?, 'none', '', 1, 0, ?)`,
		"dup", ad.DisplayOrder)
	if err == nil {
		t.Fatalf("duplicate display_order insert succeeded")
	}
	if !sqliteConflict(err) {
		t.Fatalf("sqliteConflict(%v) = false, want true", err)
	}
	if sqliteConflict(errors.New("other")) {
		t.Fatalf("sqliteConflict(plain error) = true")
	}
}

func TestAdSendCounters(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := mk(newClock())
			t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

			_ = st.IncrementAdSent(ctx, -100, 1, t0)
			_ = st.IncrementAdSent(ctx, -100, 1, t0.Add(time.Hour))
			_ = st.IncrementAdSent(ctx, -200, 1, t0)
			_ = st.IncrementAdSent(ctx, -100, 2, t0)

			all, err := st.GetAdStatistics(ctx)
			if err != nil || len(all) != 3 {
				t.Fatalf("GetAdStatistics() = %+v, %v", all, err)
			}
			if all[0].ChatID != -100 || all[0].AdID != 1 || all[0].TotalSent != 2 || !all[0].LastSentAt.Equal(t0.Add(time.Hour)) {
				t.Fatalf("top counter = %+v", all[0])
			}
			forChat, _ := st.GetAdStatisticsForChat(ctx, -200)
			if len(forChat) != 1 || forChat[0].TotalSent != 1 {
				t.Fatalf("GetAdStatisticsForChat(-200) = %+v", forChat)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_ = st.AddOrUpdateGroup(ctx, -100, "Alpha")
	ad, _ := st.AddAdvertisement(ctx, "hello")
	_ = st.UpdateLastAdSent(ctx, -100, 0, time.Now())
	_ = st.Close()

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer st2.Close()
	if g, err := st2.GetGroup(ctx, -100); err != nil || g.Title != "Alpha" {
		t.Fatalf("GetGroup() after reopen = %+v, %v", g, err)
	}
	next, _ := st2.AddAdvertisement(ctx, "world")
	if next.ID != ad.ID+1 || next.DisplayOrder != ad.DisplayOrder+1 {
		t.Fatalf("next ad = %+v, want id %d", next, ad.ID+1)
	}
	s, _ := st2.GetGroupAdSettings(ctx, -100)
	if s.LastAdIndex != 0 || s.LastAdSentAt == nil {
		t.Fatalf("settings after reopen = %+v", s)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatalf("Open(mongo) error = nil, want error")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatalf("Open(sqlite, no path) error = nil, want error")
	}
}
