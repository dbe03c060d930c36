package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrLoadCachesValue(t *testing.T) {
	t.Parallel()
	c := New(Config{})
	var loads atomic.Int32
	load := func(context.Context) (int, error) {
		loads.Add(1)
		return 42, nil
	}
	for i := 0; i < 3; i++ {
		v, err := GetOrLoad(context.Background(), c, "k", Default, load)
		if err != nil || v != 42 {
			t.Fatalf("GetOrLoad() = %v, %v, want 42", v, err)
		}
	}
	if got := loads.Load(); got != 1 {
		t.Fatalf("loads = %d, want 1", got)
	}
	st := c.Stats()
	if st.Hits != 2 || st.Misses != 1 || st.Entries != 1 {
		t.Fatalf("Stats() = %+v", st)
	}
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	t.Parallel()
	c := New(Config{})
	boom := errors.New("boom")
	calls := 0
	load := func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", boom
		}
		return "ok", nil
	}
	if _, err := GetOrLoad(context.Background(), c, "k", Short, load); !errors.Is(err, boom) {
		t.Fatalf("first GetOrLoad() error = %v, want %v", err, boom)
	}
	v, err := GetOrLoad(context.Background(), c, "k", Short, load)
	if err != nil || v != "ok" {
		t.Fatalf("second GetOrLoad() = %q, %v, want ok", v, err)
	}
	if c.Stats().LoadErrors != 1 {
		t.Fatalf("LoadErrors = %d, want 1", c.Stats().LoadErrors)
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	t.Parallel()
	c := New(Config{})
	n := 0
	load := func(context.Context) (int, error) { n++; return n, nil }

	v1, _ := GetOrLoad(context.Background(), c, "a", Long, load)
	c.Invalidate("a")
	v2, _ := GetOrLoad(context.Background(), c, "a", Long, load)
	if v1 != 1 || v2 != 2 {
		t.Fatalf("values = %d, %d, want 1, 2", v1, v2)
	}
}

func TestInvalidateDuringLoadDropsResult(t *testing.T) {
	t.Parallel()
	c := New(Config{})
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan int)
	go func() {
		v, _ := GetOrLoad(context.Background(), c, "k", Default, func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		done <- v
	}()
	<-started
	c.Invalidate("k")
	close(release)
	if v := <-done; v != 1 {
		t.Fatalf("in-flight caller got %d, want 1", v)
	}

	v, _ := GetOrLoad(context.Background(), c, "k", Default, func(context.Context) (int, error) { return 2, nil })
	if v != 2 {
		t.Fatalf("after invalidation got %d, want fresh 2", v)
	}
}

func TestSingleflightDeduplicatesConcurrentLoads(t *testing.T) {
	t.Parallel()
	c := New(Config{})
	var loads atomic.Int32
	gate := make(chan struct{})
	load := func(context.Context) (int, error) {
		loads.Add(1)
		<-gate
		return 7, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = GetOrLoad(context.Background(), c, "k", Default, load)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	if got := loads.Load(); got != 1 {
		t.Fatalf("loads = %d, want 1", got)
	}
}

func TestCancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	t.Parallel()
	c := New(Config{})
	started := make(chan struct{})
	gate := make(chan struct{})
	load := func(ctx context.Context) (int, error) {
		close(started)
		select {
		case <-gate:
			return 7, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := GetOrLoad(firstCtx, c, "k", Default, load)
		firstErr <- err
	}()
	<-started

	second := make(chan int, 1)
	go func() {
		v, err := GetOrLoad(context.Background(), c, "k", Default, load)
		if err != nil {
			v = -1
		}
		second <- v
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}
	close(gate)
	if v := <-second; v != 7 {
		t.Fatalf("second caller got %d, want 7", v)
	}
	if v, err := GetOrLoad(context.Background(), c, "k", Default, load); err != nil || v != 7 {
		t.Fatalf("cached value = %d, %v, want 7", v, err)
	}
}

func TestEntriesExpire(t *testing.T) {
	t.Parallel()
	c := New(Config{Short: 30 * time.Millisecond})
	n := 0
	load := func(context.Context) (int, error) { n++; return n, nil }

	_, _ = GetOrLoad(context.Background(), c, "k", Short, load)
	time.Sleep(80 * time.Millisecond)
	v, _ := GetOrLoad(context.Background(), c, "k", Short, load)
	if v != 2 {
		t.Fatalf("after expiry got %d, want reload", v)
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()
	tests := []struct {
		got, want string
	}{
		{GroupKey(-100), "cache_group_settings_-100"},
		{AdSettingsKey(-100), "cache_group_settings_ad_-100"},
		{AdKey(5), "ad_5"},
		{StatsKey(-1), "cache_stats_-1"},
		{AdStatsKey(9), "ad_stats_9"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("key = %q, want %q", tt.got, tt.want)
		}
	}
}
