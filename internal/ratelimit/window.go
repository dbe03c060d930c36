package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int
	end   time.Time
}

// windowTable is a set of fixed windows keyed by id.
type windowTable struct {
	mu sync.Mutex
	m  map[int64]*window
}

// hit counts one request. The count is not capped at capacity; only the
// decision is.
func (t *windowTable) hit(key int64, capacity int, span time.Duration, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.m[key]
	if w == nil || now.After(w.end) {
		t.m[key] = &window{count: 1, end: now.Add(span)}
		return capacity >= 1
	}
	w.count++
	return w.count <= capacity
}

func (t *windowTable) sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, w := range t.m {
		if now.After(w.end) {
			delete(t.m, k)
			n++
		}
	}
	return n
}

func (t *windowTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}

// slotGate is a channel semaphore pre-filled with tokens.
type slotGate struct {
	ch chan struct{}
}

func newSlotGate(limit int) *slotGate {
	if limit <= 0 {
		limit = 1
	}
	g := &slotGate{ch: make(chan struct{}, limit)}
	for i := 0; i < limit; i++ {
		g.ch <- struct{}{}
	}
	return g
}

func (g *slotGate) acquire(ctx context.Context, timeout time.Duration) error {
	select {
	case <-g.ch:
		return nil
	default:
	}
	if timeout <= 0 {
		return ErrNoSlot
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return ErrNoSlot
	}
}

// release never blocks.
func (g *slotGate) release() {
	select {
	case g.ch <- struct{}{}:
	default:
	}
}

func (g *slotGate) available() int { return len(g.ch) }
