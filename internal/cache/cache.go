// Package cache is a read-through cache with explicit invalidation.
//
// Each TTL class is an expirable LRU; hits slide the expiry forward. A miss
// runs the loader once per key (singleflight) and stores the result unless
// the key was invalidated while the load was in flight. Loader errors are
// returned and never cached.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

type TTLClass int

const (
	Short TTLClass = iota
	Default
	Long
)

func (c TTLClass) String() string {
	switch c {
	case Short:
		return "short"
	case Long:
		return "long"
	default:
		return "default"
	}
}

type Config struct {
	Short    time.Duration
	Default  time.Duration
	Long     time.Duration
	Capacity int // per class
	// LoadTimeout bounds a shared load once it no longer follows the
	// caller's cancellation.
	LoadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Short <= 0 {
		c.Short = time.Minute
	}
	if c.Default <= 0 {
		c.Default = 5 * time.Minute
	}
	if c.Long <= 0 {
		c.Long = time.Hour
	}
	if c.Capacity <= 0 {
		c.Capacity = 4096
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 30 * time.Second
	}
	return c
}

type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	LoadErrors    uint64 `json:"load_errors"`
	Invalidations uint64 `json:"invalidations"`
	Entries       int    `json:"entries"`
}

type Cache struct {
	cfg   Config
	tiers [3]*expirable.LRU[string, any]
	sf    singleflight.Group

	// mu orders hits (get + slide) and stores against Invalidate so an
	// invalidated entry is never written back.
	mu  sync.Mutex
	gen map[string]uint64

	hits, misses, loadErrs, invalidations atomic.Uint64
}

func New(cfg Config) *Cache {
	cfg = cfg.withDefaults()
	c := &Cache{cfg: cfg, gen: map[string]uint64{}}
	c.tiers[Short] = expirable.NewLRU[string, any](cfg.Capacity, nil, cfg.Short)
	c.tiers[Default] = expirable.NewLRU[string, any](cfg.Capacity, nil, cfg.Default)
	c.tiers[Long] = expirable.NewLRU[string, any](cfg.Capacity, nil, cfg.Long)
	return c
}

func (c *Cache) tier(class TTLClass) *expirable.LRU[string, any] {
	if class < Short || class > Long {
		class = Default
	}
	return c.tiers[class]
}

// lookup returns a cached value and slides its expiry.
func (c *Cache) lookup(key string, class TTLClass) (any, bool) {
	t := c.tier(class)
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := t.Get(key)
	if ok {
		t.Add(key, v)
	}
	return v, ok
}

func (c *Cache) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[key]
}

// storeIfCurrent stores v unless key was invalidated after gen was read.
func (c *Cache) storeIfCurrent(key string, class TTLClass, gen uint64, v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[key] != gen {
		return false
	}
	c.tier(class).Add(key, v)
	return true
}

// Set stores v directly.
func (c *Cache) Set(key string, class TTLClass, v any) {
	c.mu.Lock()
	c.tier(class).Add(key, v)
	c.mu.Unlock()
}

// Invalidate removes each key from every class and cancels the effect of
// loads already in flight for it.
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	for _, k := range keys {
		c.gen[k]++
		for _, t := range c.tiers {
			t.Remove(k)
		}
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.sf.Forget(k)
	}
	c.invalidations.Add(uint64(len(keys)))
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	for k := range c.gen {
		c.gen[k]++
	}
	for _, t := range c.tiers {
		for _, k := range t.Keys() {
			c.gen[k]++
		}
		t.Purge()
	}
	c.mu.Unlock()
}

func (c *Cache) Stats() Stats {
	n := 0
	for _, t := range c.tiers {
		n += t.Len()
	}
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		LoadErrors:    c.loadErrs.Load(),
		Invalidations: c.invalidations.Load(),
		Entries:       n,
	}
}

// GetOrLoad returns the cached value for key or loads, stores and returns it.
//
// Concurrent misses share one load. The load runs detached from any single
// caller's cancellation, bounded by LoadTimeout; a cancelled caller stops
// waiting without failing the others.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, class TTLClass, load func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := c.lookup(key, class); ok {
		if typed, ok := v.(T); ok {
			c.hits.Add(1)
			return typed, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	c.misses.Add(1)

	ch := c.sf.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.LoadTimeout)
		defer cancel()
		gen := c.generation(key)
		val, err := load(lctx)
		if err != nil {
			c.loadErrs.Add(1)
			return val, err
		}
		c.storeIfCurrent(key, class, gen, val)
		return val, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res = <-ch:
	}
	v, err := res.Val, res.Err
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: key %q holds %T", key, v)
	}
	return typed, nil
}
