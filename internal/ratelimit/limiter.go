// Package ratelimit keeps the bot inside per-user, per-chat and global
// outbound throughput ceilings.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	logx "adbot/pkg/logx"
)

// ErrNoSlot is returned when no API slot frees up before the acquire timeout.
var ErrNoSlot = errors.New("ratelimit: no api slot available")

type Config struct {
	UserPerWindow  int
	ChatPerWindow  int
	Window         time.Duration
	APISlots       int
	SlotHold       time.Duration
	AcquireTimeout time.Duration
	SweepInterval  time.Duration
}

func (c Config) withDefaults() Config {
	if c.UserPerWindow <= 0 {
		c.UserPerWindow = 20
	}
	if c.ChatPerWindow <= 0 {
		c.ChatPerWindow = 30
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.APISlots <= 0 {
		c.APISlots = 30
	}
	if c.SlotHold <= 0 {
		c.SlotHold = time.Second
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	return c
}

type Stats struct {
	ActiveUsers    int    `json:"active_users"`
	ActiveChats    int    `json:"active_chats"`
	AvailableSlots int    `json:"available_slots"`
	TotalBlocked   uint64 `json:"total_blocked"`
}

type Option func(*Limiter)

// WithClock overrides time.Now for window bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

// Limiter is safe for concurrent use.
type Limiter struct {
	mu  sync.RWMutex
	cfg Config

	users windowTable
	chats windowTable
	slots *slotGate

	blocked atomic.Uint64
	now     func() time.Time
	log     logx.Logger
}

func New(cfg Config, opts ...Option) *Limiter {
	cfg = cfg.withDefaults()
	l := &Limiter{
		cfg:   cfg,
		users: windowTable{m: map[int64]*window{}},
		chats: windowTable{m: map[int64]*window{}},
		slots: newSlotGate(cfg.APISlots),
		now:   time.Now,
		log:   logx.Nop(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Limiter) config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config { return l.config() }

// Apply swaps window capacities and timings. The slot count is fixed for the
// life of the limiter.
func (l *Limiter) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	l.mu.Lock()
	slots := l.cfg.APISlots
	l.cfg = cfg
	l.cfg.APISlots = slots
	l.mu.Unlock()
	if cfg.APISlots != slots {
		l.log.Warn("rate limiter api slot count change ignored until restart",
			logx.Int("current", slots), logx.Int("requested", cfg.APISlots))
	}
}

// IsUserAllowed counts a request from userID and reports whether it fits in
// the user's current window.
func (l *Limiter) IsUserAllowed(userID int64) bool {
	cfg := l.config()
	ok := l.users.hit(userID, cfg.UserPerWindow, cfg.Window, l.now())
	if !ok {
		l.blocked.Add(1)
		l.log.Debug("user rate limit exceeded", logx.Int64("user_id", userID))
	}
	return ok
}

// IsChatAllowed is IsUserAllowed for chats, with its own table and capacity.
func (l *Limiter) IsChatAllowed(chatID int64) bool {
	cfg := l.config()
	ok := l.chats.hit(chatID, cfg.ChatPerWindow, cfg.Window, l.now())
	if !ok {
		l.blocked.Add(1)
		l.log.Debug("chat rate limit exceeded", logx.Int64("chat_id", chatID))
	}
	return ok
}

// AcquireAPISlot waits up to timeout for a slot. A granted slot is returned
// to the pool automatically after the configured hold, so the gate admits at
// most APISlots calls per hold period.
func (l *Limiter) AcquireAPISlot(ctx context.Context, timeout time.Duration) error {
	if err := l.slots.acquire(ctx, timeout); err != nil {
		return err
	}
	time.AfterFunc(l.config().SlotHold, l.slots.release)
	return nil
}

// Acquire is AcquireAPISlot with the configured timeout.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.AcquireAPISlot(ctx, l.config().AcquireTimeout)
}

// ReleaseAPISlot returns a slot early. Releasing into a full pool is a no-op.
func (l *Limiter) ReleaseAPISlot() { l.slots.release() }

// Sweep drops windows that already ended.
func (l *Limiter) Sweep() (users, chats int) {
	now := l.now()
	return l.users.sweep(now), l.chats.sweep(now)
}

// Run sweeps on the configured interval until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	t := time.NewTicker(l.config().SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			u, c := l.Sweep()
			if u+c > 0 {
				l.log.Debug("rate limiter swept", logx.Int("users", u), logx.Int("chats", c))
			}
		}
	}
}

func (l *Limiter) Stats() Stats {
	return Stats{
		ActiveUsers:    l.users.len(),
		ActiveChats:    l.chats.len(),
		AvailableSlots: l.slots.available(),
		TotalBlocked:   l.blocked.Load(),
	}
}
