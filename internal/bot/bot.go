package bot

import (
	"context"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"adbot/internal/ads"
	"adbot/internal/health"
	"adbot/internal/metrics"
	"adbot/internal/moderation"
	"adbot/internal/resilience"
	"adbot/internal/runtime/supervisor"
	"adbot/internal/storage"
	"adbot/internal/transport"
	logx "adbot/pkg/logx"
)

type Config struct {
	OwnerUserID         int64
	AutoDeleteJoinLeave bool
	SpamDetection       bool
	Statistics          bool
	// Workers defaults to 4.
	Workers int
	// CommandTimeout defaults to 30s.
	CommandTimeout time.Duration
	// NoticeInterval is the minimum gap between rate-limit notices to one
	// user; defaults to 1m.
	NoticeInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
	if c.NoticeInterval <= 0 {
		c.NoticeInterval = time.Minute
	}
	return c
}

// Limiter admits commands and hands out API slots.
type Limiter interface {
	IsUserAllowed(userID int64) bool
	IsChatAllowed(chatID int64) bool
	Acquire(ctx context.Context) error
}

type SpamChecker interface {
	Check(ctx context.Context, text string, userID, chatID int64) (bool, moderation.Reason)
}

type AdRunner interface {
	SendNow(ctx context.Context, chatID int64) (storage.Advertisement, error)
	LastTick() ads.TickReport
}

type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

type DurationRecorder interface {
	RecordDuration(op string, d time.Duration)
}

type Deps struct {
	Client  transport.Client
	Store   storage.Store
	Limiter Limiter
	Exec    *resilience.Executor
	Ads     AdRunner
	Spam    SpamChecker
	Health  HealthChecker
	Metrics *metrics.Service
	Log     logx.Logger
	Now     func() time.Time
}

type Bot struct {
	client  transport.Client
	store   storage.Store
	limiter Limiter
	exec    *resilience.Executor
	ads     AdRunner
	spam    SpamChecker
	health  HealthChecker
	metrics *metrics.Service
	log     logx.Logger
	now     func() time.Time

	cfg  atomic.Pointer[Config]
	self atomic.Pointer[transport.User]

	registry map[string]Command
	cmds     []Command
	notices  *lru.Cache[int64, *rate.Limiter]
}

func New(cfg Config, d Deps) *Bot {
	b := &Bot{
		client:  d.Client,
		store:   d.Store,
		limiter: d.Limiter,
		exec:    d.Exec,
		ads:     d.Ads,
		spam:    d.Spam,
		health:  d.Health,
		metrics: d.Metrics,
		log:     d.Log,
		now:     d.Now,
	}
	if b.metrics == nil {
		b.metrics = metrics.New(logx.Nop())
	}
	if b.exec == nil {
		b.exec = resilience.New(resilience.Config{})
	}
	if b.now == nil {
		b.now = time.Now
	}
	b.notices, _ = lru.New[int64, *rate.Limiter](4096)
	b.Apply(cfg)
	b.cmds = b.commands()
	b.registry = buildRegistry(b.cmds)
	return b
}

// Apply swaps the live configuration.
func (b *Bot) Apply(cfg Config) {
	c := cfg.withDefaults()
	b.cfg.Store(&c)
}

func (b *Bot) config() Config { return *b.cfg.Load() }

func (b *Bot) username() string {
	if u := b.self.Load(); u != nil {
		return u.Username
	}
	return ""
}

// Run consumes updates with a pool of workers until ctx is cancelled or
// updates is closed.
func (b *Bot) Run(ctx context.Context, updates <-chan transport.Update) error {
	b.loadSelf(ctx)

	workers := b.config().Workers
	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(b.log.With(logx.String("comp", "bot.dispatch"))),
		supervisor.WithCancelOnError(false),
	)
	sup.Go0("bot.menu", b.syncMenu)
	for i := 0; i < workers; i++ {
		sup.GoRestart("bot.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case up, ok := <-updates:
					if !ok {
						return nil
					}
					b.HandleUpdate(c, up)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}
	b.log.Info("update dispatcher started", logx.Int("workers", workers))

	err := sup.Wait(context.Background())
	b.log.Info("update dispatcher stopped")
	return err
}

func (b *Bot) loadSelf(ctx context.Context) {
	u, err := resilience.RetryValue(ctx, b.exec, "telegram.self", b.client.GetSelf)
	if err != nil {
		b.log.Warn("get bot identity failed", logx.Err(err))
		return
	}
	b.self.Store(&u)
	b.log.Info("bot identity", logx.Int64("id", u.ID), logx.String("username", u.Username))
}

func (b *Bot) syncMenu(ctx context.Context) {
	up, ok := b.client.(transport.CommandMenuUpdater)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := up.UpdateMenuCommands(cctx, menuCommands(b.cmds)); err != nil {
		b.log.Warn("update command menu failed", logx.Err(err))
	}
}

// HandleUpdate processes one update. Panics are logged and swallowed.
func (b *Bot) HandleUpdate(ctx context.Context, up transport.Update) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b.metrics.RecordError("panic")
			b.log.Error("panic while handling update",
				logx.String("kind", string(up.Kind)),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()

	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			b.handleMessage(ctx, up.Message)
		}
	case transport.UpdateMyChatMember:
		if up.Member != nil {
			b.handleMyMember(ctx, up.Member)
		}
	case transport.UpdateChatMember:
		if up.Member != nil {
			b.handleChatMember(ctx, up.Member)
		}
	}
	b.metrics.RecordDuration("update."+string(up.Kind), time.Since(start))
}
