package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adbot/internal/ads"
	"adbot/internal/bot"
	"adbot/internal/cache"
	"adbot/internal/config"
	"adbot/internal/eventbus"
	"adbot/internal/health"
	"adbot/internal/metrics"
	"adbot/internal/moderation"
	"adbot/internal/ratelimit"
	"adbot/internal/resilience"
	"adbot/internal/runtime/supervisor"
	"adbot/internal/storage"
	"adbot/internal/task/scheduler"
	"adbot/internal/transport"
	telegram "adbot/internal/transport/telegram/adapter"
	logx "adbot/pkg/logx"
	"adbot/pkg/systemd"
)

const (
	jobAdsTick       = "ads.tick"
	jobMetricsReport = "metrics.report"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store   storage.Store
	cache   *cache.Cache
	adapter *telegram.Adapter

	limiter *ratelimit.Limiter
	exec    *resilience.Executor
	spam    *moderation.Detector
	ads     *ads.Scheduler
	jobs    *scheduler.Service
	metrics *metrics.Service
	health  *health.Checker
	bot     *bot.Bot

	updates chan transport.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tgCfg, logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	compLog := func(name string) logx.Logger { return log.With(logx.String("comp", name)) }

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	base, err := storage.Open(sc, compLog("storage"))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	cc, err := mapCacheConfig(cfg)
	if err != nil {
		_ = base.Close()
		return nil, err
	}
	c := cache.New(cc)
	store := cache.NewStore(base, c)
	log.Info("storage ready", logx.String("driver", sc.Driver))

	rl, err := mapRateLimitConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	limiter := ratelimit.New(rl, ratelimit.WithLogger(compLog("ratelimit")))

	rc, err := mapResilienceConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	exec := resilience.New(rc, resilience.WithLogger(compLog("resilience")), resilience.WithBus(bus))

	spamCfg, err := mapSpamConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	spam := moderation.NewDetector(spamCfg, store, compLog("spam"))

	sched := ads.New(mapAdsConfig(cfg), store,
		ads.NewSender(ad, limiter, exec, compLog("ads.sender")),
		ads.WithLogger(compLog("ads")),
		ads.WithBus(bus),
	)

	m := metrics.New(compLog("metrics"))
	hc := health.New(ad, store,
		health.WithCircuits(exec.OpenCircuits),
		health.WithLogger(compLog("health")),
	)

	b := bot.New(mapBotConfig(cfg), bot.Deps{
		Client:  ad,
		Store:   store,
		Limiter: limiter,
		Exec:    exec,
		Ads:     sched,
		Spam:    spam,
		Health:  hc,
		Metrics: m,
		Log:     compLog("bot"),
	})

	a := &App{
		cfgm:    cfgm,
		log:     compLog("app"),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		cache:   c,
		adapter: ad,
		limiter: limiter,
		exec:    exec,
		spam:    spam,
		ads:     sched,
		jobs:    scheduler.New(compLog("scheduler")),
		metrics: m,
		health:  hc,
		bot:     b,
		updates: make(chan transport.Update, 256),
	}
	if err := a.addJobs(cfg); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) addJobs(cfg *config.Config) error {
	spec, delay, err := adSchedule(cfg)
	if err != nil {
		return err
	}
	if err := a.jobs.Add(scheduler.Job{
		Name:         jobAdsTick,
		Schedule:     spec,
		StartupDelay: delay,
		Timeout:      10 * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := a.ads.Tick(ctx)
			return err
		},
	}); err != nil {
		return err
	}
	return a.jobs.Add(scheduler.Job{
		Name:     jobMetricsReport,
		Schedule: reportSchedule(cfg),
		Timeout:  time.Minute,
		Run: func(ctx context.Context) error {
			a.metrics.Report()
			st := a.cache.Stats()
			a.log.Debug("cache stats",
				logx.Uint64("hits", st.Hits),
				logx.Uint64("misses", st.Misses),
				logx.Int("entries", st.Entries),
			)
			return nil
		},
	})
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		spec, _, err := adSchedule(cfg)
		if err != nil {
			return err
		}
		if _, err := scheduler.ParseSchedule(spec); err != nil {
			return fmt.Errorf("advertising.schedule: %w", err)
		}
		if _, err := scheduler.ParseSchedule(reportSchedule(cfg)); err != nil {
			return fmt.Errorf("metrics.report_schedule: %w", err)
		}
		return nil
	})

	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("storage ping: %w", err)
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go0("ratelimit.sweep", func(c context.Context) { _ = a.limiter.Run(c) })
	a.sup.Go0("metrics.consume", func(c context.Context) { a.metrics.Consume(c, a.bus) })
	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go("bot.dispatch", func(c context.Context) error {
		err := a.bot.Run(c, a.updates)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.jobs.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if a.cfgm.Get().Systemd.Notify {
		if _, err := systemd.Ready(); err != nil {
			a.log.Warn("systemd ready notify failed", logx.Err(err))
		}
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			systemd.RunWatchdog(c, a.alive)
		})
	}

	a.log.Info("app started")
	return nil
}

// alive is the watchdog probe: storage must answer quickly.
func (a *App) alive() bool {
	ctx, cancel := context.WithTimeout(a.sup.Context(), 3*time.Second)
	defer cancel()
	return a.store.Ping(ctx) == nil
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128, eventbus.TopicGroupDeactivated, eventbus.TopicConfigReloaded)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch d := e.Data.(type) {
			case eventbus.AdDelivery:
				a.log.Info("group deactivated", logx.Int64("chat_id", d.ChatID), logx.String("reason", d.Err))
			case eventbus.ConfigChange:
				a.log.Debug("event", logx.String("type", e.Type), logx.Int("sections", len(d.Sections)))
			default:
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.cfgm.Get().Systemd.Notify {
		_, _ = systemd.Stopping()
	}

	a.sup.Cancel()

	// step bounds each shutdown step; the caller's deadline is never extended.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
				}
			}()
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.jobs.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("metrics", time.Second, func(context.Context) error { a.metrics.Report(); return nil })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
