package app

import (
	"testing"
	"time"

	"adbot/internal/ads"
	"adbot/internal/bot"
	"adbot/internal/config"
	"adbot/internal/eventbus"
	"adbot/internal/moderation"
	"adbot/internal/ratelimit"
	"adbot/internal/resilience"
	"adbot/internal/storage"
	"adbot/internal/transport/transporttest"
	logx "adbot/pkg/logx"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "123:abc", OwnerUserID: 42},
		Features: config.FeaturesConfig{AutoDeleteJoinLeave: true, SpamDetection: true, Statistics: true},
		Advertising: config.AdvertisingConfig{
			Enabled:                true,
			DefaultIntervalMinutes: 60,
		},
	}
}

func TestMapLogConfigFallsBackToOwner(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	if got := mapLogConfig(cfg).Telegram.ChatID; got != 42 {
		t.Fatalf("ChatID = %d, want 42", got)
	}
	cfg.Telegram.LogChatID = -500
	if got := mapLogConfig(cfg).Telegram.ChatID; got != -500 {
		t.Fatalf("ChatID = %d, want -500", got)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		t.Fatalf("mapStorageConfig() error = %v", err)
	}
	if sc.Driver != "memory" || sc.BusyTimeout != time.Second {
		t.Fatalf("storage = %+v, want memory with 1s busy timeout", sc)
	}

	cfg.Storage = config.StorageConfig{Driver: " SQLite ", Path: " ./bot.db ", BusyTimeout: "250ms"}
	sc, err = mapStorageConfig(cfg)
	if err != nil {
		t.Fatalf("mapStorageConfig() error = %v", err)
	}
	if sc.Driver != "sqlite" || sc.Path != "./bot.db" || sc.BusyTimeout != 250*time.Millisecond {
		t.Fatalf("storage = %+v", sc)
	}

	cfg.Storage.BusyTimeout = "soon"
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatalf("mapStorageConfig() error = nil, want duration error")
	}
}

func TestMapDurations(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.RateLimit = config.RateLimitConfig{UserPerWindow: 5, Window: "30s", APISlotHold: "500ms"}
	cfg.Resilience = config.ResilienceConfig{MaxRetries: 2, InitialDelay: "100ms", BreakDuration: "1m", FailureRatio: 0.25}
	cfg.Spam = config.SpamConfig{Keywords: []string{"x"}, NewUserWindow: "12h"}

	rl, err := mapRateLimitConfig(cfg)
	if err != nil {
		t.Fatalf("mapRateLimitConfig() error = %v", err)
	}
	if rl.UserPerWindow != 5 || rl.Window != 30*time.Second || rl.SlotHold != 500*time.Millisecond {
		t.Fatalf("rate limit = %+v", rl)
	}
	rc, err := mapResilienceConfig(cfg)
	if err != nil {
		t.Fatalf("mapResilienceConfig() error = %v", err)
	}
	if rc.Retry.MaxRetries != 2 || rc.Retry.InitialDelay != 100*time.Millisecond || rc.Breaker.BreakDuration != time.Minute || rc.Breaker.FailureRatio != 0.25 {
		t.Fatalf("resilience = %+v", rc)
	}
	sc, err := mapSpamConfig(cfg)
	if err != nil {
		t.Fatalf("mapSpamConfig() error = %v", err)
	}
	if sc.NewUserWindow != 12*time.Hour || len(sc.Keywords) != 1 {
		t.Fatalf("spam = %+v", sc)
	}
}

func TestSchedules(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	spec, delay, err := adSchedule(cfg)
	if err != nil || spec != defaultAdSchedule || delay != defaultAdStartupDelay {
		t.Fatalf("adSchedule() = %q, %v, %v", spec, delay, err)
	}
	cfg.Advertising.Schedule = "*/5 * * * *"
	cfg.Advertising.StartupDelay = "5s"
	spec, delay, err = adSchedule(cfg)
	if err != nil || spec != "*/5 * * * *" || delay != 5*time.Second {
		t.Fatalf("adSchedule() = %q, %v, %v", spec, delay, err)
	}
	if got := reportSchedule(cfg); got != defaultReportSchedule {
		t.Fatalf("reportSchedule() = %q", got)
	}
}

func TestApplyConfigUpdatesLiveComponents(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	store, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	client := transporttest.New()
	lim := ratelimit.New(ratelimit.Config{})
	exec := resilience.New(resilience.Config{})
	sched := ads.New(mapAdsConfig(old), store, ads.NewSender(client, lim, exec, logx.Nop()))
	logs, log := logx.New(logx.Config{Level: "error"}, nil)
	t.Cleanup(func() { _ = logs.Close() })
	bus := eventbus.New()

	a := &App{
		cfgm:    config.NewConfigManager(""),
		log:     log,
		logs:    logs,
		bus:     bus,
		limiter: lim,
		exec:    exec,
		spam:    moderation.NewDetector(moderation.Config{}, store, logx.Nop()),
		ads:     sched,
		bot:     bot.New(mapBotConfig(old), bot.Deps{Client: client, Store: store, Limiter: lim, Log: logx.Nop()}),
	}
	events, unsub := bus.Subscribe(4, eventbus.TopicConfigReloaded)
	defer unsub()

	next := baseConfig()
	next.Advertising.Enabled = false
	next.Advertising.DefaultIntervalMinutes = 15
	next.RateLimit.UserPerWindow = 3
	next.Storage.Driver = "sqlite"
	next.Storage.Path = "./x.db"
	a.applyConfig(old, next)

	if got := sched.Config(); got.Enabled || got.DefaultIntervalMinutes != 15 {
		t.Fatalf("ads config = %+v", got)
	}
	if got := lim.Config().UserPerWindow; got != 3 {
		t.Fatalf("UserPerWindow = %d, want 3", got)
	}
	select {
	case e := <-events:
		change, ok := e.Data.(eventbus.ConfigChange)
		if !ok {
			t.Fatalf("event data = %T", e.Data)
		}
		if len(change.Restart) != 1 || change.Restart[0] != "storage" {
			t.Fatalf("restart = %v, want [storage]", change.Restart)
		}
	case <-time.After(time.Second):
		t.Fatal("no config event published")
	}
}
