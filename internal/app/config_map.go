package app

import (
	"strings"
	"time"

	"adbot/internal/ads"
	"adbot/internal/bot"
	"adbot/internal/cache"
	"adbot/internal/config"
	"adbot/internal/moderation"
	"adbot/internal/ratelimit"
	"adbot/internal/resilience"
	"adbot/internal/storage"
	telegram "adbot/internal/transport/telegram/adapter"
	logx "adbot/pkg/logx"
)

const (
	defaultAdSchedule     = "@every 1m"
	defaultAdStartupDelay = 30 * time.Second
	defaultReportSchedule = "@every 15m"
)

// The mappers below assume cfg passed config.Validate, so duration parse
// errors are only returned for completeness.

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

// mapLogConfig forwards warnings to the log chat, falling back to the
// owner's private chat.
func mapLogConfig(cfg *config.Config) logx.Config {
	chatID := cfg.Telegram.LogChatID
	if chatID == 0 {
		chatID = cfg.Telegram.OwnerUserID
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     chatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "memory"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

func mapCacheConfig(cfg *config.Config) (cache.Config, error) {
	var out cache.Config
	var err error
	if out.Short, err = config.ParseDurationField("cache.short", cfg.Cache.Short); err != nil {
		return out, err
	}
	if out.Default, err = config.ParseDurationField("cache.default", cfg.Cache.Default); err != nil {
		return out, err
	}
	if out.Long, err = config.ParseDurationField("cache.long", cfg.Cache.Long); err != nil {
		return out, err
	}
	out.Capacity = cfg.Cache.Capacity
	return out, nil
}

func mapRateLimitConfig(cfg *config.Config) (ratelimit.Config, error) {
	rc := cfg.RateLimit
	out := ratelimit.Config{
		UserPerWindow: rc.UserPerWindow,
		ChatPerWindow: rc.ChatPerWindow,
		APISlots:      rc.APISlots,
	}
	var err error
	if out.Window, err = config.ParseDurationField("rate_limit.window", rc.Window); err != nil {
		return out, err
	}
	if out.SlotHold, err = config.ParseDurationField("rate_limit.api_slot_hold", rc.APISlotHold); err != nil {
		return out, err
	}
	if out.AcquireTimeout, err = config.ParseDurationField("rate_limit.acquire_timeout", rc.AcquireTimeout); err != nil {
		return out, err
	}
	if out.SweepInterval, err = config.ParseDurationField("rate_limit.sweep_interval", rc.SweepInterval); err != nil {
		return out, err
	}
	return out, nil
}

func mapResilienceConfig(cfg *config.Config) (resilience.Config, error) {
	rc := cfg.Resilience
	out := resilience.Config{
		Retry: resilience.RetryConfig{MaxRetries: rc.MaxRetries, Jitter: rc.Jitter},
		Breaker: resilience.BreakerConfig{
			FailureRatio:      rc.FailureRatio,
			MinimumThroughput: rc.MinimumThroughput,
		},
	}
	var err error
	if out.Retry.InitialDelay, err = config.ParseDurationField("resilience.initial_delay", rc.InitialDelay); err != nil {
		return out, err
	}
	if out.Retry.MaxDelay, err = config.ParseDurationField("resilience.max_delay", rc.MaxDelay); err != nil {
		return out, err
	}
	if out.Breaker.SamplingDuration, err = config.ParseDurationField("resilience.sampling_duration", rc.SamplingDuration); err != nil {
		return out, err
	}
	if out.Breaker.BreakDuration, err = config.ParseDurationField("resilience.break_duration", rc.BreakDuration); err != nil {
		return out, err
	}
	return out, nil
}

func mapSpamConfig(cfg *config.Config) (moderation.Config, error) {
	window, err := config.ParseDurationField("spam.new_user_window", cfg.Spam.NewUserWindow)
	if err != nil {
		return moderation.Config{}, err
	}
	return moderation.Config{
		Keywords:              cfg.Spam.Keywords,
		MaxURLsPerMessage:     cfg.Spam.MaxURLsPerMessage,
		BlockNewUsersWithURLs: cfg.Spam.BlockNewUsersWithURLs,
		NewUserWindow:         window,
	}, nil
}

func mapAdsConfig(cfg *config.Config) ads.Config {
	return ads.Config{
		Enabled:                cfg.Advertising.Enabled,
		DefaultIntervalMinutes: cfg.Advertising.DefaultIntervalMinutes,
		Parallelism:            cfg.Advertising.Parallelism,
	}
}

// adSchedule returns the tick schedule and the delay before the first tick.
func adSchedule(cfg *config.Config) (string, time.Duration, error) {
	spec := strings.TrimSpace(cfg.Advertising.Schedule)
	if spec == "" {
		spec = defaultAdSchedule
	}
	delay, err := config.ParseDurationOrDefault("advertising.startup_delay", cfg.Advertising.StartupDelay, defaultAdStartupDelay)
	return spec, delay, err
}

func reportSchedule(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Metrics.ReportSchedule); s != "" {
		return s
	}
	return defaultReportSchedule
}

func mapBotConfig(cfg *config.Config) bot.Config {
	return bot.Config{
		OwnerUserID:         cfg.Telegram.OwnerUserID,
		AutoDeleteJoinLeave: cfg.Features.AutoDeleteJoinLeave,
		SpamDetection:       cfg.Features.SpamDetection,
		Statistics:          cfg.Features.Statistics,
	}
}
