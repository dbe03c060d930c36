package config

import (
	"reflect"
	"strings"

	logx "adbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured fields for logging. The bot token and storage DSN are never
// included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.OwnerUserID != newCfg.Telegram.OwnerUserID ||
		oldCfg.Telegram.LogChatID != newCfg.Telegram.LogChatID ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Int64("telegram.owner_user_id", newCfg.Telegram.OwnerUserID),
			logx.Bool("telegram.log_chat_set", newCfg.Telegram.LogChatID != 0),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Storage.Driver != newCfg.Storage.Driver ||
		oldCfg.Storage.Path != newCfg.Storage.Path ||
		oldCfg.Storage.DSN != newCfg.Storage.DSN ||
		oldCfg.Storage.BusyTimeout != newCfg.Storage.BusyTimeout {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Features != newCfg.Features {
		changed = append(changed, "features")
		attrs = append(attrs,
			logx.Bool("features.auto_delete_join_leave", newCfg.Features.AutoDeleteJoinLeave),
			logx.Bool("features.spam_detection", newCfg.Features.SpamDetection),
			logx.Bool("features.statistics", newCfg.Features.Statistics),
		)
	}
	if !reflect.DeepEqual(oldCfg.Spam, newCfg.Spam) {
		changed = append(changed, "spam")
		attrs = append(attrs,
			logx.Int("spam.keywords", len(newCfg.Spam.Keywords)),
			logx.Int("spam.max_urls_per_message", newCfg.Spam.MaxURLsPerMessage),
		)
	}
	if oldCfg.Advertising != newCfg.Advertising {
		changed = append(changed, "advertising")
		attrs = append(attrs,
			logx.Bool("advertising.enabled", newCfg.Advertising.Enabled),
			logx.Int("advertising.default_interval_minutes", newCfg.Advertising.DefaultIntervalMinutes),
			logx.String("advertising.schedule", newCfg.Advertising.Schedule),
		)
	}
	if oldCfg.RateLimit != newCfg.RateLimit {
		changed = append(changed, "rate_limit")
		attrs = append(attrs,
			logx.Int("rate_limit.user_per_window", newCfg.RateLimit.UserPerWindow),
			logx.Int("rate_limit.chat_per_window", newCfg.RateLimit.ChatPerWindow),
		)
	}
	if oldCfg.Resilience != newCfg.Resilience {
		changed = append(changed, "resilience")
		attrs = append(attrs,
			logx.Int("resilience.max_retries", newCfg.Resilience.MaxRetries),
			logx.Float64("resilience.failure_ratio", newCfg.Resilience.FailureRatio),
		)
	}
	if oldCfg.Cache != newCfg.Cache {
		changed = append(changed, "cache")
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
	}
	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
	}
	return changed, attrs
}

// RestartRequired lists changed settings that only take effect after a
// process restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		out = append(out, "telegram.token")
	}
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		out = append(out, "telegram.poll_timeout")
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Cache != newCfg.Cache {
		out = append(out, "cache")
	}
	if oldCfg.RateLimit.APISlots != newCfg.RateLimit.APISlots {
		out = append(out, "rate_limit.api_slots")
	}
	if oldCfg.Advertising.Schedule != newCfg.Advertising.Schedule ||
		oldCfg.Advertising.StartupDelay != newCfg.Advertising.StartupDelay {
		out = append(out, "advertising.schedule")
	}
	if oldCfg.Metrics != newCfg.Metrics {
		out = append(out, "metrics")
	}
	return out
}
