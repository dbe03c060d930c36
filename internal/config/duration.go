package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty means 0; negative
// values are rejected. path names the field in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for 0.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// durationFields lists every duration-valued field with its JSON path.
func (c *Config) durationFields() map[string]string {
	return map[string]string{
		"telegram.poll_timeout":        c.Telegram.PollTimeout,
		"storage.busy_timeout":         c.Storage.BusyTimeout,
		"spam.new_user_window":         c.Spam.NewUserWindow,
		"advertising.startup_delay":    c.Advertising.StartupDelay,
		"rate_limit.window":            c.RateLimit.Window,
		"rate_limit.api_slot_hold":     c.RateLimit.APISlotHold,
		"rate_limit.acquire_timeout":   c.RateLimit.AcquireTimeout,
		"rate_limit.sweep_interval":    c.RateLimit.SweepInterval,
		"resilience.initial_delay":     c.Resilience.InitialDelay,
		"resilience.max_delay":         c.Resilience.MaxDelay,
		"resilience.sampling_duration": c.Resilience.SamplingDuration,
		"resilience.break_duration":    c.Resilience.BreakDuration,
		"cache.short":                  c.Cache.Short,
		"cache.default":                c.Cache.Default,
		"cache.long":                   c.Cache.Long,
	}
}
