package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MaxIntervalMinutes is the longest accepted ad interval (one week).
const MaxIntervalMinutes = 10080

var storageDrivers = map[string]bool{
	"": true, "memory": true, "file": true, "sqlite": true, "sqlite3": true, "postgres": true,
}

// Validate checks everything that can be checked without side effects.
// It reports all problems at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required (or set %s)", EnvBotToken)
	}
	if cfg.Telegram.OwnerUserID == 0 {
		add("telegram.owner_user_id is required (or set %s)", EnvAdminUserID)
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if !storageDrivers[driver] {
		add("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	switch driver {
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add("storage.path is required for driver %q", driver)
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add("storage.dsn is required for driver postgres")
		}
	}

	if n := cfg.Advertising.DefaultIntervalMinutes; n < 0 || n > MaxIntervalMinutes {
		add("advertising.default_interval_minutes must be within 1..%d", MaxIntervalMinutes)
	}
	if cfg.Advertising.Parallelism < 0 {
		add("advertising.parallelism must be >= 0")
	}
	if cfg.Spam.MaxURLsPerMessage < 0 {
		add("spam.max_urls_per_message must be >= 0")
	}
	if cfg.RateLimit.UserPerWindow < 0 || cfg.RateLimit.ChatPerWindow < 0 || cfg.RateLimit.APISlots < 0 {
		add("rate_limit capacities must be >= 0")
	}
	if cfg.Resilience.MaxRetries < 0 {
		add("resilience.max_retries must be >= 0")
	}
	if r := cfg.Resilience.FailureRatio; r < 0 || r > 1 {
		add("resilience.failure_ratio must be within 0..1")
	}
	if j := cfg.Resilience.Jitter; j < 0 || j > 1 {
		add("resilience.jitter must be within 0..1")
	}
	if cfg.Cache.Capacity < 0 {
		add("cache.capacity must be >= 0")
	}

	fields := cfg.durationFields()
	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if _, err := ParseDurationField(p, fields[p]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
