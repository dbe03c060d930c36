package config

// Config is the on-disk configuration (JSON, or YAML converted to JSON).
//
// Durations are Go duration strings ("100ms", "5m"). Empty or zero values
// fall back to the defaults documented on each field.
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Features    FeaturesConfig    `json:"features"`
	Spam        SpamConfig        `json:"spam"`
	Advertising AdvertisingConfig `json:"advertising"`
	RateLimit   RateLimitConfig   `json:"rate_limit"`
	Resilience  ResilienceConfig  `json:"resilience"`
	Cache       CacheConfig       `json:"cache"`
	Metrics     MetricsConfig     `json:"metrics"`
	Systemd     SystemdConfig     `json:"systemd"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	OwnerUserID int64  `json:"owner_user_id"`
	// LogChatID receives forwarded warnings; 0 means the owner's private chat.
	LogChatID int64 `json:"log_chat_id,omitempty"`
	// PollTimeout defaults to "10s".
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence backend.
//
// Driver values: "memory", "file", "sqlite", "postgres".
//
//	"storage": { "driver": "sqlite", "path": "./data/adbot.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://bot@localhost/adbot?sslmode=disable" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type FeaturesConfig struct {
	AutoDeleteJoinLeave bool `json:"auto_delete_join_leave"`
	SpamDetection       bool `json:"spam_detection"`
	Statistics          bool `json:"statistics"`
}

type SpamConfig struct {
	Keywords              []string `json:"keywords"`
	MaxURLsPerMessage     int      `json:"max_urls_per_message"`
	BlockNewUsersWithURLs bool     `json:"block_new_users_with_urls"`
	// NewUserWindow defaults to "24h".
	NewUserWindow string `json:"new_user_window"`
}

type AdvertisingConfig struct {
	Enabled                bool `json:"enabled"`
	DefaultIntervalMinutes int  `json:"default_interval_minutes"`
	// Schedule is a cron spec or "@every" interval; defaults to "@every 1m".
	Schedule string `json:"schedule,omitempty"`
	// StartupDelay defaults to "30s".
	StartupDelay string `json:"startup_delay,omitempty"`
	Parallelism  int    `json:"parallelism,omitempty"`
}

type RateLimitConfig struct {
	UserPerWindow  int    `json:"user_per_window"`
	ChatPerWindow  int    `json:"chat_per_window"`
	Window         string `json:"window"`
	APISlots       int    `json:"api_slots"`
	APISlotHold    string `json:"api_slot_hold"`
	AcquireTimeout string `json:"acquire_timeout"`
	SweepInterval  string `json:"sweep_interval"`
}

type ResilienceConfig struct {
	MaxRetries        int     `json:"max_retries"`
	InitialDelay      string  `json:"initial_delay"`
	MaxDelay          string  `json:"max_delay"`
	Jitter            float64 `json:"jitter"`
	FailureRatio      float64 `json:"failure_ratio"`
	MinimumThroughput int     `json:"minimum_throughput"`
	SamplingDuration  string  `json:"sampling_duration"`
	BreakDuration     string  `json:"break_duration"`
}

type CacheConfig struct {
	Short    string `json:"short"`
	Default  string `json:"default"`
	Long     string `json:"long"`
	Capacity int    `json:"capacity"`
}

type MetricsConfig struct {
	// ReportSchedule defaults to "@every 15m".
	ReportSchedule string `json:"report_schedule"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}
