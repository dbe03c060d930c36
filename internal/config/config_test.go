package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validJSON = `{
  "telegram": {"token": "123:abc", "owner_user_id": 42},
  "storage": {"driver": "memory"},
  "advertising": {"enabled": true, "default_interval_minutes": 60},
  "rate_limit": {"window": "1m"},
  "resilience": {"max_retries": 3, "initial_delay": "100ms"}
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func noEnv(string) (string, bool) { return "", false }

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.json", validJSON))
	m.lookupEnv = noEnv
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Telegram.OwnerUserID != 42 || cfg.Advertising.DefaultIntervalMinutes != 60 {
		t.Fatalf("Load() = %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatalf("Get() did not return committed config")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	body := `
telegram:
  token: "123:abc"
  owner_user_id: 7
storage:
  driver: memory
spam:
  keywords: ["casino", "crypto"]
  max_urls_per_message: 2
`
	m := NewConfigManager(writeFile(t, "config.yaml", body))
	m.lookupEnv = noEnv
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Telegram.OwnerUserID != 7 || len(cfg.Spam.Keywords) != 2 || cfg.Spam.MaxURLsPerMessage != 2 {
		t.Fatalf("Parse() = %+v", cfg)
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"unknown field", `{"telegram": {"token": "x", "owner_user_id": 1, "nope": true}}`},
		{"trailing data", validJSON + `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewConfigManager(writeFile(t, "config.json", tt.body))
			m.lookupEnv = noEnv
			if _, err := m.Parse(); err == nil {
				t.Fatalf("Parse() error = nil, want error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.json", `{"storage": {"driver": "memory"}}`))
	m.lookupEnv = func(k string) (string, bool) {
		switch k {
		case EnvBotToken:
			return " 999:zzz ", true
		case EnvAdminUserID:
			return "1001", true
		}
		return "", false
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Telegram.Token != "999:zzz" || cfg.Telegram.OwnerUserID != 1001 {
		t.Fatalf("telegram = %+v, want env values", cfg.Telegram)
	}

	m.lookupEnv = func(k string) (string, bool) {
		if k == EnvAdminUserID {
			return "not-a-number", true
		}
		return "", false
	}
	if _, err := m.Parse(); err == nil {
		t.Fatalf("Parse() with bad %s = nil, want error", EnvAdminUserID)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t", OwnerUserID: 1},
			Storage:  StorageConfig{Driver: "memory"},
		}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"missing owner", func(c *Config) { c.Telegram.OwnerUserID = 0 }, "owner_user_id"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "unknown driver"},
		{"sqlite without path", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.path"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"interval too long", func(c *Config) { c.Advertising.DefaultIntervalMinutes = MaxIntervalMinutes + 1 }, "default_interval_minutes"},
		{"bad ratio", func(c *Config) { c.Resilience.FailureRatio = 1.5 }, "failure_ratio"},
		{"bad duration", func(c *Config) { c.RateLimit.Window = "soon" }, "rate_limit.window"},
		{"negative duration", func(c *Config) { c.Cache.Long = "-1h" }, "cache.long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := Validate(c)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", 5 * time.Second},
		{"0s", 5 * time.Second},
		{"250ms", 250 * time.Millisecond},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("x", tt.raw, 5*time.Second)
		if err != nil || got != tt.want {
			t.Fatalf("ParseDurationOrDefault(%q) = (%v, %v), want %v", tt.raw, got, err, tt.want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "secret-token", OwnerUserID: 1}}
	newCfg := *oldCfg
	newCfg.Telegram.Token = "other-secret"
	newCfg.Advertising.DefaultIntervalMinutes = 30

	changed, _ := SummarizeConfigChange(oldCfg, &newCfg)
	if strings.Join(changed, ",") != "telegram,advertising" {
		t.Fatalf("changed = %v, want [telegram advertising]", changed)
	}
	if got := RestartRequired(oldCfg, &newCfg); len(got) != 1 || got[0] != "telegram.token" {
		t.Fatalf("RestartRequired() = %v, want [telegram.token]", got)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", validJSON)
	m := NewConfigManager(path)
	m.lookupEnv = noEnv
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	updated := strings.Replace(validJSON, `"default_interval_minutes": 60`, `"default_interval_minutes": 15`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case cfg := <-ch:
		if cfg.Advertising.DefaultIntervalMinutes != 15 {
			t.Fatalf("published interval = %d, want 15", cfg.Advertising.DefaultIntervalMinutes)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no config published after file change")
	}
}
