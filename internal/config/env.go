package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	EnvBotToken    = "BOT_TOKEN"
	EnvAdminUserID = "ADMIN_USER_ID"
)

// applyEnv overrides secrets and the owner id from the environment so they
// can stay out of the config file.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvBotToken); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvAdminUserID); ok && strings.TrimSpace(v) != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAdminUserID, err)
		}
		cfg.Telegram.OwnerUserID = id
	}
	return nil
}
