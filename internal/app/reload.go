package app

import (
	"context"
	"strings"
	"time"

	"adbot/internal/config"
	"adbot/internal/eventbus"
	logx "adbot/pkg/logx"
)

// reloadLoop applies published configs to the live components. Settings
// that cannot change at runtime are reported and left alone.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			if next == nil {
				continue
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(old, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(old, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	restart := config.RestartRequired(old, next)
	if len(restart) > 0 {
		a.log.Warn("restart required for some config changes", logx.String("settings", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(next))
	a.bot.Apply(mapBotConfig(next))
	a.ads.Apply(mapAdsConfig(next))

	if sc, err := mapSpamConfig(next); err != nil {
		a.log.Warn("invalid spam config; keeping previous", logx.Err(err))
	} else {
		a.spam.Apply(sc)
	}
	if rl, err := mapRateLimitConfig(next); err != nil {
		a.log.Warn("invalid rate_limit config; keeping previous", logx.Err(err))
	} else {
		a.limiter.Apply(rl)
	}
	if rc, err := mapResilienceConfig(next); err != nil {
		a.log.Warn("invalid resilience config; keeping previous", logx.Err(err))
	} else {
		a.exec.Apply(rc)
	}

	a.bus.Publish(eventbus.Event{
		Type: eventbus.TopicConfigReloaded,
		Time: time.Now(),
		Data: eventbus.ConfigChange{Sections: sections, Restart: restart},
	})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
