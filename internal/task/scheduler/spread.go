package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// delayedSchedule wraps a base schedule and holds back the first run until
// first. After that it delegates to the base schedule.
type delayedSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *delayedSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

func withStartupDelay(base cron.Schedule, now time.Time, delay time.Duration) cron.Schedule {
	if delay <= 0 {
		return base
	}
	return &delayedSchedule{base: base, first: now.Add(delay)}
}
