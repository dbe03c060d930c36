package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named periodic task.
type Job struct {
	Name     string
	Schedule string // cron, "@every 1m", "55m" or "HH:MM"
	// StartupDelay postpones the first run; zero means the schedule's own
	// first tick.
	StartupDelay time.Duration
	Timeout      time.Duration
	Run          func(ctx context.Context) error
}

// ScheduleInfo is a point-in-time view of one job.
type ScheduleInfo struct {
	Name         string        `json:"name"`
	Spec         string        `json:"spec"`
	Next         time.Time     `json:"next"`
	Prev         time.Time     `json:"prev"`
	Runs         uint64        `json:"runs"`
	Skipped      uint64        `json:"skipped"`
	Failures     uint64        `json:"failures"`
	LastErr      string        `json:"last_err,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
}

type jobState struct {
	job      Job
	schedule cron.Schedule
	entryID  cron.EntryID

	running  atomic.Bool
	runs     atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64

	mu      sync.Mutex
	lastErr string
	lastDur time.Duration
}

func (j *jobState) finish(d time.Duration, err error) {
	j.mu.Lock()
	j.lastDur = d
	if err != nil {
		j.lastErr = err.Error()
	} else {
		j.lastErr = ""
	}
	j.mu.Unlock()
}
