package resilience

import (
	"context"
	"math/rand"
	"time"

	logx "adbot/pkg/logx"
)

type RetryConfig struct {
	// MaxRetries counts retries after the first call. Zero means the
	// default of 3; negative disables retries.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Jitter       float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = 3
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Jitter > 1 {
		c.Jitter = 1
	}
	return c
}

// backoffDelay returns the wait before retry number retry (1-based). A
// server hint replaces the exponential base. rnd returns values in [0,1).
func backoffDelay(cfg RetryConfig, retry int, err error, rnd func() float64) time.Duration {
	d := cfg.InitialDelay
	if hint, ok := retryHint(err); ok {
		d = max(hint, 0)
	} else {
		for i := 1; i < retry; i++ {
			d *= 2
			if d > cfg.MaxDelay {
				d = cfg.MaxDelay
				break
			}
		}
	}
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if j := cfg.Jitter; j > 0 && d > 0 && rnd != nil {
		r := (rnd()*2 - 1) * j
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}

type attemptFunc func(ctx context.Context) error

// retryLoop runs fn until it succeeds, fails permanently or the retry budget
// runs out. A wait interrupted by ctx is not counted as an attempt.
func (e *Executor) retryLoop(ctx context.Context, name string, cfg RetryConfig, fn attemptFunc) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt > cfg.MaxRetries {
			e.log.Warn("retries exhausted",
				logx.String("name", name), logx.Int("attempts", attempt), logx.Err(err))
			return &RetriesExhaustedError{Attempts: attempt, Last: err}
		}

		delay := backoffDelay(cfg, attempt, err, e.jitterRand)
		e.log.Debug("retry scheduled",
			logx.String("name", name), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		if delay <= 0 {
			continue
		}
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		case <-tmr.C:
		}
	}
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
