package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "adbot/pkg/logx"
)

type Option func(*Service)

func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	loc  *time.Location
	c    *cron.Cron
	jobs map[string]*jobState

	ctx    context.Context
	cancel context.CancelFunc
}

func New(log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, loc: time.Local, jobs: map[string]*jobState{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add registers job, replacing any job with the same name. Jobs added after
// Start are scheduled immediately.
func (s *Service) Add(job Job) error {
	name := strings.TrimSpace(job.Name)
	if name == "" {
		return errors.New("scheduler: job name required")
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %s has no run func", name)
	}
	ps, err := ParseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", name, err)
	}
	sched, err := ps.schedule()
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", name, err)
	}
	job.Name = name
	job.Schedule = ps.String()
	js := &jobState{job: job, schedule: sched}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.jobs[name]; old != nil && s.c != nil {
		s.c.Remove(old.entryID)
	}
	s.jobs[name] = js
	if s.c != nil {
		s.scheduleLocked(js)
	}
	return nil
}

// Remove unregisters a job. It reports whether the job existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	js := s.jobs[name]
	if js == nil {
		return false
	}
	if s.c != nil {
		s.c.Remove(js.entryID)
	}
	delete(s.jobs, name)
	return true
}

func (s *Service) scheduleLocked(js *jobState) {
	sched := withStartupDelay(js.schedule, time.Now().In(s.loc), js.job.StartupDelay)
	js.entryID = s.c.Schedule(sched, cron.FuncJob(func() { s.trigger(js) }))
	s.log.Debug("schedule registered",
		logx.String("name", js.job.Name),
		logx.String("spec", js.job.Schedule),
		logx.Duration("startup_delay", js.job.StartupDelay),
	)
}

// Start begins triggering. Runs use contexts derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{log: s.log})),
	)
	for _, js := range s.jobs {
		s.scheduleLocked(js)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

// Stop cancels running jobs and waits for them until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// trigger runs js unless a previous run is still in flight.
func (s *Service) trigger(js *jobState) {
	if !js.running.CompareAndSwap(false, true) {
		js.skipped.Add(1)
		s.log.Debug("job skipped, previous run still active", logx.String("name", js.job.Name))
		return
	}
	defer js.running.Store(false)

	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx := parent
	if js.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, js.job.Timeout)
		defer cancel()
	}

	start := time.Now()
	js.runs.Add(1)
	err := js.job.Run(ctx)
	dur := time.Since(start)
	js.finish(dur, err)
	if err != nil && !errors.Is(err, context.Canceled) {
		js.failures.Add(1)
		s.log.Warn("job failed", logx.String("name", js.job.Name), logx.Duration("took", dur), logx.Err(err))
		return
	}
	s.log.Debug("job done", logx.String("name", js.job.Name), logx.Duration("took", dur))
}

// Snapshot returns job views sorted by name.
func (s *Service) Snapshot() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.jobs))
	for _, js := range s.jobs {
		it := ScheduleInfo{
			Name:     js.job.Name,
			Spec:     js.job.Schedule,
			Runs:     js.runs.Load(),
			Skipped:  js.skipped.Load(),
			Failures: js.failures.Load(),
		}
		js.mu.Lock()
		it.LastErr, it.LastDuration = js.lastErr, js.lastDur
		js.mu.Unlock()
		if s.c != nil && js.entryID != 0 {
			e := s.c.Entry(js.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger adapts logx to cron.Logger for the Recover wrapper.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
