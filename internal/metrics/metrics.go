// Package metrics keeps in-process counters and logs a periodic report.
package metrics

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"adbot/internal/eventbus"
	logx "adbot/pkg/logx"
)

type Snapshot struct {
	Messages         int64
	Spam             int64
	AdsSent          int64
	Errors           int64
	MessageTypes     map[string]int64
	ErrorTypes       map[string]int64
	AverageDurations map[string]time.Duration
	At               time.Time
	Uptime           time.Duration
}

type durationAgg struct {
	count int64
	total time.Duration
}

type Service struct {
	log     logx.Logger
	now     func() time.Time
	started time.Time

	messages atomic.Int64
	spam     atomic.Int64
	ads      atomic.Int64
	errs     atomic.Int64

	mu        sync.Mutex
	msgTypes  map[string]int64
	errTypes  map[string]int64
	durations map[string]durationAgg
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(log logx.Logger, opts ...Option) *Service {
	s := &Service{
		log:       log,
		now:       time.Now,
		msgTypes:  map[string]int64{},
		errTypes:  map[string]int64{},
		durations: map[string]durationAgg{},
	}
	for _, o := range opts {
		o(s)
	}
	s.started = s.now()
	return s
}

func (s *Service) RecordMessage(kind string) {
	s.messages.Add(1)
	s.mu.Lock()
	s.msgTypes[kind]++
	s.mu.Unlock()
}

func (s *Service) RecordSpam()   { s.spam.Add(1) }
func (s *Service) RecordAdSent() { s.ads.Add(1) }

func (s *Service) RecordError(kind string) {
	s.errs.Add(1)
	s.mu.Lock()
	s.errTypes[kind]++
	s.mu.Unlock()
}

func (s *Service) RecordDuration(op string, d time.Duration) {
	s.mu.Lock()
	agg := s.durations[op]
	agg.count++
	agg.total += d
	s.durations[op] = agg
	s.mu.Unlock()
}

// Snapshot returns copies of all counters.
func (s *Service) Snapshot() Snapshot {
	now := s.now()
	snap := Snapshot{
		Messages:         s.messages.Load(),
		Spam:             s.spam.Load(),
		AdsSent:          s.ads.Load(),
		Errors:           s.errs.Load(),
		MessageTypes:     map[string]int64{},
		ErrorTypes:       map[string]int64{},
		AverageDurations: map[string]time.Duration{},
		At:               now,
		Uptime:           now.Sub(s.started),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.msgTypes {
		snap.MessageTypes[k] = v
	}
	for k, v := range s.errTypes {
		snap.ErrorTypes[k] = v
	}
	for k, v := range s.durations {
		snap.AverageDurations[k] = v.total / time.Duration(max(1, v.count))
	}
	return snap
}

// Report logs the current snapshot. Error breakdowns are logged at Warn.
func (s *Service) Report() {
	snap := s.Snapshot()
	s.log.Info("metrics",
		logx.Int64("messages", snap.Messages),
		logx.Int64("spam", snap.Spam),
		logx.Int64("ads_sent", snap.AdsSent),
		logx.Int64("errors", snap.Errors),
		logx.Duration("uptime", snap.Uptime.Truncate(time.Second)),
	)
	if len(snap.ErrorTypes) > 0 {
		s.log.Warn("error breakdown", logx.String("errors", FormatCounts(snap.ErrorTypes)))
	}
}

// FormatCounts renders counts as "a: 1, b: 2" sorted by key.
func FormatCounts(m map[string]int64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(strconv.FormatInt(m[k], 10))
	}
	return b.String()
}

// Consume records ad and breaker events from bus until ctx is done.
func (s *Service) Consume(ctx context.Context, bus eventbus.Bus) {
	events, unsub := bus.Subscribe(64, eventbus.TopicAdSent, eventbus.TopicAdFailed, eventbus.TopicCircuit)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.observe(e)
		}
	}
}

func (s *Service) observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TopicAdSent:
		s.RecordAdSent()
	case eventbus.TopicAdFailed:
		s.RecordError("ad_send")
	case eventbus.TopicCircuit:
		if c, ok := e.Data.(eventbus.CircuitChange); ok && c.To == "open" {
			s.RecordError("circuit_open")
		}
	}
}
