package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "adbot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in    string
		kind  SpecKind
		every time.Duration
		str   string
		err   bool
	}{
		{in: "@every 1m", kind: SpecCron, str: "@every 1m"},
		{in: "*/5 * * * *", kind: SpecCron, str: "*/5 * * * *"},
		{in: "cron:@hourly", kind: SpecCron, str: "@hourly"},
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute, str: "@every 55m0s"},
		{in: "02:30", kind: SpecInterval, every: 150 * time.Minute},
		{in: "every:15m", kind: SpecInterval, every: 15 * time.Minute},
		{in: "", err: true},
		{in: "0s", err: true},
		{in: "00:75", err: true},
		{in: "* * *", err: true},
		{in: "soon", err: true},
	}
	for _, tt := range tests {
		got, err := ParseSchedule(tt.in)
		if tt.err {
			if err == nil {
				t.Fatalf("ParseSchedule(%q) = %+v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSchedule(%q) error = %v", tt.in, err)
		}
		if got.Kind != tt.kind || got.Every != tt.every {
			t.Fatalf("ParseSchedule(%q) = %+v", tt.in, got)
		}
		if tt.str != "" && got.String() != tt.str {
			t.Fatalf("ParseSchedule(%q).String() = %q, want %q", tt.in, got.String(), tt.str)
		}
	}
}

func TestStartupDelay(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	ps, _ := ParseSchedule("@every 1m")
	base, err := ps.schedule()
	if err != nil {
		t.Fatalf("schedule() error = %v", err)
	}
	s := withStartupDelay(base, now, 30*time.Second)
	if got := s.Next(now); !got.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("first Next = %v, want +30s", got)
	}
	if got := s.Next(now.Add(30 * time.Second)); !got.Equal(now.Add(90 * time.Second)) {
		t.Fatalf("second Next = %v, want +90s", got)
	}
	if withStartupDelay(base, now, 0) != base {
		t.Fatalf("zero delay should return base schedule")
	}
}

func TestAddValidates(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	run := func(context.Context) error { return nil }
	if err := s.Add(Job{Schedule: "@every 1m", Run: run}); err == nil {
		t.Fatalf("Add() without name succeeded")
	}
	if err := s.Add(Job{Name: "x", Schedule: "nope", Run: run}); err == nil {
		t.Fatalf("Add() with bad schedule succeeded")
	}
	if err := s.Add(Job{Name: "x", Schedule: "@every 1m"}); err == nil {
		t.Fatalf("Add() without run func succeeded")
	}
	if err := s.Add(Job{Name: "x", Schedule: "@every 1m", Run: run}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !s.Remove("x") || s.Remove("x") {
		t.Fatalf("Remove() did not report existence correctly")
	}
}

func TestTriggerSkipsOverlap(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	release := make(chan struct{})
	var runs atomic.Int32
	_ = s.Add(Job{Name: "slow", Schedule: "@every 1h", Run: func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}})
	js := s.jobs["slow"]

	done := make(chan struct{})
	go func() {
		s.trigger(js)
		close(done)
	}()
	for !js.running.Load() {
		time.Sleep(time.Millisecond)
	}
	s.trigger(js)
	close(release)
	<-done

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Runs != 1 || snap[0].Skipped != 1 || runs.Load() != 1 {
		t.Fatalf("Snapshot() = %+v, runs = %d", snap, runs.Load())
	}
}

func TestTriggerRecordsFailureAndTimeout(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	_ = s.Add(Job{Name: "bad", Schedule: "@every 1h", Timeout: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	s.trigger(s.jobs["bad"])
	snap := s.Snapshot()[0]
	if snap.Failures != 1 || snap.LastErr == "" {
		t.Fatalf("Snapshot() = %+v, want one failure", snap)
	}
	if snap.LastDuration < 10*time.Millisecond {
		t.Fatalf("LastDuration = %v, want >= timeout", snap.LastDuration)
	}
}

func TestStartRunsAndStopCancels(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	ran := make(chan struct{}, 1)
	stopped := make(chan error, 1)
	_ = s.Add(Job{Name: "tick", Schedule: "@every 1s", Run: func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		<-ctx.Done()
		stopped <- ctx.Err()
		return ctx.Err()
	}})
	s.Start(context.Background())

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	select {
	case err := <-stopped:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("job ctx error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("running job not cancelled by Stop")
	}
}
