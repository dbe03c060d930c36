package resilience

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"adbot/internal/eventbus"
	"adbot/internal/transport"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

var errGateway = transport.NewError(502, "Bad Gateway", 0, nil)

func TestRetryCountsAttempts(t *testing.T) {
	t.Parallel()
	e := New(Config{Retry: fastRetry(3)}, WithSeed(1))

	calls := 0
	err := e.Retry(context.Background(), "send", func(context.Context) error {
		calls++
		return errGateway
	})
	var ex *RetriesExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 4 {
		t.Fatalf("Retry() error = %v, want RetriesExhaustedError with 4 attempts", err)
	}
	if !errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, errGateway) {
		t.Fatalf("Retry() error %v does not match sentinel and cause", err)
	}
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()
	e := New(Config{Retry: fastRetry(3)})
	calls := 0
	err := e.Retry(context.Background(), "send", func(context.Context) error {
		calls++
		if calls < 3 {
			return context.DeadlineExceeded
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("Retry() = %v after %d calls, want nil after 3", err, calls)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()
	e := New(Config{Retry: fastRetry(3)})
	tests := []struct {
		name string
		err  error
	}{
		{"chat not found", transport.NewError(400, "Bad Request: chat not found", 0, nil)},
		{"plain", errors.New("boom")},
		{"no retry", NoRetry(errGateway)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := e.Retry(context.Background(), "x", func(context.Context) error {
				calls++
				return tt.err
			})
			if calls != 1 || !errors.Is(err, tt.err) {
				t.Fatalf("calls = %d err = %v, want one call returning original", calls, err)
			}
		})
	}
}

func TestRetryCancelledWaitIsNotAnAttempt(t *testing.T) {
	t.Parallel()
	e := New(Config{Retry: RetryConfig{MaxRetries: 3, InitialDelay: time.Hour, MaxDelay: time.Hour}})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := e.Retry(ctx, "x", func(context.Context) error {
		calls++
		return errGateway
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("Retry() = %v after %d calls, want context.Canceled after 1", err, calls)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", transport.NewError(429, "Too Many Requests", time.Second, nil), true},
		{"503", transport.NewError(503, "Service Unavailable", 0, nil), true},
		{"400", transport.NewError(400, "Bad Request: message text is empty", 0, nil), false},
		{"blocked", transport.NewError(403, "Forbidden: bot was blocked by the user", 0, nil), false},
		{"timeout", context.DeadlineExceeded, true},
		{"cancel", context.Canceled, false},
		{"net", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"hint", RetryAfter(errors.New("slow down"), time.Second), true},
		{"open", circuitOpen("x"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Fatalf("IsRetryable(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}.withDefaults()
	tests := []struct {
		retry int
		err   error
		want  time.Duration
	}{
		{1, errGateway, 100 * time.Millisecond},
		{2, errGateway, 200 * time.Millisecond},
		{3, errGateway, 400 * time.Millisecond},
		{10, errGateway, 5 * time.Second},
		{1, transport.NewError(429, "flood", 2*time.Second, nil), 2 * time.Second},
		{1, RetryAfter(errGateway, time.Minute), 5 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(cfg, tt.retry, tt.err, nil); got != tt.want {
			t.Fatalf("backoffDelay(%d, %v) = %v, want %v", tt.retry, tt.err, got, tt.want)
		}
	}

	cfg.Jitter = 0.2
	for i := 0; i < 50; i++ {
		d := backoffDelay(cfg, 2, errGateway, newRand(int64(i+1)).Float64)
		if d < 160*time.Millisecond || d > 240*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±20%% of 200ms", d)
		}
	}
}

func newBreakerExecutor(clk *fakeClock, bus eventbus.Bus) *Executor {
	opts := []Option{WithClock(clk.Now)}
	if bus != nil {
		opts = append(opts, WithBus(bus))
	}
	return New(Config{
		Retry:   fastRetry(3),
		Breaker: BreakerConfig{FailureRatio: 0.5, MinimumThroughput: 10, SamplingDuration: time.Minute, BreakDuration: time.Minute},
	}, opts...)
}

func fail(context.Context) error { return errors.New("remote down") }
func ok(context.Context) error   { return nil }

func TestBreakerOpensOnRatio(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newBreakerExecutor(clk, nil)
	ctx := context.Background()

	// 9 samples never trip regardless of ratio.
	for i := 0; i < 9; i++ {
		_ = e.Guard(ctx, "api", fail)
	}
	if got := e.State("api"); got != StateClosed {
		t.Fatalf("state after 9 failures = %v, want closed", got)
	}
	_ = e.Guard(ctx, "api", fail)
	if got := e.State("api"); got != StateOpen {
		t.Fatalf("state after 10 failures = %v, want open", got)
	}

	called := false
	err := e.Guard(ctx, "api", func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("Guard() on open circuit = %v (called=%v), want ErrCircuitOpen without call", err, called)
	}
}

func TestBreakerStaysClosedBelowRatio(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newBreakerExecutor(clk, nil)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_ = e.Guard(ctx, "api", ok)
	}
	for i := 0; i < 5; i++ {
		_ = e.Guard(ctx, "api", fail)
	}
	if got := e.State("api"); got != StateClosed {
		t.Fatalf("state at 5/11 failures = %v, want closed", got)
	}
}

func TestBreakerForgetsOldSamples(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newBreakerExecutor(clk, nil)
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		_ = e.Guard(ctx, "api", fail)
	}
	clk.Advance(2 * time.Minute)
	_ = e.Guard(ctx, "api", fail)
	if got := e.State("api"); got != StateClosed {
		t.Fatalf("state = %v, want closed once old samples age out", got)
	}
}

func TestBreakerHalfOpenTrial(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, eventbus.TopicCircuit)
	defer unsub()
	e := newBreakerExecutor(clk, bus)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = e.Guard(ctx, "api", fail)
	}
	clk.Advance(time.Minute)

	b := e.Breaker("api")
	done, err := b.Allow()
	if err != nil {
		t.Fatalf("trial Allow() error = %v", err)
	}
	if _, err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second Allow() during trial = %v, want ErrCircuitOpen", err)
	}
	done(errors.New("still down"))
	if got := e.State("api"); got != StateOpen {
		t.Fatalf("state after failed trial = %v, want open", got)
	}

	clk.Advance(time.Minute)
	if err := e.Guard(ctx, "api", ok); err != nil {
		t.Fatalf("trial call error = %v", err)
	}
	if got := e.State("api"); got != StateClosed {
		t.Fatalf("state after successful trial = %v, want closed", got)
	}

	want := []string{"closed>open", "open>half_open", "half_open>open", "open>half_open", "half_open>closed"}
	for i, w := range want {
		select {
		case ev := <-events:
			c := ev.Data.(eventbus.CircuitChange)
			if got := c.From + ">" + c.To; got != w || c.Name != "api" {
				t.Fatalf("event %d = %s (%s), want %s", i, got, c.Name, w)
			}
		default:
			t.Fatalf("missing event %d (%s)", i, w)
		}
	}
}

func TestChatScopedErrorsDoNotTrip(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newBreakerExecutor(clk, nil)
	ctx := context.Background()
	blocked := transport.NewError(403, "Forbidden: bot was blocked by the user", 0, nil)
	for i := 0; i < 20; i++ {
		_ = e.Guard(ctx, "api", func(context.Context) error { return blocked })
		_ = e.Guard(ctx, "api", func(context.Context) error { return context.Canceled })
	}
	if got := e.State("api"); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestRejectedIsNotRetriedOrCounted(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newBreakerExecutor(clk, nil)
	ctx := context.Background()
	errSlot := errors.New("no slot")

	calls := 0
	for i := 0; i < 20; i++ {
		err := e.Do(ctx, "api", func(context.Context) error {
			calls++
			return Rejected(errSlot)
		})
		if !errors.Is(err, errSlot) || !IsRejected(err) {
			t.Fatalf("Do() error = %v, want rejected %v", err, errSlot)
		}
	}
	if calls != 20 {
		t.Fatalf("calls = %d, want 20 (no retries)", calls)
	}
	if got := e.State("api"); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}

	// A rejected trial frees the half-open slot without a transition.
	for i := 0; i < 10; i++ {
		_ = e.Guard(ctx, "api", fail)
	}
	clk.Advance(time.Minute)
	_ = e.Guard(ctx, "api", func(context.Context) error { return Rejected(errSlot) })
	if got := e.State("api"); got != StateHalfOpen {
		t.Fatalf("state after rejected trial = %v, want half_open", got)
	}
	if err := e.Guard(ctx, "api", ok); err != nil {
		t.Fatalf("next trial error = %v", err)
	}
	if got := e.State("api"); got != StateClosed {
		t.Fatalf("state after successful trial = %v, want closed", got)
	}
}

func TestDoFailsFastWhenBreakerOpensMidRetry(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newBreakerExecutor(clk, nil)
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		_ = e.Guard(ctx, "api", fail)
	}

	calls := 0
	err := e.Do(ctx, "api", func(context.Context) error {
		calls++
		return errGateway
	})
	if !errors.Is(err, ErrCircuitOpen) || calls != 1 {
		t.Fatalf("Do() = %v after %d calls, want ErrCircuitOpen after 1", err, calls)
	}
}

func TestDoValueReturnsResult(t *testing.T) {
	t.Parallel()
	e := New(Config{Retry: fastRetry(2)})
	calls := 0
	v, err := DoValue(context.Background(), e, "api", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errGateway
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("DoValue() = %d, %v, want 42", v, err)
	}
	snaps := e.Breakers()
	if len(snaps) != 1 || snaps[0].Name != "api" || snaps[0].Total != 2 || snaps[0].Failures != 1 {
		t.Fatalf("Breakers() = %+v", snaps)
	}
	if got := e.OpenCircuits(); len(got) != 0 {
		t.Fatalf("OpenCircuits() = %v, want none", got)
	}
}

func TestApplyUpdatesExistingBreakers(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newBreakerExecutor(clk, nil)
	ctx := context.Background()
	_ = e.Guard(ctx, "api", ok)

	e.Apply(Config{Breaker: BreakerConfig{MinimumThroughput: 2}})
	_ = e.Guard(ctx, "api", fail)
	if got := e.State("api"); got != StateOpen {
		t.Fatalf("state = %v, want open with lowered throughput", got)
	}
}
