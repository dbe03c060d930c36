package resilience

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"adbot/internal/eventbus"
	logx "adbot/pkg/logx"
)

type Config struct {
	Retry   RetryConfig
	Breaker BreakerConfig
}

func (c Config) withDefaults() Config {
	c.Retry = c.Retry.withDefaults()
	c.Breaker = c.Breaker.withDefaults()
	return c
}

type Option func(*Executor)

func WithLogger(log logx.Logger) Option { return func(e *Executor) { e.log = log } }

// WithBus publishes breaker transitions as eventbus.TopicCircuit events.
func WithBus(bus eventbus.Bus) Option { return func(e *Executor) { e.bus = bus } }

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSeed fixes the jitter source.
func WithSeed(seed int64) Option { return func(e *Executor) { e.rng = newRand(seed) } }

// Executor runs calls under retry and per-name circuit breakers.
//
// Do retries inside breaker admission: every attempt asks the breaker first,
// and a rejected attempt ends the call with ErrCircuitOpen. Retry and Guard
// apply one half each.
type Executor struct {
	mu       sync.RWMutex
	cfg      Config
	breakers map[string]*Breaker

	rngMu sync.Mutex
	rng   *rand.Rand

	log logx.Logger
	bus eventbus.Bus
	now func() time.Time
}

func New(cfg Config, opts ...Option) *Executor {
	e := &Executor{
		cfg:      cfg.withDefaults(),
		breakers: map[string]*Breaker{},
		log:      logx.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.rng == nil {
		e.rng = newRand(0)
	}
	return e
}

// Apply swaps retry and breaker settings, including for existing breakers.
func (e *Executor) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	e.cfg = cfg
	list := make([]*Breaker, 0, len(e.breakers))
	for _, b := range e.breakers {
		list = append(list, b)
	}
	e.mu.Unlock()
	for _, b := range list {
		b.setConfig(cfg.Breaker)
	}
}

func (e *Executor) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func (e *Executor) jitterRand() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}

// Breaker returns the breaker for name, creating it on first use.
func (e *Executor) Breaker(name string) *Breaker {
	e.mu.RLock()
	b := e.breakers[name]
	e.mu.RUnlock()
	if b != nil {
		return b
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if b = e.breakers[name]; b == nil {
		b = newBreaker(name, e.cfg.Breaker, e.now, e.onChange)
		e.breakers[name] = b
	}
	return b
}

func (e *Executor) onChange(name string, from, to State) {
	fields := []logx.Field{
		logx.String("name", name),
		logx.String("from", from.String()),
		logx.String("to", to.String()),
	}
	if to == StateOpen {
		e.log.Warn("circuit opened", fields...)
	} else {
		e.log.Info("circuit state changed", fields...)
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{
			Type: eventbus.TopicCircuit,
			Time: e.now(),
			Data: eventbus.CircuitChange{Name: name, From: from.String(), To: to.String()},
		})
	}
}

func (e *Executor) guarded(name string, fn attemptFunc) attemptFunc {
	b := e.Breaker(name)
	return func(ctx context.Context) error {
		done, err := b.Allow()
		if err != nil {
			return err
		}
		err = fn(ctx)
		done(err)
		return err
	}
}

// Do runs fn with retries, each attempt admitted by the breaker for name.
func (e *Executor) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return e.retryLoop(ctx, name, e.config().Retry, e.guarded(name, fn))
}

// Retry runs fn with retries only.
func (e *Executor) Retry(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return e.retryLoop(ctx, name, e.config().Retry, fn)
}

// Guard runs fn once behind the breaker for name.
func (e *Executor) Guard(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.guarded(name, fn)(ctx)
}

// State reports the breaker state for name. Unknown names are closed.
func (e *Executor) State(name string) State {
	e.mu.RLock()
	b := e.breakers[name]
	e.mu.RUnlock()
	if b == nil {
		return StateClosed
	}
	return b.State()
}

// Breakers returns a snapshot of every breaker sorted by name.
func (e *Executor) Breakers() []BreakerSnapshot {
	e.mu.RLock()
	list := make([]*Breaker, 0, len(e.breakers))
	for _, b := range e.breakers {
		list = append(list, b)
	}
	e.mu.RUnlock()
	out := make([]BreakerSnapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OpenCircuits names the breakers that are not closed.
func (e *Executor) OpenCircuits() []string {
	var out []string
	for _, s := range e.Breakers() {
		if s.State != StateClosed.String() {
			out = append(out, s.Name)
		}
	}
	return out
}

// DoValue is Do for calls that return a value.
func DoValue[T any](ctx context.Context, e *Executor, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// RetryValue is Retry for calls that return a value.
func RetryValue[T any](ctx context.Context, e *Executor, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Retry(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// GuardValue is Guard for calls that return a value.
func GuardValue[T any](ctx context.Context, e *Executor, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Guard(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}
