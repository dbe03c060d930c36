package resilience

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type BreakerConfig struct {
	FailureRatio      float64
	MinimumThroughput int
	SamplingDuration  time.Duration
	BreakDuration     time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		c.FailureRatio = 0.5
	}
	if c.MinimumThroughput <= 0 {
		c.MinimumThroughput = 10
	}
	if c.SamplingDuration <= 0 {
		c.SamplingDuration = time.Minute
	}
	if c.BreakDuration <= 0 {
		c.BreakDuration = time.Minute
	}
	return c
}

const bucketCount = 10

// bucket holds samples for one slice of the sampling window.
type bucket struct {
	slot     int64
	total    int
	failures int
}

type transition struct {
	from, to State
}

// Breaker is a failure-ratio circuit breaker over a rolling window.
//
//   - closed: calls pass; samples land in time buckets
//   - open: calls fail fast until the break elapses
//   - half-open: one trial call; success closes, failure reopens
type Breaker struct {
	name string
	now  func() time.Time

	mu       sync.Mutex
	cfg      BreakerConfig
	state    State
	gen      uint64
	openedAt time.Time
	trial    bool
	buckets  [bucketCount]bucket

	onChange func(name string, from, to State)
}

func newBreaker(name string, cfg BreakerConfig, now func() time.Time, onChange func(string, State, State)) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{name: name, cfg: cfg.withDefaults(), now: now, onChange: onChange}
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) setConfig(cfg BreakerConfig) {
	b.mu.Lock()
	b.cfg = cfg.withDefaults()
	b.mu.Unlock()
}

// Allow admits a call. On success the returned done func must be called once
// with the call's result.
func (b *Breaker) Allow() (done func(error), err error) {
	b.mu.Lock()
	var changes []transition
	now := b.now()
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cfg.BreakDuration {
		changes = append(changes, b.setState(StateHalfOpen, now))
	}

	switch b.state {
	case StateOpen:
		err = circuitOpen(b.name)
	case StateHalfOpen:
		if b.trial {
			err = circuitOpen(b.name)
			break
		}
		b.trial = true
		gen := b.gen
		done = func(res error) { b.recordTrial(gen, res) }
	default:
		gen := b.gen
		done = func(res error) { b.record(gen, res) }
	}
	b.mu.Unlock()
	b.notify(changes)
	return done, err
}

func (b *Breaker) record(gen uint64, res error) {
	o := classifyOutcome(res)
	if o == outcomeIgnore {
		return
	}
	b.mu.Lock()
	if b.gen != gen || b.state != StateClosed {
		b.mu.Unlock()
		return
	}
	now := b.now()
	bk := b.bucketAt(now)
	bk.total++
	if o == outcomeFailure {
		bk.failures++
	}

	var changes []transition
	if o == outcomeFailure {
		total, failures := b.window(now)
		if total >= b.cfg.MinimumThroughput && float64(failures)/float64(total) >= b.cfg.FailureRatio {
			changes = append(changes, b.setState(StateOpen, now))
		}
	}
	b.mu.Unlock()
	b.notify(changes)
}

func (b *Breaker) recordTrial(gen uint64, res error) {
	o := classifyOutcome(res)
	b.mu.Lock()
	if b.gen != gen || b.state != StateHalfOpen {
		b.mu.Unlock()
		return
	}
	b.trial = false
	var changes []transition
	switch o {
	case outcomeSuccess:
		changes = append(changes, b.setState(StateClosed, b.now()))
	case outcomeFailure:
		changes = append(changes, b.setState(StateOpen, b.now()))
	}
	b.mu.Unlock()
	b.notify(changes)
}

func (b *Breaker) width() int64 {
	w := int64(b.cfg.SamplingDuration) / bucketCount
	if w <= 0 {
		w = 1
	}
	return w
}

func (b *Breaker) bucketAt(now time.Time) *bucket {
	slot := now.UnixNano() / b.width()
	bk := &b.buckets[slot%bucketCount]
	if bk.slot != slot {
		*bk = bucket{slot: slot}
	}
	return bk
}

// window sums buckets inside the sampling duration ending at now.
func (b *Breaker) window(now time.Time) (total, failures int) {
	cur := now.UnixNano() / b.width()
	for _, bk := range b.buckets {
		if bk.slot > cur-bucketCount && bk.slot <= cur {
			total += bk.total
			failures += bk.failures
		}
	}
	return total, failures
}

// setState must be called with mu held.
func (b *Breaker) setState(to State, now time.Time) transition {
	from := b.state
	b.state = to
	b.gen++
	b.trial = false
	switch to {
	case StateOpen:
		b.openedAt = now
	case StateClosed:
		b.buckets = [bucketCount]bucket{}
	}
	return transition{from: from, to: to}
}

func (b *Breaker) notify(changes []transition) {
	if b.onChange == nil {
		return
	}
	for _, c := range changes {
		b.onChange(b.name, c.from, c.to)
	}
}

// State returns the current state, moving an expired open breaker to
// half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	var changes []transition
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.BreakDuration {
		changes = append(changes, b.setState(StateHalfOpen, b.now()))
	}
	s := b.state
	b.mu.Unlock()
	b.notify(changes)
	return s
}

type BreakerSnapshot struct {
	Name     string    `json:"name"`
	State    string    `json:"state"`
	Total    int       `json:"total"`
	Failures int       `json:"failures"`
	OpenedAt time.Time `json:"opened_at,omitempty"`
}

func (b *Breaker) Snapshot() BreakerSnapshot {
	st := b.State()
	b.mu.Lock()
	defer b.mu.Unlock()
	total, failures := b.window(b.now())
	snap := BreakerSnapshot{Name: b.name, State: st.String(), Total: total, Failures: failures}
	if st != StateClosed {
		snap.OpenedAt = b.openedAt
	}
	return snap
}
