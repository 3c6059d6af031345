package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute when the call was short-circuited.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	// Closed lets calls through.
	Closed State = iota

	// Open rejects calls until the cool-down elapses.
	Open

	// HalfOpen lets a limited number of probe calls through.
	HalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Default: 5
	FailureThreshold int

	// CoolDown is how long the breaker stays open before probing.
	// Default: 5 seconds
	CoolDown time.Duration

	// HalfOpenProbes is the number of concurrent probe calls allowed in
	// HalfOpen. Default: 1
	HalfOpenProbes int

	// Now overrides the clock. Default: time.Now
	Now func() time.Time

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(from, to State)
}

// Counts is a snapshot of the breaker.
type Counts struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// Breaker is a circuit breaker. The zero value is not usable; call New.
type Breaker struct {
	cfg Config

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probes     int
	generation uint64
}

type transition struct {
	from, to State
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeNeutral
)

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 5 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Execute runs fn if the breaker allows it and records the result.
//
// It returns ErrOpen without calling fn when the breaker is open or the
// half-open probe slots are taken. Otherwise it returns fn's error. A non-nil
// error counts as a failure unless ctx is done by the time fn returns, in
// which case the call is released without a verdict.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := b.before()
	if err != nil {
		return err
	}

	err = fn(ctx)

	switch {
	case err == nil:
		b.after(gen, outcomeSuccess)
	case ctx.Err() != nil:
		b.after(gen, outcomeNeutral)
	default:
		b.after(gen, outcomeFailure)
	}
	return err
}

// State returns the current state, applying the Open to HalfOpen transition
// if the cool-down has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	state, tr := b.currentStateLocked(b.cfg.Now())
	b.mu.Unlock()

	b.notify(tr)
	return state
}

// Counts returns a snapshot of the breaker.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	state, tr := b.currentStateLocked(b.cfg.Now())
	c := Counts{State: state, ConsecutiveFailures: b.failures, OpenedAt: b.openedAt}
	b.mu.Unlock()

	b.notify(tr)
	return c
}

// Reset forces the breaker closed and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	tr := b.setStateLocked(Closed, b.cfg.Now())
	b.failures = 0
	b.mu.Unlock()

	b.notify(tr)
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	state, tr := b.currentStateLocked(b.cfg.Now())

	var err error
	switch state {
	case Open:
		err = ErrOpen
	case HalfOpen:
		if b.probes >= b.cfg.HalfOpenProbes {
			err = ErrOpen
		} else {
			b.probes++
		}
	}
	gen := b.generation
	b.mu.Unlock()

	b.notify(tr)
	return gen, err
}

func (b *Breaker) after(gen uint64, result outcome) {
	b.mu.Lock()
	now := b.cfg.Now()
	state, tr := b.currentStateLocked(now)

	// The call started under an earlier state; its result says nothing
	// about the current one.
	if gen != b.generation {
		b.mu.Unlock()
		b.notify(tr)
		return
	}

	if state == HalfOpen && b.probes > 0 {
		b.probes--
	}

	var next *transition
	switch result {
	case outcomeSuccess:
		b.failures = 0
		if state == HalfOpen {
			next = b.setStateLocked(Closed, now)
		}
	case outcomeFailure:
		switch state {
		case Closed:
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				next = b.setStateLocked(Open, now)
			}
		case HalfOpen:
			b.failures++
			next = b.setStateLocked(Open, now)
		}
	}
	b.mu.Unlock()

	b.notify(tr)
	b.notify(next)
}

// currentStateLocked moves Open to HalfOpen once the cool-down has elapsed.
// Caller must hold the lock.
func (b *Breaker) currentStateLocked(now time.Time) (State, *transition) {
	if b.state == Open && !now.Before(b.openedAt.Add(b.cfg.CoolDown)) {
		return HalfOpen, b.setStateLocked(HalfOpen, now)
	}
	return b.state, nil
}

// setStateLocked changes state and starts a new generation.
// Caller must hold the lock.
func (b *Breaker) setStateLocked(to State, now time.Time) *transition {
	if b.state == to {
		return nil
	}
	from := b.state
	b.state = to
	b.generation++
	b.probes = 0

	switch to {
	case Open:
		b.openedAt = now
	case Closed:
		b.failures = 0
		b.openedAt = time.Time{}
	}

	return &transition{from: from, to: to}
}

func (b *Breaker) notify(tr *transition) {
	if tr != nil && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(tr.from, tr.to)
	}
}
