// Package health tracks upstream availability and serves the readiness endpoints.
package health

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // requests flow
	StateOpen                  // requests rejected
	StateHalfOpen              // one probe in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker is a circuit breaker around the upstream API. It is consulted once
// per request before any upstream call; it never interrupts a stream already
// in progress.
type Breaker struct {
	mu sync.Mutex

	state       State
	failures    int
	probing     bool
	openedAt    time.Time
	lastFailure time.Time

	failureThreshold      int
	recoveryProbeInterval time.Duration
	now                   func() time.Time
	onChange              func(from, to State)
}

func NewBreaker(failureThreshold int, recoveryProbeInterval time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &Breaker{
		state:                 StateClosed,
		failureThreshold:      failureThreshold,
		recoveryProbeInterval: recoveryProbeInterval,
		now:                   time.Now,
	}
}

// OnChange registers a callback fired on every state transition. It is called
// with the breaker's lock held and must not call back into the breaker.
func (b *Breaker) OnChange(fn func(from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// currentState moves OPEN to HALF_OPEN once the probe interval has elapsed.
// Must be called with mu held.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.recoveryProbeInterval {
		b.transition(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to != StateHalfOpen {
		b.probing = false
	}
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// Allow reports whether a request may go upstream. In HALF_OPEN only the first
// caller is let through until its outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.failureThreshold {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// Release gives back a HALF_OPEN probe whose outcome is unknown, such as a
// request abandoned by its client before the upstream answered.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// Snapshot is the breaker state reported by the readiness endpoint.
type Snapshot struct {
	State       string    `json:"state"`
	Failures    int       `json:"consecutive_failures"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:       b.currentState().String(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}
