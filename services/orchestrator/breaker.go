package orchestrator

import (
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state for one provider
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateHalfOpen BreakerState = "half-open"
	StateOpen     BreakerState = "open"
)

const (
	defaultFailureThreshold = 5
	defaultRecoveryTimeout  = 60 * time.Second
)

// Breaker tracks consecutive failures for a single provider. The circuit
// opens after FailureThreshold consecutive failures and permits a half-open
// trial once RecoveryTimeout has elapsed since the last failure.
//
// This is deliberately a simple consecutive-failure breaker, not a
// sliding-window rate-based one.
type Breaker struct {
	mu              sync.Mutex
	failures        int
	lastFailure     time.Time
	state           BreakerState
	threshold       int
	recoveryTimeout time.Duration

	now func() time.Time // injectable clock for tests
}

// NewBreaker creates a breaker with the given threshold and recovery timeout.
// Non-positive values fall back to the defaults (5 failures, 60s).
func NewBreaker(threshold int, recoveryTimeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = defaultRecoveryTimeout
	}
	return &Breaker{
		state:           StateClosed,
		threshold:       threshold,
		recoveryTimeout: recoveryTimeout,
		now:             time.Now,
	}
}

// ShouldTry reports whether a call may be attempted. When the circuit is open
// and the recovery timeout has elapsed, the state moves to half-open and a
// single trial is permitted.
func (b *Breaker) ShouldTry() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) < b.recoveryTimeout {
			return false
		}
		b.state = StateHalfOpen
	}
	return true
}

// RegisterFailure records a failed attempt, opening the circuit once the
// consecutive-failure count reaches the threshold.
func (b *Breaker) RegisterFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	if b.failures >= b.threshold {
		b.state = StateOpen
	}
}

// RegisterSuccess resets the failure count and closes the circuit.
func (b *Breaker) RegisterSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = StateClosed
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Failures returns the current consecutive-failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.failures
}
