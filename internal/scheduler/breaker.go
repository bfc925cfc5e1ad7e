package scheduler

import (
	"time"
)

// BreakerState is the circuit breaker's current posture.
type BreakerState int

const (
	// BreakerClosed passes calls through and counts consecutive failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the reset timeout elapses.
	BreakerOpen
	// BreakerHalfOpen probes the resource; successes close, any failure reopens.
	BreakerHalfOpen
)

// String returns the string representation of BreakerState.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	// FailureThreshold opens the breaker after N consecutive failures (default: 3)
	FailureThreshold int

	// SuccessThreshold closes a half-open breaker after N consecutive successes (default: 3)
	SuccessThreshold int

	// ResetTimeout is how long an open breaker rejects before probing (default: 30s)
	ResetTimeout time.Duration
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 3,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker guards one shared resource id. Closed counts consecutive
// failures; at the threshold it opens and rejects until the reset timeout,
// after which the next Allow moves it to half-open. Half-open closes after
// enough consecutive successes and reopens on any failure.
//
// Not safe for concurrent use; the scheduler drives breakers from its
// coordinator loop only.
type Breaker struct {
	config    BreakerConfig
	state     BreakerState
	failures  int // consecutive failures while closed
	successes int // consecutive successes while half-open
	openedAt  time.Time
}

// NewBreaker creates a closed Breaker with default configuration.
func NewBreaker() *Breaker {
	return NewBreakerWithConfig(DefaultBreakerConfig())
}

// NewBreakerWithConfig creates a closed Breaker with custom configuration.
func NewBreakerWithConfig(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 3
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	return &Breaker{config: config, state: BreakerClosed}
}

// Allow reports whether a call may proceed. An open breaker whose reset
// timeout has elapsed transitions to half-open and admits the probe.
func (b *Breaker) Allow() bool {
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.openedAt) >= b.config.ResetTimeout {
			b.state = BreakerHalfOpen
			b.successes = 0
			return true
		}
		return false
	case BreakerHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess feeds a successful call into the breaker.
func (b *Breaker) RecordSuccess() {
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure feeds a failed call into the breaker.
func (b *Breaker) RecordFailure() {
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.trip()
		}
	case BreakerHalfOpen:
		b.trip()
	}
}

// State returns the breaker's current state without side effects.
func (b *Breaker) State() BreakerState {
	return b.state
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = time.Now()
	b.failures = 0
	b.successes = 0
}

// BreakerRegistry lazily creates one breaker per resource id.
type BreakerRegistry struct {
	config   BreakerConfig
	breakers map[string]*Breaker
}

// NewBreakerRegistry creates an empty registry using the given configuration
// for every breaker it mints.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a resource id, creating it closed on first use.
func (r *BreakerRegistry) Get(id string) *Breaker {
	b, ok := r.breakers[id]
	if !ok {
		b = NewBreakerWithConfig(r.config)
		r.breakers[id] = b
	}
	return b
}

// States returns a copy of every breaker's current state, keyed by id.
func (r *BreakerRegistry) States() map[string]BreakerState {
	states := make(map[string]BreakerState, len(r.breakers))
	for id, b := range r.breakers {
		states[id] = b.state
	}
	return states
}
