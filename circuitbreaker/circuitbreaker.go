package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"songpool-api-go/logcolors"
	"songpool-api-go/services/notifier"

	log "github.com/sirupsen/logrus"
)

// State is the breaker's position in the closed/open/half-open cycle.
type State int

const (
	StateClosed   State = iota // normal operation, requests flow
	StateOpen                  // tripped, requests blocked until cooldown
	StateHalfOpen              // probing with a single test request
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards one upstream dependency. Consecutive failures trip
// it open; after the cooldown a single probe request decides whether it
// closes again.
type CircuitBreaker struct {
	name            string
	state           State
	failures        int
	threshold       int
	cooldown        time.Duration
	halfOpenTimeout time.Duration
	lastFailureTime time.Time
	halfOpenStart   time.Time
	mu              sync.RWMutex
}

type Config struct {
	Name            string
	Threshold       int           // consecutive failures before tripping
	Cooldown        time.Duration // time spent open before probing
	HalfOpenTimeout time.Duration // max wait for the probe before re-opening
}

func New(cfg Config) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.HalfOpenTimeout <= 0 {
		cfg.HalfOpenTimeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	return &CircuitBreaker{
		name:            cfg.Name,
		state:           StateClosed,
		threshold:       cfg.Threshold,
		cooldown:        cfg.Cooldown,
		halfOpenTimeout: cfg.HalfOpenTimeout,
	}
}

// Allow reports whether a request may proceed, advancing the state machine
// as a side effect. In half-open state exactly one probe gets through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.cooldown {
			cb.state = StateHalfOpen
			cb.halfOpenStart = time.Now()
			log.Infof("%s Cooldown passed, transitioning to HALF-OPEN", logcolors.CircuitBreakerPrefix(cb.name))
			return true
		}
		return false

	case StateHalfOpen:
		if time.Since(cb.halfOpenStart) >= cb.halfOpenTimeout {
			// The probe never reported back. Treat it as failed.
			cb.state = StateOpen
			cb.lastFailureTime = time.Now()
			log.Warnf("%s Half-open timeout expired, transitioning back to OPEN", logcolors.CircuitBreakerPrefix(cb.name))
			return false
		}
		// The probe is still in flight, hold everyone else.
		return false

	default:
		return true
	}
}

// RecordSuccess clears the failure streak and closes a half-open circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.state = StateClosed
		cb.failures = 0
		log.Infof("%s Probe succeeded, transitioning to CLOSED", logcolors.CircuitBreakerPrefix(cb.name))
		notifier.PublishCircuitBreakerRecovered(cb.name)
	case StateClosed:
		cb.failures = 0
	}
}

// RecordFailure extends the failure streak and trips the circuit once the
// threshold is reached. A failed half-open probe re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = time.Now()

	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		log.Warnf("%s Probe failed, transitioning back to OPEN", logcolors.CircuitBreakerPrefix(cb.name))
		notifier.PublishCircuitBreakerOpen(cb.name, cb.failures, cb.cooldown)
		return
	}

	if cb.state != StateClosed {
		return
	}

	// Raise a warning once the streak reaches 60% of the threshold.
	warningAt := (cb.threshold * 3) / 5
	if warningAt < 2 {
		warningAt = 2
	}
	if cb.failures == warningAt {
		notifier.PublishHighFailureRate(cb.name, cb.failures, cb.threshold)
	}

	if cb.failures >= cb.threshold {
		cb.state = StateOpen
		log.Warnf("%s Threshold reached (%d failures), transitioning to OPEN (cooldown: %v)",
			logcolors.CircuitBreakerPrefix(cb.name), cb.failures, cb.cooldown)
		notifier.PublishCircuitBreakerOpen(cb.name, cb.failures, cb.cooldown)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Stats returns the state, failure streak and last failure time in one shot.
func (cb *CircuitBreaker) Stats() (state State, failures int, lastFailure time.Time) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state, cb.failures, cb.lastFailureTime
}

// Reset forces the circuit closed and wipes the failure streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.lastFailureTime = time.Time{}
	cb.halfOpenStart = time.Time{}
	log.Infof("%s Manually reset to CLOSED", logcolors.CircuitBreakerPrefix(cb.name))
}

func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state == StateOpen
}

func (cb *CircuitBreaker) IsHalfOpen() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state == StateHalfOpen
}

// TimeUntilRetry reports how long until the circuit will let a request
// through again: remaining cooldown when open, remaining probe window when
// half-open, zero when closed.
func (cb *CircuitBreaker) TimeUntilRetry() time.Duration {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	switch cb.state {
	case StateOpen:
		if remaining := cb.cooldown - time.Since(cb.lastFailureTime); remaining > 0 {
			return remaining
		}
	case StateHalfOpen:
		if remaining := cb.halfOpenTimeout - time.Since(cb.halfOpenStart); remaining > 0 {
			return remaining
		}
	}
	return 0
}

func (cb *CircuitBreaker) Threshold() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.threshold
}
