// Package ingest implements the Ingestion Adapters (spec §4.1 inbound
// side, §6): MQTT, SignalR, the REST fallback poller, and replay
// injection into the same pipeline, plus the Normalizer and the
// application of normalized events onto Session state.
package ingest

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// RetryConfig configures exponential backoff retry for an adapter's
// reconnect loop. Adapted from sims/connection_handler.go's RetryConfig,
// renamed to this package's adapter terminology.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// FlatRetryConfig returns the SignalR adapter's retry policy (spec §5:
// "flat 60s retry, give up after 3 attempts").
func FlatRetryConfig(interval time.Duration, maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   maxAttempts,
		InitialDelay:  interval,
		MaxDelay:      interval,
		BackoffFactor: 1,
	}
}

// IndefiniteBackoffConfig returns the MQTT adapter's reconnect policy
// (indefinite, exponential up to a cap).
func IndefiniteBackoffConfig(initialDelay, maxDelay time.Duration) RetryConfig {
	return RetryConfig{
		MaxAttempts:   0, // 0 means unbounded
		InitialDelay:  initialDelay,
		MaxDelay:      maxDelay,
		BackoffFactor: 2,
		Jitter:        true,
	}
}

// Delay returns the backoff delay for the given zero-based attempt number.
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter {
		d = d * (0.85 + 0.3*rand.Float64())
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt (zero-based, about to be made) would
// exceed MaxAttempts. A MaxAttempts of 0 never exhausts.
func (c RetryConfig) Exhausted(attempt int) bool {
	return c.MaxAttempts > 0 && attempt >= c.MaxAttempts
}

// CircuitState mirrors the classic closed/open/half-open circuit breaker
// states (spec §5 resilience, adapted from sims/connection_handler.go).
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker trips an adapter's reconnect attempts off after
// FailureThreshold consecutive failures, and probes recovery after
// RecoveryTimeout. Adapted near-verbatim from sims/connection_handler.go,
// renamed to this package's terminology.
type CircuitBreaker struct {
	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

// NewCircuitBreaker returns a closed circuit breaker.
func NewCircuitBreaker(failureThreshold, successThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            CircuitClosed,
	}
}

// CanExecute reports whether a reconnect attempt is currently permitted.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) >= cb.recoveryTimeout {
			cb.state = CircuitHalfOpen
			cb.successCount = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess registers a successful connection attempt.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = CircuitClosed
			cb.failureCount = 0
		}
	case CircuitClosed:
		cb.failureCount = 0
	}
}

// RecordFailure registers a failed connection attempt.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailureTime = time.Now()
	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitOpen
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.state = CircuitOpen
		}
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
