// Package circuitbreaker implements a standard closed/open/half-open
// breaker, used by peerproxy to stop hammering a peer node that is
// down instead of dialing it on every request (SPEC_FULL "Circuit
// breaking for unreachable peers"). Adapted from the teacher's
// connection-manager breaker shape.
package circuitbreaker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/endorses/packhound/internal/pkg/logger"
)

// State is the breaker's current state.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // failing, reject immediately
	StateHalfOpen              // probing whether the peer recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker wraps calls to a flaky remote with failure tracking.
type CircuitBreaker struct {
	maxFailures      uint32
	resetTimeout     time.Duration
	halfOpenMaxCalls uint32

	state            atomic.Int32
	consecutiveFails atomic.Uint32
	lastFailTime     atomic.Int64
	halfOpenCalls    atomic.Uint32

	totalAttempts   atomic.Uint64
	totalSuccesses  atomic.Uint64
	totalFailures   atomic.Uint64
	totalRejections atomic.Uint64

	name string
	mu   sync.Mutex
}

// Config configures a CircuitBreaker; zero values fall back to
// MaxFailures=5, ResetTimeout=30s, HalfOpenMaxCalls=3.
type Config struct {
	Name             string
	MaxFailures      uint32
	ResetTimeout     time.Duration
	HalfOpenMaxCalls uint32
}

// New creates a breaker starting in the closed state.
func New(config Config) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout == 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxCalls == 0 {
		config.HalfOpenMaxCalls = 3
	}
	cb := &CircuitBreaker{
		name:             config.Name,
		maxFailures:      config.MaxFailures,
		resetTimeout:     config.ResetTimeout,
		halfOpenMaxCalls: config.HalfOpenMaxCalls,
	}
	cb.state.Store(int32(StateClosed))
	return cb
}

// Call runs fn through the breaker: rejected immediately while open
// (until resetTimeout elapses), gated to halfOpenMaxCalls probes while
// half-open, unrestricted while closed.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.totalAttempts.Add(1)

	switch State(cb.state.Load()) {
	case StateOpen:
		lastFail := time.Unix(0, cb.lastFailTime.Load())
		if time.Since(lastFail) >= cb.resetTimeout {
			cb.toHalfOpen()
		} else {
			cb.totalRejections.Add(1)
			return fmt.Errorf("circuit breaker %q is open (last failure %v ago)",
				cb.name, time.Since(lastFail).Round(time.Second))
		}
	case StateHalfOpen:
		if cb.halfOpenCalls.Add(1) > cb.halfOpenMaxCalls {
			cb.halfOpenCalls.Add(^uint32(0))
			cb.totalRejections.Add(1)
			return fmt.Errorf("circuit breaker %q half-open limit exceeded", cb.name)
		}
	case StateClosed:
	}

	if err := fn(); err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.totalSuccesses.Add(1)
	switch State(cb.state.Load()) {
	case StateHalfOpen:
		cb.toClosed()
	case StateClosed:
		cb.consecutiveFails.Store(0)
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.totalFailures.Add(1)
	cb.lastFailTime.Store(time.Now().UnixNano())

	if State(cb.state.Load()) == StateHalfOpen {
		cb.toOpen()
		return
	}
	if cb.consecutiveFails.Add(1) >= cb.maxFailures {
		cb.toOpen()
	}
}

func (cb *CircuitBreaker) toClosed() {
	old := State(cb.state.Swap(int32(StateClosed)))
	if old != StateClosed {
		logger.Info("circuit breaker closed", "name", cb.name, "previous_state", old)
	}
	cb.consecutiveFails.Store(0)
	cb.halfOpenCalls.Store(0)
}

func (cb *CircuitBreaker) toHalfOpen() {
	old := State(cb.state.Swap(int32(StateHalfOpen)))
	if old != StateHalfOpen {
		logger.Info("circuit breaker half-open", "name", cb.name, "previous_state", old)
	}
	cb.halfOpenCalls.Store(0)
}

func (cb *CircuitBreaker) toOpen() {
	old := State(cb.state.Swap(int32(StateOpen)))
	if old != StateOpen {
		logger.Warn("circuit breaker opened", "name", cb.name,
			"consecutive_failures", cb.consecutiveFails.Load(), "reset_timeout", cb.resetTimeout)
	}
}

// GetState returns the breaker's current state.
func (cb *CircuitBreaker) GetState() State { return State(cb.state.Load()) }

// IsOpen reports whether the breaker is currently rejecting calls.
func (cb *CircuitBreaker) IsOpen() bool { return cb.GetState() == StateOpen }

// Metrics is a snapshot of the breaker's counters.
type Metrics struct {
	State            State
	ConsecutiveFails uint32
	TotalAttempts    uint64
	TotalSuccesses   uint64
	TotalFailures    uint64
	TotalRejections  uint64
	LastFailTime     time.Time
}

// GetMetrics returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) GetMetrics() Metrics {
	return Metrics{
		State:            cb.GetState(),
		ConsecutiveFails: cb.consecutiveFails.Load(),
		TotalAttempts:    cb.totalAttempts.Load(),
		TotalSuccesses:   cb.totalSuccesses.Load(),
		TotalFailures:    cb.totalFailures.Load(),
		TotalRejections:  cb.totalRejections.Load(),
		LastFailTime:     time.Unix(0, cb.lastFailTime.Load()),
	}
}

// Reset forces the breaker back to closed, for operator intervention.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.toClosed()
}

// ForceOpen forces the breaker open, for maintenance windows.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.toOpen()
}
