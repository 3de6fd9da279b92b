package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int32

const (
	// CircuitClosed indicates normal operation.
	CircuitClosed CircuitState = iota
	// CircuitOpen indicates too many consecutive failures; calls fail fast.
	CircuitOpen
	// CircuitHalfOpen indicates the engine is being probed after the timeout.
	CircuitHalfOpen
)

// String returns a string representation of the CircuitState.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker stops hammering a failing OCR engine. After maxFailures
// consecutive failures it opens; after timeout it lets one probe through and
// closes again after recoveryThreshold successes.
type CircuitBreaker struct {
	state           atomic.Int32
	failureCount    atomic.Int64
	successCount    atomic.Int64
	lastFailureTime atomic.Int64

	maxFailures       int64
	timeout           time.Duration
	recoveryThreshold int64
	logger            *slog.Logger
	now               func() time.Time
}

// NewCircuitBreaker creates a circuit breaker in the closed state.
func NewCircuitBreaker(maxFailures int64, timeout time.Duration, recoveryThreshold int64, logger *slog.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{
		maxFailures:       maxFailures,
		timeout:           timeout,
		recoveryThreshold: recoveryThreshold,
		logger:            logger,
		now:               time.Now,
	}
	cb.state.Store(int32(CircuitClosed))
	return cb
}

// Call executes fn if the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if CircuitState(cb.state.Load()) == CircuitOpen {
		lastFailure := time.Unix(0, cb.lastFailureTime.Load())
		elapsed := cb.now().Sub(lastFailure)
		if elapsed <= cb.timeout {
			return fmt.Errorf("circuit breaker is open, last failure: %v ago", elapsed)
		}
		if cb.state.CompareAndSwap(int32(CircuitOpen), int32(CircuitHalfOpen)) {
			cb.successCount.Store(0)
			cb.logger.Info("Circuit breaker state transition",
				"from", CircuitOpen.String(),
				"to", CircuitHalfOpen.String(),
				"timeout_elapsed", elapsed)
		}
	}

	err := fn()
	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
	return err
}

func (cb *CircuitBreaker) recordFailure() {
	cb.lastFailureTime.Store(cb.now().UnixNano())
	failures := cb.failureCount.Add(1)
	current := CircuitState(cb.state.Load())

	// Any failure while probing reopens the circuit.
	if current == CircuitHalfOpen || (failures >= cb.maxFailures && current == CircuitClosed) {
		cb.state.Store(int32(CircuitOpen))
		cb.successCount.Store(0)
		cb.logger.Warn("Circuit breaker state transition",
			"from", current.String(),
			"to", CircuitOpen.String(),
			"failure_count", failures,
			"max_failures", cb.maxFailures)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.failureCount.Store(0)

	if CircuitState(cb.state.Load()) != CircuitHalfOpen {
		return
	}
	successes := cb.successCount.Add(1)
	if successes >= cb.recoveryThreshold && cb.state.CompareAndSwap(int32(CircuitHalfOpen), int32(CircuitClosed)) {
		cb.logger.Info("Circuit breaker state transition",
			"from", CircuitHalfOpen.String(),
			"to", CircuitClosed.String(),
			"success_count", successes,
			"recovery_threshold", cb.recoveryThreshold)
	}
}

// GetState returns the current circuit breaker state.
func (cb *CircuitBreaker) GetState() CircuitState {
	return CircuitState(cb.state.Load())
}

// breakerRecognizer guards a TextRecognizer with a CircuitBreaker. "No text"
// results count as successes; only engine errors trip the breaker.
type breakerRecognizer struct {
	next    TextRecognizer
	breaker *CircuitBreaker
}

func newBreakerRecognizer(next TextRecognizer, breaker *CircuitBreaker) *breakerRecognizer {
	return &breakerRecognizer{next: next, breaker: breaker}
}

// Recognize runs the wrapped recognizer through the breaker. A panic inside
// the engine is turned into an error so it counts as a failure.
func (r *breakerRecognizer) Recognize(ctx context.Context, region gocv.Mat) (string, error) {
	var text string
	err := r.breaker.Call(func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				text, err = "", fmt.Errorf("recognizer panic: %v", p)
			}
		}()
		text, err = r.next.Recognize(ctx, region)
		return err
	})
	return text, err
}
