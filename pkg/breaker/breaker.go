// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package breaker provides a circuit breaker that guards calls to blob store
// backends.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	perrors "github.com/absmach/blobgate/pkg/errors"
	"github.com/absmach/blobgate/pkg/metrics"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration.
type Config struct {
	// Name labels the guarded backend in metrics.
	Name string
	// MaxFailures is the number of failures before opening the circuit.
	MaxFailures int
	// ResetTimeout is how long to wait in Open state before transitioning to HalfOpen.
	ResetTimeout time.Duration
	// SuccessThreshold is the number of consecutive successes in HalfOpen before closing.
	SuccessThreshold int
	// Timeout is the maximum time allowed for a call.
	Timeout time.Duration
	// Metrics receives state changes. May be nil.
	Metrics *metrics.Metrics
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	mu              sync.RWMutex
	config          Config
	state           State
	failures        int
	successes       int
	lastStateChange time.Time
	onStateChange   func(from, to State)
	now             func() time.Time
}

// New creates a new circuit breaker.
func New(config Config) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout == 0 {
		config.ResetTimeout = 60 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	cb := &CircuitBreaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
	cb.lastStateChange = cb.now()
	config.Metrics.SetBreakerState(config.Name, int(StateClosed))
	return cb
}

// Call executes fn if the circuit breaker allows it. fn receives a context
// bounded by the configured timeout. A rejected call fails with an error of
// kind Unavailable wrapping ErrCircuitOpen.
//
// Errors classified as client faults (not found, bad request and the like)
// do not count as backend failures.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return perrors.New(perrors.KindUnavailable, cb.config.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, cb.config.Timeout)
	defer cancel()

	err := fn(ctx)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && err != nil {
		err = perrors.New(perrors.KindTimeout, cb.config.Name, fmt.Errorf("%w: %w", perrors.ErrTimeout, err))
	}

	cb.afterCall(err)
	return err
}

// beforeCall checks if the call is allowed.
func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		// Check if we should transition to HalfOpen
		if cb.now().Sub(cb.lastStateChange) > cb.config.ResetTimeout {
			cb.setState(StateHalfOpen)
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen, StateClosed:
		return nil

	default:
		return ErrCircuitOpen
	}
}

// afterCall records the result of the call.
func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if backendFault(err) {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func backendFault(err error) bool {
	if err == nil {
		return false
	}
	switch perrors.KindOf(err) {
	case perrors.KindInternal, perrors.KindUnavailable, perrors.KindTimeout:
		return true
	default:
		return false
	}
}

// onFailure handles a failed call.
func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.successes = 0

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setState(StateOpen)
		}

	case StateHalfOpen:
		// Any failure in HalfOpen immediately opens the circuit
		cb.setState(StateOpen)
	}
}

// onSuccess handles a successful call.
func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0

	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
	}
}

// setState changes the circuit breaker state.
func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.now()

	// Reset counters on state change
	switch newState {
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
	case StateHalfOpen:
		cb.successes = 0
	case StateOpen:
		cb.config.Metrics.BreakerTripped(cb.config.Name)
	}
	cb.config.Metrics.SetBreakerState(cb.config.Name, int(newState))

	if cb.onStateChange != nil {
		go cb.onStateChange(oldState, newState)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// OnStateChange registers a callback for state changes.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Stats returns circuit breaker statistics.
func (cb *CircuitBreaker) Stats() (state State, failures, successes int) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state, cb.failures, cb.successes
}
