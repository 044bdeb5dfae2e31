// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recovery

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
//
// # State Diagram
//
//	CLOSED ──[failure threshold]──► OPEN
//	   ▲                              │
//	   │                        [recovery timeout]
//	   └───[success]◄── HALF_OPEN ◄──┘
//	              [failure]──► OPEN
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota

	// CircuitOpen means the circuit has tripped and calls are rejected.
	CircuitOpen

	// CircuitHalfOpen means a limited number of probe calls is admitted.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is consecutive failures before opening.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long to stay open before probing.
	// Default: 300 seconds
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls caps the probes admitted while half-open.
	// Default: 3
	HalfOpenMaxCalls int

	// OnStateChange is called when the state transitions.
	OnStateChange func(key string, from, to CircuitState)
}

// DefaultBreakerConfig returns the pipeline's standard breaker policy.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  300 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// CircuitBreaker guards one operation key against cascading failure.
//
// A single probe success while half-open closes the circuit; a single
// probe failure reopens it.
//
// # Thread Safety
//
// Safe for concurrent use.
type CircuitBreaker struct {
	key    string
	config BreakerConfig

	mu            sync.Mutex
	state         CircuitState
	failures      int
	halfOpenCalls int
	openedAt      time.Time

	// now is a test seam.
	now func() time.Time
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(key string, config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 300 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 3
	}
	return &CircuitBreaker{
		key:    key,
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
	}
}

// Execute runs fn if the circuit admits it and records the outcome.
// Returns ErrCircuitOpen without calling fn when the circuit rejects.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err == nil)
	return err
}

// State returns the current state, applying the open→half-open
// transition if the recovery timeout has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// allow decides whether one call may proceed.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxCalls {
			return false
		}
		cb.halfOpenCalls++
		return true
	default:
		return false
	}
}

// maybeHalfOpen transitions OPEN → HALF_OPEN after the recovery timeout.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.config.RecoveryTimeout {
		cb.transition(CircuitHalfOpen)
		cb.halfOpenCalls = 0
	}
}

// record updates state from one call outcome.
func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		switch cb.state {
		case CircuitHalfOpen:
			cb.transition(CircuitClosed)
			cb.failures = 0
		case CircuitClosed:
			cb.failures = 0
		}
		return
	}

	switch cb.state {
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
		cb.openedAt = cb.now()
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transition(CircuitOpen)
			cb.openedAt = cb.now()
		}
	}
}

// transition switches state and fires the callback.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.key, from, to)
	}
}

// =============================================================================
// Breaker Set
// =============================================================================

// BreakerSet lazily maintains one breaker per operation key.
//
// # Thread Safety
//
// Safe for concurrent use.
type BreakerSet struct {
	config   BreakerConfig
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet creates an empty set sharing one configuration.
func NewBreakerSet(config BreakerConfig) *BreakerSet {
	return &BreakerSet{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for key, creating it on first use.
func (s *BreakerSet) Get(key string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[key]
	if !ok {
		cb = NewCircuitBreaker(key, s.config)
		s.breakers[key] = cb
	}
	return cb
}

// Execute runs fn under the breaker for key.
func (s *BreakerSet) Execute(key string, fn func() error) error {
	return s.Get(key).Execute(fn)
}

// States snapshots every breaker's state, keyed by operation.
func (s *BreakerSet) States() map[string]CircuitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]CircuitState, len(s.breakers))
	for k, cb := range s.breakers {
		out[k] = cb.State()
	}
	return out
}
