package utils

import (
	"errors"
	"sync"
	"time"
)

var ErrBreakerOpen = errors.New("circuit breaker is open")

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
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling a failing backend for a cooldown after
// maxFailures consecutive failures, then lets a single trial call through.
type CircuitBreaker struct {
	name        string
	maxFailures uint32
	cooldown    time.Duration
	now         func() time.Time

	mutex               sync.Mutex
	state               State
	consecutiveFailures uint32
	expiry              time.Time
	trialInFlight       bool
}

func NewCircuitBreaker(name string, maxFailures uint32, cooldown time.Duration) *CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
		state:       StateClosed,
	}
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn unless the breaker is open. ErrBreakerOpen is returned
// without calling fn while the cooldown lasts.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	cb.afterRequest(err == nil)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.currentState()
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.currentState() {
	case StateOpen:
		return ErrBreakerOpen
	case StateHalfOpen:
		if cb.trialInFlight {
			return ErrBreakerOpen
		}
		cb.trialInFlight = true
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	state := cb.currentState()
	cb.trialInFlight = false

	if success {
		cb.consecutiveFailures = 0
		cb.state = StateClosed
		return
	}

	cb.consecutiveFailures++
	if state == StateHalfOpen || cb.consecutiveFailures >= cb.maxFailures {
		cb.state = StateOpen
		cb.expiry = cb.now().Add(cb.cooldown)
	}
}

// currentState moves an expired open breaker to half-open. Must be called
// with the mutex held.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && !cb.expiry.After(cb.now()) {
		cb.state = StateHalfOpen
		cb.trialInFlight = false
	}
	return cb.state
}
