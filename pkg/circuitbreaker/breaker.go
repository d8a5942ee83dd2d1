package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

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

type Config struct {
	// MaxRequests caps concurrent probes while half-open.
	MaxRequests uint32
	// Interval resets failure counts while closed; zero disables the reset.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing again.
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
	Logger           *zap.Logger
}

// CircuitBreaker sheds load from a failing upstream. Consecutive failures
// trip it open; after Timeout it half-opens and a run of successes closes
// it again.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	expiry     time.Time

	requests             uint32
	consecutiveSuccesses uint32
	consecutiveFailures  uint32
}

func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}

	cb := &CircuitBreaker{
		name:   name,
		config: cfg,
		logger: cfg.Logger,
	}
	cb.newGeneration(time.Now())

	return cb
}

func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	generation, err := cb.beforeRequest()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(generation, false)
			panic(r)
		}
	}()

	err = fn()
	cb.afterRequest(generation, err == nil)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, _ := cb.currentState(time.Now())
	return state
}

func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, generation := cb.currentState(time.Now())

	if state == StateOpen {
		return generation, ErrCircuitOpen
	}
	if state == StateHalfOpen && cb.requests >= cb.config.MaxRequests {
		return generation, ErrTooManyRequests
	}

	cb.requests++
	return generation, nil
}

func (cb *CircuitBreaker) afterRequest(before uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, generation := cb.currentState(now)
	if generation != before {
		return
	}

	if success {
		cb.consecutiveSuccesses++
		cb.consecutiveFailures = 0
		if state == StateHalfOpen && cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.setState(StateClosed, now)
		}
		return
	}

	cb.consecutiveFailures++
	cb.consecutiveSuccesses = 0
	if state == StateClosed && cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.setState(StateOpen, now)
	} else if state == StateHalfOpen {
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) currentState(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.newGeneration(now)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.newGeneration(now)

	if cb.logger != nil {
		cb.logger.Info("Circuit breaker state changed",
			zap.String("name", cb.name),
			zap.String("from", prev.String()),
			zap.String("to", state.String()),
		)
	}
}

func (cb *CircuitBreaker) newGeneration(now time.Time) {
	cb.generation++
	cb.requests = 0
	cb.consecutiveSuccesses = 0
	cb.consecutiveFailures = 0

	switch cb.state {
	case StateClosed:
		if cb.config.Interval == 0 {
			cb.expiry = time.Time{}
		} else {
			cb.expiry = now.Add(cb.config.Interval)
		}
	case StateOpen:
		cb.expiry = now.Add(cb.config.Timeout)
	default:
		cb.expiry = time.Time{}
	}
}
