package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/logger"
	"github.com/tphakala/geonudge/internal/observability/metrics"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed means the circuit is closed and requests are flowing normally.
	StateClosed CircuitState = iota
	// StateHalfOpen means the circuit is testing if the gateway has recovered.
	StateHalfOpen
	// StateOpen means the circuit is open and requests are being rejected.
	StateOpen
)

// String returns the string representation of CircuitState.
func (s CircuitState) String() string {
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

var (
	// ErrCircuitBreakerOpen is returned when the circuit breaker is open.
	ErrCircuitBreakerOpen = errors.Newf("circuit breaker is open").
				Component(component).
				Category(errors.CategoryDelivery).
				Build()
	// ErrTooManyRequests is returned when the circuit breaker is half-open and has already allowed a test request.
	ErrTooManyRequests = errors.Newf("circuit breaker is half-open, too many requests").
				Component(component).
				Category(errors.CategoryDelivery).
				Build()
)

// CircuitBreakerConfig holds configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening the circuit.
	MaxFailures int
	// Timeout is how long to wait before transitioning from Open to Half-Open.
	Timeout time.Duration
	// HalfOpenMaxRequests is the maximum number of requests allowed in half-open state.
	HalfOpenMaxRequests int
}

// DefaultCircuitBreakerConfig returns default circuit breaker configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// Validate checks if the circuit breaker configuration is valid.
func (c CircuitBreakerConfig) Validate() error {
	if c.MaxFailures < 1 {
		return fmt.Errorf("max_failures must be at least 1, got %d", c.MaxFailures)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.HalfOpenMaxRequests < 1 {
		return fmt.Errorf("half_open_max_requests must be at least 1, got %d", c.HalfOpenMaxRequests)
	}
	return nil
}

// CircuitBreaker guards a delivery gateway. It opens after MaxFailures
// consecutive failures and lets a probe through once Timeout has passed.
type CircuitBreaker struct {
	config           CircuitBreakerConfig
	state            CircuitState
	failures         int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	halfOpenRequests int
	mu               sync.RWMutex
	clock            Clock
	metrics          *metrics.DeliveryMetrics
	provider         string
	log              logger.Logger
}

// NewCircuitBreaker creates a CircuitBreaker for provider. An invalid
// configuration is logged and used as given.
func NewCircuitBreaker(config CircuitBreakerConfig, clock Clock, m *metrics.DeliveryMetrics, provider string, log logger.Logger) *CircuitBreaker {
	log = log.Module("breaker").With(logger.String("provider", provider))
	if err := config.Validate(); err != nil {
		log.Warn("circuit breaker config validation failed", logger.Error(err))
	}

	cb := &CircuitBreaker{
		config:          config,
		state:           StateClosed,
		lastStateChange: clock.Now(),
		clock:           clock,
		metrics:         m,
		provider:        provider,
		log:             log,
	}
	if cb.metrics != nil {
		cb.metrics.UpdateCircuitBreakerState(provider, metrics.CircuitClosed)
	}
	return cb
}

// Call executes fn if the circuit breaker allows it and records the result.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		state, failures := cb.State(), cb.Failures()
		return fmt.Errorf("circuit breaker rejected request (%v, %d consecutive failures): %w",
			state, failures, err)
	}

	err := fn(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.clock.Now().Sub(cb.lastStateChange) >= cb.config.Timeout {
			cb.setState(StateHalfOpen)
			cb.halfOpenRequests = 1
			return nil
		}
		return ErrCircuitBreakerOpen

	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.config.HalfOpenMaxRequests {
			return ErrTooManyRequests
		}
		cb.halfOpenRequests++
		return nil

	default:
		return ErrCircuitBreakerOpen
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.onSuccess()
		return
	}

	// caller cancellation says nothing about the gateway
	if errors.Is(err, context.Canceled) {
		return
	}
	cb.onFailure()
}

func (cb *CircuitBreaker) onSuccess() {
	cb.failures = 0
	cb.lastFailureTime = time.Time{}
	if cb.metrics != nil {
		cb.metrics.UpdateConsecutiveFailures(cb.provider, 0)
	}
	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.lastFailureTime = cb.clock.Now()
	if cb.metrics != nil {
		cb.metrics.UpdateConsecutiveFailures(cb.provider, cb.failures)
	}

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	case StateOpen:
	}
}

func (cb *CircuitBreaker) setState(newState CircuitState) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	now := cb.clock.Now()
	inPrevious := now.Sub(cb.lastStateChange)
	cb.state = newState
	cb.lastStateChange = now

	if cb.metrics != nil {
		cb.metrics.UpdateCircuitBreakerState(cb.provider, gaugeValue(newState))
	}

	level := logger.LogLevelInfo
	if newState == StateOpen {
		level = logger.LogLevelWarn
	}
	cb.log.Log(level, "circuit breaker state transition",
		logger.String("old_state", oldState.String()),
		logger.String("new_state", newState.String()),
		logger.Int("consecutive_failures", cb.failures),
		logger.Duration("time_in_previous_state", inPrevious))
}

func gaugeValue(s CircuitState) int {
	switch s {
	case StateOpen:
		return metrics.CircuitOpen
	case StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Failures returns the current number of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Reset manually resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.lastFailureTime = time.Time{}
	cb.halfOpenRequests = 0
	cb.setState(StateClosed)
}

// IsHealthy returns true if the circuit breaker is closed.
func (cb *CircuitBreaker) IsHealthy() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state == StateClosed
}

// CircuitBreakerStats contains statistics about a circuit breaker's state.
type CircuitBreakerStats struct {
	State            CircuitState
	Failures         int
	LastFailureTime  time.Time
	LastStateChange  time.Time
	HalfOpenRequests int
}

// GetStats returns current statistics about the circuit breaker.
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return CircuitBreakerStats{
		State:            cb.state,
		Failures:         cb.failures,
		LastFailureTime:  cb.lastFailureTime,
		LastStateChange:  cb.lastStateChange,
		HalfOpenRequests: cb.halfOpenRequests,
	}
}
