// Package circuitbreaker stops calling a failing dependency for a while so
// that best-effort work (purchase tracking, event publishing) cannot pile up
// behind a dead sink.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

const (
	defaultMaxFailures = 5
	defaultTimeout     = 30 * time.Second
	defaultMaxRequests = 1
	maxMaxFailures     = 1000
	maxTimeout         = 10 * time.Minute
	maxMaxRequests     = 100
)

type Config struct {
	Name string
	// MaxFailures consecutive failures open the breaker.
	MaxFailures int
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests   int
	OnStateChange func(name string, from State, to State)
}

// Normalize replaces out-of-range values with defaults or caps and reports
// each change through logger.
func (c Config) Normalize(logger *logrus.Logger) Config {
	warn := func(field string, from, to interface{}) {
		logger.WithFields(logrus.Fields{
			"circuit_breaker": c.Name,
			"field":           field,
			"invalid_value":   from,
			"used_value":      to,
		}).Warn("Invalid circuit breaker setting")
	}

	if c.Name == "" {
		c.Name = "unnamed"
	}
	switch {
	case c.MaxFailures <= 0:
		warn("max_failures", c.MaxFailures, defaultMaxFailures)
		c.MaxFailures = defaultMaxFailures
	case c.MaxFailures > maxMaxFailures:
		warn("max_failures", c.MaxFailures, maxMaxFailures)
		c.MaxFailures = maxMaxFailures
	}
	switch {
	case c.Timeout <= 0:
		warn("timeout", c.Timeout.String(), defaultTimeout.String())
		c.Timeout = defaultTimeout
	case c.Timeout > maxTimeout:
		warn("timeout", c.Timeout.String(), maxTimeout.String())
		c.Timeout = maxTimeout
	}
	switch {
	case c.MaxRequests <= 0:
		warn("max_requests", c.MaxRequests, defaultMaxRequests)
		c.MaxRequests = defaultMaxRequests
	case c.MaxRequests > maxMaxRequests:
		warn("max_requests", c.MaxRequests, maxMaxRequests)
		c.MaxRequests = maxMaxRequests
	}
	return c
}

// Metrics is a point-in-time view of a breaker.
type Metrics struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	TotalRequests   int64     `json:"total_requests"`
	TotalFailures   int64     `json:"total_failures"`
	TotalSuccesses  int64     `json:"total_successes"`
	TotalRejected   int64     `json:"total_rejected"`
	StateChanges    int64     `json:"state_changes"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	LastStateChange time.Time `json:"last_state_change,omitempty"`
}

type CircuitBreaker struct {
	cfg Config

	mutex        sync.Mutex
	state        State
	failures     int
	probes       int
	lastFailTime time.Time
	now          func() time.Time

	totalRequests   int64
	totalFailures   int64
	totalSuccesses  int64
	totalRejected   int64
	stateChanges    int64
	lastStateChange time.Time

	logger *logrus.Logger
}

func New(config Config, logger *logrus.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:    config.Normalize(logger),
		state:  StateClosed,
		now:    time.Now,
		logger: logger,
	}
}

// Execute runs fn unless the breaker is open. fn runs on the caller's
// goroutine; a context error returned by fn is not counted as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}

	err := fn(ctx)

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch {
	case err == nil:
		cb.totalSuccesses++
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.setState(StateClosed)
		}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if cb.state == StateHalfOpen {
			cb.probes--
		}
	default:
		cb.totalFailures++
		cb.failures++
		cb.lastFailTime = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.setState(StateOpen)
		}
	}
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailTime) < cb.cfg.Timeout {
			cb.totalRejected++
			return ErrCircuitBreakerOpen
		}
		cb.setState(StateHalfOpen)
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.MaxRequests {
			cb.totalRejected++
			return ErrCircuitBreakerOpen
		}
		cb.probes++
	}

	cb.totalRequests++
	return nil
}

// setState must be called with the mutex held.
func (cb *CircuitBreaker) setState(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.probes = 0
	cb.stateChanges++
	cb.lastStateChange = cb.now()

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.cfg.Name,
		"from_state":      from.String(),
		"to_state":        to.String(),
	}).Info("Circuit breaker state changed")

	if cb.cfg.OnStateChange != nil {
		go cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	defer func() {
		if r := recover(); r != nil {
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.cfg.Name,
				"panic":           r,
			}).Error("Circuit breaker state change callback panicked")
		}
	}()
	cb.cfg.OnStateChange(cb.cfg.Name, from, to)
}

func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return Metrics{
		Name:            cb.cfg.Name,
		State:           cb.state.String(),
		Failures:        cb.failures,
		TotalRequests:   cb.totalRequests,
		TotalFailures:   cb.totalFailures,
		TotalSuccesses:  cb.totalSuccesses,
		TotalRejected:   cb.totalRejected,
		StateChanges:    cb.stateChanges,
		LastFailure:     cb.lastFailTime,
		LastStateChange: cb.lastStateChange,
	}
}

func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.setState(StateClosed)
	cb.failures = 0
	cb.lastFailTime = time.Time{}
}

func (cb *CircuitBreaker) String() string {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return fmt.Sprintf("CircuitBreaker(name=%s, state=%s, failures=%d/%d)",
		cb.cfg.Name, cb.state, cb.failures, cb.cfg.MaxFailures)
}
