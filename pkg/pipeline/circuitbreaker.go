package pipeline

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/elasticjob/master/pkg/metrics"
)

// ErrCircuitOpen is returned by Call while the breaker is open.
var ErrCircuitOpen = errors.New("watcher circuit breaker is open")

// breakerState is the circuit breaker's current state.
type breakerState string

const (
	stateClosed   breakerState = "closed"
	stateOpen     breakerState = "open"
	stateHalfOpen breakerState = "half-open"
)

// breakerConfig configures the node-watcher circuit breaker.
type breakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

func (c *breakerConfig) setDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// circuitBreaker guards reconnect attempts against a flapping watch
// source: after FailureThreshold consecutive failures it opens and
// rejects calls until Timeout elapses, then allows SuccessThreshold
// half-open probes before closing again. Trimmed from the teacher's
// client.CircuitBreaker (sliding-window failure rate and per-call
// callbacks dropped; this guards one watch loop, not a pooled API
// client, so consecutive-failure counting alone is enough).
type circuitBreaker struct {
	cfg             breakerConfig
	logger          *zap.Logger
	mu              sync.Mutex
	state           breakerState
	failureCount    int
	successCount    int
	lastStateChange time.Time
}

func newCircuitBreaker(cfg breakerConfig, logger *zap.Logger) *circuitBreaker {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.RecordCircuitBreakerTransition(string(stateClosed), string(stateClosed))
	return &circuitBreaker{cfg: cfg, logger: logger, state: stateClosed, lastStateChange: time.Now()}
}

// Call executes fn under circuit-breaker protection.
func (cb *circuitBreaker) Call(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn()
	cb.afterCall(err)
	return err
}

func (cb *circuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		return nil
	case stateOpen:
		if time.Since(cb.lastStateChange) >= cb.cfg.Timeout {
			cb.transitionTo(stateHalfOpen)
			return nil
		}
		metrics.RecordCircuitBreakerRejected()
		return ErrCircuitOpen
	default: // stateHalfOpen: let the probe through; afterCall counts its outcome
		return nil
	}
}

func (cb *circuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		if err != nil {
			cb.failureCount++
			cb.successCount = 0
			if cb.failureCount >= cb.cfg.FailureThreshold {
				cb.transitionTo(stateOpen)
			}
		} else {
			cb.failureCount = 0
		}
	case stateHalfOpen:
		if err != nil {
			cb.transitionTo(stateOpen)
			return
		}
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.transitionTo(stateClosed)
		}
	}
}

func (cb *circuitBreaker) transitionTo(newState breakerState) {
	old := cb.state
	if old == newState {
		return
	}
	cb.state = newState
	cb.lastStateChange = time.Now()
	cb.failureCount = 0
	cb.successCount = 0
	metrics.RecordCircuitBreakerTransition(string(old), string(newState))
	cb.logger.Info("watcher circuit breaker state changed", zap.String("from", string(old)), zap.String("to", string(newState)))
}

// State returns the breaker's current state, for tests.
func (cb *circuitBreaker) State() breakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
