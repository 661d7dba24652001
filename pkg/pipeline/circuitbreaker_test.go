package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := newCircuitBreaker(breakerConfig{FailureThreshold: 2, Timeout: time.Hour}, nil)

	failing := errors.New("boom")
	assert.ErrorIs(t, cb.Call(func() error { return failing }), failing)
	assert.Equal(t, stateClosed, cb.State())
	assert.ErrorIs(t, cb.Call(func() error { return failing }), failing)
	assert.Equal(t, stateOpen, cb.State())

	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitOpen)
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := newCircuitBreaker(breakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Millisecond}, nil)

	assert.Error(t, cb.Call(func() error { return errors.New("boom") }))
	assert.Equal(t, stateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)

	assert.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, stateHalfOpen, cb.State())
	assert.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, stateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := newCircuitBreaker(breakerConfig{FailureThreshold: 1, Timeout: time.Millisecond}, nil)

	assert.Error(t, cb.Call(func() error { return errors.New("boom") }))
	time.Sleep(5 * time.Millisecond)

	assert.Error(t, cb.Call(func() error { return errors.New("still broken") }))
	assert.Equal(t, stateOpen, cb.State())
}

func TestCircuitBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := newCircuitBreaker(breakerConfig{FailureThreshold: 2}, nil)
	for i := 0; i < 5; i++ {
		assert.NoError(t, cb.Call(func() error { return nil }))
	}
	assert.Equal(t, stateClosed, cb.State())
}
