package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingCall() error { return errors.New("upstream down") }

func trip(t *testing.T, cb *CircuitBreaker, failures int) {
	t.Helper()
	for i := 0; i < failures; i++ {
		cb.Execute(context.Background(), failingCall)
	}
}

func TestBreakerStartsClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{})
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{FailureThreshold: 3, Timeout: time.Minute})

	trip(t, cb, 3)
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{FailureThreshold: 3, Timeout: time.Minute})

	trip(t, cb, 2)
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	trip(t, cb, 2)

	assert.Equal(t, StateClosed, cb.State(), "non-consecutive failures must not trip the breaker")
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		MaxRequests:      2,
		Timeout:          10 * time.Millisecond,
	})

	trip(t, cb, 2)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{
		FailureThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})

	trip(t, cb, 2)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	cb.Execute(context.Background(), failingCall)
	assert.Equal(t, StateOpen, cb.State())
}
