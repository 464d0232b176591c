package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transientErr() error {
	return BackendError("connection reset", false, nil)
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a circuit breaker with max 3 failures
	cb := NewCircuitBreaker("content", WithMaxFailures(3), WithResetTimeout(time.Minute))

	// When: three transient failures happen
	for i := 0; i < 3; i++ {
		_ = cb.Execute(transientErr)
	}

	// Then: the circuit is open and calls are rejected without running
	assert.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.True(t, IsRetryable(err))
}

func TestCircuitBreaker_IgnoresNonTrippingErrors(t *testing.T) {
	// Given: a breaker with the default predicate
	cb := NewCircuitBreaker("content", WithMaxFailures(2))

	// When: the backend rejects documents repeatedly
	for i := 0; i < 5; i++ {
		err := cb.Execute(func() error { return BackendError("bad doc", true, nil) })
		require.Error(t, err)
	}

	// Then: the circuit stays closed
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Failures())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	// Given: an open breaker with a controllable clock
	now := time.Now()
	cb := NewCircuitBreaker("content", WithMaxFailures(1), WithResetTimeout(time.Second))
	cb.now = func() time.Time { return now }
	_ = cb.Execute(transientErr)
	require.Equal(t, StateOpen, cb.State())

	// When: the reset timeout passes
	now = now.Add(2 * time.Second)
	require.Equal(t, StateHalfOpen, cb.State())

	// Then: a failing probe reopens the circuit
	_ = cb.Execute(transientErr)
	assert.Equal(t, StateOpen, cb.State())

	// And: a successful probe after another timeout closes it
	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_CustomPredicate(t *testing.T) {
	cb := NewCircuitBreaker("any", WithMaxFailures(1), WithTripPredicate(func(error) bool { return true }))

	_ = cb.Execute(func() error { return errors.New("boom") })

	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, "any", cb.Name())
}
