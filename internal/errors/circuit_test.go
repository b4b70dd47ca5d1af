package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := NewCircuitBreaker("backend")

	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())
	assert.Equal(t, "backend", cb.Name())
}

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker tripping after 3 failures
	cb := NewCircuitBreaker("backend", WithMaxFailures(3))

	// When: recording failures up to the threshold
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()

	// Then: the circuit is open and blocks requests
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("backend", WithMaxFailures(3))

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	// Given: an open circuit with a short reset timeout
	cb := NewCircuitBreaker("backend",
		WithMaxFailures(1),
		WithResetTimeout(20*time.Millisecond))
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())
	require.False(t, cb.Allow())

	// When: the reset timeout elapses
	time.Sleep(30 * time.Millisecond)

	// Then: the circuit lets a probe request through
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreakerExecute(t *testing.T) {
	t.Run("closed circuit runs the function", func(t *testing.T) {
		cb := NewCircuitBreaker("backend")
		calls := 0

		err := cb.Execute(func() error {
			calls++
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("open circuit fails fast", func(t *testing.T) {
		cb := NewCircuitBreaker("backend", WithMaxFailures(1))
		cb.RecordFailure()

		calls := 0
		err := cb.Execute(func() error {
			calls++
			return nil
		})

		assert.True(t, errors.Is(err, ErrCircuitOpen))
		assert.Equal(t, 0, calls)
	})

	t.Run("failures through execute trip the circuit", func(t *testing.T) {
		cb := NewCircuitBreaker("backend", WithMaxFailures(2))
		boom := errors.New("boom")

		for i := 0; i < 2; i++ {
			err := cb.Execute(func() error { return boom })
			assert.True(t, errors.Is(err, boom))
		}

		assert.Equal(t, StateOpen, cb.State())
	})
}

func TestExecuteWithResult(t *testing.T) {
	t.Run("returns the value on success", func(t *testing.T) {
		cb := NewCircuitBreaker("embedder")

		got, err := ExecuteWithResult(cb, func() ([]float32, error) {
			return []float32{0.1, 0.2}, nil
		})

		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2}, got)
	})

	t.Run("half-open success closes the circuit", func(t *testing.T) {
		// Given: an open circuit past its reset timeout
		cb := NewCircuitBreaker("embedder",
			WithMaxFailures(1),
			WithResetTimeout(10*time.Millisecond))
		cb.RecordFailure()
		time.Sleep(20 * time.Millisecond)
		require.Equal(t, StateHalfOpen, cb.State())

		// When: the probe request succeeds
		got, err := ExecuteWithResult(cb, func() (string, error) {
			return "ok", nil
		})

		// Then: the circuit closes again
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("half-open failure reopens the circuit", func(t *testing.T) {
		cb := NewCircuitBreaker("embedder",
			WithMaxFailures(1),
			WithResetTimeout(10*time.Millisecond))
		cb.RecordFailure()
		time.Sleep(20 * time.Millisecond)
		require.Equal(t, StateHalfOpen, cb.State())

		_, err := ExecuteWithResult(cb, func() (string, error) {
			return "", errors.New("still down")
		})

		require.Error(t, err)
		assert.Equal(t, StateOpen, cb.State())
		assert.False(t, cb.Allow())
	})
}
