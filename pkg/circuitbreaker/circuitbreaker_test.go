package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestOpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		FailureThreshold:    3,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 1,
	})

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	}
	require.Equal(t, StateOpen, cb.GetState())

	// open: calls are rejected without running fn
	err := cb.Execute(func() error {
		t.Fatal("fn must not run while open")
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		FailureThreshold:    1,
		SuccessThreshold:    2,
		Timeout:             10 * time.Millisecond,
		HalfOpenMaxRequests: 3,
	})

	require.Error(t, cb.Execute(func() error { return errBoom }))
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Execute(func() error { return nil }))
	require.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(func() error { return nil }))
	require.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		FailureThreshold:    1,
		SuccessThreshold:    2,
		Timeout:             10 * time.Millisecond,
		HalfOpenMaxRequests: 3,
	})

	require.Error(t, cb.Execute(func() error { return errBoom }))
	time.Sleep(20 * time.Millisecond)

	require.Error(t, cb.Execute(func() error { return errBoom }))
	require.Equal(t, StateOpen, cb.GetState())
}

func TestResetClearsState(t *testing.T) {
	cb := NewCircuitBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute, HalfOpenMaxRequests: 1})
	require.Error(t, cb.Execute(func() error { return errBoom }))
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	require.Equal(t, StateClosed, cb.GetState())
	require.NoError(t, cb.Execute(func() error { return nil }))
}
