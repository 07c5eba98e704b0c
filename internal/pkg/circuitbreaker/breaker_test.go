package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3, ResetTimeout: time.Hour})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := cb.Call(func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.True(t, cb.IsOpen())

	// further calls are rejected immediately without invoking fn
	called := false
	err := cb.Call(func() error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)
}

func TestCircuitBreaker_ClosedCallsSucceed(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 5})

	err := cb.Call(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 1, ResetTimeout: time.Millisecond, HalfOpenMaxCalls: 2})

	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	assert.True(t, cb.IsOpen())

	time.Sleep(5 * time.Millisecond)

	// first call after the reset timeout transitions to half-open and,
	// on success, closes the breaker
	err := cb.Call(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 1, ResetTimeout: time.Millisecond})

	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	time.Sleep(5 * time.Millisecond)

	require.Error(t, cb.Call(func() error { return errors.New("still broken") }))
	assert.True(t, cb.IsOpen())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 1})
	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	require.True(t, cb.IsOpen())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_Metrics(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 5})
	require.NoError(t, cb.Call(func() error { return nil }))
	require.Error(t, cb.Call(func() error { return errors.New("x") }))

	m := cb.GetMetrics()
	assert.EqualValues(t, 2, m.TotalAttempts)
	assert.EqualValues(t, 1, m.TotalSuccesses)
	assert.EqualValues(t, 1, m.TotalFailures)
}
