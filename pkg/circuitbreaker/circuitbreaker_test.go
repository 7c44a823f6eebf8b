package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 1,
	}).WithClock(func() time.Time { return now })

	boom := errors.New("broker down")
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(Config{
		FailureThreshold:    1,
		SuccessThreshold:    2,
		Timeout:             time.Second,
		HalfOpenMaxRequests: 1,
	}).WithClock(func() time.Time { return now })

	boom := errors.New("nope")
	_ = cb.Execute(func() error { return boom })
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	_ = cb.Execute(func() error { return boom })
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, "closed", cb.State().String())
}
