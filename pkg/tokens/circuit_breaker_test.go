package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, timeout time.Duration, states *[]CircuitBreakerState) (*DefaultCircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewDefaultCircuitBreaker(threshold, timeout, func(state CircuitBreakerState) {
		*states = append(*states, state)
	})
	cb.now = clock.Now
	return cb, clock
}

func TestDefaultCircuitBreaker(t *testing.T) {
	var states []CircuitBreakerState
	cb, clock := newTestBreaker(3, time.Minute, &states)
	ctx := context.Background()
	fail := func() error { return errors.New("fail") }

	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 2; i++ {
		assert.Error(t, cb.Execute(ctx, fail))
		assert.Equal(t, StateClosed, cb.State())
	}

	assert.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open circuit must not call through")

	clock.Advance(time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())

	assert.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []CircuitBreakerState{StateOpen, StateHalfOpen, StateClosed}, states)
}

func TestDefaultCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	var states []CircuitBreakerState
	cb, clock := newTestBreaker(1, time.Second, &states)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errors.New("fail") })
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(time.Second)
	err := cb.Execute(ctx, func() error { return errors.New("still failing") })
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, StateOpen, cb.State(), "reset timeout restarts when the trial request fails")
}

func TestDefaultCircuitBreaker_SingleTrialRequest(t *testing.T) {
	var states []CircuitBreakerState
	cb, clock := newTestBreaker(1, time.Second, &states)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errors.New("fail") })
	clock.Advance(time.Second)

	assert.True(t, cb.allow(), "first trial request passes")
	assert.False(t, cb.allow(), "second caller waits for the trial request")
	cb.Success()
	assert.True(t, cb.allow())
}

func TestDefaultCircuitBreaker_IsFailure(t *testing.T) {
	var states []CircuitBreakerState
	cb, _ := newTestBreaker(1, time.Second, &states)
	cb.IsFailure = IsBackendFailure

	err := cb.Execute(context.Background(), func() error { return ErrInsufficientBalance })
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, StateClosed, cb.State(), "business errors do not trip the breaker")
	assert.Empty(t, states)
}

func TestNewDefaultCircuitBreaker_Defaults(t *testing.T) {
	cb := NewDefaultCircuitBreaker(0, 0, nil)
	assert.Equal(t, 5, cb.failureThreshold)
	assert.Equal(t, 30*time.Second, cb.resetTimeout)
}
