package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStorage fails every call while down is set.
type flakyStorage struct {
	down    bool
	balance int
	calls   int
}

var errDown = errors.New("connection refused")

func (f *flakyStorage) GetBalance(context.Context, string) (int, error) {
	f.calls++
	if f.down {
		return 0, errDown
	}
	return f.balance, nil
}

func (f *flakyStorage) DeductTokens(_ context.Context, _ string, amount int) (int, error) {
	f.calls++
	if f.down {
		return 0, errDown
	}
	if amount > f.balance {
		return 0, ErrInsufficientBalance
	}
	f.balance -= amount
	return f.balance, nil
}

func (f *flakyStorage) AddTokens(_ context.Context, _ string, amount int) (int, error) {
	f.calls++
	if f.down {
		return 0, errDown
	}
	f.balance += amount
	return f.balance, nil
}

func TestCircuitBreakerStorage(t *testing.T) {
	backend := &flakyStorage{balance: 10}
	cb := NewDefaultCircuitBreaker(2, time.Hour, nil)
	cb.IsFailure = IsBackendFailure
	s := NewCircuitBreakerStorage(backend, cb)
	ctx := context.Background()

	got, err := s.GetBalance(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 10, got)

	_, err = s.DeductTokens(ctx, "u", 50)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = s.DeductTokens(ctx, "u", 50)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, StateClosed, cb.State())

	backend.down = true
	_, _ = s.AddTokens(ctx, "u", 1)
	_, _ = s.AddTokens(ctx, "u", 1)
	assert.Equal(t, StateOpen, cb.State())

	calls := backend.calls
	_, err = s.GetBalance(ctx, "u")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, calls, backend.calls, "open circuit short-circuits the backend")
}

func TestIsBackendFailure(t *testing.T) {
	assert.False(t, IsBackendFailure(nil))
	assert.False(t, IsBackendFailure(ErrInsufficientBalance))
	assert.False(t, IsBackendFailure(ErrInvalidAmount))
	assert.False(t, IsBackendFailure(context.Canceled))
	assert.True(t, IsBackendFailure(errDown))
	assert.True(t, IsBackendFailure(context.DeadlineExceeded))
}
