package tokens

import (
	"context"
	"errors"
)

// CircuitBreakerStorage wraps a Storage implementation with circuit breaker protection.
type CircuitBreakerStorage struct {
	storage Storage
	cb      CircuitBreaker
}

// NewCircuitBreakerStorage creates a new storage wrapper with circuit breaker.
func NewCircuitBreakerStorage(storage Storage, cb CircuitBreaker) *CircuitBreakerStorage {
	return &CircuitBreakerStorage{
		storage: storage,
		cb:      cb,
	}
}

// IsBackendFailure reports whether err indicates an unhealthy backend rather than a
// rejected request. Insufficient balance and invalid amounts never trip a breaker.
func IsBackendFailure(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrInsufficientBalance) &&
		!errors.Is(err, ErrInvalidAmount) &&
		!errors.Is(err, context.Canceled)
}

func (s *CircuitBreakerStorage) GetBalance(ctx context.Context, userID string) (int, error) {
	var tokens int
	err := s.cb.Execute(ctx, func() error {
		var e error
		tokens, e = s.storage.GetBalance(ctx, userID)
		return e
	})
	return tokens, err
}

func (s *CircuitBreakerStorage) DeductTokens(ctx context.Context, userID string, amount int) (int, error) {
	var tokens int
	err := s.cb.Execute(ctx, func() error {
		var e error
		tokens, e = s.storage.DeductTokens(ctx, userID, amount)
		return e
	})
	return tokens, err
}

func (s *CircuitBreakerStorage) AddTokens(ctx context.Context, userID string, amount int) (int, error) {
	var tokens int
	err := s.cb.Execute(ctx, func() error {
		var e error
		tokens, e = s.storage.AddTokens(ctx, userID, amount)
		return e
	})
	return tokens, err
}

// Ping forwards to the wrapped storage when it supports health checks.
func (s *CircuitBreakerStorage) Ping(ctx context.Context) error {
	if p, ok := s.storage.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
