// Package memory provides an in-memory implementation of the tokens.Storage interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

// Storage implements tokens.Storage using an in-memory map
type Storage struct {
	mu       sync.RWMutex
	balances map[string]*tokens.Balance
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		balances: make(map[string]*tokens.Balance),
	}
}

// GetBalance implements tokens.Storage
func (s *Storage) GetBalance(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.balances[userID]; ok {
		return b.Tokens, nil
	}
	return 0, nil
}

// DeductTokens implements tokens.Storage
func (s *Storage) DeductTokens(_ context.Context, userID string, amount int) (int, error) {
	if err := tokens.ValidateAmount(amount); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[userID]
	if !ok || b.Tokens < amount {
		return 0, tokens.ErrInsufficientBalance
	}
	b.Tokens -= amount
	b.UpdatedAt = time.Now().UTC()
	return b.Tokens, nil
}

// AddTokens implements tokens.Storage
func (s *Storage) AddTokens(_ context.Context, userID string, amount int) (int, error) {
	if err := tokens.ValidateAmount(amount); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[userID]
	if !ok {
		b = &tokens.Balance{UserID: userID}
		s.balances[userID] = b
	}
	b.Tokens += amount
	b.UpdatedAt = time.Now().UTC()
	return b.Tokens, nil
}

// Snapshot returns a copy of the user's balance record, if any.
func (s *Storage) Snapshot(userID string) (tokens.Balance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[userID]
	if !ok {
		return tokens.Balance{}, false
	}
	return *b, true
}

// Ping implements tokens.Pinger
func (s *Storage) Ping(context.Context) error {
	return nil
}
