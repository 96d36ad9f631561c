package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store is the balance facade used by request handlers.
//
// GetBalance, Deduct and Add never fail loudly: failures are logged and reported as
// a zero balance or false. The strict Balance, DeductTokens and AddTokens variants
// return errors for callers that must tell a failure from an empty balance.
type Store struct {
	storage Storage
	config  Config
}

// NewStore creates a Store over storage.
func NewStore(storage Storage, config Config) (*Store, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.OperationTimeout == 0 {
		config.OperationTimeout = 5 * time.Second
	}

	if cbc := config.CircuitBreakerConfig; cbc != nil && cbc.Enabled {
		logger, metrics := config.Logger, config.Metrics
		cb := NewDefaultCircuitBreaker(cbc.FailureThreshold, cbc.ResetTimeout, func(state CircuitBreakerState) {
			logger.Warn("balance storage circuit breaker changed state", Field{"state", string(state)})
			metrics.RecordCircuitBreakerStateChange(string(state))
		})
		cb.IsFailure = IsBackendFailure
		storage = NewCircuitBreakerStorage(storage, cb)
	}

	return &Store{storage: storage, config: config}, nil
}

// Storage returns the (possibly wrapped) backend.
func (s *Store) Storage() Storage {
	return s.storage
}

// GetBalance returns the user's balance, or 0 if it cannot be read.
func (s *Store) GetBalance(ctx context.Context, userID string) int {
	tokens, err := s.Balance(ctx, userID)
	if err != nil {
		s.config.Logger.Error("failed to fetch token balance",
			Field{"user_id", userID}, Field{"error", err.Error()})
		return 0
	}
	return tokens
}

// Balance returns the user's balance or the backend error.
func (s *Store) Balance(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrUnauthenticated
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	start := time.Now()
	tokens, err := s.storage.GetBalance(ctx, userID)
	s.config.Metrics.RecordStorageOperation("get_balance", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return tokens, nil
}

// Deduct atomically debits amount. It returns false for invalid amounts,
// insufficient balance, or backend failure, in which case nothing was debited.
func (s *Store) Deduct(ctx context.Context, userID string, amount int) bool {
	_, err := s.DeductTokens(ctx, userID, amount)
	return err == nil
}

// Add credits amount. It returns false for invalid amounts or backend failure.
func (s *Store) Add(ctx context.Context, userID string, amount int) bool {
	_, err := s.AddTokens(ctx, userID, amount)
	return err == nil
}

// DeductTokens debits amount and returns the new balance.
func (s *Store) DeductTokens(ctx context.Context, userID string, amount int) (int, error) {
	return s.mutate(ctx, ActionDeduct, userID, amount, s.storage.DeductTokens)
}

// AddTokens credits amount and returns the new balance.
func (s *Store) AddTokens(ctx context.Context, userID string, amount int) (int, error) {
	return s.mutate(ctx, ActionAdd, userID, amount, s.storage.AddTokens)
}

func (s *Store) mutate(ctx context.Context, action Action, userID string, amount int,
	op func(context.Context, string, int) (int, error)) (int, error) {
	if userID == "" {
		return 0, ErrUnauthenticated
	}
	if err := ValidateAmount(amount); err != nil {
		s.config.Metrics.RecordMutation(action, amount, false)
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	start := time.Now()
	tokens, err := op(ctx, userID, amount)
	s.config.Metrics.RecordStorageOperation(string(action)+"_tokens", time.Since(start), err)
	s.config.Metrics.RecordMutation(action, amount, err == nil)

	if err != nil {
		fields := []Field{{"user_id", userID}, {"action", string(action)}, {"amount", amount}, {"error", err.Error()}}
		if errors.Is(err, ErrInsufficientBalance) {
			s.config.Logger.Info("token deduction rejected", fields...)
		} else {
			s.config.Logger.Error("token balance mutation failed", fields...)
		}
		return 0, fmt.Errorf("failed to %s tokens: %w", action, err)
	}

	s.config.Logger.Debug("token balance updated",
		Field{"user_id", userID}, Field{"action", string(action)}, Field{"amount", amount}, Field{"tokens", tokens})
	return tokens, nil
}

// Ping checks backend health when the backend supports it.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.storage.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// UserBalance binds a Store to one user so it can serve as a Coordinator's BalanceService.
type UserBalance struct {
	store  *Store
	userID string
}

// NewUserBalance returns a BalanceService for userID backed by store.
func NewUserBalance(store *Store, userID string) *UserBalance {
	return &UserBalance{store: store, userID: userID}
}

func (u *UserBalance) Balance(ctx context.Context) (int, error) {
	return u.store.Balance(ctx, u.userID)
}

func (u *UserBalance) Deduct(ctx context.Context, amount int) (int, error) {
	if _, err := u.store.DeductTokens(ctx, u.userID, amount); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	return u.store.Balance(ctx, u.userID)
}
