package tokens

import "context"

// Storage defines the interface for balance persistence.
//
// Every mutation must be a single atomic operation on the backend: two concurrent
// deductions for the same user can never both succeed against a balance that only
// covers one of them.
type Storage interface {
	// GetBalance returns the user's balance. An unknown user has a balance of 0.
	GetBalance(ctx context.Context, userID string) (int, error)

	// DeductTokens subtracts amount and returns the new balance.
	// Returns ErrInsufficientBalance, leaving the balance untouched, when amount exceeds it.
	DeductTokens(ctx context.Context, userID string, amount int) (int, error)

	// AddTokens credits amount and returns the new balance, creating the record if needed.
	AddTokens(ctx context.Context, userID string, amount int) (int, error)
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ValidateAmount rejects amounts that are not strictly positive.
func ValidateAmount(amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
