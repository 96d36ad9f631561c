// Package firestore provides a Firestore implementation of the tokens.Storage interface.
// Mutations run inside transactions so concurrent deductions are serialised per document.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

// Storage implements tokens.Storage using Google Cloud Firestore
type Storage struct {
	client     *firestore.Client
	collection string
}

// Config holds Firestore storage configuration
type Config struct {
	// BalancesCollection is the Firestore collection holding one document per user
	// Default: "user_tokens"
	BalancesCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.BalancesCollection == "" {
		config.BalancesCollection = "user_tokens"
	}

	return &Storage{
		client:     client,
		collection: config.BalancesCollection,
	}, nil
}

func (s *Storage) doc(userID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(userID)
}

// GetBalance implements tokens.Storage
func (s *Storage) GetBalance(ctx context.Context, userID string) (int, error) {
	snap, err := s.doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	if !snap.Exists() {
		return 0, nil
	}
	return getInt(snap.Data(), "tokens"), nil
}

// DeductTokens implements tokens.Storage
func (s *Storage) DeductTokens(ctx context.Context, userID string, amount int) (int, error) {
	if err := tokens.ValidateAmount(amount); err != nil {
		return 0, err
	}
	return s.update(ctx, userID, func(current int) (int, error) {
		if current < amount {
			return 0, tokens.ErrInsufficientBalance
		}
		return current - amount, nil
	})
}

// AddTokens implements tokens.Storage
func (s *Storage) AddTokens(ctx context.Context, userID string, amount int) (int, error) {
	if err := tokens.ValidateAmount(amount); err != nil {
		return 0, err
	}
	return s.update(ctx, userID, func(current int) (int, error) {
		return current + amount, nil
	})
}

func (s *Storage) update(ctx context.Context, userID string, next func(current int) (int, error)) (int, error) {
	doc := s.doc(userID)
	var balance int

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		current := 0
		if err == nil && snap.Exists() {
			current = getInt(snap.Data(), "tokens")
		}

		balance, err = next(current)
		if err != nil {
			return err
		}

		return tx.Set(doc, map[string]interface{}{
			"tokens":    balance,
			"updatedAt": time.Now().UTC(),
		}, firestore.MergeAll)
	})
	if err != nil {
		if errors.Is(err, tokens.ErrInsufficientBalance) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}
	return balance, nil
}

// Close closes the Firestore client
func (s *Storage) Close() error {
	return s.client.Close()
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}
