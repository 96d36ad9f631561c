// Package sqlite provides a SQLite implementation of the tokens.Storage interface
// for single-node deployments. It uses the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

const ddlUserTokens = `CREATE TABLE IF NOT EXISTS user_tokens (
	user_id    TEXT PRIMARY KEY,
	tokens     INTEGER NOT NULL DEFAULT 0 CHECK (tokens >= 0),
	updated_at TEXT NOT NULL
)`

// Storage implements tokens.Storage using SQLite
type Storage struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies the schema.
// Pass ":memory:" for a throwaway store.
func New(ctx context.Context, path string) (*Storage, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection serialises writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA busy_timeout=5000`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, ddlUserTokens); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetBalance implements tokens.Storage
func (s *Storage) GetBalance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx,
		`SELECT tokens FROM user_tokens WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// DeductTokens implements tokens.Storage
func (s *Storage) DeductTokens(ctx context.Context, userID string, amount int) (int, error) {
	if err := tokens.ValidateAmount(amount); err != nil {
		return 0, err
	}

	var balance int
	err := s.db.QueryRowContext(ctx,
		`UPDATE user_tokens
			SET tokens = tokens - ?2, updated_at = ?3
			WHERE user_id = ?1 AND tokens >= ?2
			RETURNING tokens`,
		userID, amount, now()).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, tokens.ErrInsufficientBalance
	}
	if err != nil {
		return 0, fmt.Errorf("failed to deduct tokens: %w", err)
	}
	return balance, nil
}

// AddTokens implements tokens.Storage
func (s *Storage) AddTokens(ctx context.Context, userID string, amount int) (int, error) {
	if err := tokens.ValidateAmount(amount); err != nil {
		return 0, err
	}

	var balance int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO user_tokens (user_id, tokens, updated_at) VALUES (?1, ?2, ?3)
			ON CONFLICT (user_id) DO UPDATE SET tokens = tokens + excluded.tokens, updated_at = excluded.updated_at
			RETURNING tokens`,
		userID, amount, now()).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to add tokens: %w", err)
	}
	return balance, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
