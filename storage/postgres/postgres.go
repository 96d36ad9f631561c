// Package postgres provides a PostgreSQL implementation of the tokens.Storage interface.
// Each mutation is a single conditional statement, so row locking alone keeps
// concurrent deductions from overdrawing a balance.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

//go:embed schema.sql
var schema string

// Storage implements tokens.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Migrate applies the embedded schema on startup
	Migrate bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		Migrate:         true,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{pool: pool, config: config}

	if config.Migrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return s, nil
}

// Migrate creates the balance table and its remote procedures if they are missing.
func (s *Storage) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // Rollback is safe to call even after commit

	if _, err := tx.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the database connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetBalance implements tokens.Storage
func (s *Storage) GetBalance(ctx context.Context, userID string) (int, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`SELECT tokens FROM user_tokens WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return int(balance), nil
}

// DeductTokens implements tokens.Storage
func (s *Storage) DeductTokens(ctx context.Context, userID string, amount int) (int, error) {
	if err := tokens.ValidateAmount(amount); err != nil {
		return 0, err
	}

	var balance int64
	err := s.pool.QueryRow(ctx,
		`UPDATE user_tokens
			SET tokens = tokens - $2, updated_at = NOW()
			WHERE user_id = $1 AND tokens >= $2
			RETURNING tokens`,
		userID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, tokens.ErrInsufficientBalance
	}
	if err != nil {
		return 0, fmt.Errorf("failed to deduct tokens: %w", err)
	}
	return int(balance), nil
}

// AddTokens implements tokens.Storage
func (s *Storage) AddTokens(ctx context.Context, userID string, amount int) (int, error) {
	if err := tokens.ValidateAmount(amount); err != nil {
		return 0, err
	}

	var balance int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO user_tokens (user_id, tokens, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (user_id)
			DO UPDATE SET tokens = user_tokens.tokens + EXCLUDED.tokens, updated_at = NOW()
			RETURNING tokens`,
		userID, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to add tokens: %w", err)
	}
	return int(balance), nil
}

// Pool exposes the connection pool for read-only collaborators sharing the database.
func (s *Storage) Pool() *pgxpool.Pool {
	return s.pool
}
