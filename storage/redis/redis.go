// Package redis provides a Redis implementation of the tokens.Storage interface.
// Balance mutations run as Lua scripts so each one is atomic on the server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

const (
	statusOK           = "ok"
	statusInsufficient = "insufficient"
)

// Storage implements tokens.Storage using Redis hashes keyed per user
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "fondgpt:")
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "fondgpt:",
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()

	return s, nil
}

func (s *Storage) loadScripts() {
	s.scripts["deduct"] = redis.NewScript(`
		local key = KEYS[1]
		local amount = tonumber(ARGV[1])
		local current = tonumber(redis.call('HGET', key, 'tokens') or '0')

		if current < amount then
			return {current, 'insufficient'}
		end

		local remaining = redis.call('HINCRBY', key, 'tokens', -amount)
		redis.call('HSET', key, 'updated_at', ARGV[2])
		return {remaining, 'ok'}
	`)

	s.scripts["add"] = redis.NewScript(`
		local key = KEYS[1]
		local total = redis.call('HINCRBY', key, 'tokens', tonumber(ARGV[1]))
		redis.call('HSET', key, 'updated_at', ARGV[2])
		return {total, 'ok'}
	`)
}

func (s *Storage) balanceKey(userID string) string {
	return s.config.KeyPrefix + "tokens:" + userID
}

// GetBalance implements tokens.Storage
func (s *Storage) GetBalance(ctx context.Context, userID string) (int, error) {
	n, err := s.client.HGet(ctx, s.balanceKey(userID), "tokens").Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return n, nil
}

// DeductTokens implements tokens.Storage
func (s *Storage) DeductTokens(ctx context.Context, userID string, amount int) (int, error) {
	if err := tokens.ValidateAmount(amount); err != nil {
		return 0, err
	}
	balance, status, err := s.run(ctx, "deduct", userID, amount)
	if err != nil {
		return 0, err
	}
	if status == statusInsufficient {
		return balance, tokens.ErrInsufficientBalance
	}
	return balance, nil
}

// AddTokens implements tokens.Storage
func (s *Storage) AddTokens(ctx context.Context, userID string, amount int) (int, error) {
	if err := tokens.ValidateAmount(amount); err != nil {
		return 0, err
	}
	balance, _, err := s.run(ctx, "add", userID, amount)
	return balance, err
}

func (s *Storage) run(ctx context.Context, script, userID string, amount int) (int, string, error) {
	result, err := s.scripts[script].Run(
		ctx,
		s.client,
		[]string{s.balanceKey(userID)},
		amount,
		time.Now().UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return 0, "", fmt.Errorf("failed to execute %s script: %w", script, err)
	}
	return parseScriptResult(result)
}

func parseScriptResult(result interface{}) (balance int, status string, err error) {
	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) != 2 {
		err = fmt.Errorf("unexpected script result format")
		return
	}

	n, ok := resultSlice[0].(int64)
	if !ok {
		err = fmt.Errorf("failed to parse balance")
		return
	}
	balance = int(n)

	status, ok = resultSlice[1].(string)
	if !ok || (status != statusOK && status != statusInsufficient) {
		err = fmt.Errorf("failed to parse status")
		return
	}
	return
}

// Close closes the underlying Redis client
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
