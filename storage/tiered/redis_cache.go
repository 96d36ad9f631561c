package tiered

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL bounds how long a cached balance may be served.
const DefaultCacheTTL = 30 * time.Second

var (
	fillScript = redis.NewScript(`
		local key = KEYS[1]
		local current = tonumber(redis.call('HGET', key, 'version') or '0')
		if current ~= tonumber(ARGV[2]) then
			return 0
		end
		redis.call('HSET', key, 'tokens', ARGV[1], 'version', current)
		redis.call('PEXPIRE', key, ARGV[3])
		return 1
	`)

	invalidateScript = redis.NewScript(`
		local key = KEYS[1]
		redis.call('HINCRBY', key, 'version', 1)
		redis.call('HDEL', key, 'tokens')
		redis.call('PEXPIRE', key, ARGV[1])
		return 1
	`)
)

// RedisCache is a Cache storing each balance and its version in one Redis hash with a TTL.
type RedisCache struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisCache returns a Cache backed by client. Keys are keyPrefix + "balance:" + userID.
func NewRedisCache(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (c *RedisCache) key(userID string) string {
	return c.keyPrefix + "balance:" + userID
}

func (c *RedisCache) Get(ctx context.Context, userID string) (int, bool, int64, error) {
	vals, err := c.client.HMGet(ctx, c.key(userID), "tokens", "version").Result()
	if err != nil {
		return 0, false, 0, fmt.Errorf("failed to read cached balance: %w", err)
	}

	var version int64
	if s, ok := vals[1].(string); ok {
		if version, err = strconv.ParseInt(s, 10, 64); err != nil {
			return 0, false, 0, fmt.Errorf("failed to parse cache version: %w", err)
		}
	}
	s, ok := vals[0].(string)
	if !ok {
		return 0, false, version, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, version, fmt.Errorf("failed to parse cached balance: %w", err)
	}
	return n, true, version, nil
}

func (c *RedisCache) Fill(ctx context.Context, userID string, balance int, version int64) (bool, error) {
	n, err := fillScript.Run(ctx, c.client, []string{c.key(userID)},
		balance, version, c.ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("failed to cache balance: %w", err)
	}
	return n == 1, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	if err := invalidateScript.Run(ctx, c.client, []string{c.key(userID)}, c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached balance: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
