package tiered

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
	"github.com/gustaflugnegard/FOND-GPT/storage/memory"
)

var (
	_ tokens.Storage = (*Storage)(nil)
	_ tokens.Pinger  = (*Storage)(nil)
	_ Cache          = (*RedisCache)(nil)
)

type mapCache struct {
	mu       sync.Mutex
	entries  map[string]int
	versions map[string]int64
	failGet  bool
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]int), versions: make(map[string]int64)}
}

func (c *mapCache) Get(_ context.Context, userID string) (int, bool, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return 0, false, 0, errors.New("cache down")
	}
	n, ok := c.entries[userID]
	return n, ok, c.versions[userID], nil
}

func (c *mapCache) Fill(_ context.Context, userID string, balance int, version int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[userID] != version {
		return false, nil
	}
	c.entries[userID] = balance
	return true, nil
}

func (c *mapCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[userID]++
	delete(c.entries, userID)
	return nil
}

func (c *mapCache) put(userID string, balance int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = balance
}

func (c *mapCache) lookup(userID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[userID]
	return n, ok
}

// pausingStorage holds GetBalance after Cold has answered until release is closed.
type pausingStorage struct {
	tokens.Storage
	read    chan struct{}
	release chan struct{}
}

func (p *pausingStorage) GetBalance(ctx context.Context, userID string) (int, error) {
	n, err := p.Storage.GetBalance(ctx, userID)
	close(p.read)
	<-p.release
	return n, err
}

func TestNew(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		storage, err := New(Config{Hot: newMapCache(), Cold: memory.New()})
		assert.NoError(t, err)
		assert.NotNil(t, storage)
		assert.NoError(t, storage.Close())
	})

	t.Run("nil hot storage", func(t *testing.T) {
		storage, err := New(Config{Cold: memory.New()})
		assert.Error(t, err)
		assert.Nil(t, storage)
		assert.Contains(t, err.Error(), "hot and cold storage are required")
	})

	t.Run("nil cold storage", func(t *testing.T) {
		storage, err := New(Config{Hot: newMapCache()})
		assert.Error(t, err)
		assert.Nil(t, storage)
	})

	t.Run("default sync buffer size", func(t *testing.T) {
		storage, err := New(Config{Hot: newMapCache(), Cold: memory.New(), AsyncCacheSync: true})
		require.NoError(t, err)
		defer storage.Close()
		assert.Equal(t, 1000, cap(storage.syncQueue))
	})

	t.Run("close twice", func(t *testing.T) {
		storage, err := New(Config{Hot: newMapCache(), Cold: memory.New(), AsyncCacheSync: true})
		require.NoError(t, err)
		assert.NoError(t, storage.Close())
		assert.NoError(t, storage.Close())
	})
}

// --- Read-Through Strategy Tests ---

func TestStorage_GetBalance_ReadThrough(t *testing.T) {
	hot := newMapCache()
	cold := memory.New()
	storage, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)
	defer storage.Close()

	ctx := context.Background()
	_, err = cold.AddTokens(ctx, "user1", 40)
	require.NoError(t, err)

	n, err := storage.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 40, n)

	cached, ok := hot.lookup("user1")
	assert.True(t, ok, "cold read should populate hot")
	assert.Equal(t, 40, cached)

	// Served from hot while the entry lives.
	hot.put("user1", 99)
	n, err = storage.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 99, n)
}

func TestStorage_GetBalance_HotFailureFallsBackToCold(t *testing.T) {
	hot := newMapCache()
	hot.failGet = true
	cold := memory.New()

	var reported []error
	storage, err := New(Config{Hot: hot, Cold: cold, AsyncErrorHandler: func(err error) {
		reported = append(reported, err)
	}})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cold.AddTokens(ctx, "user1", 12)
	require.NoError(t, err)

	n, err := storage.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Len(t, reported, 1)
}

// --- Write-Invalidate Strategy Tests ---

func TestStorage_MutationInvalidatesHot(t *testing.T) {
	hot := newMapCache()
	cold := memory.New()
	storage, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)
	defer storage.Close()

	ctx := context.Background()
	n, err := storage.AddTokens(ctx, "user1", 100)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	n, err = storage.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	_, ok := hot.lookup("user1")
	assert.True(t, ok)

	n, err = storage.DeductTokens(ctx, "user1", 30)
	require.NoError(t, err)
	assert.Equal(t, 70, n)

	_, ok = hot.lookup("user1")
	assert.False(t, ok, "mutation must drop the cached balance")

	n, err = storage.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 70, n)
}

func TestStorage_ReadRacingDeductDoesNotCacheOldBalance(t *testing.T) {
	hot := newMapCache()
	mem := memory.New()
	ctx := context.Background()
	_, err := mem.AddTokens(ctx, "user1", 100)
	require.NoError(t, err)

	cold := &pausingStorage{Storage: mem, read: make(chan struct{}), release: make(chan struct{})}
	storage, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)

	read := make(chan int)
	go func() {
		n, _ := storage.GetBalance(ctx, "user1")
		read <- n
	}()

	<-cold.read
	n, err := storage.DeductTokens(ctx, "user1", 40)
	require.NoError(t, err)
	assert.Equal(t, 60, n)
	close(cold.release)
	assert.Equal(t, 100, <-read, "the racing read returns what it saw")

	_, ok := hot.lookup("user1")
	assert.False(t, ok, "the racing read must not fill the cache")

	cold.read, cold.release = make(chan struct{}), make(chan struct{})
	close(cold.release)
	n, err = storage.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 60, n)
}

func TestStorage_RejectedDeductEvictsHot(t *testing.T) {
	hot := newMapCache()
	cold := memory.New()
	storage, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = storage.AddTokens(ctx, "user1", 10)
	require.NoError(t, err)

	hot.put("user1", 1000)
	_, err = storage.DeductTokens(ctx, "user1", 50)
	assert.ErrorIs(t, err, tokens.ErrInsufficientBalance)

	_, ok := hot.lookup("user1")
	assert.False(t, ok)

	n, err := storage.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestStorage_InvalidAmountKeepsHot(t *testing.T) {
	hot := newMapCache()
	storage, err := New(Config{Hot: hot, Cold: memory.New()})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = storage.AddTokens(ctx, "user1", 5)
	require.NoError(t, err)
	_, err = storage.GetBalance(ctx, "user1")
	require.NoError(t, err)

	_, err = storage.DeductTokens(ctx, "user1", 0)
	assert.ErrorIs(t, err, tokens.ErrInvalidAmount)

	cached, ok := hot.lookup("user1")
	assert.True(t, ok)
	assert.Equal(t, 5, cached)
}

func TestStorage_AsyncFill(t *testing.T) {
	hot := newMapCache()
	cold := memory.New()
	storage, err := New(Config{Hot: hot, Cold: cold, AsyncCacheSync: true})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := storage.AddTokens(ctx, "user1", 10)
		require.NoError(t, err)
	}
	_, err = storage.DeductTokens(ctx, "user1", 25)
	require.NoError(t, err)

	n, err := storage.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 75, n)

	require.NoError(t, storage.Close())

	cached, ok := hot.lookup("user1")
	assert.True(t, ok)
	assert.Equal(t, 75, cached)
}

func TestStorage_ConcurrentDeductsNeverOverdraw(t *testing.T) {
	hot := newMapCache()
	cold := memory.New()
	storage, err := New(Config{Hot: hot, Cold: cold, AsyncCacheSync: true})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = storage.AddTokens(ctx, "user1", 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := storage.DeductTokens(ctx, "user1", 30); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.NoError(t, storage.Close())

	assert.Equal(t, 3, succeeded)
	n, err := cold.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestRedisCache(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())

	cache := NewRedisCache(client, "test:", time.Minute)
	defer cache.Close()

	_, ok, version, err := cache.Get(ctx, "user1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), version)

	filled, err := cache.Fill(ctx, "user1", 42, version)
	require.NoError(t, err)
	assert.True(t, filled)

	n, ok, _, err := cache.Get(ctx, "user1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	ttl, err := client.TTL(ctx, "test:balance:user1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, cache.Invalidate(ctx, "user1"))
	_, ok, newVersion, err := cache.Get(ctx, "user1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, version+1, newVersion)

	filled, err = cache.Fill(ctx, "user1", 42, version)
	require.NoError(t, err)
	assert.False(t, filled, "fill with an outdated version is refused")

	filled, err = cache.Fill(ctx, "user1", 30, newVersion)
	require.NoError(t, err)
	assert.True(t, filled)
}
