package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustaflugnegard/FOND-GPT/internal/config"
)

func TestOpen_Memory(t *testing.T) {
	b, err := Open(context.Background(), config.StorageConfig{Backend: "memory"}, nil)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, "memory", b.Name)
	n, err := b.Storage.AddTokens(context.Background(), "user1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestOpen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")
	b, err := Open(context.Background(), config.StorageConfig{
		Backend: "sqlite",
		SQLite:  config.SQLiteConfig{Path: path},
	}, nil)
	require.NoError(t, err)

	_, err = b.Storage.AddTokens(context.Background(), "user1", 10)
	require.NoError(t, err)
	require.NoError(t, b.Close())
}

func TestOpen_SQLiteWithRedisCache(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, config.StorageConfig{
		Backend: "sqlite",
		SQLite:  config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "tokens.db")},
		Redis:   config.RedisConfig{Addr: "localhost:6379", DB: 15, KeyPrefix: "backend-test:"},
		Cache:   config.CacheConfig{Enabled: true, TTL: time.Minute},
	}, nil)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer b.Close()

	assert.Equal(t, "sqlite+redis-cache", b.Name)
	_, err = b.Storage.AddTokens(ctx, "user1", 10)
	require.NoError(t, err)
	n, err := b.Storage.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		cfg  config.StorageConfig
	}{
		{"unknown", config.StorageConfig{Backend: "mongodb"}},
		{"postgres without dsn", config.StorageConfig{Backend: "postgres"}},
		{"firestore without project", config.StorageConfig{Backend: "firestore"}},
		{"supabase without url", config.StorageConfig{Backend: "supabase"}},
		{"sqlite without path", config.StorageConfig{Backend: "sqlite"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(ctx, tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}
