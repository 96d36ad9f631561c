// Package backend opens the configured balance storage.
package backend

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"

	"github.com/gustaflugnegard/FOND-GPT/internal/config"
	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
	firestorestorage "github.com/gustaflugnegard/FOND-GPT/storage/firestore"
	"github.com/gustaflugnegard/FOND-GPT/storage/memory"
	"github.com/gustaflugnegard/FOND-GPT/storage/postgres"
	redisstorage "github.com/gustaflugnegard/FOND-GPT/storage/redis"
	"github.com/gustaflugnegard/FOND-GPT/storage/sqlite"
	"github.com/gustaflugnegard/FOND-GPT/storage/supabase"
	"github.com/gustaflugnegard/FOND-GPT/storage/tiered"
)

// Backend is an opened storage and the function releasing it.
type Backend struct {
	Name    string
	Storage tokens.Storage
	Close   func() error
}

func noClose() error { return nil }

// Open connects to the backend named by cfg.Backend and, when cfg.Cache is
// enabled, fronts it with a Redis balance cache.
func Open(ctx context.Context, cfg config.StorageConfig, onCacheError func(error)) (*Backend, error) {
	b, err := open(ctx, cfg)
	if err != nil || !cfg.Cache.Enabled {
		return b, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		_ = b.Close()
		return nil, fmt.Errorf("failed to connect to redis cache: %w", err)
	}
	cache := tiered.NewRedisCache(client, cfg.Redis.KeyPrefix, cfg.Cache.TTL)
	storage, err := tiered.New(tiered.Config{
		Hot:               cache,
		Cold:              b.Storage,
		AsyncCacheSync:    cfg.Cache.Async,
		AsyncErrorHandler: onCacheError,
	})
	if err != nil {
		_ = cache.Close()
		_ = b.Close()
		return nil, err
	}

	closeCold := b.Close
	return &Backend{Name: b.Name + "+redis-cache", Storage: storage, Close: func() error {
		_ = storage.Close()
		_ = cache.Close()
		return closeCold()
	}}, nil
}

func open(ctx context.Context, cfg config.StorageConfig) (*Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return &Backend{Name: "memory", Storage: memory.New(), Close: noClose}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		storage, err := redisstorage.New(client, redisstorage.Config{KeyPrefix: cfg.Redis.KeyPrefix})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &Backend{Name: "redis", Storage: storage, Close: storage.Close}, nil

	case "postgres":
		storage, err := postgres.New(ctx, postgres.Config{
			ConnectionString: cfg.Postgres.DSN,
			MaxConns:         cfg.Postgres.MaxConns,
			MinConns:         cfg.Postgres.MinConns,
			Migrate:          cfg.Postgres.Migrate,
		})
		if err != nil {
			return nil, err
		}
		return &Backend{Name: "postgres", Storage: storage, Close: func() error {
			storage.Close()
			return nil
		}}, nil

	case "sqlite":
		storage, err := sqlite.New(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return &Backend{Name: "sqlite", Storage: storage, Close: storage.Close}, nil

	case "firestore":
		if cfg.Firestore.ProjectID == "" {
			return nil, fmt.Errorf("firestore project id is required")
		}
		client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		storage, err := firestorestorage.New(client, firestorestorage.Config{BalancesCollection: cfg.Firestore.Collection})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &Backend{Name: "firestore", Storage: storage, Close: storage.Close}, nil

	case "supabase":
		storage, err := supabase.New(supabase.Config{URL: cfg.Supabase.URL, APIKey: cfg.Supabase.ServiceKey})
		if err != nil {
			return nil, err
		}
		return &Backend{Name: "supabase", Storage: storage, Close: noClose}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
