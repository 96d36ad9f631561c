// Package tiered puts a fast balance cache (Hot) in front of a durable
// tokens.Storage (Cold).
//
// Strategies per operation:
//   - Read-Through: GetBalance (Hot → Cold → fill Hot if no mutation happened meanwhile)
//   - Write-Invalidate: AddTokens, DeductTokens (Cold → invalidate Hot)
//
// Cold stays the source of truth. Every mutation runs on Cold, then bumps the
// user's cache version and drops the cached value. A read fills Hot only with
// the version it observed before reading Cold, so a read that raced a mutation
// can never put the pre-mutation balance back.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

// Cache holds versioned copies of user balances.
type Cache interface {
	// Get returns the cached balance, whether it was present, and the entry's
	// current version (also reported on a miss).
	Get(ctx context.Context, userID string) (balance int, ok bool, version int64, err error)
	// Fill stores balance only if the entry's version still equals version.
	Fill(ctx context.Context, userID string, balance int, version int64) (bool, error)
	// Invalidate bumps the entry's version and drops the cached balance.
	Invalidate(ctx context.Context, userID string) error
}

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the balance cache (e.g., Redis)
	Hot Cache

	// Cold is the persistent storage (e.g., Postgres, Firestore) and the source of truth
	Cold tokens.Storage

	// AsyncCacheSync fills Hot after a Cold read from a background worker
	// instead of on the request path. Invalidations are always synchronous.
	AsyncCacheSync bool

	// SyncBufferSize is the size of the buffered channel for async operations.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when a cache operation fails.
	AsyncErrorHandler func(error)
}

// Storage implements tokens.Storage over a Hot cache and a Cold store.
type Storage struct {
	hot  Cache
	cold tokens.Storage
	conf Config

	syncQueue chan func() error
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncCacheSync {
		s.startWorker()
	}

	return s, nil
}

// Close drains pending cache writes and stops the worker (if enabled).
// It does not close Cold.
func (s *Storage) Close() error {
	if s.conf.AsyncCacheSync {
		s.closeOnce.Do(func() {
			close(s.shutdown)
			s.wg.Wait()
		})
	}
	return nil
}

// startWorker applies queued cache fills in order.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				s.report(job())
			case <-s.shutdown:
				for {
					select {
					case job := <-s.syncQueue:
						s.report(job())
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) report(err error) {
	if err != nil && s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(fmt.Errorf("tiered cache sync failed: %w", err))
	}
}

// fill stores a balance read from Cold, inline or through the worker.
func (s *Storage) fill(ctx context.Context, userID string, balance int, version int64) {
	job := func(ctx context.Context) error {
		_, err := s.hot.Fill(ctx, userID, balance, version)
		return err
	}
	if !s.conf.AsyncCacheSync {
		s.report(job(ctx))
		return
	}
	select {
	case s.syncQueue <- func() error { return job(context.Background()) }:
	default:
		s.report(errors.New("sync queue full, skipping cache fill"))
	}
}

// --- Strategy: Read-Through ---

// GetBalance implements tokens.Storage with read-through strategy.
func (s *Storage) GetBalance(ctx context.Context, userID string) (int, error) {
	cached, ok, version, hotErr := s.hot.Get(ctx, userID)
	if hotErr == nil && ok {
		return cached, nil
	}
	s.report(hotErr)

	n, err := s.cold.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	if hotErr == nil {
		s.fill(ctx, userID, n, version)
	}
	return n, nil
}

// --- Strategy: Write-Invalidate ---

// DeductTokens implements tokens.Storage with write-invalidate strategy.
func (s *Storage) DeductTokens(ctx context.Context, userID string, amount int) (int, error) {
	return s.writeInvalidate(ctx, userID, amount, s.cold.DeductTokens)
}

// AddTokens implements tokens.Storage with write-invalidate strategy.
func (s *Storage) AddTokens(ctx context.Context, userID string, amount int) (int, error) {
	return s.writeInvalidate(ctx, userID, amount, s.cold.AddTokens)
}

func (s *Storage) writeInvalidate(ctx context.Context, userID string, amount int,
	op func(context.Context, string, int) (int, error)) (int, error) {
	n, err := op(ctx, userID, amount)
	if errors.Is(err, tokens.ErrInvalidAmount) {
		return n, err
	}
	// The mutation may have committed even when op reports an error.
	if ierr := s.hot.Invalidate(context.WithoutCancel(ctx), userID); ierr != nil {
		s.report(ierr)
	}
	return n, err
}

// Ping checks Cold when it supports health checks.
func (s *Storage) Ping(ctx context.Context) error {
	if p, ok := s.cold.(tokens.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
