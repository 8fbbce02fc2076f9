package limited

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// ErrRejected is returned when the store drops an entry instead of admitting it.
var ErrRejected = errors.New("local store rejected entry")

// Store defines the interface for the local snapshot store. Values are stored as-is and never copied.
type Store interface {
	Set(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string) (any, bool)
	Delete(ctx context.Context, key string)
	Flush(ctx context.Context)
	Close()
}

// RistrettoStore implements the Store interface using Ristretto.
// Every entry costs 1, so maxEntries bounds the number of cached collections.
type RistrettoStore struct {
	cache  *ristretto.Cache
	logger *zap.Logger
}

// NewRistrettoStore creates a new RistrettoStore instance.
func NewRistrettoStore(maxEntries uint64, logger *zap.Logger) (*RistrettoStore, error) {
	if maxEntries == 0 {
		maxEntries = 1
	}

	// Cost is the entry count, not the byte size.
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        int64(10 * maxEntries),
		MaxCost:            int64(maxEntries),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Ristretto cache: %w", err)
	}

	return &RistrettoStore{
		cache:  c,
		logger: logger,
	}, nil
}

// Set stores value under key without expiry; freshness is decided by the caller.
// It waits for the write to be applied so a following Get observes it.
func (s *RistrettoStore) Set(ctx context.Context, key string, value any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !s.cache.Set(key, value, 1) {
		s.logger.Warn("Ristretto Set dropped entry", zap.String("key", key))
		return ErrRejected
	}
	s.cache.Wait()

	if _, ok := s.cache.Get(key); !ok {
		return ErrRejected
	}
	return nil
}

// Get retrieves a stored value.
func (s *RistrettoStore) Get(ctx context.Context, key string) (any, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	default:
		return s.cache.Get(key)
	}
}

// Delete removes a stored value.
func (s *RistrettoStore) Delete(_ context.Context, key string) {
	s.cache.Del(key)
}

// Flush clears the entire store.
func (s *RistrettoStore) Flush(_ context.Context) {
	s.cache.Clear()
}

// Close closes the store.
func (s *RistrettoStore) Close() {
	s.cache.Close()
}
