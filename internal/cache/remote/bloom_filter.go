package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/rarity/internal/config"
)

// syncInterval bounds how often a negative lookup pulls keys written by other processes.
const syncInterval = 10 * time.Second

// BloomFilter remembers which snapshot keys were ever written so misses skip the Redis round trip.
// The filter itself is persisted in Redis and merged on every save so processes share it.
type BloomFilter struct {
	store    *Store
	settings config.BloomFilterConfig
	logger   *zap.Logger

	mu       sync.RWMutex
	filter   *bloom.BloomFilter
	pending  map[string]struct{} // added since the last successful save
	lastSync time.Time
}

// NewBloomFilter creates a new, empty BloomFilter instance.
func NewBloomFilter(store *Store, settings config.BloomFilterConfig) *BloomFilter {
	return &BloomFilter{
		store:    store,
		settings: settings,
		logger:   store.logger,
		filter:   bloom.NewWithEstimates(settings.ExpectedItems, settings.FalsePositiveRate),
		pending:  make(map[string]struct{}),
	}
}

// Add adds a key to the bloom filter.
func (bf *BloomFilter) Add(key string) {
	bf.mu.Lock()
	bf.filter.AddString(key)
	bf.pending[key] = struct{}{}
	bf.mu.Unlock()
}

// Test checks if a key might be in the bloom filter.
func (bf *BloomFilter) Test(key string) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.filter.TestString(key)
}

// MightContain tests key, pulling the shared copy first when the local answer is negative and stale.
func (bf *BloomFilter) MightContain(ctx context.Context, key string) bool {
	if bf.Test(key) {
		return true
	}

	bf.mu.RLock()
	due := time.Since(bf.lastSync) >= syncInterval
	bf.mu.RUnlock()
	if !due {
		return false
	}

	if err := bf.Load(ctx); err != nil {
		bf.logger.Warn("Failed to sync bloom filter", zap.Error(err))
		return true
	}
	return bf.Test(key)
}

// Save merges the shared copy into the filter and writes the result back. Failures are logged only.
func (bf *BloomFilter) Save(ctx context.Context) {
	if err := bf.Load(ctx); err != nil {
		bf.logger.Warn("Failed to merge shared bloom filter", zap.Error(err))
	}

	saved := bf.pendingKeys()
	encoded, err := bf.encode()
	if err != nil {
		bf.logger.Error("Failed to serialize bloom filter", zap.Error(err))
		return
	}

	if err := bf.store.executeWithResilience(ctx, func() error {
		return bf.store.client.Set(ctx, bf.settings.BloomFilterRedisKey, encoded, 0).Err()
	}); err != nil {
		bf.logger.Error("Failed to save bloom filter to remote cache", zap.Error(err))
		return
	}

	bf.mu.Lock()
	for _, key := range saved {
		delete(bf.pending, key)
	}
	bf.mu.Unlock()
}

func (bf *BloomFilter) pendingKeys() []string {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	keys := make([]string, 0, len(bf.pending))
	for key := range bf.pending {
		keys = append(keys, key)
	}
	return keys
}

func (bf *BloomFilter) encode() (string, error) {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	var buf bytes.Buffer
	if _, err := bf.filter.WriteTo(&buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Load merges the copy persisted in Redis into the filter. A missing copy is not an error.
func (bf *BloomFilter) Load(ctx context.Context) error {
	var encoded string
	err := bf.store.executeWithResilience(ctx, func() error {
		var err error
		encoded, err = bf.store.client.Get(ctx, bf.settings.BloomFilterRedisKey).Result()
		return err
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			bf.markSynced()
			bf.logger.Debug("Bloom filter not found in remote cache")
			return nil
		}
		return fmt.Errorf("failed to load bloom filter from remote cache: %w", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode bloom filter data: %w", err)
	}

	shared := &bloom.BloomFilter{}
	if _, err := shared.ReadFrom(bytes.NewReader(decoded)); err != nil {
		return fmt.Errorf("failed to deserialize bloom filter: %w", err)
	}

	bf.mu.Lock()
	defer bf.mu.Unlock()
	if err := bf.filter.Merge(shared); err != nil {
		// Sized differently elsewhere; the shared copy wins, plus whatever has not been saved yet.
		bf.logger.Warn("Replacing bloom filter with shared copy",
			zap.Int("pending", len(bf.pending)), zap.Error(err))
		bf.filter = shared
		for key := range bf.pending {
			bf.filter.AddString(key)
		}
	}
	bf.lastSync = time.Now()
	return nil
}

func (bf *BloomFilter) markSynced() {
	bf.mu.Lock()
	bf.lastSync = time.Now()
	bf.mu.Unlock()
}
