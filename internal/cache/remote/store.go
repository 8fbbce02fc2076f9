// Package remote is the optional Redis snapshot tier shared between processes.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/rarity/internal/config"
	"goflare.io/rarity/internal/retrier"
	"goflare.io/rarity/pkg/serialization"
)

// Store reads and writes encoded snapshots in Redis with retries, a circuit breaker and a bloom filter.
type Store struct {
	client  redis.Cmdable
	retrier *retrier.Retrier
	breaker *gobreaker.CircuitBreaker
	codec   serialization.Codec
	prefix  string
	bloom   *BloomFilter
	logger  *zap.Logger
}

// New creates a new Store and loads the persisted bloom filter, if enabled.
func New(ctx context.Context, cfg *config.Config, client redis.Cmdable) (*Store, error) {
	codec, err := serialization.Lookup(cfg.Serialization.Type)
	if err != nil {
		return nil, err
	}

	rc := cfg.ResilienceConfig
	strategy, err := retrier.ParseStrategy(rc.RetryStrategy)
	if err != nil {
		return nil, err
	}
	r, err := retrier.New(retrier.Settings{
		MaxAttempts: rc.MaxRetries,
		BaseDelay:   rc.InitialInterval,
		MaxDelay:    rc.MaxInterval,
		Factor:      rc.Multiplier,
		Jitter:      rc.RandomizationFactor,
		Strategy:    strategy,
	}, isRetryable)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrier: %w", err)
	}
	r.OnRetry = func(attempt int, delay time.Duration, err error) {
		cfg.Logger.Debug("Retrying redis command",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}

	s := &Store{
		client:  client,
		retrier: r,
		breaker: gobreaker.NewCircuitBreaker(cfg.BreakerSettings("redis", isBreakerSuccess)),
		codec:   codec,
		prefix:  cfg.RemoteConfig.KeyPrefix,
		logger:  cfg.Logger,
	}

	if bs := cfg.RemoteConfig.BloomFilterSettings; bs.Enabled {
		s.bloom = NewBloomFilter(s, bs)
		if err := s.bloom.Load(ctx); err != nil {
			return nil, fmt.Errorf("failed to load Bloom filter: %w", err)
		}
	}

	return s, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, gobreaker.ErrOpenState)
}

func isBreakerSuccess(err error) bool {
	return err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled)
}

// executeWithResilience runs f under the breaker, retrying transient failures inside it.
func (s *Store) executeWithResilience(ctx context.Context, f func() error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.retrier.Run(ctx, f)
	})
	return err
}

func (s *Store) key(key string) string {
	return s.prefix + key
}

// Get decodes the snapshot stored under key into out. It reports false when nothing is stored.
func (s *Store) Get(ctx context.Context, key string, out any) (bool, error) {
	fullKey := s.key(key)
	if s.bloom != nil && !s.bloom.MightContain(ctx, fullKey) {
		s.logger.Debug("Bloom filter negative for key", zap.String("key", fullKey))
		return false, nil
	}

	var data []byte
	err := s.executeWithResilience(ctx, func() error {
		var err error
		data, err = s.client.Get(ctx, fullKey).Bytes()
		return err
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	if err := s.codec.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode snapshot %s: %w", fullKey, err)
	}
	return true, nil
}

// Set encodes value under key with the given expiry.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := s.codec.Marshal(value)
	if err != nil {
		return err
	}

	fullKey := s.key(key)
	if err := s.executeWithResilience(ctx, func() error {
		return s.client.Set(ctx, fullKey, data, ttl).Err()
	}); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	if s.bloom != nil {
		s.bloom.Add(fullKey)
		s.bloom.Save(ctx)
	}
	return nil
}

// Delete removes key. The bloom filter keeps it, so later lookups still reach Redis and miss there.
func (s *Store) Delete(ctx context.Context, key string) error {
	fullKey := s.key(key)
	if err := s.executeWithResilience(ctx, func() error {
		return s.client.Del(ctx, fullKey).Err()
	}); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection when the client supports it.
func (s *Store) Close() error {
	if closer, ok := s.client.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close remote cache connection: %w", err)
		}
	}
	return nil
}
