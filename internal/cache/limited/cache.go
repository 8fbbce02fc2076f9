// Package limited is the in-process snapshot tier.
package limited

import (
	"context"

	"go.uber.org/zap"

	"goflare.io/rarity/internal/models"
)

// Cache is a typed view over a Store holding *models.Entry[T] values.
type Cache[T any] struct {
	store   Store
	tracker *Tracker
	logger  *zap.Logger
}

// New creates a new Cache instance backed by Ristretto.
func New[T any](maxEntries uint64, logger *zap.Logger) (*Cache[T], error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := NewRistrettoStore(maxEntries, logger)
	if err != nil {
		return nil, err
	}
	return NewWithStore[T](store, logger), nil
}

// NewWithStore creates a Cache over an existing Store.
func NewWithStore[T any](store Store, logger *zap.Logger) *Cache[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache[T]{
		store:   store,
		tracker: NewTracker(),
		logger:  logger,
	}
}

// Set replaces the entry under key.
func (c *Cache[T]) Set(ctx context.Context, key string, entry *models.Entry[T]) error {
	if err := c.store.Set(ctx, key, entry); err != nil {
		return err
	}
	c.tracker.Add(key)
	return nil
}

// Get returns the entry under key regardless of its age.
func (c *Cache[T]) Get(ctx context.Context, key string) (*models.Entry[T], bool) {
	value, found := c.store.Get(ctx, key)
	if !found {
		c.tracker.Remove(key)
		return nil, false
	}

	entry, ok := value.(*models.Entry[T])
	if !ok {
		c.logger.Error("Invalid cache entry type", zap.String("key", key))
		return nil, false
	}
	return entry, true
}

// Delete removes the entry under key.
func (c *Cache[T]) Delete(ctx context.Context, key string) {
	c.store.Delete(ctx, key)
	c.tracker.Remove(key)
}

// Keys returns the keys written to the cache and not known to be evicted.
func (c *Cache[T]) Keys() []string {
	return c.tracker.Keys()
}

// Flush clears the cache.
func (c *Cache[T]) Flush(ctx context.Context) {
	c.store.Flush(ctx)
	for _, key := range c.tracker.Keys() {
		c.tracker.Remove(key)
	}
}

// Close closes the underlying store.
func (c *Cache[T]) Close() error {
	c.store.Close()
	return nil
}
