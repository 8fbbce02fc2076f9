// Package snapshot implements the TTL-bounded snapshot caches that shield the marketplace.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/rarity/internal/cache/limited"
	"goflare.io/rarity/internal/config"
	"goflare.io/rarity/internal/metrics"
	"goflare.io/rarity/internal/models"
)

// Loader produces a new value for a key when its snapshot is absent or stale.
type Loader[T any] func(ctx context.Context) (T, error)

// RemoteTier is the optional shared tier consulted before the loader.
type RemoteTier interface {
	Get(ctx context.Context, key string, out any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// stored is the form a snapshot takes in the remote tier.
type stored[T any] struct {
	FetchedAt time.Time
	Value     T
}

// Cache holds one immutable snapshot per key and refreshes it on demand.
type Cache[T any] struct {
	name           string
	ttl            time.Duration
	refreshTimeout time.Duration
	serveStale     bool
	clock          func() time.Time

	local  *limited.Cache[T]
	remote RemoteTier
	sf     singleflight.Group

	tracer  trace.Tracer
	stats   *models.Metrics
	metrics *metrics.Registry
	logger  *zap.Logger
}

// New creates a new Cache named name. remote may be nil.
func New[T any](cfg *config.Config, name string, ttl time.Duration, remote RemoteTier, reg *metrics.Registry) (*Cache[T], error) {
	if ttl <= 0 {
		return nil, config.ErrInvalidTTL
	}

	local, err := limited.New[T](cfg.CacheBehaviorConfig.MaxLocalEntries, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local cache %s: %w", name, err)
	}

	return &Cache[T]{
		name:           name,
		ttl:            ttl,
		refreshTimeout: cfg.CacheBehaviorConfig.RefreshTimeout,
		serveStale:     cfg.CacheBehaviorConfig.ServeStaleOnError,
		clock:          cfg.Clock,
		local:          local,
		remote:         remote,
		tracer:         otel.Tracer("rarity/cache"),
		stats:          models.NewMetrics(),
		metrics:        reg,
		logger:         cfg.Logger.With(zap.String("cache", name)),
	}, nil
}

// Get returns the fresh snapshot under key, refreshing it with load when it is absent or stale.
// Concurrent refreshes of one key share a single load. The load is detached from the callers
// and bounded by the refresh timeout; a caller whose ctx ends stops waiting without cancelling it.
func (c *Cache[T]) Get(ctx context.Context, key string, load Loader[T]) (T, error) {
	ctx, span := c.tracer.Start(ctx, "Cache.Get", trace.WithAttributes(
		attribute.String("cache", c.name),
		attribute.String("key", key),
	))
	defer span.End()

	if entry, ok := c.fresh(ctx, key); ok {
		c.stats.Hits.Inc()
		c.metrics.ObserveLookup(c.name, "hit")
		span.SetAttributes(attribute.Bool("hit", true))
		return entry.Value, nil
	}

	c.stats.Misses.Inc()
	c.metrics.ObserveLookup(c.name, "miss")

	flight := c.sf.DoChan(key, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()
		return c.refresh(refreshCtx, key, load)
	})

	var zero T
	select {
	case <-ctx.Done():
		err := ctx.Err()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("Caller stopped waiting for refresh", zap.String("key", key), zap.Error(err))
		return zero, fmt.Errorf("waiting for %s refresh: %w", c.name, err)
	case res := <-flight:
		span.SetAttributes(attribute.Bool("shared", res.Shared))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return zero, res.Err
		}
		return res.Val.(*models.Entry[T]).Value, nil
	}
}

// fresh returns the local entry under key if it has not reached its TTL.
func (c *Cache[T]) fresh(ctx context.Context, key string) (*models.Entry[T], bool) {
	entry, found := c.local.Get(ctx, key)
	if !found {
		return nil, false
	}
	now := c.clock()
	if !entry.IsFresh(now, c.ttl) {
		return nil, false
	}
	entry.IncrementAccess(now)
	return entry, true
}

func (c *Cache[T]) refresh(ctx context.Context, key string, load Loader[T]) (*models.Entry[T], error) {
	ctx, span := c.tracer.Start(ctx, "Cache.Refresh", trace.WithAttributes(
		attribute.String("cache", c.name),
		attribute.String("key", key),
	))
	defer span.End()

	// A flight that finished just before this one may already have replaced the entry.
	if entry, ok := c.fresh(ctx, key); ok {
		return entry, nil
	}

	if entry, ok := c.fromRemote(ctx, key); ok {
		c.install(ctx, key, entry)
		return entry, nil
	}

	started := time.Now()
	value, err := load(ctx)
	c.metrics.ObserveRefresh(c.name, time.Since(started), err)
	if err != nil {
		c.stats.Failures.Inc()
		if stale, ok := c.local.Get(ctx, key); ok && c.serveStale {
			c.stats.StaleServed.Inc()
			c.logger.Warn("Refresh failed, serving stale snapshot",
				zap.String("key", key),
				zap.Time("fetchedAt", stale.FetchedAt),
				zap.Error(err))
			return stale, nil
		}
		c.logger.Error("Refresh failed", zap.String("key", key), zap.Error(err))
		return nil, err
	}

	entry := models.NewEntry(value, c.clock())
	c.install(ctx, key, entry)
	c.toRemote(ctx, key, entry)
	c.stats.Refreshes.Inc()
	c.logger.Debug("Snapshot refreshed", zap.String("key", key))
	return entry, nil
}

// install swaps the entry under key as a whole.
func (c *Cache[T]) install(ctx context.Context, key string, entry *models.Entry[T]) {
	if err := c.local.Set(ctx, key, entry); err != nil {
		c.logger.Warn("Failed to set local cache", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache[T]) fromRemote(ctx context.Context, key string) (*models.Entry[T], bool) {
	if c.remote == nil {
		return nil, false
	}

	var s stored[T]
	found, err := c.remote.Get(ctx, c.remoteKey(key), &s)
	if err != nil {
		c.logger.Warn("Failed to read remote cache", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	now := c.clock()
	if !found || now.Sub(s.FetchedAt) >= c.ttl {
		c.stats.RemoteMisses.Inc()
		return nil, false
	}

	c.stats.RemoteHits.Inc()
	entry := models.NewEntry(s.Value, s.FetchedAt)
	entry.IncrementAccess(now)
	return entry, true
}

// remoteKey namespaces key by cache name so caches can share one remote tier.
func (c *Cache[T]) remoteKey(key string) string {
	return c.name + ":" + key
}

func (c *Cache[T]) toRemote(ctx context.Context, key string, entry *models.Entry[T]) {
	if c.remote == nil {
		return
	}
	s := stored[T]{FetchedAt: entry.FetchedAt, Value: entry.Value}
	if err := c.remote.Set(ctx, c.remoteKey(key), s, c.ttl); err != nil {
		c.logger.Warn("Failed to write remote cache", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops the snapshot under key from both tiers so the next Get reloads it.
// A refresh already in flight may still install its result.
func (c *Cache[T]) Invalidate(ctx context.Context, key string) error {
	c.local.Delete(ctx, key)
	if c.remote == nil {
		return nil
	}
	if err := c.remote.Delete(ctx, c.remoteKey(key)); err != nil {
		return fmt.Errorf("failed to invalidate %s:%s: %w", c.name, key, err)
	}
	return nil
}

// Keys returns the keys currently held locally.
func (c *Cache[T]) Keys() []string {
	return c.local.Keys()
}

// Stats returns a copy of the cache counters.
func (c *Cache[T]) Stats() models.Snapshot {
	return c.stats.Snapshot()
}

// Close releases the local tier.
func (c *Cache[T]) Close() error {
	if err := c.local.Close(); err != nil {
		return fmt.Errorf("failed to close cache %s: %w", c.name, err)
	}
	return nil
}
