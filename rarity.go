// Package rarity ranks NFT collections by trait rarity and serves them through TTL-bounded caches.
package rarity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goflare.io/rarity/internal/cache/remote"
	"goflare.io/rarity/internal/cache/snapshot"
	"goflare.io/rarity/internal/config"
	"goflare.io/rarity/internal/marketplace"
	"goflare.io/rarity/internal/metrics"
	"goflare.io/rarity/internal/models"
	"goflare.io/rarity/internal/scoring"
	"goflare.io/rarity/internal/utils"
)

const (
	collectionCacheName = "collection"
	imageCacheName      = "images"

	warmupConcurrency = 4
)

// Engine 定義 rarity 引擎的主要結構體
type Engine struct {
	cfg         *config.Config
	assembler   *marketplace.Assembler
	collections *snapshot.Cache[[]models.RankedNFTRecord]
	images      *snapshot.Cache[models.ImageIndex]
	remote      *remote.Store
	metrics     *metrics.Registry
	tracer      trace.Tracer
	logger      *zap.Logger
}

// Stats is a point-in-time view of both caches.
type Stats struct {
	Collection        models.Snapshot `json:"collection"`
	Images            models.Snapshot `json:"images"`
	CachedCollections []string        `json:"cachedCollections"`
	CachedImages      []string        `json:"cachedImages"`
}

// New 初始化 Engine，接受多個配置選項
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	b := &builder{cfg: config.Default()}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	cfg := b.cfg
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	reg := b.registry
	if reg == nil {
		reg = metrics.New()
	}

	fetcher := b.fetcher
	if fetcher == nil {
		client, err := marketplace.NewClient(cfg, reg)
		if err != nil {
			return nil, fmt.Errorf("failed to create marketplace client: %w", err)
		}
		fetcher = client
	}

	e := &Engine{
		cfg:       cfg,
		assembler: marketplace.NewAssembler(fetcher, cfg.PageSize, cfg.MaxRecords, cfg.Logger),
		metrics:   reg,
		tracer:    otel.Tracer("rarity"),
		logger:    cfg.Logger,
	}

	var tier snapshot.RemoteTier
	if cfg.RemoteConfig.Enabled {
		store, err := newRemoteStore(ctx, cfg, b.redisClient)
		if err != nil {
			return nil, err
		}
		e.remote = store
		tier = store
	}

	var err error
	e.collections, err = snapshot.New[[]models.RankedNFTRecord](
		cfg, collectionCacheName, cfg.CacheBehaviorConfig.CollectionTTL, tier, reg)
	if err != nil {
		return nil, errors.Join(err, e.Close())
	}
	e.images, err = snapshot.New[models.ImageIndex](
		cfg, imageCacheName, cfg.CacheBehaviorConfig.ImageTTL, tier, reg)
	if err != nil {
		return nil, errors.Join(err, e.Close())
	}

	return e, nil
}

func newRemoteStore(ctx context.Context, cfg *config.Config, client redis.Cmdable) (*remote.Store, error) {
	if client == nil {
		rc := cfg.RemoteConfig
		redisClient := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		client = redisClient
	}

	store, err := remote.New(ctx, cfg, client)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize remote cache: %w", err)
	}
	return store, nil
}

// Metrics returns the Prometheus registry the engine records into.
func (e *Engine) Metrics() *metrics.Registry {
	return e.metrics
}

// Config returns the engine configuration. It must not be modified.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// CollectionRarity returns one page of the collection ranked by corrected rarity.
// A page past the end yields an empty slice with the real total.
func (e *Engine) CollectionRarity(ctx context.Context, apiKey, token string, page, limit int) (*models.CollectionPage, error) {
	if err := validateCollection(apiKey, token); err != nil {
		return nil, err
	}
	if page < 1 {
		return nil, models.NewRequestError("page", "must be a positive integer")
	}
	if limit < 1 {
		return nil, models.NewRequestError("limit", "must be a positive integer")
	}

	ctx, span := e.tracer.Start(ctx, "Engine.CollectionRarity", trace.WithAttributes(
		attribute.String("token", token),
		attribute.Int("page", page),
		attribute.Int("limit", limit),
	))
	defer span.End()

	ranked, err := e.collections.Get(ctx, token, func(ctx context.Context) ([]models.RankedNFTRecord, error) {
		return e.rankCollection(ctx, apiKey, token)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	start, end := utils.PageBounds(len(ranked), page, limit)
	nfts := make([]models.RankedNFTRecord, end-start)
	copy(nfts, ranked[start:end])

	return &models.CollectionPage{
		NFTs:       nfts,
		Total:      len(ranked),
		Page:       page,
		Limit:      limit,
		TotalPages: utils.TotalPages(len(ranked), limit),
	}, nil
}

func (e *Engine) rankCollection(ctx context.Context, apiKey, token string) ([]models.RankedNFTRecord, error) {
	started := time.Now()

	records, err := e.assembler.FetchCollection(ctx, apiKey, token)
	if err != nil {
		return nil, models.ComputationError(err)
	}

	ranked, err := scoring.Compute(records)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Collection ranked",
		zap.String("token", token),
		zap.Int("records", len(ranked)),
		zap.Duration("elapsed", time.Since(started)))
	return ranked, nil
}

// NFTImages returns name and image for each requested serial present in the collection.
// Unknown serials are omitted.
func (e *Engine) NFTImages(ctx context.Context, apiKey, token string, serials []int) (map[int]models.ImageInfo, error) {
	if err := validateCollection(apiKey, token); err != nil {
		return nil, err
	}
	if len(serials) == 0 {
		return nil, models.NewRequestError("serials", "at least one serial id is required")
	}

	ctx, span := e.tracer.Start(ctx, "Engine.NFTImages", trace.WithAttributes(
		attribute.String("token", token),
		attribute.Int("serials", len(serials)),
	))
	defer span.End()

	index, err := e.imageIndex(ctx, apiKey, token)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	found := make(map[int]models.ImageInfo, len(serials))
	for _, serial := range serials {
		if info, ok := index[serial]; ok {
			found[serial] = info
		}
	}
	return found, nil
}

func (e *Engine) imageIndex(ctx context.Context, apiKey, token string) (models.ImageIndex, error) {
	return e.images.Get(ctx, token, func(ctx context.Context) (models.ImageIndex, error) {
		records, err := e.assembler.FetchCollection(ctx, apiKey, token)
		if err != nil {
			return nil, err
		}
		return buildImageIndex(records, e.cfg.IPFSGateway), nil
	})
}

// Warmup loads both caches for every token. It returns the first failure after all tokens were tried.
func (e *Engine) Warmup(ctx context.Context, apiKey string, tokens []string) error {
	if apiKey == "" {
		return models.NewRequestError("apikey", "is required")
	}

	var g errgroup.Group
	g.SetLimit(warmupConcurrency)

	for _, token := range tokens {
		g.Go(func() error {
			if _, err := e.CollectionRarity(ctx, apiKey, token, 1, e.cfg.DefaultLimit); err != nil {
				e.logger.Warn("Failed to warm up collection", zap.String("token", token), zap.Error(err))
				return fmt.Errorf("warm up %s: %w", token, err)
			}
			if _, err := e.imageIndex(ctx, apiKey, token); err != nil {
				e.logger.Warn("Failed to warm up images", zap.String("token", token), zap.Error(err))
				return fmt.Errorf("warm up images %s: %w", token, err)
			}
			e.logger.Info("Collection warmed up", zap.String("token", token))
			return nil
		})
	}
	return g.Wait()
}

// Invalidate drops the ranked and image snapshots of token so the next request reloads them.
func (e *Engine) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return models.NewRequestError("token", "is required")
	}

	err := errors.Join(
		e.collections.Invalidate(ctx, token),
		e.images.Invalidate(ctx, token),
	)
	if err != nil {
		e.logger.Warn("Failed to invalidate collection", zap.String("token", token), zap.Error(err))
		return err
	}
	e.logger.Info("Collection invalidated", zap.String("token", token))
	return nil
}

// Stats returns the counters and cached keys of both caches.
func (e *Engine) Stats() Stats {
	return Stats{
		Collection:        e.collections.Stats(),
		Images:            e.images.Stats(),
		CachedCollections: e.collections.Keys(),
		CachedImages:      e.images.Keys(),
	}
}

// Close 關閉 Engine，釋放資源
func (e *Engine) Close() error {
	e.logger.Info("Closing rarity engine")

	var errs []error
	if e.collections != nil {
		errs = append(errs, e.collections.Close())
	}
	if e.images != nil {
		errs = append(errs, e.images.Close())
	}
	if e.remote != nil {
		errs = append(errs, e.remote.Close())
	}
	return errors.Join(errs...)
}

func validateCollection(apiKey, token string) error {
	if apiKey == "" {
		return models.NewRequestError("apikey", "is required")
	}
	if token == "" {
		return models.NewRequestError("token", "is required")
	}
	return nil
}
