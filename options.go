package rarity

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/rarity/internal/config"
	"goflare.io/rarity/internal/marketplace"
	"goflare.io/rarity/internal/metrics"
)

// PageFetcher retrieves one page of a collection from the marketplace.
type PageFetcher = marketplace.PageFetcher

// Option 定義初始化 Engine 的選項
type Option func(*builder) error

type builder struct {
	cfg         *config.Config
	fetcher     PageFetcher
	redisClient redis.Cmdable
	registry    *metrics.Registry
}

func configOption(opt config.Option) Option {
	return func(b *builder) error {
		return opt(b.cfg)
	}
}

// WithConfig replaces the whole configuration. Options after it apply on top.
func WithConfig(cfg *config.Config) Option {
	return func(b *builder) error {
		if cfg != nil {
			b.cfg = cfg
		}
		return nil
	}
}

// WithLogger 設置自定義的日誌記錄器
func WithLogger(logger *zap.Logger) Option {
	return configOption(config.WithLogger(logger))
}

// WithMarketplaceURL sets the upstream collection endpoint.
func WithMarketplaceURL(url string) Option {
	return configOption(config.WithMarketplaceURL(url))
}

// WithPageSize sets how many records are requested per upstream page.
func WithPageSize(size int) Option {
	return configOption(config.WithPageSize(size))
}

// WithMaxRecords caps how many records one collection assembly keeps.
func WithMaxRecords(max int) Option {
	return configOption(config.WithMaxRecords(max))
}

// WithTTL 設置快取的新鮮期
func WithTTL(ttl time.Duration) Option {
	return configOption(config.WithTTL(ttl))
}

// WithServeStaleOnError serves the last snapshot when a refresh fails.
func WithServeStaleOnError(enabled bool) Option {
	return configOption(config.WithServeStaleOnError(enabled))
}

// WithRequestTimeout bounds every upstream page request.
func WithRequestTimeout(timeout time.Duration) Option {
	return configOption(config.WithRequestTimeout(timeout))
}

// WithRateLimit limits upstream requests per second. Zero disables it.
func WithRateLimit(rps float64, burst int) Option {
	return configOption(config.WithRateLimit(rps, burst))
}

// WithIPFSGateway rewrites ipfs:// image references through gateway.
func WithIPFSGateway(gateway string) Option {
	return configOption(config.WithIPFSGateway(gateway))
}

// WithRedis enables the shared Redis snapshot tier.
func WithRedis(addr, password string, db int) Option {
	return configOption(config.WithRedis(addr, password, db))
}

// WithSerialization 設置序列化方式
func WithSerialization(serializer string) Option {
	return configOption(config.WithSerialization(serializer))
}

// WithHTTPClient replaces the client used for upstream calls.
func WithHTTPClient(client *http.Client) Option {
	return configOption(config.WithHTTPClient(client))
}

// WithClock replaces the time source used for freshness checks.
func WithClock(clock func() time.Time) Option {
	return configOption(config.WithClock(clock))
}

// WithPageFetcher replaces the marketplace HTTP client.
func WithPageFetcher(fetcher PageFetcher) Option {
	return func(b *builder) error {
		b.fetcher = fetcher
		return nil
	}
}

// WithRedisClient supplies the Redis client of the remote tier and enables it.
func WithRedisClient(client redis.Cmdable) Option {
	return func(b *builder) error {
		b.redisClient = client
		b.cfg.RemoteConfig.Enabled = client != nil
		return nil
	}
}

// WithMetrics registers the engine's collectors on reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(b *builder) error {
		b.registry = reg
		return nil
	}
}
