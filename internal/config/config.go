package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"goflare.io/rarity/internal/retrier"
	"goflare.io/rarity/pkg/serialization"
)

const (
	// DefaultPageSize is the number of records requested per upstream page.
	DefaultPageSize = 100
	// DefaultMaxRecords caps a single collection assembly against an upstream that never returns a short page.
	DefaultMaxRecords = 5000
	// DefaultLimit is the page size served by /collection-rarity when the caller omits limit.
	DefaultLimit = 50
	// DefaultTTL is how long a collection or image snapshot stays fresh.
	DefaultTTL = 5 * time.Minute

	// DefaultRefreshTimeout bounds one shared snapshot refresh, all pages included.
	DefaultRefreshTimeout = 2 * time.Minute
)

// Config 用於 rarity 引擎的配置
type Config struct {
	MarketplaceURL string        `yaml:"marketplace_url"`
	PageSize       int           `yaml:"page_size"`
	MaxRecords     int           `yaml:"max_records"`
	DefaultLimit   int           `yaml:"default_limit"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      float64       `yaml:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst"`
	IPFSGateway    string        `yaml:"ipfs_gateway"`

	CacheBehaviorConfig CacheBehaviorConfig `yaml:"cache"`
	RemoteConfig        RemoteConfig        `yaml:"redis"`
	ResilienceConfig    ResilienceConfig    `yaml:"resilience"`
	ServerConfig        ServerConfig        `yaml:"server"`
	Serialization       SerializationConfig `yaml:"serialization"`

	Logger     *zap.Logger      `yaml:"-"`
	HTTPClient *http.Client     `yaml:"-"`
	Clock      func() time.Time `yaml:"-"`
}

// CacheBehaviorConfig 緩存相關配置
type CacheBehaviorConfig struct {
	CollectionTTL     time.Duration `yaml:"collection_ttl"`
	ImageTTL          time.Duration `yaml:"image_ttl"`
	MaxLocalEntries   uint64        `yaml:"max_local_entries"`
	ServeStaleOnError bool          `yaml:"serve_stale_on_error"`
	RefreshTimeout    time.Duration `yaml:"refresh_timeout"`
	WarmupTokens      []string      `yaml:"warmup_tokens"`
}

// RemoteConfig configures the optional Redis snapshot tier.
type RemoteConfig struct {
	Enabled             bool              `yaml:"enabled"`
	Addr                string            `yaml:"addr"`
	Password            string            `yaml:"password"`
	DB                  int               `yaml:"db"`
	KeyPrefix           string            `yaml:"key_prefix"`
	BloomFilterSettings BloomFilterConfig `yaml:"bloom"`
}

// BloomFilterConfig 用於布隆過濾器的配置
type BloomFilterConfig struct {
	Enabled             bool    `yaml:"enabled"`
	ExpectedItems       uint    `yaml:"expected_items"`
	FalsePositiveRate   float64 `yaml:"false_positive_rate"`
	BloomFilterRedisKey string  `yaml:"redis_key"`
}

// ResilienceConfig 用於設置重試和熔斷器
type ResilienceConfig struct {
	ShardCount          uint64        `yaml:"shard_count"`
	BreakerMaxFailures  uint32        `yaml:"breaker_max_failures"`
	BreakerOpenTimeout  time.Duration `yaml:"breaker_open_timeout"`
	BreakerInterval     time.Duration `yaml:"breaker_interval"`
	MaxRetries          int           `yaml:"max_retries"`
	InitialInterval     time.Duration `yaml:"initial_interval"`
	MaxInterval         time.Duration `yaml:"max_interval"`
	Multiplier          float64       `yaml:"multiplier"`
	RandomizationFactor float64       `yaml:"randomization_factor"`
	RetryStrategy       string        `yaml:"retry_strategy"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	ClientCacheMaxAge time.Duration `yaml:"client_cache_max_age"`
}

// SerializationConfig 序列化相關配置
type SerializationConfig struct {
	Type string `yaml:"type"`
}

// Option 函數類型
type Option func(*Config) error

var (
	ErrShardCountZero      = errors.New("shard count must be at least 1")
	ErrMissingMarketplace  = errors.New("marketplace url is required")
	ErrInvalidPageSize     = errors.New("page size must be greater than 0")
	ErrInvalidMaxRecords   = errors.New("max records must be greater than 0")
	ErrInvalidTTL          = errors.New("ttl must be greater than 0")
	ErrMissingRedisAddress = errors.New("redis address is required when the remote tier is enabled")
)

// NewConfig 創建一個默認的 Config，允許覆蓋特定參數
func NewConfig(options ...Option) (*Config, error) {
	cfg := Default()

	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		PageSize:       DefaultPageSize,
		MaxRecords:     DefaultMaxRecords,
		DefaultLimit:   DefaultLimit,
		RequestTimeout: 30 * time.Second,
		RateLimit:      10,
		RateBurst:      5,
		CacheBehaviorConfig: CacheBehaviorConfig{
			CollectionTTL:   DefaultTTL,
			ImageTTL:        DefaultTTL,
			MaxLocalEntries: 1024,
			RefreshTimeout:  DefaultRefreshTimeout,
		},
		RemoteConfig: RemoteConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "rarity:",
			BloomFilterSettings: BloomFilterConfig{
				Enabled:             true,
				ExpectedItems:       1000,
				FalsePositiveRate:   0.01,
				BloomFilterRedisKey: "rarity:bloom",
			},
		},
		ResilienceConfig: ResilienceConfig{
			ShardCount:          16,
			BreakerMaxFailures:  5,
			BreakerOpenTimeout:  30 * time.Second,
			BreakerInterval:     60 * time.Second,
			MaxRetries:          3,
			InitialInterval:     100 * time.Millisecond,
			MaxInterval:         400 * time.Millisecond,
			Multiplier:          2,
			RandomizationFactor: 0.1,
			RetryStrategy:       "exponential",
		},
		ServerConfig: ServerConfig{
			Addr:              ":8080",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			ClientCacheMaxAge: 30 * time.Second,
		},
		Serialization: SerializationConfig{
			Type: serialization.JSONType,
		},
		Logger: zap.NewNop(),
		Clock:  time.Now,
	}
}

// Load reads a YAML file on top of the defaults and applies options afterwards.
func Load(path string, options ...Option) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the engine relies on.
func (c *Config) Validate() error {
	if c.PageSize <= 0 {
		return ErrInvalidPageSize
	}
	if c.MaxRecords <= 0 {
		return ErrInvalidMaxRecords
	}
	if c.CacheBehaviorConfig.CollectionTTL <= 0 || c.CacheBehaviorConfig.ImageTTL <= 0 {
		return ErrInvalidTTL
	}
	if c.ResilienceConfig.ShardCount == 0 {
		return ErrShardCountZero
	}
	if c.RemoteConfig.Enabled && c.RemoteConfig.Addr == "" {
		return ErrMissingRedisAddress
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = DefaultLimit
	}
	if c.CacheBehaviorConfig.RefreshTimeout <= 0 {
		c.CacheBehaviorConfig.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.CacheBehaviorConfig.MaxLocalEntries == 0 {
		c.CacheBehaviorConfig.MaxLocalEntries = 1024
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if _, err := serialization.Lookup(c.Serialization.Type); err != nil {
		return err
	}
	if _, err := retrier.ParseStrategy(c.ResilienceConfig.RetryStrategy); err != nil {
		return err
	}
	return nil
}

// BreakerSettings builds gobreaker settings named name from the resilience config.
func (c *Config) BreakerSettings(name string, isSuccessful func(error) bool) gobreaker.Settings {
	maxFailures := c.ResilienceConfig.BreakerMaxFailures
	logger := c.Logger
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    c.ResilienceConfig.BreakerInterval,
		Timeout:     c.ResilienceConfig.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return maxFailures > 0 && counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: isSuccessful,
	}
}

// WithLogger 設置自定義 Logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithMarketplaceURL sets the upstream collection endpoint.
func WithMarketplaceURL(url string) Option {
	return func(c *Config) error {
		if url == "" {
			return ErrMissingMarketplace
		}
		c.MarketplaceURL = url
		return nil
	}
}

// WithPageSize sets the upstream page size.
func WithPageSize(size int) Option {
	return func(c *Config) error {
		if size <= 0 {
			return ErrInvalidPageSize
		}
		c.PageSize = size
		return nil
	}
}

// WithMaxRecords sets the assembly safety cap.
func WithMaxRecords(max int) Option {
	return func(c *Config) error {
		if max <= 0 {
			return ErrInvalidMaxRecords
		}
		c.MaxRecords = max
		return nil
	}
}

// WithTTL sets the freshness window of both caches.
func WithTTL(ttl time.Duration) Option {
	return func(c *Config) error {
		if ttl <= 0 {
			return ErrInvalidTTL
		}
		c.CacheBehaviorConfig.CollectionTTL = ttl
		c.CacheBehaviorConfig.ImageTTL = ttl
		return nil
	}
}

// WithServeStaleOnError keeps serving the last snapshot when a refresh fails.
func WithServeStaleOnError(enabled bool) Option {
	return func(c *Config) error {
		c.CacheBehaviorConfig.ServeStaleOnError = enabled
		return nil
	}
}

// WithRefreshTimeout bounds a snapshot refresh independently of the callers waiting on it.
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 {
			return errors.New("refresh timeout must be greater than 0")
		}
		c.CacheBehaviorConfig.RefreshTimeout = timeout
		return nil
	}
}

// WithRequestTimeout bounds every upstream call.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 {
			return errors.New("request timeout must be greater than 0")
		}
		c.RequestTimeout = timeout
		return nil
	}
}

// WithRateLimit sets the upstream requests per second. Zero disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Config) error {
		if rps < 0 || burst < 0 {
			return errors.New("rate limit must not be negative")
		}
		c.RateLimit = rps
		c.RateBurst = burst
		return nil
	}
}

// WithIPFSGateway rewrites ipfs:// image references in the image index.
func WithIPFSGateway(gateway string) Option {
	return func(c *Config) error {
		c.IPFSGateway = gateway
		return nil
	}
}

// WithRedis enables the remote snapshot tier.
func WithRedis(addr, password string, db int) Option {
	return func(c *Config) error {
		if addr == "" {
			return ErrMissingRedisAddress
		}
		c.RemoteConfig.Enabled = true
		c.RemoteConfig.Addr = addr
		c.RemoteConfig.Password = password
		c.RemoteConfig.DB = db
		return nil
	}
}

// WithShardCount 設置熔斷器分片數量
func WithShardCount(count uint64) Option {
	return func(c *Config) error {
		if count == 0 {
			return ErrShardCountZero
		}
		c.ResilienceConfig.ShardCount = count
		return nil
	}
}

// WithSerialization 設置序列化方式
func WithSerialization(serializer string) Option {
	return func(c *Config) error {
		if _, err := serialization.Lookup(serializer); err != nil {
			return err
		}
		c.Serialization.Type = serializer
		return nil
	}
}

// WithHTTPClient replaces the client used for upstream calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) error {
		c.HTTPClient = client
		return nil
	}
}

// WithClock overrides the time source used for freshness checks.
func WithClock(clock func() time.Time) Option {
	return func(c *Config) error {
		if clock != nil {
			c.Clock = clock
		}
		return nil
	}
}
