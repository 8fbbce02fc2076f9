// Package marketplace talks to the upstream NFT marketplace API.
package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"goflare.io/rarity/internal/config"
	"goflare.io/rarity/internal/metrics"
	"goflare.io/rarity/internal/models"
	"goflare.io/rarity/internal/utils"
)

// maxErrorBody bounds how much of a failed response is read before the connection is reused.
const maxErrorBody = 4 << 10

// PageFetcher retrieves one page of a collection.
type PageFetcher interface {
	FetchPage(ctx context.Context, apiKey, token string, page, limit int) ([]models.NFTRecord, error)
}

// pageResponse is the marketplace payload. Pointers distinguish absent fields from zero values.
type pageResponse struct {
	Success *bool               `json:"success"`
	NFTs    *[]models.NFTRecord `json:"nfts"`
}

// Client is the HTTP PageFetcher for the marketplace API.
type Client struct {
	endpoint   *url.URL
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	breakers   []*gobreaker.CircuitBreaker
	tracer     trace.Tracer
	metrics    *metrics.Registry
	logger     *zap.Logger
}

// NewClient creates a new Client from cfg.
func NewClient(cfg *config.Config, reg *metrics.Registry) (*Client, error) {
	if cfg.MarketplaceURL == "" {
		return nil, config.ErrMissingMarketplace
	}
	endpoint, err := url.Parse(cfg.MarketplaceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid marketplace url: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("invalid marketplace url scheme %q", endpoint.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	breakers := make([]*gobreaker.CircuitBreaker, cfg.ResilienceConfig.ShardCount)
	for i := range breakers {
		breakers[i] = gobreaker.NewCircuitBreaker(
			cfg.BreakerSettings(fmt.Sprintf("marketplace-%d", i), countsAsSuccess))
	}

	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		timeout:    cfg.RequestTimeout,
		limiter:    limiter,
		breakers:   breakers,
		tracer:     otel.Tracer("rarity/marketplace"),
		metrics:    reg,
		logger:     cfg.Logger,
	}, nil
}

// countsAsSuccess keeps caller mistakes and payload problems from tripping a breaker.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var upstreamErr *models.UpstreamError
	if errors.As(err, &upstreamErr) {
		return !upstreamErr.Temporary()
	}
	return true
}

// FetchPage retrieves one page of token's collection, ordered by the marketplace rarity rank.
func (c *Client) FetchPage(ctx context.Context, apiKey, token string, page, limit int) ([]models.NFTRecord, error) {
	ctx, span := c.tracer.Start(ctx, "Marketplace.FetchPage", trace.WithAttributes(
		attribute.String("token", token),
		attribute.Int("page", page),
		attribute.Int("limit", limit),
	))
	defer span.End()

	records, err := c.fetchPage(ctx, apiKey, token, page, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("records", len(records)))
	return records, nil
}

func (c *Client) fetchPage(ctx context.Context, apiKey, token string, page, limit int) ([]models.NFTRecord, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, models.NewTransportError(err)
		}
	}

	breaker := c.breakers[utils.ShardIndex(uint64(len(c.breakers)), token)]
	result, err := breaker.Execute(func() (any, error) {
		return c.do(ctx, apiKey, token, page, limit)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("Marketplace breaker rejected request",
				zap.String("token", token), zap.Int("page", page), zap.Error(err))
			return nil, models.NewTransportError(err)
		}
		return nil, err
	}
	return result.([]models.NFTRecord), nil
}

func (c *Client) do(ctx context.Context, apiKey, token string, page, limit int) ([]models.NFTRecord, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL(apiKey, token, page, limit), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build marketplace request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(0, time.Since(start))
		// url.Error carries the full URL, api key included.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, models.NewTransportError(err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveUpstream(resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("Marketplace returned non-success status",
			zap.String("token", token), zap.Int("page", page), zap.Int("status", resp.StatusCode))
		return nil, models.NewStatusError(resp.StatusCode)
	}

	var payload pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if ctx.Err() != nil {
			return nil, models.NewTransportError(ctx.Err())
		}
		return nil, models.InvalidResponseError("failed to decode page %d: %v", page, err)
	}
	if payload.Success == nil || !*payload.Success {
		return nil, models.InvalidResponseError("page %d: success flag missing or false", page)
	}
	if payload.NFTs == nil {
		return nil, models.InvalidResponseError("page %d: nfts missing", page)
	}

	records := *payload.NFTs
	sortByUpstreamRank(records)
	return records, nil
}

func (c *Client) pageURL(apiKey, token string, page, limit int) string {
	u := *c.endpoint
	q := u.Query()
	q.Set("apikey", apiKey)
	q.Set("token", token)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", "rarityRank")
	q.Set("order", "asc")
	u.RawQuery = q.Encode()
	return u.String()
}

// sortByUpstreamRank orders ranked records by rank; unranked records follow in their original order.
func sortByUpstreamRank(records []models.NFTRecord) {
	slices.SortStableFunc(records, func(a, b models.NFTRecord) int {
		switch {
		case a.RarityRank > 0 && b.RarityRank > 0:
			return a.RarityRank - b.RarityRank
		case a.RarityRank > 0:
			return -1
		case b.RarityRank > 0:
			return 1
		default:
			return 0
		}
	})
}
