package rarity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/rarity/internal/models"
)

// stubFetcher serves an in-memory collection page by page.
type stubFetcher struct {
	mu      sync.Mutex
	records []models.NFTRecord
	failAt  map[int]error
	calls   int
}

func (s *stubFetcher) FetchPage(_ context.Context, _, _ string, page, limit int) ([]models.NFTRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if err := s.failAt[page]; err != nil {
		return nil, err
	}
	start := (page - 1) * limit
	if start >= len(s.records) {
		return nil, nil
	}
	end := min(start+limit, len(s.records))
	return s.records[start:end], nil
}

func (s *stubFetcher) setFailure(page int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt == nil {
		s.failAt = make(map[int]error)
	}
	s.failAt[page] = err
}

func (s *stubFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func sequentialCollection(n int) []models.NFTRecord {
	records := make([]models.NFTRecord, n)
	for i := range records {
		records[i] = models.NFTRecord{
			SerialID: i + 1,
			Name:     fmt.Sprintf("Item #%d", i+1),
			Image:    fmt.Sprintf("ipfs://cid-%d", i+1),
			Attributes: []models.Attribute{
				{TraitType: "background", Value: strconv.Itoa(i % 7)},
				{TraitType: "eyes", Value: strconv.Itoa(i % 3)},
			},
		}
	}
	return records
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T, fetcher PageFetcher, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithPageFetcher(fetcher)}, opts...)
	e, err := New(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestCollectionRarityRanksCrownVariantsTogether(t *testing.T) {
	fetcher := &stubFetcher{records: []models.NFTRecord{
		{SerialID: 1, Name: "X", Attributes: []models.Attribute{{TraitType: "head", Value: "Crown"}}},
		{SerialID: 2, Name: "Y", Attributes: []models.Attribute{{TraitType: "head", Value: "crown"}}},
		{SerialID: 3, Name: "Z", Attributes: []models.Attribute{{TraitType: "head", Value: "Hat"}}},
	}}
	e := newTestEngine(t, fetcher)

	page, err := e.CollectionRarity(context.Background(), "key", "0.0.1", 1, 50)
	require.NoError(t, err)
	require.Len(t, page.NFTs, 3)

	assert.Equal(t, []int{3, 1, 2}, []int{page.NFTs[0].SerialID, page.NFTs[1].SerialID, page.NFTs[2].SerialID})
	assert.InDelta(t, 1.0, page.NFTs[0].CorrectedRarity, 1e-12)
	assert.InDelta(t, 0.5, page.NFTs[1].CorrectedRarity, 1e-12)
	assert.InDelta(t, 0.5, page.NFTs[2].CorrectedRarity, 1e-12)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 1, page.TotalPages)
}

func TestCollectionRarityPagination(t *testing.T) {
	fetcher := &stubFetcher{records: sequentialCollection(120)}
	e := newTestEngine(t, fetcher)

	page, err := e.CollectionRarity(context.Background(), "key", "0.0.1", 3, 50)
	require.NoError(t, err)
	assert.Len(t, page.NFTs, 20)
	assert.Equal(t, 120, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 101, page.NFTs[0].CorrectedRank)

	past, err := e.CollectionRarity(context.Background(), "key", "0.0.1", 4, 50)
	require.NoError(t, err)
	assert.NotNil(t, past.NFTs)
	assert.Empty(t, past.NFTs)
	assert.Equal(t, 120, past.Total)

	assert.Equal(t, 2, fetcher.callCount(), "one assembly serves every page")
}

func TestCollectionRarityPagesPartitionCollection(t *testing.T) {
	e := newTestEngine(t, &stubFetcher{records: sequentialCollection(257)})

	for _, limit := range []int{1, 10, 50, 256, 257, 300} {
		var ranks []int
		first, err := e.CollectionRarity(context.Background(), "key", "0.0.1", 1, limit)
		require.NoError(t, err)
		for p := 1; p <= first.TotalPages; p++ {
			page, err := e.CollectionRarity(context.Background(), "key", "0.0.1", p, limit)
			require.NoError(t, err)
			for _, item := range page.NFTs {
				ranks = append(ranks, item.CorrectedRank)
			}
		}
		require.Len(t, ranks, 257, "limit %d", limit)
		for i, rank := range ranks {
			assert.Equal(t, i+1, rank)
		}
	}
}

func TestCollectionRarityValidatesBeforeFetching(t *testing.T) {
	fetcher := &stubFetcher{records: sequentialCollection(5)}
	e := newTestEngine(t, fetcher)

	tests := []struct {
		name          string
		apiKey, token string
		page, limit   int
		param         string
	}{
		{"missing api key", "", "0.0.1", 1, 50, "apikey"},
		{"missing token", "key", "", 1, 50, "token"},
		{"zero page", "key", "0.0.1", 0, 50, "page"},
		{"negative limit", "key", "0.0.1", 1, -1, "limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.CollectionRarity(context.Background(), tt.apiKey, tt.token, tt.page, tt.limit)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			var reqErr *RequestError
			require.True(t, errors.As(err, &reqErr))
			assert.Equal(t, tt.param, reqErr.Param)
		})
	}
	assert.Zero(t, fetcher.callCount())
}

func TestCollectionRarityFailureKeepsPreviousSnapshot(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	fetcher := &stubFetcher{records: sequentialCollection(150)}
	e := newTestEngine(t, fetcher, WithPageSize(100), WithClock(clock.Now))

	_, err := e.CollectionRarity(context.Background(), "key", "0.0.1", 1, 50)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	fetcher.setFailure(2, models.NewStatusError(http.StatusServiceUnavailable))

	_, err = e.CollectionRarity(context.Background(), "key", "0.0.1", 1, 50)
	require.NoError(t, err, "a fresh snapshot never touches the upstream")

	clock.Advance(5 * time.Minute)
	_, err = e.CollectionRarity(context.Background(), "key", "0.0.1", 1, 50)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRarityComputation)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "503")

	assert.Equal(t, []string{"0.0.1"}, e.Stats().CachedCollections, "the failed refresh did not clear the entry")
}

func TestCollectionRarityServesStaleWhenEnabled(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	fetcher := &stubFetcher{records: sequentialCollection(10)}
	e := newTestEngine(t, fetcher, WithClock(clock.Now), WithServeStaleOnError(true))

	_, err := e.CollectionRarity(context.Background(), "key", "0.0.1", 1, 50)
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	fetcher.setFailure(1, models.NewStatusError(http.StatusBadGateway))

	page, err := e.CollectionRarity(context.Background(), "key", "0.0.1", 1, 50)
	require.NoError(t, err)
	assert.Len(t, page.NFTs, 10)
	assert.Equal(t, int64(1), e.Stats().Collection.StaleServed)
}

func TestCollectionsAreCachedPerToken(t *testing.T) {
	fetcher := &stubFetcher{records: sequentialCollection(3)}
	e := newTestEngine(t, fetcher)

	_, err := e.CollectionRarity(context.Background(), "key", "0.0.1", 1, 50)
	require.NoError(t, err)
	_, err = e.CollectionRarity(context.Background(), "key", "0.0.2", 1, 50)
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.callCount())
	assert.ElementsMatch(t, []string{"0.0.1", "0.0.2"}, e.Stats().CachedCollections)
}

func TestInvalidateReloadsCollection(t *testing.T) {
	fetcher := &stubFetcher{records: sequentialCollection(3)}
	e := newTestEngine(t, fetcher)

	require.NoError(t, e.Warmup(context.Background(), "key", []string{"0.0.1"}))
	calls := fetcher.callCount()

	require.NoError(t, e.Invalidate(context.Background(), "0.0.1"))
	assert.Empty(t, e.Stats().CachedCollections)
	assert.Empty(t, e.Stats().CachedImages)

	_, err := e.CollectionRarity(context.Background(), "key", "0.0.1", 1, 50)
	require.NoError(t, err)
	assert.Greater(t, fetcher.callCount(), calls)

	assert.ErrorIs(t, e.Invalidate(context.Background(), ""), ErrInvalidRequest)
}

func TestNFTImagesReturnsOnlyKnownSerials(t *testing.T) {
	fetcher := &stubFetcher{records: sequentialCollection(2)}
	e := newTestEngine(t, fetcher)

	images, err := e.NFTImages(context.Background(), "key", "0.0.1", []int{1, 2, 999})
	require.NoError(t, err)

	assert.Equal(t, map[int]models.ImageInfo{
		1: {Name: "Item #1", Image: "ipfs://cid-1"},
		2: {Name: "Item #2", Image: "ipfs://cid-2"},
	}, images)
}

func TestNFTImagesGatewayRewrite(t *testing.T) {
	fetcher := &stubFetcher{records: []models.NFTRecord{
		{SerialID: 1, Name: "One", Image: "ipfs://bafy123/1.png"},
		{SerialID: 2, Name: "Two", Image: "https://cdn.test/2.png"},
		{SerialID: 3, Name: "Three", Image: "ipfs://ipfs/bafy456"},
	}}
	e := newTestEngine(t, fetcher, WithIPFSGateway("https://gateway.test/ipfs/"))

	images, err := e.NFTImages(context.Background(), "key", "0.0.1", []int{1, 2, 3})
	require.NoError(t, err)

	assert.Equal(t, "https://gateway.test/ipfs/bafy123/1.png", images[1].Image)
	assert.Equal(t, "https://cdn.test/2.png", images[2].Image)
	assert.Equal(t, "https://gateway.test/ipfs/bafy456", images[3].Image)
}

func TestNFTImagesRequiresSerials(t *testing.T) {
	fetcher := &stubFetcher{}
	e := newTestEngine(t, fetcher)

	_, err := e.NFTImages(context.Background(), "key", "0.0.1", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, fetcher.callCount())
}

func TestNFTImagesPropagatesUpstreamErrors(t *testing.T) {
	fetcher := &stubFetcher{records: sequentialCollection(5)}
	fetcher.setFailure(1, models.NewStatusError(http.StatusServiceUnavailable))
	e := newTestEngine(t, fetcher)

	_, err := e.NFTImages(context.Background(), "key", "0.0.1", []int{1})
	assert.ErrorIs(t, err, ErrUpstream)
	assert.NotErrorIs(t, err, ErrRarityComputation)
}

func TestWarmupLoadsBothCaches(t *testing.T) {
	fetcher := &stubFetcher{records: sequentialCollection(5)}
	e := newTestEngine(t, fetcher)

	require.NoError(t, e.Warmup(context.Background(), "key", []string{"0.0.1", "0.0.2"}))

	stats := e.Stats()
	assert.ElementsMatch(t, []string{"0.0.1", "0.0.2"}, stats.CachedCollections)
	assert.ElementsMatch(t, []string{"0.0.1", "0.0.2"}, stats.CachedImages)

	calls := fetcher.callCount()
	_, err := e.CollectionRarity(context.Background(), "key", "0.0.1", 1, 5)
	require.NoError(t, err)
	assert.Equal(t, calls, fetcher.callCount())
}

func TestWarmupReportsFailures(t *testing.T) {
	fetcher := &stubFetcher{records: sequentialCollection(5)}
	fetcher.setFailure(1, models.NewStatusError(http.StatusInternalServerError))
	e := newTestEngine(t, fetcher)

	err := e.Warmup(context.Background(), "key", []string{"0.0.1"})
	assert.ErrorIs(t, err, ErrUpstream)
}

// The marketplace answers page 2 with 503 after an earlier successful assembly.
func TestCollectionRarityOverHTTP(t *testing.T) {
	var mu sync.Mutex
	failing := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fail := failing
		mu.Unlock()

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if fail && page == 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		switch page {
		case 1:
			fmt.Fprint(w, `{"success":true,"nfts":[{"serialId":1,"attributes":[{"trait_type":"head","value":"Crown"}]},{"serialId":2,"attributes":[{"trait_type":"head","value":"Hat"}]}]}`)
		default:
			fmt.Fprint(w, `{"success":true,"nfts":[{"serialId":3,"attributes":[{"trait_type":"head","value":"crown"}]}]}`)
		}
	}))
	defer server.Close()

	clock := &testClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	e, err := New(context.Background(),
		WithMarketplaceURL(server.URL),
		WithPageSize(2),
		WithRateLimit(0, 0),
		WithClock(clock.Now),
	)
	require.NoError(t, err)
	defer e.Close()

	page, err := e.CollectionRarity(context.Background(), "key", "0.0.1", 1, 50)
	require.NoError(t, err)
	require.Len(t, page.NFTs, 3)
	assert.Equal(t, 2, page.NFTs[0].SerialID)

	mu.Lock()
	failing = true
	mu.Unlock()
	clock.Advance(10 * time.Minute)

	_, err = e.CollectionRarity(context.Background(), "key", "0.0.1", 1, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, []string{"0.0.1"}, e.Stats().CachedCollections)
}
