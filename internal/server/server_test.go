package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/rarity/internal/config"
	"goflare.io/rarity/internal/metrics"
	"goflare.io/rarity/internal/models"
)

type fakeService struct {
	mu          sync.Mutex
	page        *models.CollectionPage
	images      map[int]models.ImageInfo
	err         error
	lastPage    int
	lastLimit   int
	lastSerials []int
	calls       int
}

func (f *fakeService) CollectionRarity(_ context.Context, _, _ string, page, limit int) (*models.CollectionPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastPage, f.lastLimit = page, limit
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func (f *fakeService) NFTImages(_ context.Context, _, _ string, serials []int) (map[int]models.ImageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastSerials = serials
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int]models.ImageInfo)
	for _, s := range serials {
		if info, ok := f.images[s]; ok {
			out[s] = info
		}
	}
	return out, nil
}

func newTestServer(svc Service) *Server {
	return New(svc, Options{
		Config:       config.ServerConfig{ClientCacheMaxAge: 30 * time.Second},
		DefaultLimit: 50,
		Stats:        func() any { return map[string]int{"hits": 3} },
		Metrics:      metrics.New(),
	})
}

func do(t *testing.T, s *Server, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestCollectionRarityDefaults(t *testing.T) {
	svc := &fakeService{page: &models.CollectionPage{
		NFTs:       []models.RankedNFTRecord{{SerialID: 4, CorrectedRank: 1, RarityPct: 50}},
		Total:      2,
		Page:       1,
		Limit:      50,
		TotalPages: 1,
	}}
	s := newTestServer(svc)

	rec, body := do(t, s, http.MethodGet, "/collection-rarity?apikey=k&token=0.0.1")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, svc.lastPage)
	assert.Equal(t, 50, svc.lastLimit)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(1), body["totalPages"])
	assert.Len(t, body["nfts"], 1)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "public, max-age=30", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCollectionRarityBadParameters(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"missing apikey", "/collection-rarity?token=0.0.1"},
		{"missing token", "/collection-rarity?apikey=k"},
		{"non numeric page", "/collection-rarity?apikey=k&token=t&page=abc"},
		{"zero page", "/collection-rarity?apikey=k&token=t&page=0"},
		{"negative limit", "/collection-rarity?apikey=k&token=t&limit=-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			rec, body := do(t, newTestServer(svc), http.MethodGet, tt.target)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
			assert.NotEmpty(t, body["message"])
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			assert.Zero(t, svc.calls)
		})
	}
}

func TestCollectionRarityUpstreamFailure(t *testing.T) {
	svc := &fakeService{err: models.ComputationError(models.NewStatusError(http.StatusServiceUnavailable))}
	rec, body := do(t, newTestServer(svc), http.MethodGet, "/collection-rarity?apikey=secret&token=0.0.1")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["message"], "503")
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestCollectionRarityServiceValidation(t *testing.T) {
	svc := &fakeService{err: models.NewRequestError("limit", "too large")}
	rec, _ := do(t, newTestServer(svc), http.MethodGet, "/collection-rarity?apikey=k&token=t")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNFTImagesOnlyKnownSerials(t *testing.T) {
	svc := &fakeService{images: map[int]models.ImageInfo{
		1: {Name: "One", Image: "ipfs://one"},
		2: {Name: "Two", Image: "ipfs://two"},
	}}
	rec, body := do(t, newTestServer(svc), http.MethodGet, "/nft-images?apikey=k&token=0.0.1&serials=1,2,999")
	require.Equal(t, http.StatusOK, rec.Code)

	nfts, ok := body["nfts"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, nfts, 2)
	assert.Contains(t, nfts, "1")
	assert.Contains(t, nfts, "2")
	assert.Equal(t, map[string]any{"name": "One", "image": "ipfs://one"}, nfts["1"])
}

func TestNFTImagesDropsNonNumericSerials(t *testing.T) {
	svc := &fakeService{images: map[int]models.ImageInfo{}}
	rec, _ := do(t, newTestServer(svc), http.MethodGet, "/nft-images?apikey=k&token=t&serials=3,abc,%207,,x9")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{3, 7}, svc.lastSerials)
}

func TestNFTImagesEmptySerials(t *testing.T) {
	for _, target := range []string{
		"/nft-images?apikey=k&token=t",
		"/nft-images?apikey=k&token=t&serials=a,b",
	} {
		svc := &fakeService{}
		rec, body := do(t, newTestServer(svc), http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, false, body["success"])
		assert.Zero(t, svc.calls)
	}
}

func TestNFTImagesFailure(t *testing.T) {
	svc := &fakeService{err: models.NewStatusError(http.StatusBadGateway)}
	rec, body := do(t, newTestServer(svc), http.MethodGet, "/nft-images?apikey=k&token=t&serials=1")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "502")
	assert.NotContains(t, body, "message")
}

func TestPreflight(t *testing.T) {
	rec, _ := do(t, newTestServer(&fakeService{}), http.MethodOptions, "/collection-rarity")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")
}

func TestHealthz(t *testing.T) {
	rec, body := do(t, newTestServer(&fakeService{}), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"hits": float64(3)}, body["stats"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&fakeService{page: &models.CollectionPage{}})
	do(t, s, http.MethodGet, "/collection-rarity?apikey=k&token=t")

	rec, _ := do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `rarity_http_requests_total{code="200",route="/collection-rarity"} 1`)
}

func TestNotFound(t *testing.T) {
	rec, body := do(t, newTestServer(&fakeService{}), http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["success"])
}
