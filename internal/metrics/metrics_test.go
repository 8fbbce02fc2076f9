package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCounters(t *testing.T) {
	r := New()

	r.ObserveUpstream(200, 10*time.Millisecond)
	r.ObserveUpstream(503, 10*time.Millisecond)
	r.ObserveUpstream(0, time.Millisecond)
	r.ObserveLookup("collection", "hit")
	r.ObserveLookup("collection", "hit")
	r.ObserveRefresh("images", time.Second, errors.New("boom"))
	r.ObserveHTTP("/nft-images", 400, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.UpstreamRequests.WithLabelValues("503")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.UpstreamRequests.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.CacheLookups.WithLabelValues("collection", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Refreshes.WithLabelValues("images", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.HTTPRequests.WithLabelValues("/nft-images", "400")))
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.ObserveUpstream(200, time.Millisecond)
		r.ObserveLookup("collection", "miss")
		r.ObserveRefresh("collection", time.Millisecond, nil)
		r.ObserveHTTP("/", 200, time.Millisecond)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.ObserveLookup("images", "miss")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `rarity_cache_lookups_total{cache="images",result="miss"} 1`)
}
