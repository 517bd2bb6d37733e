package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestOpsMux_Health(t *testing.T) {
	mux := NewOpsMux(NewMetrics())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestOpsMux_MetricsAndStats(t *testing.T) {
	metrics := NewMetrics()
	client := &mockUpstreamClient{}
	client.On("Do", mock.Anything).
		Return(newResponse(http.StatusTooManyRequests, "application/json", `{"error":"upstream limited"}`), nil).
		Once()

	router := NewRouter(nil, client, Options{Routes: testRoutes(), Metrics: metrics})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "https://example.com/api/ipapi?q=1.1.1.1", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "https://example.com/api/ipapi", nil))

	mux := NewOpsMux(metrics)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `ipscope_requests_total{method="GET",route="/api/ipapi",status="429"} 1`)
	assert.Contains(t, body, `ipscope_requests_total{method="POST",route="/api/ipapi",status="405"} 1`)
	assert.Contains(t, body, `ipscope_upstream_latency_ms_count{outcome="429",upstream="ipapi"} 1`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats MetricResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Requests)
	assert.Equal(t, int64(2), stats.Response)
	assert.Equal(t, int64(0), stats.Errors)
}

func TestMetrics_SnapshotEmpty(t *testing.T) {
	snap := NewMetrics().Snapshot()
	assert.Equal(t, MetricResponse{}, snap)
}
