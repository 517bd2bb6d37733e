package proxy

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
)

// Latency buckets in milliseconds.
var latencyBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

type Metrics struct {
	RequestCount  atomic.Int64
	ResponseCount atomic.Int64
	ErrorCount    atomic.Int64
	LatencyMs     atomic.Int64

	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
}

type MetricResponse struct {
	Requests   int64   `json:"requests"`
	Response   int64   `json:"responses"`
	Errors     int64   `json:"errors"`
	AvgLatency float64 `json:"avg_latency_ms"`
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipscope_requests_total",
				Help: "Total number of requests handled by the router",
			},
			[]string{"route", "method", "status"},
		),
		upstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ipscope_upstream_latency_ms",
				Help:    "Upstream call latency in milliseconds",
				Buckets: latencyBuckets,
			},
			[]string{"upstream", "outcome"},
		),
	}
	m.registry.MustRegister(
		m.requests,
		m.upstreamLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) observeRequest(route, method string, status int, latency time.Duration) {
	m.ResponseCount.Add(1)
	m.LatencyMs.Add(latency.Milliseconds())
	if status >= http.StatusInternalServerError {
		m.ErrorCount.Add(1)
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// observeUpstream records one outbound call. outcome is the upstream status
// code, or "error" when no response was received.
func (m *Metrics) observeUpstream(upstream, outcome string, latency time.Duration) {
	m.upstreamLatency.WithLabelValues(upstream, outcome).Observe(float64(latency.Milliseconds()))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Snapshot() MetricResponse {
	responseCount := m.ResponseCount.Load()
	avgLatency := float64(0)
	if responseCount > 0 {
		avgLatency = float64(m.LatencyMs.Load()) / float64(responseCount)
	}

	return MetricResponse{
		Requests:   m.RequestCount.Load(),
		Response:   responseCount,
		Errors:     m.ErrorCount.Load(),
		AvgLatency: avgLatency,
	}
}

func (m *Metrics) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}
