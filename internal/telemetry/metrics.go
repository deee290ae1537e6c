package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/af-corp/relay-gateway/internal/cost"
)

// Request modes used as the "mode" label.
const (
	ModeStream    = "stream"
	ModeNonStream = "non_stream"
	// ModeUnknown labels requests rejected before the body was decoded.
	ModeUnknown   = "unknown"
)

// Metrics holds all Prometheus metrics for the relay gateway. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	RequestTotal      *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	TokensTotal       *prometheus.CounterVec
	CostUSDTotal      prometheus.Counter
	StreamEventsTotal *prometheus.CounterVec
	StreamsActive     prometheus.Gauge
	RateLimitHits     *prometheus.CounterVec
	PolicyDenials     prometheus.Counter
	BreakerState      prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_request_total",
			Help: "Total number of chat requests handled, by mode and HTTP status.",
		}, []string{"mode", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_request_duration_seconds",
			Help:    "Request duration in seconds, including upstream latency and the full stream.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"}),

		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_tokens_total",
			Help: "Total tokens reported by the upstream.",
		}, []string{"direction"}),

		CostUSDTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_cost_usd_total",
			Help: "Estimated total cost in USD.",
		}),

		StreamEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_stream_events_total",
			Help: "Events written to streaming clients, by event name.",
		}, []string{"event"}),

		StreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_streams_active",
			Help: "Streams currently open.",
		}),

		RateLimitHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"dimension"}),

		PolicyDenials: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_policy_denials_total",
			Help: "Requests denied by policy.",
		}),

		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_upstream_breaker_state",
			Help: "Upstream circuit breaker state (0 closed, 1 open, 2 half open).",
		}),
	}
}

// RequestLabels holds the values recorded for one finished request.
type RequestLabels struct {
	Mode     string
	Status   string
	Duration time.Duration
	Tokens   cost.Tokens
	CostUSD  float64
}

// RecordRequest records metrics for a completed request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	if m == nil {
		return
	}
	m.RequestTotal.WithLabelValues(labels.Mode, labels.Status).Inc()
	m.RequestDuration.WithLabelValues(labels.Mode).Observe(labels.Duration.Seconds())

	for direction, n := range map[string]int{
		"input":       labels.Tokens.Input,
		"output":      labels.Tokens.Output,
		"cache_write": labels.Tokens.CacheWrite,
		"cache_read":  labels.Tokens.CacheRead,
	} {
		if n > 0 {
			m.TokensTotal.WithLabelValues(direction).Add(float64(n))
		}
	}

	if labels.CostUSD > 0 {
		m.CostUSDTotal.Add(labels.CostUSD)
	}
}

func (m *Metrics) RecordStreamEvent(event string) {
	if m == nil {
		return
	}
	m.StreamEventsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.StreamsActive.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.StreamsActive.Dec()
}

// RecordRateLimitHit records a request rejected on the given dimension (e.g. "rpm").
func (m *Metrics) RecordRateLimitHit(dimension string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(dimension).Inc()
}

func (m *Metrics) RecordPolicyDenial() {
	if m == nil {
		return
	}
	m.PolicyDenials.Inc()
}

func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
}
