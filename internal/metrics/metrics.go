// Package metrics exposes Prometheus instrumentation for routing outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	AttemptsTotal    *prometheus.CounterVec
	AttemptLatency   *prometheus.HistogramVec
	CostUSD          *prometheus.CounterVec
	FallbacksTotal   *prometheus.CounterVec
	RateLimitedTotal *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	HTTPRateLimited  prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentora_provider_attempts_total",
			Help: "Provider generation attempts by outcome",
		}, []string{"provider", "model", "status"}),
		AttemptLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mentora_provider_latency_ms",
			Help:    "Provider attempt latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"provider", "model"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentora_cost_usd_total",
			Help: "Estimated USD cost of successful attempts",
		}, []string{"provider", "model"}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentora_fallbacks_total",
			Help: "Fallbacks taken during routing, by failing provider and error category",
		}, []string{"provider", "category"}),
		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentora_provider_rate_limited_total",
			Help: "Candidates skipped because their rolling-minute window was full",
		}, []string{"provider"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mentora_breaker_open",
			Help: "1 when a provider's circuit is open, 0 when closed",
		}, []string{"provider"}),
		HTTPRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentora_http_rate_limited_total",
			Help: "HTTP requests rejected by the per-IP limiter",
		}),
	}
	reg.MustRegister(m.AttemptsTotal, m.AttemptLatency, m.CostUSD,
		m.FallbacksTotal, m.RateLimitedTotal, m.BreakerState, m.HTTPRateLimited)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
