package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	RouteDecisions    *prometheus.CounterVec
	RouteFallbacks    prometheus.Counter
	RequestLatency    *prometheus.HistogramVec
	CostUSD           *prometheus.CounterVec
	LearningEvents    *prometheus.CounterVec
	ExperimentResults *prometheus.CounterVec
	RateLimited       prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RouteDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routemind_route_decisions_total",
			Help: "Total routing decisions",
		}, []string{"goal", "model", "provider"}),
		RouteFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routemind_route_fallbacks_total",
			Help: "Routing decisions that fell back because no candidate met constraints",
		}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "routemind_request_latency_ms",
			Help:    "Reported request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"model", "provider"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routemind_cost_usd_total",
			Help: "Reported USD cost",
		}, []string{"model", "provider"}),
		LearningEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routemind_learning_events_total",
			Help: "Execution outcomes recorded into the performance ledger",
		}, []string{"model", "provider"}),
		ExperimentResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routemind_experiment_results_total",
			Help: "Experiment results recorded per variant",
		}, []string{"experiment", "variant"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routemind_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}
	reg.MustRegister(m.RouteDecisions, m.RouteFallbacks, m.RequestLatency,
		m.CostUSD, m.LearningEvents, m.ExperimentResults, m.RateLimited)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
