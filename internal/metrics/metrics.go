// Package metrics holds the Prometheus collectors for model calls and
// action dispatch.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics groups the collectors on a private registry so tests and
// embedders can create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	modelRequests    *prometheus.CounterVec
	modelDuration    prometheus.Histogram
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_dispatch_total",
				Help: "Number of dispatched model actions by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_dispatch_duration_seconds",
				Help:    "Time spent executing an action.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		modelRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_model_requests_total",
				Help: "Number of generate requests sent to the model server.",
			},
			[]string{"outcome"},
		),
		modelDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nexus_model_request_duration_seconds",
				Help:    "Latency of generate requests.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
	}
	m.Registry.MustRegister(m.dispatches, m.dispatchDuration, m.modelRequests, m.modelDuration)
	return m
}

// ObserveDispatch records one dispatched action. A nil receiver is a
// no-op.
func (m *Metrics) ObserveDispatch(kind string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(kind, outcome(ok)).Inc()
	m.dispatchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveModel records one generate request. A nil receiver is a no-op.
func (m *Metrics) ObserveModel(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.modelRequests.WithLabelValues(outcome(ok)).Inc()
	m.modelDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func outcome(ok bool) string {
	if ok {
		return OutcomeOK
	}
	return OutcomeError
}
