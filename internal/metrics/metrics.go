// Package metrics provides Prometheus instrumentation for the key vault.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Namespace is the Prometheus namespace for all vault metrics
	Namespace = "keyvault"

	LabelAction = "action"
	LabelStatus = "status"
	LabelState  = "state"
	LabelCaller = "caller"

	StatusSuccess = "success"
	StatusError   = "error"

	CallerExternal = "external"
	CallerInternal = "internal"
)

// Metrics groups the vault's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Decisions       *prometheus.CounterVec
	PendingRequests prometheus.Gauge
	RateLimited     prometheus.Counter
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "requests_total",
				Help:      "Total number of requests by caller, action, and status",
			},
			[]string{LabelCaller, LabelAction, LabelStatus},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of requests in seconds, including time spent awaiting approval",
				Buckets:   []float64{.001, .01, .1, .5, 1, 5, 15, 60, 300, 900},
			},
			[]string{LabelCaller, LabelAction},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "approval_decisions_total",
				Help:      "Total number of approval decisions by final state",
			},
			[]string{LabelState},
		),
		PendingRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "pending_requests",
				Help:      "Number of requests awaiting approval",
			},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "rate_limited_total",
				Help:      "Total number of requests refused by the rate limiter",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.Decisions, m.PendingRequests, m.RateLimited)
	}
	return m
}

// RecordRequest counts a finished request and observes its duration
func (m *Metrics) RecordRequest(caller, action string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.RequestsTotal.WithLabelValues(caller, action, status).Inc()
	m.RequestDuration.WithLabelValues(caller, action).Observe(d.Seconds())
}

// RecordDecision counts how an approval request ended
func (m *Metrics) RecordDecision(state string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(state).Inc()
}

// RecordRateLimited counts a refused request
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// SetPending drives the pending gauge; it satisfies broker.Indicator.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
}
