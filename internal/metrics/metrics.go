// Package metrics exposes Prometheus counters for the focus engine on a
// dedicated registry. All recording methods are safe on a nil *Metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zjrosen/deepfocus/internal/actor"
)

const namespace = "deepfocus"

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	StartsRejected   *prometheus.CounterVec
	SessionActive    prometheus.Gauge

	// Attempt metrics
	Attempts *prometheus.CounterVec

	// Enforcement metrics
	EnforcementFailures *prometheus.CounterVec

	// Actor metrics
	CommandDuration *prometheus.HistogramVec
}

// New creates a metrics collector with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_started_total",
				Help:      "Total number of focus sessions that became active",
			},
		),
		SessionsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_finished_total",
				Help:      "Total number of focus sessions that reached a terminal status",
			},
			[]string{"status"},
		),
		StartsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "starts_rejected_total",
				Help:      "Total number of start requests rejected before a session was created",
			},
			[]string{"reason"},
		),
		SessionActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_active",
				Help:      "1 while a focus session is active, otherwise 0",
			},
		),
		Attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total number of counted bypass attempts",
			},
			[]string{"app"},
		),
		EnforcementFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enforcement_failures_total",
				Help:      "Total number of failed enforcement adapter calls, including retried ones",
			},
			[]string{"op", "kind"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Time spent handling engine commands",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"command"},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordStarted counts a session that became active.
func (m *Metrics) RecordStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.SessionActive.Set(1)
}

// RecordFinished counts a session reaching status ("completed" or "aborted").
func (m *Metrics) RecordFinished(status string) {
	if m == nil {
		return
	}
	m.SessionsFinished.WithLabelValues(status).Inc()
	m.SessionActive.Set(0)
}

// RecordRecovered sets the active gauge for a session resumed on startup.
func (m *Metrics) RecordRecovered() {
	if m == nil {
		return
	}
	m.SessionActive.Set(1)
}

// RecordRejected counts a refused start.
func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.StartsRejected.WithLabelValues(reason).Inc()
}

// RecordAttempt counts one bypass attempt on app.
func (m *Metrics) RecordAttempt(app string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(app).Inc()
}

// RecordEnforcementFailure counts a failed adapter call. Its signature
// matches enforcement.FailureObserver once kind is rendered.
func (m *Metrics) RecordEnforcementFailure(op, kind string) {
	if m == nil {
		return
	}
	m.EnforcementFailures.WithLabelValues(op, kind).Inc()
}

// Middleware observes handler duration per command type.
func (m *Metrics) Middleware() actor.Middleware {
	return func(next actor.Handler) actor.Handler {
		if m == nil {
			return next
		}
		return actor.HandlerFunc(func(ctx context.Context, cmd actor.Command) (*actor.Result, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)
			m.CommandDuration.WithLabelValues(cmd.Type().String()).Observe(time.Since(start).Seconds())
			return result, err
		})
	}
}
