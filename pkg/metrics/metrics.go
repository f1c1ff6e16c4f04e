// Package metrics exposes a Prometheus registry of build progress and
// controller health, and an HTTP handler to serve it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the gauges and counters exported for one machine
// controller. Each machine gets its own Registry so a process that
// drives several machines doesn't collide labels.
type Registry struct {
	reg *prometheus.Registry

	LinesProcessed prometheus.Gauge
	LinesTotal     prometheus.Gauge
	BuildDuration  prometheus.Gauge
	PollLatency    prometheus.Histogram
	BuildsTotal    *prometheus.CounterVec
	StateCurrent   *prometheus.GaugeVec
}

// NewRegistry builds a Registry with all metrics labelled by machineName.
func NewRegistry(machineName string) *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	constLabels := prometheus.Labels{"machine": machineName}

	return &Registry{
		reg: reg,
		LinesProcessed: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "buildctl_lines_processed",
			Help:        "Number of G-code lines processed in the current or most recent build.",
			ConstLabels: constLabels,
		}),
		LinesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "buildctl_lines_total",
			Help:        "Total G-code lines in the current or most recent build.",
			ConstLabels: constLabels,
		}),
		BuildDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "buildctl_build_duration_seconds",
			Help:        "Elapsed time of the current or most recently finished build.",
			ConstLabels: constLabels,
		}),
		PollLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "buildctl_temperature_poll_latency_seconds",
			Help:        "Latency of ReadTemperature calls during a build.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		BuildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "buildctl_builds_total",
			Help:        "Completed builds by terminal outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		StateCurrent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "buildctl_state",
			Help:        "Current machine state; 1 on the active phase label, 0 elsewhere.",
			ConstLabels: constLabels,
		}, []string{"phase"}),
	}
}

// Handler returns the http.Handler that serves this registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordBuildOutcome increments the completed-builds counter for outcome.
func (r *Registry) RecordBuildOutcome(outcome string) {
	r.BuildsTotal.WithLabelValues(outcome).Inc()
}
