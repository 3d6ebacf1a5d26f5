// Package metrics exports technique cache events as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/matgraph/technique"
)

const (
	namespace = "matgraph"
	subsystem = "technique"
)

// Observer implements technique.Observer with Prometheus collectors.
type Observer struct {
	acquires    *prometheus.CounterVec
	compileTime *prometheus.HistogramVec
	publishes   *prometheus.CounterVec
	binaries    *prometheus.CounterVec
	reclaimed   prometheus.Counter
}

var _ technique.Observer = (*Observer)(nil)

// New creates an observer. Register it before passing it to the cache.
func New() *Observer {
	return &Observer{
		acquires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "acquires_total",
				Help:      "Technique acquisitions by cache result.",
			},
			[]string{"result"}, // "hit" or "miss"
		),
		compileTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "compile_duration_seconds",
				Help:      "Technique build time in seconds, from graph lookup to pipeline.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
			},
			[]string{"result"}, // "success" or "error"
		),
		publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "results_total",
				Help:      "Finished builds by outcome.",
			},
			[]string{"outcome"}, // "published" or "discarded"
		),
		binaries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "shader_binaries_total",
				Help:      "Shader binary lookups by cache result.",
			},
			[]string{"result"},
		),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reclaimed_total",
			Help:      "Replaced techniques released after their frames completed.",
		}),
	}
}

// MustRegister registers the collectors with registry.
func (o *Observer) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(o.acquires, o.compileTime, o.publishes, o.binaries, o.reclaimed)
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// ObserveAcquire counts one Acquire call.
func (o *Observer) ObserveAcquire(hit bool) {
	o.acquires.WithLabelValues(hitLabel(hit)).Inc()
}

// ObserveCompile records the duration of one build.
func (o *Observer) ObserveCompile(d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	o.compileTime.WithLabelValues(result).Observe(d.Seconds())
}

// ObservePublish counts a finished build.
func (o *Observer) ObservePublish(stale bool) {
	outcome := "published"
	if stale {
		outcome = "discarded"
	}
	o.publishes.WithLabelValues(outcome).Inc()
}

// ObserveBinary counts one shader binary lookup.
func (o *Observer) ObserveBinary(hit bool) {
	o.binaries.WithLabelValues(hitLabel(hit)).Inc()
}

// ObserveReclaim counts released techniques.
func (o *Observer) ObserveReclaim(n int) {
	if n > 0 {
		o.reclaimed.Add(float64(n))
	}
}
