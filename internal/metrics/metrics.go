// Package metrics exposes Prometheus collectors for the points economy and
// the event dispatcher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loyalty"

// Collector records economy and dispatcher metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	pointsGranted    prometheus.Counter
	pointsDeducted   prometheus.Counter
	unlocks          *prometheus.CounterVec
	rankChanges      *prometheus.CounterVec
	broadcasts       *prometheus.CounterVec
	listenerFailures *prometheus.CounterVec
}

// New creates a Collector with process and Go runtime collectors attached.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		pointsGranted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "economy",
				Name:      "points_granted_total",
				Help:      "Total points granted after multipliers.",
			},
		),
		pointsDeducted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "economy",
				Name:      "points_deducted_total",
				Help:      "Total points spent through deductions and redemptions.",
			},
		),
		unlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "achievements",
				Name:      "unlocks_total",
				Help:      "Achievement unlocks by achievement key.",
			},
			[]string{"achievement"},
		),
		rankChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ranks",
				Name:      "changes_total",
				Help:      "Rank transitions by old and new rank key.",
			},
			[]string{"from", "to"},
		),
		broadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "broadcasts_total",
				Help:      "Event broadcasts by event name.",
			},
			[]string{"event"},
		),
		listenerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "listener_failures_total",
				Help:      "Listener errors and panics by event name.",
			},
			[]string{"event"},
		),
	}

	c.registry.MustRegister(
		c.pointsGranted,
		c.pointsDeducted,
		c.unlocks,
		c.rankChanges,
		c.broadcasts,
		c.listenerFailures,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// PointsGranted implements service.Recorder.
func (c *Collector) PointsGranted(points int64) {
	if points > 0 {
		c.pointsGranted.Add(float64(points))
	}
}

// PointsDeducted implements service.Recorder.
func (c *Collector) PointsDeducted(points int64) {
	if points > 0 {
		c.pointsDeducted.Add(float64(points))
	}
}

// AchievementUnlocked implements service.Recorder.
func (c *Collector) AchievementUnlocked(key string) {
	c.unlocks.WithLabelValues(key).Inc()
}

// RankChanged implements service.Recorder.
func (c *Collector) RankChanged(from, to string) {
	c.rankChanges.WithLabelValues(from, to).Inc()
}

// ObserveBroadcast implements event.Observer.
func (c *Collector) ObserveBroadcast(name string) {
	c.broadcasts.WithLabelValues(name).Inc()
}

// ObserveListenerFailure implements event.Observer.
func (c *Collector) ObserveListenerFailure(name string) {
	c.listenerFailures.WithLabelValues(name).Inc()
}
