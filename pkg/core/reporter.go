/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: reporter.go
Description: Reporter interface and implementations for guess generation telemetry.
Supports logging and Prometheus export of queue and expansion events.
*/

package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// Reporter defines the interface for telemetry hooks.
// Allows the queue and engine to notify listeners of generation events.
type Reporter interface {
	// OnExpanded is called after a pre-terminal has been expanded
	OnExpanded(item *QueueItem, guesses int64)
	// OnEviction is called after the resident heap sheds its lowest entries
	OnEviction(evicted int, floor float64)
	// OnRebuild is called after the heap is refilled from overflow or the root
	OnRebuild(restored int, floor float64)
}

// LoggerReporter logs generation events
type LoggerReporter struct {
	logger *logrus.Logger
}

// NewLoggerReporter creates a new LoggerReporter
func NewLoggerReporter(logger *logrus.Logger) *LoggerReporter {
	return &LoggerReporter{logger: logger}
}

// OnExpanded logs each expanded pre-terminal at debug level
func (r *LoggerReporter) OnExpanded(item *QueueItem, guesses int64) {
	r.logger.WithFields(logrus.Fields{
		"probability": item.Probability,
		"guesses":     guesses,
		"tree":        item.Key,
	}).Debug("EXPAND pre-terminal done")
}

// OnEviction logs heap evictions
func (r *LoggerReporter) OnEviction(evicted int, floor float64) {
	r.logger.WithFields(logrus.Fields{"evicted": evicted, "floor": floor}).Info("QUEUE evicted lowest entries")
}

// OnRebuild logs heap rebuilds
func (r *LoggerReporter) OnRebuild(restored int, floor float64) {
	r.logger.WithFields(logrus.Fields{"restored": restored, "floor": floor}).Info("QUEUE rebuilt heap")
}

// PrometheusReporter exports generation metrics
type PrometheusReporter struct {
	guesses      prometheus.Counter
	preTerminals prometheus.Counter
	evicted      prometheus.Counter
	rebuilds     prometheus.Counter
	floor        prometheus.Gauge
	probability  prometheus.Gauge
}

// NewPrometheusReporter registers generation metrics with reg
func NewPrometheusReporter(reg prometheus.Registerer) *PrometheusReporter {
	factory := promauto.With(reg)
	return &PrometheusReporter{
		guesses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pcfg",
			Name:      "guesses_total",
			Help:      "Guesses written to the output sink.",
		}),
		preTerminals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pcfg",
			Name:      "preterminals_total",
			Help:      "Pre-terminals expanded into guesses.",
		}),
		evicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pcfg",
			Name:      "queue_evicted_total",
			Help:      "Queue items evicted from the resident heap.",
		}),
		rebuilds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pcfg",
			Name:      "queue_rebuilds_total",
			Help:      "Heap rebuilds from overflow storage or the grammar root.",
		}),
		floor: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pcfg",
			Name:      "queue_floor_probability",
			Help:      "Highest probability currently held outside the resident heap.",
		}),
		probability: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pcfg",
			Name:      "current_probability",
			Help:      "Probability of the pre-terminal most recently expanded.",
		}),
	}
}

// OnExpanded counts the pre-terminal and its guesses
func (r *PrometheusReporter) OnExpanded(item *QueueItem, guesses int64) {
	r.preTerminals.Inc()
	r.guesses.Add(float64(guesses))
	r.probability.Set(item.Probability)
}

// OnEviction counts evicted entries and records the new floor
func (r *PrometheusReporter) OnEviction(evicted int, floor float64) {
	r.evicted.Add(float64(evicted))
	r.floor.Set(floor)
}

// OnRebuild counts the rebuild and records the new floor
func (r *PrometheusReporter) OnRebuild(restored int, floor float64) {
	r.rebuilds.Inc()
	r.floor.Set(floor)
}
