// Package metrics exposes solver counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const DefaultNamespace = "captcha"

// Vision call outcomes.
const (
	VisionMatch = "match"
	VisionNone  = "none"
	VisionError = "error"
)

// Collector records solver activity. A nil *Collector is valid and records nothing.
type Collector struct {
	solvesTotal   *prometheus.CounterVec
	solveAttempts *prometheus.HistogramVec
	solveDuration *prometheus.HistogramVec
	visionCalls   *prometheus.CounterVec
}

// NewCollector registers the solver metrics on reg.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)
	return &Collector{
		solvesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "solves_total",
				Help:      "Total number of solve calls by outcome",
			},
			[]string{"provider", "outcome"},
		),
		solveAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "solve_attempts",
				Help:      "Attempts consumed per solve call",
				Buckets:   []float64{0, 1, 2, 3, 4, 5, 7, 10},
			},
			[]string{"provider"},
		),
		solveDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "solve_duration_seconds",
				Help:      "Wall time of solve calls",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"provider"},
		),
		visionCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vision_calls_total",
				Help:      "Total number of vision model calls by result",
			},
			[]string{"provider", "result"},
		),
	}
}

func (c *Collector) RecordSolve(provider string, success bool, attempts int, elapsed time.Duration) {
	if c == nil {
		return
	}
	if provider == "" {
		provider = "unknown"
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.solvesTotal.WithLabelValues(provider, outcome).Inc()
	c.solveAttempts.WithLabelValues(provider).Observe(float64(attempts))
	if elapsed > 0 {
		c.solveDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
	}
}

func (c *Collector) RecordVisionCall(provider, result string) {
	if c == nil {
		return
	}
	if provider == "" {
		provider = "unknown"
	}
	c.visionCalls.WithLabelValues(provider, result).Inc()
}
