// Package metrics exposes Prometheus instrumentation for access broker
// operations: command latency, context-flush outcomes, and mutex wait
// time. A nil *Metrics is a valid no-op collector, so the broker can be
// constructed without metrics wired in at all (every method here handles a
// nil receiver), following the teacher's NullMetrics convention.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks broker-specific Prometheus metrics, all under the
// tabrmd_ prefix.
type Metrics struct {
	CommandsTotal    *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	MutexWaitSeconds prometheus.Histogram
	FlushTotal       *prometheus.CounterVec
	TransientObjects prometheus.Gauge
}

// New creates broker metrics and registers them against reg. Panics if
// registration fails, which is only expected during initialization.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabrmd_commands_total",
				Help: "Total commands submitted to the access broker by result code",
			},
			[]string{"rc"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tabrmd_command_duration_seconds",
				Help:    "Time from command submission to response, including mutex wait",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"rc"},
		),
		MutexWaitSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tabrmd_mutex_wait_seconds",
				Help:    "Time spent waiting to acquire the broker's transport mutex",
				Buckets: prometheus.DefBuckets,
			},
		),
		FlushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabrmd_context_flush_total",
				Help: "Total ContextFlush attempts by outcome",
			},
			[]string{"outcome"}, // "success", "failed"
		),
		TransientObjects: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tabrmd_transient_objects",
				Help: "Transient objects loaded in the TPM as of the last TransObjectCount",
			},
		),
	}

	reg.MustRegister(
		m.CommandsTotal,
		m.CommandDuration,
		m.MutexWaitSeconds,
		m.FlushTotal,
		m.TransientObjects,
	)

	return m
}

// RecordCommand records a completed SendCommand call.
func (m *Metrics) RecordCommand(rc string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(rc).Inc()
	m.CommandDuration.WithLabelValues(rc).Observe(duration.Seconds())
}

// RecordMutexWait records time spent waiting for the broker's mutex.
func (m *Metrics) RecordMutexWait(d time.Duration) {
	if m == nil {
		return
	}
	m.MutexWaitSeconds.Observe(d.Seconds())
}

// RecordFlush records the outcome of a single ContextFlush attempt, as
// issued either directly or as part of FlushAllContexts.
func (m *Metrics) RecordFlush(success bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "success"
	}
	m.FlushTotal.WithLabelValues(outcome).Inc()
}

// SetTransientObjects updates the transient object count gauge.
func (m *Metrics) SetTransientObjects(count uint32) {
	if m == nil {
		return
	}
	m.TransientObjects.Set(float64(count))
}

// Null returns nil, which acts as a no-op metrics collector — every method
// on *Metrics tolerates a nil receiver.
func Null() *Metrics {
	return nil
}
