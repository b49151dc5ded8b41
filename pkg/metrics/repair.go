// Copyright (C) 2017 ScyllaDB

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RepairMetrics tracks progress of repair runs.
type RepairMetrics struct {
	segmentsTotal *prometheus.GaugeVec
	segmentsDone  *prometheus.GaugeVec
	runIndicator  *prometheus.GaugeVec
	inFlightJobs  *prometheus.GaugeVec
	attempts      *prometheus.CounterVec
}

// NewRepairMetrics returns unregistered RepairMetrics.
func NewRepairMetrics() RepairMetrics {
	g := gaugeVecCreator("repair")
	c := counterVecCreator("repair")

	return RepairMetrics{
		segmentsTotal: g("Total number of segments to repair.",
			"segments_total", "cluster", "keyspace", "run_id"),
		segmentsDone: g("Number of repaired segments.",
			"segments_done", "cluster", "keyspace", "run_id"),
		runIndicator: g("If the run is being coordinated the value is 1 otherwise it's 0.",
			"run_indicator", "cluster", "run_id"),
		inFlightJobs: g("Number of currently running repair jobs.",
			"inflight_jobs", "cluster", "host"),
		attempts: c("Number of segment repair attempts by outcome.",
			"attempts_total", "cluster", "outcome"),
	}
}

func (m RepairMetrics) all() []prometheus.Collector {
	return []prometheus.Collector{
		m.segmentsTotal,
		m.segmentsDone,
		m.runIndicator,
		m.inFlightJobs,
		m.attempts,
	}
}

// MustRegister shall be called to make the metrics visible by prometheus client.
func (m RepairMetrics) MustRegister() RepairMetrics {
	prometheus.MustRegister(m.all()...)
	return m
}

// SetSegments updates "segments_{total,done}" metrics.
func (m RepairMetrics) SetSegments(cluster, keyspace, runID string, total, done int) {
	l := prometheus.Labels{
		"cluster":  cluster,
		"keyspace": keyspace,
		"run_id":   runID,
	}
	m.segmentsTotal.With(l).Set(float64(total))
	m.segmentsDone.With(l).Set(float64(done))
}

// BeginRun updates "run_indicator".
func (m RepairMetrics) BeginRun(cluster, runID string) {
	m.runIndicator.WithLabelValues(cluster, runID).Set(1)
}

// EndRun updates "run_indicator".
func (m RepairMetrics) EndRun(cluster, runID string) {
	m.runIndicator.WithLabelValues(cluster, runID).Set(0)
}

// AddJob updates "inflight_jobs" metric.
func (m RepairMetrics) AddJob(cluster, host string) {
	m.inFlightJobs.WithLabelValues(cluster, host).Inc()
}

// SubJob updates "inflight_jobs" metric.
func (m RepairMetrics) SubJob(cluster, host string) {
	m.inFlightJobs.WithLabelValues(cluster, host).Dec()
}

// ObserveAttempt updates "attempts_total" metric.
func (m RepairMetrics) ObserveAttempt(cluster, outcome string) {
	m.attempts.WithLabelValues(cluster, outcome).Inc()
}

// DeleteRunMetrics removes all metrics labeled with the run.
func (m RepairMetrics) DeleteRunMetrics(runID string) {
	DeleteMatching(m.segmentsTotal, LabelMatcher("run_id", runID))
	DeleteMatching(m.segmentsDone, LabelMatcher("run_id", runID))
	DeleteMatching(m.runIndicator, LabelMatcher("run_id", runID))
}
