// Package bcastmetrics holds the Prometheus metrics of a directed broadcast run.
package bcastmetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "gobcast"
	subsystem = "dirbcast"
)

// Label names.
const (
	labelVariant = "variant"
	labelVLAN    = "vlan"
	labelResult  = "result"
	labelPort    = "port"
)

// Result label values.
const (
	resultPass = "pass"
	resultFail = "fail"
)

// -------------------------------------------------------------------------
// Collector: Prometheus directed broadcast metrics
// -------------------------------------------------------------------------

// Collector holds the directed broadcast metrics. It satisfies both
// dirbcast.Metrics and dataplane.Metrics.
type Collector struct {
	// ProbesSent counts injected probes per variant and VLAN.
	ProbesSent *prometheus.CounterVec

	// Matched counts received frames that matched the expected
	// frame, including duplicates and reflections.
	Matched *prometheus.CounterVec

	// Checks counts completed checks by variant and result.
	Checks *prometheus.CounterVec

	// ExpectedPorts is the member port count of the last check per VLAN.
	ExpectedPorts *prometheus.GaugeVec

	// FramesReceived counts frames read from each dataplane port.
	FramesReceived *prometheus.CounterVec

	// FramesDropped counts frames dropped on a full receive queue.
	FramesDropped *prometheus.CounterVec

	// LastRunSuccess is 1 when the last run passed, 0 otherwise.
	LastRunSuccess prometheus.Gauge

	// LastRunTimestamp is the Unix time the last run finished.
	LastRunTimestamp prometheus.Gauge
}

// NewCollector creates a Collector with all metrics registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ProbesSent,
		c.Matched,
		c.Checks,
		c.ExpectedPorts,
		c.FramesReceived,
		c.FramesDropped,
		c.LastRunSuccess,
		c.LastRunTimestamp,
	)

	return c
}

func newMetrics() *Collector {
	vlanLabels := []string{labelVariant, labelVLAN}
	portLabels := []string{labelPort}

	return &Collector{
		ProbesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "probes_sent_total",
			Help:      "Total directed broadcast probes injected.",
		}, vlanLabels),

		Matched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_matched_total",
			Help:      "Total received frames matching the expected flooded probe.",
		}, vlanLabels),

		Checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "checks_total",
			Help:      "Total completed directed broadcast checks by result.",
		}, []string{labelVariant, labelResult}),

		ExpectedPorts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "expected_ports",
			Help:      "VLAN member ports expected to receive the last probe.",
		}, vlanLabels),

		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dataplane",
			Name:      "frames_received_total",
			Help:      "Total frames received per dataplane port.",
		}, portLabels),

		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dataplane",
			Name:      "frames_dropped_total",
			Help:      "Total frames dropped because the receive queue was full.",
		}, portLabels),

		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "Whether the last run passed (1) or failed (0).",
		}),

		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
}

// -------------------------------------------------------------------------
// Check Counters
// -------------------------------------------------------------------------

// ProbeSent increments the probes counter.
func (c *Collector) ProbeSent(variant, vlan string) {
	c.ProbesSent.WithLabelValues(variant, vlan).Inc()
}

// FramesMatched adds n matched frames.
func (c *Collector) FramesMatched(variant, vlan string, n int) {
	c.Matched.WithLabelValues(variant, vlan).Add(float64(n))
}

// CheckCompleted records a finished check.
func (c *Collector) CheckCompleted(variant, vlan string, expected int, passed bool) {
	result := resultFail
	if passed {
		result = resultPass
	}
	c.Checks.WithLabelValues(variant, result).Inc()
	c.ExpectedPorts.WithLabelValues(variant, vlan).Set(float64(expected))
}

// RecordRun stores the overall outcome of a run finished at at.
func (c *Collector) RecordRun(passed bool, at time.Time) {
	if passed {
		c.LastRunSuccess.Set(1)
	} else {
		c.LastRunSuccess.Set(0)
	}
	c.LastRunTimestamp.Set(float64(at.Unix()))
}

// -------------------------------------------------------------------------
// Dataplane Counters
// -------------------------------------------------------------------------

// IncFramesReceived increments the received frames counter for port.
func (c *Collector) IncFramesReceived(port int) {
	c.FramesReceived.WithLabelValues(strconv.Itoa(port)).Inc()
}

// IncFramesDropped increments the dropped frames counter for port.
func (c *Collector) IncFramesDropped(port int) {
	c.FramesDropped.WithLabelValues(strconv.Itoa(port)).Inc()
}
