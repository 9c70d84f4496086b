// Package metrics exposes Prometheus instrumentation for the conferencing
// core, grounded on the same Collector/NewCollector shape used elsewhere in
// this codebase's networking daemons.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/n0remac/confsfu/internal/engine"
	"github.com/n0remac/confsfu/internal/meeting"
)

const (
	namespace = "confsfu"
	subsystem = "sfu"
)

const (
	labelMeetingID = "meeting_id"
	labelTier      = "tier"
	labelOp        = "op"
	labelClass     = "class"
)

// Collector holds every Prometheus metric the core reports.
type Collector struct {
	MeetingsActive   prometheus.Gauge
	SessionsActive   prometheus.Gauge
	WorstLossRatio   *prometheus.GaugeVec
	TierChanges      *prometheus.CounterVec
	FingerprintOK    *prometheus.CounterVec
	FingerprintBad   *prometheus.CounterVec
	AckSummaries     *prometheus.CounterVec
	SignalingDrops   *prometheus.CounterVec
	EngineErrors     *prometheus.CounterVec
}

// NewCollector creates a Collector with every metric registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.MeetingsActive,
		c.SessionsActive,
		c.WorstLossRatio,
		c.TierChanges,
		c.FingerprintOK,
		c.FingerprintBad,
		c.AckSummaries,
		c.SignalingDrops,
		c.EngineErrors,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		MeetingsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "meetings_active",
			Help:      "Number of meetings currently open.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_active",
			Help:      "Number of signaling sessions currently connected.",
		}),
		WorstLossRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worst_loss_ratio",
			Help:      "Worst per-meeting loss ratio observed at the last quality evaluation.",
		}, []string{labelMeetingID}),
		TierChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tier_changes_total",
			Help:      "Total forwarding tier changes, labeled by the tier switched to.",
		}, []string{labelMeetingID, labelTier}),
		FingerprintOK: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fingerprint_matches_total",
			Help:      "Total frame fingerprint matches.",
		}, []string{labelMeetingID}),
		FingerprintBad: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fingerprint_mismatches_total",
			Help:      "Total frame fingerprint mismatches.",
		}, []string{labelMeetingID}),
		AckSummaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ack_summaries_total",
			Help:      "Total ack-summary frames emitted.",
		}, []string{labelMeetingID}),
		SignalingDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "signaling_drops_total",
			Help:      "Total outbound signaling frames dropped due to a full send queue.",
		}, []string{labelMeetingID}),
		EngineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "engine_errors_total",
			Help:      "Total media engine errors, labeled by operation and retry class.",
		}, []string{labelOp, labelClass}),
	}
}

// ObserveTierChange implements quality.Metrics.
func (c *Collector) ObserveTierChange(meetingID string, tier meeting.Tier) {
	c.TierChanges.WithLabelValues(meetingID, tier.String()).Inc()
}

// ObserveSignalingDrop implements signaling.Metrics.
func (c *Collector) ObserveSignalingDrop(meetingID string) {
	c.SignalingDrops.WithLabelValues(meetingID).Inc()
}

// ObserveEngineError implements signaling.Metrics.
func (c *Collector) ObserveEngineError(op string, class engine.ErrorClass) {
	label := "transient"
	if class == engine.ClassFatal {
		label = "fatal"
	}
	c.EngineErrors.WithLabelValues(op, label).Inc()
}

// ObserveFingerprintMatch implements signaling.Metrics.
func (c *Collector) ObserveFingerprintMatch(meetingID string) {
	c.FingerprintOK.WithLabelValues(meetingID).Inc()
}

// ObserveFingerprintMismatch implements signaling.Metrics.
func (c *Collector) ObserveFingerprintMismatch(meetingID string) {
	c.FingerprintBad.WithLabelValues(meetingID).Inc()
}

// SetWorstLoss records the latest worst-loss reading for a meeting.
func (c *Collector) SetWorstLoss(meetingID string, ratio float64) {
	c.WorstLossRatio.WithLabelValues(meetingID).Set(ratio)
}

// IncAckSummary counts one emitted ack-summary frame.
func (c *Collector) IncAckSummary(meetingID string) {
	c.AckSummaries.WithLabelValues(meetingID).Inc()
}
