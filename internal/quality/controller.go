// Package quality applies loss thresholds with hysteresis to decide a
// meeting's forwarding tier, commands the stream forwarder, and notifies
// clients of tier changes.
package quality

import (
	"log/slog"

	"github.com/n0remac/confsfu/internal/meeting"
)

// Thresholds holds the configurable hysteresis parameters (spec §4.5,
// resolved as tunables per SPEC_FULL.md §9 Open Question 3).
type Thresholds struct {
	LowThresh  float64 // 0.02
	MedThresh  float64 // 0.05
	Hysteresis float64 // 0.02
}

// DefaultThresholds matches the literal values given in spec §4.5.
func DefaultThresholds() Thresholds {
	return Thresholds{LowThresh: 0.02, MedThresh: 0.05, Hysteresis: 0.02}
}

// WorstLossSource abstracts the telemetry collector.
type WorstLossSource interface {
	GetWorstLoss(meetingID string) float64
}

// MeetingSource abstracts the meeting registry reads/writes this component needs.
type MeetingSource interface {
	GetMeeting(meetingID string) *meeting.MeetingSnapshot
	UpdateQualityTier(meetingID string, tier meeting.Tier)
	ListRecipients(meetingID string, excludeUserID string) []meeting.UserSession
}

// Forwarder abstracts the stream forwarder (C6) command this controller drives.
type Forwarder interface {
	SetTier(meetingID string, tier meeting.Tier)
}

// Broadcaster abstracts delivering a tier-change frame to a session; errors
// are swallowed by the caller, matching spec §4.5's "never crashes on
// missing clients" rule.
type Broadcaster interface {
	SendTierChange(userID string, tier meeting.Tier) error
}

// Metrics is the narrow metrics interface this controller pokes.
type Metrics interface {
	ObserveTierChange(meetingID string, tier meeting.Tier)
}

// Controller is the QualityController (C5).
type Controller struct {
	log        *slog.Logger
	thresholds Thresholds

	telemetry   WorstLossSource
	registry    MeetingSource
	forwarder   Forwarder
	broadcaster Broadcaster
	metrics     Metrics
}

// New creates a Controller.
func New(log *slog.Logger, thresholds Thresholds, telemetry WorstLossSource, registry MeetingSource, forwarder Forwarder, broadcaster Broadcaster, metrics Metrics) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		log:         log,
		thresholds:  thresholds,
		telemetry:   telemetry,
		registry:    registry,
		forwarder:   forwarder,
		broadcaster: broadcaster,
		metrics:     metrics,
	}
}

// DecideTier implements spec §4.5's hysteresis state machine.
//
// Downgrade is immediate at the hard threshold:
//   - HIGH  -> MEDIUM when worstLoss >= lowThresh+H (4%)
//   - *     -> LOW    when worstLoss >= medThresh   (5%)
//
// Upgrade requires clearing the guard band:
//   - MEDIUM -> HIGH when worstLoss <  lowThresh         (2%)
//   - LOW    -> MEDIUM when worstLoss <= medThresh-H     (3%)
//   - LOW    -> HIGH  when worstLoss <  lowThresh         (2%)
//
// Otherwise the tier is unchanged.
func (c *Controller) DecideTier(worstLoss float64, current meeting.Tier) meeting.Tier {
	t := c.thresholds

	switch current {
	case meeting.TierHigh:
		if worstLoss >= t.MedThresh {
			return meeting.TierLow
		}
		if worstLoss >= t.LowThresh+t.Hysteresis {
			return meeting.TierMedium
		}
		return meeting.TierHigh

	case meeting.TierMedium:
		if worstLoss >= t.MedThresh {
			return meeting.TierLow
		}
		if worstLoss < t.LowThresh {
			return meeting.TierHigh
		}
		return meeting.TierMedium

	case meeting.TierLow:
		if worstLoss < t.LowThresh {
			return meeting.TierHigh
		}
		if worstLoss <= t.MedThresh-t.Hysteresis {
			return meeting.TierMedium
		}
		return meeting.TierLow

	default:
		return current
	}
}

// EvaluateMeeting reads worstLoss from telemetry, reads currentTier from the
// registry, decides, and — if changed — updates the registry, commands the
// forwarder, and broadcasts tier-change. No-op on unknown meeting.
func (c *Controller) EvaluateMeeting(meetingID string) {
	m := c.registry.GetMeeting(meetingID)
	if m == nil {
		return
	}

	worstLoss := c.telemetry.GetWorstLoss(meetingID)
	next := c.DecideTier(worstLoss, m.CurrentTier)
	if next == m.CurrentTier {
		return
	}

	c.registry.UpdateQualityTier(meetingID, next)
	if c.forwarder != nil {
		c.forwarder.SetTier(meetingID, next)
	}
	c.BroadcastTier(meetingID, next)

	c.log.Info("tier change",
		"meetingId", meetingID, "from", m.CurrentTier.String(), "to", next.String(), "worstLoss", worstLoss)
}

// BroadcastTier is used both by the periodic path and explicit operator
// action. Delivery failures are logged and never propagated to the caller;
// this method does not count them.
func (c *Controller) BroadcastTier(meetingID string, tier meeting.Tier) {
	if c.metrics != nil {
		c.metrics.ObserveTierChange(meetingID, tier)
	}
	if c.broadcaster == nil {
		return
	}
	for _, s := range c.registry.ListRecipients(meetingID, "") {
		if err := c.broadcaster.SendTierChange(s.UserID, tier); err != nil {
			c.log.Warn("tier-change delivery failed", "meetingId", meetingID, "userId", s.UserID, "err", err)
		}
	}
}
