// Package forwarder commands the media engine to forward a meeting's
// selected spatial layer to each participant and shields the rest of the
// core from the details of "how" a layer switch happens.
package forwarder

import (
	"log/slog"
	"sync"

	"github.com/n0remac/confsfu/internal/meeting"
)

// LayerSetter is the narrow slice of the media engine (C7) this component
// drives: telling it which encoding to forward to a given consumer.
type LayerSetter interface {
	SetPreferredLayer(userID string, layer int) error
}

// MeetingSource abstracts the registry operations this component needs:
// reading current participants and writing the tier it settles on back into
// C1, so a direct setTier (spec §4.6, e.g. an operator action or S6) leaves
// the registry authoritative rather than only this package's private cache.
type MeetingSource interface {
	ListRecipients(meetingID string, excludeUserID string) []meeting.UserSession
	UpdateQualityTier(meetingID string, tier meeting.Tier)
}

// Forwarder is the StreamForwarder (C6).
type Forwarder struct {
	log      *slog.Logger
	engine   LayerSetter
	registry MeetingSource

	mu          sync.Mutex
	currentTier map[string]meeting.Tier
}

// New creates a Forwarder.
func New(log *slog.Logger, engine LayerSetter, registry MeetingSource) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	return &Forwarder{
		log:         log,
		engine:      engine,
		registry:    registry,
		currentTier: make(map[string]meeting.Tier),
	}
}

// SetTier commands every current participant's consumer to switch to the
// layer for tier. It is a short-circuit no-op if the meeting is already at
// that tier (spec §4.6).
func (f *Forwarder) SetTier(meetingID string, tier meeting.Tier) {
	f.mu.Lock()
	current, ok := f.currentTier[meetingID]
	if !ok {
		current = meeting.TierHigh
	}
	if current == tier {
		f.mu.Unlock()
		return
	}
	f.currentTier[meetingID] = tier
	f.mu.Unlock()

	f.registry.UpdateQualityTier(meetingID, tier)

	layer := tier.Layer()
	for _, s := range f.registry.ListRecipients(meetingID, "") {
		if err := f.engine.SetPreferredLayer(s.UserID, layer); err != nil {
			f.log.Warn("set preferred layer failed", "meetingId", meetingID, "userId", s.UserID, "layer", layer, "err", err)
		}
	}
}

// SelectTierFor returns the tier currently forwarded for a meeting, or HIGH
// when no tier has been set for it.
func (f *Forwarder) SelectTierFor(meetingID string) meeting.Tier {
	f.mu.Lock()
	defer f.mu.Unlock()
	tier, ok := f.currentTier[meetingID]
	if !ok {
		return meeting.TierHigh
	}
	return tier
}

// Forward is a no-op observation hook: the actual media relay happens
// inside the engine's RTP path once SetPreferredLayer has picked the
// encoding. It exists so future telemetry (e.g. per-packet forwarding
// counters) has a single call site to hook into without touching the
// engine.
func (f *Forwarder) Forward(meetingID, userID string, packetSize int) {
}

// Reset drops tier state for a destroyed meeting.
func (f *Forwarder) Reset(meetingID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.currentTier, meetingID)
}
