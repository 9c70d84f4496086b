package forwarder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/n0remac/confsfu/internal/meeting"
)

type fakeEngine struct {
	calls map[string]int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{calls: make(map[string]int)}
}

func (f *fakeEngine) SetPreferredLayer(userID string, layer int) error {
	f.calls[userID] = layer
	return nil
}

type fakeRegistry struct {
	sessions map[string][]meeting.UserSession
	updated  map[string]meeting.Tier
}

func (f *fakeRegistry) ListRecipients(meetingID string, excludeUserID string) []meeting.UserSession {
	return f.sessions[meetingID]
}

func (f *fakeRegistry) UpdateQualityTier(meetingID string, tier meeting.Tier) {
	if f.updated == nil {
		f.updated = make(map[string]meeting.Tier)
	}
	f.updated[meetingID] = tier
}

// TestScenarioS6ConsumerLayerCommand mirrors spec §8 S6: commanding a
// tier switch calls SetPreferredLayer for every current participant with
// the tier's numeric layer.
func TestScenarioS6ConsumerLayerCommand(t *testing.T) {
	engine := newFakeEngine()
	registry := &fakeRegistry{sessions: map[string][]meeting.UserSession{
		"m1": {{UserID: "a"}, {UserID: "b"}},
	}}
	f := New(nil, engine, registry)

	f.SetTier("m1", meeting.TierMedium)

	assert.Equal(t, 1, engine.calls["a"])
	assert.Equal(t, 1, engine.calls["b"])
	assert.Equal(t, meeting.TierMedium, registry.updated["m1"])
}

func TestSetTierShortCircuitsWhenUnchanged(t *testing.T) {
	engine := newFakeEngine()
	registry := &fakeRegistry{sessions: map[string][]meeting.UserSession{
		"m1": {{UserID: "a"}},
	}}
	f := New(nil, engine, registry)

	f.SetTier("m1", meeting.TierHigh)
	engine.calls = make(map[string]int)
	f.SetTier("m1", meeting.TierHigh)

	assert.Empty(t, engine.calls)
}

func TestSelectTierForDefaultsToHigh(t *testing.T) {
	f := New(nil, newFakeEngine(), &fakeRegistry{})
	assert.Equal(t, meeting.TierHigh, f.SelectTierFor("unknown"))
}

func TestResetClearsTierState(t *testing.T) {
	engine := newFakeEngine()
	registry := &fakeRegistry{sessions: map[string][]meeting.UserSession{
		"m1": {{UserID: "a"}},
	}}
	f := New(nil, engine, registry)
	f.SetTier("m1", meeting.TierLow)
	f.Reset("m1")
	assert.Equal(t, meeting.TierHigh, f.SelectTierFor("m1"))
}
