package ack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeMembers struct {
	ordered map[string][]string
}

func (f *fakeMembers) ListRecipientUserIDsOrdered(meetingID string) []string {
	return f.ordered[meetingID]
}

func TestSilentReceiverIsMissing(t *testing.T) {
	members := &fakeMembers{ordered: map[string][]string{"m1": {"sA", "rB"}}}
	a := New(members)

	// sA never hears back from rB; nothing recorded. A tick with no
	// activity emits nothing, but the synchronous accessor still reports
	// rB as missing once asked.
	summary := a.SummaryForSpeaker("m1", "sA")
	assert.Empty(t, summary.AckedUsers)
	assert.Equal(t, []string{"rB"}, summary.MissingUsers)
}

func TestAckedAndMissingPartitionMembership(t *testing.T) {
	members := &fakeMembers{ordered: map[string][]string{"m1": {"sA", "rB", "rC"}}}
	a := New(members)

	a.OnDecodeAck("m1", "sA", "rB", true)
	// rC never acks.

	summary := a.SummaryForSpeaker("m1", "sA")
	assert.Equal(t, []string{"rB"}, summary.AckedUsers)
	assert.Equal(t, []string{"rC"}, summary.MissingUsers)
}

func TestLatestWinsWhenReceiverFlips(t *testing.T) {
	members := &fakeMembers{ordered: map[string][]string{"m1": {"sA", "rB"}}}
	a := New(members)

	a.OnDecodeAck("m1", "sA", "rB", false)
	a.OnDecodeAck("m1", "sA", "rB", true)

	summary := a.SummaryForSpeaker("m1", "sA")
	assert.Equal(t, []string{"rB"}, summary.AckedUsers)
	assert.Empty(t, summary.MissingUsers)
}

func TestTickEmitsOnlyActiveSpeakersAndResetsWindow(t *testing.T) {
	members := &fakeMembers{ordered: map[string][]string{"m1": {"sA", "rB"}}}
	a := New(members)

	a.OnDecodeAck("m1", "sA", "rB", true)

	summaries := a.Tick()
	if assert.Len(t, summaries, 1) {
		assert.Equal(t, "sA", summaries[0].SenderUserID)
		assert.Equal(t, []string{"rB"}, summaries[0].AckedUsers)
	}

	// window reset: a second tick with no new activity emits nothing.
	assert.Empty(t, a.Tick())
}

func TestResetClearsMeeting(t *testing.T) {
	members := &fakeMembers{ordered: map[string][]string{"m1": {"sA", "rB"}}}
	a := New(members)
	a.OnDecodeAck("m1", "sA", "rB", true)
	a.Reset("m1")
	assert.Empty(t, a.Tick())
}
