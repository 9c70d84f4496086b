package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMembers struct {
	users map[string][]string
}

func (f *fakeMembers) ListRecipientUserIDs(meetingID string) []string {
	return f.users[meetingID]
}

func TestCollectRingBufferCapacity(t *testing.T) {
	c := New(&fakeMembers{})
	for i := 0; i < 15; i++ {
		c.Collect(Report{UserID: "a", LossPct: 0.01, Timestamp: time.Now()})
	}
	buf, ok := c.bufferFor("a")
	require.True(t, ok)
	assert.Len(t, buf.snapshot(), 10)
}

func TestCollectRingBufferKeepsLastN(t *testing.T) {
	c := New(&fakeMembers{})
	for i := 0; i < 12; i++ {
		c.Collect(Report{UserID: "a", LossPct: float64(i) / 100})
	}
	buf, _ := c.bufferFor("a")
	reports := buf.snapshot()
	require.Len(t, reports, 10)
	// first two (0.00, 0.01) were evicted; remaining starts at 0.02.
	assert.InDelta(t, 0.02, reports[0].LossPct, 1e-9)
	assert.InDelta(t, 0.11, reports[9].LossPct, 1e-9)
}

func TestGetWorstLossUsesMostRecentNotAverage(t *testing.T) {
	members := &fakeMembers{users: map[string][]string{"m1": {"a", "b", "c"}}}
	c := New(members)

	c.Collect(Report{UserID: "a", LossPct: 0.01})
	c.Collect(Report{UserID: "b", LossPct: 0.01})
	c.Collect(Report{UserID: "b", LossPct: 0.06}) // most recent spike
	c.Collect(Report{UserID: "c", LossPct: 0.0})

	assert.InDelta(t, 0.06, c.GetWorstLoss("m1"), 1e-9)
}

func TestGetWorstLossEmptyMeetingIsZero(t *testing.T) {
	members := &fakeMembers{users: map[string][]string{}}
	c := New(members)
	assert.Equal(t, 0.0, c.GetWorstLoss("nope"))
}

func TestGetWorstLossIgnoresStaleUsers(t *testing.T) {
	members := &fakeMembers{users: map[string][]string{"m1": {"a"}}}
	c := New(members)
	c.Collect(Report{UserID: "a", LossPct: 0.01})
	c.Collect(Report{UserID: "departed", LossPct: 0.9})

	assert.InDelta(t, 0.01, c.GetWorstLoss("m1"), 1e-9)
}

func TestCollectClampsLoss(t *testing.T) {
	c := New(&fakeMembers{})
	c.Collect(Report{UserID: "a", LossPct: 1.5})
	c.Collect(Report{UserID: "b", LossPct: -0.5})
	ba, _ := c.bufferFor("a")
	bb, _ := c.bufferFor("b")
	ra := ba.snapshot()
	rb := bb.snapshot()
	assert.Equal(t, 1.0, ra[0].LossPct)
	assert.Equal(t, 0.0, rb[0].LossPct)
}

func TestGetMetricsAveragesAcrossMembers(t *testing.T) {
	members := &fakeMembers{users: map[string][]string{"m1": {"a", "b"}}}
	c := New(members)
	c.Collect(Report{UserID: "a", LossPct: 0.02, JitterMs: 10, RttMs: 100})
	c.Collect(Report{UserID: "b", LossPct: 0.04, JitterMs: 20, RttMs: 200})

	m := c.GetMetrics("m1")
	assert.InDelta(t, 0.03, m.AvgLoss, 1e-9)
	assert.InDelta(t, 15, m.AvgJitter, 1e-9)
	assert.InDelta(t, 150, m.AvgRtt, 1e-9)
	assert.InDelta(t, 0.04, m.WorstLoss, 1e-9)
}

func TestCleanupUserRemovesState(t *testing.T) {
	members := &fakeMembers{users: map[string][]string{"m1": {"a"}}}
	c := New(members)
	c.Collect(Report{UserID: "a", LossPct: 0.5})
	c.CleanupUser("a")
	assert.Equal(t, 0.0, c.GetWorstLoss("m1"))
}
