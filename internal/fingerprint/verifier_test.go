package fingerprint

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	matches  []string
	mismatch []string
}

func (r *recorder) match(meetingID, senderUserID, recv, frame string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matches = append(r.matches, recv+":"+frame)
}

func (r *recorder) mismatch2(meetingID, senderUserID, recv, frame string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mismatch = append(r.mismatch, recv+":"+frame)
}

func TestSenderFirstMatch(t *testing.T) {
	rec := &recorder{}
	v := New(nil, rec.match, rec.mismatch2)

	v.AddSenderFingerprint("F1", "ABCD1234", "sA", "m1", 0, false)
	v.AddReceiverFingerprint("F1", "ABCD1234", "rB", "m1")

	assert.Equal(t, []string{"rB:F1"}, rec.matches)
	assert.Empty(t, rec.mismatch)
}

func TestReceiverFirstMismatch(t *testing.T) {
	rec := &recorder{}
	v := New(nil, rec.match, rec.mismatch2)

	v.AddReceiverFingerprint("F2", "ABCD1234", "rB", "m1")
	v.AddSenderFingerprint("F2", "DEADBEEF", "sA", "m1", 0, false)

	assert.Equal(t, []string{"rB:F2"}, rec.mismatch)
	assert.Empty(t, rec.matches)
}

func TestDuplicateReceiverIgnoredAfterFirst(t *testing.T) {
	rec := &recorder{}
	v := New(nil, rec.match, rec.mismatch2)

	v.AddSenderFingerprint("F1", "ABCD1234", "sA", "m1", 0, false)
	v.AddReceiverFingerprint("F1", "ABCD1234", "rB", "m1")
	v.AddReceiverFingerprint("F1", "ABCD1234", "rB", "m1") // duplicate

	assert.Len(t, rec.matches, 1)
}

func TestEmptyCRCCountsAsMismatch(t *testing.T) {
	rec := &recorder{}
	v := New(nil, rec.match, rec.mismatch2)

	v.AddSenderFingerprint("F1", "", "sA", "m1", 0, false)
	v.AddReceiverFingerprint("F1", "ABCD1234", "rB", "m1")

	assert.Equal(t, []string{"rB:F1"}, rec.mismatch)
}

func TestExpiredFrameDropsReceiverSilently(t *testing.T) {
	rec := &recorder{}
	v := New(nil, rec.match, rec.mismatch2)

	base := time.Now()
	v.now = func() time.Time { return base }
	v.AddSenderFingerprint("F1", "ABCD1234", "sA", "m1", 0, false)

	v.now = func() time.Time { return base.Add(16 * time.Second) }
	v.AddReceiverFingerprint("F1", "ABCD1234", "rB", "m1")

	assert.Empty(t, rec.matches)
	assert.Empty(t, rec.mismatch)
}

func TestSweepEvictsExpiredEntries(t *testing.T) {
	rec := &recorder{}
	v := New(nil, rec.match, rec.mismatch2)

	base := time.Now()
	v.now = func() time.Time { return base }
	v.AddSenderFingerprint("F1", "ABCD1234", "sA", "m1", 0, false)
	require.Equal(t, 1, v.pendingCount())

	v.now = func() time.Time { return base.Add(16 * time.Second) }
	evicted := v.Sweep()
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, v.pendingCount())
}

func TestRTPTimestampFallbackWithinTolerance(t *testing.T) {
	rec := &recorder{}
	v := New(nil, rec.match, rec.mismatch2)

	v.AddSenderFingerprint("F1", "ABCD1234", "sA", "m1", 48000, true)
	// within ±50ms (±2400 ticks at 48kHz)
	v.AddReceiverFingerprintByRTPTimestamp("ABCD1234", "rB", "m1", 48000+1000)

	assert.Equal(t, []string{"rB:F1"}, rec.matches)
}

func TestMatchCallbackCarriesMeetingAndSender(t *testing.T) {
	var gotMeeting, gotSender string
	v := New(nil,
		func(meetingID, senderUserID, recv, frame string) {
			gotMeeting, gotSender = meetingID, senderUserID
		},
		func(meetingID, senderUserID, recv, frame string) {},
	)

	v.AddSenderFingerprint("F1", "ABCD1234", "sA", "m1", 0, false)
	v.AddReceiverFingerprint("F1", "ABCD1234", "rB", "m1")

	assert.Equal(t, "m1", gotMeeting)
	assert.Equal(t, "sA", gotSender)
}

func TestRTPTimestampFallbackOutsideToleranceDropsSilently(t *testing.T) {
	rec := &recorder{}
	v := New(nil, rec.match, rec.mismatch2)

	v.AddSenderFingerprint("F1", "ABCD1234", "sA", "m1", 48000, true)
	v.AddReceiverFingerprintByRTPTimestamp("ABCD1234", "rB", "m1", 48000+100000)

	assert.Empty(t, rec.matches)
	assert.Empty(t, rec.mismatch)
}
