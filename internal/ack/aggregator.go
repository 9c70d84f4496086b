// Package ack buckets fingerprint verification results per speaker over a
// summary window and emits periodic ACK/NACK summaries to each speaker.
package ack

import (
	"sync"
	"time"
)

// MembershipSource gives the aggregator the current participant list of a
// meeting, in registration order, so missingUsers can be computed without
// the aggregator owning membership itself.
type MembershipSource interface {
	ListRecipientUserIDsOrdered(meetingID string) []string
}

// Summary is the AckSummary emitted at each tick (spec §4.4).
type Summary struct {
	MeetingID    string
	SenderUserID string
	AckedUsers   []string
	MissingUsers []string
	Timestamp    time.Time
}

type speakerKey struct {
	meetingID string
	senderID  string
}

type bucket struct {
	mu      sync.Mutex
	acked   map[string]bool
	missing map[string]bool
	active  bool
}

func newBucket() *bucket {
	return &bucket{acked: make(map[string]bool), missing: make(map[string]bool)}
}

// Aggregator is the AckAggregator (C4).
type Aggregator struct {
	members MembershipSource

	mu      sync.Mutex
	buckets map[speakerKey]*bucket

	now func() time.Time
}

// New creates an Aggregator.
func New(members MembershipSource) *Aggregator {
	return &Aggregator{
		members: members,
		buckets: make(map[speakerKey]*bucket),
		now:     time.Now,
	}
}

func (a *Aggregator) bucketFor(meetingID, senderUserID string) *bucket {
	key := speakerKey{meetingID, senderUserID}

	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buckets[key]
	if !ok {
		b = newBucket()
		a.buckets[key] = b
	}
	return b
}

// OnDecodeAck inserts the receiver into the speaker's acked or missing set.
// If the receiver previously landed in the other set this window, the
// latest call wins.
func (a *Aggregator) OnDecodeAck(meetingID, senderUserID, receiverUserID string, matched bool) {
	b := a.bucketFor(meetingID, senderUserID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = true
	if matched {
		b.acked[receiverUserID] = true
		delete(b.missing, receiverUserID)
	} else {
		b.missing[receiverUserID] = true
		delete(b.acked, receiverUserID)
	}
}

// summarize composes a Summary from a bucket's current state plus the
// meeting's current membership. It takes b.mu itself; the caller must not
// hold it.
func (a *Aggregator) summarize(meetingID, senderUserID string, b *bucket) Summary {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ordered []string
	if a.members != nil {
		ordered = a.members.ListRecipientUserIDsOrdered(meetingID)
	}

	acked := make([]string, 0, len(b.acked))
	missing := make([]string, 0, len(b.missing))

	seen := make(map[string]bool, len(ordered))
	for _, uid := range ordered {
		if uid == senderUserID {
			continue
		}
		seen[uid] = true
		if b.acked[uid] {
			acked = append(acked, uid)
		} else {
			// Every other current participant that is not acked is
			// missing: covers both explicit mismatches and silent
			// timeouts (spec §4.4).
			missing = append(missing, uid)
		}
	}
	// Receivers that mismatched but have since left the meeting still get
	// reported this tick if they were explicitly recorded.
	for uid := range b.missing {
		if !seen[uid] {
			missing = append(missing, uid)
		}
	}

	return Summary{
		MeetingID:    meetingID,
		SenderUserID: senderUserID,
		AckedUsers:   acked,
		MissingUsers: missing,
		Timestamp:    a.now(),
	}
}

// SummaryForSpeaker is the synchronous accessor used by tests; it computes
// the same summary without resetting the window.
func (a *Aggregator) SummaryForSpeaker(meetingID, senderUserID string) Summary {
	key := speakerKey{meetingID, senderUserID}
	a.mu.Lock()
	b, ok := a.buckets[key]
	a.mu.Unlock()
	if !ok {
		b = newBucket()
	}
	return a.summarize(meetingID, senderUserID, b)
}

// Tick runs the fixed-cadence summary pass: for every (meetingId,
// senderUserId) with activity in the window, compose and return a Summary,
// then reset that speaker's window.
func (a *Aggregator) Tick() []Summary {
	a.mu.Lock()
	keys := make([]speakerKey, 0, len(a.buckets))
	for k, b := range a.buckets {
		b.mu.Lock()
		active := b.active
		b.mu.Unlock()
		if active {
			keys = append(keys, k)
		}
	}
	a.mu.Unlock()

	summaries := make([]Summary, 0, len(keys))
	for _, k := range keys {
		a.mu.Lock()
		b := a.buckets[k]
		a.mu.Unlock()
		if b == nil {
			continue
		}
		summaries = append(summaries, a.summarize(k.meetingID, k.senderID, b))

		b.mu.Lock()
		b.acked = make(map[string]bool)
		b.missing = make(map[string]bool)
		b.active = false
		b.mu.Unlock()
	}
	return summaries
}

// Reset clears all speakers of a meeting (e.g. when it is destroyed).
func (a *Aggregator) Reset(meetingID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.buckets {
		if k.meetingID == meetingID {
			delete(a.buckets, k)
		}
	}
}
