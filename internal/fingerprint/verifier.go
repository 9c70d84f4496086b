// Package fingerprint correlates sender and receiver CRC32 fingerprints for
// each frame, regardless of arrival order, and emits exactly one match or
// mismatch event per (frameId, receiverUserId) pair over the life of the
// frame.
package fingerprint

import (
	"log/slog"
	"sync"
	"time"
)

// TTL is how long a FrameFingerprint entry lives from creation (spec §3/§4.3).
const TTL = 15 * time.Second

// SweepInterval is how often expired entries are evicted.
const SweepInterval = 5 * time.Second

// RTPTimestampTolerance is the fallback correlation window used only when a
// receiver report carries no frameId (spec §9 Open Question 2).
const RTPTimestampTolerance = 50 * time.Millisecond

// MatchFunc/MismatchFunc are invoked once per (frameId, receiverUserId),
// carrying everything the frame's entry knows so callers can feed C4
// (spec §4.3 -> §4.4's "C3 emits match/mismatch into C4") without a second
// lookup.
type MatchFunc func(meetingID, senderUserID, receiverUserID, frameID string)
type MismatchFunc func(meetingID, senderUserID, receiverUserID, frameID string)

type frameEntry struct {
	frameID       string
	meetingID     string
	senderUserID  string
	senderCRC32   string // empty until the sender arrives
	hasSender     bool
	receiverCRC32 map[string]string // receiverUserId -> 8-hex, buffered until sender arrives
	resolved      map[string]bool   // receiverUserId -> already emitted
	createdAt     time.Time
	rtpTimestamp  uint32
	hasRTP        bool
}

func newFrameEntry(frameID, meetingID string, now time.Time) *frameEntry {
	return &frameEntry{
		frameID:       frameID,
		meetingID:     meetingID,
		receiverCRC32: make(map[string]string),
		resolved:      make(map[string]bool),
		createdAt:     now,
	}
}

func (e *frameEntry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > TTL
}

// Verifier is the FingerprintVerifier (C3).
type Verifier struct {
	log *slog.Logger

	onMatch    MatchFunc
	onMismatch MismatchFunc

	mu      sync.Mutex
	byFrame map[string]*frameEntry
	// byMeetingRTP indexes entries awaiting a frameId-less receiver
	// correlation, bucketed by meetingId for the ±50ms timestamp fallback.
	byMeetingRTP map[string][]*frameEntry

	now func() time.Time
}

// New creates a Verifier. onMatch/onMismatch must not block.
func New(log *slog.Logger, onMatch MatchFunc, onMismatch MismatchFunc) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{
		log:          log,
		onMatch:      onMatch,
		onMismatch:   onMismatch,
		byFrame:      make(map[string]*frameEntry),
		byMeetingRTP: make(map[string][]*frameEntry),
		now:          time.Now,
	}
}

func compareCRC(sender, receiver string) bool {
	if sender == "" || receiver == "" {
		return false
	}
	return sender == receiver
}

// AddSenderFingerprint records the sender's CRC32 for a frame. If receiver
// fingerprints already arrived for this frameId, every buffered one is
// compared immediately and the appropriate event emitted for each.
func (v *Verifier) AddSenderFingerprint(frameID, crc32 string, senderUserID, meetingID string, rtpTimestamp uint32, hasRTP bool) {
	now := v.now()

	v.mu.Lock()
	e, ok := v.byFrame[frameID]
	if !ok {
		e = newFrameEntry(frameID, meetingID, now)
		v.byFrame[frameID] = e
	}
	if e.expired(now) {
		delete(v.byFrame, frameID)
		v.mu.Unlock()
		return
	}
	e.senderCRC32 = crc32
	e.senderUserID = senderUserID
	e.hasSender = true
	if hasRTP && !e.hasRTP {
		e.rtpTimestamp = rtpTimestamp
		e.hasRTP = true
		v.byMeetingRTP[meetingID] = append(v.byMeetingRTP[meetingID], e)
	}

	toEmit := make(map[string]bool, len(e.receiverCRC32))
	for recv, rcrc := range e.receiverCRC32 {
		if e.resolved[recv] {
			continue
		}
		e.resolved[recv] = true
		toEmit[recv] = compareCRC(crc32, rcrc)
	}
	emitMeetingID, emitSenderID := e.meetingID, e.senderUserID
	v.mu.Unlock()

	for recv, matched := range toEmit {
		v.emit(emitMeetingID, emitSenderID, recv, frameID, matched)
	}
}

// AddReceiverFingerprint records one receiver's CRC32 for a frameId. If the
// sender has already arrived, the comparison happens immediately; otherwise
// it is buffered until AddSenderFingerprint arrives (or the entry expires).
// Duplicates from the same receiver for the same frame are ignored after
// the first.
func (v *Verifier) AddReceiverFingerprint(frameID, crc32 string, receiverUserID, meetingID string) {
	now := v.now()

	v.mu.Lock()
	e, ok := v.byFrame[frameID]
	if !ok {
		e = newFrameEntry(frameID, meetingID, now)
		v.byFrame[frameID] = e
	}
	if e.expired(now) {
		// Treated as if no sender was ever seen; dropped without emission.
		delete(v.byFrame, frameID)
		v.mu.Unlock()
		return
	}
	if e.resolved[receiverUserID] {
		v.mu.Unlock()
		return
	}

	if !e.hasSender {
		if _, buffered := e.receiverCRC32[receiverUserID]; buffered {
			v.mu.Unlock()
			return
		}
		e.receiverCRC32[receiverUserID] = crc32
		v.mu.Unlock()
		return
	}

	e.resolved[receiverUserID] = true
	matched := compareCRC(e.senderCRC32, crc32)
	emitMeetingID, emitSenderID := e.meetingID, e.senderUserID
	v.mu.Unlock()

	v.emit(emitMeetingID, emitSenderID, receiverUserID, frameID, matched)
}

// AddReceiverFingerprintByRTPTimestamp is the ±50ms fallback correlation
// path used only when the receiver report carries no frameId.
func (v *Verifier) AddReceiverFingerprintByRTPTimestamp(crc32 string, receiverUserID, meetingID string, rtpTimestamp uint32) {
	now := v.now()

	v.mu.Lock()
	candidates := v.byMeetingRTP[meetingID]
	var best *frameEntry
	var bestDelta uint32
	for _, e := range candidates {
		if e.expired(now) || e.resolved[receiverUserID] {
			continue
		}
		delta := rtpDelta(e.rtpTimestamp, rtpTimestamp)
		if toleranceExceeded(delta) {
			continue
		}
		if best == nil || delta < bestDelta {
			best = e
			bestDelta = delta
		}
	}
	if best == nil {
		v.mu.Unlock()
		return
	}
	best.resolved[receiverUserID] = true
	matched := compareCRC(best.senderCRC32, crc32)
	frameID := best.frameID
	emitMeetingID, emitSenderID := best.meetingID, best.senderUserID
	v.mu.Unlock()

	v.emit(emitMeetingID, emitSenderID, receiverUserID, frameID, matched)
}

func rtpDelta(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// toleranceExceeded treats the RTP delta as clock-rate agnostic "ticks";
// callers normalize to the codec clock rate before calling in. For the
// Opus-only wire path (48kHz) ±50ms is ±2400 ticks.
func toleranceExceeded(deltaTicks uint32) bool {
	const opusTicksPer50ms = uint32(RTPTimestampTolerance.Milliseconds()) * 48
	return deltaTicks > opusTicksPer50ms
}

func (v *Verifier) emit(meetingID, senderUserID, receiverUserID, frameID string, matched bool) {
	if matched {
		if v.onMatch != nil {
			v.onMatch(meetingID, senderUserID, receiverUserID, frameID)
		}
	} else {
		if v.onMismatch != nil {
			v.onMismatch(meetingID, senderUserID, receiverUserID, frameID)
		}
	}
}

// Sweep evicts every entry older than TTL. Intended to be invoked every
// SweepInterval by the periodic scheduler.
func (v *Verifier) Sweep() int {
	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()

	evicted := 0
	for id, e := range v.byFrame {
		if e.expired(now) {
			delete(v.byFrame, id)
			evicted++
		}
	}
	for meetingID, entries := range v.byMeetingRTP {
		live := entries[:0]
		for _, e := range entries {
			if !e.expired(now) {
				live = append(live, e)
			}
		}
		if len(live) == 0 {
			delete(v.byMeetingRTP, meetingID)
		} else {
			v.byMeetingRTP[meetingID] = live
		}
	}
	return evicted
}

// pendingCount is a test hook reporting how many frame entries are live.
func (v *Verifier) pendingCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.byFrame)
}
