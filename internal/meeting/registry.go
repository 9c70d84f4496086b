// Package meeting owns the single source of truth for which users belong to
// which meeting. Every other component references users and meetings by id
// and looks up state through the Registry rather than holding its own
// pointers into it.
package meeting

import (
	"log/slog"
	"sync"
	"time"
)

// Tier is one of LOW/MEDIUM/HIGH, bijective to a spatial layer index.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "LOW"
	case TierMedium:
		return "MEDIUM"
	case TierHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// Layer returns the spatial layer index the tier maps to (LOW=0, MEDIUM=1, HIGH=2).
func (t Tier) Layer() int {
	switch t {
	case TierLow:
		return 0
	case TierMedium:
		return 1
	case TierHigh:
		return 2
	default:
		return 2
	}
}

// ConnectionState is purely descriptive; observable by clients.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Signaling
	Offering
	ICEGathering
	WaitingAnswer
	Connected
	Streaming
	Degraded
	Reconnecting
	Disconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Signaling:
		return "signaling"
	case Offering:
		return "offering"
	case ICEGathering:
		return "ice_gathering"
	case WaitingAnswer:
		return "waiting_answer"
	case Connected:
		return "connected"
	case Streaming:
		return "streaming"
	case Degraded:
		return "degraded"
	case Reconnecting:
		return "reconnecting"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// UserSession is owned exclusively by its Meeting; destroyed when the user
// is removed.
type UserSession struct {
	UserID          string
	PCID            string
	QualityTier     Tier
	LastCRC32       string
	ConnectionState ConnectionState
	Timestamp       time.Time
}

// Meeting holds an ordered, set-semantics sequence of UserSessions.
type Meeting struct {
	mu          sync.Mutex
	MeetingID   string
	CurrentTier Tier
	CreatedAt   time.Time

	order   []string // registration order of userIds, set semantics
	byUser  map[string]*UserSession
}

// snapshotSessions returns a defensive copy in registration order, optionally
// excluding one userId. Caller must hold m.mu.
func (m *Meeting) snapshotSessions(exclude string) []UserSession {
	out := make([]UserSession, 0, len(m.order))
	for _, uid := range m.order {
		if uid == exclude {
			continue
		}
		if s, ok := m.byUser[uid]; ok {
			out = append(out, *s)
		}
	}
	return out
}

// EmptyListener is notified when a meeting transitions to empty and is
// destroyed. The daemon subscribes the ack aggregator (C4) and the stream
// forwarder (C6); telemetry (C2) state is not cleared on this event.
type EmptyListener func(meetingID string)

// Registry is the MeetingRegistry (C1). All mutating calls are serialized
// per meeting; failures are non-fatal warnings, never errors returned to
// the caller.
type Registry struct {
	log *slog.Logger

	mu       sync.Mutex
	meetings map[string]*Meeting

	listenersMu sync.Mutex
	listeners   []EmptyListener
}

// New creates an empty Registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log,
		meetings: make(map[string]*Meeting),
	}
}

// OnMeetingEmpty registers a listener invoked (synchronously, after the
// meeting has been removed) whenever a meeting goes empty and is destroyed.
func (r *Registry) OnMeetingEmpty(fn EmptyListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) notifyEmpty(meetingID string) {
	r.listenersMu.Lock()
	listeners := append([]EmptyListener(nil), r.listeners...)
	r.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(meetingID)
	}
}

func (r *Registry) getOrCreateMeeting(meetingID string) *Meeting {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meetings[meetingID]
	if !ok {
		m = &Meeting{
			MeetingID:   meetingID,
			CurrentTier: TierHigh,
			CreatedAt:   time.Now(),
			byUser:      make(map[string]*UserSession),
		}
		r.meetings[meetingID] = m
	}
	return m
}

func (r *Registry) lookupMeeting(meetingID string) *Meeting {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meetings[meetingID]
}

// RegisterUser is an idempotent upsert on userId. Creates the meeting if
// absent with currentTier=HIGH. Re-registration replaces the entry without
// re-ordering.
func (r *Registry) RegisterUser(meetingID string, session UserSession) {
	if meetingID == "" || session.UserID == "" {
		r.log.Warn("registerUser: empty meetingId or userId")
		return
	}

	m := r.getOrCreateMeeting(meetingID)
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUser[session.UserID]; !exists {
		m.order = append(m.order, session.UserID)
	}
	cp := session
	m.byUser[session.UserID] = &cp
}

// RemoveUser is a no-op (warn only) on absent meeting or user. When the
// meeting becomes empty, it is destroyed and subscribers are notified.
func (r *Registry) RemoveUser(meetingID, userID string) {
	m := r.lookupMeeting(meetingID)
	if m == nil {
		r.log.Warn("removeUser: unknown meeting", "meetingId", meetingID)
		return
	}

	m.mu.Lock()
	_, existed := m.byUser[userID]
	if !existed {
		m.mu.Unlock()
		r.log.Warn("removeUser: unknown user", "meetingId", meetingID, "userId", userID)
		return
	}
	delete(m.byUser, userID)
	for i, uid := range m.order {
		if uid == userID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	empty := len(m.order) == 0
	m.mu.Unlock()

	if empty {
		r.mu.Lock()
		delete(r.meetings, meetingID)
		r.mu.Unlock()
		r.notifyEmpty(meetingID)
	}
}

// ListRecipients returns a snapshot in registration order, excluding
// excludeUserID if non-empty.
func (r *Registry) ListRecipients(meetingID string, excludeUserID string) []UserSession {
	m := r.lookupMeeting(meetingID)
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotSessions(excludeUserID)
}

// MeetingSnapshot is a value-copy view of a Meeting returned by GetMeeting.
type MeetingSnapshot struct {
	MeetingID   string
	CurrentTier Tier
	CreatedAt   time.Time
}

// GetMeeting returns a snapshot, or nil if absent.
func (r *Registry) GetMeeting(meetingID string) *MeetingSnapshot {
	m := r.lookupMeeting(meetingID)
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return &MeetingSnapshot{MeetingID: m.MeetingID, CurrentTier: m.CurrentTier, CreatedAt: m.CreatedAt}
}

// GetUserSession returns a snapshot, or nil if absent.
func (r *Registry) GetUserSession(meetingID, userID string) *UserSession {
	m := r.lookupMeeting(meetingID)
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byUser[userID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// UpdateQualityTier sets currentTier; warns on unknown meeting.
func (r *Registry) UpdateQualityTier(meetingID string, tier Tier) {
	m := r.lookupMeeting(meetingID)
	if m == nil {
		r.log.Warn("updateQualityTier: unknown meeting", "meetingId", meetingID)
		return
	}
	m.mu.Lock()
	m.CurrentTier = tier
	m.mu.Unlock()
}

// AllMeetingIDs returns a snapshot of every meeting id currently known, used
// by the periodic scheduler to iterate evaluation targets.
func (r *Registry) AllMeetingIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.meetings))
	for id := range r.meetings {
		ids = append(ids, id)
	}
	return ids
}
