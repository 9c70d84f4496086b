package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/n0remac/confsfu/internal/ack"
	"github.com/n0remac/confsfu/internal/engine"
	"github.com/n0remac/confsfu/internal/fingerprint"
	"github.com/n0remac/confsfu/internal/meeting"
	"github.com/n0remac/confsfu/internal/telemetry"
)

// NewUpgrader builds the WebSocket handshake upgrader. Origin checking follows
// the teacher's environment-gated rule: permissive outside production,
// restricted to the configured origin in production.
func NewUpgrader(allowedOrigin string, production bool) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if !production {
				return true
			}
			return origin == allowedOrigin
		},
	}
}

// Metrics is the narrow metrics interface the hub pokes.
type Metrics interface {
	ObserveSignalingDrop(meetingID string)
	ObserveEngineError(op string, class engine.ErrorClass)
	ObserveFingerprintMatch(meetingID string)
	ObserveFingerprintMismatch(meetingID string)
}

// AuthFunc validates a join token for a user before admission. Returning
// false maps to ErrAuthFail on the wire.
type AuthFunc func(meetingID, userID, token string) bool

// Hub is the SignalingHub (C8): the WebSocket endpoint binding client
// sessions to the meeting registry and every downstream collector.
type Hub struct {
	log *slog.Logger

	registry   *meeting.Registry
	telemetry  *telemetry.Collector
	verifier   *fingerprint.Verifier
	acks       *ack.Aggregator
	engine     engine.Engine
	metrics    Metrics
	authorize  AuthFunc
	upgrader   websocket.Upgrader
	joinLimiter *rate.Limiter

	mu    sync.Mutex
	conns map[string]*connection // userID -> connection
}

// Config bundles Hub construction parameters that are not themselves
// component dependencies.
type Config struct {
	AllowedOrigin  string
	Production     bool
	JoinRateLimit  rate.Limit
	JoinRateBurst  int
}

// New builds a Hub wired to every core collector/controller.
func New(log *slog.Logger, cfg Config, registry *meeting.Registry, tel *telemetry.Collector, verifier *fingerprint.Verifier, acks *ack.Aggregator, eng engine.Engine, metrics Metrics, authorize AuthFunc) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if authorize == nil {
		authorize = func(string, string, string) bool { return true }
	}
	return &Hub{
		log:         log,
		registry:    registry,
		telemetry:   tel,
		verifier:    verifier,
		acks:        acks,
		engine:      eng,
		metrics:     metrics,
		authorize:   authorize,
		upgrader:    NewUpgrader(cfg.AllowedOrigin, cfg.Production),
		joinLimiter: rate.NewLimiter(cfg.JoinRateLimit, cfg.JoinRateBurst),
		conns:       make(map[string]*connection),
	}
}

// ServeHTTP upgrades the request and runs the per-connection pumps. It
// blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := newConnection(h.log, wsConn)
	go c.writePump()

	c.readLoop(func(f Frame) {
		h.handleFrame(c, f)
	})

	h.disconnect(c)
}

func (h *Hub) disconnect(c *connection) {
	c.close()
	if c.userID == "" {
		return
	}
	h.mu.Lock()
	if h.conns[c.userID] == c {
		delete(h.conns, c.userID)
	}
	h.mu.Unlock()

	if c.meetingID != "" {
		h.registry.RemoveUser(c.meetingID, c.userID)
		if h.engine != nil {
			if err := h.engine.CloseUser(c.userID); err != nil {
				h.log.Warn("engine close user failed", "userId", c.userID, "err", err)
			}
		}
		h.broadcastUserLeft(c.meetingID, c.userID)
	}
}

func (h *Hub) handleFrame(c *connection, f Frame) {
	switch f.Type {
	case TypeJoin:
		h.handleJoin(c, f)
	case TypeOffer:
		h.handleOffer(c, f)
	case TypeAnswer:
		h.handleAnswer(c, f)
	case TypeICECandidate:
		h.handleICECandidate(c, f)
	case TypeRTCPReport:
		h.handleRTCPReport(c, f)
	case TypeFrameFingerprint:
		h.handleFrameFingerprint(c, f)
	case TypeLeave:
		// handled by the caller's readLoop exit
	default:
		c.enqueue(Frame{Type: TypeError, Code: ErrBadClient, Message: fmt.Sprintf("unknown frame type %q", f.Type)})
	}
}

func (h *Hub) handleJoin(c *connection, f Frame) {
	if f.MeetingID == "" || f.UserID == "" {
		c.enqueue(Frame{Type: TypeError, Code: ErrBadClient, Message: "join requires meetingId and userId"})
		return
	}
	if !h.joinLimiter.Allow() {
		c.enqueue(Frame{Type: TypeError, Code: ErrOverload, Message: "join rate exceeded"})
		return
	}
	if !h.authorize(f.MeetingID, f.UserID, f.Token) {
		c.enqueue(Frame{Type: TypeError, Code: ErrAuthFail, Message: "authorization failed"})
		return
	}

	c.meetingID = f.MeetingID
	c.userID = f.UserID

	h.mu.Lock()
	h.conns[f.UserID] = c
	h.mu.Unlock()

	h.registry.RegisterUser(f.MeetingID, meeting.UserSession{
		UserID:          f.UserID,
		ConnectionState: meeting.Signaling,
	})

	offer, err := h.engine.CreateTransport(context.Background(), f.MeetingID, f.UserID)
	if err != nil {
		h.handleEngineError(c, f.MeetingID, "CreateTransport", err)
		return
	}

	now := time.Now()
	sessions := h.registry.ListRecipients(f.MeetingID, "")
	participants := make([]string, 0, len(sessions))
	for _, s := range sessions {
		participants = append(participants, s.UserID)
	}

	c.enqueue(Frame{
		Type:         TypeJoined,
		MeetingID:    f.MeetingID,
		UserID:       f.UserID,
		SDP:          offer.SDP,
		Success:      true,
		Participants: participants,
		Timestamp:    &now,
	})
	h.broadcastUserJoined(f.MeetingID, f.UserID)
}

func (h *Hub) handleOffer(c *connection, f Frame) {
	if c.userID == "" {
		c.enqueue(Frame{Type: TypeError, Code: ErrNotInMeeting, Message: "join before negotiating"})
		return
	}
	info, err := ParseSessionInfo(f.SDP)
	if err != nil {
		c.enqueue(Frame{Type: TypeError, Code: ErrBadClient, Message: "offer has no opus audio section"})
		return
	}
	c.pendingNegotiation = &info

	answer, err := h.engine.ConnectTransport(context.Background(), c.userID, engine.SDP{Type: "offer", SDP: f.SDP})
	if err != nil {
		h.handleEngineError(c, c.meetingID, "ConnectTransport", err)
		return
	}
	if answer != nil {
		c.enqueue(Frame{Type: TypeAnswer, SDP: answer.SDP})
	}
	if err := h.engine.CreateProducer(c.meetingID, c.userID); err != nil {
		h.handleEngineError(c, c.meetingID, "CreateProducer", err)
		return
	}
	// Producer is ready: PendingNegotiation's job is done.
	c.pendingNegotiation = nil
	if err := h.engine.CreateConsumer(c.meetingID, c.userID); err != nil {
		h.handleEngineError(c, c.meetingID, "CreateConsumer", err)
	}
}

func (h *Hub) handleAnswer(c *connection, f Frame) {
	if c.userID == "" {
		c.enqueue(Frame{Type: TypeError, Code: ErrNotInMeeting, Message: "join before negotiating"})
		return
	}
	info, err := ParseSessionInfo(f.SDP)
	if err != nil {
		c.enqueue(Frame{Type: TypeError, Code: ErrBadClient, Message: "answer has no opus audio section"})
		return
	}
	c.pendingNegotiation = &info

	if _, err := h.engine.ConnectTransport(context.Background(), c.userID, engine.SDP{Type: "answer", SDP: f.SDP}); err != nil {
		h.handleEngineError(c, c.meetingID, "ConnectTransport", err)
	}
}

func (h *Hub) handleICECandidate(c *connection, f Frame) {
	if c.userID == "" || f.Candidate == nil {
		return
	}
	cand := engine.ICECandidate{
		Candidate:     f.Candidate.Candidate,
		SDPMid:        f.Candidate.SDPMid,
		SDPMLineIndex: f.Candidate.SDPMLineIndex,
	}
	if err := h.engine.AddICECandidate(c.userID, cand); err != nil {
		h.handleEngineError(c, c.meetingID, "AddICECandidate", err)
	}
}

func (h *Hub) handleRTCPReport(c *connection, f Frame) {
	if c.userID == "" {
		return
	}
	var loss, jitter, rtt float64
	if f.LossPct != nil {
		loss = *f.LossPct
	}
	if f.JitterMs != nil {
		jitter = *f.JitterMs
	}
	if f.RttMs != nil {
		rtt = *f.RttMs
	}
	h.telemetry.Collect(telemetry.Report{
		UserID:   c.userID,
		LossPct:  loss,
		JitterMs: jitter,
		RttMs:    rtt,
	})
}

// handleFrameFingerprint routes on the presence of senderUserId vs
// receiverUserId in the frame itself (spec §6.1/§4.8), not an invented
// discriminator field.
func (h *Hub) handleFrameFingerprint(c *connection, f Frame) {
	if c.userID == "" || c.meetingID == "" {
		return
	}
	switch {
	case f.SenderUserID != "":
		var rtpTS uint32
		hasRTP := f.RTPTimestamp != nil
		if hasRTP {
			rtpTS = *f.RTPTimestamp
		}
		h.verifier.AddSenderFingerprint(f.FrameID, f.CRC32, f.SenderUserID, c.meetingID, rtpTS, hasRTP)
	case f.ReceiverUserID != "":
		if f.FrameID != "" {
			h.verifier.AddReceiverFingerprint(f.FrameID, f.CRC32, f.ReceiverUserID, c.meetingID)
		} else if f.RTPTimestamp != nil {
			h.verifier.AddReceiverFingerprintByRTPTimestamp(f.CRC32, f.ReceiverUserID, c.meetingID, *f.RTPTimestamp)
		}
	}
}

func (h *Hub) handleEngineError(c *connection, meetingID, op string, err error) {
	class := engine.ClassFatal
	code := ErrEngineFatal
	if engine.Transient(err) {
		class = engine.ClassTransient
		code = ErrEngineTransient
	}
	if h.metrics != nil {
		h.metrics.ObserveEngineError(op, class)
	}
	h.log.Warn("engine error", "op", op, "meetingId", meetingID, "userId", c.userID, "err", err)
	c.enqueue(Frame{Type: TypeError, Code: code, Message: err.Error()})
}

// SendICECandidate relays a server-gathered trickle candidate to its owning
// connection. Missing connections are swallowed: the user has likely already
// disconnected by the time ICE gathering produces this candidate.
func (h *Hub) SendICECandidate(userID string, cand engine.ICECandidate) {
	h.mu.Lock()
	c, ok := h.conns[userID]
	h.mu.Unlock()
	if !ok {
		return
	}
	if !c.enqueue(Frame{
		Type: TypeICECandidate,
		Candidate: &ICECandidateMsg{
			Candidate:     cand.Candidate,
			SDPMid:        cand.SDPMid,
			SDPMLineIndex: cand.SDPMLineIndex,
		},
	}) {
		if h.metrics != nil {
			h.metrics.ObserveSignalingDrop(c.meetingID)
		}
	}
}

// SendTierChange implements quality.Broadcaster.
func (h *Hub) SendTierChange(userID string, tier meeting.Tier) error {
	h.mu.Lock()
	c, ok := h.conns[userID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("no connection for %s", userID)
	}
	if !c.enqueue(Frame{Type: TypeTierChange, Tier: tier.String()}) {
		if h.metrics != nil {
			h.metrics.ObserveSignalingDrop(c.meetingID)
		}
	}
	return nil
}

// BroadcastAckSummary sends an ack-summary frame to its speaker. Missing
// connections are swallowed, matching spec §4.4's fire-and-forget delivery.
func (h *Hub) BroadcastAckSummary(s ack.Summary) {
	h.mu.Lock()
	c, ok := h.conns[s.SenderUserID]
	h.mu.Unlock()
	if !ok {
		return
	}
	c.enqueue(Frame{
		Type:         TypeAckSummary,
		MeetingID:    s.MeetingID,
		SenderUserID: s.SenderUserID,
		AckedUsers:   s.AckedUsers,
		MissingUsers: s.MissingUsers,
	})
}

func (h *Hub) broadcastUserJoined(meetingID, joinedUserID string) {
	for _, s := range h.registry.ListRecipients(meetingID, joinedUserID) {
		h.mu.Lock()
		c, ok := h.conns[s.UserID]
		h.mu.Unlock()
		if ok {
			c.enqueue(Frame{Type: TypeUserJoined, MeetingID: meetingID, JoinedUserID: joinedUserID})
		}
	}
}

func (h *Hub) broadcastUserLeft(meetingID, leftUserID string) {
	for _, s := range h.registry.ListRecipients(meetingID, leftUserID) {
		h.mu.Lock()
		c, ok := h.conns[s.UserID]
		h.mu.Unlock()
		if ok {
			c.enqueue(Frame{Type: TypeUserLeft, MeetingID: meetingID, LeftUserID: leftUserID})
		}
	}
}

// devEnvironment mirrors the teacher's os.Getenv("ENVIRONMENT") gate. The
// daemon does not call it; Config.Production comes from configuration.
func devEnvironment() bool {
	return os.Getenv("ENVIRONMENT") != "production"
}
