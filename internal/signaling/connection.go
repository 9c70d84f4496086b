package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// sendQueueCapacity bounds the per-session outbound queue; once full, new
// frames are dropped rather than blocking the hub (spec §5.3).
const sendQueueCapacity = 256

// maxConsecutiveDrops is the overload threshold: a session that drops this
// many frames in a row without a single successful send is torn down with
// error{503} rather than left silently degraded (spec §7 Overload).
const maxConsecutiveDrops = 64

// connection is one signaling session: a single WebSocket with its own
// single-writer pump, grounded on the teacher's sfuPeer/writePumpSFU split.
type connection struct {
	log *slog.Logger

	// id correlates log lines for this socket before a join frame assigns
	// it a userID, "c" + uuid mirroring the teacher's room/player ID style.
	id string

	conn      *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	meetingID string
	userID    string

	// consecutiveDrops counts enqueue failures since the last successful
	// send; a plain counter reset on any successful send (spec §4.8).
	consecutiveDrops atomic.Int32

	// pendingNegotiation is the PendingNegotiation record (spec §3): the
	// SessionInfo (audio payload types, DTLS fingerprint, ICE credentials)
	// extracted from the most recent offer/answer, held between that frame
	// and the engine's producer-ready path.
	pendingNegotiation *SessionInfo
}

func newConnection(log *slog.Logger, conn *websocket.Conn) *connection {
	return &connection{
		log:    log,
		id:     "c" + uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendQueueCapacity),
		closed: make(chan struct{}),
	}
}

// enqueue drops the frame with a warning log if the send queue is full
// (spec §5.3's drop-on-full backpressure rule) and returns false; callers
// that count drops do so from that result. After maxConsecutiveDrops drops
// in a row it calls overload.
func (c *connection) enqueue(f Frame) bool {
	raw, err := marshal(f)
	if err != nil {
		c.log.Warn("marshal frame failed", "userId", c.userID, "err", err)
		return false
	}
	select {
	case c.send <- raw:
		c.consecutiveDrops.Store(0)
		return true
	case <-c.closed:
		return false
	default:
		c.log.Warn("send queue overflow; dropping frame", "userId", c.userID, "type", f.Type)
		if c.consecutiveDrops.Add(1) >= maxConsecutiveDrops {
			c.overload()
		}
		return false
	}
}

// overload tears the session down after maxConsecutiveDrops: it evicts the
// oldest queued frame to make room for a best-effort error{503} notice, then
// closes the connection so the hub's disconnect path runs.
func (c *connection) overload() {
	c.log.Warn("closing session after repeated send-queue overflow", "userId", c.userID, "threshold", maxConsecutiveDrops)
	if raw, err := marshal(Frame{Type: TypeError, Code: ErrOverload, Message: "too many dropped frames"}); err == nil {
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- raw:
		default:
		}
	}
	c.close()
}

func (c *connection) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// readLoop reads frames until the connection errs or the client sends
// "leave"; each decoded frame is handed to handle.
func (c *connection) readLoop(handle func(Frame)) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.log.Warn("malformed frame", "connId", c.id, "err", err)
			c.enqueue(Frame{Type: TypeError, Code: ErrBadClient, Message: "malformed frame"})
			continue
		}
		handle(f)
		if f.Type == TypeLeave {
			return
		}
	}
}
