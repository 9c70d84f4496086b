// Package engine defines the media-plane boundary (C7 in the design): the
// core never imports a transport library directly, only this interface. A
// concrete implementation backed by pion/webrtc lives in pion.go.
package engine

import (
	"context"
	"fmt"
)

// ErrorClass distinguishes errors a caller should retry/report to the
// client from ones that mean the session is unrecoverable (spec §7).
type ErrorClass int

const (
	// ClassTransient covers ICE restarts, renegotiation races, and other
	// errors expected to clear on retry.
	ClassTransient ErrorClass = iota
	// ClassFatal covers errors that require tearing the session down.
	ClassFatal
)

// Error wraps an engine failure with its retry classification.
type Error struct {
	Op    string
	Class ErrorClass
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the error is an *Error classified transient.
func Transient(err error) bool {
	var e *Error
	if as(err, &e) {
		return e.Class == ClassTransient
	}
	return false
}

// Fatal reports whether the error is an *Error classified fatal. A
// non-engine error is treated as fatal since its shape is unknown.
func Fatal(err error) bool {
	var e *Error
	if as(err, &e) {
		return e.Class == ClassFatal
	}
	return err != nil
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// SDP is a transport-agnostic session description, mirroring the subset of
// RFC 4566 fields spec §6.2 requires the signaling layer to extract.
type SDP struct {
	Type string // "offer" or "answer"
	SDP  string
}

// ICECandidate is a transport-agnostic trickle-ICE candidate.
type ICECandidate struct {
	Candidate     string
	SDPMid        *string
	SDPMLineIndex *uint16
}

// Engine is the SfuEngine boundary (C7): it owns PeerConnections, producers,
// and consumers, and is the only component that knows about any concrete
// media transport.
type Engine interface {
	// CreateTransport allocates a new transport for a user (one per
	// session) and returns the local SDP offer to send to the client.
	CreateTransport(ctx context.Context, meetingID, userID string) (SDP, error)

	// ConnectTransport applies the client's SDP answer (or exchanges an
	// offer/answer pair, depending on negotiation direction) and begins
	// accumulating trickled ICE candidates.
	ConnectTransport(ctx context.Context, userID string, remote SDP) (*SDP, error)

	// AddICECandidate feeds a trickled remote candidate to the user's
	// transport.
	AddICECandidate(userID string, candidate ICECandidate) error

	// CreateProducer registers that userID is now publishing into
	// meetingID; the signaling hub calls it right after ConnectTransport
	// succeeds for the user's offer.
	CreateProducer(meetingID, userID string) error

	// CreateConsumer wires meetingID's other producers to userID's
	// transport so userID starts receiving their audio.
	CreateConsumer(meetingID, userID string) error

	// SetPreferredLayer commands every consumer currently forwarding to
	// userID to switch to the given spatial layer (0=LOW, 1=MEDIUM,
	// 2=HIGH).
	SetPreferredLayer(userID string, layer int) error

	// GetConsumersForUser reports the user IDs of the publishers currently
	// consumed by userID.
	GetConsumersForUser(userID string) []string

	// CloseUser tears down a user's transport, producers, and consumers.
	CloseUser(userID string) error
}
