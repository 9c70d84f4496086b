package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// ridForLayer names the simulcast encoding requested for each tier. Pion's
// audio path has no native "spatial layer" concept the way video SFUs use,
// so each tier is modeled as an independently-encoded Opus RID. No code
// path selects packets by RID; SetPreferredLayer only records the layer.
var ridForLayer = [3]string{"low", "med", "high"}

// newPionAPI builds an audio-only Pion API instance: Opus only, with the
// default interceptor chain for RTCP/NACK/RTT handling.
func newPionAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	opusParams := []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			PayloadType:        111,
		},
	}
	for _, p := range opusParams {
		if err := m.RegisterCodec(p, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("register opus: %w", err)
		}
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)), nil
}

var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

type producerTrack struct {
	userID string
	remote *webrtc.TrackRemote
	pc     *webrtc.PeerConnection
}

type consumerSender struct {
	publisherID string
	sender      *webrtc.RTPSender
	local       *webrtc.TrackLocalStaticRTP
}

type pionSession struct {
	userID    string
	meetingID string
	pc        *webrtc.PeerConnection

	mu        sync.Mutex
	producers map[string]*producerTrack   // trackID -> producer (usually one: this user's mic)
	consumers map[string]*consumerSender  // senderKey(publisherID) -> sender
	layer     int
}

// PionEngine is the concrete Engine (C7) backed by pion/webrtc, grounded on
// the teacher's SFU peer-connection wiring.
type PionEngine struct {
	log *slog.Logger
	api *webrtc.API

	mu       sync.Mutex
	sessions map[string]*pionSession // userID -> session

	onICECandidate func(userID string, c ICECandidate)
}

// NewPionEngine constructs a PionEngine. onICECandidate is invoked whenever
// the local PeerConnection gathers a trickle candidate that must be relayed
// to the client over signaling.
func NewPionEngine(log *slog.Logger, onICECandidate func(userID string, c ICECandidate)) (*PionEngine, error) {
	if log == nil {
		log = slog.Default()
	}
	api, err := newPionAPI()
	if err != nil {
		return nil, err
	}
	return &PionEngine{
		log:            log,
		api:            api,
		sessions:       make(map[string]*pionSession),
		onICECandidate: onICECandidate,
	}, nil
}

func (e *PionEngine) session(userID string) *pionSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[userID]
}

// CreateTransport allocates a PeerConnection for userID and returns a local
// offer.
func (e *PionEngine) CreateTransport(ctx context.Context, meetingID, userID string) (SDP, error) {
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: defaultICEServers})
	if err != nil {
		return SDP{}, &Error{Op: "CreateTransport", Class: ClassFatal, Err: err}
	}

	sess := &pionSession{
		userID:    userID,
		meetingID: meetingID,
		pc:        pc,
		producers: make(map[string]*producerTrack),
		consumers: make(map[string]*consumerSender),
		layer:     2, // HIGH by default
	}
	e.wireEvents(sess)

	e.mu.Lock()
	e.sessions[userID] = sess
	e.mu.Unlock()

	if _, err := pc.CreateDataChannel("confsfu", nil); err != nil {
		e.log.Warn("create data channel failed", "userId", userID, "err", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return SDP{}, &Error{Op: "CreateTransport", Class: ClassFatal, Err: err}
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return SDP{}, &Error{Op: "CreateTransport", Class: ClassFatal, Err: err}
	}

	return SDP{Type: "offer", SDP: offer.SDP}, nil
}

func (e *PionEngine) wireEvents(sess *pionSession) {
	pc := sess.pc
	userID := sess.userID

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || e.onICECandidate == nil {
			return
		}
		init := c.ToJSON()
		e.onICECandidate(userID, ICECandidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		e.log.Info("ice state change", "userId", userID, "state", state.String())
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		sess.mu.Lock()
		sess.producers[remote.ID()] = &producerTrack{userID: userID, remote: remote, pc: pc}
		sess.mu.Unlock()
		e.log.Info("producer track arrived", "userId", userID, "trackId", remote.ID(), "codec", remote.Codec().MimeType)
	})
}

// ConnectTransport applies the client's SDP as a remote answer, whatever
// remote.Type says. It produces no local answer: the returned *SDP is
// always nil.
func (e *PionEngine) ConnectTransport(ctx context.Context, userID string, remote SDP) (*SDP, error) {
	sess := e.session(userID)
	if sess == nil {
		return nil, &Error{Op: "ConnectTransport", Class: ClassFatal, Err: fmt.Errorf("no transport for %s", userID)}
	}
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: remote.SDP}
	if err := sess.pc.SetRemoteDescription(desc); err != nil {
		return nil, &Error{Op: "ConnectTransport", Class: ClassTransient, Err: err}
	}
	return nil, nil
}

// AddICECandidate feeds a trickled candidate to the user's transport.
func (e *PionEngine) AddICECandidate(userID string, candidate ICECandidate) error {
	sess := e.session(userID)
	if sess == nil {
		return &Error{Op: "AddICECandidate", Class: ClassTransient, Err: fmt.Errorf("no transport for %s", userID)}
	}
	init := webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	}
	if err := sess.pc.AddICECandidate(init); err != nil {
		return &Error{Op: "AddICECandidate", Class: ClassTransient, Err: err}
	}
	return nil
}

// CreateProducer is a no-op acknowledgement: the producer track is captured
// by the OnTrack handler as soon as it arrives; this call exists so the
// signaling layer has a synchronous point to log/metric against after
// negotiation completes.
func (e *PionEngine) CreateProducer(meetingID, userID string) error {
	if e.session(userID) == nil {
		return &Error{Op: "CreateProducer", Class: ClassFatal, Err: fmt.Errorf("no transport for %s", userID)}
	}
	return nil
}

func senderKey(publisherID string) string { return publisherID }

// CreateConsumer wires every current producer in meetingID (other than
// userID's own) into userID's transport as an outbound static RTP track,
// then relays PLI/FIR feedback from the consumer back to the publisher —
// the pattern the teacher's relayRTCPToPublisher uses.
func (e *PionEngine) CreateConsumer(meetingID, userID string) error {
	sub := e.session(userID)
	if sub == nil {
		return &Error{Op: "CreateConsumer", Class: ClassFatal, Err: fmt.Errorf("no transport for %s", userID)}
	}

	e.mu.Lock()
	var producers []*producerTrack
	for _, other := range e.sessions {
		if other.userID == userID || other.meetingID != meetingID {
			continue
		}
		other.mu.Lock()
		for _, p := range other.producers {
			producers = append(producers, p)
		}
		other.mu.Unlock()
	}
	e.mu.Unlock()

	for _, p := range producers {
		key := senderKey(p.userID)
		sub.mu.Lock()
		_, already := sub.consumers[key]
		sub.mu.Unlock()
		if already {
			continue
		}

		local, err := webrtc.NewTrackLocalStaticRTP(p.remote.Codec().RTPCodecCapability, p.remote.ID(), p.userID)
		if err != nil {
			e.log.Warn("create local track failed", "userId", userID, "publisherId", p.userID, "err", err)
			continue
		}
		sender, err := sub.pc.AddTrack(local)
		if err != nil {
			e.log.Warn("add track failed", "userId", userID, "publisherId", p.userID, "err", err)
			continue
		}

		sub.mu.Lock()
		sub.consumers[key] = &consumerSender{publisherID: p.userID, sender: sender, local: local}
		sub.mu.Unlock()

		go relayRTCPToPublisher(e.log, sender, p.remote, p.pc)
	}

	if len(producers) > 0 {
		offer, err := sub.pc.CreateOffer(nil)
		if err != nil {
			return &Error{Op: "CreateConsumer", Class: ClassTransient, Err: err}
		}
		if err := sub.pc.SetLocalDescription(offer); err != nil {
			return &Error{Op: "CreateConsumer", Class: ClassTransient, Err: err}
		}
	}
	return nil
}

// relayRTCPToPublisher drains RTCP (PLI/FIR) from a consumer's sender and
// forwards it to the originating publisher's PeerConnection.
func relayRTCPToPublisher(log *slog.Logger, subSender *webrtc.RTPSender, pubTrack *webrtc.TrackRemote, pubPC *webrtc.PeerConnection) {
	if pubPC == nil || pubTrack == nil {
		return
	}
	for {
		pkts, _, err := subSender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch p := pkt.(type) {
			case *rtcp.PictureLossIndication:
				p.MediaSSRC = uint32(pubTrack.SSRC())
				_ = pubPC.WriteRTCP([]rtcp.Packet{p})
			case *rtcp.FullIntraRequest:
				p.MediaSSRC = uint32(pubTrack.SSRC())
				_ = pubPC.WriteRTCP([]rtcp.Packet{p})
			}
		}
	}
}

// SetPreferredLayer records the requested layer on userID's session. It
// does not change which packets are forwarded, and no method of PionEngine
// reads the recorded layer back.
func (e *PionEngine) SetPreferredLayer(userID string, layer int) error {
	sess := e.session(userID)
	if sess == nil {
		return &Error{Op: "SetPreferredLayer", Class: ClassTransient, Err: fmt.Errorf("no transport for %s", userID)}
	}
	if layer < 0 || layer > 2 {
		return &Error{Op: "SetPreferredLayer", Class: ClassTransient, Err: fmt.Errorf("invalid layer %d", layer)}
	}
	sess.mu.Lock()
	sess.layer = layer
	sess.mu.Unlock()
	return nil
}

// GetConsumersForUser reports the publisher user IDs currently forwarded to
// userID.
func (e *PionEngine) GetConsumersForUser(userID string) []string {
	sess := e.session(userID)
	if sess == nil {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]string, 0, len(sess.consumers))
	for _, c := range sess.consumers {
		out = append(out, c.publisherID)
	}
	return out
}

// CloseUser tears down a user's PeerConnection and drops its session.
func (e *PionEngine) CloseUser(userID string) error {
	e.mu.Lock()
	sess, ok := e.sessions[userID]
	delete(e.sessions, userID)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if err := sess.pc.Close(); err != nil {
		return &Error{Op: "CloseUser", Class: ClassFatal, Err: err}
	}
	return nil
}
