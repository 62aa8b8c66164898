package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// WebRTC sessions carry exactly one ordered, reliable data channel
// named "ascii-chat" — no media tracks. Peer-connection setup and data
// channel wiring stripped down to data-only.
const (
	dataChannelLabel = "ascii-chat"
	iceGatherTimeout  = 20 * time.Second
)

// defaultICEServers is the public STUN fallback used when
// WebRTCOpener.ICEServers is empty.
func defaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

// WebRTCOpener builds sessions around a single pion PeerConnection.
// Unlike TCPOpener/WSOpener it requires out-of-band SDP/ICE exchange
// (typically relayed by the discovery service), so callers drive the
// handshake through Offer/Answer/AddICECandidate rather than through
// Open directly.
type WebRTCOpener struct {
	ICEServers []webrtc.ICEServer
}

func (o WebRTCOpener) iceServers() []webrtc.ICEServer {
	if len(o.ICEServers) > 0 {
		return o.ICEServers
	}
	return defaultICEServers()
}

// PeerSession is a WebRTC data-channel Session together with the SDP
// exchange needed to establish it.
type PeerSession struct {
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel
	role Role
	ev   Events

	queue  *sendQueue
	notify chan struct{}

	mu        sync.Mutex
	dcOpen    bool
	onICE     func(candidate string)

	closeOnce sync.Once
	closed    chan struct{}
}

// Offer creates a peer connection as the initiator: adds the data
// channel, gathers ICE candidates, and returns the local SDP offer to
// hand to the discovery service's relay_sdp.
func (o WebRTCOpener) Offer(ctx context.Context, ev Events, onICE func(candidate string)) (*PeerSession, string, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: o.iceServers()})
	if err != nil {
		return nil, "", fmt.Errorf("transport: webrtc new peer connection: %w", err)
	}

	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("transport: webrtc create data channel: %w", err)
	}

	s := newPeerSession(pc, dc, RoleInitiator, ev, onICE)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		s.Close(ReasonHandshakeFailed)
		return nil, "", fmt.Errorf("transport: webrtc create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		s.Close(ReasonHandshakeFailed)
		return nil, "", fmt.Errorf("transport: webrtc set local description: %w", err)
	}
	if err := waitGatherComplete(ctx, pc); err != nil {
		s.Close(ReasonHandshakeFailed)
		return nil, "", err
	}

	ld := pc.LocalDescription()
	return s, ld.SDP, nil
}

// Answer creates a peer connection as the responder to a remote offer,
// returning the local SDP answer.
func (o WebRTCOpener) Answer(ctx context.Context, remoteSDP string, ev Events, onICE func(candidate string)) (*PeerSession, string, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: o.iceServers()})
	if err != nil {
		return nil, "", fmt.Errorf("transport: webrtc new peer connection: %w", err)
	}

	s := newPeerSession(pc, nil, RoleResponder, ev, onICE)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataChannelLabel {
			return
		}
		s.attachDataChannel(dc)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: remoteSDP}); err != nil {
		s.Close(ReasonHandshakeFailed)
		return nil, "", fmt.Errorf("transport: webrtc set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		s.Close(ReasonHandshakeFailed)
		return nil, "", fmt.Errorf("transport: webrtc create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		s.Close(ReasonHandshakeFailed)
		return nil, "", fmt.Errorf("transport: webrtc set local description: %w", err)
	}
	if err := waitGatherComplete(ctx, pc); err != nil {
		s.Close(ReasonHandshakeFailed)
		return nil, "", err
	}

	ld := pc.LocalDescription()
	return s, ld.SDP, nil
}

func waitGatherComplete(ctx context.Context, pc *webrtc.PeerConnection) error {
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	timer := time.NewTimer(iceGatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
		return nil
	case <-timer.C:
		return fmt.Errorf("transport: webrtc ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetRemoteAnswer completes the initiator's side once the responder's
// SDP answer arrives via relay_sdp.
func (s *PeerSession) SetRemoteAnswer(sdp string) error {
	return s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

// AddICECandidate feeds a remote candidate relayed via relay_ice.
func (s *PeerSession) AddICECandidate(candidate string) error {
	return s.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

func newPeerSession(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, role Role, ev Events, onICE func(candidate string)) *PeerSession {
	s := &PeerSession{
		pc:     pc,
		role:   role,
		ev:     ev,
		queue:  newSendQueue(DefaultSendBudget),
		notify: make(chan struct{}, 1),
		onICE:  onICE,
		closed: make(chan struct{}),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || s.onICE == nil {
			return
		}
		s.onICE(c.ToJSON().Candidate)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			s.Close(ReasonIOError)
		}
	})

	if dc != nil {
		s.attachDataChannel(dc)
	}
	return s
}

func (s *PeerSession) attachDataChannel(dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.dc = dc
	s.mu.Unlock()

	dc.OnOpen(func() {
		s.mu.Lock()
		s.dcOpen = true
		s.mu.Unlock()
		if s.ev.OnOpen != nil {
			s.ev.OnOpen()
		}
		go s.drainLoop()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if s.ev.OnRecv != nil {
			s.ev.OnRecv(msg.Data)
		}
	})
	dc.OnClose(func() {
		s.Close(ReasonPeerClosed)
	})
}

func (s *PeerSession) Role() Role { return s.role }

func (s *PeerSession) Send(b []byte) SendResult {
	select {
	case <-s.closed:
		return Closed
	default:
	}
	if !s.queue.push(b) {
		return WouldBlock
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return Sent
}

func (s *PeerSession) Close(reason ClosedReason) {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.pc.Close()
		if s.ev.OnClosed != nil {
			s.ev.OnClosed(reason)
		}
	})
}

// drainLoop pushes queued bytes to the data channel as they arrive.
// pion's DataChannel.Send is itself non-blocking (backed by the SCTP
// association's own buffering), so this loop only needs to watch our
// own sendQueue watermark, not pion's internal buffer.
func (s *PeerSession) drainLoop() {
	for {
		select {
		case <-s.closed:
			return
		case <-s.notify:
			for {
				chunk := s.queue.pop()
				if chunk == nil {
					break
				}
				s.mu.Lock()
				dc := s.dc
				open := s.dcOpen
				s.mu.Unlock()
				if !open || dc == nil {
					continue
				}
				if err := dc.Send(chunk); err != nil {
					log.Warn("webrtc data channel send failed", "error", err)
					s.Close(ReasonIOError)
					return
				}
				if s.queue.crossedLowWatermark() && s.ev.OnWritable != nil {
					s.ev.OnWritable()
				}
			}
		}
	}
}
