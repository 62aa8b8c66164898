// Package client implements the connecting side of ascii-chat: endpoint
// resolution (direct address or discovery session string), the
// initiator half of the crypto handshake, capability negotiation, and
// the capture/render/input task fan-out that drives a terminal session.
package client

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ascii-chat/ascii-chat/internal/config"
	"github.com/ascii-chat/ascii-chat/internal/crypto"
	"github.com/ascii-chat/ascii-chat/internal/logging"
	"github.com/ascii-chat/ascii-chat/internal/transport"
	"github.com/ascii-chat/ascii-chat/internal/wire"
)

var log = logging.L("client")

// State is the client connection state machine.
type State int32

const (
	StateDisconnected State = iota
	StateResolving
	StateHandshaking
	StateAuthenticated
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateResolving:
		return "resolving"
	case StateHandshaking:
		return "handshaking"
	case StateAuthenticated:
		return "authenticated"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// VideoSource is the external collaborator supplying captured video
// frames (e.g. a webcam reader). Implementations return nil when no
// new frame is ready yet; NextFrame must not block indefinitely.
type VideoSource interface {
	NextFrame(ctx context.Context) (width, height int32, pixels []byte, err error)
}

// AudioSource is the external collaborator supplying captured audio
// windows (e.g. a microphone reader).
type AudioSource interface {
	NextWindow(ctx context.Context) (sampleRateHz, channels int32, samples []float32, err error)
}

// Renderer is the external collaborator that draws received video/audio
// frames to the terminal. ANSI rendering is outside this package's
// scope — this is the seam a terminal UI plugs into.
type Renderer interface {
	RenderVideo(width, height int32, pixels []byte)
	RenderAudio(sampleRateHz, channels int32, samples []float32)
}

// InputSource is the external collaborator reporting local terminal
// resize/mute events to send as CONTROL messages.
type InputSource interface {
	// Next blocks until an input event occurs or ctx is canceled.
	Next(ctx context.Context) (ControlEvent, error)
}

// Options configures one client connection.
type Options struct {
	*config.ClientOptions

	Identity    *crypto.Identity
	TrustStore  *crypto.Store
	DisplayName string

	Video    VideoSource
	Audio    AudioSource
	Render   Renderer
	Input    InputSource

	// TCPOpener/WSOpener let a caller substitute a pre-configured
	// Opener (e.g. a WSOpener with auth headers); nil uses the plain
	// default for that scheme. WebRTC connections are not resolved
	// here: transport.WebRTCOpener.Offer/Answer need the two-way
	// SDP/ICE exchange relayed through internal/discovery's relay
	// endpoints, which a caller drives directly and then hands this
	// package the resulting transport.Session via a future Accept-style
	// entry point rather than through resolveEndpoint.
	TCPOpener transport.Opener
	WSOpener  transport.Opener
}

// Client drives one connection's lifecycle, including reconnect.
type Client struct {
	opts Options

	state atomic.Int32

	mu         sync.Mutex
	sess       transport.Session
	sendStream *crypto.Stream
	recvStream *crypto.Stream
	clientID   uint32
	sendSeq    atomic.Uint32

	peerEndpoint string // the resolved address actually dialed, for trust-store keying

	wg       sync.WaitGroup
	frameCh  chan struct{}            // signaled once per received IMAGE_FRAME, for snapshot mode
	closedCh chan transport.ClosedReason // forwards the current connection's closure
}

// New constructs a Client bound to opts. Call Run to drive it.
func New(opts Options) *Client {
	c := &Client{opts: opts}
	c.state.Store(int32(StateDisconnected))
	return c
}

// State returns the client's current state.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	log.Debug("state transition", "state", s.String())
}

// Run connects, negotiates a stream, and drives capture/render/input
// fan-out until ctx is canceled or snapshot mode captures one frame.
// On a connection loss it reconnects with backoff unless opts.Snapshot
// is set, in which case a loss is terminal.
func (c *Client) Run(ctx context.Context) error {
	if c.opts.ClientOptions != nil && c.opts.Snapshot {
		return c.runOnce(ctx)
	}
	return c.runWithReconnect(ctx)
}

func (c *Client) runOnce(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	defer c.Close()
	return c.streamSnapshot(ctx)
}

// connect resolves the endpoint, dials, and completes the handshake and
// STREAM_START negotiation, leaving the client in StateStreaming.
func (c *Client) connect(ctx context.Context) error {
	c.setState(StateResolving)
	resolved, opener, err := c.resolveEndpoint(ctx)
	if err != nil {
		return fmt.Errorf("client: resolve endpoint: %w", err)
	}
	c.peerEndpoint = resolved

	c.frameCh = make(chan struct{}, 1)
	c.closedCh = make(chan transport.ClosedReason, 1)
	cs := newConnState()
	sess, err := opener.Open(ctx, resolved, transport.RoleInitiator, cs.events())
	if err != nil {
		return fmt.Errorf("client: open transport: %w", err)
	}
	cs.sess = sess

	c.setState(StateHandshaking)
	result, peerPub, err := runHandshake(cs, c.opts.Identity, capabilitiesFor(c.opts.ClientOptions), c.opts.Password)
	if err != nil {
		sess.Close(transport.ReasonHandshakeFailed)
		return err
	}

	if err := c.verifyHostIdentity(resolved, peerPub); err != nil {
		sess.Close(transport.ReasonHandshakeFailed)
		return err
	}

	acceptPkt, err := cs.recvPacket(HandshakeTimeout)
	if err != nil {
		return err
	}
	if acceptPkt.Kind != wire.KindSessionAccept {
		sess.Close(transport.ReasonProtocolViolation)
		return rejectionError(acceptPkt.Payload)
	}
	var accept sessionAcceptWire
	if err := json.Unmarshal(acceptPkt.Payload, &accept); err != nil {
		return fmt.Errorf("client: malformed SESSION_ACCEPT: %w", err)
	}

	c.mu.Lock()
	c.sess = sess
	c.sendStream = result.Send
	c.recvStream = result.Recv
	c.clientID = accept.ClientID
	c.mu.Unlock()

	c.setState(StateAuthenticated)

	if err := c.sendStreamStart(); err != nil {
		return err
	}
	c.setState(StateStreaming)
	c.startConnRecvPump(cs)
	return nil
}

func capabilitiesFor(opts *config.ClientOptions) uint32 {
	var caps uint32
	if opts != nil && opts.AudioEnabled {
		caps |= 1
	}
	if opts != nil && opts.VideoEnabled {
		caps |= 2
	}
	return caps
}

func (c *Client) verifyHostIdentity(endpoint string, peerPub ed25519.PublicKey) error {
	if c.opts.TrustStore == nil {
		return nil
	}
	decision := trustDecisionFor(c.opts.TrustOnFirstUse)
	if err := c.opts.TrustStore.Verify(endpoint, peerPub, decision); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	return nil
}

func trustDecisionFor(mode string) crypto.TrustDecision {
	switch mode {
	case "accept-once":
		return crypto.TrustAcceptOnce
	case "accept-and-pin":
		return crypto.TrustAcceptAndPin
	default:
		return crypto.TrustRefuse
	}
}

func (c *Client) sendStreamStart() error {
	payload, err := json.Marshal(streamStartWire{
		DisplayName:  c.opts.DisplayName,
		ColorCaps:    colorCapsFor(c.opts.ColorMode),
		AudioEnabled: c.opts.AudioEnabled,
		VideoEnabled: c.opts.VideoEnabled,
		ImageCodec:   "raw-rgb",
	})
	if err != nil {
		return err
	}
	c.send(wire.KindStreamStart, payload)
	return nil
}

func colorCapsFor(mode string) int32 {
	switch mode {
	case "truecolor":
		return 3
	case "256":
		return 2
	case "8":
		return 1
	default:
		return 0
	}
}

// send seals and transmits one packet on the current session.
func (c *Client) send(kind wire.Kind, payload []byte) {
	c.mu.Lock()
	sess, stream, clientID := c.sess, c.sendStream, c.clientID
	c.mu.Unlock()
	if sess == nil || stream == nil {
		return
	}
	seq := c.sendSeq.Add(1)
	sess.Send(encodeSealed(stream, kind, clientID, seq, payload))
}

// Close sends GOODBYE best-effort and tears down the transport.
func (c *Client) Close() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return
	}
	c.send(wire.KindGoodbye, nil)
	sess.Close(transport.ReasonLocalClose)
	c.setState(StateClosed)
}
