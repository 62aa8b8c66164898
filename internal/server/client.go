package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/crypto"
	"github.com/ascii-chat/ascii-chat/internal/mixer"
	"github.com/ascii-chat/ascii-chat/internal/transport"
	"github.com/ascii-chat/ascii-chat/internal/wire"
)

// EvictReason explains why a client record was removed from the registry.
type EvictReason int

const (
	EvictSlowConsumer EvictReason = iota
	EvictHeartbeatTimeout
	EvictProtocolViolation
	EvictBadAuth
	EvictShutdown
)

func (r EvictReason) String() string {
	switch r {
	case EvictSlowConsumer:
		return "slow_consumer"
	case EvictHeartbeatTimeout:
		return "heartbeat_timeout"
	case EvictProtocolViolation:
		return "protocol_violation"
	case EvictBadAuth:
		return "bad_auth"
	case EvictShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

const audioRingSize = 4

// Client is the server-side record for one connected participant. It owns
// a single-slot video mailbox (single writer: that client's ingest path;
// multiple readers: mixer ticks) and a short audio ring, one record per
// connection with its own mutex.
// It also implements mixer.Peer so the video/audio mixers can treat it as
// both a source and a recipient without importing this package.
type Client struct {
	id          uint32
	displayName atomic.Value // string
	Fingerprint string
	Session     transport.Session
	Stream      *crypto.Stream // this direction's send stream
	Reassembler *wire.Reassembler

	joinedAt time.Time

	terminalW atomic.Int32
	terminalH atomic.Int32
	colorCaps atomic.Int32

	audioEnabled atomic.Bool
	videoEnabled atomic.Bool
	muteAudio    atomic.Bool
	muteVideo    atomic.Bool

	lastHeartbeat atomic.Int64 // unix nano

	mu        sync.RWMutex
	videoSlot *mixer.VideoFrame
	audioRing []*mixer.AudioFrame
	audioNext int

	QueueHighSince atomic.Int64 // unix nano, zero when not currently high
	sendSeq        atomic.Uint32

	Stats Stats
}

// Stats accumulates per-client counters surfaced in SESSION_REJECT / metrics.
type Stats struct {
	PacketsIn      atomic.Uint64
	PacketsOut     atomic.Uint64
	FramesDropped  atomic.Uint64
	EvictionReason atomic.Int32 // EvictReason + 1, 0 = not evicted
}

// NewClient creates a client record in its default (video+audio enabled,
// uncolored) state; callers set capabilities from STREAM_START.
func NewClient(id uint32, fingerprint string, sess transport.Session, sendStream *crypto.Stream) *Client {
	c := &Client{
		id:          id,
		Fingerprint: fingerprint,
		Session:     sess,
		Stream:      sendStream,
		Reassembler: wire.NewReassembler(),
		joinedAt:    time.Now(),
		audioRing:   make([]*mixer.AudioFrame, audioRingSize),
	}
	c.displayName.Store("")
	c.audioEnabled.Store(true)
	c.videoEnabled.Store(true)
	c.lastHeartbeat.Store(time.Now().UnixNano())
	return c
}

// ClientID returns this client's server-assigned, never-reused id.
func (c *Client) ClientID() uint32 { return c.id }

// JoinedAt returns when this client completed registration; the video
// mixer assigns tiles in this stable order.
func (c *Client) JoinedAt() time.Time { return c.joinedAt }

// TerminalSize returns the recipient's last-declared viewport size.
func (c *Client) TerminalSize() (int, int) {
	return int(c.terminalW.Load()), int(c.terminalH.Load())
}

// ColorCapability returns the recipient's declared rendering capability.
func (c *Client) ColorCapability() mixer.ColorCaps { return mixer.ColorCaps(c.colorCaps.Load()) }

func (c *Client) VideoEnabled() bool { return c.videoEnabled.Load() }
func (c *Client) MuteVideo() bool    { return c.muteVideo.Load() }
func (c *Client) AudioEnabled() bool { return c.audioEnabled.Load() }
func (c *Client) MuteAudio() bool    { return c.muteAudio.Load() }

// DisplayName returns the client's last-declared display name.
func (c *Client) DisplayName() string {
	v, _ := c.displayName.Load().(string)
	return v
}

// SendImageFrame seals and enqueues one mixed IMAGE_FRAME for this client.
func (c *Client) SendImageFrame(payload []byte) transport.SendResult {
	return c.sendSealed(wire.KindImageFrame, payload)
}

// SendAudioFrame seals and enqueues one mixed AUDIO_FRAME for this client.
func (c *Client) SendAudioFrame(payload []byte) transport.SendResult {
	return c.sendSealed(wire.KindAudioFrame, payload)
}

func (c *Client) sendSealed(kind wire.Kind, payload []byte) transport.SendResult {
	blob := encodeSealed(c.Stream, kind, c.id, c.nextSendSeq(), payload)
	result := c.Session.Send(blob)
	c.recordSendResult(result)
	return result
}

func (c *Client) recordSendResult(result transport.SendResult) {
	switch result {
	case transport.WouldBlock:
		if c.QueueHighSince.Load() == 0 {
			c.QueueHighSince.Store(time.Now().UnixNano())
		}
		c.Stats.FramesDropped.Add(1)
	case transport.Sent:
		c.QueueHighSince.Store(0)
		c.Stats.PacketsOut.Add(1)
	case transport.Closed:
	}
}

// nextSendSeq returns the next outbound sequence number for this client's
// direction.
func (c *Client) nextSendSeq() uint32 {
	return c.sendSeq.Add(1)
}

// Touch records that a packet (any kind) was received from this client.
func (c *Client) Touch() {
	c.lastHeartbeat.Store(time.Now().UnixNano())
}

// IdleDuration returns how long it has been since the last received packet.
func (c *Client) IdleDuration() time.Duration {
	return time.Since(time.Unix(0, c.lastHeartbeat.Load()))
}

// SetVideoFrame installs the latest decoded video frame, replacing any
// prior one; this is deliberately lossy (freshness over completeness,
// the slow-consumer grace window).
func (c *Client) SetVideoFrame(f *mixer.VideoFrame) {
	c.mu.Lock()
	c.videoSlot = f
	c.mu.Unlock()
}

// LatestVideoFrame returns the current video slot, or nil if no frame has
// arrived yet.
func (c *Client) LatestVideoFrame() *mixer.VideoFrame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.videoSlot
}

// PushAudioFrame appends to the fixed-size audio ring, overwriting the
// oldest window once full.
func (c *Client) PushAudioFrame(f *mixer.AudioFrame) {
	c.mu.Lock()
	c.audioRing[c.audioNext] = f
	c.audioNext = (c.audioNext + 1) % audioRingSize
	c.mu.Unlock()
}

// LatestAudioFrame returns the most recently pushed audio window, or nil.
func (c *Client) LatestAudioFrame() *mixer.AudioFrame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := (c.audioNext - 1 + audioRingSize) % audioRingSize
	return c.audioRing[idx]
}

// HasRecentFrame reports whether the video slot holds a frame captured
// within the last maxAge. The mixers do not call it; they render
// whatever frame the slot holds.
func (c *Client) HasRecentFrame(maxAge time.Duration) bool {
	f := c.LatestVideoFrame()
	if f == nil {
		return false
	}
	return time.Since(time.Unix(0, f.CaptureNS)) <= maxAge
}
