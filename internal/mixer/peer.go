// Package mixer declares the narrow view of a connected client that the
// video and audio mixers need, so neither mixer subpackage has to import
// internal/server (which in turn owns and constructs both mixers) — this
// interface is what breaks that cycle.
package mixer

import (
	"time"

	"github.com/ascii-chat/ascii-chat/internal/transport"
)

// ColorCaps mirrors the recipient's declared rendering capability from
// STREAM_START.
type ColorCaps int32

const (
	ColorNone ColorCaps = iota
	Color8
	Color256
	ColorTrue
)

// VideoFrame is a source's latest decoded frame, or a DecodeFailed
// placeholder that the video mixer renders as a no-signal tile.
type VideoFrame struct {
	Width, Height int
	Pixels        []byte // packed RGB, Width*Height*3
	CaptureNS     int64
	DecodeFailed  bool
}

// AudioFrame is one window from a source's audio ring.
type AudioFrame struct {
	SampleRateHz int
	Channels     int
	Samples      []float32
	CaptureNS    int64
}

// Peer is the mixer's view of one registered client: both a possible
// video/audio source and a possible recipient of the mixed output.
type Peer interface {
	ClientID() uint32
	JoinedAt() time.Time
	TerminalSize() (w, h int)
	ColorCapability() ColorCaps

	VideoEnabled() bool
	MuteVideo() bool
	LatestVideoFrame() *VideoFrame

	AudioEnabled() bool
	MuteAudio() bool
	LatestAudioFrame() *AudioFrame

	// SendImageFrame/SendAudioFrame encode, seal, and enqueue one mixed
	// output frame to this peer, updating its own backpressure
	// tracking from the result.
	SendImageFrame(payload []byte) transport.SendResult
	SendAudioFrame(payload []byte) transport.SendResult
}

// PeerSource is a snapshot-only view of the registry: a read-lock-scoped
// copy of handles, never held across I/O.
type PeerSource interface {
	Peers() []Peer
}
