package server

import (
	"encoding/json"

	"github.com/ascii-chat/ascii-chat/internal/mixer"
	"github.com/ascii-chat/ascii-chat/internal/wire"
)

// onPacket dispatches one decrypted, authenticated packet by kind. It
// returns true if the caller should close the session: GOODBYE, a
// malformed STREAM_START, or a kind not expected after the handshake.
// Malformed IMAGE_FRAME, AUDIO_FRAME and CONTROL payloads are dropped
// and the session stays open.
func (sc *ServerContext) onPacket(c *Client, pkt *wire.Packet, plaintext []byte) bool {
	c.Touch()
	c.Stats.PacketsIn.Add(1)

	switch pkt.Kind {
	case wire.KindStreamStart:
		var m StreamStartWire
		if err := json.Unmarshal(plaintext, &m); err != nil {
			log.Warn("malformed STREAM_START", "clientId", c.ClientID(), "error", err)
			return true
		}
		c.displayName.Store(m.DisplayName)
		c.terminalW.Store(m.TerminalW)
		c.terminalH.Store(m.TerminalH)
		c.colorCaps.Store(m.ColorCaps)
		c.audioEnabled.Store(m.AudioEnabled)
		c.videoEnabled.Store(m.VideoEnabled)

	case wire.KindStreamStop:
		c.audioEnabled.Store(false)
		c.videoEnabled.Store(false)

	case wire.KindImageFrame:
		var m ImageFrameWire
		if err := json.Unmarshal(plaintext, &m); err != nil {
			log.Debug("dropping malformed IMAGE_FRAME", "clientId", c.ClientID(), "error", err)
			return false
		}
		c.SetVideoFrame(&mixer.VideoFrame{
			Width:     int(m.Width),
			Height:    int(m.Height),
			Pixels:    m.Pixels,
			CaptureNS: m.CaptureNS,
		})

	case wire.KindAudioFrame:
		var m AudioFrameWire
		if err := json.Unmarshal(plaintext, &m); err != nil {
			log.Debug("dropping malformed AUDIO_FRAME", "clientId", c.ClientID(), "error", err)
			return false
		}
		c.PushAudioFrame(&mixer.AudioFrame{
			SampleRateHz: int(m.SampleRateHz),
			Channels:     int(m.Channels),
			Samples:      m.Samples,
			CaptureNS:    m.CaptureNS,
		})

	case wire.KindControl:
		var m ControlWire
		if err := json.Unmarshal(plaintext, &m); err != nil {
			log.Debug("dropping malformed CONTROL", "clientId", c.ClientID(), "error", err)
			return false
		}
		if m.TerminalW != nil {
			c.terminalW.Store(*m.TerminalW)
		}
		if m.TerminalH != nil {
			c.terminalH.Store(*m.TerminalH)
		}
		if m.MuteAudio != nil {
			c.muteAudio.Store(*m.MuteAudio)
		}
		if m.MuteVideo != nil {
			c.muteVideo.Store(*m.MuteVideo)
		}
		if m.DisplayName != nil {
			c.displayName.Store(*m.DisplayName)
		}

	case wire.KindHeartbeat:
		// Touch() above already recorded this.

	case wire.KindGoodbye:
		return true

	default:
		log.Warn("unexpected packet kind post-handshake", "clientId", c.ClientID(), "kind", pkt.Kind)
		return true
	}
	return false
}

// sendHeartbeat sends a HEARTBEAT to c, best-effort.
func (sc *ServerContext) sendHeartbeat(c *Client) {
	blob := encodeSealed(c.Stream, wire.KindHeartbeat, c.ClientID(), c.nextSendSeq(), nil)
	c.Session.Send(blob)
}
