package audio

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/mixer"
	"github.com/ascii-chat/ascii-chat/internal/transport"
)

type fakePeer struct {
	id        uint32
	audio     bool
	muteAudio bool
	aframe    *mixer.AudioFrame

	sent [][]byte
}

func (p *fakePeer) ClientID() uint32                    { return p.id }
func (p *fakePeer) JoinedAt() time.Time                 { return time.Time{} }
func (p *fakePeer) TerminalSize() (int, int)            { return 80, 24 }
func (p *fakePeer) ColorCapability() mixer.ColorCaps    { return mixer.ColorNone }
func (p *fakePeer) VideoEnabled() bool                  { return false }
func (p *fakePeer) MuteVideo() bool                     { return false }
func (p *fakePeer) LatestVideoFrame() *mixer.VideoFrame { return nil }
func (p *fakePeer) AudioEnabled() bool                  { return p.audio }
func (p *fakePeer) MuteAudio() bool                     { return p.muteAudio }
func (p *fakePeer) LatestAudioFrame() *mixer.AudioFrame { return p.aframe }
func (p *fakePeer) SendImageFrame(payload []byte) transport.SendResult {
	return transport.Sent
}
func (p *fakePeer) SendAudioFrame(payload []byte) transport.SendResult {
	p.sent = append(p.sent, payload)
	return transport.Sent
}

func constFrame(n int, v float32) *mixer.AudioFrame {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return &mixer.AudioFrame{SampleRateHz: 48000, Channels: 1, Samples: samples}
}

func TestComposeForExcludesRecipientsOwnFrame(t *testing.T) {
	m := NewMixer(Options{WindowMs: 20}, nil)
	recipient := &fakePeer{id: 1, audio: true, aframe: constFrame(960, 0.9)}

	m.composeFor(recipient, []mixer.Peer{recipient})

	if len(recipient.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(recipient.sent))
	}
	payload := mustDecodeAudioFrame(t, recipient.sent[0])
	for i, s := range payload.Samples {
		if s != 0 {
			t.Fatalf("expected silence when the only audible peer is the recipient itself, sample %d = %v", i, s)
		}
	}
}

func TestComposeForExcludesMutedSource(t *testing.T) {
	m := NewMixer(Options{WindowMs: 20}, nil)
	recipient := &fakePeer{id: 1, audio: true}
	muted := &fakePeer{id: 2, audio: true, muteAudio: true, aframe: constFrame(960, 0.5)}

	m.composeFor(recipient, []mixer.Peer{recipient, muted})

	payload := mustDecodeAudioFrame(t, recipient.sent[0])
	for i, s := range payload.Samples {
		if s != 0 {
			t.Fatalf("expected a muted source to contribute silence, sample %d = %v", i, s)
		}
	}
}

func TestComposeForMissingFrameContributesSilence(t *testing.T) {
	m := NewMixer(Options{WindowMs: 20}, nil)
	recipient := &fakePeer{id: 1, audio: true}
	noFrameYet := &fakePeer{id: 2, audio: true, aframe: nil}

	m.composeFor(recipient, []mixer.Peer{recipient, noFrameYet})

	payload := mustDecodeAudioFrame(t, recipient.sent[0])
	for i, s := range payload.Samples {
		if s != 0 {
			t.Fatalf("expected silence from a source with no frame yet, sample %d = %v", i, s)
		}
	}
}

func TestComposeForSumsTwoSources(t *testing.T) {
	m := NewMixer(Options{WindowMs: 20}, nil)
	recipient := &fakePeer{id: 1, audio: true}
	a := &fakePeer{id: 2, audio: true, aframe: constFrame(960, 0.1)}
	b := &fakePeer{id: 3, audio: true, aframe: constFrame(960, 0.1)}

	m.composeFor(recipient, []mixer.Peer{recipient, a, b})

	payload := mustDecodeAudioFrame(t, recipient.sent[0])
	want := float32(0.2)
	for i, s := range payload.Samples {
		if diff := s - want; diff > 1e-4 || diff < -1e-4 {
			t.Fatalf("expected summed sample %v at index %d, got %v", want, i, s)
		}
	}
}

func TestSoftLimitClampsAboveThreshold(t *testing.T) {
	samples := []float32{0.95, -0.95, 0.5}
	softLimit(samples, 0.891)

	for i, s := range samples {
		if s > 1 || s < -1 {
			t.Fatalf("sample %d = %v exceeds [-1, 1] after soft limiting", i, s)
		}
	}
	if samples[2] != 0.5 {
		t.Fatalf("expected a sample under threshold to pass through unchanged, got %v", samples[2])
	}
}

func TestDownmixToMonoAverages(t *testing.T) {
	stereo := []float32{1.0, 0.0, 0.5, 0.5}
	mono := downmixToMono(stereo, 2)
	if len(mono) != 2 {
		t.Fatalf("expected 2 mono samples, got %d", len(mono))
	}
	if mono[0] != 0.5 || mono[1] != 0.5 {
		t.Fatalf("expected averaged channels [0.5 0.5], got %v", mono)
	}
}

func mustDecodeAudioFrame(t *testing.T, payload []byte) audioFrameWire {
	t.Helper()
	var out audioFrameWire
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("decode audio frame payload: %v", err)
	}
	return out
}
