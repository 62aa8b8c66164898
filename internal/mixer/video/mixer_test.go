package video

import (
	"testing"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/mixer"
	"github.com/ascii-chat/ascii-chat/internal/transport"
)

// fakePeer is a minimal mixer.Peer double for exercising the compose
// path without a real registry/session.
type fakePeer struct {
	id        uint32
	joinedAt  time.Time
	w, h      int
	caps      mixer.ColorCaps
	video     bool
	muteVideo bool
	frame     *mixer.VideoFrame
	audio     bool
	muteAudio bool
	aframe    *mixer.AudioFrame

	sent [][]byte
}

func (p *fakePeer) ClientID() uint32                    { return p.id }
func (p *fakePeer) JoinedAt() time.Time                 { return p.joinedAt }
func (p *fakePeer) TerminalSize() (int, int)            { return p.w, p.h }
func (p *fakePeer) ColorCapability() mixer.ColorCaps    { return p.caps }
func (p *fakePeer) VideoEnabled() bool                  { return p.video }
func (p *fakePeer) MuteVideo() bool                     { return p.muteVideo }
func (p *fakePeer) LatestVideoFrame() *mixer.VideoFrame { return p.frame }
func (p *fakePeer) AudioEnabled() bool                  { return p.audio }
func (p *fakePeer) MuteAudio() bool                     { return p.muteAudio }
func (p *fakePeer) LatestAudioFrame() *mixer.AudioFrame { return p.aframe }
func (p *fakePeer) SendImageFrame(payload []byte) transport.SendResult {
	p.sent = append(p.sent, payload)
	return transport.Sent
}
func (p *fakePeer) SendAudioFrame(payload []byte) transport.SendResult {
	return transport.Sent
}

func solidFrame(w, h int, r, g, b byte) *mixer.VideoFrame {
	pixels := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		pixels[i*3], pixels[i*3+1], pixels[i*3+2] = r, g, b
	}
	return &mixer.VideoFrame{Width: w, Height: h, Pixels: pixels}
}

func TestGridDimsPrefersAspectMatchOverBareColumnCount(t *testing.T) {
	// A wide viewport (16x9-ish) with 4 sources should not collapse to
	// a single row of 4; two rows of two is both zero-waste and closer
	// to the viewport's aspect ratio.
	rows, cols := gridDims(4, 160, 90)
	if rows != 2 || cols != 2 {
		t.Fatalf("gridDims(4, 160, 90) = (%d, %d), want (2, 2)", rows, cols)
	}
}

func TestGridDimsSingleSource(t *testing.T) {
	rows, cols := gridDims(1, 80, 24)
	if rows != 1 || cols != 1 {
		t.Fatalf("gridDims(1, ...) = (%d, %d), want (1, 1)", rows, cols)
	}
}

func TestGridDimsZeroSources(t *testing.T) {
	rows, cols := gridDims(0, 80, 24)
	if rows != 1 || cols != 1 {
		t.Fatalf("gridDims(0, ...) = (%d, %d), want (1, 1)", rows, cols)
	}
}

func TestGridDimsTallViewportPrefersMoreRows(t *testing.T) {
	// A tall viewport with 6 sources: among the zero-waste candidates
	// (1,6), (2,3), (3,2), (6,1), the one whose cols/rows ratio lands
	// closest to the viewport's own 20/60 ratio is (6,1), a single
	// column — not the square-ish (2,3) a column-count-only tie-break
	// would have picked.
	rows, cols := gridDims(6, 20, 60)
	if rows != 6 || cols != 1 {
		t.Fatalf("gridDims(6, 20, 60) = (%d, %d), want (6, 1)", rows, cols)
	}
}

func TestComposeForSkipsSendOnZeroTerminalSize(t *testing.T) {
	m := NewMixer(Options{}, nil)
	recipient := &fakePeer{id: 1, w: 0, h: 0, video: true}
	source := &fakePeer{id: 2, video: true, frame: solidFrame(4, 4, 200, 0, 0)}

	m.composeFor(recipient, []mixer.Peer{recipient, source})

	if len(recipient.sent) != 0 {
		t.Fatalf("expected no frame sent to a recipient with 0x0 terminal size, got %d", len(recipient.sent))
	}
}

func TestComposeForSkipsSendOnNegativeTerminalSize(t *testing.T) {
	m := NewMixer(Options{}, nil)
	recipient := &fakePeer{id: 1, w: -1, h: 24, video: true}

	m.composeFor(recipient, []mixer.Peer{recipient})

	if len(recipient.sent) != 0 {
		t.Fatalf("expected no frame sent to a recipient with a negative terminal dimension")
	}
}

func TestComposeForSendsOncePositiveSizeArrives(t *testing.T) {
	m := NewMixer(Options{}, nil)
	recipient := &fakePeer{id: 1, w: 8, h: 4, video: true}

	m.composeFor(recipient, []mixer.Peer{recipient})

	if len(recipient.sent) != 1 {
		t.Fatalf("expected exactly one frame sent, got %d", len(recipient.sent))
	}
}

func TestVisibleSourcesExcludesRecipient(t *testing.T) {
	recipient := &fakePeer{id: 1, video: true}
	other := &fakePeer{id: 2, video: true}
	peers := []mixer.Peer{recipient, other}

	sources := visibleSources(recipient, peers)
	if len(sources) != 1 || sources[0].ClientID() != 2 {
		t.Fatalf("expected visibleSources to exclude the recipient, got %v", sources)
	}
}

func TestVisibleSourcesExcludesVideoDisabled(t *testing.T) {
	recipient := &fakePeer{id: 1, video: true}
	disabled := &fakePeer{id: 2, video: false}
	peers := []mixer.Peer{recipient, disabled}

	sources := visibleSources(recipient, peers)
	if len(sources) != 0 {
		t.Fatalf("expected a video-disabled peer to be excluded, got %v", sources)
	}
}

func TestVisibleSourcesKeepsMutedPeerInLayout(t *testing.T) {
	recipient := &fakePeer{id: 1, video: true}
	muted := &fakePeer{id: 2, video: true, muteVideo: true}
	peers := []mixer.Peer{recipient, muted}

	sources := visibleSources(recipient, peers)
	if len(sources) != 1 || sources[0].ClientID() != 2 {
		t.Fatalf("expected a muted source to keep its slot, got %v", sources)
	}
}

// zero sources still produces a stable, fully blank grid.
func TestRenderGridZeroSourcesBlank(t *testing.T) {
	m := NewMixer(Options{}, nil)
	out := m.renderGrid(4, 2, nil, mixer.ColorNone)

	for _, r := range string(out) {
		if r != ' ' && r != '\n' {
			t.Fatalf("expected a blank grid with no sources, found rune %q in %q", r, out)
		}
	}
}

// the lone visible source in a one-source grid is the recipient itself
// once self-exclusion runs, which must still render a stable blank
// grid rather than a one-tile grid of the recipient's own frame.
func TestRenderGridOneSourceIsRecipientBlank(t *testing.T) {
	recipient := &fakePeer{id: 1, video: true, frame: solidFrame(2, 2, 9, 9, 9)}
	sources := visibleSources(recipient, []mixer.Peer{recipient})
	if len(sources) != 0 {
		t.Fatalf("expected no visible sources when the recipient is the only peer")
	}

	m := NewMixer(Options{}, nil)
	out := m.renderGrid(4, 2, sources, mixer.ColorNone)
	for _, r := range string(out) {
		if r != ' ' && r != '\n' {
			t.Fatalf("expected a blank grid, found rune %q in %q", r, out)
		}
	}
}

func TestRenderGridMutedSourceRendersPlaceholder(t *testing.T) {
	muted := &fakePeer{id: 2, video: true, muteVideo: true, frame: solidFrame(2, 2, 255, 255, 255)}
	m := NewMixer(Options{}, nil)

	out := m.renderGrid(2, 2, []mixer.Peer{muted}, mixer.ColorNone)

	found := false
	for _, r := range string(out) {
		if r == noSignalGlyph {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a muted source's tile to render the no-signal placeholder, got %q", out)
	}
}

func TestComposeForIsIdempotentAtSteadyState(t *testing.T) {
	m := NewMixer(Options{}, nil)
	recipient := &fakePeer{id: 1, w: 8, h: 4, video: true}
	source := &fakePeer{id: 2, video: true, frame: solidFrame(4, 4, 50, 60, 70)}
	peers := []mixer.Peer{recipient, source}

	m.composeFor(recipient, peers)
	m.composeFor(recipient, peers)

	if len(recipient.sent) != 2 {
		t.Fatalf("expected two sends, got %d", len(recipient.sent))
	}
	if string(recipient.sent[0]) != string(recipient.sent[1]) {
		t.Fatalf("expected identical output frames for an unchanged source at steady state")
	}
}
