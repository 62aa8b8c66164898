package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/client"
)

// terminalUI is the default VideoSource/AudioSource/Renderer/InputSource
// bundle used by `ascii-chat client`. Capture devices (webcam, mic) are
// outside this module's scope (client.VideoSource/AudioSource are the
// seam a real capture backend plugs into); terminalUI only renders what
// it receives and reports local resize events, matching --snapshot and
// view-only usage.
type terminalUI struct {
	videoEnabled bool
	audioEnabled bool

	lastW atomic.Int32
	lastH atomic.Int32
}

const resizePollInterval = 2 * time.Second

func newTerminalUI(videoEnabled, audioEnabled bool) *terminalUI {
	t := &terminalUI{videoEnabled: videoEnabled, audioEnabled: audioEnabled}
	w, h := t.querySize()
	t.lastW.Store(w)
	t.lastH.Store(h)
	return t
}

// querySize falls back to the POSIX COLUMNS/LINES env vars (set by most
// shells) and finally to 80x24, avoiding a platform-specific ioctl so
// this stays portable across the targets ascii-chat ships on.
func (t *terminalUI) querySize() (int32, int32) {
	w, h := int32(80), int32(24)
	if v, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && v > 0 {
		w = int32(v)
	}
	if v, err := strconv.Atoi(os.Getenv("LINES")); err == nil && v > 0 {
		h = int32(v)
	}
	return w, h
}

// NextFrame never produces a frame: this client has no local video
// capture backend wired in, so it is view-only.
func (t *terminalUI) NextFrame(ctx context.Context) (int32, int32, []byte, error) {
	<-ctx.Done()
	return 0, 0, nil, ctx.Err()
}

// NextWindow mirrors NextFrame: view-only, no microphone capture wired in.
func (t *terminalUI) NextWindow(ctx context.Context) (int32, int32, []float32, error) {
	<-ctx.Done()
	return 0, 0, nil, ctx.Err()
}

func (t *terminalUI) RenderVideo(width, height int32, pixels []byte) {
	if !t.videoEnabled {
		return
	}
	fmt.Fprintf(os.Stdout, "\x1b[H\x1b[2J")
	fmt.Fprintf(os.Stdout, "[frame %dx%d, %d bytes]\n", width, height, len(pixels))
}

func (t *terminalUI) RenderAudio(sampleRateHz, channels int32, samples []float32) {
	// Playback is outside this module's scope; audio frames are
	// acknowledged but not sent to an output device.
}

// Next polls the terminal size and reports a CONTROL event on change,
// keeping control traffic minimal rather than a steady-state heartbeat.
func (t *terminalUI) Next(ctx context.Context) (client.ControlEvent, error) {
	ticker := time.NewTicker(resizePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w, h := t.querySize()
			if w == t.lastW.Load() && h == t.lastH.Load() {
				continue
			}
			t.lastW.Store(w)
			t.lastH.Store(h)
			return client.ControlEvent{TerminalW: ptr(w), TerminalH: ptr(h)}, nil
		case <-ctx.Done():
			return client.ControlEvent{}, ctx.Err()
		}
	}
}

func ptr[T any](v T) *T { return &v }
