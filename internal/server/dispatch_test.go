package server

import (
	"encoding/json"
	"testing"

	"github.com/ascii-chat/ascii-chat/internal/wire"
)

func newTestClient() (*ServerContext, *Client) {
	sc := &ServerContext{}
	c := NewClient(1, "fp", nopSession{}, nil)
	return sc, c
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestOnPacketStreamStartUpdatesClientState(t *testing.T) {
	sc, c := newTestClient()
	payload := mustMarshal(t, StreamStartWire{
		DisplayName:  "alice",
		TerminalW:    80,
		TerminalH:    24,
		ColorCaps:    3,
		AudioEnabled: true,
		VideoEnabled: true,
	})

	closeSession := sc.onPacket(c, &wire.Packet{Kind: wire.KindStreamStart}, payload)
	if closeSession {
		t.Fatalf("STREAM_START should not request a session close")
	}

	w, h := c.TerminalSize()
	if w != 80 || h != 24 {
		t.Fatalf("expected terminal size (80, 24), got (%d, %d)", w, h)
	}
	if c.DisplayName() != "alice" {
		t.Fatalf("expected display name alice, got %q", c.DisplayName())
	}
	if !c.VideoEnabled() || !c.AudioEnabled() {
		t.Fatalf("expected video and audio enabled after STREAM_START")
	}
}

func TestOnPacketControlTogglesMute(t *testing.T) {
	sc, c := newTestClient()
	muteVideo := true
	payload := mustMarshal(t, ControlWire{MuteVideo: &muteVideo})

	sc.onPacket(c, &wire.Packet{Kind: wire.KindControl}, payload)

	if !c.MuteVideo() {
		t.Fatalf("expected MuteVideo to be set from CONTROL")
	}
	if c.MuteAudio() {
		t.Fatalf("expected MuteAudio to be untouched by a CONTROL that only sets MuteVideo")
	}
}

func TestOnPacketGoodbyeRequestsClose(t *testing.T) {
	sc, c := newTestClient()
	if !sc.onPacket(c, &wire.Packet{Kind: wire.KindGoodbye}, nil) {
		t.Fatalf("GOODBYE should request a session close")
	}
}

func TestOnPacketUnexpectedKindRequestsClose(t *testing.T) {
	sc, c := newTestClient()
	if !sc.onPacket(c, &wire.Packet{Kind: wire.KindHello}, nil) {
		t.Fatalf("a post-handshake HELLO should request a session close")
	}
}

func TestOnPacketMalformedStreamStartRequestsClose(t *testing.T) {
	sc, c := newTestClient()
	if !sc.onPacket(c, &wire.Packet{Kind: wire.KindStreamStart}, []byte("not json")) {
		t.Fatalf("a malformed STREAM_START should request a session close")
	}
}

func TestOnPacketMalformedImageFrameDropsWithoutClosing(t *testing.T) {
	sc, c := newTestClient()
	if sc.onPacket(c, &wire.Packet{Kind: wire.KindImageFrame}, []byte("not json")) {
		t.Fatalf("a malformed IMAGE_FRAME should drop the frame, not close the session")
	}
	if c.LatestVideoFrame() != nil {
		t.Fatalf("expected no video frame recorded from malformed payload")
	}
}
