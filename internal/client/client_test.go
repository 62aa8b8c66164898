package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ascii-chat/ascii-chat/internal/crypto"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestColorCapsFor(t *testing.T) {
	assert.Equal(t, int32(3), colorCapsFor("truecolor"))
	assert.Equal(t, int32(2), colorCapsFor("256"))
	assert.Equal(t, int32(1), colorCapsFor("8"))
	assert.Equal(t, int32(0), colorCapsFor("none"))
}

func TestTrustDecisionFor(t *testing.T) {
	assert.Equal(t, crypto.TrustAcceptOnce, trustDecisionFor("accept-once"))
	assert.Equal(t, crypto.TrustAcceptAndPin, trustDecisionFor("accept-and-pin"))
	assert.Equal(t, crypto.TrustRefuse, trustDecisionFor("refuse"))
	assert.Equal(t, crypto.TrustRefuse, trustDecisionFor(""))
}

func TestSessionStringPatternMatchesThreeWords(t *testing.T) {
	assert.True(t, sessionStringPattern.MatchString("quiet-maple-heron"))
	assert.False(t, sessionStringPattern.MatchString("example.com:7777"))
	assert.False(t, sessionStringPattern.MatchString("ws://example.com/ws"))
	assert.False(t, sessionStringPattern.MatchString("two-words"))
}

func TestNewClientStartsDisconnected(t *testing.T) {
	c := New(Options{})
	assert.Equal(t, StateDisconnected, c.State())
}
