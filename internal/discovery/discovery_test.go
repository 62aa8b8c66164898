package discovery

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascii-chat/ascii-chat/internal/crypto"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	id, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	reg := NewRegistry(time.Hour, nil)
	sess, err := reg.Register(id.Public, []string{"203.0.113.5:7777"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SessionString)

	got, err := reg.Lookup(sess.SessionString)
	require.NoError(t, err)
	assert.Equal(t, sess.Endpoints, got.Endpoints)

	// lookups are case-insensitive
	got, err = reg.Lookup(sessionStringUpper(sess.SessionString))
	require.NoError(t, err)
	assert.Equal(t, sess.SessionString, got.SessionString)
}

func sessionStringUpper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'z' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}

func TestRegistryLookupMissing(t *testing.T) {
	reg := NewRegistry(time.Hour, nil)
	_, err := reg.Lookup("no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistryLookupExpired(t *testing.T) {
	id, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	reg := NewRegistry(-time.Second, nil) // already-expired TTL
	sess, err := reg.Register(id.Public, []string{"203.0.113.5:7777"})
	require.NoError(t, err)

	_, err = reg.Lookup(sess.SessionString)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestRegistryRefreshRequiresOwnership(t *testing.T) {
	host, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	impostor, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	reg := NewRegistry(time.Hour, nil)
	sess, err := reg.Register(host.Public, []string{"203.0.113.5:7777"})
	require.NoError(t, err)

	_, err = reg.Refresh(sess.SessionString, impostor.Public)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	refreshed, err := reg.Refresh(sess.SessionString, host.Public)
	require.NoError(t, err)
	assert.True(t, refreshed.ExpiresAt.After(sess.ExpiresAt) || refreshed.ExpiresAt.Equal(sess.ExpiresAt))
}

func TestRegistrySweepRemovesExpired(t *testing.T) {
	id, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	reg := NewRegistry(-time.Second, nil)
	_, err = reg.Register(id.Public, []string{"203.0.113.5:7777"})
	require.NoError(t, err)

	removed := reg.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, reg.Count())
}

func TestRelayPushAndDrainIsDeliveredOnce(t *testing.T) {
	r := newRelay(4)
	err := r.Push("quiet-maple-heron", "peerB", relayMessage{From: "host", Kind: "sdp", Payload: "offer-sdp"})
	require.NoError(t, err)

	msgs := r.Drain("quiet-maple-heron", "peerB")
	require.Len(t, msgs, 1)
	assert.Equal(t, "offer-sdp", msgs[0].Payload)

	assert.Empty(t, r.Drain("quiet-maple-heron", "peerB"))
}

func TestRelayInboxFull(t *testing.T) {
	r := newRelay(2)
	for i := 0; i < 2; i++ {
		require.NoError(t, r.Push("s", "peerB", relayMessage{From: "host", Kind: "ice", Payload: "candidate"}))
	}
	err := r.Push("s", "peerB", relayMessage{From: "host", Kind: "ice", Payload: "overflow"})
	assert.ErrorIs(t, err, ErrInboxFull)
}

func TestRateLimiterAllowsWithinBurstThenBlocks(t *testing.T) {
	rl := newRateLimiter(60) // 1/sec, burst 60
	addr := netip.MustParseAddr("198.51.100.1")

	allowed := 0
	for i := 0; i < 100; i++ {
		if rl.Allow(addr) {
			allowed++
		}
	}
	assert.LessOrEqual(t, allowed, 60)
	assert.Greater(t, allowed, 0)
}

func TestRateLimiterPerIPIndependent(t *testing.T) {
	rl := newRateLimiter(1)
	a := netip.MustParseAddr("198.51.100.1")
	b := netip.MustParseAddr("198.51.100.2")

	assert.True(t, rl.Allow(a))
	assert.True(t, rl.Allow(b)) // independent bucket, not starved by a
}
