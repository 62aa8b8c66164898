// Package discovery implements ACDS, the ascii-chat discovery service:
// a short-session-string registry, an SDP/ICE relay for WebRTC
// signaling, and STUN/TURN credential handout.
//
// LAN host scanning is a separate concern handled by internal/netscan;
// this package only discovers and registers live ascii-chat endpoints.
package discovery

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/logging"
)

var log = logging.L("discovery")

// Session is one registered server's discovery record.
type Session struct {
	SessionString string    `json:"sessionString"`
	HostPubkey    []byte    `json:"hostPubkey"`
	Endpoints     []string  `json:"endpoints"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	ClientCount   int       `json:"clientCount"`
}

// LookupResult is what Lookup returns to a resolving client: the
// session's endpoints and host identity, plus the service's current
// STUN/TURN handout, all signed by the service's own Ed25519 identity
// so a client holding the pinned ACDS key can verify the response came
// from the real service.
type LookupResult struct {
	Endpoints      []string `json:"endpoints"`
	HostPubkey     []byte   `json:"hostPubkey"`
	ServicePubkey  []byte   `json:"servicePubkey"` // the ACDS instance's own signing identity, TOFU-pinned by clients
	StunServers    []string `json:"stunServers"`
	TurnServer     string   `json:"turnServer,omitempty"`
	TurnUsername   string   `json:"turnUsername,omitempty"`
	TurnCredential string   `json:"turnCredential,omitempty"`
	Signature      []byte   `json:"signature"`
}

// signedBytes is the canonical encoding signed over by the service
// identity: callers must reconstruct it identically to verify.
func (r *LookupResult) signedBytes() []byte {
	cp := *r
	cp.Signature = nil
	b, _ := json.Marshal(cp)
	return b
}

// randomSessionWord picks one word uniformly at random from the pool.
func randomSessionWord() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(sessionWords))))
	if err != nil {
		return "", fmt.Errorf("discovery: random word: %w", err)
	}
	return sessionWords[n.Int64()], nil
}

// newSessionString builds a fresh three-word hyphenated string, lowercase
// by construction.
func newSessionString() (string, error) {
	words := make([]string, 3)
	for i := range words {
		w, err := randomSessionWord()
		if err != nil {
			return "", err
		}
		words[i] = w
	}
	return strings.Join(words, "-"), nil
}

// canonicalizeSessionString lowercases and trims a client-supplied
// session string: case-insensitive on input, canonicalized lowercase
// on storage.
func canonicalizeSessionString(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// constantTimeEqual avoids leaking fingerprint comparisons through
// timing, used nowhere security-critical here but cheap to apply
// consistently wherever two secrets are compared.
func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
