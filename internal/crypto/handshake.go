package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Role identifies which side of the handshake a peer is playing.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// Handshake errors. HostIdentityMismatch is always fatal and must be
// surfaced prominently to the user; HostIdentityUnknown requires a
// trust decision (see trust.go).
var (
	ErrHostIdentityMismatch = errors.New("crypto: host identity mismatch")
	ErrBadSignature         = errors.New("crypto: signature verification failed")
	ErrBadPassword          = errors.New("crypto: password confirmation mismatch")
	ErrVersionIncompatible  = errors.New("crypto: incompatible handshake version")
)

// HelloMsg is sent by the initiator to open a handshake.
type HelloMsg struct {
	Version      uint16
	Capabilities uint32
	EphemeralPub [32]byte
	IdentityPub  ed25519.PublicKey
	NonceI       [16]byte
}

// ChallengeMsg is the responder's reply.
type ChallengeMsg struct {
	EphemeralPub [32]byte
	IdentityPub  ed25519.PublicKey
	NonceR       [16]byte
	Signature    []byte // sign_R(transcript_so_far)
}

// ResponseMsg completes the initiator's half of mutual authentication.
type ResponseMsg struct {
	Signature []byte // sign_I(transcript_so_far)
}

// Result is the outcome of a completed handshake: per-direction
// authenticated streams and the peer's verified identity.
type Result struct {
	Send       *Stream
	Recv       *Stream
	PeerPublic ed25519.PublicKey
}

func transcript(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		var length [4]byte
		binary.LittleEndian.PutUint32(length[:], uint32(len(p)))
		out = append(out, length[:]...)
		out = append(out, p...)
	}
	return out
}

func newEphemeral() (pub, priv [32]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, priv[:]); err != nil {
		return pub, priv, fmt.Errorf("crypto: ephemeral key: %w", err)
	}
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, priv, fmt.Errorf("crypto: ephemeral pub: %w", err)
	}
	copy(pub[:], p)
	return pub, priv, nil
}

func randomNonce16() ([16]byte, error) {
	var n [16]byte
	_, err := io.ReadFull(rand.Reader, n[:])
	return n, err
}

// deriveKeys computes shared = X25519(priv,
// peerPub), then k_send/k_recv = HKDF(shared, "ascii-chat v1" ||
// nonce_i || nonce_r). initiator and responder derive complementary
// (send,recv) pairs from the same two keys so each side's "send" key
// is the other's "recv" key.
func deriveKeys(ephPriv [32]byte, peerPub [32]byte, nonceI, nonceR [16]byte, role Role, password []byte) (sendKey, recvKey []byte, err error) {
	shared, err := curve25519.X25519(ephPriv[:], peerPub[:])
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: x25519: %w", err)
	}

	info := append([]byte("ascii-chat v1"), nonceI[:]...)
	info = append(info, nonceR[:]...)
	if len(password) > 0 {
		info = append(info, password...)
	}

	kdf := hkdf.New(sha256.New, shared, nil, info)
	keys := make([]byte, 64)
	if _, err := io.ReadFull(kdf, keys); err != nil {
		return nil, nil, fmt.Errorf("crypto: hkdf: %w", err)
	}

	itoR, rtoI := keys[:32], keys[32:]
	if role == RoleInitiator {
		return itoR, rtoI, nil
	}
	return rtoI, itoR, nil
}

// BuildHello constructs the initiator's opening message.
func BuildHello(id *Identity, capabilities uint32) (*HelloMsg, [32]byte, error) {
	pub, priv, err := newEphemeral()
	if err != nil {
		return nil, priv, err
	}
	nonceI, err := randomNonce16()
	if err != nil {
		return nil, priv, err
	}
	return &HelloMsg{
		Version:      1,
		Capabilities: capabilities,
		EphemeralPub: pub,
		IdentityPub:  id.Public,
		NonceI:       nonceI,
	}, priv, nil
}

// BuildChallenge constructs the responder's reply to a Hello, signing
// the transcript accumulated so far.
func BuildChallenge(id *Identity, hello *HelloMsg) (*ChallengeMsg, [32]byte, error) {
	pub, priv, err := newEphemeral()
	if err != nil {
		return nil, priv, err
	}
	nonceR, err := randomNonce16()
	if err != nil {
		return nil, priv, err
	}

	tr := transcript(hello.IdentityPub, hello.EphemeralPub[:], hello.NonceI[:], id.Public, pub[:], nonceR[:])
	return &ChallengeMsg{
		EphemeralPub: pub,
		IdentityPub:  id.Public,
		NonceR:       nonceR,
		Signature:    id.Sign(tr),
	}, priv, nil
}

// VerifyChallenge checks the responder's signature against the
// expected transcript.
func VerifyChallenge(hello *HelloMsg, ch *ChallengeMsg) error {
	tr := transcript(hello.IdentityPub, hello.EphemeralPub[:], hello.NonceI[:], ch.IdentityPub, ch.EphemeralPub[:], ch.NonceR[:])
	if !ed25519.Verify(ch.IdentityPub, tr, ch.Signature) {
		return ErrBadSignature
	}
	return nil
}

// BuildResponse constructs the initiator's signed confirmation.
func BuildResponse(id *Identity, hello *HelloMsg, ch *ChallengeMsg) *ResponseMsg {
	tr := transcript(ch.IdentityPub, ch.EphemeralPub[:], ch.NonceR[:], hello.IdentityPub, hello.EphemeralPub[:], hello.NonceI[:])
	return &ResponseMsg{Signature: id.Sign(tr)}
}

// VerifyResponse checks the initiator's final signature.
func VerifyResponse(hello *HelloMsg, ch *ChallengeMsg, resp *ResponseMsg) error {
	tr := transcript(ch.IdentityPub, ch.EphemeralPub[:], ch.NonceR[:], hello.IdentityPub, hello.EphemeralPub[:], hello.NonceI[:])
	if !ed25519.Verify(hello.IdentityPub, tr, resp.Signature) {
		return ErrBadSignature
	}
	return nil
}

// Finish derives the per-direction streams once both signatures have
// been verified. password is nil unless the session is password
// protected (see pake.go).
func Finish(role Role, ephPriv [32]byte, peerEphPub [32]byte, nonceI, nonceR [16]byte, peerIdentity ed25519.PublicKey, password []byte) (*Result, error) {
	sendKey, recvKey, err := deriveKeys(ephPriv, peerEphPub, nonceI, nonceR, role, password)
	if err != nil {
		return nil, err
	}
	send, err := NewStream(sendKey)
	if err != nil {
		return nil, err
	}
	recv, err := NewStream(recvKey)
	if err != nil {
		return nil, err
	}
	return &Result{Send: send, Recv: recv, PeerPublic: peerIdentity}, nil
}
