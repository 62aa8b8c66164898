package crypto

import (
	"bytes"
	"testing"
)

func TestStreamRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	send, err := NewStream(key)
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	recv, err := NewStream(key)
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}

	aad := []byte("header")
	plaintext := []byte("hello world")
	blob := send.Seal(plaintext, aad)

	got, err := recv.Open(blob, aad)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("plaintext mismatch: %q vs %q", got, plaintext)
	}
}

func TestStreamRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	send, _ := NewStream(key)
	recv, _ := NewStream(key)

	blob := send.Seal([]byte("data"), nil)
	blob[len(blob)-1] ^= 0xff

	if _, err := recv.Open(blob, nil); err != ErrAuthTagInvalid {
		t.Fatalf("expected ErrAuthTagInvalid, got %v", err)
	}
}

func TestStreamRejectsNonceRegression(t *testing.T) {
	key := make([]byte, 32)
	send, _ := NewStream(key)
	recv, _ := NewStream(key)

	first := send.Seal([]byte("a"), nil)
	second := send.Seal([]byte("b"), nil)

	if _, err := recv.Open(second, nil); err != nil {
		t.Fatalf("open second: %v", err)
	}
	if _, err := recv.Open(first, nil); err != ErrNonceRegression {
		t.Fatalf("expected ErrNonceRegression replaying an earlier nonce, got %v", err)
	}
}

func TestHandshakeEndToEnd(t *testing.T) {
	initiator, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("generate initiator identity: %v", err)
	}
	responder, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("generate responder identity: %v", err)
	}

	hello, iPriv, err := BuildHello(initiator, 0)
	if err != nil {
		t.Fatalf("build hello: %v", err)
	}

	challenge, rPriv, err := BuildChallenge(responder, hello)
	if err != nil {
		t.Fatalf("build challenge: %v", err)
	}

	if err := VerifyChallenge(hello, challenge); err != nil {
		t.Fatalf("verify challenge: %v", err)
	}

	resp := BuildResponse(initiator, hello, challenge)
	if err := VerifyResponse(hello, challenge, resp); err != nil {
		t.Fatalf("verify response: %v", err)
	}

	iResult, err := Finish(RoleInitiator, iPriv, challenge.EphemeralPub, hello.NonceI, challenge.NonceR, challenge.IdentityPub, nil)
	if err != nil {
		t.Fatalf("initiator finish: %v", err)
	}
	rResult, err := Finish(RoleResponder, rPriv, hello.EphemeralPub, hello.NonceI, challenge.NonceR, hello.IdentityPub, nil)
	if err != nil {
		t.Fatalf("responder finish: %v", err)
	}

	msg := []byte("ping over the authenticated stream")
	sealed := iResult.Send.Seal(msg, nil)
	got, err := rResult.Recv.Open(sealed, nil)
	if err != nil {
		t.Fatalf("responder open: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("message mismatch: %q vs %q", got, msg)
	}
}

func TestPAKEConfirmDeterministic(t *testing.T) {
	key := []byte("shared-secret-material-32-bytes")
	a := PAKEConfirm(key)
	b := PAKEConfirm(key)
	if !bytes.Equal(a, b) {
		t.Fatalf("expected deterministic confirm tags for equal keys")
	}
}
