package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"filippo.io/cpace"
)

// PAKEInitiator begins the optional password factor: both sides run
// CPace over the shared password, and the associated data callers pass
// is both sides' ephemeral public keys, so the derived confirmation value is
// bound to this specific handshake instance and cannot be replayed
// against a different one. The resulting scalar is mixed into the
// session KDF; mismatch surfaces as SESSION_REJECT(bad_password) once
// both sides compare confirmation tags (see PAKEConfirm).
func PAKEInitiator(password string, associatedData []byte) (msgA []byte, finish func(msgB []byte) ([]byte, error), err error) {
	msgA, st, err := cpace.Init(password, associatedData)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: pake init: %w", err)
	}
	return msgA, st.Finish, nil
}

// PAKEResponder replies to a CPace message, yielding its own message
// to send back and the shared key material.
func PAKEResponder(password string, associatedData []byte, msgA []byte) (msgB []byte, key []byte, err error) {
	msgB, key, err = cpace.Respond(password, associatedData, msgA)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: pake respond: %w", err)
	}
	return msgB, key, nil
}

// PAKEConfirm derives a short confirmation tag from PAKE key material
// so each side can detect a password mismatch before completing the
// handshake, rather than discovering it only when later AEAD opens
// start failing. Both sides compute this deterministically from the
// same key, so equal keys (equal passwords) always produce equal tags.
func PAKEConfirm(key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("ascii-chat pake-confirm v1"))
	return mac.Sum(nil)[:16]
}
