package crypto

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
)

// Errors surfaced by the authenticated stream. Both are fatal to the
// session: the packet is discarded and the caller must tear the
// session down.
var (
	ErrAuthTagInvalid = errors.New("crypto: auth tag invalid")
	ErrNonceRegression = errors.New("crypto: nonce did not strictly increase")
)

// Stream is one direction of an authenticated session: it owns a
// ChaCha20-Poly1305 key and a strictly-increasing 64-bit nonce counter.
// A sender and receiver each hold a Stream for their own direction.
type Stream struct {
	aead    cipher.AEAD
	nextSeq atomic.Uint64 // sender: next nonce to use; receiver: last accepted + 1
}

// NewStream constructs a Stream from a 32-byte session key.
func NewStream(key []byte) (*Stream, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new aead: %w", err)
	}
	return &Stream{aead: aead}, nil
}

// nonceBytes renders a 64-bit counter into chacha20poly1305's 12-byte
// nonce (zero-padded high bytes).
func nonceBytes(counter uint64) []byte {
	n := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(n[:8], counter)
	return n
}

// Seal encrypts plaintext under the next nonce in this stream's
// sequence, with aad as additional authenticated data (the packet
// header, minus the CRC field). The wire layout is nonce(8) |
// ciphertext | tag(16).
func (s *Stream) Seal(plaintext, aad []byte) []byte {
	counter := s.nextSeq.Add(1) - 1
	sealed := s.aead.Seal(nil, nonceBytes(counter), plaintext, aad)

	out := make([]byte, 8+len(sealed))
	binary.LittleEndian.PutUint64(out[:8], counter)
	copy(out[8:], sealed)
	return out
}

// Open decrypts a nonce|ciphertext|tag blob produced by Seal, rejecting
// any nonce that does not strictly increase over the last one this
// stream accepted.
func (s *Stream) Open(blob, aad []byte) ([]byte, error) {
	if len(blob) < 8+s.aead.Overhead() {
		return nil, ErrAuthTagInvalid
	}
	counter := binary.LittleEndian.Uint64(blob[:8])

	for {
		last := s.nextSeq.Load()
		if counter < last {
			return nil, ErrNonceRegression
		}
		if s.nextSeq.CompareAndSwap(last, counter+1) {
			break
		}
	}

	plaintext, err := s.aead.Open(nil, nonceBytes(counter), blob[8:], aad)
	if err != nil {
		return nil, ErrAuthTagInvalid
	}
	return plaintext, nil
}
