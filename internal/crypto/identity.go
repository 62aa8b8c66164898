// Package crypto implements the ascii-chat host-identity handshake and
// per-direction authenticated encryption streams: Ed25519 host keys,
// an X25519 ephemeral exchange, HKDF-derived session keys, and a
// ChaCha20-Poly1305 stream with a strictly-increasing nonce counter.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Identity is a host's long-term Ed25519 keypair, used to authenticate
// it across sessions.
type Identity struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateIdentity creates a fresh Ed25519 identity keypair.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate identity: %w", err)
	}
	return &Identity{Public: pub, Private: priv}, nil
}

// Fingerprint returns the hex-encoded public key, the form shown to
// users during TOFU prompts and stored in the trust store.
func (id *Identity) Fingerprint() string {
	return hex.EncodeToString(id.Public)
}

// Sign produces an Ed25519 signature over the transcript bytes.
func (id *Identity) Sign(transcript []byte) []byte {
	return ed25519.Sign(id.Private, transcript)
}

// LoadOrGenerateIdentity loads an Ed25519 identity from path, generating
// and persisting a fresh one if the file is absent. An empty path
// returns a fresh in-memory identity that is never written to disk,
// for short-lived or test invocations. A corrupt key file is logged
// and overwritten with a freshly generated identity rather than
// treated as fatal.
func LoadOrGenerateIdentity(path string) (*Identity, error) {
	if path == "" {
		return GenerateIdentity()
	}

	if data, err := os.ReadFile(path); err == nil {
		if len(data) == ed25519.PrivateKeySize {
			priv := ed25519.PrivateKey(data)
			return &Identity{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
		}
		log.Warn("corrupt identity key, regenerating", "path", path, "size", len(data))
	}

	id, err := GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("crypto: create identity key directory: %w", err)
		}
	}
	if err := os.WriteFile(path, id.Private, 0600); err != nil {
		return nil, fmt.Errorf("crypto: save identity key: %w", err)
	}
	log.Info("generated new identity key", "path", path)
	return id, nil
}

// VerifyFingerprint parses a hex fingerprint back into a public key for
// signature verification.
func VerifyFingerprint(fingerprint string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(fingerprint)
	if err != nil {
		return nil, fmt.Errorf("crypto: bad fingerprint: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("crypto: fingerprint wrong length: %d", len(b))
	}
	return ed25519.PublicKey(b), nil
}
