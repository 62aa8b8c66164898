package client

import (
	"crypto/ed25519"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/crypto"
	"github.com/ascii-chat/ascii-chat/internal/wire"
)

// HandshakeTimeout bounds the unauthenticated phase.
var HandshakeTimeout = 10 * time.Second

// runHandshake executes the initiator side of the handshake, the
// mirror image of internal/server/handshake.go's acceptHandshake. When
// password is non-empty, an additional PAKE round runs after mutual
// signature verification and before key derivation, gated the same way
// on the server's own configured password.
func runHandshake(cs *connState, id *crypto.Identity, capabilities uint32, password string) (*crypto.Result, ed25519.PublicKey, error) {
	hello, ephPriv, err := crypto.BuildHello(id, capabilities)
	if err != nil {
		return nil, nil, fmt.Errorf("client: build hello: %w", err)
	}
	helloPayload, err := json.Marshal(helloWire{
		Version:      hello.Version,
		Capabilities: hello.Capabilities,
		EphemeralPub: hello.EphemeralPub,
		IdentityPub:  hello.IdentityPub,
		NonceI:       hello.NonceI,
	})
	if err != nil {
		return nil, nil, err
	}
	cs.sess.Send(encodePlain(wire.KindHello, 0, 0, helloPayload))

	challengePkt, err := cs.recvPacket(HandshakeTimeout)
	if err != nil {
		return nil, nil, err
	}
	if challengePkt.Kind != wire.KindAuthChallenge {
		if challengePkt.Kind == wire.KindSessionReject {
			return nil, nil, rejectionError(challengePkt.Payload)
		}
		return nil, nil, fmt.Errorf("client: expected AUTH_CHALLENGE, got %s", challengePkt.Kind)
	}
	var chWire challengeWire
	if err := json.Unmarshal(challengePkt.Payload, &chWire); err != nil {
		return nil, nil, fmt.Errorf("client: malformed AUTH_CHALLENGE: %w", err)
	}
	challenge := &crypto.ChallengeMsg{
		EphemeralPub: chWire.EphemeralPub,
		IdentityPub:  chWire.IdentityPub,
		NonceR:       chWire.NonceR,
		Signature:    chWire.Signature,
	}

	if err := crypto.VerifyChallenge(hello, challenge); err != nil {
		return nil, nil, fmt.Errorf("client: %w", err)
	}

	resp := crypto.BuildResponse(id, hello, challenge)
	respPayload, err := json.Marshal(responseWire{Signature: resp.Signature})
	if err != nil {
		return nil, nil, err
	}
	cs.sess.Send(encodePlain(wire.KindAuthResponse, 0, 0, respPayload))

	var pakeKey []byte
	if password != "" {
		key, err := runPakeInitiator(cs, password, hello, challenge)
		if err != nil {
			return nil, nil, err
		}
		pakeKey = key
	}

	result, err := crypto.Finish(crypto.RoleInitiator, ephPriv, challenge.EphemeralPub, hello.NonceI, challenge.NonceR, challenge.IdentityPub, pakeKey)
	if err != nil {
		return nil, nil, fmt.Errorf("client: derive session keys: %w", err)
	}
	return result, challenge.IdentityPub, nil
}

// pakeAssociatedData binds a PAKE exchange to this specific handshake
// instance's ephemeral keys, so a captured exchange cannot be replayed
// against a different session.
func pakeAssociatedData(hello *crypto.HelloMsg, challenge *crypto.ChallengeMsg) []byte {
	ad := make([]byte, 0, 64)
	ad = append(ad, hello.EphemeralPub[:]...)
	ad = append(ad, challenge.EphemeralPub[:]...)
	return ad
}

// runPakeInitiator runs the initiator side of the optional password
// factor, returning the shared PAKE key once both sides' confirmation
// tags match. A mismatch returns crypto.ErrBadPassword.
func runPakeInitiator(cs *connState, password string, hello *crypto.HelloMsg, challenge *crypto.ChallengeMsg) ([]byte, error) {
	ad := pakeAssociatedData(hello, challenge)

	msgA, finish, err := crypto.PAKEInitiator(password, ad)
	if err != nil {
		return nil, fmt.Errorf("client: pake init: %w", err)
	}
	msgAPayload, err := json.Marshal(pakeMsgAWire{MsgA: msgA})
	if err != nil {
		return nil, err
	}
	cs.sess.Send(encodePlain(wire.KindPakeMsgA, 0, 0, msgAPayload))

	msgBPkt, err := cs.recvPacket(HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	if msgBPkt.Kind != wire.KindPakeMsgB {
		if msgBPkt.Kind == wire.KindSessionReject {
			return nil, rejectionError(msgBPkt.Payload)
		}
		return nil, fmt.Errorf("client: expected PAKE_MSG_B, got %s", msgBPkt.Kind)
	}
	var msgBWire pakeMsgBWire
	if err := json.Unmarshal(msgBPkt.Payload, &msgBWire); err != nil {
		return nil, fmt.Errorf("client: malformed PAKE_MSG_B: %w", err)
	}
	key, err := finish(msgBWire.MsgB)
	if err != nil {
		return nil, fmt.Errorf("client: pake finish: %w", err)
	}

	ourTag := crypto.PAKEConfirm(key)
	confirmPayload, err := json.Marshal(pakeConfirmWire{Tag: ourTag})
	if err != nil {
		return nil, err
	}
	cs.sess.Send(encodePlain(wire.KindPakeConfirm, 0, 0, confirmPayload))

	confirmPkt, err := cs.recvPacket(HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	if confirmPkt.Kind != wire.KindPakeConfirm {
		if confirmPkt.Kind == wire.KindSessionReject {
			return nil, rejectionError(confirmPkt.Payload)
		}
		return nil, fmt.Errorf("client: expected PAKE_CONFIRM, got %s", confirmPkt.Kind)
	}
	var theirConfirm pakeConfirmWire
	if err := json.Unmarshal(confirmPkt.Payload, &theirConfirm); err != nil {
		return nil, fmt.Errorf("client: malformed PAKE_CONFIRM: %w", err)
	}
	if !hmac.Equal(theirConfirm.Tag, ourTag) {
		return nil, crypto.ErrBadPassword
	}
	return key, nil
}

func rejectionError(payload []byte) error {
	var rej sessionRejectWire
	if err := json.Unmarshal(payload, &rej); err != nil || rej.Reason == "" {
		return fmt.Errorf("client: server rejected session")
	}
	return fmt.Errorf("client: server rejected session: %s", rej.Reason)
}
