package server

import (
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/crypto"
	"github.com/ascii-chat/ascii-chat/internal/transport"
	"github.com/ascii-chat/ascii-chat/internal/wire"
)

// HandshakeTimeout bounds the unauthenticated phase of a connection.
var HandshakeTimeout = 10 * time.Second

// connState bridges a transport.Session's callback-driven I/O to the
// blocking read-a-message style a handshake wants: one blocking receive
// at a time over a framed connection. recvCh is fed by the session's
// OnRecv callback; closedCh by OnClosed.
type connState struct {
	sess    transport.Session
	recvCh  chan []byte
	closedCh chan transport.ClosedReason
}

func newConnState() *connState {
	return &connState{
		recvCh:   make(chan []byte, 8),
		closedCh: make(chan transport.ClosedReason, 1),
	}
}

func (cs *connState) events() transport.Events {
	return transport.Events{
		OnRecv: func(b []byte) {
			cp := make([]byte, len(b))
			copy(cp, b)
			select {
			case cs.recvCh <- cp:
			default:
			}
		},
		OnClosed: func(reason transport.ClosedReason) {
			select {
			case cs.closedCh <- reason:
			default:
			}
		},
	}
}

func (cs *connState) recvPacket(timeout time.Duration) (*wire.Packet, error) {
	select {
	case b := <-cs.recvCh:
		return wire.Decode(b)
	case reason := <-cs.closedCh:
		return nil, fmt.Errorf("server: connection closed during handshake: %s", reason)
	case <-time.After(timeout):
		return nil, fmt.Errorf("server: handshake timed out after %s", timeout)
	}
}

// acceptHandshake runs the responder side of the handshake over an already-
// open Session, returning the authenticated streams and the verified
// client identity. On any failure it sends SESSION_REJECT best-effort
// before returning the error.
func (sc *ServerContext) acceptHandshake(cs *connState) (*crypto.Result, error) {
	deadline := HandshakeTimeout

	helloPkt, err := cs.recvPacket(deadline)
	if err != nil {
		return nil, err
	}
	if helloPkt.Kind != wire.KindHello {
		cs.reject("protocol_violation")
		return nil, fmt.Errorf("server: expected HELLO, got %s", helloPkt.Kind)
	}
	var helloWire HelloWire
	if err := json.Unmarshal(helloPkt.Payload, &helloWire); err != nil {
		cs.reject("protocol_violation")
		return nil, fmt.Errorf("server: malformed HELLO: %w", err)
	}
	if helloWire.Version != wire.Version {
		cs.reject("version")
		return nil, fmt.Errorf("server: incompatible client version %d", helloWire.Version)
	}

	hello := &crypto.HelloMsg{
		Version:      helloWire.Version,
		Capabilities: helloWire.Capabilities,
		EphemeralPub: helloWire.EphemeralPub,
		IdentityPub:  helloWire.IdentityPub,
		NonceI:       helloWire.NonceI,
	}

	challenge, ephPriv, err := crypto.BuildChallenge(sc.Identity, hello)
	if err != nil {
		cs.reject("internal")
		return nil, fmt.Errorf("server: build challenge: %w", err)
	}
	challengePayload, err := json.Marshal(ChallengeWire{
		EphemeralPub: challenge.EphemeralPub,
		IdentityPub:  challenge.IdentityPub,
		NonceR:       challenge.NonceR,
		Signature:    challenge.Signature,
	})
	if err != nil {
		return nil, err
	}
	cs.sess.Send(encodePlain(wire.KindAuthChallenge, 0, 0, challengePayload))

	respPkt, err := cs.recvPacket(deadline)
	if err != nil {
		return nil, err
	}
	if respPkt.Kind != wire.KindAuthResponse {
		cs.reject("protocol_violation")
		return nil, fmt.Errorf("server: expected AUTH_RESPONSE, got %s", respPkt.Kind)
	}
	var respWire ResponseWire
	if err := json.Unmarshal(respPkt.Payload, &respWire); err != nil {
		cs.reject("protocol_violation")
		return nil, fmt.Errorf("server: malformed AUTH_RESPONSE: %w", err)
	}
	resp := &crypto.ResponseMsg{Signature: respWire.Signature}

	if err := crypto.VerifyResponse(hello, challenge, resp); err != nil {
		cs.reject("bad_auth")
		return nil, fmt.Errorf("server: client signature invalid: %w", err)
	}

	var pakeKey []byte
	if sc.Options.Password != "" {
		key, err := sc.runPakeResponder(cs, deadline, hello, challenge)
		if err != nil {
			cs.reject("bad_password")
			return nil, err
		}
		pakeKey = key
	}

	result, err := crypto.Finish(crypto.RoleResponder, ephPriv, hello.EphemeralPub, hello.NonceI, challenge.NonceR, hello.IdentityPub, pakeKey)
	if err != nil {
		cs.reject("internal")
		return nil, fmt.Errorf("server: derive session keys: %w", err)
	}
	return result, nil
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

// runPakeResponder runs the responder side of the optional password
// factor, returning the shared PAKE key once both sides' confirmation
// tags match. A client whose confirmation tag doesn't match fails with
// crypto.ErrBadPassword; one that sends another kind in place of
// PAKE_MSG_A fails with a protocol error.
func (sc *ServerContext) runPakeResponder(cs *connState, deadline time.Duration, hello *crypto.HelloMsg, challenge *crypto.ChallengeMsg) ([]byte, error) {
	msgAPkt, err := cs.recvPacket(deadline)
	if err != nil {
		return nil, err
	}
	if msgAPkt.Kind != wire.KindPakeMsgA {
		return nil, fmt.Errorf("server: expected PAKE_MSG_A, got %s", msgAPkt.Kind)
	}
	var msgAWire PakeMsgAWire
	if err := json.Unmarshal(msgAPkt.Payload, &msgAWire); err != nil {
		return nil, fmt.Errorf("server: malformed PAKE_MSG_A: %w", err)
	}

	ad := pakeAssociatedData(hello, challenge)
	msgB, key, err := crypto.PAKEResponder(sc.Options.Password, ad, msgAWire.MsgA)
	if err != nil {
		return nil, fmt.Errorf("server: pake respond: %w", err)
	}
	msgBPayload, err := json.Marshal(PakeMsgBWire{MsgB: msgB})
	if err != nil {
		return nil, err
	}
	cs.sess.Send(encodePlain(wire.KindPakeMsgB, 0, 0, msgBPayload))

	confirmPkt, err := cs.recvPacket(deadline)
	if err != nil {
		return nil, err
	}
	if confirmPkt.Kind != wire.KindPakeConfirm {
		return nil, fmt.Errorf("server: expected PAKE_CONFIRM, got %s", confirmPkt.Kind)
	}
	var theirConfirm PakeConfirmWire
	if err := json.Unmarshal(confirmPkt.Payload, &theirConfirm); err != nil {
		return nil, fmt.Errorf("server: malformed PAKE_CONFIRM: %w", err)
	}
	ourTag := crypto.PAKEConfirm(key)
	if !hmac.Equal(theirConfirm.Tag, ourTag) {
		return nil, crypto.ErrBadPassword
	}

	confirmPayload, err := json.Marshal(PakeConfirmWire{Tag: ourTag})
	if err != nil {
		return nil, err
	}
	cs.sess.Send(encodePlain(wire.KindPakeConfirm, 0, 0, confirmPayload))

	return key, nil
}

func (cs *connState) reject(reason string) {
	payload, _ := json.Marshal(SessionRejectWire{Reason: reason})
	cs.sess.Send(encodePlain(wire.KindSessionReject, 0, 0, payload))
}
