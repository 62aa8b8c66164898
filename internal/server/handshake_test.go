package server

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/ascii-chat/ascii-chat/internal/config"
	"github.com/ascii-chat/ascii-chat/internal/crypto"
	"github.com/ascii-chat/ascii-chat/internal/transport"
	"github.com/ascii-chat/ascii-chat/internal/wire"
)

// synthClient drives the initiator side of the handshake by hand over
// an already-wired connState, mirroring internal/client/handshake.go's
// runHandshake/runPakeInitiator closely enough to exercise the server's
// responder side without importing the client package.
type synthClient struct {
	cs       *connState
	identity *crypto.Identity
}

func newSynthClient(cs *connState) *synthClient {
	id, err := crypto.GenerateIdentity()
	if err != nil {
		panic(err)
	}
	return &synthClient{cs: cs, identity: id}
}

func (sc *synthClient) run(password string) (*crypto.Result, error) {
	hello, ephPriv, err := crypto.BuildHello(sc.identity, 0)
	if err != nil {
		return nil, err
	}
	helloPayload, _ := json.Marshal(HelloWire{
		Version:      hello.Version,
		Capabilities: hello.Capabilities,
		EphemeralPub: hello.EphemeralPub,
		IdentityPub:  hello.IdentityPub,
		NonceI:       hello.NonceI,
	})
	sc.cs.sess.Send(encodePlain(wire.KindHello, 0, 0, helloPayload))

	challengePkt, err := sc.cs.recvPacket(HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	if challengePkt.Kind == wire.KindSessionReject {
		return nil, rejectReasonErr(challengePkt.Payload)
	}
	var chWire ChallengeWire
	if err := json.Unmarshal(challengePkt.Payload, &chWire); err != nil {
		return nil, err
	}
	challenge := &crypto.ChallengeMsg{
		EphemeralPub: chWire.EphemeralPub,
		IdentityPub:  chWire.IdentityPub,
		NonceR:       chWire.NonceR,
		Signature:    chWire.Signature,
	}
	if err := crypto.VerifyChallenge(hello, challenge); err != nil {
		return nil, err
	}

	resp := crypto.BuildResponse(sc.identity, hello, challenge)
	respPayload, _ := json.Marshal(ResponseWire{Signature: resp.Signature})
	sc.cs.sess.Send(encodePlain(wire.KindAuthResponse, 0, 0, respPayload))

	var pakeKey []byte
	if password != "" {
		key, err := sc.runPake(password, hello, challenge)
		if err != nil {
			return nil, err
		}
		pakeKey = key
	}

	return crypto.Finish(crypto.RoleInitiator, ephPriv, challenge.EphemeralPub, hello.NonceI, challenge.NonceR, challenge.IdentityPub, pakeKey)
}

func (sc *synthClient) runPake(password string, hello *crypto.HelloMsg, challenge *crypto.ChallengeMsg) ([]byte, error) {
	ad := pakeAssociatedData(hello, challenge)
	msgA, finish, err := crypto.PAKEInitiator(password, ad)
	if err != nil {
		return nil, err
	}
	msgAPayload, _ := json.Marshal(PakeMsgAWire{MsgA: msgA})
	sc.cs.sess.Send(encodePlain(wire.KindPakeMsgA, 0, 0, msgAPayload))

	msgBPkt, err := sc.cs.recvPacket(HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	if msgBPkt.Kind == wire.KindSessionReject {
		return nil, rejectReasonErr(msgBPkt.Payload)
	}
	var msgBWire PakeMsgBWire
	if err := json.Unmarshal(msgBPkt.Payload, &msgBWire); err != nil {
		return nil, err
	}
	key, err := finish(msgBWire.MsgB)
	if err != nil {
		return nil, err
	}

	ourTag := crypto.PAKEConfirm(key)
	confirmPayload, _ := json.Marshal(PakeConfirmWire{Tag: ourTag})
	sc.cs.sess.Send(encodePlain(wire.KindPakeConfirm, 0, 0, confirmPayload))

	confirmPkt, err := sc.cs.recvPacket(HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	if confirmPkt.Kind == wire.KindSessionReject {
		return nil, rejectReasonErr(confirmPkt.Payload)
	}
	return key, nil
}

func rejectReasonErr(payload []byte) error {
	var rej SessionRejectWire
	json.Unmarshal(payload, &rej)
	return &rejectError{reason: rej.Reason}
}

type rejectError struct{ reason string }

func (e *rejectError) Error() string { return "server rejected session: " + e.reason }

// newPipeConnStates wires two connStates over an in-memory net.Pipe, each
// with its session's OnRecv/OnClosed callbacks feeding its own recvCh —
// the same wiring ServerContext.Accept sets up for a real TCP connection.
func newPipeConnStates(t *testing.T) (serverCS, clientCS *connState) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	serverCS = newConnState()
	clientCS = newConnState()
	serverCS.sess = transport.AcceptTCP(serverConn, serverCS.events())
	clientCS.sess = transport.AcceptTCP(clientConn, clientCS.events())
	t.Cleanup(func() {
		serverCS.sess.Close(transport.ReasonLocalClose)
		clientCS.sess.Close(transport.ReasonLocalClose)
	})
	return serverCS, clientCS
}

func mustIdentity(t *testing.T) *crypto.Identity {
	t.Helper()
	id, err := crypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return id
}

func TestHandshakeSucceedsWithoutPassword(t *testing.T) {
	serverCS, clientCS := newPipeConnStates(t)
	sc := &ServerContext{Options: &config.ServerOptions{}, Identity: mustIdentity(t)}
	client := newSynthClient(clientCS)

	type serverOutcome struct {
		result *crypto.Result
		err    error
	}
	outcomeCh := make(chan serverOutcome, 1)
	go func() {
		r, err := sc.acceptHandshake(serverCS)
		outcomeCh <- serverOutcome{r, err}
	}()

	clientResult, clientErr := client.run("")
	if clientErr != nil {
		t.Fatalf("client handshake failed: %v", clientErr)
	}

	outcome := <-outcomeCh
	if outcome.err != nil {
		t.Fatalf("server handshake failed: %v", outcome.err)
	}
	if outcome.result == nil || clientResult == nil {
		t.Fatalf("expected both sides to derive session keys")
	}
}

func TestHandshakeSucceedsWithMatchingPassword(t *testing.T) {
	serverCS, clientCS := newPipeConnStates(t)
	sc := &ServerContext{Options: &config.ServerOptions{Password: "correct horse"}, Identity: mustIdentity(t)}
	client := newSynthClient(clientCS)

	errCh := make(chan error, 1)
	go func() {
		_, err := sc.acceptHandshake(serverCS)
		errCh <- err
	}()

	_, clientErr := client.run("correct horse")
	serverErr := <-errCh

	if clientErr != nil {
		t.Fatalf("client handshake failed: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("server handshake failed: %v", serverErr)
	}
}

func TestHandshakeFailsOnPasswordMismatch(t *testing.T) {
	serverCS, clientCS := newPipeConnStates(t)
	sc := &ServerContext{Options: &config.ServerOptions{Password: "correct horse"}, Identity: mustIdentity(t)}
	client := newSynthClient(clientCS)

	errCh := make(chan error, 1)
	go func() {
		_, err := sc.acceptHandshake(serverCS)
		errCh <- err
	}()

	_, clientErr := client.run("wrong password")
	serverErr := <-errCh

	if serverErr == nil {
		t.Fatalf("expected the server to reject a mismatched password")
	}
	if clientErr == nil {
		t.Fatalf("expected the client to observe the rejection")
	}
}
