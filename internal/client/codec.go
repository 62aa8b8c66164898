package client

import (
	"github.com/ascii-chat/ascii-chat/internal/crypto"
	"github.com/ascii-chat/ascii-chat/internal/wire"
)

// encodePlain/encodeSealed/decodeSealed mirror internal/server/codec.go:
// the three handshake messages travel plaintext, everything after is
// AEAD-sealed with the header as additional authenticated data.

func encodePlain(kind wire.Kind, clientID, seq uint32, payload []byte) []byte {
	return wire.Encode(&wire.Packet{Kind: kind, ClientID: clientID, Seq: seq, Payload: payload})
}

func encodeSealed(stream *crypto.Stream, kind wire.Kind, clientID, seq uint32, plaintext []byte) []byte {
	length := uint32(8 + len(plaintext) + 16)
	aad := wire.HeaderAAD(wire.Version, kind, clientID, seq, length)
	blob := stream.Seal(plaintext, aad)
	return wire.Encode(&wire.Packet{Kind: kind, ClientID: clientID, Seq: seq, Payload: blob})
}

func decodeSealed(stream *crypto.Stream, raw []byte) (*wire.Packet, []byte, error) {
	pkt, err := wire.Decode(raw)
	if err != nil {
		return nil, nil, err
	}
	aad := wire.HeaderAAD(pkt.Version, pkt.Kind, pkt.ClientID, pkt.Seq, uint32(len(pkt.Payload)))
	plaintext, err := stream.Open(pkt.Payload, aad)
	if err != nil {
		return pkt, nil, err
	}
	return pkt, plaintext, nil
}
