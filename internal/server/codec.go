package server

import (
	"github.com/ascii-chat/ascii-chat/internal/crypto"
	"github.com/ascii-chat/ascii-chat/internal/wire"
)

// encodePlain builds an unencrypted packet, used only for the three
// handshake messages that precede key derivation.
func encodePlain(kind wire.Kind, clientID, seq uint32, payload []byte) []byte {
	return wire.Encode(&wire.Packet{Kind: kind, ClientID: clientID, Seq: seq, Payload: payload})
}

// encodeSealed builds an encrypted packet: the AEAD AAD is the packet
// header (minus crc), computed from the ciphertext length before the
// header is serialized.
func encodeSealed(stream *crypto.Stream, kind wire.Kind, clientID, seq uint32, plaintext []byte) []byte {
	length := uint32(8 + len(plaintext) + 16) // nonce(8) + ciphertext + tag(16)
	aad := wire.HeaderAAD(wire.Version, kind, clientID, seq, length)
	blob := stream.Seal(plaintext, aad)
	return wire.Encode(&wire.Packet{Kind: kind, ClientID: clientID, Seq: seq, Payload: blob})
}

// decodeSealed decodes a packet and opens its encrypted payload in one
// step, returning the packet (with the still-encrypted Payload) and the
// authenticated plaintext.
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
