// Package wire implements the ascii-chat binary frame format: packet
// headers, CRC validation, and fragmentation/reassembly of oversized
// messages.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Magic is the fixed 4-byte tag present in every packet header. A
// mismatch means out-of-band data or a transport desync.
const Magic uint32 = 0x41534349 // "ASCI"

// Version is the current wire protocol version. Incompatible changes
// bump this.
const Version uint16 = 1

// HeaderSize is the fixed, little-endian packet header size in bytes.
// Each logical field occupies a 4-byte word (version and kind are
// uint16 values stored in the low half of their word) so the header
// stays register-aligned: magic | version | kind | client_id | seq |
// length | crc32 = 7 * 4 = 28 bytes.
const HeaderSize = 28

// MaxPacketSize is the largest payload a single (non-fragmented) packet
// may carry.
const MaxPacketSize = 1 << 20 // 1 MiB

// Kind enumerates the closed set of packet kinds.
type Kind uint16

const (
	KindHello Kind = iota + 1
	KindAuthChallenge
	KindAuthResponse
	KindSessionAccept
	KindSessionReject
	KindStreamStart
	KindStreamStop
	KindImageFrame
	KindAudioFrame
	KindTerminalSize
	KindControl
	KindHeartbeat
	KindGoodbye
	KindPakeMsgA
	KindPakeMsgB
	KindPakeConfirm
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "HELLO"
	case KindAuthChallenge:
		return "AUTH_CHALLENGE"
	case KindAuthResponse:
		return "AUTH_RESPONSE"
	case KindSessionAccept:
		return "SESSION_ACCEPT"
	case KindSessionReject:
		return "SESSION_REJECT"
	case KindStreamStart:
		return "STREAM_START"
	case KindStreamStop:
		return "STREAM_STOP"
	case KindImageFrame:
		return "IMAGE_FRAME"
	case KindAudioFrame:
		return "AUDIO_FRAME"
	case KindTerminalSize:
		return "TERMINAL_SIZE"
	case KindControl:
		return "CONTROL"
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindGoodbye:
		return "GOODBYE"
	case KindPakeMsgA:
		return "PAKE_MSG_A"
	case KindPakeMsgB:
		return "PAKE_MSG_B"
	case KindPakeConfirm:
		return "PAKE_CONFIRM"
	default:
		return fmt.Sprintf("Kind(%d)", uint16(k))
	}
}

// Errors returned by Decode. All are fatal to the current session.
var (
	ErrMalformedHeader = errors.New("wire: malformed header")
	ErrBadMagic        = errors.New("wire: bad magic")
	ErrBadVersion      = errors.New("wire: incompatible version")
	ErrBadCRC          = errors.New("wire: crc mismatch")
	ErrTruncated       = errors.New("wire: truncated payload")
)

// Packet is one decoded wire message.
type Packet struct {
	Version  uint16
	Kind     Kind
	ClientID uint32
	Seq      uint32
	Payload  []byte
}

// Encode serializes p into the wire format: header followed by payload,
// with CRC32 computed over the header-sans-crc bytes plus payload.
func Encode(p *Packet) []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	version := p.Version
	if version == 0 {
		version = Version
	}
	binary.LittleEndian.PutUint32(buf[4:8], uint32(version))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.Kind))
	binary.LittleEndian.PutUint32(buf[12:16], p.ClientID)
	binary.LittleEndian.PutUint32(buf[16:20], p.Seq)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(p.Payload)))
	copy(buf[HeaderSize:], p.Payload)

	sum := crc32.ChecksumIEEE(buf[:20])
	sum = crc32.Update(sum, crc32.IEEETable, buf[20:24]) // length field
	sum = crc32.Update(sum, crc32.IEEETable, p.Payload)
	binary.LittleEndian.PutUint32(buf[24:28], sum)
	return buf
}

// HeaderAAD serializes the header fields other than crc32, in wire byte
// order, for use as AEAD associated data: the authenticated associated
// data is the packet header minus the CRC field.
func HeaderAAD(version uint16, kind Kind, clientID, seq, length uint32) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	v := version
	if v == 0 {
		v = Version
	}
	binary.LittleEndian.PutUint32(buf[4:8], uint32(v))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(kind))
	binary.LittleEndian.PutUint32(buf[12:16], clientID)
	binary.LittleEndian.PutUint32(buf[16:20], seq)
	binary.LittleEndian.PutUint32(buf[20:24], length)
	return buf
}

// DecodeHeader parses just the fixed header, returning the payload
// length the caller must then read. It does not validate CRC (that
// requires the payload too); call Decode with the full buffer for that.
func DecodeHeader(b []byte) (magic uint32, version uint16, kind Kind, clientID, seq, length uint32, crc uint32, err error) {
	if len(b) < HeaderSize {
		err = ErrMalformedHeader
		return
	}
	magic = binary.LittleEndian.Uint32(b[0:4])
	version = uint16(binary.LittleEndian.Uint32(b[4:8]))
	kind = Kind(binary.LittleEndian.Uint32(b[8:12]))
	clientID = binary.LittleEndian.Uint32(b[12:16])
	seq = binary.LittleEndian.Uint32(b[16:20])
	length = binary.LittleEndian.Uint32(b[20:24])
	crc = binary.LittleEndian.Uint32(b[24:28])
	return
}

// Decode parses a complete packet (header + exactly `length` payload
// bytes) from b. b must be exactly HeaderSize+length bytes.
func Decode(b []byte) (*Packet, error) {
	magic, version, kind, clientID, seq, length, crc, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, ErrBadMagic
	}
	if version != Version {
		return nil, ErrBadVersion
	}
	if uint32(len(b)) != HeaderSize+length {
		return nil, ErrTruncated
	}
	payload := b[HeaderSize:]

	sum := crc32.ChecksumIEEE(b[:20])
	sum = crc32.Update(sum, crc32.IEEETable, b[20:24])
	sum = crc32.Update(sum, crc32.IEEETable, payload)
	if sum != crc {
		return nil, ErrBadCRC
	}

	return &Packet{
		Version:  version,
		Kind:     kind,
		ClientID: clientID,
		Seq:      seq,
		Payload:  payload,
	}, nil
}
