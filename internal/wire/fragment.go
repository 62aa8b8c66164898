package wire

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"
)

// FragmentHeaderSize is the sub-header prepended to fragment payloads:
// message_id u64 | index u16 | count u16.
const FragmentHeaderSize = 12

// FragmentReassemblyTimeout is the default time a partial message may
// sit in the reassembler before being discarded.
const FragmentReassemblyTimeout = 5 * time.Second

// MaxReassemblyBytes caps the total bytes buffered across all
// in-flight reassemblies, regardless of message_id count.
const MaxReassemblyBytes = 16 << 20 // 16 MiB

var (
	ErrFragmentMismatch = errors.New("wire: fragment count mismatch")
	ErrReassemblyStale  = errors.New("wire: reassembly buffer over capacity")
	ErrReassemblyTimeout = errors.New("wire: fragment reassembly timed out")
)

// Fragment splits payload into packets of at most mtu bytes (including
// the packet header and, for multi-fragment messages, the fragment
// sub-header). Single-fragment messages carry no sub-header.
func Fragment(messageID uint64, kind Kind, clientID uint32, payload []byte, mtu int) []*Packet {
	maxBody := mtu - HeaderSize
	if maxBody <= 0 {
		maxBody = 1
	}

	if len(payload) <= maxBody {
		return []*Packet{{Kind: kind, ClientID: clientID, Payload: payload}}
	}

	subMax := maxBody - FragmentHeaderSize
	if subMax <= 0 {
		subMax = 1
	}
	count := (len(payload) + subMax - 1) / subMax
	packets := make([]*Packet, 0, count)
	for i := 0; i < count; i++ {
		start := i * subMax
		end := start + subMax
		if end > len(payload) {
			end = len(payload)
		}
		body := make([]byte, FragmentHeaderSize+(end-start))
		binary.LittleEndian.PutUint64(body[0:8], messageID)
		binary.LittleEndian.PutUint16(body[8:10], uint16(i))
		binary.LittleEndian.PutUint16(body[10:12], uint16(count))
		copy(body[FragmentHeaderSize:], payload[start:end])
		packets = append(packets, &Packet{Kind: kind, ClientID: clientID, Payload: body})
	}
	return packets
}

// DecodeFragment splits the fragment sub-header off a fragment packet's
// payload.
func DecodeFragment(payload []byte) (messageID uint64, index, count uint16, body []byte, err error) {
	if len(payload) < FragmentHeaderSize {
		return 0, 0, 0, nil, ErrMalformedHeader
	}
	messageID = binary.LittleEndian.Uint64(payload[0:8])
	index = binary.LittleEndian.Uint16(payload[8:10])
	count = binary.LittleEndian.Uint16(payload[10:12])
	if index >= count {
		return 0, 0, 0, nil, ErrFragmentMismatch
	}
	body = payload[FragmentHeaderSize:]
	return
}

type partial struct {
	count     uint16
	parts     [][]byte
	received  int
	totalSize int
	deadline  time.Time
}

// Reassembler accumulates fragments per message_id and reconstructs the
// original message once all fragments of one message have arrived in
// index order on one transport. Out-of-order fragments within one
// message are rejected; out-of-order messages (different message_ids
// interleaved) are allowed.
type Reassembler struct {
	mu          sync.Mutex
	pending     map[uint64]*partial
	timeout     time.Duration
	maxBytes    int
	bufferedLen int
}

// NewReassembler constructs a Reassembler with the default timeout and
// byte cap. Use WithTimeout/WithMaxBytes to override.
func NewReassembler() *Reassembler {
	return &Reassembler{
		pending:  make(map[uint64]*partial),
		timeout:  FragmentReassemblyTimeout,
		maxBytes: MaxReassemblyBytes,
	}
}

func (r *Reassembler) WithTimeout(d time.Duration) *Reassembler {
	r.timeout = d
	return r
}

func (r *Reassembler) WithMaxBytes(n int) *Reassembler {
	r.maxBytes = n
	return r
}

// Ingest feeds one fragment packet's payload into the reassembler. It
// returns the reconstructed message once all fragments for that
// message_id have arrived, or nil while more are expected.
func (r *Reassembler) Ingest(payload []byte) ([]byte, error) {
	messageID, index, count, body, err := DecodeFragment(payload)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked()

	p, ok := r.pending[messageID]
	if !ok {
		if r.bufferedLen+len(body) > r.maxBytes {
			return nil, ErrReassemblyStale
		}
		p = &partial{
			count:    count,
			parts:    make([][]byte, count),
			deadline: time.Now().Add(r.timeout),
		}
		r.pending[messageID] = p
	}

	if count != p.count {
		delete(r.pending, messageID)
		r.bufferedLen -= p.totalSize
		return nil, ErrFragmentMismatch
	}

	// Fragments within one message must arrive in index order.
	if int(index) != p.received {
		delete(r.pending, messageID)
		r.bufferedLen -= p.totalSize
		return nil, ErrFragmentMismatch
	}

	if r.bufferedLen+len(body) > r.maxBytes {
		return nil, ErrReassemblyStale
	}

	cp := make([]byte, len(body))
	copy(cp, body)
	p.parts[index] = cp
	p.received++
	p.totalSize += len(cp)
	r.bufferedLen += len(cp)

	if p.received < int(p.count) {
		return nil, nil
	}

	delete(r.pending, messageID)
	r.bufferedLen -= p.totalSize

	total := 0
	for _, part := range p.parts {
		total += len(part)
	}
	out := make([]byte, 0, total)
	for _, part := range p.parts {
		out = append(out, part...)
	}
	return out, nil
}

// evictExpiredLocked discards partial messages past their deadline.
// Caller must hold r.mu.
func (r *Reassembler) evictExpiredLocked() {
	now := time.Now()
	for id, p := range r.pending {
		if now.After(p.deadline) {
			delete(r.pending, id)
			r.bufferedLen -= p.totalSize
		}
	}
}

// Expired reports the message_ids whose reassembly deadline has passed
// without completing, clearing them from the reassembler. Callers that
// want to surface ErrReassemblyTimeout to upper layers poll this
// periodically.
func (r *Reassembler) Expired() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var ids []uint64
	for id, p := range r.pending {
		if now.After(p.deadline) {
			ids = append(ids, id)
			delete(r.pending, id)
			r.bufferedLen -= p.totalSize
		}
	}
	return ids
}
