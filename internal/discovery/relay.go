package discovery

import (
	"sync"
	"time"
)

// relayMessage is one queued SDP offer/answer or ICE candidate awaiting
// delivery to its addressee.
type relayMessage struct {
	From      string    `json:"from"`
	Kind      string    `json:"kind"` // "sdp" or "ice"
	Payload   string    `json:"payload"`
	QueuedAt  time.Time `json:"-"`
}

// relayInbox holds undelivered messages for one (session, recipient)
// pair. Relay participants are not ascii-chat client IDs: the two
// peers haven't completed a handshake yet (the SDP/ICE exchange is
// what lets them open the transport the handshake later runs over), so
// "from"/"to" are opaque strings the peers pick themselves (the host
// registers under a well-known identity such as "host"; a joining peer
// generates its own random tag and learns the host's tag from the
// looked-up session).
type relayInbox struct {
	mu       sync.Mutex
	messages map[string][]relayMessage // keyed by recipient tag
	cap      int
}

func newRelayInbox(capacity int) *relayInbox {
	if capacity <= 0 {
		capacity = 32
	}
	return &relayInbox{messages: make(map[string][]relayMessage), cap: capacity}
}

// Push enqueues a message for recipient to, returning ErrInboxFull if
// that recipient's queue is already at capacity (a stalled or absent
// peer should not let a session accumulate unbounded memory).
func (b *relayInbox) Push(to string, msg relayMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.messages[to]) >= b.cap {
		return ErrInboxFull
	}
	msg.QueuedAt = time.Now()
	b.messages[to] = append(b.messages[to], msg)
	return nil
}

// Drain removes and returns every message queued for recipient to,
// delivered-once: a message not drained before its session expires is
// simply lost, matching best-effort signaling semantics.
func (b *relayInbox) Drain(to string) []relayMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.messages[to]
	delete(b.messages, to)
	return msgs
}

// relay holds one inbox per registered session string.
type relay struct {
	mu      sync.Mutex
	inboxes map[string]*relayInbox
	cap     int
}

func newRelay(perSessionCap int) *relay {
	return &relay{inboxes: make(map[string]*relayInbox), cap: perSessionCap}
}

func (r *relay) inboxFor(sessionString string) *relayInbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	ib, ok := r.inboxes[sessionString]
	if !ok {
		ib = newRelayInbox(r.cap)
		r.inboxes[sessionString] = ib
	}
	return ib
}

// Push enqueues a relay message for (sessionString, to).
func (r *relay) Push(sessionString, to string, msg relayMessage) error {
	return r.inboxFor(sessionString).Push(to, msg)
}

// Drain returns and clears queued messages for (sessionString, to).
func (r *relay) Drain(sessionString, to string) []relayMessage {
	return r.inboxFor(sessionString).Drain(to)
}

// DropSession discards a session's whole inbox, called when its
// registry entry is removed.
func (r *relay) DropSession(sessionString string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inboxes, sessionString)
}
