package server

import (
	"testing"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/transport"
)

type nopSession struct{}

func (nopSession) Send(b []byte) transport.SendResult { return transport.Sent }
func (nopSession) Close(reason transport.ClosedReason) {}
func (nopSession) Role() transport.Role               { return transport.RoleResponder }

func TestRegistryAllocateIDNeverReusesOrZero(t *testing.T) {
	r := NewRegistry()
	seen := make(map[uint32]bool)
	for i := 0; i < 5; i++ {
		id := r.AllocateID()
		if id == 0 {
			t.Fatalf("client_id 0 is reserved for \"no client\"")
		}
		if seen[id] {
			t.Fatalf("AllocateID returned duplicate id %d", id)
		}
		seen[id] = true
	}
}

func TestRegistryInsertGetRemove(t *testing.T) {
	r := NewRegistry()
	c := NewClient(r.AllocateID(), "fp", nopSession{}, nil)

	if !r.Insert(c) {
		t.Fatalf("expected Insert to succeed on an open registry")
	}
	if got := r.Get(c.ClientID()); got != c {
		t.Fatalf("Get returned %v, want the inserted client", got)
	}
	if r.Count() != 1 {
		t.Fatalf("expected Count 1, got %d", r.Count())
	}

	removed := r.Remove(c.ClientID())
	if removed != c {
		t.Fatalf("Remove returned %v, want the removed client", removed)
	}
	if r.Get(c.ClientID()) != nil {
		t.Fatalf("expected Get to return nil after Remove")
	}
}

func TestRegistrySnapshotOrdersByJoinedAt(t *testing.T) {
	r := NewRegistry()
	first := NewClient(r.AllocateID(), "fp1", nopSession{}, nil)
	time.Sleep(time.Millisecond)
	second := NewClient(r.AllocateID(), "fp2", nopSession{}, nil)

	r.Insert(second)
	r.Insert(first)

	snap := r.Snapshot()
	if len(snap) != 2 || snap[0] != first || snap[1] != second {
		t.Fatalf("expected snapshot ordered [first, second] by JoinedAt, got %v", snap)
	}
}

func TestRegistryShutdownRejectsFurtherInserts(t *testing.T) {
	r := NewRegistry()
	c := NewClient(r.AllocateID(), "fp", nopSession{}, nil)
	r.Insert(c)

	evicted := r.Shutdown()
	if len(evicted) != 1 || evicted[0] != c {
		t.Fatalf("expected Shutdown to return the one registered client, got %v", evicted)
	}
	if r.Count() != 0 {
		t.Fatalf("expected Count 0 after Shutdown, got %d", r.Count())
	}

	late := NewClient(r.AllocateID(), "fp2", nopSession{}, nil)
	if r.Insert(late) {
		t.Fatalf("expected Insert to fail on a shut-down registry")
	}
}

func TestRegistryPeersExcludesNoOne(t *testing.T) {
	r := NewRegistry()
	a := NewClient(r.AllocateID(), "fpa", nopSession{}, nil)
	b := NewClient(r.AllocateID(), "fpb", nopSession{}, nil)
	r.Insert(a)
	r.Insert(b)

	peers := r.Peers()
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(peers))
	}
}
