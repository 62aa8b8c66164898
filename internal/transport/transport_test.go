package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

func TestSendQueueWatermarks(t *testing.T) {
	q := newSendQueue(100)
	if !q.push(make([]byte, 80)) {
		t.Fatalf("expected push under budget to succeed")
	}
	if q.size < q.highWater {
		t.Fatalf("expected to be above high watermark at size %d (high=%d)", q.size, q.highWater)
	}
	if q.crossedLowWatermark() {
		t.Fatalf("should not report crossing low watermark before draining")
	}
	q.pop()
	if !q.crossedLowWatermark() {
		t.Fatalf("expected low watermark crossing after drain")
	}
	if q.crossedLowWatermark() {
		t.Fatalf("crossing should only fire once per high->low transition")
	}
}

func TestSendQueueRejectsOverBudget(t *testing.T) {
	q := newSendQueue(10)
	if !q.push(make([]byte, 10)) {
		t.Fatalf("expected push exactly at budget to succeed")
	}
	if q.push(make([]byte, 1)) {
		t.Fatalf("expected push over budget to report WouldBlock")
	}
}

func TestTCPSessionRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var wg sync.WaitGroup
	wg.Add(1)

	serverRecv := make(chan []byte, 1)
	go func() {
		defer wg.Done()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		AcceptTCP(conn, Events{
			OnRecv: func(b []byte) {
				cp := make([]byte, len(b))
				copy(cp, b)
				serverRecv <- cp
			},
		})
	}()

	clientOpen := make(chan struct{}, 1)
	opener := TCPOpener{}
	sess, err := opener.Open(context.Background(), ln.Addr().String(), RoleInitiator, Events{
		OnOpen: func() { clientOpen <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sess.Close(ReasonLocalClose)

	select {
	case <-clientOpen:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for OnOpen")
	}

	if res := sess.Send([]byte("hello")); res != Sent {
		t.Fatalf("expected Sent, got %v", res)
	}

	select {
	case got := <-serverRecv:
		if string(got) != "hello" {
			t.Fatalf("got %q, want %q", got, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for server recv")
	}

	wg.Wait()
}
