package client

import (
	"fmt"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/transport"
	"github.com/ascii-chat/ascii-chat/internal/wire"
)

// connState bridges a transport.Session's callback-driven I/O to the
// blocking read-a-message style the handshake and control loop want,
// mirroring internal/server/handshake.go's connState (inverted: this
// side dials rather than accepts).
type connState struct {
	sess     transport.Session
	recvCh   chan []byte
	closedCh chan transport.ClosedReason
}

func newConnState() *connState {
	return &connState{
		recvCh:   make(chan []byte, 32),
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
				log.Warn("dropping inbound packet, recv buffer full")
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
		return nil, fmt.Errorf("client: connection closed: %s", reason)
	case <-time.After(timeout):
		return nil, fmt.Errorf("client: timed out waiting for server after %s", timeout)
	}
}
