package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/logging"
)

var log = logging.L("transport")

const (
	tcpDialTimeout  = 10 * time.Second
	tcpWriteTimeout = 10 * time.Second
	// maxFrameSize bounds a single length-prefixed frame so a corrupt or
	// malicious length field cannot force an unbounded allocation.
	maxFrameSize = 16 << 20
)

// TCPOpener opens sessions over raw net.Conn with 4-byte big-endian
// length-prefix framing (each Send call is one frame).
type TCPOpener struct{}

func (TCPOpener) Open(ctx context.Context, endpoint string, role Role, ev Events) (Session, error) {
	var conn net.Conn
	var err error
	if role == RoleInitiator {
		d := net.Dialer{Timeout: tcpDialTimeout}
		conn, err = d.DialContext(ctx, "tcp", endpoint)
		if err != nil {
			return nil, fmt.Errorf("transport: tcp dial: %w", err)
		}
	} else {
		return nil, fmt.Errorf("transport: tcp responder requires AcceptTCP")
	}
	return newTCPSession(conn, role, ev), nil
}

// AcceptTCP wraps an already-accepted net.Conn (server-side) as a
// Session.
func AcceptTCP(conn net.Conn, ev Events) Session {
	return newTCPSession(conn, RoleResponder, ev)
}

type tcpSession struct {
	conn   net.Conn
	role   Role
	ev     Events
	queue  *sendQueue
	notify chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newTCPSession(conn net.Conn, role Role, ev Events) *tcpSession {
	s := &tcpSession{
		conn:   conn,
		role:   role,
		ev:     ev,
		queue:  newSendQueue(DefaultSendBudget),
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	go s.readLoop()
	go s.writeLoop()
	if ev.OnOpen != nil {
		ev.OnOpen()
	}
	return s
}

func (s *tcpSession) Role() Role { return s.role }

func (s *tcpSession) Send(b []byte) SendResult {
	select {
	case <-s.closed:
		return Closed
	default:
	}
	if !s.queue.push(b) {
		return WouldBlock
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return Sent
}

func (s *tcpSession) Close(reason ClosedReason) {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
		if s.ev.OnClosed != nil {
			s.ev.OnClosed(reason)
		}
	})
}

func (s *tcpSession) writeLoop() {
	for {
		select {
		case <-s.closed:
			return
		case <-s.notify:
		}

		for {
			chunk := s.queue.pop()
			if chunk == nil {
				break
			}
			if err := s.writeFrame(chunk); err != nil {
				log.Warn("tcp write failed", "error", err)
				s.Close(ReasonIOError)
				return
			}
			if s.queue.crossedLowWatermark() && s.ev.OnWritable != nil {
				s.ev.OnWritable()
			}
		}
	}
}

func (s *tcpSession) writeFrame(b []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(tcpWriteTimeout))
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := s.conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := s.conn.Write(b)
	return err
}

func (s *tcpSession) readLoop() {
	var hdr [4]byte
	for {
		if _, err := io.ReadFull(s.conn, hdr[:]); err != nil {
			s.Close(closedReasonFor(err))
			return
		}
		n := binary.BigEndian.Uint32(hdr[:])
		if n > maxFrameSize {
			s.Close(ReasonProtocolViolation)
			return
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(s.conn, body); err != nil {
			s.Close(closedReasonFor(err))
			return
		}
		if s.ev.OnRecv != nil {
			s.ev.OnRecv(body)
		}
	}
}

func closedReasonFor(err error) ClosedReason {
	if err == io.EOF {
		return ReasonPeerClosed
	}
	var ne net.Error
	if ok := asNetError(err, &ne); ok && ne.Timeout() {
		return ReasonTimeout
	}
	return ReasonIOError
}

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if ok {
		*target = ne
	}
	return ok
}
