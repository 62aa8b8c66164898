package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket session tuning for the read/write pump pair. This Session
// does not reconnect on its own — reconnect policy belongs to the
// upper layer.
const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsHandshakeDelay = 10 * time.Second
	wsMaxMessageSize = 1 << 20
)

// WSOpener opens sessions over a WebSocket binary connection.
type WSOpener struct {
	// Header is sent with the dial request (e.g. for auth tokens).
	Header http.Header
}

func (o WSOpener) Open(ctx context.Context, endpoint string, role Role, ev Events) (Session, error) {
	if role != RoleInitiator {
		return nil, fmt.Errorf("transport: websocket responder requires AcceptWS")
	}
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeDelay}
	conn, _, err := dialer.DialContext(ctx, endpoint, o.Header)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial: %w", err)
	}
	return newWSSession(conn, role, ev), nil
}

// AcceptWS wraps an already-upgraded *websocket.Conn (server-side) as a
// Session.
func AcceptWS(conn *websocket.Conn, ev Events) Session {
	return newWSSession(conn, RoleResponder, ev)
}

type wsSession struct {
	conn   *websocket.Conn
	role   Role
	ev     Events
	queue  *sendQueue
	notify chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSSession(conn *websocket.Conn, role Role, ev Events) *wsSession {
	conn.SetReadLimit(wsMaxMessageSize)
	s := &wsSession{
		conn:   conn,
		role:   role,
		ev:     ev,
		queue:  newSendQueue(DefaultSendBudget),
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	go s.readPump()
	go s.writePump()
	if ev.OnOpen != nil {
		ev.OnOpen()
	}
	return s
}

func (s *wsSession) Role() Role { return s.role }

func (s *wsSession) Send(b []byte) SendResult {
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

func (s *wsSession) Close(reason ClosedReason) {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteWait))
		s.conn.Close()
		if s.ev.OnClosed != nil {
			s.ev.OnClosed(reason)
		}
	})
}

func (s *wsSession) readPump() {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.Close(ReasonIOError)
			} else {
				s.Close(ReasonPeerClosed)
			}
			return
		}
		if s.ev.OnRecv != nil {
			s.ev.OnRecv(msg)
		}
	}
}

func (s *wsSession) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return

		case <-s.notify:
			for {
				chunk := s.queue.pop()
				if chunk == nil {
					break
				}
				s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
					log.Warn("websocket write failed", "error", err)
					s.Close(ReasonIOError)
					return
				}
				if s.queue.crossedLowWatermark() && s.ev.OnWritable != nil {
					s.ev.OnWritable()
				}
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close(ReasonIOError)
				return
			}
		}
	}
}
