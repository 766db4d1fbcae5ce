// Package wsmanager implements the WebSocketSession and
// WebSocketSessionManager described in SPEC_FULL.md §3/§4.4.2: sessions are
// addressable by id, can belong to zero or more groups, and the manager
// guarantees that a closed session disappears from every group it was in,
// purging any group left empty.
//
// Mutation and iteration are both routed through a single goroutine (the
// same discipline the teacher's internal/websocket Hub uses for its
// register/unregister/broadcast channels), so group snapshots are always
// consistent without needing to copy maps under a lock.
package wsmanager

import (
	"encoding/json"
	"sync"

	"github.com/dispatchkit/dispatch/internal/apperr"
)

const sendBuffer = 256

// Session is a long-lived WebSocket connection identity. The transport
// (internal/listener/http) owns the actual gorilla/websocket.Conn and drains
// Outbound() in its own write goroutine; Session itself never touches the
// socket, so concurrent producers calling Send never race on the wire.
type Session struct {
	ID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id string) *Session {
	return &Session{
		ID:   id,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Send enqueues a frame for the session's write goroutine. A full buffer
// means the client is too slow to keep up; rather than block the caller
// indefinitely it reports a connector I/O error, matching the teacher's
// Hub.Broadcast policy of dropping slow clients.
func (s *Session) Send(message []byte) error {
	select {
	case <-s.done:
		return apperr.New(apperr.KindConnectorIO, "wsmanager: session "+s.ID+" closed")
	default:
	}
	select {
	case s.send <- message:
		return nil
	default:
		return apperr.New(apperr.KindConnectorIO, "wsmanager: session "+s.ID+" send buffer full")
	}
}

// SendJSON marshals v and enqueues it as a text frame.
func (s *Session) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperr.Internal(err)
	}
	return s.Send(data)
}

// Outbound is drained by the transport's write goroutine.
func (s *Session) Outbound() <-chan []byte { return s.send }

// Done closes when the session has been unregistered.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
