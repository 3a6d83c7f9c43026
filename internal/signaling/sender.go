package signaling

import (
	"github.com/1ureka/peercall/internal/protocol"
	"github.com/1ureka/peercall/internal/util"
)

const sendBufferSize = 64 // outgoing message channel capacity

// sender is the single-writer goroutine that serializes every outbound
// message onto the connection, so the dispatcher loop never blocks on the
// network.
type sender struct {
	conn  Conn
	inbox chan protocol.Message
}

func newSender(conn Conn) *sender {
	return &sender{
		conn:  conn,
		inbox: make(chan protocol.Message, sendBufferSize),
	}
}

// loop drains the inbox until stop is closed, then flushes whatever is still
// queued so a final call-end reaches the peer.
func (s *sender) loop(stop <-chan struct{}) {
	for {
		select {
		case m := <-s.inbox:
			s.write(m)
		case <-stop:
			for {
				select {
				case m := <-s.inbox:
					s.write(m)
				default:
					return
				}
			}
		}
	}
}

func (s *sender) write(m protocol.Message) {
	h := m.Route()
	if err := s.conn.Send(m); err != nil {
		util.LogError("failed to send %s (session=%s, to=%s): %v", m.Kind(), h.SessionID, h.To, err)
		return
	}
	util.LogDebug("sent %s (session=%s, to=%s)", m.Kind(), h.SessionID, h.To)
}

// send enqueues a message for transmission. It blocks if the buffer is full
// and returns silently once stop is closed.
func (s *sender) send(m protocol.Message, stop <-chan struct{}) {
	select {
	case s.inbox <- m:
	case <-stop:
	}
}
