// Package signaling connects call sessions to the message transport: a
// Dispatcher that owns the single session slot, plus the WebSocket and
// in-memory transports it runs over.
package signaling

import (
	"errors"

	"github.com/1ureka/peercall/internal/protocol"
)

var (
	// ErrClosed is returned by Dispatcher methods once Run has returned.
	ErrClosed = errors.New("signaling: dispatcher closed")

	// ErrConnClosed is returned by Run when the transport goes away.
	ErrConnClosed = errors.New("signaling: connection closed")

	// ErrNoActiveCall is returned by user actions when there is no session.
	ErrNoActiveCall = errors.New("signaling: no active call")
)

// Conn is a bidirectional message transport to the signaling network.
//
// Send addresses the message by its To field; an empty To broadcasts within
// the room. Inbound delivers decoded messages and is closed when the
// connection ends.
type Conn interface {
	Send(protocol.Message) error
	Inbound() <-chan protocol.Message
	Close() error
}
