// Package call implements the one-to-one call session state machine: the
// caller/callee handshake, candidate buffering, single-path cleanup and the
// terminal outcomes a session can reach.
//
// A Session is driven by exactly one goroutine. The signaling dispatcher
// serializes transport messages, user actions and timer expiries onto it.
package call

import (
	"context"
	"time"

	"github.com/1ureka/peercall/internal/negotiate"
	"github.com/1ureka/peercall/internal/protocol"
)

// Peer is the peer-connection object a session negotiates through.
type Peer interface {
	negotiate.Peer

	// AddICECandidate hands a remote candidate to the connection.
	AddICECandidate(protocol.ICECandidate) error

	// AttachMedia adds the local capture tracks to the connection.
	AttachMedia(Media) error

	// SetICEServers replaces the relay endpoints of a live connection.
	SetICEServers([]protocol.ICEServer) error

	Close() error
}

// PeerFactory creates the peer connection for a session. The dispatcher's
// factory routes the connection's own events (local candidates, state
// changes) back onto its loop tagged with sessionID.
type PeerFactory func(ctx context.Context, sessionID string, servers []protocol.ICEServer) (Peer, error)

// PeerEvents are the callbacks a peer connection raises on its own
// goroutines. Any of them may be nil.
type PeerEvents struct {
	// Candidate is called for every locally gathered candidate.
	Candidate func(protocol.ICECandidate)

	// Connected is called once the media path is up.
	Connected func()

	// Failed is called when the media path fails or disconnects for good.
	Failed func()
}

// Media is acquired local capture. Stop releases the devices.
type Media interface {
	Stop()
}

// MediaSource acquires local capture.
type MediaSource interface {
	Acquire(ctx context.Context) (Media, error)
}

// Identity describes the local participant.
type Identity struct {
	ID      string
	Display string
}

// Env holds the collaborators shared by every session of one participant.
type Env struct {
	Self       Identity
	Media      MediaSource
	NewPeer    PeerFactory
	Negotiator *negotiate.Negotiator

	// Emit queues an outbound message. It must not block on the network.
	Emit func(protocol.Message)

	Candidates CandidatePolicy
	ICEServers []protocol.ICEServer

	// Now defaults to time.Now.
	Now func() time.Time
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
