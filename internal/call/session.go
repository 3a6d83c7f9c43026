package call

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/peercall/internal/protocol"
	"github.com/1ureka/peercall/internal/util"
)

// Session is one call between the local participant and a single peer.
//
// The state changes only after the step it depends on (media acquisition,
// description creation or application) has succeeded. Every terminal
// transition goes through finish, which releases media, the peer connection
// and pending candidates exactly once.
type Session struct {
	env Env

	id          string
	role        Role
	peerID      string
	peerDisplay string
	state       State
	createdAt   time.Time
	endedAt     time.Time

	local  *protocol.Description
	remote *protocol.Description

	buffer     *CandidateBuffer
	iceServers []protocol.ICEServer

	peer  Peer
	media Media

	cause       error
	localAction bool
}

func newSession(env Env, id string, role Role, peerID string) *Session {
	return &Session{
		env:        env,
		id:         id,
		role:       role,
		peerID:     peerID,
		state:      StateIdle,
		createdAt:  env.now(),
		buffer:     NewCandidateBuffer(env.Candidates),
		iceServers: slices.Clone(env.ICEServers),
	}
}

// ---------------------------------------------------------------------------
// Creation
// ---------------------------------------------------------------------------

// Initiate starts an outgoing call to peerID: it acquires local media,
// creates the peer connection, builds the offer and emits call-request.
//
// On any failure nothing is returned, everything acquired so far is released
// and the error wraps ErrMediaAccess or ErrNegotiation.
func Initiate(ctx context.Context, env Env, peerID string) (*Session, error) {
	if peerID == "" || peerID == env.Self.ID {
		return nil, fmt.Errorf("%w: cannot call %q", ErrInvalidState, peerID)
	}

	s := newSession(env, uuid.NewString(), RoleCaller, peerID)

	if err := s.acquire(ctx); err != nil {
		s.release()
		return nil, err
	}

	offer, err := env.Negotiator.Offer(s.peer)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("%w: %w", ErrNegotiation, err)
	}
	s.local = &offer
	s.transition(StateInitiating)

	s.emit(protocol.CallRequest{
		Header:      s.header(),
		Offer:       offer,
		FromDisplay: env.Self.Display,
	})
	return s, nil
}

// Receive creates the callee side of an inbound call request. The offer is
// only stored; media and the answer wait for Accept so that the user's
// decision gates resource acquisition.
func Receive(env Env, req protocol.CallRequest) (*Session, error) {
	if req.Offer.Type != protocol.SDPTypeOffer || !req.Offer.IsValid() {
		return nil, fmt.Errorf("%w: type %q, %d byte body", ErrInvalidOffer, req.Offer.Type, len(req.Offer.Body))
	}
	if req.SessionID == "" || req.From == "" {
		return nil, fmt.Errorf("%w: missing session or caller id", ErrInvalidOffer)
	}

	s := newSession(env, req.SessionID, RoleCallee, req.From)
	s.peerDisplay = req.FromDisplay
	offer := req.Offer
	s.remote = &offer
	s.transition(StateRinging)
	return s, nil
}

// ---------------------------------------------------------------------------
// User actions
// ---------------------------------------------------------------------------

// Accept answers a ringing call. A failure moves the session to Failed and
// tells the caller with call-error.
func (s *Session) Accept(ctx context.Context) error {
	if s.state != StateRinging {
		return s.invalid("accept")
	}

	if err := s.acquire(ctx); err != nil {
		s.fail(err, true)
		return err
	}

	filtered := s.env.Negotiator.Filter(*s.remote)
	answer, err := s.env.Negotiator.Answer(s.peer, filtered)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrNegotiation, err)
		s.fail(err, true)
		return err
	}

	s.remote = &filtered
	s.local = &answer
	s.transition(StateNegotiating)
	s.flush()

	s.emit(protocol.CallAccept{Header: s.header(), Answer: answer})
	return nil
}

// Reject declines a ringing call. No resources are held yet, so the release
// is a no-op. A reason the wire format cannot carry is sent as
// user_rejected.
func (s *Session) Reject(reason protocol.Reason) error {
	if s.state != StateRinging {
		return s.invalid("reject")
	}
	if !reason.Valid() {
		if reason != "" {
			util.LogDebug("[%s] unknown reject reason %q, sending %s", s.short(), reason, protocol.ReasonUserRejected)
		}
		reason = protocol.ReasonUserRejected
	}

	s.emit(protocol.CallReject{Header: s.header(), Reason: reason})
	s.localAction = true
	s.finish(StateRejected, nil)
	return nil
}

// End hangs up. It is valid from any non-terminal state and reports whether
// it did anything; calling it on a terminal session is a no-op.
func (s *Session) End() bool {
	if s.state.Terminal() {
		return false
	}

	s.emit(protocol.CallEnd{Header: s.header()})
	s.localAction = true
	s.finish(StateEnded, nil)
	return true
}

// Timeout is invoked when the ring or answer deadline expires. It only acts
// while the session is still Initiating or Ringing.
func (s *Session) Timeout() bool {
	if s.state != StateInitiating && s.state != StateRinging {
		return false
	}

	s.emit(protocol.CallTimeout{Header: s.header()})
	s.finish(StateTimedOut, nil)
	return true
}

// ---------------------------------------------------------------------------
// Peer signals
// ---------------------------------------------------------------------------

// OnAnswer applies the callee's answer on the caller side.
func (s *Session) OnAnswer(answer protocol.Description) error {
	if s.state != StateInitiating {
		return s.invalid("apply answer")
	}

	if err := s.env.Negotiator.Accept(s.peer, answer); err != nil {
		err = fmt.Errorf("%w: %w", ErrNegotiation, err)
		s.fail(err, true)
		return err
	}

	s.remote = &answer
	s.transition(StateNegotiating)
	s.flush()
	return nil
}

// AddRemoteCandidate buffers c until the remote description is applied and
// consumes it directly afterwards. Duplicates are filtered according to the
// session's CandidatePolicy.
func (s *Session) AddRemoteCandidate(c protocol.ICECandidate) error {
	if s.state.Terminal() {
		return s.invalid("add candidate")
	}
	if s.buffer.Duplicate(c) {
		util.LogDebug("[%s] dropping duplicate candidate %q", s.short(), c.Candidate)
		return nil
	}
	if s.buffer.Enqueue(c) {
		s.buffer.Remember(c)
		util.LogDebug("[%s] buffered candidate (%d pending)", s.short(), s.buffer.Len())
		return nil
	}
	if err := s.consume(c); err != nil {
		return err
	}
	s.buffer.Remember(c)
	return nil
}

// OnRemoteReject handles call-reject from the callee.
func (s *Session) OnRemoteReject(reason protocol.Reason) bool {
	if s.state != StateInitiating {
		return false
	}
	if reason == protocol.ReasonBusy {
		s.finish(StateBusy, ErrBusy)
	} else {
		s.finish(StateRejected, nil)
	}
	return true
}

// OnRemoteBusy handles call-busy from the callee.
func (s *Session) OnRemoteBusy() bool {
	return s.OnRemoteReject(protocol.ReasonBusy)
}

// OnRemoteEnd handles call-end from the peer.
func (s *Session) OnRemoteEnd() bool {
	if s.state.Terminal() {
		return false
	}
	s.finish(StateEnded, nil)
	return true
}

// OnRemoteError handles call-error from the peer.
func (s *Session) OnRemoteError(reason string) bool {
	if s.state.Terminal() {
		return false
	}
	s.finish(StateFailed, fmt.Errorf("%w: peer reported %q", ErrNegotiation, reason))
	return true
}

// OnRemoteTimeout handles call-timeout from the peer.
func (s *Session) OnRemoteTimeout() bool {
	if s.state.Terminal() {
		return false
	}
	s.finish(StateTimedOut, nil)
	return true
}

// ---------------------------------------------------------------------------
// Connection events
// ---------------------------------------------------------------------------

// OnConnected moves a negotiating session to Connected.
func (s *Session) OnConnected() bool {
	if s.state != StateNegotiating {
		return false
	}
	s.transition(StateConnected)
	return true
}

// OnConnectivityFailed fails a negotiating or connected session and tells the
// peer with call-end.
func (s *Session) OnConnectivityFailed() bool {
	if s.state != StateNegotiating && s.state != StateConnected {
		return false
	}
	s.emit(protocol.CallEnd{Header: s.header()})
	s.finish(StateFailed, ErrConnectivity)
	return true
}

// SendLocalCandidate forwards a locally gathered candidate to the peer.
func (s *Session) SendLocalCandidate(c protocol.ICECandidate) bool {
	if s.state.Terminal() || s.peer == nil {
		return false
	}
	s.emit(protocol.Candidate{Header: s.header(), Candidate: c})
	return true
}

// SetICEServers replaces the relay endpoint list, including on a live peer
// connection.
func (s *Session) SetICEServers(servers []protocol.ICEServer) error {
	s.iceServers = slices.Clone(servers)
	if s.peer == nil || s.state.Terminal() {
		return nil
	}
	return s.peer.SetICEServers(s.iceServers)
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func (s *Session) ID() string        { return s.id }
func (s *Session) Role() Role        { return s.role }
func (s *Session) PeerID() string    { return s.peerID }
func (s *Session) State() State      { return s.state }
func (s *Session) Cause() error      { return s.cause }
func (s *Session) LocalAction() bool { return s.localAction }

// Snapshot is a copy of a session's observable fields.
type Snapshot struct {
	ID                string
	Role              Role
	PeerID            string
	PeerDisplay       string
	State             State
	CreatedAt         time.Time
	EndedAt           time.Time
	Local             *protocol.Description
	Remote            *protocol.Description
	PendingCandidates int
	ICEServers        []protocol.ICEServer
	Cause             error
	LocalAction       bool
}

// Snapshot returns a copy safe to hand to other goroutines.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:                s.id,
		Role:              s.role,
		PeerID:            s.peerID,
		PeerDisplay:       s.peerDisplay,
		State:             s.state,
		CreatedAt:         s.createdAt,
		EndedAt:           s.endedAt,
		PendingCandidates: s.buffer.Len(),
		ICEServers:        slices.Clone(s.iceServers),
		Cause:             s.cause,
		LocalAction:       s.localAction,
	}
	if s.local != nil {
		d := *s.local
		snap.Local = &d
	}
	if s.remote != nil {
		d := *s.remote
		snap.Remote = &d
	}
	return snap
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// acquire takes local media and creates the peer connection. Media is taken
// at most once per session.
func (s *Session) acquire(ctx context.Context) error {
	media, err := s.env.Media.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMediaAccess, err)
	}
	s.media = media

	peer, err := s.env.NewPeer(ctx, s.id, s.iceServers)
	if err != nil {
		return fmt.Errorf("%w: create peer connection: %w", ErrNegotiation, err)
	}
	s.peer = peer

	if err := peer.AttachMedia(media); err != nil {
		return fmt.Errorf("%w: attach media: %w", ErrNegotiation, err)
	}
	return nil
}

func (s *Session) flush() {
	n := s.buffer.Flush(func(c protocol.ICECandidate) {
		if err := s.consume(c); err != nil {
			s.buffer.Forget(c)
			util.LogWarning("[%s] %v", s.short(), err)
		}
	})
	if n > 0 {
		util.LogDebug("[%s] flushed %d buffered candidates", s.short(), n)
	}
}

func (s *Session) consume(c protocol.ICECandidate) error {
	if err := s.peer.AddICECandidate(c); err != nil {
		return fmt.Errorf("add remote candidate: %w", err)
	}
	return nil
}

// fail moves the session to Failed, optionally telling the peer.
func (s *Session) fail(err error, notifyPeer bool) {
	if notifyPeer {
		s.emit(protocol.CallError{Header: s.header(), Error: errorText(err)})
	}
	s.finish(StateFailed, err)
}

// finish is the single path into a terminal state.
func (s *Session) finish(state State, cause error) {
	if s.state.Terminal() {
		return
	}
	s.transition(state)
	s.cause = cause
	s.endedAt = s.env.now()
	s.release()
}

// release stops capture, closes the peer connection and clears the buffer.
func (s *Session) release() {
	if s.media != nil {
		s.media.Stop()
		s.media = nil
	}
	if s.peer != nil {
		if err := s.peer.Close(); err != nil {
			util.LogDebug("[%s] closing peer connection: %v", s.short(), err)
		}
		s.peer = nil
	}
	s.buffer.Clear()
}

func (s *Session) transition(to State) {
	util.LogDebug("[%s] %s: %s → %s", s.short(), s.role, s.state, to)
	s.state = to
}

func (s *Session) header() protocol.Header {
	return protocol.Header{SessionID: s.id, From: s.env.Self.ID, To: s.peerID}
}

func (s *Session) emit(m protocol.Message) {
	if s.env.Emit != nil {
		s.env.Emit(m)
	}
}

func (s *Session) invalid(op string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, op, s.state)
}

func (s *Session) short() string {
	if len(s.id) > 8 {
		return s.id[:8]
	}
	return s.id
}

// errorText maps an error onto the short text sent in call-error.
func errorText(err error) string {
	switch {
	case errors.Is(err, ErrMediaAccess):
		return "media unavailable"
	case errors.Is(err, ErrNegotiation):
		return "negotiation failed"
	default:
		return err.Error()
	}
}
