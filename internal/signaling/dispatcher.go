package signaling

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/1ureka/peercall/internal/call"
	"github.com/1ureka/peercall/internal/negotiate"
	"github.com/1ureka/peercall/internal/notify"
	"github.com/1ureka/peercall/internal/protocol"
	"github.com/1ureka/peercall/internal/util"
)

const (
	DefaultRingTimeout   = 30 * time.Second
	DefaultAnswerTimeout = 30 * time.Second

	eventBufferSize = 256
	finishedMemory  = 128 // ended session ids remembered to reject replays
)

// PeerFactory creates a peer connection whose events are reported through
// events.
type PeerFactory func(ctx context.Context, sessionID string, servers []protocol.ICEServer, events call.PeerEvents) (call.Peer, error)

// Options configures a Dispatcher.
type Options struct {
	Self       call.Identity
	Media      call.MediaSource
	NewPeer    PeerFactory
	Negotiator *negotiate.Negotiator
	Candidates call.CandidatePolicy
	ICEServers []protocol.ICEServer

	// RingTimeout bounds how long an inbound call rings; AnswerTimeout bounds
	// how long an outbound call waits for an answer. Zero selects the
	// defaults, a negative value disables the timer.
	RingTimeout   time.Duration
	AnswerTimeout time.Duration

	Notifier notify.Notifier
}

type eventKind int

const (
	eventCandidate eventKind = iota
	eventConnected
	eventFailed
	eventTimeout
)

// event is something that happened outside the loop to a specific session.
type event struct {
	sessionID string
	kind      eventKind
	candidate protocol.ICECandidate
}

// Dispatcher owns the single call slot of one participant. Run serializes
// inbound messages, user actions, timer expiries and peer-connection events
// onto one goroutine; sessions are only ever touched from there.
type Dispatcher struct {
	opts     Options
	env      call.Env
	conn     Conn
	notifier notify.Notifier
	sender   *sender

	commands chan func()
	events   chan event
	stopped  chan struct{}

	// Loop-owned state. runCtx bounds the lifetime of peer connections.
	runCtx    context.Context
	active    *call.Session
	lastState call.State
	reason    string
	timer     *time.Timer
	finished  []string
}

// NewDispatcher creates a dispatcher for conn. Nothing happens until Run.
func NewDispatcher(conn Conn, opts Options) *Dispatcher {
	if opts.Negotiator == nil {
		opts.Negotiator = negotiate.New(negotiate.DefaultPolicy)
	}
	if opts.RingTimeout == 0 {
		opts.RingTimeout = DefaultRingTimeout
	}
	if opts.AnswerTimeout == 0 {
		opts.AnswerTimeout = DefaultAnswerTimeout
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	d := &Dispatcher{
		opts:     opts,
		conn:     conn,
		notifier: notifier,
		sender:   newSender(conn),
		commands: make(chan func()),
		events:   make(chan event, eventBufferSize),
		stopped:  make(chan struct{}),
	}
	d.env = call.Env{
		Self:       opts.Self,
		Media:      opts.Media,
		NewPeer:    d.newPeer,
		Negotiator: opts.Negotiator,
		Emit:       d.emit,
		Candidates: opts.Candidates,
		ICEServers: slices.Clone(opts.ICEServers),
	}
	return d
}

// Run processes events until ctx is cancelled or the connection closes. An
// active call is ended before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.runCtx = ctx
	writerDone := make(chan struct{})
	go func() {
		d.sender.loop(d.stopped)
		close(writerDone)
	}()

	defer func() {
		if d.active != nil {
			d.active.End()
			d.settle()
		}
		d.stopTimer()
		close(d.stopped)
		<-writerDone
	}()

	inbound := d.conn.Inbound()
	for {
		select {
		case m, ok := <-inbound:
			if !ok {
				return ErrConnClosed
			}
			d.handle(m)
		case fn := <-d.commands:
			fn()
		case ev := <-d.events:
			d.handleEvent(ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ---------------------------------------------------------------------------
// User actions
// ---------------------------------------------------------------------------

// Call starts an outgoing call and returns the new session id.
func (d *Dispatcher) Call(ctx context.Context, peerID string) (string, error) {
	var (
		id  string
		err error
	)
	if e := d.do(ctx, func() { id, err = d.startCall(ctx, peerID) }); e != nil {
		return "", e
	}
	return id, err
}

// Accept answers the ringing inbound call.
func (d *Dispatcher) Accept(ctx context.Context) error {
	var err error
	if e := d.do(ctx, func() {
		if d.active == nil {
			err = ErrNoActiveCall
			return
		}
		err = d.active.Accept(ctx)
		d.settle()
	}); e != nil {
		return e
	}
	return err
}

// Reject declines the ringing inbound call.
func (d *Dispatcher) Reject(ctx context.Context, reason protocol.Reason) error {
	var err error
	if e := d.do(ctx, func() {
		if d.active == nil {
			err = ErrNoActiveCall
			return
		}
		err = d.active.Reject(reason)
		d.settle()
	}); e != nil {
		return e
	}
	return err
}

// Hangup ends the current call in whatever state it is in.
func (d *Dispatcher) Hangup(ctx context.Context) error {
	var err error
	if e := d.do(ctx, func() {
		if d.active == nil || !d.active.End() {
			err = ErrNoActiveCall
			return
		}
		d.settle()
	}); e != nil {
		return e
	}
	return err
}

// Current returns a snapshot of the active session, if any.
func (d *Dispatcher) Current(ctx context.Context) (call.Snapshot, bool) {
	var (
		snap call.Snapshot
		ok   bool
	)
	_ = d.do(ctx, func() {
		if d.active != nil {
			snap, ok = d.active.Snapshot(), true
		}
	})
	return snap, ok
}

// do runs fn on the loop and waits for it to finish.
func (d *Dispatcher) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case d.commands <- func() { defer close(done); fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		return ErrClosed
	}
	<-done
	return nil
}

func (d *Dispatcher) startCall(ctx context.Context, peerID string) (string, error) {
	if d.active != nil {
		return "", fmt.Errorf("%w: call with %s in progress", call.ErrBusy, d.active.PeerID())
	}
	s, err := call.Initiate(ctx, d.env, peerID)
	if err != nil {
		return "", err
	}
	util.LogInfo("calling %s (session %s)", peerID, s.ID())
	d.track(s, d.opts.AnswerTimeout)
	return s.ID(), nil
}

// ---------------------------------------------------------------------------
// Inbound messages
// ---------------------------------------------------------------------------

func (d *Dispatcher) handle(m protocol.Message) {
	switch v := m.(type) {
	case protocol.ICEServers:
		d.setICEServers(v.Servers)
		return
	case protocol.CallRequest:
		d.handleRequest(v)
		return
	}

	h := m.Route()
	s := d.active
	if s == nil || s.ID() != h.SessionID {
		util.LogDebug("discarding %s for unknown session %s", m.Kind(), h.SessionID)
		return
	}
	if h.From != s.PeerID() && !systemTimeout(m) {
		util.LogDebug("discarding %s for session %s from %q", m.Kind(), h.SessionID, h.From)
		return
	}

	switch v := m.(type) {
	case protocol.CallAccept:
		if err := s.OnAnswer(v.Answer); err != nil {
			util.LogWarning("applying answer from %s: %v", v.From, err)
		}
	case protocol.CallReject:
		d.reason = string(v.Reason)
		s.OnRemoteReject(v.Reason)
	case protocol.CallBusy:
		s.OnRemoteBusy()
	case protocol.Candidate:
		if err := s.AddRemoteCandidate(v.Candidate); err != nil {
			util.LogWarning("remote candidate from %s: %v", v.From, err)
		}
	case protocol.CallEnd:
		s.OnRemoteEnd()
	case protocol.CallTimeout:
		s.OnRemoteTimeout()
	case protocol.CallError:
		d.reason = v.Error
		s.OnRemoteError(v.Error)
	}
	d.settle()
}

// systemTimeout reports whether m is a call-timeout issued by the signaling
// side rather than by the peer. Those carry no sender.
func systemTimeout(m protocol.Message) bool {
	return m.Kind() == protocol.TypeCallTimeout && m.Route().From == ""
}

func (d *Dispatcher) handleRequest(req protocol.CallRequest) {
	if req.To != d.opts.Self.ID {
		util.LogDebug("discarding call-request addressed to %q", req.To)
		return
	}
	if (d.active != nil && d.active.ID() == req.SessionID) || slices.Contains(d.finished, req.SessionID) {
		util.LogDebug("discarding repeated call-request for session %s", req.SessionID)
		return
	}

	reply := protocol.Header{SessionID: req.SessionID, From: d.opts.Self.ID, To: req.From}
	if d.active != nil {
		util.LogInfo("busy: rejecting call from %s", req.From)
		d.emit(protocol.CallBusy{Header: reply})
		d.emit(protocol.CallReject{Header: reply, Reason: protocol.ReasonBusy})
		return
	}

	s, err := call.Receive(d.env, req)
	if err != nil {
		util.LogWarning("call-request from %s: %v", req.From, err)
		d.emit(protocol.CallError{Header: reply, Error: "invalid offer"})
		return
	}
	d.track(s, d.opts.RingTimeout)
	d.notifier.Incoming(s.Snapshot())
}

func (d *Dispatcher) setICEServers(servers []protocol.ICEServer) {
	util.LogDebug("received %d ICE servers", len(servers))
	d.env.ICEServers = slices.Clone(servers)
	if d.active == nil {
		return
	}
	if err := d.active.SetICEServers(servers); err != nil {
		util.LogWarning("updating ICE servers: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Loop events
// ---------------------------------------------------------------------------

func (d *Dispatcher) handleEvent(ev event) {
	s := d.active
	if s == nil || s.ID() != ev.sessionID {
		return
	}

	switch ev.kind {
	case eventCandidate:
		s.SendLocalCandidate(ev.candidate)
	case eventConnected:
		s.OnConnected()
	case eventFailed:
		s.OnConnectivityFailed()
	case eventTimeout:
		if s.Timeout() {
			util.LogDebug("session %s timed out", s.ID())
		}
	}
	d.settle()
}

// post delivers an event from another goroutine. It never blocks once the
// dispatcher has stopped.
func (d *Dispatcher) post(ev event) {
	select {
	case d.events <- ev:
	case <-d.stopped:
	}
}

// newPeer wraps the configured factory so that peer-connection callbacks
// come back through the loop tagged with their session. The peer lives as
// long as Run, not as long as the request that created it.
func (d *Dispatcher) newPeer(ctx context.Context, sessionID string, servers []protocol.ICEServer) (call.Peer, error) {
	if d.opts.NewPeer == nil {
		return nil, fmt.Errorf("no peer factory configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.opts.NewPeer(d.runCtx, sessionID, servers, call.PeerEvents{
		Candidate: func(c protocol.ICECandidate) {
			d.post(event{sessionID: sessionID, kind: eventCandidate, candidate: c})
		},
		Connected: func() { d.post(event{sessionID: sessionID, kind: eventConnected}) },
		Failed:    func() { d.post(event{sessionID: sessionID, kind: eventFailed}) },
	})
}

func (d *Dispatcher) emit(m protocol.Message) {
	d.sender.send(m, d.stopped)
}

// ---------------------------------------------------------------------------
// Slot bookkeeping
// ---------------------------------------------------------------------------

// track installs s in the slot and arms its ring or answer timer.
func (d *Dispatcher) track(s *call.Session, timeout time.Duration) {
	d.active = s
	d.lastState = s.State()
	d.reason = ""
	if timeout > 0 {
		id := s.ID()
		d.timer = time.AfterFunc(timeout, func() {
			d.post(event{sessionID: id, kind: eventTimeout})
		})
	}
}

// settle reacts to the active session's state after every operation: it
// disarms the timer once the call is answered, announces Connected and
// reports the outcome and frees the slot on a terminal state.
func (d *Dispatcher) settle() {
	s := d.active
	if s == nil {
		return
	}
	state := s.State()
	if state == d.lastState {
		return
	}
	d.lastState = state

	if state != call.StateInitiating && state != call.StateRinging {
		d.stopTimer()
	}
	if state == call.StateConnected {
		d.notifier.Connected(s.Snapshot())
	}
	if !state.Terminal() {
		return
	}

	snap := s.Snapshot()
	d.notifier.Outcome(notify.Outcome{
		SessionID: snap.ID,
		PeerID:    snap.PeerID,
		Role:      snap.Role,
		State:     snap.State,
		Reason:    d.reason,
		Cause:     snap.Cause,
		Local:     snap.LocalAction,
	})
	util.LogDebug("session %s finished: %s", snap.ID, snap.State)

	d.finished = append(d.finished, snap.ID)
	if len(d.finished) > finishedMemory {
		d.finished = d.finished[1:]
	}
	d.active = nil
	d.reason = ""
}

func (d *Dispatcher) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
