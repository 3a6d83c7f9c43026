package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/peercall/internal/call"
	"github.com/1ureka/peercall/internal/call/calltest"
	"github.com/1ureka/peercall/internal/notify"
	"github.com/1ureka/peercall/internal/protocol"
)

const waitTimeout = 3 * time.Second

// Compile-time interface check.
var _ notify.Notifier = (*recorder)(nil)

// recorder collects notifications. onIncoming runs on the dispatcher loop,
// so it must hand work off to another goroutine.
type recorder struct {
	incoming   chan call.Snapshot
	connected  chan call.Snapshot
	outcomes   chan notify.Outcome
	onIncoming func(call.Snapshot)
}

func newRecorder() *recorder {
	return &recorder{
		incoming:  make(chan call.Snapshot, 8),
		connected: make(chan call.Snapshot, 8),
		outcomes:  make(chan notify.Outcome, 8),
	}
}

func (r *recorder) Incoming(s call.Snapshot) {
	r.incoming <- s
	if r.onIncoming != nil {
		r.onIncoming(s)
	}
}

func (r *recorder) Connected(s call.Snapshot) { r.connected <- s }
func (r *recorder) Outcome(o notify.Outcome)  { r.outcomes <- o }

func (r *recorder) waitOutcome(t *testing.T) notify.Outcome {
	t.Helper()
	select {
	case o := <-r.outcomes:
		return o
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for an outcome")
		return notify.Outcome{}
	}
}

func (r *recorder) waitIncoming(t *testing.T) call.Snapshot {
	t.Helper()
	select {
	case s := <-r.incoming:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for an incoming call")
		return call.Snapshot{}
	}
}

func (r *recorder) waitConnected(t *testing.T) call.Snapshot {
	t.Helper()
	select {
	case s := <-r.connected:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for connected")
		return call.Snapshot{}
	}
}

// participant is one dispatcher wired to a hub with fake media and peers.
type participant struct {
	id    string
	d     *Dispatcher
	media *calltest.FakeMediaSource
	peers *calltest.Peers
	rec   *recorder

	mu     sync.Mutex
	events map[string]call.PeerEvents
}

func join(t *testing.T, hub *MemoryHub, id string, configure func(*participant, *Options)) *participant {
	t.Helper()

	conn, err := hub.Join(id)
	if err != nil {
		t.Fatalf("Join(%q): %v", id, err)
	}

	p := &participant{
		id:     id,
		media:  &calltest.FakeMediaSource{},
		peers:  &calltest.Peers{},
		rec:    newRecorder(),
		events: make(map[string]call.PeerEvents),
	}
	opts := Options{
		Self:  call.Identity{ID: id, Display: "User " + id},
		Media: p.media,
		NewPeer: func(ctx context.Context, sessionID string, servers []protocol.ICEServer, events call.PeerEvents) (call.Peer, error) {
			p.mu.Lock()
			p.events[sessionID] = events
			p.mu.Unlock()
			return p.peers.New(ctx, sessionID, servers)
		},
		Notifier: p.rec,
	}
	if configure != nil {
		configure(p, &opts)
	}
	p.d = NewDispatcher(conn, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		conn.Close()
	})
	return p
}

func (p *participant) peerEvents(t *testing.T, sessionID string) call.PeerEvents {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	ev, ok := p.events[sessionID]
	if !ok {
		t.Fatalf("%s has no peer for session %s", p.id, sessionID)
	}
	return ev
}

// autoAccept answers every incoming call.
func autoAccept(p *participant, _ *Options) {
	p.rec.onIncoming = func(call.Snapshot) {
		go p.d.Accept(context.Background())
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func assertReleased(t *testing.T, p *participant) {
	t.Helper()
	for i, m := range p.media.Acquired() {
		if m.Stopped() != 1 {
			t.Errorf("%s media #%d stopped %d times", p.id, i, m.Stopped())
		}
	}
	for i, peer := range p.peers.All() {
		if peer.Closed() != 1 {
			t.Errorf("%s peer #%d closed %d times", p.id, i, peer.Closed())
		}
	}
}

// connect runs a full call from alice to bob up to Connected on both ends.
func connect(t *testing.T, alice, bob *participant) string {
	t.Helper()

	id, err := alice.d.Call(context.Background(), bob.id)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	bob.rec.waitIncoming(t)

	eventually(t, "alice to apply the answer", func() bool {
		peer := alice.peers.Last()
		return peer != nil && len(peer.Remote()) == 1
	})

	alice.peerEvents(t, id).Connected()
	bob.peerEvents(t, id).Connected()
	alice.rec.waitConnected(t)
	bob.rec.waitConnected(t)
	return id
}

// ---------------------------------------------------------------------------

func TestCallConnectsAndHangsUp(t *testing.T) {
	hub := NewMemoryHub()
	alice := join(t, hub, "alice", nil)
	bob := join(t, hub, "bob", autoAccept)

	id := connect(t, alice, bob)

	snap, ok := bob.d.Current(context.Background())
	if !ok || snap.ID != id || snap.State != call.StateConnected || snap.Role != call.RoleCallee {
		t.Fatalf("bob current = %+v, %v", snap, ok)
	}

	if err := alice.d.Hangup(context.Background()); err != nil {
		t.Fatalf("Hangup: %v", err)
	}

	a := alice.rec.waitOutcome(t)
	if a.State != call.StateEnded || !a.Local {
		t.Errorf("alice outcome = %+v", a)
	}
	b := bob.rec.waitOutcome(t)
	if b.State != call.StateEnded || b.Local {
		t.Errorf("bob outcome = %+v", b)
	}

	assertReleased(t, alice)
	assertReleased(t, bob)

	if err := alice.d.Hangup(context.Background()); !errors.Is(err, ErrNoActiveCall) {
		t.Errorf("second Hangup err = %v", err)
	}
}

func TestLocalCandidatesReachPeer(t *testing.T) {
	hub := NewMemoryHub()
	alice := join(t, hub, "alice", nil)
	bob := join(t, hub, "bob", autoAccept)

	id, err := alice.d.Call(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	bob.rec.waitIncoming(t)

	mid := "0"
	for i := 0; i < 3; i++ {
		alice.peerEvents(t, id).Candidate(protocol.ICECandidate{
			Candidate: fmt.Sprintf("candidate:%d 1 udp 1 203.0.113.1 %d typ host", i, 5000+i),
			SDPMid:    &mid,
		})
	}

	eventually(t, "bob to consume three candidates", func() bool {
		peer := bob.peers.Last()
		return peer != nil && len(peer.Candidates()) == 3
	})
	for i, c := range bob.peers.Last().Candidates() {
		want := fmt.Sprintf("candidate:%d 1 udp 1 203.0.113.1 %d typ host", i, 5000+i)
		if c.Candidate != want {
			t.Errorf("candidate %d = %q, want %q", i, c.Candidate, want)
		}
	}
}

// TestUnansweredCallTimesOut: both ends observe TimedOut and no media stays
// open.
func TestUnansweredCallTimesOut(t *testing.T) {
	hub := NewMemoryHub()
	alice := join(t, hub, "alice", func(_ *participant, o *Options) { o.AnswerTimeout = 100 * time.Millisecond })
	bob := join(t, hub, "bob", func(_ *participant, o *Options) { o.RingTimeout = time.Minute })

	if _, err := alice.d.Call(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}
	bob.rec.waitIncoming(t)

	a := alice.rec.waitOutcome(t)
	b := bob.rec.waitOutcome(t)
	if a.State != call.StateTimedOut || b.State != call.StateTimedOut {
		t.Fatalf("outcomes: alice=%s bob=%s", a.State, b.State)
	}
	if notify.Message(b) != "missed call from alice" {
		t.Errorf("bob message = %q", notify.Message(b))
	}

	assertReleased(t, alice)
	if n := len(bob.media.Acquired()); n != 0 {
		t.Errorf("bob acquired media %d times without answering", n)
	}
}

func TestRingTimeoutOnCallee(t *testing.T) {
	hub := NewMemoryHub()
	alice := join(t, hub, "alice", func(_ *participant, o *Options) { o.AnswerTimeout = time.Minute })
	bob := join(t, hub, "bob", func(_ *participant, o *Options) { o.RingTimeout = 100 * time.Millisecond })

	if _, err := alice.d.Call(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}

	if b := bob.rec.waitOutcome(t); b.State != call.StateTimedOut {
		t.Errorf("bob outcome = %s", b.State)
	}
	if a := alice.rec.waitOutcome(t); a.State != call.StateTimedOut {
		t.Errorf("alice outcome = %s", a.State)
	}
	assertReleased(t, alice)
}

// TestRejectIsSilentForCallee: the caller sees the reason, the callee's own
// rejection produces no notice.
func TestRejectIsSilentForCallee(t *testing.T) {
	hub := NewMemoryHub()
	alice := join(t, hub, "alice", nil)
	bob := join(t, hub, "bob", func(p *participant, _ *Options) {
		p.rec.onIncoming = func(call.Snapshot) {
			go p.d.Reject(context.Background(), protocol.ReasonUserRejected)
		}
	})

	if _, err := alice.d.Call(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}

	a := alice.rec.waitOutcome(t)
	if a.State != call.StateRejected || a.Reason != string(protocol.ReasonUserRejected) || a.Local {
		t.Fatalf("alice outcome = %+v", a)
	}
	if notify.Message(a) == "" {
		t.Error("caller should be told about the rejection")
	}

	b := bob.rec.waitOutcome(t)
	if b.State != call.StateRejected || !b.Local {
		t.Fatalf("bob outcome = %+v", b)
	}
	if msg := notify.Message(b); msg != "" {
		t.Errorf("callee shown %q for own rejection", msg)
	}
	assertReleased(t, alice)
}

// TestSecondCallerGetsBusy: a call-request while connected is answered with
// busy and the connected session is untouched.
func TestSecondCallerGetsBusy(t *testing.T) {
	hub := NewMemoryHub()
	alice := join(t, hub, "alice", nil)
	bob := join(t, hub, "bob", autoAccept)
	carol := join(t, hub, "carol", nil)

	id := connect(t, alice, bob)

	if _, err := carol.d.Call(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}
	c := carol.rec.waitOutcome(t)
	if c.State != call.StateBusy {
		t.Fatalf("carol outcome = %+v", c)
	}
	assertReleased(t, carol)

	snap, ok := bob.d.Current(context.Background())
	if !ok || snap.ID != id || snap.State != call.StateConnected || snap.PeerID != "alice" {
		t.Fatalf("bob's call changed: %+v", snap)
	}
	if n := len(bob.peers.All()); n != 1 {
		t.Errorf("bob created %d peers", n)
	}
	select {
	case s := <-bob.rec.incoming:
		t.Errorf("bob was notified of a second call: %+v", s)
	default:
	}
	select {
	case o := <-bob.rec.outcomes:
		t.Errorf("bob reported an outcome: %+v", o)
	default:
	}
}

func TestCallWhileActiveIsRefused(t *testing.T) {
	hub := NewMemoryHub()
	alice := join(t, hub, "alice", func(_ *participant, o *Options) { o.AnswerTimeout = -1 })
	join(t, hub, "bob", nil)
	join(t, hub, "carol", nil)

	if _, err := alice.d.Call(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := alice.d.Call(context.Background(), "carol"); !errors.Is(err, call.ErrBusy) {
		t.Fatalf("second Call err = %v, want ErrBusy", err)
	}
}

func TestCallToOfflinePeerFails(t *testing.T) {
	hub := NewMemoryHub()
	alice := join(t, hub, "alice", nil)

	if _, err := alice.d.Call(context.Background(), "nobody"); err != nil {
		t.Fatal(err)
	}
	o := alice.rec.waitOutcome(t)
	if o.State != call.StateFailed || o.Reason != "peer offline" {
		t.Fatalf("outcome = %+v", o)
	}
	assertReleased(t, alice)
}

func TestConnectivityFailureEndsBothSides(t *testing.T) {
	hub := NewMemoryHub()
	alice := join(t, hub, "alice", nil)
	bob := join(t, hub, "bob", autoAccept)

	id := connect(t, alice, bob)
	alice.peerEvents(t, id).Failed()

	a := alice.rec.waitOutcome(t)
	if a.State != call.StateFailed || !errors.Is(a.Cause, call.ErrConnectivity) {
		t.Errorf("alice outcome = %+v", a)
	}
	if b := bob.rec.waitOutcome(t); b.State != call.StateEnded {
		t.Errorf("bob outcome = %+v", b)
	}
}

func TestInvalidOfferGetsCallError(t *testing.T) {
	hub := NewMemoryHub()
	join(t, hub, "bob", nil)
	raw, err := hub.Join("mallory")
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	err = raw.Send(protocol.CallRequest{
		Header: protocol.Header{SessionID: "s1", From: "mallory", To: "bob"},
		Offer:  protocol.Description{Type: protocol.SDPTypeAnswer, Body: "v=0"},
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-raw.Inbound():
		e, ok := m.(protocol.CallError)
		if !ok || e.SessionID != "s1" || e.From != "bob" {
			t.Fatalf("got %#v, want call-error from bob", m)
		}
	case <-time.After(waitTimeout):
		t.Fatal("no call-error received")
	}
}

func TestForeignAndStaleMessagesAreDiscarded(t *testing.T) {
	hub := NewMemoryHub()
	alice := join(t, hub, "alice", func(_ *participant, o *Options) { o.AnswerTimeout = -1 })
	join(t, hub, "bob", nil)
	raw, err := hub.Join("mallory")
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	id, err := alice.d.Call(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}

	// Right session, wrong sender; unknown session.
	raw.Send(protocol.CallEnd{Header: protocol.Header{SessionID: id, To: "alice"}})
	raw.Send(protocol.CallEnd{Header: protocol.Header{SessionID: "other", To: "alice"}})

	// Give the loop time to process both before checking.
	time.Sleep(50 * time.Millisecond)
	snap, ok := alice.d.Current(context.Background())
	if !ok || snap.State != call.StateInitiating {
		t.Fatalf("alice session disturbed: %+v, %v", snap, ok)
	}
}

func TestICEServersPushReachesSession(t *testing.T) {
	hub := NewMemoryHub()
	alice := join(t, hub, "alice", func(_ *participant, o *Options) { o.AnswerTimeout = -1 })
	join(t, hub, "bob", nil)

	if _, err := alice.d.Call(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}

	servers := []protocol.ICEServer{{
		URLs:       []string{"turn:turn.example.org:3478"},
		Username:   "u",
		Credential: "p",
	}}
	hub.PushICEServers(servers)

	eventually(t, "peer to receive ICE servers", func() bool {
		got := alice.peers.Last().Servers()
		return len(got) == 1 && got[0].URLs[0] == "turn:turn.example.org:3478"
	})
	snap, _ := alice.d.Current(context.Background())
	if len(snap.ICEServers) != 1 {
		t.Errorf("session servers = %+v", snap.ICEServers)
	}
}

func TestRunEndsActiveCallOnShutdown(t *testing.T) {
	hub := NewMemoryHub()
	bob := join(t, hub, "bob", nil)

	conn, err := hub.Join("alice")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	media := &calltest.FakeMediaSource{}
	peers := &calltest.Peers{}
	d := NewDispatcher(conn, Options{
		Self:  call.Identity{ID: "alice"},
		Media: media,
		NewPeer: func(ctx context.Context, id string, s []protocol.ICEServer, _ call.PeerEvents) (call.Peer, error) {
			return peers.New(ctx, id, s)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	if _, err := d.Call(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}
	bob.rec.waitIncoming(t)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}
	if b := bob.rec.waitOutcome(t); b.State != call.StateEnded {
		t.Errorf("bob outcome = %+v", b)
	}
	if media.Acquired()[0].Stopped() != 1 {
		t.Error("media left open after shutdown")
	}
	if _, err := d.Call(context.Background(), "bob"); !errors.Is(err, ErrClosed) {
		t.Errorf("Call after Run = %v", err)
	}
}

// TestRejectWithUnknownReasonReachesCaller: a reason the wire format cannot
// carry still tells the caller, as user_rejected, before any timer fires.
func TestRejectWithUnknownReasonReachesCaller(t *testing.T) {
	hub := NewMemoryHub()
	alice := join(t, hub, "alice", nil)
	join(t, hub, "bob", func(p *participant, _ *Options) {
		p.rec.onIncoming = func(call.Snapshot) {
			go p.d.Reject(context.Background(), "declined")
		}
	})

	if _, err := alice.d.Call(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}
	a := alice.rec.waitOutcome(t)
	if a.State != call.StateRejected || a.Reason != string(protocol.ReasonUserRejected) {
		t.Fatalf("alice outcome = %+v", a)
	}
	assertReleased(t, alice)
}

// chanConn is a Conn fed directly by the test, so messages can carry any
// header, including none at all.
type chanConn struct {
	in chan protocol.Message

	mu   sync.Mutex
	sent []protocol.Message
}

func newChanConn() *chanConn {
	return &chanConn{in: make(chan protocol.Message, 8)}
}

func (c *chanConn) Send(m protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return nil
}

func (c *chanConn) Inbound() <-chan protocol.Message { return c.in }
func (c *chanConn) Close() error                      { return nil }

func TestSystemTimeoutEndsCall(t *testing.T) {
	conn := newChanConn()
	rec := newRecorder()
	peers := &calltest.Peers{}
	d := NewDispatcher(conn, Options{
		Self:  call.Identity{ID: "bob"},
		Media: &calltest.FakeMediaSource{},
		NewPeer: func(ctx context.Context, id string, s []protocol.ICEServer, _ call.PeerEvents) (call.Peer, error) {
			return peers.New(ctx, id, s)
		},
		RingTimeout: -1,
		Notifier:    rec,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	conn.in <- protocol.CallRequest{
		Header: protocol.Header{SessionID: "s1", From: "alice", To: "bob"},
		Offer:  protocol.Description{Type: protocol.SDPTypeOffer, Body: calltest.OfferBody},
	}
	rec.waitIncoming(t)

	// A timeout from a third party is still ignored.
	conn.in <- protocol.CallTimeout{Header: protocol.Header{SessionID: "s1", From: "mallory", To: "bob"}}

	m, err := protocol.Decode([]byte(`{"type":"call-timeout","sessionId":"s1"}`))
	if err != nil {
		t.Fatal(err)
	}
	conn.in <- m

	if o := rec.waitOutcome(t); o.State != call.StateTimedOut {
		t.Fatalf("bob outcome = %+v", o)
	}
	eventually(t, "session to be released", func() bool {
		_, ok := d.Current(context.Background())
		return !ok
	})
}

// TestPeerOutlivesRequestContext: the context used to place a call only
// bounds the request, not the peer connection created for it.
func TestPeerOutlivesRequestContext(t *testing.T) {
	hub := NewMemoryHub()
	var (
		mu      sync.Mutex
		peerCtx context.Context
	)
	alice := join(t, hub, "alice", func(_ *participant, o *Options) {
		o.AnswerTimeout = -1
		next := o.NewPeer
		o.NewPeer = func(ctx context.Context, id string, s []protocol.ICEServer, ev call.PeerEvents) (call.Peer, error) {
			mu.Lock()
			peerCtx = ctx
			mu.Unlock()
			return next(ctx, id, s, ev)
		}
	})
	join(t, hub, "bob", nil)

	reqCtx, cancelReq := context.WithCancel(context.Background())
	if _, err := alice.d.Call(reqCtx, "bob"); err != nil {
		t.Fatal(err)
	}
	cancelReq()

	mu.Lock()
	got := peerCtx
	mu.Unlock()
	if got == nil {
		t.Fatal("no peer created")
	}
	if err := got.Err(); err != nil {
		t.Errorf("peer context done after the request returned: %v", err)
	}
	snap, ok := alice.d.Current(context.Background())
	if !ok || snap.State != call.StateInitiating {
		t.Errorf("alice session = %+v, %v", snap, ok)
	}
}
