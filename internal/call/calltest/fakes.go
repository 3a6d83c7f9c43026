// Package calltest provides in-memory collaborators for exercising call
// sessions and the dispatcher without a real peer connection or capture
// device.
package calltest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/peercall/internal/call"
	"github.com/1ureka/peercall/internal/protocol"
)

// Compile-time interface checks.
var (
	_ call.Peer        = (*FakePeer)(nil)
	_ call.Media       = (*FakeMedia)(nil)
	_ call.MediaSource = (*FakeMediaSource)(nil)
)

// ErrInjected is returned by fakes configured to fail.
var ErrInjected = errors.New("calltest: injected failure")

// OfferBody and AnswerBody are the bodies FakePeer generates.
const (
	OfferBody  = "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"
	AnswerBody = "v=0\r\no=- 2 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"
)

// FakePeer records everything a session does to its peer connection.
// All methods are safe for concurrent use.
type FakePeer struct {
	mu sync.Mutex

	SessionID string

	local      []protocol.Description
	remote     []protocol.Description
	candidates []protocol.ICECandidate
	servers    []protocol.ICEServer
	media      call.Media
	closed     int

	// Failure injection.
	FailOffer  bool
	FailAnswer bool
	FailRemote bool

	// FailCandidates is the number of upcoming AddICECandidate calls that
	// fail.
	FailCandidates int
}

func (p *FakePeer) CreateOffer() (protocol.Description, error) {
	if p.FailOffer {
		return protocol.Description{}, ErrInjected
	}
	return protocol.Description{Type: protocol.SDPTypeOffer, Body: OfferBody}, nil
}

func (p *FakePeer) CreateAnswer() (protocol.Description, error) {
	if p.FailAnswer {
		return protocol.Description{}, ErrInjected
	}
	return protocol.Description{Type: protocol.SDPTypeAnswer, Body: AnswerBody}, nil
}

func (p *FakePeer) SetLocalDescription(d protocol.Description) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = append(p.local, d)
	return nil
}

func (p *FakePeer) SetRemoteDescription(d protocol.Description) error {
	if p.FailRemote {
		return ErrInjected
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = append(p.remote, d)
	return nil
}

// AddICECandidate fails unless a remote description was applied first, like
// a real peer connection.
func (p *FakePeer) AddICECandidate(c protocol.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.remote) == 0 {
		return fmt.Errorf("calltest: candidate %q before remote description", c.Candidate)
	}
	if p.FailCandidates > 0 {
		p.FailCandidates--
		return ErrInjected
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *FakePeer) AttachMedia(m call.Media) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.media = m
	return nil
}

func (p *FakePeer) SetICEServers(servers []protocol.ICEServer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.servers = servers
	return nil
}

func (p *FakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

// Candidates returns the candidates consumed so far, in order.
func (p *FakePeer) Candidates() []protocol.ICECandidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.ICECandidate(nil), p.candidates...)
}

// Local returns the local descriptions applied so far.
func (p *FakePeer) Local() []protocol.Description {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Description(nil), p.local...)
}

// Remote returns the remote descriptions applied so far.
func (p *FakePeer) Remote() []protocol.Description {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Description(nil), p.remote...)
}

// Servers returns the last ICE server list applied.
func (p *FakePeer) Servers() []protocol.ICEServer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.servers
}

// Closed returns how many times Close was called.
func (p *FakePeer) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Peers is a call.PeerFactory that keeps every peer it creates.
type Peers struct {
	mu    sync.Mutex
	peers []*FakePeer

	// Fail makes the factory itself fail.
	Fail bool

	// Configure, if set, adjusts each new peer before it is returned.
	Configure func(*FakePeer)
}

// New implements call.PeerFactory.
func (f *Peers) New(_ context.Context, sessionID string, servers []protocol.ICEServer) (call.Peer, error) {
	if f.Fail {
		return nil, ErrInjected
	}
	p := &FakePeer{SessionID: sessionID, servers: servers}
	if f.Configure != nil {
		f.Configure(p)
	}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

// All returns the peers created so far.
func (f *Peers) All() []*FakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakePeer(nil), f.peers...)
}

// Last returns the most recently created peer, or nil.
func (f *Peers) Last() *FakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

// FakeMedia counts how often it was stopped.
type FakeMedia struct {
	mu      sync.Mutex
	stopped int
}

func (m *FakeMedia) Stop() {
	m.mu.Lock()
	m.stopped++
	m.mu.Unlock()
}

// Stopped returns how many times Stop was called.
func (m *FakeMedia) Stopped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// FakeMediaSource hands out FakeMedia and remembers each acquisition.
type FakeMediaSource struct {
	mu       sync.Mutex
	acquired []*FakeMedia

	// Fail makes Acquire fail.
	Fail bool
}

func (s *FakeMediaSource) Acquire(context.Context) (call.Media, error) {
	if s.Fail {
		return nil, ErrInjected
	}
	m := &FakeMedia{}
	s.mu.Lock()
	s.acquired = append(s.acquired, m)
	s.mu.Unlock()
	return m, nil
}

// Acquired returns every media handle handed out so far.
func (s *FakeMediaSource) Acquired() []*FakeMedia {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*FakeMedia(nil), s.acquired...)
}

// Outbox collects emitted messages.
type Outbox struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

// Emit appends m; it matches call.Env.Emit.
func (o *Outbox) Emit(m protocol.Message) {
	o.mu.Lock()
	o.msgs = append(o.msgs, m)
	o.mu.Unlock()
}

// Messages returns the emitted messages in order.
func (o *Outbox) Messages() []protocol.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]protocol.Message(nil), o.msgs...)
}

// Kinds returns the types of the emitted messages in order.
func (o *Outbox) Kinds() []protocol.Type {
	o.mu.Lock()
	defer o.mu.Unlock()
	kinds := make([]protocol.Type, len(o.msgs))
	for i, m := range o.msgs {
		kinds[i] = m.Kind()
	}
	return kinds
}

// Reset forgets everything emitted so far.
func (o *Outbox) Reset() {
	o.mu.Lock()
	o.msgs = nil
	o.mu.Unlock()
}
