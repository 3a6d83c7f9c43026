package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/call"
	"github.com/1ureka/peercall/internal/protocol"
	"github.com/1ureka/peercall/internal/util"
)

// Compile-time interface check.
var _ call.Peer = (*Peer)(nil)

// TrackSource is implemented by media that can be attached to a peer
// connection.
type TrackSource interface {
	Tracks() []webrtc.TrackLocal
}

// Options configures a Peer.
type Options struct {
	ICEServers    []protocol.ICEServer
	LoggerFactory logging.LoggerFactory
	Events        call.PeerEvents
}

// Peer wraps a single PeerConnection for one call session.
//
// Locally gathered candidates and connectivity changes are reported through
// the call.PeerEvents given at construction. Connected and Failed fire at
// most once each; a disconnected state is left to ICE to recover from.
type Peer struct {
	pc     *webrtc.PeerConnection
	events call.PeerEvents

	ctx    context.Context
	cancel context.CancelFunc

	connectedOnce sync.Once
	failedOnce    sync.Once

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

// NewPeer creates a Peer backed by a new PeerConnection. The Peer is
// considered alive until Close is called or ctx is cancelled.
func NewPeer(ctx context.Context, opts Options) (*Peer, error) {
	api, err := newAPI(opts.LoggerFactory)
	if err != nil {
		return nil, err
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: toICEServers(opts.ICEServers),
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	pCtx, pCancel := context.WithCancel(ctx)

	p := &Peer{
		pc:      pc,
		events:  opts.Events,
		ctx:     pCtx,
		cancel:  pCancel,
		pcState: webrtc.PeerConnectionStateNew,
	}

	// Trickle local candidates. A nil candidate ends gathering.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || p.events.Candidate == nil {
			return
		}
		p.events.Candidate(fromCandidateInit(c.ToJSON()))
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		p.mu.Lock()
		p.pcState = state
		p.mu.Unlock()

		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.connectedOnce.Do(func() {
				if p.events.Connected != nil {
					p.events.Connected()
				}
			})
		case webrtc.PeerConnectionStateFailed:
			p.failedOnce.Do(func() {
				if p.events.Failed != nil {
					p.events.Failed()
				}
			})
		}
	})

	// Remote media is consumed but not rendered.
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogDebug("remote %s track %s (%s)", track.Kind(), track.ID(), track.Codec().MimeType)
		go drainTrack(pCtx, track)
	})

	return p, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Done returns a channel that is closed when the Peer is shut down.
func (p *Peer) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Close shuts down the PeerConnection.
func (p *Peer) Close() error {
	p.cancel()
	return p.pc.Close()
}

// ConnectionState returns the last observed PeerConnection state.
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pcState
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// AttachMedia adds m's tracks to the connection. Media without tracks
// results in receive-only audio and video transceivers so that the
// descriptions still carry both sections.
func (p *Peer) AttachMedia(m call.Media) error {
	src, ok := m.(TrackSource)
	if !ok || len(src.Tracks()) == 0 {
		return p.addReceiveOnly()
	}

	var errs []error
	for _, track := range src.Tracks() {
		sender, err := p.pc.AddTrack(track)
		if err != nil {
			errs = append(errs, fmt.Errorf("add %s track: %w", track.Kind(), err))
			continue
		}
		go drainRTCP(p.ctx, sender)
	}
	return errors.Join(errs...)
}

func (p *Peer) addReceiveOnly() error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// drainRTCP reads incoming RTCP so that interceptors keep running.
func drainRTCP(ctx context.Context, sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for ctx.Err() == nil {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func drainTrack(ctx context.Context, track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for ctx.Err() == nil {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (p *Peer) CreateOffer() (protocol.Description, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return protocol.Description{}, err
	}
	return fromSessionDescription(offer), nil
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (protocol.Description, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.Description{}, err
	}
	return fromSessionDescription(answer), nil
}

// SetLocalDescription applies the local SDP and starts gathering.
func (p *Peer) SetLocalDescription(d protocol.Description) error {
	return p.pc.SetLocalDescription(toSessionDescription(d))
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(d protocol.Description) error {
	return p.pc.SetRemoteDescription(toSessionDescription(d))
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (p *Peer) AddICECandidate(c protocol.ICECandidate) error {
	return p.pc.AddICECandidate(toCandidateInit(c))
}

// SetICEServers replaces the relay endpoints of the live connection.
func (p *Peer) SetICEServers(servers []protocol.ICEServer) error {
	cfg := p.pc.GetConfiguration()
	cfg.ICEServers = toICEServers(servers)
	if err := p.pc.SetConfiguration(cfg); err != nil {
		return fmt.Errorf("set ICE servers: %w", err)
	}
	return nil
}

// Factory returns a peer factory that creates pion-backed peers sharing lf.
func Factory(lf logging.LoggerFactory) func(context.Context, string, []protocol.ICEServer, call.PeerEvents) (call.Peer, error) {
	return func(ctx context.Context, sessionID string, servers []protocol.ICEServer, events call.PeerEvents) (call.Peer, error) {
		util.LogDebug("creating peer connection for session %s", sessionID)
		return NewPeer(ctx, Options{ICEServers: servers, LoggerFactory: lf, Events: events})
	}
}
