package negotiate

import (
	"fmt"

	"github.com/1ureka/peercall/internal/protocol"
)

// Peer is the part of a peer-connection object the Negotiator drives.
type Peer interface {
	CreateOffer() (protocol.Description, error)
	CreateAnswer() (protocol.Description, error)
	SetLocalDescription(protocol.Description) error
	SetRemoteDescription(protocol.Description) error
}

// Negotiator produces and consumes session descriptions with the codec
// restriction applied.
//
// Local descriptions are applied to the peer exactly as generated because
// the peer connection refuses edited local descriptions; the filtered copy
// is what goes on the wire. Remote offers are filtered before they are
// applied.
type Negotiator struct {
	policy CodecPolicy
}

// New returns a Negotiator for policy. A zero policy selects DefaultPolicy.
func New(policy CodecPolicy) *Negotiator {
	if policy.Codec == "" {
		policy = DefaultPolicy
	}
	return &Negotiator{policy: policy}
}

// Policy returns the codec policy in use.
func (n *Negotiator) Policy() CodecPolicy {
	return n.policy
}

// Filter applies the codec restriction to a description body.
func (n *Negotiator) Filter(desc protocol.Description) protocol.Description {
	desc.Body = FilterVideoCodec(desc.Body, n.policy)
	return desc
}

// Offer creates an offer, applies it locally and returns the filtered copy to
// send to the callee.
func (n *Negotiator) Offer(p Peer) (protocol.Description, error) {
	offer, err := p.CreateOffer()
	if err != nil {
		return protocol.Description{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.SetLocalDescription(offer); err != nil {
		return protocol.Description{}, fmt.Errorf("set local offer: %w", err)
	}
	return n.Filter(offer), nil
}

// Answer applies the filtered remote offer, creates an answer, applies it
// locally and returns the filtered copy to send to the caller.
func (n *Negotiator) Answer(p Peer, remote protocol.Description) (protocol.Description, error) {
	if remote.Type != protocol.SDPTypeOffer || remote.Body == "" {
		return protocol.Description{}, fmt.Errorf("remote description is not an offer (type %q)", remote.Type)
	}
	if err := p.SetRemoteDescription(n.Filter(remote)); err != nil {
		return protocol.Description{}, fmt.Errorf("set remote offer: %w", err)
	}

	answer, err := p.CreateAnswer()
	if err != nil {
		return protocol.Description{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.SetLocalDescription(answer); err != nil {
		return protocol.Description{}, fmt.Errorf("set local answer: %w", err)
	}
	return n.Filter(answer), nil
}

// Accept applies the remote answer to the peer.
func (n *Negotiator) Accept(p Peer, remote protocol.Description) error {
	if remote.Type != protocol.SDPTypeAnswer || remote.Body == "" {
		return fmt.Errorf("remote description is not an answer (type %q)", remote.Type)
	}
	if err := p.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}
