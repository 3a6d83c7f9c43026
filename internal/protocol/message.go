// Package protocol defines the signaling messages exchanged between call
// participants and the relay that connects them.
//
// Messages form a closed set: every variant implements Message and nothing
// outside this package can add one. Decoding is strict so that malformed
// frames are rejected at the boundary instead of reaching a call session.
package protocol

// Type identifies the kind of signaling message on the wire.
type Type string

const (
	TypeCallRequest Type = "call-request"
	TypeCallAccept  Type = "call-accept"
	TypeCallReject  Type = "call-reject"
	TypeCandidate   Type = "candidate"
	TypeCallEnd     Type = "call-end"
	TypeCallBusy    Type = "call-busy"
	TypeCallTimeout Type = "call-timeout"
	TypeCallError   Type = "call-error"
	TypeICEServers  Type = "ice-servers"
)

// SDPType is the role of a session description in the offer/answer exchange.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// Description is a session description: the negotiated media-capability
// document exchanged between the two participants.
type Description struct {
	Type SDPType `json:"type"`
	Body string  `json:"body"`
}

// IsValid reports whether d carries a known type and a non-empty body.
func (d Description) IsValid() bool {
	return (d.Type == SDPTypeOffer || d.Type == SDPTypeAnswer) && d.Body != ""
}

// Reason explains why a call was rejected.
type Reason string

const (
	ReasonUserRejected Reason = "user_rejected"
	ReasonBusy         Reason = "busy"
)

// Valid reports whether r is one of the reasons the wire format carries.
func (r Reason) Valid() bool {
	return r == ReasonUserRejected || r == ReasonBusy
}

// ICECandidate is an opaque network reachability descriptor. The field set
// mirrors RTCIceCandidateInit so browser peers can be relayed unchanged.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Header carries the routing fields shared by all session-scoped messages.
type Header struct {
	SessionID string
	From      string
	To        string
}

// Route returns the routing header of a message.
func (h Header) Route() Header { return h }

// Message is a signaling message. The concrete type is one of the variants
// declared in this file.
type Message interface {
	Kind() Type
	Route() Header
	isMessage()
}

// CallRequest invites the callee into a new session.
type CallRequest struct {
	Header
	Offer       Description
	FromDisplay string
}

// CallAccept carries the callee's answer.
type CallAccept struct {
	Header
	Answer Description
}

// CallReject declines a call request.
type CallReject struct {
	Header
	Reason Reason
}

// Candidate trickles one remote candidate for a session.
type Candidate struct {
	Header
	Candidate ICECandidate
}

// CallEnd terminates a session from either side.
type CallEnd struct {
	Header
}

// CallBusy tells the caller that the callee already has an active call.
type CallBusy struct {
	Header
}

// CallTimeout tells the other side that a ring or answer deadline expired.
type CallTimeout struct {
	Header
}

// CallError reports a negotiation failure to the other side.
type CallError struct {
	Header
	Error string
}

// ICEServers replaces the relay endpoint list of the receiving client. It is
// not scoped to a session.
type ICEServers struct {
	Servers []ICEServer
}

func (CallRequest) Kind() Type { return TypeCallRequest }
func (CallAccept) Kind() Type  { return TypeCallAccept }
func (CallReject) Kind() Type  { return TypeCallReject }
func (Candidate) Kind() Type   { return TypeCandidate }
func (CallEnd) Kind() Type     { return TypeCallEnd }
func (CallBusy) Kind() Type    { return TypeCallBusy }
func (CallTimeout) Kind() Type { return TypeCallTimeout }
func (CallError) Kind() Type   { return TypeCallError }
func (ICEServers) Kind() Type  { return TypeICEServers }

func (ICEServers) Route() Header { return Header{} }

func (CallRequest) isMessage() {}
func (CallAccept) isMessage()  {}
func (CallReject) isMessage()  {}
func (Candidate) isMessage()   {}
func (CallEnd) isMessage()     {}
func (CallBusy) isMessage()    {}
func (CallTimeout) isMessage() {}
func (CallError) isMessage()   {}
func (ICEServers) isMessage()  {}

// WithRoute returns a copy of m with its routing header replaced. Messages
// without a header are returned unchanged.
func WithRoute(m Message, h Header) Message {
	switch v := m.(type) {
	case CallRequest:
		v.Header = h
		return v
	case CallAccept:
		v.Header = h
		return v
	case CallReject:
		v.Header = h
		return v
	case Candidate:
		v.Header = h
		return v
	case CallEnd:
		v.Header = h
		return v
	case CallBusy:
		v.Header = h
		return v
	case CallTimeout:
		v.Header = h
		return v
	case CallError:
		v.Header = h
		return v
	default:
		return m
	}
}
