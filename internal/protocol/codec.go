package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
)

// ErrInvalidMessage is returned for frames that are not well-formed signaling
// messages. Such frames are dropped without any state change.
var ErrInvalidMessage = errors.New("protocol: invalid message")

// envelope is the flat JSON shape of every message on the wire.
type envelope struct {
	Type        Type          `json:"type"`
	SessionID   string        `json:"sessionId,omitempty"`
	From        string        `json:"from,omitempty"`
	To          string        `json:"to,omitempty"`
	FromDisplay string        `json:"fromDisplay,omitempty"`
	Offer       *Description  `json:"offer,omitempty"`
	Answer      *Description  `json:"answer,omitempty"`
	Reason      Reason        `json:"reason,omitempty"`
	Candidate   *ICECandidate `json:"candidate,omitempty"`
	Error       string        `json:"error,omitempty"`
	Servers     *[]ICEServer  `json:"servers,omitempty"`
}

// Encode serializes a message into its JSON wire form. Messages that would
// not pass Decode on the receiving side are refused.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}

	h := m.Route()
	env := envelope{
		Type:      m.Kind(),
		SessionID: h.SessionID,
		From:      h.From,
		To:        h.To,
	}

	switch v := m.(type) {
	case CallRequest:
		offer := v.Offer
		env.Offer = &offer
		env.FromDisplay = v.FromDisplay
	case CallAccept:
		answer := v.Answer
		env.Answer = &answer
	case CallReject:
		env.Reason = v.Reason
	case Candidate:
		c := v.Candidate
		env.Candidate = &c
	case CallError:
		env.Error = v.Error
	case ICEServers:
		servers := v.Servers
		if servers == nil {
			servers = []ICEServer{}
		}
		env.Servers = &servers
	}

	if err := env.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses and validates a single JSON message. Unknown fields, unknown
// types, missing required fields and trailing data all yield an error
// wrapping ErrInvalidMessage.
func Decode(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected trailing data", ErrInvalidMessage)
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return env.message(), nil
}

// message converts a validated envelope into its variant.
func (e envelope) message() Message {
	h := Header{SessionID: e.SessionID, From: e.From, To: e.To}

	switch e.Type {
	case TypeCallRequest:
		return CallRequest{Header: h, Offer: *e.Offer, FromDisplay: e.FromDisplay}
	case TypeCallAccept:
		return CallAccept{Header: h, Answer: *e.Answer}
	case TypeCallReject:
		return CallReject{Header: h, Reason: e.Reason}
	case TypeCandidate:
		return Candidate{Header: h, Candidate: *e.Candidate}
	case TypeCallEnd:
		return CallEnd{Header: h}
	case TypeCallBusy:
		return CallBusy{Header: h}
	case TypeCallTimeout:
		return CallTimeout{Header: h}
	case TypeCallError:
		return CallError{Header: h, Error: e.Error}
	default:
		return ICEServers{Servers: *e.Servers}
	}
}

func (e envelope) validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidMessage, fmt.Sprintf(format, args...))
	}

	var allowed []string
	switch e.Type {
	case TypeCallRequest:
		if e.From == "" || e.To == "" {
			return invalid("call-request missing from/to")
		}
		if e.Offer == nil {
			return invalid("call-request missing offer")
		}
		allowed = []string{"offer", "fromDisplay"}
	case TypeCallAccept:
		if e.Answer == nil {
			return invalid("call-accept missing answer")
		}
		allowed = []string{"answer"}
	case TypeCallReject:
		if !e.Reason.Valid() {
			return invalid("call-reject has reason=%q", e.Reason)
		}
		allowed = []string{"reason"}
	case TypeCandidate:
		if e.Candidate == nil {
			return invalid("candidate message missing candidate")
		}
		allowed = []string{"candidate"}
	case TypeCallEnd, TypeCallBusy, TypeCallTimeout:
	case TypeCallError:
		if e.Error == "" {
			return invalid("call-error missing error")
		}
		allowed = []string{"error"}
	case TypeICEServers:
		if e.Servers == nil {
			return invalid("ice-servers missing servers")
		}
		for i, s := range *e.Servers {
			if err := s.Validate(); err != nil {
				return invalid("servers[%d]: %v", i, err)
			}
		}
		if e.SessionID != "" || e.From != "" || e.To != "" {
			return invalid("ice-servers must not be session scoped")
		}
		allowed = []string{"servers"}
	default:
		return invalid("unsupported message type %q", e.Type)
	}

	if e.Type != TypeICEServers && e.SessionID == "" {
		return invalid("%s missing sessionId", e.Type)
	}

	for _, field := range e.payloadFields() {
		if !slices.Contains(allowed, field) {
			return invalid("%s has unexpected field %q", e.Type, field)
		}
	}
	return nil
}

// payloadFields lists the type-specific fields present in e.
func (e envelope) payloadFields() []string {
	var fields []string
	if e.Offer != nil {
		fields = append(fields, "offer")
	}
	if e.FromDisplay != "" {
		fields = append(fields, "fromDisplay")
	}
	if e.Answer != nil {
		fields = append(fields, "answer")
	}
	if e.Reason != "" {
		fields = append(fields, "reason")
	}
	if e.Candidate != nil {
		fields = append(fields, "candidate")
	}
	if e.Error != "" {
		fields = append(fields, "error")
	}
	if e.Servers != nil {
		fields = append(fields, "servers")
	}
	return fields
}
