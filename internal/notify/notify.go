// Package notify is the user-facing notification surface for call events.
package notify

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pterm/pterm"

	"github.com/1ureka/peercall/internal/call"
)

// Outcome describes how a session ended. Exactly one Outcome is reported per
// session.
type Outcome struct {
	SessionID string
	PeerID    string
	Role      call.Role
	State     call.State

	// Reason is the reject reason or error text sent by the peer, if any.
	Reason string

	// Cause is the local error that ended the session, if any.
	Cause error

	// Local is set when the user's own action (hangup, reject) ended the
	// session.
	Local bool
}

// Notifier receives call events from the dispatcher. Methods are called on
// the dispatcher's loop and must not call back into it synchronously.
type Notifier interface {
	// Incoming announces a ringing inbound call awaiting a decision.
	Incoming(call.Snapshot)

	// Connected announces that media is flowing.
	Connected(call.Snapshot)

	// Outcome reports a terminal transition.
	Outcome(Outcome)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Incoming(call.Snapshot)  {}
func (Nop) Connected(call.Snapshot) {}
func (Nop) Outcome(Outcome)         {}

// Message returns the text shown for o, or "" when nothing should be shown.
// Outcomes of the user's own actions are silent.
func Message(o Outcome) string {
	if o.Local {
		return ""
	}

	peer := o.PeerID
	switch o.State {
	case call.StateEnded:
		return fmt.Sprintf("%s ended the call", peer)
	case call.StateRejected:
		if o.Reason != "" {
			return fmt.Sprintf("%s declined the call (%s)", peer, o.Reason)
		}
		return fmt.Sprintf("%s declined the call", peer)
	case call.StateBusy:
		return fmt.Sprintf("%s is busy", peer)
	case call.StateTimedOut:
		if o.Role == call.RoleCallee {
			return fmt.Sprintf("missed call from %s", peer)
		}
		return fmt.Sprintf("%s did not answer", peer)
	case call.StateFailed:
		switch {
		case errors.Is(o.Cause, call.ErrMediaAccess):
			return "camera or microphone unavailable"
		case errors.Is(o.Cause, call.ErrConnectivity):
			return fmt.Sprintf("connection to %s lost", peer)
		case o.Reason != "":
			return fmt.Sprintf("call with %s failed: %s", peer, o.Reason)
		case o.Cause != nil:
			return fmt.Sprintf("call with %s failed: %v", peer, o.Cause)
		}
		return fmt.Sprintf("call with %s failed", peer)
	}
	return ""
}

// Terminal prints notifications with pterm prefix printers.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

// Compile-time interface checks.
var (
	_ Notifier = (*Terminal)(nil)
	_ Notifier = Nop{}
)

// NewTerminal returns a Terminal writing to w, or stdout when w is nil.
func NewTerminal(w io.Writer) *Terminal {
	if w == nil {
		w = os.Stdout
	}
	return &Terminal{w: w}
}

func (t *Terminal) Incoming(s call.Snapshot) {
	who := s.PeerID
	if s.PeerDisplay != "" && s.PeerDisplay != s.PeerID {
		who = fmt.Sprintf("%s (%s)", s.PeerDisplay, s.PeerID)
	}
	t.print(pterm.Info, "incoming call from %s", who)
}

func (t *Terminal) Connected(s call.Snapshot) {
	t.print(pterm.Success, "connected with %s", s.PeerID)
}

func (t *Terminal) Outcome(o Outcome) {
	msg := Message(o)
	if msg == "" {
		return
	}
	switch o.State {
	case call.StateFailed:
		t.print(pterm.Error, "%s", msg)
	case call.StateEnded:
		t.print(pterm.Info, "%s", msg)
	default:
		t.print(pterm.Warning, "%s", msg)
	}
}

func (t *Terminal) print(p pterm.PrefixPrinter, format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.WithWriter(t.w).Printfln(format, args...)
}
