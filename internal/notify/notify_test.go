package notify

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pterm/pterm"

	"github.com/1ureka/peercall/internal/call"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    string
	}{
		{"local hangup is silent", Outcome{PeerID: "bob", State: call.StateEnded, Local: true}, ""},
		{"local reject is silent", Outcome{PeerID: "bob", State: call.StateRejected, Local: true}, ""},
		{"remote end", Outcome{PeerID: "bob", State: call.StateEnded}, "bob ended the call"},
		{"rejected with reason", Outcome{PeerID: "bob", State: call.StateRejected, Reason: "user_rejected"}, "bob declined the call (user_rejected)"},
		{"busy", Outcome{PeerID: "bob", State: call.StateBusy}, "bob is busy"},
		{"caller timeout", Outcome{PeerID: "bob", Role: call.RoleCaller, State: call.StateTimedOut}, "bob did not answer"},
		{"callee timeout", Outcome{PeerID: "alice", Role: call.RoleCallee, State: call.StateTimedOut}, "missed call from alice"},
		{"media failure", Outcome{PeerID: "bob", State: call.StateFailed, Cause: call.ErrMediaAccess}, "camera or microphone unavailable"},
		{"connectivity", Outcome{PeerID: "bob", State: call.StateFailed, Cause: call.ErrConnectivity}, "connection to bob lost"},
		{"peer error", Outcome{PeerID: "bob", State: call.StateFailed, Reason: "peer offline"}, "call with bob failed: peer offline"},
		{"non-terminal", Outcome{PeerID: "bob", State: call.StateConnected}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Message(tt.outcome); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTerminalSkipsLocalOutcomes(t *testing.T) {
	pterm.DisableColor()
	defer pterm.EnableColor()

	var buf bytes.Buffer
	n := NewTerminal(&buf)

	n.Outcome(Outcome{PeerID: "alice", State: call.StateRejected, Local: true})
	if buf.Len() != 0 {
		t.Fatalf("local outcome printed %q", buf.String())
	}

	n.Outcome(Outcome{PeerID: "bob", State: call.StateRejected, Reason: "user_rejected"})
	if !strings.Contains(buf.String(), "bob declined the call") {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	n.Incoming(call.Snapshot{PeerID: "alice", PeerDisplay: "Alice"})
	if !strings.Contains(buf.String(), "Alice (alice)") {
		t.Errorf("incoming output = %q", buf.String())
	}
}
