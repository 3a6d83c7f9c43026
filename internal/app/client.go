// Package app contains the top-level orchestration for the call client and
// the signaling relay.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/1ureka/peercall/internal/call"
	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/notify"
	"github.com/1ureka/peercall/internal/protocol"
	"github.com/1ureka/peercall/internal/signaling"
	"github.com/1ureka/peercall/internal/transport"
	"github.com/1ureka/peercall/internal/util"
)

// ClientOptions carries the per-run inputs that do not belong in the config
// file.
type ClientOptions struct {
	// Call is dialed as soon as the relay connection is up.
	Call string

	// Input feeds the command console. Nil disables it.
	Input io.Reader

	// Output receives notifications. Nil selects stdout.
	Output io.Writer
}

// RunClient orchestrates the client lifecycle:
//  1. Connect to the relay
//  2. Start the dispatcher with pion peers and synthetic media
//  3. Place the initial call, if any
//  4. Serve console commands until shutdown
func RunClient(ctx context.Context, cfg config.Config, opts ClientOptions) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Debug {
		util.EnableDebug()
	}
	wsURL, err := config.NormalizeURL(cfg.URL)
	if err != nil {
		return err
	}

	// ── 1. Connect to the relay ─────────────────────────────────────────
	util.LogInfo("connecting to %s as %s", wsURL, cfg.ID)
	conn, err := signaling.Dial(ctx, wsURL, cfg.ID, cfg.Room)
	if err != nil {
		return err
	}
	defer conn.Close()
	util.LogSuccess("connected to relay")

	// ── 2. Dispatcher ───────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n := &clientNotifier{
		Terminal:   notify.NewTerminal(opts.Output),
		autoAnswer: cfg.AutoAnswer,
	}
	d := signaling.NewDispatcher(conn, signaling.Options{
		Self:          call.Identity{ID: cfg.ID, Display: cfg.Display},
		Media:         &media.Synthetic{},
		NewPeer:       transport.Factory(util.NewPionLoggerFactory(util.DebugEnabled())),
		Candidates:    cfg.CandidatePolicy(),
		ICEServers:    cfg.ICEServers,
		RingTimeout:   cfg.RingTimeout,
		AnswerTimeout: cfg.AnswerTimeout,
		Notifier:      n,
	})
	n.accept = func() {
		if err := d.Accept(ctx); err != nil {
			util.LogWarning("auto-answer failed: %v", err)
		}
	}

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	// ── 3. Initial call ─────────────────────────────────────────────────
	if opts.Call != "" {
		if _, err := d.Call(ctx, opts.Call); err != nil {
			util.LogError("call %s: %v", opts.Call, err)
		}
	}

	// ── 4. Console ──────────────────────────────────────────────────────
	if opts.Input != nil {
		go func() {
			if serveConsole(ctx, d, opts.Input) {
				cancel()
			}
		}()
	}

	err = <-runErr
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// clientNotifier prints to the terminal and answers automatically when
// configured to. accept runs on its own goroutine because notifications
// arrive on the dispatcher loop.
type clientNotifier struct {
	*notify.Terminal
	autoAnswer bool
	accept     func()
}

func (n *clientNotifier) Incoming(s call.Snapshot) {
	n.Terminal.Incoming(s)
	if n.autoAnswer {
		go n.accept()
		return
	}
	util.LogInfo("type 'accept' or 'reject'")
}

// ---------------------------------------------------------------------------
// Console
// ---------------------------------------------------------------------------

// Actions is the part of the dispatcher the console drives.
type Actions interface {
	Call(ctx context.Context, peerID string) (string, error)
	Accept(ctx context.Context) error
	Reject(ctx context.Context, reason protocol.Reason) error
	Hangup(ctx context.Context) error
	Current(ctx context.Context) (call.Snapshot, bool)
}

const consoleHelp = "commands: call <id> | accept | reject | hangup | status | quit"

// serveConsole reads commands line by line. It returns true when the user
// asked to quit.
func serveConsole(ctx context.Context, a Actions, r io.Reader) bool {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return false
			}
			msg, quit := execute(ctx, a, line)
			if msg != "" {
				util.LogInfo("%s", msg)
			}
			if quit {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}

// execute runs one console command and returns the text to show.
func execute(ctx context.Context, a Actions, line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false
	}

	switch strings.ToLower(fields[0]) {
	case "call":
		if len(fields) != 2 {
			return "usage: call <id>", false
		}
		id, err := a.Call(ctx, fields[1])
		if err != nil {
			return fmt.Sprintf("call failed: %v", err), false
		}
		return fmt.Sprintf("calling %s (session %s)", fields[1], id), false

	case "accept":
		if err := a.Accept(ctx); err != nil {
			return fmt.Sprintf("accept failed: %v", err), false
		}
		return "", false

	case "reject":
		if err := a.Reject(ctx, protocol.ReasonUserRejected); err != nil {
			return fmt.Sprintf("reject failed: %v", err), false
		}
		return "call declined", false

	case "hangup", "end":
		if err := a.Hangup(ctx); err != nil {
			return fmt.Sprintf("hangup failed: %v", err), false
		}
		return "call ended", false

	case "status":
		s, ok := a.Current(ctx)
		if !ok {
			return "idle", false
		}
		return fmt.Sprintf("%s call with %s: %s", s.Role, s.PeerID, s.State), false

	case "quit", "exit":
		return "", true

	default:
		return consoleHelp, false
	}
}
