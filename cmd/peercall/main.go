// Peercall: CLI entry point.
//
// This tool places and answers one-to-one audio/video calls over WebRTC.
// A WebSocket relay carries the signaling; media flows peer to peer once
// the call is connected.
//
// Settings come from an optional YAML file (--config) and are overridden by
// flags. When no id or relay URL is known, the tool asks for them
// interactively.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/peercall/internal/app"
	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	flags := pflag.NewFlagSet("peercall", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file")
	id := flags.String("id", "", "your participant id on the relay")
	display := flags.String("display", "", "display name shown to the callee")
	relayURL := flags.String("url", "", "relay WebSocket URL (e.g. wss://relay.example.org/ws)")
	room := flags.String("room", "", "relay room to join")
	callee := flags.String("call", "", "participant id to call after connecting")
	autoAnswer := flags.Bool("auto-answer", false, "accept incoming calls without asking")
	ringTimeout := flags.Duration("ring-timeout", 0, "how long an incoming call rings (negative disables)")
	answerTimeout := flags.Duration("answer-timeout", 0, "how long an outgoing call waits for an answer (negative disables)")
	candidates := flags.String("candidates", "", "duplicate candidate policy: drop or keep")
	debug := flags.Bool("debug", false, "enable debug logging")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if flags.Changed("id") {
		cfg.ID = *id
	}
	if flags.Changed("display") {
		cfg.Display = *display
	}
	if flags.Changed("url") {
		cfg.URL = *relayURL
	}
	if flags.Changed("room") {
		cfg.Room = *room
	}
	if flags.Changed("auto-answer") {
		cfg.AutoAnswer = *autoAnswer
	}
	if flags.Changed("ring-timeout") {
		cfg.RingTimeout = *ringTimeout
	}
	if flags.Changed("answer-timeout") {
		cfg.AnswerTimeout = *answerTimeout
	}
	if flags.Changed("candidates") {
		cfg.Candidates = *candidates
	}
	if flags.Changed("debug") {
		cfg.Debug = *debug
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Peercall v%s", version))
	pterm.Println()

	if cfg.ID == "" {
		cfg.ID = askID()
	}
	if cfg.URL == "" {
		cfg.URL = askURL()
	}

	err = app.RunClient(ctx, cfg, app.ClientOptions{
		Call:  *callee,
		Input: os.Stdin,
	})
	if err != nil {
		return err
	}
	util.LogInfo("disconnected from relay")
	return nil
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askID prompts for a participant id until a non-empty one is entered.
func askID() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Your participant id").
			Show()

		if id := strings.TrimSpace(raw); id != "" {
			pterm.Println()
			return id
		}

		util.LogWarning("participant id must not be empty")
		pterm.Println()
	}
}

// askURL prompts for a valid relay URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. wss://relay.example.org/ws)").
			Show()

		wsURL, err := config.NormalizeURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
