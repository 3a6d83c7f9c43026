// Peercall relay: signaling server entry point.
//
// The relay routes call signaling between connected participants and pushes
// the ICE server list to each of them. It never sees media.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/peercall/internal/app"
	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	flags := pflag.NewFlagSet("peercall-relay", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file (relay section)")
	listen := flags.StringP("listen", "l", "", "address to listen on (default :8080)")
	iceJSON := flags.String("ice-servers-json", "", `ICE servers as JSON, e.g. '[{"urls":"stun:stun.l.google.com:19302"}]'`)
	statsInterval := flags.Duration("stats-interval", 0, "traffic report interval (0 keeps the config value)")
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
	rc := cfg.Relay

	if flags.Changed("listen") {
		rc.Listen = *listen
	}
	if flags.Changed("ice-servers-json") {
		servers, err := config.ParseICEServersJSON(*iceJSON)
		if err != nil {
			return err
		}
		rc.ICEServers = servers
	}
	if flags.Changed("stats-interval") {
		rc.StatsInterval = *statsInterval
	}
	if *debug || cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Peercall relay v%s", version))
	pterm.Println()

	return app.RunRelay(ctx, rc)
}
