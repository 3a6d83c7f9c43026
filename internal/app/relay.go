package app

import (
	"context"

	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/relay"
	"github.com/1ureka/peercall/internal/util"
)

// RunRelay starts the signaling relay and serves until ctx is cancelled.
func RunRelay(ctx context.Context, cfg config.Relay) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	server := relay.NewServer(relay.Options{
		ICEServers:     cfg.ICEServers,
		MaxMessageSize: cfg.MaxMessageSize,
	})
	addr, err := server.Start(cfg.Listen)
	if err != nil {
		return err
	}
	defer server.Close()

	util.LogSuccess("relay listening on %s (ws://%s/ws)", addr, addr)
	util.LogInfo("pushing %d ICE servers to clients", len(cfg.ICEServers))

	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, cfg.StatsInterval)
	}

	<-ctx.Done()
	util.LogInfo("relay shutting down")
	return nil
}
