package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide relay traffic counter.
var Stats = &stats{}

type stats struct {
	TotalConns  atomic.Int64 // cumulative count of client connections since process start
	ClosedConns atomic.Int64 // cumulative count of closed client connections
	Routed      atomic.Int64 // messages delivered to at least one client
	Dropped     atomic.Int64 // messages rejected as malformed or undeliverable
	BytesIn     atomic.Int64 // cumulative bytes read from clients
	BytesOut    atomic.Int64 // cumulative bytes written to clients
}

func (s *stats) AddConn()      { s.TotalConns.Add(1) }
func (s *stats) RemoveConn()   { s.ClosedConns.Add(1) }
func (s *stats) AddRouted()    { s.Routed.Add(1) }
func (s *stats) AddDropped()   { s.Dropped.Add(1) }
func (s *stats) AddIn(n int)   { s.BytesIn.Add(int64(n)) }
func (s *stats) AddOut(n int)  { s.BytesOut.Add(int64(n)) }
func (s *stats) Online() int64 { return s.TotalConns.Load() - s.ClosedConns.Load() }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs relay statistics every
// interval while there is activity. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevIn, prevOut, prevRouted, prevDropped int64
		for {
			select {
			case <-ticker.C:
				in := Stats.BytesIn.Load()
				out := Stats.BytesOut.Load()
				routed := Stats.Routed.Load()
				dropped := Stats.Dropped.Load()

				if routed != prevRouted || dropped != prevDropped {
					pterm.DefaultLogger.Info(formatStats(
						float64(in-prevIn)/secs,
						float64(out-prevOut)/secs,
						Stats.Online(),
						routed-prevRouted,
						dropped-prevDropped,
					))
				}

				prevIn = in
				prevOut = out
				prevRouted = routed
				prevDropped = dropped

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, online, routed, dropped int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Online: %3d | Msg: %4d routed %3d dropped",
		formatBytes(inS),
		formatBytes(outS),
		online,
		routed,
		dropped,
	)
}
