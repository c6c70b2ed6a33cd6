package util

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Traffic snapshots
// ──────────────────────────────────────────────────────────────────────────────

// Traffic is a point-in-time copy of one port's byte and error counters.
type Traffic struct {
	Name          string
	BytesSent     uint64
	BytesRecv     uint64
	FramingErrors uint64
	Failures      uint64
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs per-port traffic rates
// every interval, skipping ports that were idle. It stops when ctx is
// cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration, source func() []Traffic) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := make(map[string]Traffic)
		secs := interval.Seconds()

		for {
			select {
			case <-ticker.C:
				for _, cur := range source() {
					last := prev[cur.Name]
					prev[cur.Name] = cur

					outS := float64(cur.BytesSent-last.BytesSent) / secs
					inS := float64(cur.BytesRecv-last.BytesRecv) / secs
					badF := cur.FramingErrors - last.FramingErrors
					fail := cur.Failures - last.Failures

					if inS > 10 || outS > 10 || badF > 0 || fail > 0 {
						pterm.DefaultLogger.Info(formatStats(cur.Name, inS, outS, badF, fail))
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func FormatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns one port's rates for display in the logger.
func formatStats(name string, inS, outS float64, badFrames, failures uint64) string {
	return fmt.Sprintf("[%s] In: %s/s | Out: %s/s | Bad frames: %d | Failed sends: %d",
		name,
		FormatBytes(inS),
		FormatBytes(outS),
		badFrames,
		failures,
	)
}
