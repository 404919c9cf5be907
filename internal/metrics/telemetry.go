// Package metrics formats the per-second structured telemetry line
// combining scheduler and clock-sync state, matching the teacher's
// bracketed-tag log.Printf style.
package metrics

import "log"

// Reading is the per-second telemetry snapshot (spec.md §4.4).
type Reading struct {
	Received      int64
	Played        int64
	Dropped       int64
	QueueSize     int
	AvgBufferMs   float64
	ClockOffsetMs float64
	RTTMs         float64
}

// Log writes one structured line for Reading.
func Log(r Reading) {
	log.Printf("[telemetry] received=%d played=%d dropped=%d queue_size=%d avg_buffer_ms=%.1f clock_offset_ms=%.2f rtt_ms=%.2f",
		r.Received, r.Played, r.Dropped, r.QueueSize, r.AvgBufferMs, r.ClockOffsetMs, r.RTTMs)
}
