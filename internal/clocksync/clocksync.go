// Package clocksync estimates the offset and drift between a server's
// monotonic "loop time" clock and the local wall clock from NTP-style
// round-trip samples, using a fixed-gain filter.
//
// ClockSync has no goroutine of its own and no internal locking. Session's
// text-frame reader is the only caller of Process (once per server/time
// reply). Embedders that call Process and the conversion methods from
// different goroutines must serialize externally (Snapshot is a copy that is
// safe to pass across goroutines).
package clocksync

import "time"

// Quality classifies how trustworthy the current estimate is.
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

// defaultGain is the fixed filter gain applied to the residual on every
// sample from the third sample onward, used when New is given a
// non-positive gain.
const defaultGain = 0.1

const (
	// maxRTT discards samples whose round trip exceeds this — too noisy to
	// trust.
	maxRTT = 100 * time.Millisecond

	// maxResidual discards a residual beyond this — presumed clock jump.
	maxResidual = 50 * time.Millisecond

	// lostAfter is how long since the last accepted sample before quality
	// degrades to Lost.
	lostAfter = 5 * time.Second
)

// Sample is one completed round-trip per spec.md §3 SyncSample.
type Sample struct {
	T1, T2, T3, T4 int64 // microseconds, client/server/server/client
}

// RTT returns the network round trip with server processing removed.
func (s Sample) RTT() int64 {
	return (s.T4 - s.T1) - (s.T3 - s.T2)
}

// MeasuredOffset returns the sample's instantaneous server-minus-local offset.
func (s Sample) MeasuredOffset() float64 {
	return float64((s.T2-s.T1)+(s.T3-s.T4)) / 2
}

// ClockSync holds the filtered offset/drift estimate.
type ClockSync struct {
	clientStartUs int64
	gain          float64

	hasFirst      bool
	hasSecond     bool
	offset        float64 // microseconds, server - local
	drift         float64 // microseconds per microsecond of local elapsed time
	lastUpdateUs  int64
	loopOriginUs  int64
	sampleCount   int
	lastRTTUs     int64
	lastAcceptUs  int64 // local time (us) of the last accepted sample, 0 = never
}

// New creates a ClockSync anchored at clientStartUs (the local wall-clock
// microsecond at which this session started), filtering residuals with the
// given gain (defaultGain if gain <= 0). Until a sample is accepted, time
// conversions assume the server started simultaneously with the client.
func New(clientStartUs int64, gain float64) *ClockSync {
	if gain <= 0 {
		gain = defaultGain
	}
	return &ClockSync{
		clientStartUs: clientStartUs,
		gain:          gain,
		loopOriginUs:  clientStartUs,
	}
}

// Process ingests a completed round trip. t4, the local receipt time, also
// serves as the local time of this update.
func (c *ClockSync) Process(t1, t2, t3, t4 int64) {
	s := Sample{T1: t1, T2: t2, T3: t3, T4: t4}
	rtt := s.RTT()
	if rtt < 0 || int64(maxRTT/time.Microsecond) < rtt {
		return
	}

	measured := s.MeasuredOffset()

	switch {
	case !c.hasFirst:
		c.offset = measured
		c.drift = 0
		c.hasFirst = true
	case !c.hasSecond:
		dt := float64(t4 - c.lastUpdateUs)
		if dt > 0 {
			c.drift = (measured - c.offset) / dt
		}
		c.offset = measured
		c.hasSecond = true
	default:
		dtLocal := t4 - c.lastUpdateUs
		if dtLocal <= 0 {
			// Non-monotonic local clock: discard.
			return
		}
		predicted := c.offset + c.drift*float64(dtLocal)
		residual := measured - predicted
		if residual < -float64(maxResidual/time.Microsecond) || residual > float64(maxResidual/time.Microsecond) {
			return
		}
		c.offset = predicted + c.gain*residual
		c.drift = c.drift + c.gain*(residual/float64(dtLocal))
	}

	c.lastUpdateUs = t4
	c.sampleCount++
	c.lastRTTUs = rtt
	c.lastAcceptUs = t4
	c.loopOriginUs = c.clientStartUs - int64(c.offset)
}

// ServerToLocal converts a server loop-time microsecond into a local
// wall-clock microsecond.
func (c *ClockSync) ServerToLocal(serverUs int64) int64 {
	return c.loopOriginUs + serverUs
}

// LocalToServer converts a local wall-clock microsecond into server
// loop-time.
func (c *ClockSync) LocalToServer(localUs int64) int64 {
	return localUs - c.loopOriginUs
}

// Quality reports good/degraded/lost based on the most recent accepted
// sample's RTT and recency, evaluated as of nowUs.
func (c *ClockSync) Quality(nowUs int64) Quality {
	if c.sampleCount == 0 {
		return QualityLost
	}
	if nowUs-c.lastAcceptUs > int64(lostAfter/time.Microsecond) {
		return QualityLost
	}
	switch {
	case c.lastRTTUs < int64(50*time.Millisecond/time.Microsecond):
		return QualityGood
	case c.lastRTTUs < int64(100*time.Millisecond/time.Microsecond):
		return QualityDegraded
	default:
		return QualityLost
	}
}

// Snapshot is an immutable copy of the estimator's state, safe to pass
// across goroutines (e.g. into scheduler telemetry) without sharing the
// ClockSync value itself.
type Snapshot struct {
	OffsetUs     float64
	DriftUsPerUs float64
	SampleCount  int
	LastRTTUs    int64
	LoopOriginUs int64
	Quality      Quality
}

// TakeSnapshot returns a Snapshot of the current state as of nowUs.
func (c *ClockSync) TakeSnapshot(nowUs int64) Snapshot {
	return Snapshot{
		OffsetUs:     c.offset,
		DriftUsPerUs: c.drift,
		SampleCount:  c.sampleCount,
		LastRTTUs:    c.lastRTTUs,
		LoopOriginUs: c.loopOriginUs,
		Quality:      c.Quality(nowUs),
	}
}

// SampleCount returns the number of accepted samples.
func (c *ClockSync) SampleCount() int { return c.sampleCount }

// NowMicros returns the current wall-clock time in microseconds. A small
// helper so callers don't each reimplement the time.Now().UnixMicro() idiom.
func NowMicros() int64 {
	return time.Now().UnixMicro()
}
