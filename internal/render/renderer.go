// Package render owns the local audio device and the bookkeeping of bytes
// in flight to it.
package render

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// LedgerCapBytes bounds the BufferLedger's outstanding bytes — about five
// seconds of 48kHz/16-bit stereo audio (192,000 bytes per second).
const LedgerCapBytes = 1 << 20

// framesPerBuffer is the fixed portaudio callback size the playback loop
// fills on every cycle, matching the teacher's 20ms-at-48kHz framing.
const framesPerBuffer = 960

// Format is the negotiated device format (spec.md's stream/start player
// sub-payload, carried here without any codec-specific fields).
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int // 16, 24, or 32; the device's native sample width
}

// Renderer owns the output device stream and a BufferLedger tracking bytes
// submitted but not yet consumed by the device.
type Renderer struct {
	mu     sync.Mutex
	format Format
	stream *portaudio.Stream
	ledger *BufferLedger

	volume float64 // 0.0 .. 1.0
	muted  bool

	buf   []int32 // fixed-size device callback buffer, reused every cycle
	queue []int32 // pending samples awaiting the device, FIFO

	evictedOther int64 // drop-oldest-from-ledger eviction count

	started bool
}

// New returns an unstarted Renderer at full volume, unmuted.
func New() *Renderer {
	return &Renderer{
		ledger: NewBufferLedger(LedgerCapBytes),
		volume: 1.0,
	}
}

// Start configures the device for format. Idempotent: calling Start again
// with the identical format while already started is a no-op.
func (r *Renderer) Start(format Format) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started && r.format == format {
		return nil
	}
	if r.started {
		r.stopLocked()
	}

	r.buf = make([]int32, framesPerBuffer*format.Channels)
	stream, err := portaudio.OpenDefaultStream(
		0, format.Channels, float64(format.SampleRate), framesPerBuffer, &r.buf)
	if err != nil {
		return fmt.Errorf("render: open device: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("render: start device: %w", err)
	}

	r.stream = stream
	r.format = format
	r.started = true
	r.ledger.Clear()
	r.queue = nil
	log.Printf("[render] started sample_rate=%d channels=%d bit_depth=%d",
		format.SampleRate, format.Channels, format.BitDepth)
	return nil
}

// PlayPCM registers normalized interleaved int32 PCM in the ledger under its
// end time (deadlineUs, the local time of its first sample, plus its
// duration at the current format), converts it to the device's native bit
// depth (applying volume and mute), and submits it to the device.
func (r *Renderer) PlayPCM(samples []int32, deadlineUs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil // route change / not yet (re)configured: no-op per contract
	}

	endTimeUs := deadlineUs
	if r.format.Channels > 0 && r.format.SampleRate > 0 {
		frames := int64(len(samples) / r.format.Channels)
		endTimeUs += frames * 1_000_000 / int64(r.format.SampleRate)
	}

	r.ledger.PruneConsumed(time.Now().UnixMicro())

	byteCount := len(samples) * (r.format.BitDepth / 8)
	for !r.ledger.HasCapacity(byteCount) {
		if _, ok := r.ledger.DropOldest(); !ok {
			break
		}
		r.evictedOther++
	}
	r.ledger.Register(endTimeUs, byteCount)

	converted := r.applyVolumeAndConvert(samples)
	r.queue = append(r.queue, converted...)

	for len(r.queue) >= len(r.buf) {
		copy(r.buf, r.queue[:len(r.buf)])
		r.queue = r.queue[len(r.buf):]
		if err := r.stream.Write(); err != nil {
			log.Printf("[render] device write error (underrun tolerated): %v", err)
		}
	}
	return nil
}

// applyVolumeAndConvert scales normalized samples by the current
// volume/mute state, clamps to the 24-bit signed range to prevent overflow
// before device submission, then maps from the normalized 32-bit slot back
// to the device's native bit depth (the inverse of decode's normalization
// shift).
func (r *Renderer) applyVolumeAndConvert(samples []int32) []int32 {
	gain := r.volume
	if r.muted {
		gain = 0
	}

	const maxQ24 = 1<<23 - 1
	const minQ24 = -(1 << 23)

	out := make([]int32, len(samples))
	for i, s := range samples {
		scaled := int64(float64(s) * gain)
		if scaled > maxQ24 {
			scaled = maxQ24
		} else if scaled < minQ24 {
			scaled = minQ24
		}
		out[i] = fromNormalized(int32(scaled), r.format.BitDepth)
	}
	return out
}

// fromNormalized reverses decode's left-justification shift, mapping a
// normalized sample back down to the device's native bit-depth range.
func fromNormalized(norm int32, bitDepth int) int32 {
	switch bitDepth {
	case 16:
		return norm >> 8
	default: // 24 and 32 both pass through unshifted
		return norm
	}
}

// SetVolume sets the linear gain in [0,1].
func (r *Renderer) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	r.mu.Lock()
	r.volume = v
	r.mu.Unlock()
}

// SetMute mutes or unmutes output without discarding the volume setting.
func (r *Renderer) SetMute(muted bool) {
	r.mu.Lock()
	r.muted = muted
	r.mu.Unlock()
}

// EvictedCount reports how many ledger entries have been dropped under the
// drop-oldest admission policy since the Renderer was created; Start and
// Stop do not reset it.
func (r *Renderer) EvictedCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictedOther
}

// Stop halts the device, flushes pending state, and clears the ledger.
func (r *Renderer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Renderer) stopLocked() {
	if !r.started {
		return
	}
	if err := r.stream.Stop(); err != nil {
		log.Printf("[render] device stop error: %v", err)
	}
	r.stream.Close()
	r.stream = nil
	r.queue = nil
	r.ledger.Clear()
	r.started = false
}
