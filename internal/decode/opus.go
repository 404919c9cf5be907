package decode

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// maxFrameSamples is 120ms at 48kHz, the largest frame size Opus can produce.
const maxFrameSamples = 5760

// opusDecoder wraps one libopus decoder instance. One wire frame is always
// exactly one Opus packet.
type opusDecoder struct {
	dec      *opus.Decoder
	channels int
	pcm16    []int16
}

func newOpusDecoder(f Format) (Decoder, error) {
	switch f.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("%w: opus sample rate %d", ErrUnsupportedFormat, f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return nil, fmt.Errorf("%w: opus channels %d", ErrUnsupportedFormat, f.Channels)
	}
	dec, err := opus.NewDecoder(f.SampleRate, f.Channels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalDecoderError, err)
	}
	return &opusDecoder{
		dec:      dec,
		channels: f.Channels,
		pcm16:    make([]int16, maxFrameSamples*f.Channels),
	}, nil
}

func (d *opusDecoder) Decode(payload []byte) ([]int32, error) {
	n, err := d.dec.Decode(payload, d.pcm16)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	out := make([]int32, n*d.channels)
	for i := range out {
		out[i] = int32(d.pcm16[i]) << 8
	}
	return out, nil
}

func (d *opusDecoder) Close() error { return nil }
