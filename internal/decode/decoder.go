// Package decode normalizes PCM, Opus, and FLAC wire frames into a single
// interleaved, 32-bit signed PCM stream so the renderer only ever has one
// format to speak.
package decode

import "errors"

// ErrUnsupportedFormat, ErrInvalidFrame, and ErrInternalDecoderError are the
// three error classes a Decoder can report back to its owner.
var (
	ErrUnsupportedFormat   = errors.New("decode: unsupported format")
	ErrInvalidFrame        = errors.New("decode: invalid frame")
	ErrInternalDecoderError = errors.New("decode: internal decoder error")
)

// Format describes the negotiated stream parameters from stream/start's
// player sub-payload.
type Format struct {
	Codec      string // "pcm", "opus", "flac"
	SampleRate int
	Channels   int
	BitDepth   int    // meaningful for pcm only; opus/flac report their own
	Header     []byte // decoded codec_header, e.g. FLAC's STREAMINFO block
}

// Decoder turns one wire frame's payload into normalized, interleaved
// 32-bit signed PCM. Implementations are not safe for concurrent use — the
// binary-frame reader task is the only caller.
type Decoder interface {
	// Decode consumes one wire frame's payload and returns zero or more
	// complete interleaved int32 samples (L0,R0,L1,R1,... for stereo).
	Decode(payload []byte) ([]int32, error)
	// Close releases any underlying decoder resources.
	Close() error
}

// New constructs the Decoder variant for format.Codec.
func New(format Format) (Decoder, error) {
	switch format.Codec {
	case "pcm":
		return newPCMDecoder(format)
	case "opus":
		return newOpusDecoder(format)
	case "flac":
		return newFLACDecoder(format)
	default:
		return nil, ErrUnsupportedFormat
	}
}
