package decode

import (
	"fmt"
	"io"
	"sync"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
)

// flacDecoder drives a streaming FLAC decode from wire frames arriving one
// at a time, well before the full file is buffered.
//
// mewkiz/flac's Stream reads from an io.Reader on demand: New blocks on
// Read until it has consumed the marker and every metadata block (which
// may span several wire frames before any audio is available — the first
// few Decode calls can legitimately return no samples at all), and each
// ParseNext blocks on Read until a complete audio frame is available. An
// io.Pipe models this directly: Write (driven by Decode) only returns once
// every byte handed to it has been read by the parser goroutine, so newly
// appended bytes are "pending" exactly as long as the parser hasn't
// consumed them yet, and nothing is ever buffered twice.
type flacDecoder struct {
	pw *io.PipeWriter
	pr *io.PipeReader

	// header is codec_header decoded from stream/start: the "fLaC" marker
	// plus metadata blocks (STREAMINFO, etc.) a server may send out-of-band
	// instead of inline in the first frame payloads. Written to the pipe
	// ahead of any frame bytes, so flac.New sees metadata before audio.
	header []byte

	out  chan []int32
	errc chan error

	initOnce sync.Once
	closed   bool
}

func newFLACDecoder(f Format) (Decoder, error) {
	pr, pw := io.Pipe()
	d := &flacDecoder{
		pr:     pr,
		pw:     pw,
		header: f.Header,
		out:    make(chan []int32, 16),
		errc:   make(chan error, 1),
	}
	go d.run()
	return d, nil
}

func (d *flacDecoder) run() {
	defer close(d.out)

	// Once parsing stops, close the read side so a later Write in Decode
	// fails with the parse error instead of blocking forever.
	var runErr error
	defer func() { d.pr.CloseWithError(runErr) }()

	stream, err := flac.New(d.pr)
	if err != nil {
		runErr = fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		d.errc <- runErr
		return
	}
	defer stream.Close()

	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			return
		}
		if err != nil {
			runErr = fmt.Errorf("%w: %v", ErrInvalidFrame, err)
			d.errc <- runErr
			return
		}
		d.out <- normalizeFLACFrame(f)
	}
}

// normalizeFLACFrame interleaves a decoded FLAC frame's per-channel samples
// and scales them using the same left-justification rule the PCM decoder
// applies: samples narrower than 24 bits are shifted up to 24-bit scale,
// samples at or above 24 bits pass through unshifted.
func normalizeFLACFrame(f *frame.Frame) []int32 {
	channels := len(f.Subframes)
	if channels == 0 {
		return nil
	}
	n := len(f.Subframes[0].Samples)
	shift := uint(0)
	if bd := int(f.BitsPerSample); bd > 0 && bd < 24 {
		shift = uint(24 - bd)
	}

	out := make([]int32, 0, n*channels)
	for i := 0; i < n; i++ {
		for ch := 0; ch < channels; ch++ {
			out = append(out, f.Subframes[ch].Samples[i]<<shift)
		}
	}
	return out
}

// Decode appends payload to the pending stream and returns whatever
// complete frames the background parser has produced since the last call.
// It returns (nil, nil) while the decoder is still consuming metadata, or
// while the appended bytes don't yet complete a frame — neither is an
// error per the FLAC streaming contract.
func (d *flacDecoder) Decode(payload []byte) ([]int32, error) {
	if d.closed {
		return nil, ErrInternalDecoderError
	}

	var headerErr error
	d.initOnce.Do(func() {
		if len(d.header) == 0 {
			return
		}
		if _, err := d.pw.Write(d.header); err != nil {
			headerErr = err
		}
	})
	if headerErr != nil {
		return nil, fmt.Errorf("%w: write codec header: %v", ErrInternalDecoderError, headerErr)
	}

	if len(payload) > 0 {
		if _, err := d.pw.Write(payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternalDecoderError, err)
		}
	}

	var samples []int32
	for {
		select {
		case s, ok := <-d.out:
			if !ok {
				select {
				case err := <-d.errc:
					return samples, err
				default:
					return samples, nil
				}
			}
			samples = append(samples, s...)
		default:
			return samples, nil
		}
	}
}

func (d *flacDecoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.pw.CloseWithError(io.ErrClosedPipe)
	return d.pr.Close()
}
