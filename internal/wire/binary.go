// Package wire implements the Sendspin binary and text frame codecs.
//
// Binary frames carry audio/artwork/visualizer payloads tagged with a
// server timestamp; text frames carry JSON control messages. Both codecs
// are pure encode/decode — no I/O, no state — so they can be exercised
// directly from tests without a live transport.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Binary frame type IDs (spec §6).
const (
	TypeAudioChunk     = 4
	TypeArtworkBase    = 8  // 8-11: artwork channels 0-3
	TypeArtworkEnd     = 11
	TypeVisualizer     = 16
)

// binaryHeaderLen is [type:1][server_timestamp:8].
const binaryHeaderLen = 9

// WireAudioFrame is a single decoded binary frame off the transport.
type WireAudioFrame struct {
	Type             uint8
	ServerTimestamp  int64 // microseconds, server loop-time domain
	Payload          []byte
}

// EncodeBinaryFrame serialises a frame to its bit-exact wire form:
// [type: u8][server_timestamp: i64 big-endian][payload: N bytes].
func EncodeBinaryFrame(f WireAudioFrame) []byte {
	out := make([]byte, binaryHeaderLen+len(f.Payload))
	out[0] = f.Type
	binary.BigEndian.PutUint64(out[1:9], uint64(f.ServerTimestamp))
	copy(out[9:], f.Payload)
	return out
}

// DecodeBinaryFrame parses a wire frame. It rejects frames shorter than the
// 9-byte header, frames using a reserved type ID (0-3), and frames with a
// negative server_timestamp.
func DecodeBinaryFrame(data []byte) (WireAudioFrame, error) {
	if len(data) < binaryHeaderLen {
		return WireAudioFrame{}, fmt.Errorf("wire: frame too short: %d bytes", len(data))
	}
	typeID := data[0]
	if typeID <= 3 {
		return WireAudioFrame{}, fmt.Errorf("wire: reserved type id %d", typeID)
	}
	ts := int64(binary.BigEndian.Uint64(data[1:9]))
	if ts < 0 {
		return WireAudioFrame{}, fmt.Errorf("wire: negative server_timestamp %d", ts)
	}
	payload := make([]byte, len(data)-binaryHeaderLen)
	copy(payload, data[binaryHeaderLen:])
	return WireAudioFrame{Type: typeID, ServerTimestamp: ts, Payload: payload}, nil
}

// IsArtworkType reports whether typeID addresses one of the four artwork
// channels (8-11).
func IsArtworkType(typeID uint8) bool {
	return typeID >= TypeArtworkBase && typeID <= TypeArtworkEnd
}

// ArtworkChannel returns the artwork channel (0-3) for typeID. Caller must
// have checked IsArtworkType first.
func ArtworkChannel(typeID uint8) int {
	return int(typeID - TypeArtworkBase)
}
