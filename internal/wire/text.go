package wire

import "encoding/json"

// Message is the envelope shared by every control (text) frame:
// {"type": "<name>", "payload": {...}}.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals a typed payload into a Message with the given type string.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: msgType, Payload: raw})
}

// --- Client -> Server payloads ---

// AuthRequest is the C->S "auth" payload.
type AuthRequest struct {
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
}

// DeviceInfo describes the local hardware/software per client/hello.
type DeviceInfo struct {
	Model           string `json:"model,omitempty"`
	Manufacturer    string `json:"manufacturer,omitempty"`
	SoftwareVersion string `json:"software_version,omitempty"`
}

// AudioFormat mirrors spec.md §3 AudioFormat.
type AudioFormat struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
}

// PlayerV1Support is the player@v1 capability block advertised in client/hello.
// SupportedFormats is in priority order: the server picks the first one it
// can source (spec.md §4.2 step 3).
type PlayerV1Support struct {
	SupportedFormats  []AudioFormat `json:"supported_formats"`
	BufferCapacity    int           `json:"buffer_capacity"`
	SupportedCommands []string      `json:"supported_commands"`
}

// ClientHello is the C->S "client/hello" payload.
type ClientHello struct {
	ClientID        string           `json:"client_id"`
	Name            string           `json:"name"`
	DeviceInfo      *DeviceInfo      `json:"device_info,omitempty"`
	Version         int              `json:"version"`
	SupportedRoles  []string         `json:"supported_roles"`
	PlayerV1Support *PlayerV1Support `json:"player@v1_support,omitempty"`
}

// ClientTime is the C->S "client/time" payload.
type ClientTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
}

// ClientStatePlayer is the player sub-object of "client/state".
type ClientStatePlayer struct {
	State  string `json:"state"` // "synchronized" | "buffering" | "error"
	Volume int    `json:"volume"`
	Muted  bool   `json:"muted"`
}

// ClientState is the C->S "client/state" payload.
type ClientState struct {
	Player ClientStatePlayer `json:"player"`
}

// --- Server -> Client payloads ---

// AuthOK is the S->C "auth/ok" payload (empty).
type AuthOK struct{}

// ServerHello is the S->C "server/hello" payload.
type ServerHello struct {
	ServerID         string   `json:"server_id"`
	Name             string   `json:"name"`
	Version          int      `json:"version"`
	ActiveRoles      []string `json:"active_roles"`
	ConnectionReason string   `json:"connection_reason"`
}

// ServerTime is the S->C "server/time" payload.
type ServerTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
	ServerReceived    int64 `json:"server_received"`
	ServerTransmitted int64 `json:"server_transmitted"`
}

// StreamStartPlayer is the player sub-object of "stream/start".
type StreamStartPlayer struct {
	Codec       string `json:"codec"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	BitDepth    int    `json:"bit_depth"`
	CodecHeader string `json:"codec_header,omitempty"` // base64
}

// StreamStart is the S->C "stream/start" payload. Artwork/visualizer
// sub-payloads are accepted but unused by this core (they are demultiplexed
// out of binary frames directly, not negotiated here).
type StreamStart struct {
	Player *StreamStartPlayer `json:"player,omitempty"`
}

// StreamMetadata is the S->C "stream/metadata" payload.
type StreamMetadata struct {
	Title      string `json:"title,omitempty"`
	Artist     string `json:"artist,omitempty"`
	Album      string `json:"album,omitempty"`
	ArtworkURL string `json:"artwork_url,omitempty"`
}

// SessionUpdateMetadata is the nested metadata object of "session/update".
type SessionUpdateMetadata struct {
	Title         string `json:"title,omitempty"`
	Artist        string `json:"artist,omitempty"`
	Album         string `json:"album,omitempty"`
	AlbumArtist   string `json:"album_artist,omitempty"`
	Track         int    `json:"track,omitempty"`
	TrackDuration int    `json:"track_duration,omitempty"`
	Year          int    `json:"year,omitempty"`
	ArtworkURL    string `json:"artwork_url,omitempty"`
}

// SessionUpdate is the S->C "session/update" payload.
type SessionUpdate struct {
	GroupID       string                 `json:"group_id,omitempty"`
	GroupName     string                 `json:"group_name,omitempty"`
	Metadata      *SessionUpdateMetadata `json:"metadata,omitempty"`
	PlaybackState string                 `json:"playback_state,omitempty"`
}

// ServerCommandPlayer is the player sub-object of "server/command".
type ServerCommandPlayer struct {
	Command string `json:"command"` // "volume" | "mute"
	Volume  *int   `json:"volume,omitempty"`
	Muted   *bool  `json:"muted,omitempty"`
}

// ServerCommand is the S->C "server/command" payload.
type ServerCommand struct {
	Player ServerCommandPlayer `json:"player"`
}
