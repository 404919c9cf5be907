package sendspin

import (
	"fmt"
	"time"
)

// PlayerConfig configures the player@v1 role this core advertises.
type PlayerConfig struct {
	// BufferCapacity is the advertised buffer_capacity in bytes (recommended 2 MiB).
	BufferCapacity int
	// SupportedFormats is the priority-ordered format list: the server
	// picks the first one it can source. Advertise hi-res PCM variants
	// before standard-rate PCM before lossy codecs.
	SupportedFormats []AudioFormat
}

// SchedulerConfig tunes the playback scheduler.
type SchedulerConfig struct {
	PlaybackWindow time.Duration // default ±50ms
	MaxQueueSize   int           // default 100
	TickPeriod     time.Duration // default 10ms
}

// ClockSyncConfig tunes the NTP-style offset/drift estimator.
type ClockSyncConfig struct {
	InitialProbes       int           // default 5
	InitialInterval     time.Duration // default 100ms
	SteadyInterval      time.Duration // default 5s
	Gain                float64       // default 0.1
}

// Config is the embedder-supplied configuration passed to New.
type Config struct {
	ClientID    string // required, stable per device
	DisplayName string // required
	AuthToken   string // optional

	Player PlayerConfig

	Scheduler  SchedulerConfig
	ClockSync  ClockSyncConfig
}

// DefaultConfig returns a Config with every tunable at its spec default;
// ClientID, DisplayName, and Player.SupportedFormats are left for the
// caller to fill in.
func DefaultConfig() Config {
	return Config{
		Player: PlayerConfig{
			BufferCapacity: 2 << 20,
		},
		Scheduler: SchedulerConfig{
			PlaybackWindow: 50 * time.Millisecond,
			MaxQueueSize:   100,
			TickPeriod:     10 * time.Millisecond,
		},
		ClockSync: ClockSyncConfig{
			InitialProbes:   5,
			InitialInterval: 100 * time.Millisecond,
			SteadyInterval:  5 * time.Second,
			Gain:            0.1,
		},
	}
}

// Validate checks the required fields and non-empty role configuration.
func (c Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("sendspin: client_id is required")
	}
	if c.DisplayName == "" {
		return fmt.Errorf("sendspin: display_name is required")
	}
	if len(c.Player.SupportedFormats) == 0 {
		return fmt.Errorf("sendspin: player role requires at least one supported format")
	}
	return nil
}
