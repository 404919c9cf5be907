package sendspin

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	"sendspin/internal/clocksync"
	"sendspin/internal/decode"
	"sendspin/internal/metrics"
	"sendspin/internal/render"
	"sendspin/internal/scheduler"
	"sendspin/internal/transport"
	"sendspin/internal/wire"
)

// State is the connection-level state machine (spec.md §4.2).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// StreamState is the playback-lifecycle state reported in client/state.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamSynchronized
	StreamBuffering
	StreamError
)

func (s StreamState) wireValue() string {
	switch s {
	case StreamSynchronized:
		return "synchronized"
	case StreamBuffering:
		return "buffering"
	case StreamError:
		return "error"
	default:
		return "buffering"
	}
}

const (
	fullHandshakeTimeout = 10 * time.Second
	helloFallbackTimeout = 1 * time.Second
)

// Session owns the handshake and the post-connect state machine: one
// Transport, one ClockSync, and — per active stream — one Scheduler,
// Decoder, and Renderer, all torn down together on stream end or
// disconnect.
type Session struct {
	cfg Config

	mu          sync.Mutex
	state       State
	streamState StreamState
	volume      float64
	muted       bool
	advertised  []AudioFormat

	tr    *transport.Transport
	clock *clocksync.ClockSync

	sched    *scheduler.Scheduler
	dec      decode.Decoder
	renderer *render.Renderer

	events chan ClientEvent

	cancel context.CancelFunc
	wg     sync.WaitGroup

	authOKOnce     sync.Once
	authOKCh       chan struct{}
	serverHelloOnce sync.Once
	serverHelloCh  chan struct{}

	clientStateInFlight bool
}

// New constructs a disconnected Session. cfg is validated on Connect.
func New(cfg Config) *Session {
	return &Session{
		cfg:        cfg,
		state:      StateDisconnected,
		volume:     1.0,
		advertised: cfg.Player.SupportedFormats,
		events:     make(chan ClientEvent, 16),
		renderer:   render.New(),
	}
}

// Events returns the lazy sequence of events for the embedder to consume.
func (s *Session) Events() <-chan ClientEvent { return s.events }

func (s *Session) emit(ev ClientEvent) {
	select {
	case s.events <- ev:
	default:
		log.Printf("[session] events channel full, dropping %s event", ev.Kind)
	}
}

// Connect runs the full handshake against url and, on success, starts the
// background tasks: text reader (started before the handshake), binary
// reader, clock-sync driver, telemetry logger, and transport watcher. Each
// stream's scheduler ticker is started with the stream. It blocks until the
// session reaches Connected or fails.
func (s *Session) Connect(ctx context.Context, url string) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateConnecting
	s.authOKCh = make(chan struct{})
	s.serverHelloCh = make(chan struct{})
	s.authOKOnce = sync.Once{}
	s.serverHelloOnce = sync.Once{}
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	tr := transport.New()
	if err := tr.Connect(runCtx, url); err != nil {
		cancel()
		return fmt.Errorf("sendspin: connect: %w", err)
	}
	s.mu.Lock()
	s.tr = tr
	s.clock = clocksync.New(clocksync.NowMicros(), s.cfg.ClockSync.Gain)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.textReaderTask(runCtx)

	handshakeCtx, cancelHandshake := context.WithTimeout(runCtx, fullHandshakeTimeout)
	defer cancelHandshake()

	if s.cfg.AuthToken != "" {
		s.mu.Lock()
		s.state = StateAuthenticating
		s.mu.Unlock()

		payload, _ := wire.Encode(wire.MsgAuth, wire.AuthRequest{Token: s.cfg.AuthToken, ClientID: s.cfg.ClientID})
		if err := tr.SendText(payload); err != nil {
			cancel()
			return fmt.Errorf("sendspin: send auth: %w", err)
		}
		select {
		case <-s.authOKCh:
		case <-handshakeCtx.Done():
			cancel()
			return fmt.Errorf("sendspin: auth/ok not received: %w", handshakeCtx.Err())
		}
	}

	if err := s.sendClientHello(); err != nil {
		cancel()
		return err
	}

	select {
	case <-s.serverHelloCh:
	case <-time.After(helloFallbackTimeout):
		// Compatibility fallback: some servers omit server/hello.
		s.serverHelloOnce.Do(s.completeConnect)
	case <-handshakeCtx.Done():
		cancel()
		return fmt.Errorf("sendspin: server/hello not received: %w", handshakeCtx.Err())
	}

	s.wg.Add(1)
	go s.binaryReaderTask(runCtx)
	s.wg.Add(1)
	go s.clockSyncTask(runCtx)
	s.wg.Add(1)
	go s.telemetryTask(runCtx)
	s.wg.Add(1)
	go s.watchTransportDone(runCtx)

	return nil
}

func (s *Session) sendClientHello() error {
	hello := wire.ClientHello{
		ClientID:       s.cfg.ClientID,
		Name:           s.cfg.DisplayName,
		Version:        1,
		SupportedRoles: []string{"player@v1", "metadata@v1", "artwork@v1", "visualizer@v1"},
		PlayerV1Support: &wire.PlayerV1Support{
			SupportedFormats:  toWireFormats(s.cfg.Player.SupportedFormats),
			BufferCapacity:    s.cfg.Player.BufferCapacity,
			SupportedCommands: []string{"volume", "mute"},
		},
	}
	payload, err := wire.Encode(wire.MsgClientHello, hello)
	if err != nil {
		return fmt.Errorf("sendspin: encode client/hello: %w", err)
	}
	return s.tr.SendText(payload)
}

func toWireFormats(formats []AudioFormat) []wire.AudioFormat {
	out := make([]wire.AudioFormat, len(formats))
	for i, f := range formats {
		out[i] = wire.AudioFormat{Codec: f.Codec, SampleRate: f.SampleRate, Channels: f.Channels, BitDepth: f.BitDepth}
	}
	return out
}

// completeConnect transitions to Connected, emits ServerConnected, and
// sends the initial client/state report. Idempotent per connection via the
// caller's sync.Once guards.
func (s *Session) completeConnect() {
	s.mu.Lock()
	s.state = StateConnected
	s.streamState = StreamIdle
	s.mu.Unlock()

	s.emit(ClientEvent{Kind: EventServerConnected})
	s.sendClientState()
}

// Disconnect initiates a normal close: cancels tasks 1-4, stops the
// Renderer, and finishes the Scheduler's output sequence so consumers
// observe end-of-stream. Safe to call more than once.
func (s *Session) Disconnect() {
	s.mu.Lock()
	cancel := s.cancel
	tr := s.tr
	sched := s.sched
	dec := s.dec
	s.state = StateDisconnected
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tr != nil {
		tr.Disconnect()
	}
	s.renderer.Stop()
	if sched != nil {
		sched.Finish()
	}
	if dec != nil {
		dec.Close()
	}

	s.wg.Wait()
}

// SetVolume applies v in [0,1] to the Renderer and reports the new state.
func (s *Session) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
	s.renderer.SetVolume(v)
	s.sendClientState()
}

// SetMute mutes or unmutes the Renderer and reports the new state.
func (s *Session) SetMute(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
	s.renderer.SetMute(muted)
	s.sendClientState()
}

// sendClientState serializes one client/state report; at most one is sent
// at a time, matching the "at most one in flight" ordering guarantee.
func (s *Session) sendClientState() {
	s.mu.Lock()
	if s.clientStateInFlight || s.tr == nil {
		s.mu.Unlock()
		return
	}
	s.clientStateInFlight = true
	volume := int(s.volume * 100)
	muted := s.muted
	state := s.streamState.wireValue()
	tr := s.tr
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.clientStateInFlight = false
		s.mu.Unlock()
	}()

	payload, err := wire.Encode(wire.MsgClientState, wire.ClientState{
		Player: wire.ClientStatePlayer{State: state, Volume: volume, Muted: muted},
	})
	if err != nil {
		log.Printf("[session] encode client/state: %v", err)
		return
	}
	if err := tr.SendText(payload); err != nil {
		log.Printf("[session] send client/state: %v", err)
	}
}

func (s *Session) setStreamState(state StreamState) {
	s.mu.Lock()
	s.streamState = state
	s.mu.Unlock()
	s.sendClientState()
}

// textReaderTask is concurrency task 1: the persistent text-frame reader.
func (s *Session) textReaderTask(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case frame, ok := <-s.tr.TextFrames():
			if !ok {
				return
			}
			s.dispatchText(frame)
		case <-ctx.Done():
			return
		}
	}
}

// dispatchText resolves the decoder-ordering hazard by branching on the
// type discriminator before decoding any payload (see internal/wire).
func (s *Session) dispatchText(raw []byte) {
	msg, err := wire.ParseEnvelope(raw)
	if err != nil {
		log.Printf("[session] invalid text frame: %v", err)
		return
	}

	switch msg.Type {
	case wire.MsgAuthOK:
		s.authOKOnce.Do(func() { close(s.authOKCh) })
	case wire.MsgServerTime:
		var st wire.ServerTime
		if err := wire.DecodePayload(msg, &st); err != nil {
			log.Printf("[session] decode server/time: %v", err)
			return
		}
		s.handleServerTime(st)
	case wire.MsgServerHello:
		var hello wire.ServerHello
		if err := wire.DecodePayload(msg, &hello); err != nil {
			log.Printf("[session] decode server/hello: %v", err)
			return
		}
		s.serverHelloOnce.Do(func() {
			// Queue the initial client/state before releasing Connect, which
			// then starts clock sync.
			s.completeConnect()
			close(s.serverHelloCh)
		})
	case wire.MsgStreamStart:
		var start wire.StreamStart
		if err := wire.DecodePayload(msg, &start); err != nil {
			log.Printf("[session] decode stream/start: %v", err)
			return
		}
		s.handleStreamStart(start)
	case wire.MsgStreamEnd:
		s.handleStreamEnd()
	case wire.MsgStreamMetadata:
		var m wire.StreamMetadata
		if err := wire.DecodePayload(msg, &m); err != nil {
			log.Printf("[session] decode stream/metadata: %v", err)
			return
		}
		s.emit(ClientEvent{Kind: EventMetadataReceived, Metadata: TrackMetadata{
			Title: m.Title, Artist: m.Artist, Album: m.Album, ArtworkURL: m.ArtworkURL,
		}})
	case wire.MsgSessionUpdate:
		var u wire.SessionUpdate
		if err := wire.DecodePayload(msg, &u); err != nil {
			log.Printf("[session] decode session/update: %v", err)
			return
		}
		s.handleSessionUpdate(u)
	case wire.MsgServerCommand:
		var cmd wire.ServerCommand
		if err := wire.DecodePayload(msg, &cmd); err != nil {
			log.Printf("[session] decode server/command: %v", err)
			return
		}
		s.handleServerCommand(cmd)
	default:
		// Unknown message types are logged and skipped, never fatal.
		log.Printf("[session] unknown text message type %q", msg.Type)
	}
}

func (s *Session) handleStreamStart(start wire.StreamStart) {
	if start.Player == nil {
		return
	}
	p := *start.Player

	if !s.codecAdvertised(p.Codec) {
		log.Printf("[session] stream/start: codec %q not advertised", p.Codec)
		s.setStreamState(StreamError)
		return
	}

	// A stream/start on top of an already-playing stream replaces it: the
	// previous Scheduler/Decoder must be torn down first, or its tick loop
	// and render task (tied to s.wg) outlive this stream and leak.
	s.teardownStream()

	var header []byte
	if p.CodecHeader != "" {
		decoded, err := base64.StdEncoding.DecodeString(p.CodecHeader)
		if err != nil {
			log.Printf("[session] stream/start: invalid codec_header: %v", err)
			s.setStreamState(StreamError)
			return
		}
		header = decoded
	}

	dec, err := decode.New(decode.Format{
		Codec: p.Codec, SampleRate: p.SampleRate, Channels: p.Channels, BitDepth: p.BitDepth, Header: header,
	})
	if err != nil {
		log.Printf("[session] stream/start: decoder init failed: %v", err)
		s.setStreamState(StreamError)
		return
	}

	if err := s.renderer.Start(render.Format{SampleRate: p.SampleRate, Channels: p.Channels, BitDepth: p.BitDepth}); err != nil {
		log.Printf("[session] stream/start: device start failed: %v", err)
		s.setStreamState(StreamError)
		return
	}

	sched := scheduler.New(s.cfg.Scheduler.MaxQueueSize, s.cfg.Scheduler.PlaybackWindow, s.cfg.Scheduler.TickPeriod)

	s.mu.Lock()
	s.dec = dec
	s.sched = sched
	s.mu.Unlock()

	sched.Start(context.Background(), clocksync.NowMicros)
	s.wg.Add(1)
	go s.renderTask(sched)

	s.setStreamState(StreamSynchronized)
	s.emit(ClientEvent{Kind: EventStreamStarted, Format: AudioFormat{
		Codec: p.Codec, SampleRate: p.SampleRate, Channels: p.Channels, BitDepth: p.BitDepth,
	}})
}

func (s *Session) codecAdvertised(codec string) bool {
	for _, f := range s.advertised {
		if f.Codec == codec {
			return true
		}
	}
	return false
}

func (s *Session) handleStreamEnd() {
	s.teardownStream()
	s.renderer.Stop()
	s.setStreamState(StreamIdle)
	s.emit(ClientEvent{Kind: EventStreamEnded})
}

// teardownStream finishes the active Scheduler (closing its output sequence
// so the matching renderTask goroutine observes end-of-range and returns)
// and closes the active Decoder (releasing e.g. the FLAC decoder's
// background goroutine/pipe). No-op if no stream is active. Safe to call
// before starting a replacement stream or on a normal stream/end.
func (s *Session) teardownStream() {
	s.mu.Lock()
	sched := s.sched
	dec := s.dec
	s.sched = nil
	s.dec = nil
	s.mu.Unlock()

	if sched != nil {
		sched.Finish()
	}
	if dec != nil {
		dec.Close()
	}
}

func (s *Session) handleSessionUpdate(u wire.SessionUpdate) {
	if u.GroupID != "" || u.GroupName != "" {
		s.emit(ClientEvent{Kind: EventGroupUpdated, GroupID: u.GroupID, GroupName: u.GroupName})
	}
	if u.Metadata != nil {
		m := u.Metadata
		s.emit(ClientEvent{Kind: EventMetadataReceived, Metadata: TrackMetadata{
			Title: m.Title, Artist: m.Artist, Album: m.Album, AlbumArtist: m.AlbumArtist,
			Track: m.Track, TrackDuration: m.TrackDuration, Year: m.Year, ArtworkURL: m.ArtworkURL,
		}})
	}
}

func (s *Session) handleServerCommand(cmd wire.ServerCommand) {
	switch cmd.Player.Command {
	case "volume":
		if cmd.Player.Volume != nil {
			s.SetVolume(float64(*cmd.Player.Volume) / 100)
		}
	case "mute":
		if cmd.Player.Muted != nil {
			s.SetMute(*cmd.Player.Muted)
		}
	}
}

// binaryReaderTask is concurrency task 2: decode on arrival, then hand the
// normalized PCM to the active stream's Scheduler keyed by its converted
// local deadline. Artwork and visualizer frames bypass Scheduler/Decoder
// entirely.
func (s *Session) binaryReaderTask(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case raw, ok := <-s.tr.BinaryFrames():
			if !ok {
				return
			}
			s.dispatchBinary(raw)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) dispatchBinary(raw []byte) {
	frame, err := wire.DecodeBinaryFrame(raw)
	if err != nil {
		log.Printf("[session] invalid binary frame: %v", err)
		return
	}

	switch {
	case frame.Type == wire.TypeAudioChunk:
		s.handleAudioChunk(frame)
	case wire.IsArtworkType(frame.Type):
		s.emit(ClientEvent{Kind: EventArtworkReceived, ArtworkChannel: wire.ArtworkChannel(frame.Type), ArtworkBytes: frame.Payload})
	case frame.Type == wire.TypeVisualizer:
		s.emit(ClientEvent{Kind: EventVisualizerData, VisualizerBytes: frame.Payload})
	default:
		// Reserved/unallocated type IDs are ignored per the routing table.
	}
}

func (s *Session) handleAudioChunk(frame wire.WireAudioFrame) {
	s.mu.Lock()
	dec := s.dec
	sched := s.sched
	clock := s.clock
	s.mu.Unlock()

	if dec == nil || sched == nil {
		return // no active stream
	}

	samples, err := dec.Decode(frame.Payload)
	if err != nil {
		log.Printf("[session] decode failed: %v", err)
		s.setStreamState(StreamError)
		return
	}
	if len(samples) == 0 {
		return // e.g. FLAC still consuming metadata
	}

	localDeadlineUs := clock.ServerToLocal(frame.ServerTimestamp)
	sched.Schedule(samples, localDeadlineUs)
}

// renderTask drains one active stream's scheduled chunks into the
// Renderer. Exits when the Scheduler's output sequence finishes.
func (s *Session) renderTask(sched *scheduler.Scheduler) {
	defer s.wg.Done()
	for chunk := range sched.ScheduledChunks() {
		if err := s.renderer.PlayPCM(chunk.PCM, chunk.LocalDeadlineUs); err != nil {
			log.Printf("[session] render failed: %v", err)
		}
	}
}

// clockSyncTask is concurrency task 3: 5 rapid probes at 100ms after
// connect, then one probe every steady interval for the session's life.
func (s *Session) clockSyncTask(ctx context.Context) {
	defer s.wg.Done()

	probe := func() {
		t1 := clocksync.NowMicros()
		payload, err := wire.Encode(wire.MsgClientTime, wire.ClientTime{ClientTransmitted: t1})
		if err != nil {
			return
		}
		if err := s.tr.SendText(payload); err != nil {
			log.Printf("[session] send client/time: %v", err)
		}
	}

	initialInterval := s.cfg.ClockSync.InitialInterval
	if initialInterval <= 0 {
		initialInterval = 100 * time.Millisecond
	}
	initialProbes := s.cfg.ClockSync.InitialProbes
	if initialProbes <= 0 {
		initialProbes = 5
	}
	steadyInterval := s.cfg.ClockSync.SteadyInterval
	if steadyInterval <= 0 {
		steadyInterval = 5 * time.Second
	}

	for i := 0; i < initialProbes; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		probe()
		select {
		case <-time.After(initialInterval):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(steadyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

// handleServerTime completes a clock-sync round trip; called from
// dispatchText's server/time branch.
func (s *Session) handleServerTime(st wire.ServerTime) {
	s.mu.Lock()
	clock := s.clock
	s.mu.Unlock()
	if clock == nil {
		return
	}
	clock.Process(st.ClientTransmitted, st.ServerReceived, st.ServerTransmitted, clocksync.NowMicros())
}

// watchTransportDone is concurrency task 4's cleanup sibling: a transport
// read/write failure must tear down the session and surface an error, even
// when the embedder never calls Disconnect.
func (s *Session) watchTransportDone(ctx context.Context) {
	defer s.wg.Done()
	select {
	case <-s.tr.Done():
		s.mu.Lock()
		wasConnected := s.state != StateDisconnected
		s.state = StateDisconnected
		cancel := s.cancel
		s.mu.Unlock()
		if wasConnected {
			if cancel != nil {
				cancel()
			}
			s.teardownStream()
			s.renderer.Stop()
			s.emit(ClientEvent{Kind: EventError, Err: fmt.Errorf("sendspin: transport closed")})
		}
	case <-ctx.Done():
	}
}

// telemetryTask is the periodic per-second telemetry logger (spec.md
// §4.4): while a stream is active, it samples the Scheduler/ClockSync/
// Renderer state and emits one structured log line, the same
// once-per-second cadence the teacher's own metrics logging uses.
func (s *Session) telemetryTask(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			active := s.sched != nil
			s.mu.Unlock()
			if !active {
				continue
			}
			metrics.Log(s.TelemetrySnapshot())
		}
	}
}

// TelemetrySnapshot reports the current scheduler/clock-sync telemetry
// reading, or a zero Reading if no stream is active.
func (s *Session) TelemetrySnapshot() metrics.Reading {
	s.mu.Lock()
	sched := s.sched
	clock := s.clock
	s.mu.Unlock()

	if sched == nil || clock == nil {
		return metrics.Reading{}
	}

	now := clocksync.NowMicros()
	snap := sched.TakeSnapshot(now)
	cs := clock.TakeSnapshot(now)
	// The renderer's drop-oldest ledger evictions count as the same
	// "dropped" class as the scheduler's own late/overflow drops (spec.md
	// §4.6): both represent audio the listener never heard.
	dropped := snap.Dropped + s.renderer.EvictedCount()
	return metrics.Reading{
		Received:      snap.Received,
		Played:        snap.Played,
		Dropped:       dropped,
		QueueSize:     snap.QueueSize,
		AvgBufferMs:   snap.AvgBufferMs,
		ClockOffsetMs: cs.OffsetUs / 1000,
		RTTMs:         float64(cs.LastRTTUs) / 1000,
	}
}
