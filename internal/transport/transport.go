// Package transport maintains a single persistent ordered reliable
// bidirectional framed channel to a server URL, separating text (control)
// frames from binary (media) frames.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Send* when the transport is not open.
var ErrNotConnected = errors.New("transport: not connected")

// ErrAlreadyConnected is returned by Connect when called on an already-open
// transport.
var ErrAlreadyConnected = errors.New("transport: already connected")

// connectTimeout is the maximum time allowed for the initial dial and
// handshake.
const connectTimeout = 5 * time.Second

// sendQueueCap bounds the outgoing frame queues. Sized well above normal
// burst (control messages are rare; binary frames never originate from the
// client in this protocol) so enqueue never blocks in practice.
const sendQueueCap = 16

// Transport owns one websocket connection and the goroutines pumping frames
// to and from it. A Transport is single-use: once disconnected, Session must
// build a new one to reconnect.
type Transport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	closed bool

	textOut   chan []byte
	binOut    chan []byte
	textIn    chan []byte
	binIn     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// New returns a disconnected Transport ready for Connect.
func New() *Transport {
	return &Transport{
		textOut: make(chan []byte, sendQueueCap),
		binOut:  make(chan []byte, sendQueueCap),
		textIn:  make(chan []byte, sendQueueCap),
		binIn:   make(chan []byte, sendQueueCap),
		done:    make(chan struct{}),
	}
}

// dialer disables the opportunistic HTTP/3 upgrade path entirely — only a
// plain ws://+TCP carrier is ever attempted, per the LAN interop note that
// some servers emit malformed frames over multiplexed transports.
var dialer = websocket.Dialer{
	HandshakeTimeout: connectTimeout,
	NetDialContext: (&net.Dialer{
		Timeout: connectTimeout,
	}).DialContext,
	// Proxy is left nil: server addresses are LAN hosts, so no system proxy
	// should be consulted.
	Proxy: nil,
}

// Connect dials the given URL and starts the read/write pumps. rawURL must
// use the ws:// or wss:// scheme.
func (t *Transport) Connect(ctx context.Context, rawURL string) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.mu.Unlock()

	if _, err := url.Parse(rawURL); err != nil {
		return fmt.Errorf("transport: parse url: %w", err)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, connectTimeout)
	defer cancelDial()

	conn, _, err := dialer.DialContext(dialCtx, rawURL, http.Header{})
	if err != nil {
		return fmt.Errorf("transport: dial: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.mu.Unlock()

	go t.readPump(runCtx)
	go t.writePump(runCtx)

	return nil
}

// SendText enqueues a text control frame. Non-blocking: returns
// ErrNotConnected immediately if the transport is closed or the queue is
// full (a full queue means the peer is not draining; treat it the same as
// disconnected rather than block the caller).
func (t *Transport) SendText(msg []byte) error {
	t.mu.Lock()
	closed := t.closed || t.conn == nil
	t.mu.Unlock()
	if closed {
		return ErrNotConnected
	}
	select {
	case t.textOut <- msg:
		return nil
	default:
		return ErrNotConnected
	}
}

// SendBinary enqueues a binary media frame. See SendText for semantics.
func (t *Transport) SendBinary(data []byte) error {
	t.mu.Lock()
	closed := t.closed || t.conn == nil
	t.mu.Unlock()
	if closed {
		return ErrNotConnected
	}
	select {
	case t.binOut <- data:
		return nil
	default:
		return ErrNotConnected
	}
}

// TextFrames returns the channel of incoming text frames. It closes when the
// transport disconnects or hits a read error, together with BinaryFrames.
func (t *Transport) TextFrames() <-chan []byte { return t.textIn }

// BinaryFrames returns the channel of incoming binary frames. It closes
// together with TextFrames.
func (t *Transport) BinaryFrames() <-chan []byte { return t.binIn }

// Disconnect initiates a normal close. Subsequent Send* calls fail with
// ErrNotConnected. Safe to call more than once and from any goroutine.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
}

// readPump decodes incoming websocket frames and fans them out by type.
// Exits — and closes textIn/binIn together — on any read error or context
// cancellation, satisfying the "both terminate together" contract.
func (t *Transport) readPump(ctx context.Context) {
	defer t.finish()

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[transport] read error: %v", err)
			}
			return
		}
		switch msgType {
		case websocket.TextMessage:
			select {
			case t.textIn <- data:
			case <-ctx.Done():
				return
			}
		case websocket.BinaryMessage:
			select {
			case t.binIn <- data:
			case <-ctx.Done():
				return
			}
		}
	}
}

// writePump serializes outgoing writes onto the single websocket connection
// (gorilla/websocket permits only one concurrent writer).
func (t *Transport) writePump(ctx context.Context) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.textOut:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("[transport] write error: %v", err)
				t.cancelRun()
				return
			}
		case msg := <-t.binOut:
			if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				log.Printf("[transport] write error: %v", err)
				t.cancelRun()
				return
			}
		}
	}
}

// finish closes the incoming-frame channels exactly once, marking both
// sequences as terminated per the Transport contract.
func (t *Transport) finish() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.done)
		close(t.textIn)
		close(t.binIn)
	})
}

// Done returns a channel closed once the read goroutine has exited and the
// incoming-frame channels are closed. The write goroutine exits separately,
// on a write error or when the run context is cancelled.
func (t *Transport) Done() <-chan struct{} { return t.done }

// cancelRun cancels the run context, which unblocks readPump (its blocking
// ReadMessage call returns once the underlying connection is closed) so a
// write-side failure tears down both pumps together.
func (t *Transport) cancelRun() {
	t.mu.Lock()
	cancel := t.cancel
	conn := t.conn
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}
