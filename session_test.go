package sendspin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"sendspin/internal/wire"
)

// fakeServer is a minimal scripted Sendspin server: it upgrades the
// connection, hands every decoded text message to onMessage, and exposes a
// send method for pushing server->client messages whenever the test wants.
type fakeServer struct {
	t      *testing.T
	srv    *httptest.Server
	connCh chan *websocket.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{t: t, connCh: make(chan *websocket.Conn, 1)}
	upgrader := websocket.Upgrader{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %v", err)
			return
		}
		fs.connCh <- conn
	})
	fs.srv = httptest.NewServer(handler)
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-fs.connCh:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
		return nil
	}
}

func (fs *fakeServer) close() { fs.srv.Close() }

func sendJSON(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	raw, err := wire.Encode(msgType, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", msgType, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wire.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var msg wire.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return msg
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ClientID = "test-client"
	cfg.DisplayName = "test"
	cfg.Player.SupportedFormats = []AudioFormat{{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}}
	return cfg
}

func TestConnectCompletesHandshakeWithoutAuth(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	sess := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connectErrCh := make(chan error, 1)
	go func() { connectErrCh <- sess.Connect(ctx, fs.wsURL()) }()

	conn := fs.conn(t)
	hello := readEnvelope(t, conn)
	if hello.Type != wire.MsgClientHello {
		t.Fatalf("first message type = %q, want %q", hello.Type, wire.MsgClientHello)
	}

	sendJSON(t, conn, wire.MsgServerHello, wire.ServerHello{ServerID: "srv1", Version: 1})

	select {
	case err := <-connectErrCh:
		if err != nil {
			t.Fatalf("Connect returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect never returned")
	}

	select {
	case ev := <-sess.Events():
		if ev.Kind != EventServerConnected {
			t.Fatalf("first event = %v, want ServerConnected", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ServerConnected event never emitted")
	}

	sess.Disconnect()
}

func TestConnectWaitsForAuthOKBeforeClientHello(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	cfg := testConfig()
	cfg.AuthToken = "secret"
	sess := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connectErrCh := make(chan error, 1)
	go func() { connectErrCh <- sess.Connect(ctx, fs.wsURL()) }()

	conn := fs.conn(t)
	auth := readEnvelope(t, conn)
	if auth.Type != wire.MsgAuth {
		t.Fatalf("first message type = %q, want %q", auth.Type, wire.MsgAuth)
	}

	sendJSON(t, conn, wire.MsgAuthOK, wire.AuthOK{})

	hello := readEnvelope(t, conn)
	if hello.Type != wire.MsgClientHello {
		t.Fatalf("second message type = %q, want %q", hello.Type, wire.MsgClientHello)
	}

	sendJSON(t, conn, wire.MsgServerHello, wire.ServerHello{ServerID: "srv1", Version: 1})

	select {
	case err := <-connectErrCh:
		if err != nil {
			t.Fatalf("Connect returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect never returned")
	}

	sess.Disconnect()
}

func TestConnectFallsBackWhenServerHelloOmitted(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	sess := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connectErrCh := make(chan error, 1)
	go func() { connectErrCh <- sess.Connect(ctx, fs.wsURL()) }()

	fs.conn(t) // accept, but never reply

	select {
	case err := <-connectErrCh:
		if err != nil {
			t.Fatalf("Connect returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Connect never returned via fallback")
	}

	if sess.state != StateConnected {
		t.Fatalf("state = %v, want Connected", sess.state)
	}

	sess.Disconnect()
}

func TestServerCommandAppliesVolumeAndReportsState(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	sess := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connectErrCh := make(chan error, 1)
	go func() { connectErrCh <- sess.Connect(ctx, fs.wsURL()) }()

	conn := fs.conn(t)
	readEnvelope(t, conn) // client/hello
	sendJSON(t, conn, wire.MsgServerHello, wire.ServerHello{ServerID: "srv1"})
	if err := <-connectErrCh; err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	readEnvelope(t, conn) // initial client/state

	vol := 42
	sendJSON(t, conn, wire.MsgServerCommand, wire.ServerCommand{
		Player: wire.ServerCommandPlayer{Command: "volume", Volume: &vol},
	})

	reported := readEnvelope(t, conn)
	if reported.Type != wire.MsgClientState {
		t.Fatalf("message type = %q, want %q", reported.Type, wire.MsgClientState)
	}
	var state wire.ClientState
	if err := wire.DecodePayload(reported, &state); err != nil {
		t.Fatalf("decode client/state: %v", err)
	}
	if state.Player.Volume != vol {
		t.Fatalf("reported volume = %d, want %d", state.Player.Volume, vol)
	}

	sess.Disconnect()
}

func TestDisconnectTerminatesBackgroundTasks(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	sess := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connectErrCh := make(chan error, 1)
	go func() { connectErrCh <- sess.Connect(ctx, fs.wsURL()) }()

	conn := fs.conn(t)
	readEnvelope(t, conn)
	sendJSON(t, conn, wire.MsgServerHello, wire.ServerHello{ServerID: "srv1"})
	if err := <-connectErrCh; err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		sess.Disconnect()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Disconnect did not return; background tasks likely leaked")
	}

	if sess.state != StateDisconnected {
		t.Fatalf("state after Disconnect = %v, want Disconnected", sess.state)
	}
}
