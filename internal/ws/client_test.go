package ws

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/chatsync/internal/protocol"
)

// testServer accepts WebSocket connections and exposes them to the test.
type testServer struct {
	srv   *httptest.Server
	conns chan net.Conn
	recv  chan []byte
}

// newTestServer starts a server that reads (and so answers pings on) every
// accepted connection.
func newTestServer(t *testing.T) *testServer { return startTestServer(t, true) }

// newSilentServer starts a server that never reads, so client pings go
// unanswered.
func newSilentServer(t *testing.T) *testServer { return startTestServer(t, false) }

func startTestServer(t *testing.T, reads bool) *testServer {
	t.Helper()
	ts := &testServer{
		conns: make(chan net.Conn, 4),
		recv:  make(chan []byte, 16),
	}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		ts.conns <- conn
		if !reads {
			return
		}
		go func() {
			for {
				data, op, err := wsutil.ReadClientData(conn)
				if err != nil {
					return
				}
				if op == ws.OpText {
					ts.recv <- data
				}
			}
		}()
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-ts.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("client did not connect")
		return nil
	}
}

type frameLog struct {
	mu     sync.Mutex
	frames []string
	ch     chan string
}

func newFrameLog() *frameLog { return &frameLog{ch: make(chan string, 32)} }

func (f *frameLog) HandleFrame(data []byte) {
	f.mu.Lock()
	f.frames = append(f.frames, string(data))
	f.mu.Unlock()
	f.ch <- string(data)
}

func (f *frameLog) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-f.ch:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("no frame delivered")
		return ""
	}
}

func startClient(t *testing.T, cfg Config, h Handler) (*Client, chan error) {
	t.Helper()
	c := NewClient(cfg, h, nil, zerolog.Nop())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()
	t.Cleanup(func() { c.Close() })
	return c, errc
}

func testConfig(url string) Config {
	return Config{
		URL:            url,
		DialTimeout:    time.Second,
		ReconnectDelay: 10 * time.Millisecond,
		Heartbeat:      HeartbeatConfig{},
	}
}

// ──────────────────────────────────────────────
// Connect flow
// ──────────────────────────────────────────────

func TestClient_ConnectFrameThenServerFrames(t *testing.T) {
	ts := newTestServer(t)
	frames := newFrameLog()
	startClient(t, testConfig(ts.url()), frames)

	conn := ts.accept(t)
	assert.Equal(t, string(protocol.ConnectFrame()), frames.next(t))

	require.NoError(t, wsutil.WriteServerMessage(conn, ws.OpText, []byte(`{"type":"userTyping","userId":"u2"}`)))
	assert.Equal(t, `{"type":"userTyping","userId":"u2"}`, frames.next(t))
}

func TestClient_EmitReachesServer(t *testing.T) {
	ts := newTestServer(t)
	frames := newFrameLog()
	c, _ := startClient(t, testConfig(ts.url()), frames)

	ts.accept(t)
	frames.next(t) // connect

	require.NoError(t, c.Emit(protocol.TypeJoin, protocol.JoinMsg{UserID: "u1"}))
	select {
	case data := <-ts.recv:
		assert.JSONEq(t, `{"type":"join","userId":"u1"}`, string(data))
	case <-time.After(3 * time.Second):
		t.Fatal("server got nothing")
	}
}

func TestClient_EmitWhileDisconnected(t *testing.T) {
	c := NewClient(testConfig("ws://127.0.0.1:1"), newFrameLog(), nil, zerolog.Nop())
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Emit(protocol.TypeJoin, protocol.JoinMsg{UserID: "u1"}), ErrNotConnected)
}

// ──────────────────────────────────────────────
// Reconnect
// ──────────────────────────────────────────────

func TestClient_ReconnectsAndAnnouncesAgain(t *testing.T) {
	ts := newTestServer(t)
	frames := newFrameLog()
	startClient(t, testConfig(ts.url()), frames)

	first := ts.accept(t)
	assert.Equal(t, string(protocol.ConnectFrame()), frames.next(t))

	first.Close()

	ts.accept(t)
	assert.Equal(t, string(protocol.ConnectFrame()), frames.next(t))
}

func TestClient_CloseStopsRun(t *testing.T) {
	ts := newTestServer(t)
	frames := newFrameLog()
	c, errc := startClient(t, testConfig(ts.url()), frames)
	ts.accept(t)
	frames.next(t)

	require.NoError(t, c.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, c.Connected())
	require.NoError(t, c.Close(), "second Close is a no-op")
}

func TestClient_RunHonoursContext(t *testing.T) {
	c := NewClient(testConfig("ws://127.0.0.1:1"), newFrameLog(), nil, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Run(ctx), context.DeadlineExceeded)
}

// ──────────────────────────────────────────────
// Heartbeat
// ──────────────────────────────────────────────

func TestClient_HeartbeatDropsSilentConnection(t *testing.T) {
	ts := newSilentServer(t)
	frames := newFrameLog()
	cfg := testConfig(ts.url())
	cfg.Heartbeat = HeartbeatConfig{Interval: 20 * time.Millisecond, Timeout: 20 * time.Millisecond}

	startClient(t, cfg, frames)

	// Pings go unanswered, so the client sees no activity and must redial.
	ts.accept(t)
	frames.next(t)
	ts.accept(t)
	assert.Equal(t, string(protocol.ConnectFrame()), frames.next(t))
}
