package messaging

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/chatsync/internal/protocol"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "chat.events.in.u1", InboundSubject("u1"))
	assert.Equal(t, "chat.events.out.u1", OutboundSubject("u1"))
}

func TestDialRequiresUser(t *testing.T) {
	_, err := Dial(DefaultConfig(), "", zerolog.Nop())
	assert.Error(t, err)
}

// natsURL returns a reachable local NATS server or skips the test.
func natsURL(t *testing.T) string {
	t.Helper()
	nc, err := nats.Connect(nats.DefaultURL, nats.Timeout(time.Second))
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	nc.Close()
	return nats.DefaultURL
}

func TestStream_RoundTrip(t *testing.T) {
	url := natsURL(t)

	frames := make(chan string, 8)
	cfg := DefaultConfig()
	cfg.URL = url
	s, err := Dial(cfg, "test_u1", zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Subscribe(func(data []byte) { frames <- string(data) }))
	assert.Error(t, s.Subscribe(func([]byte) {}), "second subscription is rejected")

	select {
	case f := <-frames:
		assert.Equal(t, string(protocol.ConnectFrame()), f)
	case <-time.After(time.Second):
		t.Fatal("no connect frame")
	}

	// Act as the gateway: watch outbound, publish inbound.
	gw, err := nats.Connect(url)
	require.NoError(t, err)
	defer gw.Close()
	out, err := gw.SubscribeSync(OutboundSubject("test_u1"))
	require.NoError(t, err)
	require.NoError(t, gw.Flush())

	require.NoError(t, s.Emit(protocol.TypeJoin, protocol.JoinMsg{UserID: "test_u1"}))
	msg, err := out.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"join","userId":"test_u1"}`, string(msg.Data))

	require.NoError(t, gw.Publish(InboundSubject("test_u1"), []byte(`{"type":"userTyping","userId":"u2"}`)))
	select {
	case f := <-frames:
		assert.Equal(t, `{"type":"userTyping","userId":"u2"}`, f)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound event not delivered")
	}

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Emit(protocol.TypeJoin, protocol.JoinMsg{UserID: "test_u1"}), ErrClosed)
}
