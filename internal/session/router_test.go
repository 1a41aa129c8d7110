package session

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/chatsync/internal/protocol"
)

func TestRouter_Dispatch(t *testing.T) {
	r := NewRouter(zerolog.Nop())

	var got []interface{}
	r.Register(protocol.TypeMessagesRead, func(msg interface{}) { got = append(got, msg) })

	assert.True(t, r.Dispatch([]byte(`{"type":"messagesRead","readerId":"bob"}`)))
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].(protocol.MessagesReadMsg).ReaderID)
}

func TestRouter_DropsWhatItCannotHandle(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	called := false
	r.Register(protocol.TypeMessagesRead, func(interface{}) { called = true })

	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{{{`},
		{"no type", `{"readerId":"bob"}`},
		{"unknown type", `{"type":"presence"}`},
		{"no handler", `{"type":"userTyping","userId":"bob"}`},
		{"bad payload", `{"type":"messagesRead","readerId":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, r.Dispatch([]byte(tt.frame)))
		})
	}
	assert.False(t, called)
}

func TestRouter_RegisterReplaces(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	var which string
	r.Register(protocol.TypeConnect, func(interface{}) { which = "first" })
	r.Register(protocol.TypeConnect, func(interface{}) { which = "second" })

	r.Dispatch(protocol.ConnectFrame())
	assert.Equal(t, "second", which)
}
