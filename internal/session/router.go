package session

import (
	"github.com/rs/zerolog"

	"github.com/whisper/chatsync/internal/metrics"
	"github.com/whisper/chatsync/internal/protocol"
)

// EventHandler handles one decoded inbound event. msg is the concrete struct
// returned by protocol.ParseServerEvent (e.g. protocol.ReceiveMessageMsg).
type EventHandler func(msg interface{})

// Router routes inbound frames to registered handlers based on the event
// type. Frames that fail to parse or have no handler are logged and dropped;
// the stream is never answered with an error.
type Router struct {
	handlers map[string]EventHandler
	log      zerolog.Logger
}

// NewRouter creates an empty Router.
func NewRouter(log zerolog.Logger) *Router {
	return &Router{
		handlers: make(map[string]EventHandler),
		log:      log,
	}
}

// Register associates a handler with an event type. If a handler was already
// registered for the type, it is replaced.
func (r *Router) Register(eventType string, handler EventHandler) {
	r.handlers[eventType] = handler
}

// Dispatch parses a raw frame and calls the matching handler. It reports
// whether a handler ran.
func (r *Router) Dispatch(data []byte) bool {
	eventType, msg, err := protocol.ParseServerEvent(data)
	if err != nil {
		r.log.Warn().Err(err).Str("type", eventType).Msg("Dropping unparseable event")
		return false
	}

	handler, ok := r.handlers[eventType]
	if !ok {
		r.log.Debug().Str("type", eventType).Msg("No handler for event")
		return false
	}

	metrics.EventsReceived.WithLabelValues(eventType).Inc()
	handler(msg)
	return true
}
