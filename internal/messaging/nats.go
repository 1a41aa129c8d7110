// Package messaging provides a NATS-backed event stream, an alternative to
// the WebSocket transport for deployments where a gateway bridges the chat
// server's events onto per-user NATS subjects. It handles connection
// lifecycle, the per-user subscription, and reconnect notifications.
package messaging

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/whisper/chatsync/internal/metrics"
	"github.com/whisper/chatsync/internal/protocol"
)

// NATS subject patterns shared with the gateway.
const (
	SubjectInbound  = "chat.events.in"  // + .<user_id> (server -> client)
	SubjectOutbound = "chat.events.out" // + .<user_id> (client -> server)
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("messaging: stream closed")

// InboundSubject returns the subject the gateway publishes userID's events on.
func InboundSubject(userID string) string { return SubjectInbound + "." + userID }

// OutboundSubject returns the subject userID's client events are published on.
func OutboundSubject(userID string) string { return SubjectOutbound + "." + userID }

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "chatsync",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Stream carries one user's events over NATS. Inbound messages are handed to
// the frame handler in subject order; each (re)connect is reported with a
// local connect frame.
type Stream struct {
	conn   *nats.Conn
	userID string
	log    zerolog.Logger

	mu      sync.Mutex
	handler func(data []byte)
	sub     *nats.Subscription
	closed  bool
}

// Dial connects to NATS. Nothing is delivered until Subscribe is called, so
// the caller can wire the stream into its consumer first.
func Dial(config Config, userID string, log zerolog.Logger) (*Stream, error) {
	if userID == "" {
		return nil, fmt.Errorf("messaging: user id is required")
	}
	s := &Stream{
		userID: userID,
		log:    log.With().Str("component", "nats").Str("user", userID).Logger(),
	}

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			metrics.StreamConnected.Set(0)
			if err != nil {
				s.log.Warn().Err(err).Msg("Disconnected")
			} else {
				s.log.Info().Msg("Disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			metrics.StreamConnected.Set(1)
			metrics.Reconnects.Inc()
			s.log.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected")
			s.deliver(protocol.ConnectFrame())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			metrics.StreamConnected.Set(0)
			s.log.Info().Msg("Connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: nats connect: %w", err)
	}
	s.conn = nc
	metrics.StreamConnected.Set(1)
	s.log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected")
	return s, nil
}

// Subscribe starts delivering userID's inbound events to handler, preceded
// by a connect frame. It may be called once.
func (s *Stream) Subscribe(handler func(data []byte)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.handler != nil {
		s.mu.Unlock()
		return fmt.Errorf("messaging: already subscribed")
	}
	s.handler = handler
	s.mu.Unlock()

	sub, err := s.conn.Subscribe(InboundSubject(s.userID), func(msg *nats.Msg) {
		s.deliver(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", InboundSubject(s.userID), err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	s.deliver(protocol.ConnectFrame())
	return nil
}

func (s *Stream) deliver(data []byte) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(data)
	}
}

// Emit encodes an outbound event and publishes it on the user's outbound
// subject.
func (s *Stream) Emit(event string, payload interface{}) error {
	data, err := protocol.NewClientEvent(event, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := s.conn.Publish(OutboundSubject(s.userID), data); err != nil {
		return fmt.Errorf("messaging: publish: %w", err)
	}
	return nil
}

// Connected reports whether the NATS connection is up.
func (s *Stream) Connected() bool {
	return s.conn.IsConnected()
}

// Close drains the subscription and closes the connection. It is safe to
// call multiple times.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			s.log.Warn().Err(err).Msg("Unsubscribe failed")
		}
	}
	if err := s.conn.Drain(); err != nil {
		s.log.Warn().Err(err).Msg("Connection drain failed")
		s.conn.Close()
	}
	return nil
}
