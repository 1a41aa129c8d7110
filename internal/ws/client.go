// Package ws is the WebSocket transport for the event stream. A Client keeps
// one connection to the server alive for the duration of a login: it dials,
// reads frames on a background goroutine, pings the server, and reconnects
// after drops at a bounded rate. Every (re)connect is reported to the
// handler as a local "connect" frame so the session can re-announce itself.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/whisper/chatsync/internal/metrics"
	"github.com/whisper/chatsync/internal/protocol"
	"github.com/whisper/chatsync/internal/ratelimit"
)

// ErrNotConnected is returned by Emit while no connection is established.
var ErrNotConnected = errors.New("ws: not connected")

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("ws: client closed")

// Handler receives inbound text frames, in arrival order, from the read
// goroutine.
type Handler interface {
	HandleFrame(data []byte)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(data []byte)

// HandleFrame calls f(data).
func (f HandlerFunc) HandleFrame(data []byte) { f(data) }

// Config holds client settings.
type Config struct {
	URL            string
	DialTimeout    time.Duration
	ReconnectDelay time.Duration // pause after a drop or failed dial
	Heartbeat      HeartbeatConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:            "ws://localhost:3000/ws",
		DialTimeout:    10 * time.Second,
		ReconnectDelay: 2 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Client is a reconnecting WebSocket client.
type Client struct {
	config  Config
	handler Handler
	limiter *ratelimit.Limiter
	log     zerolog.Logger

	mu   sync.Mutex
	conn *connection

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client. Nothing is dialed until Run.
func NewClient(config Config, handler Handler, limiter *ratelimit.Limiter, log zerolog.Logger) *Client {
	return &Client{
		config:  config,
		handler: handler,
		limiter: limiter,
		log:     log.With().Str("component", "ws").Logger(),
		done:    make(chan struct{}),
	}
}

// Run connects and keeps reconnecting until ctx is done or Close is called.
// It returns ErrClosed after Close and ctx.Err() on cancellation.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	connects := 0
	for {
		if err := c.limiter.Wait(ctx, ratelimit.RuleReconnect); err != nil {
			return c.exitErr(ctx)
		}
		if ctx.Err() != nil {
			return c.exitErr(ctx)
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.log.Warn().Err(err).Str("url", c.config.URL).Msg("Dial failed")
		} else {
			if connects > 0 {
				metrics.Reconnects.Inc()
			}
			connects++
			c.serve(ctx, conn)
		}

		select {
		case <-ctx.Done():
			return c.exitErr(ctx)
		case <-time.After(c.config.ReconnectDelay):
		}
	}
}

func (c *Client) exitErr(ctx context.Context) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
		return ctx.Err()
	}
}

func (c *Client) dial(ctx context.Context) (*connection, error) {
	dialer := ws.Dialer{Timeout: c.config.DialTimeout}
	conn, br, _, err := dialer.Dial(ctx, c.config.URL)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", c.config.URL, err)
	}
	return newConnection(conn, br), nil
}

// serve runs one connection until it drops.
func (c *Client) serve(ctx context.Context, conn *connection) {
	c.setConn(conn)
	metrics.StreamConnected.Set(1)
	c.log.Info().Str("url", c.config.URL).Msg("Connected")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	hbDone := make(chan struct{})
	go c.heartbeat(conn, hbDone)

	defer func() {
		close(hbDone)
		stop()
		c.setConn(nil)
		conn.Close()
		metrics.StreamConnected.Set(0)
	}()

	c.handler.HandleFrame(protocol.ConnectFrame())

	for {
		data, err := conn.ReadText()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn().Err(err).Dur("uptime", time.Since(conn.opened).Round(time.Second)).Msg("Connection lost")
			}
			return
		}
		c.handler.HandleFrame(data)
	}
}

func (c *Client) setConn(conn *connection) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes a raw frame. It is goroutine-safe.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.WriteText(data); err != nil {
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

// Emit encodes an outbound event and sends it.
func (c *Client) Emit(event string, payload interface{}) error {
	data, err := protocol.NewClientEvent(event, payload)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Close stops Run and closes the current connection. It is safe to call
// multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
	return nil
}
