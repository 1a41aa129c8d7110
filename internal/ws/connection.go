package ws

import (
	"bufio"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// connection is one established WebSocket connection to the server with a
// write mutex for serializing outbound frames. Pongs written by the control
// frame handler go through the same mutex.
type connection struct {
	conn     net.Conn
	writeMu  sync.Mutex
	lastRead atomic.Int64 // unix nanos of the last frame read
	opened   time.Time
}

func newConnection(conn net.Conn, br *bufio.Reader) *connection {
	if br != nil {
		conn = bufferedConn{Conn: conn, br: br}
	}
	c := &connection{conn: conn, opened: time.Now()}
	c.touch()
	return c
}

// bufferedConn drains frames the server sent right after the handshake,
// which the dialer left in its buffer.
type bufferedConn struct {
	net.Conn
	br *bufio.Reader
}

func (b bufferedConn) Read(p []byte) (int, error) { return b.br.Read(p) }

func (c *connection) touch() { c.lastRead.Store(time.Now().UnixNano()) }

func (c *connection) idle(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastRead.Load()))
}

// WriteText sends a masked text frame.
func (c *connection) WriteText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame (opcode 0x9); the server
// answers with a pong, which counts as activity on the read side.
func (c *connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpPing, nil)
}

// ReadText blocks until the next text frame arrives. Control frames are
// answered inline; binary frames are discarded.
func (c *connection) ReadText() ([]byte, error) {
	control := wsutil.ControlFrameHandler(c.conn, ws.StateClientSide)
	locked := func(hdr ws.Header, r io.Reader) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return control(hdr, r)
	}
	rd := &wsutil.Reader{
		Source:         c.conn,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: locked,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		c.touch()

		if hdr.OpCode.IsControl() {
			if err := locked(hdr, rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&ws.OpText == 0 {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(rd)
	}
}

// Close closes the underlying network connection.
func (c *connection) Close() error {
	return c.conn.Close()
}
