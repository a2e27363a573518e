package ws

import (
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
)

const writeDeadline = 5 * time.Second

// Client adapts a websocket connection to the Subscriber interface. The hub's
// fan-out goroutine is the only writer, but the connection can also be closed
// from the read loop, so writes and close are guarded.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{conn: conn, log: logger}
}

// Send pushes one event frame to the peer. A slow or gone peer fails the
// write and the hub evicts the subscriber.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "remote", c.conn.RemoteAddr().String(), "error", err)
		c.closed = true
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close terminates the connection. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.Close()
}
