package realtime

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn used by the registry. Tests supply
// fakes; production code wraps gorilla connections.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one registered WebSocket session. The registry entry exclusively
// owns the socket handle; no other component keeps a long-lived reference.
type Client struct {
	ID string

	conn Conn
	mu   sync.Mutex
}

// NewClient wraps a connection for registration.
func NewClient(id string, conn Conn) *Client {
	return &Client{ID: id, conn: conn}
}

// Send writes one text frame. Writes are serialized; gorilla connections
// support only one concurrent writer.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying socket.
func (c *Client) Close() error {
	return c.conn.Close()
}
