package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// sendQueueSize bounds the per-client outbound queue (spec.md's "prefer
// per-client bounded channels with drop-oldest or slow-client eviction" in
// §9); a client that cannot keep up is evicted rather than allowed to block
// the broadcaster.
const sendQueueSize = 256

// Client is one connected WebSocket peer, joined to exactly one room.
type Client struct {
	ID    string
	Color string
	DocID string

	conn *websocket.Conn
	send chan []byte

	room   *Room
	logger *slog.Logger

	mu          sync.Mutex
	lastPing    time.Time
	awaitingPong bool

	bytesIn  uint64
	bytesOut uint64
}

func newClient(id, color, docID string, conn *websocket.Conn, room *Room, logger *slog.Logger) *Client {
	return &Client{
		ID:     id,
		Color:  color,
		DocID:  docID,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		room:   room,
		logger: logger,
		lastPing: time.Now(),
	}
}

// enqueue attempts to queue a raw frame for delivery. It never blocks: if
// the queue is full the client is considered unresponsive and marked for
// removal by the caller.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) sendFrame(f Frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		c.logger.Error("marshal frame failed", "error", err)
		return false
	}
	return c.enqueue(data)
}

// writeLoop drains the send queue to the socket until it is closed. Run in
// its own goroutine per connection so the receive loop never blocks on a
// slow write.
func (c *Client) writeLoop() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
		c.mu.Lock()
		c.bytesOut += uint64(len(data))
		c.mu.Unlock()
	}
}

func (c *Client) close() {
	close(c.send)
	c.conn.Close()
}

func (c *Client) recordBytesIn(n int) {
	c.mu.Lock()
	c.bytesIn += uint64(n)
	c.mu.Unlock()
}

func (c *Client) stats() (bytesIn, bytesOut uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesIn, c.bytesOut
}

func (c *Client) markPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPing = time.Now()
	c.awaitingPong = false
}

func (c *Client) ping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.awaitingPong {
		return false
	}
	c.awaitingPong = true
	return true
}
