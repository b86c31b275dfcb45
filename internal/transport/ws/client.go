package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"spheroid.gg/internal/protocol"
)

// Client is a reconnecting room connection. While the link is down, Send
// queues messages and replays them in order after the next successful
// handshake. Close is an intentional departure and never reconnects.
type Client struct {
	url  string
	join protocol.JoinMsg
	log  *log.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending [][]byte
	closed  bool

	// Serializes frame writes; gorilla/websocket allows one writer at a time.
	writeMu sync.Mutex

	// In receives every raw frame from the server, including the JOIN_ACK
	// of each (re)connect.
	In chan []byte
}

var ErrClientClosed = errors.New("ws: client closed")

const (
	reconnectBase = 500 * time.Millisecond
	reconnectMax  = 15 * time.Second
)

func NewClient(url string, join protocol.JoinMsg, logger *log.Logger) *Client {
	return &Client{
		url:  url,
		join: join,
		log:  logger,
		In:   make(chan []byte, 256),
	}
}

// Run dials, pumps inbound frames into In, and redials with backoff on
// unexpected drops until the context ends or Close is called.
func (c *Client) Run(ctx context.Context) error {
	backoff := reconnectBase
	for {
		if err := c.connect(ctx); err != nil {
			if c.isClosed() || ctx.Err() != nil {
				return ErrClientClosed
			}
			c.log.Printf("ws: dial %s: %v (retry in %v)", c.url, err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}
		backoff = reconnectBase

		err := c.readLoop(ctx)
		if c.isClosed() || ctx.Err() != nil {
			return ErrClientClosed
		}
		c.log.Printf("ws: connection lost: %v; reconnecting", err)
	}
}

func (c *Client) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}

	b, err := json.Marshal(c.join)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := c.write(conn, b); err != nil {
		_ = conn.Close()
		return err
	}

	// Replay what accumulated while we were down, in order. The connection
	// is published only once the backlog is empty, so a concurrent Send
	// keeps queueing and cannot overtake the replay.
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return ErrClientClosed
		}
		if len(c.pending) == 0 {
			c.conn = conn
			c.mu.Unlock()
			return nil
		}
		queued := c.pending
		c.pending = nil
		c.mu.Unlock()

		for i, m := range queued {
			if err := c.write(conn, m); err != nil {
				c.requeue(queued[i:])
				_ = conn.Close()
				return err
			}
		}
	}
}

func (c *Client) write(conn *websocket.Conn, b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClientClosed
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.dropConn(conn)
			return err
		}
		select {
		case c.In <- raw:
		default:
			// Consumer is behind; drop the oldest frame.
			select {
			case <-c.In:
			default:
			}
			select {
			case c.In <- raw:
			default:
			}
		}
	}
}

// Send marshals and transmits v, or queues it while disconnected.
func (c *Client) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	conn := c.conn
	if conn == nil {
		c.pending = append(c.pending, b)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.write(conn, b); err != nil {
		// The write raced a drop; keep the message for the next session.
		c.mu.Lock()
		if !c.closed {
			c.pending = append(c.pending, b)
		}
		c.mu.Unlock()
	}
	return nil
}

// Close leaves intentionally: a LEAVE frame, then teardown. Run exits and
// never redials.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.pending = nil
	c.mu.Unlock()

	if conn != nil {
		if b, err := json.Marshal(protocol.LeaveMsg{Type: protocol.TypeLeave}); err == nil {
			_ = c.write(conn, b)
		}
		_ = conn.Close()
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) requeue(rest [][]byte) {
	c.mu.Lock()
	if !c.closed {
		c.pending = append(rest, c.pending...)
	}
	c.mu.Unlock()
}
