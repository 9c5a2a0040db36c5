package ws

import "sync"

// Client is the registry's handle on one connected session. The session's
// write pump drains Send until Done is closed.
type Client struct {
	ID     string
	UserID int64

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client with an outbound buffer of size buffer.
func NewClient(id string, userID int64, buffer int) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	return &Client{
		ID:     id,
		UserID: userID,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// Send is the outbound queue consumed by the write pump.
func (c *Client) Send() <-chan []byte { return c.send }

// Done is closed once the client is kicked or closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Enqueue offers a frame without blocking. It reports false when the client
// is closed or its buffer is full.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close marks the client as gone. The send channel itself is never closed,
// so a concurrent Enqueue cannot panic. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
