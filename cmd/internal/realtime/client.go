package realtime

import (
	"sync"

	v1 "linkchat/contracts/realtime/v1"
)

// Client is one authenticated websocket connection.
//
// Send is never closed by the server: rooms may still hold the client while it
// shuts down, and a closed channel would make their broadcasts panic.
type Client struct {
	SessionID string
	UserID    string
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = wsDefaultSendQueueSize
	}
	return &Client{
		SessionID: sessionID,
		UserID:    userID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done is closed once the client starts shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop. Safe to call repeatedly.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer queues env without blocking. It reports false when the queue is full or
// the client is gone.
func (c *Client) offer(env v1.Envelope) bool {
	select {
	case <-c.Done():
		return false
	default:
	}

	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
