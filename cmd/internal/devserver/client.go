package devserver

import "sync"

// client is one authenticated websocket session.
//
// send is never closed by the server; broadcasters may race with shutdown.
// done signals the session goroutines to stop. close is idempotent.
type client struct {
	sessionID string
	userID    int64
	send      chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(userID int64, sessionID string, queue int) *client {
	if queue <= 0 {
		queue = minSendQueue
	}
	return &client{
		sessionID: sessionID,
		userID:    userID,
		send:      make(chan []byte, queue),
		done:      make(chan struct{}),
	}
}

func (c *client) Done() <-chan struct{} { return c.done }

func (c *client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// offer enqueues without blocking and reports whether the frame was queued.
func (c *client) offer(b []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- b:
		return true
	default:
		return false
	}
}
