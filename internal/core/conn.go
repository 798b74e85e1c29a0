package core

import (
	"sync"
	"time"

	"github.com/vovakirdan/wirechat-relay/internal/utils"
)

const defaultSendBuffer = 64

// Conn is one live realtime connection of a user. A user may own many.
type Conn struct {
	ID          string
	UserID      string
	Name        string
	ConnectedAt time.Time

	// Events is never closed; writers watch Done instead.
	Events chan *Event

	done      chan struct{}
	closeOnce sync.Once
	overflow  bool
	mu        sync.Mutex
}

// NewConn constructs a connection handle with an outbound queue of buffer events.
func NewConn(userID, name string, buffer int) *Conn {
	if name == "" {
		name = userID
	}
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Conn{
		ID:          utils.NewID(),
		UserID:      userID,
		Name:        name,
		ConnectedAt: time.Now().UTC(),
		Events:      make(chan *Event, buffer),
		done:        make(chan struct{}),
	}
}

// Done is closed once the connection is shut down or kicked.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close marks the connection as finished. Pending events are abandoned.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Overflowed reports whether the connection was closed for not keeping up.
func (c *Conn) Overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflow
}

// deliver enqueues ev without blocking. A full queue kicks the connection
// rather than dropping the event.
func (c *Conn) deliver(ev *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Events <- ev:
		return true
	default:
		c.mu.Lock()
		c.overflow = true
		c.mu.Unlock()
		c.Close()
		return false
	}
}
