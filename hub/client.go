package hub

import (
	"sync"

	"github.com/google/uuid"
)

// Client is one authenticated connection as seen by the hub. UserID is fixed
// at admission. The rooms set and current workspace are only touched from the
// hub goroutine.
type Client struct {
	ID     string
	UserID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	rooms     map[string]struct{}
	workspace string
}

// NewClient creates a client whose outbound queue holds up to buffer frames.
func NewClient(userID string, buffer int) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
}

// Send yields frames queued for this client. It is closed once the hub has
// removed the client or stopped.
func (c *Client) Send() <-chan []byte { return c.send }

// Done is closed when the client's transport has closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// MarkClosed records that the transport is gone so broadcasts skip it.
func (c *Client) MarkClosed() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
