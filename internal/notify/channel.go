package notify

import (
	"context"

	"github.com/blogchat/internal/logger"
)

// Channel buffers notifications for a consumer (view hub, chatctl watch).
// When the buffer is full the newest notification is dropped.
type Channel struct {
	ch chan Notification
}

func NewChannel(size int) *Channel {
	if size <= 0 {
		size = 32
	}
	return &Channel{ch: make(chan Notification, size)}
}

func (c *Channel) Notify(_ context.Context, n Notification) {
	select {
	case c.ch <- n:
	default:
		logger.Errorf("notify: channel full, dropping %q", n.Title)
	}
}

func (c *Channel) C() <-chan Notification {
	return c.ch
}
