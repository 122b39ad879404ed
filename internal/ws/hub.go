// Package ws fans the session's view updates out to connected browser tabs
// and accepts compose/select commands from them.
package ws

import (
	"context"
	"sync"

	"github.com/blogchat/internal/logger"
	"github.com/blogchat/internal/metrics"
	"github.com/blogchat/internal/notify"
)

// Commander is the part of the chat session tabs can drive over the socket.
type Commander interface {
	Keystroke(text string)
	Select(ctx context.Context, conversationID string) error
	Close()
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	maxConns   int
	commander  Commander
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(commander Commander, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 64
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		maxConns:   maxConns,
		commander:  commander,
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		done:       make(chan struct{}),
	}
}

// SetCommander is used when the session is built after the hub.
func (h *Hub) SetCommander(c Commander) {
	h.mu.Lock()
	h.commander = c
	h.mu.Unlock()
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

// Done is closed after Run has returned and every tab is closed.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	clear(h.clients)
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
		metrics.DecViewClients()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws tab limit reached (%d), rejecting tab=%s", h.maxConns, c.id)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.IncViewClients()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()
	metrics.DecViewClients()
	c.Close()
}

// Len is the number of registered tabs.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleMessage dispatches a command from a tab.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	h.mu.RLock()
	cmd := h.commander
	h.mu.RUnlock()
	if cmd == nil {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "session not ready"})
		return
	}
	switch msg.Type {
	case EventCompose:
		cmd.Keystroke(msg.Text)
	case EventSelect:
		if err := cmd.Select(ctx, msg.ConversationID); err != nil {
			logger.Errorf("ws select %s tab=%s: %v", msg.ConversationID, c.id, err)
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "could not open conversation"})
		}
	case EventClose:
		cmd.Close()
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

// Broadcast queues msg for every tab. A tab whose buffer is full is closed.
func (h *Hub) Broadcast(msg OutgoingMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

// Publish is the session's view-update callback.
func (h *Hub) Publish(update any) {
	h.Broadcast(OutgoingMessage{Type: EventUpdate, Payload: update})
}

// Notify makes the hub an in-app notifier.
func (h *Hub) Notify(_ context.Context, n notify.Notification) {
	h.Broadcast(OutgoingMessage{Type: EventNotification, Payload: n})
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		logger.Errorf("ws tab=%s too slow, closing", c.id)
		h.Unregister(c)
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
