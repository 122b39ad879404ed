// Package transport keeps the persistent realtime channel to the chat server.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/blogchat/internal/logger"
	"github.com/blogchat/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBufSize    = 64
	eventBufSize   = 256
)

var (
	// ErrClosed is returned by Emit after the connection went away.
	ErrClosed = errors.New("transport: connection closed")
	// ErrBackpressure is returned by Emit when the write buffer is full.
	ErrBackpressure = errors.New("transport: send buffer full")
)

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Emitter is the write side used by the outbound pipeline.
type Emitter interface {
	Emit(t EventType, payload any) error
}

// Options configure Dial.
type Options struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
}

// Conn is one realtime connection.
// Lifecycle: Dial -> Start(ctx) -> Join -> [Events, Emit] -> Close -> Wait.
type Conn struct {
	conn   *websocket.Conn
	send   chan Outgoing
	events chan Event

	done     chan struct{}
	cancel   context.CancelFunc
	once     sync.Once
	joinOnce sync.Once
	wg       sync.WaitGroup
}

// Dial opens the websocket. The session token goes in the Authorization header.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	ws, resp, err := dialer.DialContext(ctx, opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport.Dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("transport.Dial: %w", err)
	}
	return &Conn{
		conn:   ws,
		send:   make(chan Outgoing, sendBufSize),
		events: make(chan Event, eventBufSize),
		done:   make(chan struct{}),
	}, nil
}

// Start launches the read and write pumps. Events() is closed once the read
// pump exits.
func (c *Conn) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Events delivers server events in arrival order.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection is shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Join registers the session. Only the first call per connection emits.
func (c *Conn) Join(userID string) error {
	var err error
	c.joinOnce.Do(func() {
		err = c.Emit(EventJoin, JoinPayload{UserID: userID})
	})
	return err
}

// Emit queues a frame without blocking the caller.
func (c *Conn) Emit(t EventType, payload any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- Outgoing{Type: t, Payload: payload}:
		metrics.IncEventOut(string(t))
		return nil
	case <-c.done:
		return ErrClosed
	default:
		logger.Errorf("transport: send buffer full, dropping %s", t)
		return ErrBackpressure
	}
}

func (c *Conn) Wait() {
	c.wg.Wait()
}

// Close stops both pumps. Safe to call multiple times.
func (c *Conn) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
	})
}

func (c *Conn) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		close(c.events)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("transport set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// the server may ping us as well
	c.conn.SetPingHandler(func(data string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("transport read error: %v", err)
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			logger.Errorf("transport unmarshal error: %v", err)
			continue
		}
		metrics.IncEventIn(string(ev.Type))

		// blocking: events must reach the dispatcher in arrival order
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("transport set write deadline: %v", err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			if err := json.NewEncoder(buf).Encode(msg); err != nil {
				bufPool.Put(buf)
				logger.Errorf("transport marshal %s: %v", msg.Type, err)
				continue
			}
			data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				logger.Errorf("transport write %s: %v", msg.Type, writeErr)
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
