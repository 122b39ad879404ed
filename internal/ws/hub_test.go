package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogchat/internal/notify"
)

type commander struct {
	mu       sync.Mutex
	composed []string
	selected []string
	closed   int
}

func (c *commander) Keystroke(text string) {
	c.mu.Lock()
	c.composed = append(c.composed, text)
	c.mu.Unlock()
}

func (c *commander) Select(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "missing" {
		return errors.New("not found")
	}
	c.selected = append(c.selected, id)
	return nil
}

func (c *commander) Close() {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
}

func (c *commander) snapshot() ([]string, []string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.composed...), append([]string(nil), c.selected...), c.closed
}

func startHub(t *testing.T, cmd Commander) (*Hub, string) {
	t.Helper()
	hub := NewHub(cmd, 4)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		c := NewClient(hub, conn)
		c.Start(cctx, ccancel)
		hub.Register(c)
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastReachesEveryTab(t *testing.T) {
	hub, url := startHub(t, &commander{})
	a := dial(t, url)
	b := dial(t, url)
	require.Eventually(t, func() bool { return hub.Len() == 2 }, time.Second, 5*time.Millisecond)

	hub.Publish(map[string]string{"kind": "timeline"})
	hub.Notify(context.Background(), notify.Error("Message not sent", "offline"))

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		var got OutgoingMessage
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, EventUpdate, got.Type)
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, EventNotification, got.Type)
	}
}

func TestHub_DispatchesCommands(t *testing.T) {
	cmd := &commander{}
	hub, url := startHub(t, cmd)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: EventSelect, ConversationID: "X"}))
	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: EventCompose, Text: "he"}))
	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: EventClose}))

	require.Eventually(t, func() bool {
		_, _, closed := cmd.snapshot()
		return closed == 1
	}, time.Second, 5*time.Millisecond)
	composed, selected, _ := cmd.snapshot()
	assert.Equal(t, []string{"he"}, composed)
	assert.Equal(t, []string{"X"}, selected)

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: "bogus"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var got OutgoingMessage
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventError, got.Type)
}

func TestHub_TabLimitAndUnregister(t *testing.T) {
	hub, url := startHub(t, &commander{})
	conns := make([]*websocket.Conn, 0, 5)
	for i := 0; i < 5; i++ {
		conns = append(conns, dial(t, url))
	}
	require.Eventually(t, func() bool { return hub.Len() == 4 }, time.Second, 5*time.Millisecond)

	for _, c := range conns {
		c.Close()
	}
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_ShutdownSendsCloseFrame(t *testing.T) {
	hub := NewHub(&commander{}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	stop := make(chan context.CancelFunc, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		NewClient(hub, conn).Start(cctx, ccancel)
		stop <- ccancel
	}))
	t.Cleanup(srv.Close)

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	(<-stop)()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
}
