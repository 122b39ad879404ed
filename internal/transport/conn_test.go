package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blogchat/internal/model"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// fakeServer upgrades one connection, records the frames it receives and
// pushes whatever is written to out.
func fakeServer(t *testing.T) (url string, got <-chan frame, out chan<- Event) {
	t.Helper()
	recv := make(chan frame, 16)
	push := make(chan Event, 16)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		go func() {
			for ev := range push {
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}()
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			recv <- f
		}
	}))
	t.Cleanup(func() {
		close(push)
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), recv, push
}

func dialTest(t *testing.T, url string) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, Options{URL: url, Token: "tok"})
	require.NoError(t, err)
	c.Start(context.Background())
	t.Cleanup(func() {
		c.Close()
		c.Wait()
	})
	return c
}

func TestConn_JoinOncePerConnection(t *testing.T) {
	url, got, _ := fakeServer(t)
	c := dialTest(t, url)

	require.NoError(t, c.Join("u1"))
	require.NoError(t, c.Join("u1"))
	require.NoError(t, c.Emit(EventTyping, TypingSignal{ConversationID: "c1", RecipientID: "u2"}))

	first := <-got
	assert.Equal(t, EventJoin, first.Type)
	var join JoinPayload
	require.NoError(t, json.Unmarshal(first.Payload, &join))
	assert.Equal(t, "u1", join.UserID)

	// the second Join did not produce a frame, so typing comes next
	second := <-got
	assert.Equal(t, EventTyping, second.Type)
	var sig TypingSignal
	require.NoError(t, json.Unmarshal(second.Payload, &sig))
	assert.Equal(t, TypingSignal{ConversationID: "c1", RecipientID: "u2"}, sig)
}

func TestConn_EventsInArrivalOrder(t *testing.T) {
	url, _, out := fakeServer(t)
	c := dialTest(t, url)

	m1, err := NewEvent(EventNewMessage, model.Message{ID: "m1", ConversationID: "c1", Text: "a"})
	require.NoError(t, err)
	del, err := NewEvent(EventMessageDeleted, MessageDeletedPayload{MessageID: "m1"})
	require.NoError(t, err)
	out <- m1
	out <- del

	select {
	case ev := <-c.Events():
		assert.Equal(t, EventNewMessage, ev.Type)
		var msg model.Message
		require.NoError(t, ev.Decode(&msg))
		assert.Equal(t, "m1", msg.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("no event")
	}
	select {
	case ev := <-c.Events():
		assert.Equal(t, EventMessageDeleted, ev.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("no event")
	}
}

func TestConn_EmitAfterClose(t *testing.T) {
	url, _, _ := fakeServer(t)
	c := dialTest(t, url)
	c.Close()

	assert.ErrorIs(t, c.Emit(EventStopTyping, TypingSignal{}), ErrClosed)
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
}

func TestEvent_DecodeEmptyPayload(t *testing.T) {
	ev := Event{Type: EventUserOnline}
	var p PresencePayload
	assert.Error(t, ev.Decode(&p))
}
