package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogchat/internal/api"
	"github.com/blogchat/internal/chat"
	"github.com/blogchat/internal/config"
	"github.com/blogchat/internal/model"
	"github.com/blogchat/internal/notify"
	"github.com/blogchat/internal/timeline"
)

// collaborator is a chi-routed fake of the chat REST backend.
type collaborator struct {
	mu    sync.Mutex
	convs map[string]*model.Conversation
	msgs  map[string][]*model.Message
}

func newCollaborator() *collaborator {
	return &collaborator{
		convs: map[string]*model.Conversation{
			"X": {ID: "X", Participants: []*model.User{{ID: "me", Username: "me"}, {ID: "u2", Username: "alice", IsOnline: true}}},
		},
		msgs: map[string][]*model.Message{
			"X": {{ID: "a", ConversationID: "X", Text: "hi", Sender: &model.User{ID: "u2", Username: "alice"}, CreatedAt: time.Now().Add(-time.Minute)}},
		},
	}
}

func (c *collaborator) list(trashed bool) []*model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []*model.Conversation{}
	for _, conv := range c.convs {
		if conv.TrashedBy("me") == trashed {
			out = append(out, conv)
		}
	}
	return out
}

func (c *collaborator) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/conversations", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusOK, c.list(false)) })
	r.Get("/conversations/trash", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusOK, c.list(true)) })
	r.Put("/conversations/{id}/read", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	r.Get("/messages/unread/count", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusOK, map[string]int{"count": 2}) })
	r.Get("/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		writeJSON(w, http.StatusOK, c.msgs[chi.URLParam(r, "id")])
	})
	r.Post("/messages", func(w http.ResponseWriter, r *http.Request) {
		var req api.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad body")
			return
		}
		if req.Text == "forbidden" {
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "User does not accept messages"})
			return
		}
		writeJSON(w, http.StatusCreated, model.Message{
			ID: "m1", ClientMessageID: req.ClientMessageID, ConversationID: req.ConversationID,
			Text: req.Text, Sender: &model.User{ID: "me", Username: "me"}, CreatedAt: time.Now(),
		})
	})
	r.Post("/messages/{id}/reactions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, map[string]any{"reactions": []model.Reaction{{Emoji: body["emoji"], UserID: "me"}}})
	})
	r.Delete("/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		now := time.Now()
		c.convs[chi.URLParam(r, "id")].MarkDeleted("me", now)
		writeJSON(w, http.StatusOK, api.TrashResult{DeletedAt: now, PermanentDeletionAt: now.Add(model.RetentionPeriod)})
	})
	r.Post("/conversations/{id}/restore", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.convs[chi.URLParam(r, "id")].Unmark("me")
		w.WriteHeader(http.StatusNoContent)
	})
	r.Delete("/conversations/{id}/permanent", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.convs, chi.URLParam(r, "id"))
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/conversations/{id}/export", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		name := "chat-alice.txt"
		if chi.URLParam(r, "id") == "Q" {
			name = `chat "quoted"; x.txt`
		}
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		_, _ = w.Write([]byte("alice: hi\n"))
	})
	return r
}

type agent struct {
	url    string
	client *http.Client
}

func newAgent(t *testing.T) *agent {
	t.Helper()
	backend := httptest.NewServer(newCollaborator().router())
	t.Cleanup(backend.Close)

	session := chat.New(api.NewClient(backend.URL, "token", 5*time.Second), chat.Options{
		Self:       &model.User{ID: "me", Username: "me"},
		TypingIdle: time.Hour,
		Notifier:   notify.Func(func(context.Context, notify.Notification) {}),
	})
	session.Start(context.Background())
	t.Cleanup(session.Shutdown)

	cfg := &config.Config{TypingIdle: 2 * time.Second, TypingThrottle: time.Second}
	router := NewRouter(Deps{
		Chat:     NewChatHandler(session),
		Messages: NewMessageHandler(session),
		Config:   NewConfigHandler(cfg, ""),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &agent{url: srv.URL, client: srv.Client()}
}

func (a *agent) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.url+path, rdr)
	require.NoError(t, err)
	resp, err := a.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAgent_OpenSendReact(t *testing.T) {
	a := newAgent(t)

	var convs []*model.Conversation
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/conversations", nil, &convs))
	require.Len(t, convs, 1)

	var state chat.State
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/conversations/X/select", nil, &state))
	assert.True(t, state.CanSend)
	assert.Equal(t, "alice", state.Peer.Name)
	assert.Equal(t, "online", state.Peer.Status)

	var sent model.Message
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/messages", map[string]string{"text": "hello", "replyTo": "a"}, &sent))
	assert.Equal(t, "m1", sent.ID)

	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodPost, "/api/messages/m1/reactions", map[string]string{"emoji": "🎉"}, nil))

	var rows []timeline.Row
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/timeline?offset=0&limit=10", nil, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "m1", rows[1].Message.ID)
	require.Len(t, rows[1].Reactions, 1)
	assert.True(t, rows[1].Reactions[0].Mine)
}

func TestAgent_Errors(t *testing.T) {
	a := newAgent(t)

	var e errorResponse
	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodPost, "/api/messages", map[string]string{"text": "hi"}, &e), "nothing open")
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/api/conversations/nope/select", nil, &e))

	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/conversations/X/select", nil, nil))
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/messages", map[string]string{"text": "   "}, &e))
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodPost, "/api/messages", map[string]string{"text": "forbidden"}, &e))
	assert.Equal(t, "User does not accept messages", e.Error)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/api/conversations/X/export?format=pdf", nil, &e))
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/messages/a/reactions", map[string]string{}, &e))
}

func TestAgent_TrashRestorePurge(t *testing.T) {
	a := newAgent(t)

	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/api/conversations/X", nil, nil))
	var trash []model.TrashedConversation
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/trash", nil, &trash))
	require.Len(t, trash, 1)
	assert.Equal(t, 7, trash[0].DaysUntilDeletion)

	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodPost, "/api/conversations/X/restore", nil, nil))
	var convs []*model.Conversation
	a.do(t, http.MethodGet, "/api/conversations", nil, &convs)
	assert.Len(t, convs, 1)

	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/api/conversations/X", nil, nil))
	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/api/trash/X", nil, nil))
	a.do(t, http.MethodGet, "/api/trash", nil, &trash)
	assert.Empty(t, trash)
}

func TestAgent_ExportUnreadConfig(t *testing.T) {
	a := newAgent(t)

	resp, err := a.client.Get(a.url + "/api/conversations/X/export?format=txt")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "chat-alice.txt")

	var unread map[string]int
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/unread", nil, &unread))
	assert.Equal(t, 2, unread["count"])

	var push map[string]any
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/config/push", nil, &push))
	assert.Equal(t, false, push["enabled"])

	var cfg map[string]any
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/config/chat", nil, &cfg))
	assert.EqualValues(t, 2000, cfg["typing_idle_ms"])
}

func TestAgent_ExportQuotesFilename(t *testing.T) {
	a := newAgent(t)

	resp, err := a.client.Get(a.url + "/api/conversations/Q/export?format=txt")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	disposition, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "attachment", disposition)
	assert.Equal(t, `chat "quoted"; x.txt`, params["filename"])
}

type subs struct {
	got []notify.PushSubscription
}

func (s *subs) Subscribe(sub notify.PushSubscription) error {
	s.got = append(s.got, sub)
	return nil
}

func (s *subs) Unsubscribe(string) error { return nil }

func TestPushHandler_Validates(t *testing.T) {
	store := &subs{}
	h := NewPushHandler(store)

	rec := httptest.NewRecorder()
	h.Subscribe(rec, httptest.NewRequest(http.MethodPost, "/api/push/subscribe", bytes.NewBufferString(`{"subscription":{"endpoint":"https://push"}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	body := `{"subscription":{"endpoint":"https://push","keys":{"p256dh":"k","auth":"a"}}}`
	h.Subscribe(rec, httptest.NewRequest(http.MethodPost, "/api/push/subscribe", bytes.NewBufferString(body)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, store.got, 1)
}
