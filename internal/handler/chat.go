package handler

import (
	"context"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/blogchat/internal/api"
	"github.com/blogchat/internal/chat"
	"github.com/blogchat/internal/model"
	"github.com/blogchat/internal/timeline"
)

// Session is what the agent routes drive. *chat.Session implements it.
type Session interface {
	State() chat.State
	Conversations() []*model.Conversation
	Trash() []model.TrashedConversation
	Select(ctx context.Context, conversationID string) error
	Close()
	Timeline(offset, limit int) []timeline.Row
	Send(ctx context.Context, text, replyToID string) (*model.Message, error)
	Keystroke(text string)
	DeleteMessage(ctx context.Context, messageID string) error
	ToggleReaction(ctx context.Context, messageID, emoji string) error
	TrashConversation(ctx context.Context, conversationID string) error
	Restore(ctx context.Context, conversationID string) error
	Purge(ctx context.Context, conversationID string) error
	UpdateTheme(ctx context.Context, conversationID string, theme model.Theme) error
	Export(ctx context.Context, conversationID, format string) (*api.ExportFile, error)
	UnreadCount(ctx context.Context) (int, error)
}

// ChatHandler serves the conversation routes of the agent.
type ChatHandler struct {
	session Session
}

func NewChatHandler(session Session) *ChatHandler {
	return &ChatHandler{session: session}
}

func (h *ChatHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.State())
}

func (h *ChatHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Conversations())
}

func (h *ChatHandler) Trash(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Trash())
}

func (h *ChatHandler) Select(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Select(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.State())
}

func (h *ChatHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.session.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) MoveToTrash(w http.ResponseWriter, r *http.Request) {
	if err := h.session.TrashConversation(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) Restore(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Restore(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) Purge(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Purge(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type themeRequest struct {
	Theme model.Theme `json:"theme"`
}

func (h *ChatHandler) UpdateTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if err := decodeBody(r, &req); err != nil || req.Theme == "" {
		writeError(w, http.StatusBadRequest, "theme required")
		return
	}
	if err := h.session.UpdateTheme(r.Context(), chi.URLParam(r, "id"), req.Theme); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export streams the file the backend produced.
func (h *ChatHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "txt"
	}
	f, err := h.session.Export(r.Context(), chi.URLParam(r, "id"), format)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(f.Data)
}

func (h *ChatHandler) Unread(w http.ResponseWriter, r *http.Request) {
	n, err := h.session.UnreadCount(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}
