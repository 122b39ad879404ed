package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MessageHandler serves the timeline and compose routes.
type MessageHandler struct {
	session Session
}

func NewMessageHandler(session Session) *MessageHandler {
	return &MessageHandler{session: session}
}

const (
	defaultWindow = 50
	maxWindow     = 200
)

// Timeline returns a window of rows; offset counts from the oldest message.
func (h *MessageHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	offset := max(queryInt(r, "offset", 0), 0)
	limit := queryInt(r, "limit", defaultWindow)
	if limit <= 0 || limit > maxWindow {
		limit = defaultWindow
	}
	writeJSON(w, http.StatusOK, h.session.Timeline(offset, limit))
}

type sendRequest struct {
	Text    string `json:"text"`
	ReplyTo string `json:"replyTo,omitempty"`
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	msg, err := h.session.Send(r.Context(), req.Text, req.ReplyTo)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type composeRequest struct {
	Text string `json:"text"`
}

func (h *MessageHandler) Compose(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	h.session.Keystroke(req.Text)
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.session.DeleteMessage(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	var req reactionRequest
	if err := decodeBody(r, &req); err != nil || req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji required")
		return
	}
	if err := h.session.ToggleReaction(r.Context(), chi.URLParam(r, "id"), req.Emoji); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
