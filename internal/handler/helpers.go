package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/blogchat/internal/api"
	"github.com/blogchat/internal/chat"
	"github.com/blogchat/internal/logger"
	"github.com/blogchat/internal/outbound"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// writeSessionError maps core and collaborator errors to a status code. The
// body carries the server's message when it sent one.
func writeSessionError(w http.ResponseWriter, err error) {
	var apiErr *api.APIError
	switch {
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, outbound.ErrEmptyMessage), errors.Is(err, api.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, outbound.ErrNoActiveConversation), errors.Is(err, outbound.ErrSendInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, outbound.ErrRecipientUnavailable):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "backend did not answer in time")
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		writeError(w, apiErr.Status, api.UserMessage(err, http.StatusText(apiErr.Status)))
	default:
		writeError(w, http.StatusBadGateway, api.UserMessage(err, "backend unavailable"))
	}
}
