// Package api is the typed client of the chat REST backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blogchat/internal/logger"
	"github.com/blogchat/internal/metrics"
	"github.com/blogchat/internal/model"
)

// ErrUnsupportedFormat is returned by Export before any request is made.
var ErrUnsupportedFormat = errors.New("api: unsupported export format")

// APIError is a non-2xx answer of the backend. Message is the server-provided
// text when the body carried one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// UserMessage is what the notification shows: the server text when present,
// a generic fallback otherwise.
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// ExportFormats lists the accepted export formats.
var ExportFormats = []string{"doc", "txt", "csv"}

// SendRequest is the body of a message send.
type SendRequest struct {
	ConversationID  string `json:"conversationId"`
	RecipientID     string `json:"recipientId"`
	Text            string `json:"text"`
	ReplyTo         string `json:"replyTo,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// TrashResult is the backend answer to moving a conversation to trash.
type TrashResult struct {
	DeletedAt           time.Time `json:"deletedAt"`
	PermanentDeletionAt time.Time `json:"permanentDeletionAt"`
}

// ExportFile is a downloaded conversation export.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Client talks to the chat backend with a bearer session token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// sends are bounded by the caller's context only
	sendClient *http.Client
}

// NewClient builds a client for baseURL. timeout bounds every call except
// SendMessage; zero or less means no client-side limit.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout < 0 {
		timeout = 0
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		sendClient: &http.Client{},
	}
}

// SetToken replaces the session token (chatctl prompts for it after start).
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) ListActive(ctx context.Context) ([]*model.Conversation, error) {
	var out []*model.Conversation
	if err := c.do(ctx, "ListActive", http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTrashed returns the conversations in the current user's trash.
func (c *Client) ListTrashed(ctx context.Context) ([]*model.Conversation, error) {
	var out []*model.Conversation
	if err := c.do(ctx, "ListTrashed", http.MethodGet, "/conversations/trash", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	var out []*model.Message
	path := "/messages/" + url.PathEscape(conversationID)
	if err := c.do(ctx, "GetMessages", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*model.Message, error) {
	var out model.Message
	if err := c.do(ctx, "SendMessage", http.MethodPost, "/messages", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, "DeleteMessage", http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
}

// ToggleReaction adds or removes the caller's emoji and returns the resulting
// authoritative reaction list.
func (c *Client) ToggleReaction(ctx context.Context, messageID, emoji string) ([]model.Reaction, error) {
	var out struct {
		Reactions []model.Reaction `json:"reactions"`
	}
	path := "/messages/" + url.PathEscape(messageID) + "/reactions"
	if err := c.do(ctx, "ToggleReaction", http.MethodPost, path, map[string]string{"emoji": emoji}, &out); err != nil {
		return nil, err
	}
	return out.Reactions, nil
}

func (c *Client) TrashConversation(ctx context.Context, conversationID string) (*TrashResult, error) {
	var out TrashResult
	path := "/conversations/" + url.PathEscape(conversationID)
	if err := c.do(ctx, "TrashConversation", http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RestoreConversation(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/restore"
	return c.do(ctx, "RestoreConversation", http.MethodPost, path, nil, nil)
}

func (c *Client) PurgeConversation(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/permanent"
	return c.do(ctx, "PurgeConversation", http.MethodDelete, path, nil, nil)
}

func (c *Client) UpdateTheme(ctx context.Context, conversationID string, theme model.Theme) (*model.Conversation, error) {
	var out model.Conversation
	path := "/conversations/" + url.PathEscape(conversationID) + "/theme"
	if err := c.do(ctx, "UpdateTheme", http.MethodPut, path, map[string]model.Theme{"theme": theme}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, "MarkRead", http.MethodPut, path, nil, nil)
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, "UnreadCount", http.MethodGet, "/messages/unread/count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Export downloads the conversation as doc, txt or csv.
func (c *Client) Export(ctx context.Context, conversationID, format string) (*ExportFile, error) {
	defer logger.DeferLogDuration("api.Export", time.Now())()
	format = strings.ToLower(format)
	if !validFormat(format) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/export?format=" + url.QueryEscape(format)
	resp, err := c.request(ctx, "Export", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api.Export: %w", err)
	}
	f := &ExportFile{
		Filename:    "chat-" + conversationID + "." + format,
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		f.Filename = params["filename"]
	}
	return f, nil
}

func validFormat(format string) bool {
	for _, f := range ExportFormats {
		if f == format {
			return true
		}
	}
	return false
}

// do sends body as JSON and decodes a 2xx answer into out (when non-nil).
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	defer logger.DeferLogDuration("api."+op, time.Now())()
	resp, err := c.request(ctx, op, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api.%s: decode: %w", op, err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, op, method, path string, body any) (resp *http.Response, err error) {
	start := time.Now()
	defer func() { metrics.ObserveUpstream(op, start, err) }()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("api.%s: encode: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("api.%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	hc := c.httpClient
	if op == "SendMessage" {
		hc = c.sendClient
	}
	resp, err = hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api.%s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("api.%s: %w", op, readAPIError(resp))
	}
	return resp, nil
}

func readAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		apiErr.Message = body.Message
		if apiErr.Message == "" {
			apiErr.Message = body.Error
		}
	}
	return apiErr
}
