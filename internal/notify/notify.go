// Package notify delivers user-visible notifications raised by the chat core.
package notify

import (
	"context"
	"time"

	"github.com/blogchat/internal/logger"
)

type Kind string

const (
	KindError          Kind = "error"
	KindInfo           Kind = "info"
	KindTrashedMessage Kind = "message_in_trashed_chat"
)

// ActionRestore asks the UI to offer a one-click restore of ConversationID.
const ActionRestore = "restore"

type Notification struct {
	Kind           Kind      `json:"kind"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	ConversationID string    `json:"conversationId,omitempty"`
	Action         string    `json:"action,omitempty"`
	At             time.Time `json:"at"`
}

// Notifier must not block the caller for long: it runs on the event loop.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification)

func (f Func) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, nt := range m {
		if nt != nil {
			nt.Notify(ctx, n)
		}
	}
}

// Log writes notifications to the service log.
type Log struct{}

func (Log) Notify(_ context.Context, n Notification) {
	if n.Kind == KindError {
		logger.Errorf("notify: %s: %s", n.Title, n.Body)
		return
	}
	if n.Action != "" {
		logger.Infof("notify: %s: %s [action=%s conversation=%s]", n.Title, n.Body, n.Action, n.ConversationID)
		return
	}
	logger.Infof("notify: %s: %s", n.Title, n.Body)
}

// Error builds an error notification.
func Error(title, body string) Notification {
	return Notification{Kind: KindError, Title: title, Body: body, At: time.Now()}
}
