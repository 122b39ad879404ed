// Package lifecycle moves conversations between active, trash and gone.
// Transitions are not optimistic: local state only changes after the backend
// confirms, by refetching the directory.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/blogchat/internal/api"
	"github.com/blogchat/internal/logger"
	"github.com/blogchat/internal/model"
	"github.com/blogchat/internal/notify"
)

type Backend interface {
	TrashConversation(ctx context.Context, conversationID string) (*api.TrashResult, error)
	RestoreConversation(ctx context.Context, conversationID string) error
	PurgeConversation(ctx context.Context, conversationID string) error
}

// Directory is the view of the conversation list the manager keeps in sync.
type Directory interface {
	Refresh(ctx context.Context) error
	LoadTrashed(ctx context.Context) error
	IsTrashed(conversationID string) bool
	Trashed() []model.TrashedConversation
}

// ViewCloser clears the open conversation when it is the one given.
type ViewCloser interface {
	CloseIfActive(conversationID string) bool
}

type Manager struct {
	backend  Backend
	dir      Directory
	notifier notify.Notifier
	view     ViewCloser
	now      func() time.Time
}

type Option func(*Manager)

// WithClock sets the clock that stamps notifications.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func New(backend Backend, dir Directory, notifier notify.Notifier, view ViewCloser, opts ...Option) *Manager {
	m := &Manager{backend: backend, dir: dir, notifier: notifier, view: view, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Trash moves the conversation to the current user's trash. Trashing a
// conversation that is already there does nothing.
func (m *Manager) Trash(ctx context.Context, conversationID string) error {
	if m.dir.IsTrashed(conversationID) {
		logger.Debugf("lifecycle: %s already in trash", conversationID)
		return nil
	}
	res, err := m.backend.TrashConversation(ctx, conversationID)
	if err != nil {
		m.fail(ctx, "Could not move chat to trash", err)
		return fmt.Errorf("lifecycle.Trash: %w", err)
	}
	if res != nil && !res.PermanentDeletionAt.IsZero() {
		logger.Infof("lifecycle: %s trashed, purge at %s", conversationID, res.PermanentDeletionAt.Format(time.RFC3339))
	}
	m.view.CloseIfActive(conversationID)
	m.refresh(ctx)
	return nil
}

// Restore brings a trashed conversation back to the active list.
func (m *Manager) Restore(ctx context.Context, conversationID string) error {
	if err := m.backend.RestoreConversation(ctx, conversationID); err != nil {
		m.fail(ctx, "Could not restore chat", err)
		return fmt.Errorf("lifecycle.Restore: %w", err)
	}
	m.refresh(ctx)
	return nil
}

// Purge deletes the conversation and all its messages for good.
func (m *Manager) Purge(ctx context.Context, conversationID string) error {
	if err := m.backend.PurgeConversation(ctx, conversationID); err != nil {
		m.fail(ctx, "Could not delete chat permanently", err)
		return fmt.Errorf("lifecycle.Purge: %w", err)
	}
	m.view.CloseIfActive(conversationID)
	m.refresh(ctx)
	return nil
}

// MessageInTrashedChat raises the restore-offering notification. The
// conversation stays in trash.
func (m *Manager) MessageInTrashedChat(ctx context.Context, conversationID string, sender *model.User, text string) {
	m.notifier.Notify(ctx, notify.Notification{
		Kind:           notify.KindTrashedMessage,
		Title:          "New message from " + sender.Name() + " in a deleted chat",
		Body:           text,
		ConversationID: conversationID,
		Action:         notify.ActionRestore,
		At:             m.now(),
	})
}

// SweepExpired refetches the trash partition and closes the view of any
// conversation the server purged since the last fetch. It returns the ids
// that disappeared.
func (m *Manager) SweepExpired(ctx context.Context) ([]string, error) {
	before := make(map[string]struct{})
	for _, t := range m.dir.Trashed() {
		before[t.Conversation.ID] = struct{}{}
	}
	if err := m.dir.LoadTrashed(ctx); err != nil {
		return nil, fmt.Errorf("lifecycle.SweepExpired: %w", err)
	}
	for _, t := range m.dir.Trashed() {
		delete(before, t.Conversation.ID)
	}
	gone := make([]string, 0, len(before))
	for id := range before {
		m.view.CloseIfActive(id)
		gone = append(gone, id)
	}
	if len(gone) > 0 {
		logger.Infof("lifecycle: %d trashed conversation(s) expired", len(gone))
	}
	return gone, nil
}

func (m *Manager) refresh(ctx context.Context) {
	if err := m.dir.Refresh(ctx); err != nil {
		logger.Errorf("lifecycle: refresh directory: %v", err)
	}
}

func (m *Manager) fail(ctx context.Context, title string, err error) {
	m.notifier.Notify(ctx, notify.Error(title, api.UserMessage(err, "Please try again later")))
}
