// Package chat wires the chat core together: it owns the open conversation,
// applies realtime events in arrival order and exposes the user actions.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blogchat/internal/api"
	"github.com/blogchat/internal/directory"
	"github.com/blogchat/internal/lifecycle"
	"github.com/blogchat/internal/logger"
	"github.com/blogchat/internal/model"
	"github.com/blogchat/internal/notify"
	"github.com/blogchat/internal/outbound"
	"github.com/blogchat/internal/presence"
	"github.com/blogchat/internal/storage"
	"github.com/blogchat/internal/timeline"
	"github.com/blogchat/internal/transport"
)

var (
	ErrNotFound             = errors.New("chat: not found")
	ErrNoActiveConversation = outbound.ErrNoActiveConversation
)

// Backend is the REST collaborator. *api.Client implements it.
type Backend interface {
	directory.Backend
	lifecycle.Backend
	outbound.Backend
	GetMessages(ctx context.Context, conversationID string) ([]*model.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	ToggleReaction(ctx context.Context, messageID, emoji string) ([]model.Reaction, error)
	UpdateTheme(ctx context.Context, conversationID string, theme model.Theme) (*model.Conversation, error)
	MarkRead(ctx context.Context, conversationID string) error
	UnreadCount(ctx context.Context) (int, error)
	Export(ctx context.Context, conversationID, format string) (*api.ExportFile, error)
}

type Options struct {
	Self *model.User

	TypingIdle     time.Duration
	TypingThrottle time.Duration
	SendTimeout    time.Duration
	SingleFlight   bool

	// Location decides calendar days for timeline separators.
	Location *time.Location
	Clock    func() time.Time

	Snapshots   storage.SnapshotStore
	SnapshotTTL time.Duration

	Notifier notify.Notifier
	OnUpdate func(ViewUpdate)
}

type Session struct {
	self     *model.User
	backend  Backend
	presence *presence.Tracker
	dir      *directory.Directory
	timeline *timeline.Timeline
	life     *lifecycle.Manager
	pipeline *outbound.Pipeline
	notifier notify.Notifier
	onUpdate func(ViewUpdate)
	now      func() time.Time

	mu     sync.RWMutex
	active *model.Conversation

	connMu sync.RWMutex
	conn   *transport.Conn

	refreshMu  sync.Mutex
	refreshCh  chan struct{}
	refreshing bool
}

func New(backend Backend, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{}
	}
	s := &Session{
		self:      opts.Self,
		backend:   backend,
		presence:  presence.NewTracker(),
		notifier:  opts.Notifier,
		onUpdate:  opts.OnUpdate,
		now:       opts.Clock,
		refreshCh: make(chan struct{}, 1),
	}
	dirOpts := []directory.Option{directory.WithClock(opts.Clock)}
	if opts.Snapshots != nil {
		dirOpts = append(dirOpts, directory.WithSnapshotStore(opts.Snapshots, opts.SnapshotTTL))
	}
	s.dir = directory.New(s.self.ID, backend, s.presence, dirOpts...)
	s.timeline = timeline.New(s.self.ID, timeline.WithClock(opts.Clock), timeline.WithLocation(opts.Location))
	s.life = lifecycle.New(backend, s.dir, s.notifier, s, lifecycle.WithClock(opts.Clock))
	s.pipeline = outbound.New(backend, s.timeline, workerRefresh{s}, s, s.notifier, outbound.Options{
		TypingIdle:     opts.TypingIdle,
		TypingThrottle: opts.TypingThrottle,
		SendTimeout:    opts.SendTimeout,
		SingleFlight:   opts.SingleFlight,
		OnChange:       func() { s.publish(ViewUpdate{Kind: UpdateTimeline, ConversationID: s.timeline.ConversationID()}) },
	})
	return s
}

// Start restores the cached conversation list and then fetches fresh data.
func (s *Session) Start(ctx context.Context) {
	if err := s.dir.WarmStart(ctx); err != nil {
		logger.Errorf("chat: warm start: %v", err)
	}
	if err := s.dir.Refresh(ctx); err != nil {
		logger.Errorf("chat: initial load: %v", err)
	}
	s.publish(ViewUpdate{Kind: UpdateDirectory})
}

// Attach makes conn the realtime channel and registers the session on it.
func (s *Session) Attach(conn *transport.Conn) error {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	return conn.Join(s.self.ID)
}

// Emit forwards to the attached connection.
func (s *Session) Emit(t transport.EventType, payload any) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return transport.ErrClosed
	}
	return conn.Emit(t, payload)
}

// Run applies events one by one until the channel closes or ctx ends. It also
// runs the directory refresh worker, which coalesces refresh requests.
func (s *Session) Run(ctx context.Context, events <-chan transport.Event) error {
	s.refreshMu.Lock()
	s.refreshing = true
	s.refreshMu.Unlock()
	var wg sync.WaitGroup
	workerCtx, stop := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.refreshLoop(workerCtx)
	}()
	defer func() {
		s.refreshMu.Lock()
		s.refreshing = false
		s.refreshMu.Unlock()
		stop()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.HandleEvent(ctx, ev); err != nil {
				logger.Errorf("chat: %v", err)
			}
		}
	}
}

func (s *Session) refreshLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.refreshCh:
			s.refreshNow(ctx)
		}
	}
}

// requestRefresh schedules a directory refetch. While Run is active the
// request is coalesced into the worker; otherwise it runs inline.
func (s *Session) requestRefresh(ctx context.Context) {
	s.refreshMu.Lock()
	async := s.refreshing
	s.refreshMu.Unlock()
	if !async {
		s.refreshNow(ctx)
		return
	}
	select {
	case s.refreshCh <- struct{}{}:
	default:
	}
}

// workerRefresh hands the outbound pipeline's post-send refetch to the
// refresh worker so a send does not wait on the conversation list.
type workerRefresh struct{ s *Session }

func (r workerRefresh) Refresh(ctx context.Context) error {
	r.s.requestRefresh(ctx)
	return nil
}

func (s *Session) refreshNow(ctx context.Context) {
	if err := s.dir.Refresh(ctx); err != nil {
		logger.Errorf("chat: refresh directory: %v", err)
	}
	s.publish(ViewUpdate{Kind: UpdateDirectory})
}

// Select opens a conversation from the active list, loads its messages and
// marks it read. Pending sends of the previous view are discarded.
func (s *Session) Select(ctx context.Context, conversationID string) error {
	conv, ok := s.dir.Get(conversationID)
	if !ok {
		return fmt.Errorf("chat.Select %s: %w", conversationID, ErrNotFound)
	}
	s.pipeline.Reset()

	s.mu.Lock()
	s.active = conv
	s.mu.Unlock()
	s.presence.SetOpenConversation(conversationID)
	s.timeline.Load(conversationID, nil)
	s.publish(ViewUpdate{Kind: UpdateConversationOpened, ConversationID: conversationID})

	msgs, err := s.backend.GetMessages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("chat.Select: load messages: %w", err)
	}
	// a later Select may have replaced the view while we were waiting
	if s.ActiveID() != conversationID || !s.timeline.Merge(conversationID, msgs) {
		return nil
	}
	s.publish(ViewUpdate{Kind: UpdateTimeline, ConversationID: conversationID})

	if err := s.backend.MarkRead(ctx, conversationID); err != nil {
		logger.Errorf("chat: mark read %s: %v", conversationID, err)
	}
	return nil
}

// Close clears the open view.
func (s *Session) Close() {
	if id := s.ActiveID(); id != "" {
		s.CloseIfActive(id)
	}
}

// CloseIfActive clears the view when conversationID is open.
func (s *Session) CloseIfActive(conversationID string) bool {
	s.mu.Lock()
	if s.active == nil || s.active.ID != conversationID {
		s.mu.Unlock()
		return false
	}
	s.active = nil
	s.mu.Unlock()

	s.pipeline.Reset()
	s.timeline.Reset()
	s.presence.SetOpenConversation("")
	s.publish(ViewUpdate{Kind: UpdateConversationClosed, ConversationID: conversationID})
	return true
}

func (s *Session) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return ""
	}
	return s.active.ID
}

// Active returns the open conversation with presence applied, or nil.
func (s *Session) Active() *model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil
	}
	return s.presence.ResolveConversation(s.active)
}

// CanSend is false when nothing is open or the counterpart account is gone.
func (s *Session) CanSend() bool {
	c := s.Active()
	return c != nil && !c.Other(s.self.ID).Missing()
}

func (s *Session) State() State {
	st := State{
		Active:   s.Active(),
		Typing:   s.presence.Typing(),
		Draft:    s.pipeline.Draft(),
		Messages: s.timeline.Len(),
		Pending:  len(s.timeline.Pending()),
	}
	if st.Active != nil {
		st.Peer = peerOf(st.Active.Other(s.self.ID), s.now())
		st.CanSend = !st.Peer.Deleted
	}
	return st
}

func (s *Session) Conversations() []*model.Conversation {
	return s.dir.Active()
}

func (s *Session) Trash() []model.TrashedConversation {
	return s.dir.Trashed()
}

func (s *Session) Timeline(offset, limit int) []timeline.Row {
	return s.timeline.Window(offset, limit)
}

func (s *Session) Messages() []*model.Message {
	return s.timeline.Messages()
}

func (s *Session) Presence() *presence.Tracker {
	return s.presence
}

func (s *Session) target() outbound.Target {
	t := outbound.Target{Self: s.self}
	if c := s.Active(); c != nil {
		t.ConversationID = c.ID
		t.Recipient = c.Other(s.self.ID)
	}
	return t
}

// Send sends text in the open conversation, optionally as a reply. The send
// outlives ctx's cancellation; only Options.SendTimeout can cut it short.
func (s *Session) Send(ctx context.Context, text, replyToID string) (*model.Message, error) {
	t := s.target()
	if replyToID != "" {
		m, ok := s.timeline.Get(replyToID)
		if !ok {
			return nil, fmt.Errorf("chat.Send: reply to %s: %w", replyToID, ErrNotFound)
		}
		t.ReplyTo = &model.ReplyPreview{ID: m.ID, Sender: m.Sender, Text: m.Text}
	}
	return s.pipeline.Send(context.WithoutCancel(ctx), t, text)
}

// Keystroke records compose text and drives the typing signals.
func (s *Session) Keystroke(text string) {
	s.pipeline.Keystroke(s.target(), text)
	s.publish(ViewUpdate{Kind: UpdateCompose, ConversationID: s.ActiveID()})
}

// DeleteMessage removes one of the user's messages once the backend confirms.
func (s *Session) DeleteMessage(ctx context.Context, messageID string) error {
	if err := s.backend.DeleteMessage(ctx, messageID); err != nil {
		s.fail(ctx, "Could not delete message", err)
		return fmt.Errorf("chat.DeleteMessage: %w", err)
	}
	if s.timeline.RemoveByID(messageID) {
		s.publish(ViewUpdate{Kind: UpdateTimeline, ConversationID: s.timeline.ConversationID()})
	}
	s.requestRefresh(ctx)
	return nil
}

// ToggleReaction asks the backend to flip the user's emoji and applies the
// returned list. The celebration burst fires before the backend answers.
func (s *Session) ToggleReaction(ctx context.Context, messageID, emoji string) error {
	if emoji == model.CelebrationEmoji {
		s.publish(ViewUpdate{Kind: UpdateCelebration, ConversationID: s.ActiveID(), Data: messageID})
	}
	reactions, err := s.backend.ToggleReaction(ctx, messageID, emoji)
	if err != nil {
		s.fail(ctx, "Could not react to message", err)
		return fmt.Errorf("chat.ToggleReaction: %w", err)
	}
	if s.timeline.ApplyReaction(messageID, reactions) {
		s.publish(ViewUpdate{Kind: UpdateTimeline, ConversationID: s.timeline.ConversationID()})
	}
	return nil
}

func (s *Session) TrashConversation(ctx context.Context, conversationID string) error {
	err := s.life.Trash(ctx, conversationID)
	s.publish(ViewUpdate{Kind: UpdateDirectory})
	return err
}

// Restore is also the action behind the trashed-chat notification.
func (s *Session) Restore(ctx context.Context, conversationID string) error {
	err := s.life.Restore(ctx, conversationID)
	s.publish(ViewUpdate{Kind: UpdateDirectory})
	return err
}

func (s *Session) Purge(ctx context.Context, conversationID string) error {
	err := s.life.Purge(ctx, conversationID)
	s.publish(ViewUpdate{Kind: UpdateDirectory})
	return err
}

// SweepExpired refetches the trash and closes views of purged conversations.
func (s *Session) SweepExpired(ctx context.Context) ([]string, error) {
	gone, err := s.life.SweepExpired(ctx)
	if err == nil {
		s.publish(ViewUpdate{Kind: UpdateDirectory})
	}
	return gone, err
}

func (s *Session) UpdateTheme(ctx context.Context, conversationID string, theme model.Theme) error {
	if _, err := s.backend.UpdateTheme(ctx, conversationID, theme); err != nil {
		s.fail(ctx, "Could not change theme", err)
		return fmt.Errorf("chat.UpdateTheme: %w", err)
	}
	s.applyTheme(conversationID, theme)
	return nil
}

func (s *Session) applyTheme(conversationID string, theme model.Theme) {
	patched := s.dir.PatchTheme(conversationID, theme)
	s.mu.Lock()
	if s.active != nil && s.active.ID == conversationID {
		s.active.Theme = theme
		patched = true
	}
	s.mu.Unlock()
	if patched {
		s.publish(ViewUpdate{Kind: UpdateTheme, ConversationID: conversationID, Data: theme})
	}
}

// Export downloads a conversation; unknown formats fail with api.ErrUnsupportedFormat.
func (s *Session) Export(ctx context.Context, conversationID, format string) (*api.ExportFile, error) {
	f, err := s.backend.Export(ctx, conversationID, format)
	if err != nil {
		if !errors.Is(err, api.ErrUnsupportedFormat) {
			s.fail(ctx, "Could not export chat", err)
		}
		return nil, fmt.Errorf("chat.Export: %w", err)
	}
	return f, nil
}

func (s *Session) UnreadCount(ctx context.Context) (int, error) {
	n, err := s.backend.UnreadCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("chat.UnreadCount: %w", err)
	}
	return n, nil
}

// Shutdown cancels the typing debounce.
func (s *Session) Shutdown() {
	s.pipeline.Close()
}

func (s *Session) fail(ctx context.Context, title string, err error) {
	s.notifier.Notify(ctx, notify.Error(title, api.UserMessage(err, "Please try again later")))
}
