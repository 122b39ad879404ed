// Package outbound sends messages optimistically and emits typing signals
// while the user composes.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blogchat/internal/api"
	"github.com/blogchat/internal/logger"
	"github.com/blogchat/internal/metrics"
	"github.com/blogchat/internal/model"
	"github.com/blogchat/internal/notify"
	"github.com/blogchat/internal/timeline"
	"github.com/blogchat/internal/transport"
	"golang.org/x/time/rate"
)

var (
	ErrEmptyMessage         = errors.New("outbound: message is empty")
	ErrNoActiveConversation = errors.New("outbound: no conversation is open")
	ErrSendInFlight         = errors.New("outbound: a send is already in flight")
	ErrRecipientUnavailable = errors.New("outbound: recipient account no longer exists")
)

type Backend interface {
	SendMessage(ctx context.Context, req api.SendRequest) (*model.Message, error)
}

type Timeline interface {
	AppendOptimistic(d timeline.Draft) (string, error)
	Reconcile(tempID string, m *model.Message) bool
	Rollback(tempID string) bool
}

type Refresher interface {
	Refresh(ctx context.Context) error
}

// Options tune the pipeline. Zero values mean: 2s stop-typing debounce, no
// typing throttle, no send timeout, concurrent sends allowed.
type Options struct {
	TypingIdle     time.Duration
	TypingThrottle time.Duration
	// SendTimeout > 0 rolls a send back when the backend has not answered in
	// time. Zero keeps the message pending until the backend answers.
	SendTimeout time.Duration
	// SingleFlight rejects a send while another one is pending.
	SingleFlight bool
	// OnChange is called after the timeline or the compose state changed.
	OnChange func()
}

// Target is the conversation a send or keystroke belongs to, resolved by the
// session from the open view.
type Target struct {
	ConversationID string
	Self           *model.User
	Recipient      *model.User
	ReplyTo        *model.ReplyPreview
}

type Pipeline struct {
	backend  Backend
	timeline Timeline
	dir      Refresher
	emitter  transport.Emitter
	notifier notify.Notifier
	opts     Options
	limiter  *rate.Limiter

	mu       sync.Mutex
	inFlight int
	draft    string
	typing   typingState
}

// typingState is the stop-typing debounce handle owned by one pipeline.
type typingState struct {
	active         bool
	conversationID string
	recipientID    string
	timer          *time.Timer
	gen            uint64
}

func New(backend Backend, tl Timeline, dir Refresher, emitter transport.Emitter, notifier notify.Notifier, opts Options) *Pipeline {
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = 2 * time.Second
	}
	limit := rate.Inf
	if opts.TypingThrottle > 0 {
		limit = rate.Every(opts.TypingThrottle)
	}
	return &Pipeline{
		backend:  backend,
		timeline: tl,
		dir:      dir,
		emitter:  emitter,
		notifier: notifier,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Draft is the current compose text.
func (p *Pipeline) Draft() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draft
}

func (p *Pipeline) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Send inserts a pending copy, clears the compose text and waits for the
// backend. On failure the pending copy is removed and the text is not put back.
func (p *Pipeline) Send(ctx context.Context, t Target, text string) (*model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if t.ConversationID == "" {
		return nil, ErrNoActiveConversation
	}
	if t.Recipient.Missing() {
		return nil, ErrRecipientUnavailable
	}

	p.mu.Lock()
	if p.opts.SingleFlight && p.inFlight > 0 {
		p.mu.Unlock()
		return nil, ErrSendInFlight
	}
	tempID, err := p.timeline.AppendOptimistic(timeline.Draft{
		Text:      text,
		Sender:    t.Self,
		Recipient: t.Recipient,
		ReplyTo:   t.ReplyTo,
	})
	if err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("outbound.Send: %w", err)
	}
	p.inFlight++
	p.draft = ""
	p.stopTypingLocked(true)
	p.mu.Unlock()
	metrics.SendStarted()
	p.changed()

	req := api.SendRequest{
		ConversationID:  t.ConversationID,
		RecipientID:     t.Recipient.ID,
		Text:            text,
		ClientMessageID: tempID,
	}
	if t.ReplyTo != nil {
		req.ReplyTo = t.ReplyTo.ID
	}
	sendCtx := ctx
	if p.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, p.opts.SendTimeout)
		defer cancel()
	}

	msg, err := p.backend.SendMessage(sendCtx, req)

	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()

	if err != nil {
		p.timeline.Rollback(tempID)
		result := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
		}
		metrics.SendFinished(result)
		p.notifier.Notify(ctx, notify.Error("Message not sent", api.UserMessage(err, "Failed to send message")))
		p.changed()
		return nil, fmt.Errorf("outbound.Send: %w", err)
	}

	if msg.ConversationID == "" {
		msg.ConversationID = t.ConversationID
	}
	if msg.ClientMessageID == "" {
		msg.ClientMessageID = tempID
	}
	p.timeline.Reconcile(tempID, msg)
	metrics.SendFinished("ok")
	p.changed()
	if err := p.dir.Refresh(ctx); err != nil {
		logger.Errorf("outbound: refresh directory after send: %v", err)
	}
	return msg, nil
}

// Keystroke records the compose text and emits a typing signal, at most one
// per TypingThrottle. After TypingIdle without keystrokes a single
// stop_typing is emitted. Clearing the text stops typing right away.
func (p *Pipeline) Keystroke(t Target, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.draft = text

	if p.typing.active && p.typing.conversationID != t.ConversationID {
		p.stopTypingLocked(true)
	}
	if t.ConversationID == "" || t.Recipient.Missing() {
		return
	}
	if text == "" {
		p.stopTypingLocked(true)
		return
	}

	// a new burst always signals, even inside the throttle window
	signal := p.limiter.Allow() || !p.typing.active
	if signal {
		p.emit(transport.EventTyping, t.ConversationID, t.Recipient.ID)
	}
	p.typing.active = true
	p.typing.conversationID = t.ConversationID
	p.typing.recipientID = t.Recipient.ID

	if p.typing.timer != nil {
		p.typing.timer.Stop()
	}
	p.typing.gen++
	gen := p.typing.gen
	p.typing.timer = time.AfterFunc(p.opts.TypingIdle, func() { p.idle(gen) })
}

// Reset is called when the open conversation changes: the debounce is
// cancelled, stop_typing goes out if a burst was active, and the compose text
// is dropped.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.draft = ""
	p.stopTypingLocked(true)
	p.mu.Unlock()
}

// Close cancels the debounce without emitting.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.stopTypingLocked(false)
	p.mu.Unlock()
}

func (p *Pipeline) idle(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.typing.gen || !p.typing.active {
		return
	}
	p.typing.timer = nil
	p.stopTypingLocked(true)
}

func (p *Pipeline) stopTypingLocked(emit bool) {
	if p.typing.timer != nil {
		p.typing.timer.Stop()
		p.typing.timer = nil
	}
	p.typing.gen++
	if !p.typing.active {
		return
	}
	if emit {
		p.emit(transport.EventStopTyping, p.typing.conversationID, p.typing.recipientID)
	}
	p.typing = typingState{gen: p.typing.gen}
}

func (p *Pipeline) emit(t transport.EventType, conversationID, recipientID string) {
	if p.emitter == nil {
		return
	}
	if err := p.emitter.Emit(t, transport.TypingSignal{ConversationID: conversationID, RecipientID: recipientID}); err != nil {
		logger.Debugf("outbound: emit %s: %v", t, err)
	}
}

func (p *Pipeline) changed() {
	if p.opts.OnChange != nil {
		p.opts.OnChange()
	}
}
