// Package timeline holds the ordered messages of the open conversation.
package timeline

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/blogchat/internal/model"
	"github.com/google/uuid"
)

var ErrNoConversation = errors.New("timeline: no conversation loaded")

// Draft is what the outbound pipeline inserts before the server answers.
type Draft struct {
	Text      string
	Sender    *model.User
	Recipient *model.User
	ReplyTo   *model.ReplyPreview
}

// Row is one rendered line of a window: the message and whether a day
// separator goes above it.
type Row struct {
	Message   *model.Message        `json:"message"`
	Separator bool                  `json:"separator"`
	Day       string                `json:"day,omitempty"`
	Reactions []model.ReactionGroup `json:"reactions"`
}

type Option func(*Timeline)

// WithClock sets the clock used for optimistic createdAt.
func WithClock(now func() time.Time) Option {
	return func(t *Timeline) { t.now = now }
}

// WithLocation sets the zone in which calendar days are compared.
func WithLocation(loc *time.Location) Option {
	return func(t *Timeline) { t.loc = loc }
}

// Timeline is ordered by createdAt ascending, newest last.
type Timeline struct {
	mu             sync.RWMutex
	selfID         string
	conversationID string
	messages       []*model.Message
	now            func() time.Time
	loc            *time.Location
}

func New(selfID string, opts ...Option) *Timeline {
	t := &Timeline{selfID: selfID, now: time.Now, loc: time.Local}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Load replaces the list for conversationID. Pending sends of the previous
// view are discarded.
func (t *Timeline) Load(conversationID string, msgs []*model.Message) {
	list := make([]*model.Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		list = append(list, copyMessage(m))
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })

	t.mu.Lock()
	t.conversationID = conversationID
	t.messages = list
	t.mu.Unlock()
}

// Merge applies a fetched history to a timeline that may already hold sends
// and pushed messages from while the fetch was in flight. Entries the
// history lacks, by id or clientMessageId, are kept. It reports false when
// the timeline has moved on to another conversation.
func (t *Timeline) Merge(conversationID string, msgs []*model.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conversationID != conversationID {
		return false
	}
	list := make([]*model.Message, 0, len(msgs)+len(t.messages))
	known := make(map[string]struct{}, 2*len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if _, dup := known[m.ID]; dup {
			continue
		}
		known[m.ID] = struct{}{}
		if m.ClientMessageID != "" {
			known[m.ClientMessageID] = struct{}{}
		}
		list = append(list, copyMessage(m))
	}
	for _, m := range t.messages {
		if _, ok := known[m.ID]; ok {
			continue
		}
		if _, ok := known[m.ClientMessageID]; ok && m.ClientMessageID != "" {
			continue
		}
		list = append(list, m)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	t.messages = list
	return true
}

// Reset empties the timeline when the view is closed.
func (t *Timeline) Reset() {
	t.mu.Lock()
	t.conversationID = ""
	t.messages = nil
	t.mu.Unlock()
}

func (t *Timeline) ConversationID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conversationID
}

// AppendIncoming applies a server-pushed message. It reports false when the
// message belongs to another conversation or is already present. An echo of
// our own send (matching clientMessageId) replaces the pending entry.
func (t *Timeline) AppendIncoming(m *model.Message) bool {
	if m == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conversationID == "" || m.ConversationID != t.conversationID {
		return false
	}
	if t.indexLocked(m.ID) >= 0 {
		return false
	}
	if m.ClientMessageID != "" {
		if i := t.indexLocked(m.ClientMessageID); i >= 0 {
			t.messages[i] = confirmed(m)
			return true
		}
	}
	t.insertLocked(copyMessage(m))
	return true
}

// AppendOptimistic inserts a pending copy stamped with the local clock and
// returns its temp id.
func (t *Timeline) AppendOptimistic(d Draft) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conversationID == "" {
		return "", ErrNoConversation
	}
	id := model.TempIDPrefix + uuid.NewString()
	t.messages = append(t.messages, &model.Message{
		ID:              id,
		ClientMessageID: id,
		ConversationID:  t.conversationID,
		Text:            d.Text,
		Sender:          d.Sender,
		Recipient:       d.Recipient,
		ReplyTo:         d.ReplyTo,
		CreatedAt:       t.now(),
		Reactions:       []model.Reaction{},
		IsPending:       true,
	})
	return id, nil
}

// Reconcile swaps the pending entry for the confirmed one, keeping its
// position. If the confirmed id is already present (the echo won the race),
// the pending entry is dropped instead.
func (t *Timeline) Reconcile(tempID string, m *model.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexLocked(tempID)
	if i < 0 || m == nil {
		return false
	}
	if t.indexLocked(m.ID) >= 0 {
		t.removeAtLocked(i)
		return true
	}
	t.messages[i] = confirmed(m)
	return true
}

// Rollback removes the pending entry after a failed send.
func (t *Timeline) Rollback(tempID string) bool {
	return t.RemoveByID(tempID)
}

func (t *Timeline) RemoveByID(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexLocked(id)
	if i < 0 {
		return false
	}
	t.removeAtLocked(i)
	return true
}

// ApplyReaction replaces the reaction list of messageID with the server's.
func (t *Timeline) ApplyReaction(messageID string, reactions []model.Reaction) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexLocked(messageID)
	if i < 0 {
		return false
	}
	m := *t.messages[i]
	m.Reactions = append(make([]model.Reaction, 0, len(reactions)), reactions...)
	t.messages[i] = &m
	return true
}

func (t *Timeline) Get(id string) (*model.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := t.indexLocked(id)
	if i < 0 {
		return nil, false
	}
	return copyMessage(t.messages[i]), true
}

// Messages returns a copy of the full list.
func (t *Timeline) Messages() []*model.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*model.Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = copyMessage(m)
	}
	return out
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Pending returns the temp ids still waiting for confirmation.
func (t *Timeline) Pending() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []string
	for _, m := range t.messages {
		if m.IsPending {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Window returns up to limit rows starting at offset. Separators are decided
// against the message just before each row in the full list, so a window
// renders the same as the whole timeline would.
func (t *Timeline) Window(offset, limit int) []Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(t.messages) || limit <= 0 {
		return []Row{}
	}
	end := min(offset+limit, len(t.messages))
	rows := make([]Row, 0, end-offset)
	for i := offset; i < end; i++ {
		m := t.messages[i]
		var prev *model.Message
		if i > 0 {
			prev = t.messages[i-1]
		}
		row := Row{
			Message:   copyMessage(m),
			Reactions: model.GroupReactions(m.Reactions, t.selfID),
		}
		if prev == nil || NewDay(prev.CreatedAt, m.CreatedAt, t.loc) {
			row.Separator = true
			row.Day = m.CreatedAt.In(t.loc).Format(time.DateOnly)
		}
		rows = append(rows, row)
	}
	return rows
}

// Groups is the reaction aggregate of one message for the current user.
func (t *Timeline) Groups(m *model.Message) []model.ReactionGroup {
	return model.GroupReactions(m.Reactions, t.selfID)
}

// NewDay reports whether cur falls on a different calendar day than prev in loc.
func NewDay(prev, cur time.Time, loc *time.Location) bool {
	py, pm, pd := prev.In(loc).Date()
	cy, cm, cd := cur.In(loc).Date()
	return py != cy || pm != cm || pd != cd
}

func (t *Timeline) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// insertLocked keeps createdAt order; equal timestamps go after existing ones.
func (t *Timeline) insertLocked(m *model.Message) {
	i := sort.Search(len(t.messages), func(i int) bool {
		return t.messages[i].CreatedAt.After(m.CreatedAt)
	})
	t.messages = append(t.messages, nil)
	copy(t.messages[i+1:], t.messages[i:])
	t.messages[i] = m
}

func (t *Timeline) removeAtLocked(i int) {
	t.messages = append(t.messages[:i], t.messages[i+1:]...)
}

func confirmed(m *model.Message) *model.Message {
	cp := copyMessage(m)
	cp.IsPending = false
	return cp
}

func copyMessage(m *model.Message) *model.Message {
	cp := *m
	cp.Reactions = append(make([]model.Reaction, 0, len(m.Reactions)), m.Reactions...)
	return &cp
}
