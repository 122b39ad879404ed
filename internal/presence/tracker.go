// Package presence keeps one online/offline record per user and the set of
// users typing in the open conversation. Every view that shows a participant
// reads presence through Resolve, so a single event updates all of them.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/blogchat/internal/model"
	"github.com/dustin/go-humanize"
)

type Tracker struct {
	mu     sync.RWMutex
	table  map[string]model.Presence
	typing map[string]struct{}
	openID string
}

func NewTracker() *Tracker {
	return &Tracker{
		table:  make(map[string]model.Presence),
		typing: make(map[string]struct{}),
	}
}

// Seed records the presence carried by freshly fetched participant data.
func (t *Tracker) Seed(users ...*model.User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range users {
		if u == nil || u.ID == "" {
			continue
		}
		t.table[u.ID] = model.Presence{UserID: u.ID, IsOnline: u.IsOnline, LastSeen: u.LastSeen}
	}
}

func (t *Tracker) MarkOnline(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.table[userID]
	p.UserID = userID
	p.IsOnline = true
	t.table[userID] = p
}

// MarkOffline stores lastSeen; a zero lastSeen keeps the previous value.
func (t *Tracker) MarkOffline(userID string, lastSeen time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.table[userID]
	p.UserID = userID
	p.IsOnline = false
	if !lastSeen.IsZero() {
		p.LastSeen = lastSeen
	}
	t.table[userID] = p
}

// Forget drops everything known about a deleted account.
func (t *Tracker) Forget(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.table, userID)
	delete(t.typing, userID)
}

func (t *Tracker) Get(userID string) (model.Presence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.table[userID]
	return p, ok
}

// Resolve returns a copy of u with the tracked presence applied. Unknown users
// keep the fetched values.
func (t *Tracker) Resolve(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	cp := *u
	t.mu.RLock()
	p, ok := t.table[u.ID]
	t.mu.RUnlock()
	if ok {
		cp.IsOnline = p.IsOnline
		cp.LastSeen = p.LastSeen
	}
	return &cp
}

// ResolveConversation returns a clone of c whose participants read through the table.
func (t *Tracker) ResolveConversation(c *model.Conversation) *model.Conversation {
	cp := c.Clone()
	if cp == nil {
		return nil
	}
	for i, p := range cp.Participants {
		cp.Participants[i] = t.Resolve(p)
	}
	return cp
}

// SetOpenConversation scopes the typing set. Switching conversations clears it.
func (t *Tracker) SetOpenConversation(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openID == conversationID {
		return
	}
	t.openID = conversationID
	clear(t.typing)
}

// StartTyping adds userID when conversationID is the open one and reports
// whether the set changed.
func (t *Tracker) StartTyping(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openID == "" || conversationID != t.openID {
		return false
	}
	if _, ok := t.typing[userID]; ok {
		return false
	}
	t.typing[userID] = struct{}{}
	return true
}

func (t *Tracker) StopTyping(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openID == "" || conversationID != t.openID {
		return false
	}
	if _, ok := t.typing[userID]; !ok {
		return false
	}
	delete(t.typing, userID)
	return true
}

func (t *Tracker) IsTyping(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.typing[userID]
	return ok
}

// Typing returns the ids typing in the open conversation, sorted.
func (t *Tracker) Typing() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.typing))
	for id := range t.typing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Label renders "online", "last seen 3 minutes ago" or "offline".
func Label(u *model.User, now time.Time) string {
	switch {
	case u.Missing():
		return ""
	case u.IsOnline:
		return "online"
	case u.LastSeen.IsZero():
		return "offline"
	default:
		return "last seen " + humanize.RelTime(u.LastSeen, now, "ago", "from now")
	}
}
