// Package directory keeps the current user's active and trashed conversations.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blogchat/internal/logger"
	"github.com/blogchat/internal/metrics"
	"github.com/blogchat/internal/model"
	"github.com/blogchat/internal/presence"
	"github.com/blogchat/internal/storage"
)

// Backend is the part of the REST client the directory needs.
type Backend interface {
	ListActive(ctx context.Context) ([]*model.Conversation, error)
	ListTrashed(ctx context.Context) ([]*model.Conversation, error)
}

type Option func(*Directory)

// WithSnapshotStore caches every successful load for warm starts.
func WithSnapshotStore(store storage.SnapshotStore, ttl time.Duration) Option {
	return func(d *Directory) {
		d.store = store
		d.ttl = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

type trashEntry struct {
	Conversation *model.Conversation `json:"conversation"`
	DeletedAt    time.Time           `json:"deletedAt"`
}

type snapshot struct {
	SavedAt time.Time             `json:"savedAt"`
	Active  []*model.Conversation `json:"active"`
	Trashed []trashEntry          `json:"trashed"`
}

// Directory holds both partitions. Participants are stored as fetched and
// resolved through the presence tracker on every read.
type Directory struct {
	selfID   string
	backend  Backend
	presence *presence.Tracker
	store    storage.SnapshotStore
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	active  []*model.Conversation
	trashed []trashEntry
	loaded  time.Time
}

func New(selfID string, backend Backend, tracker *presence.Tracker, opts ...Option) *Directory {
	d := &Directory{
		selfID:   selfID,
		backend:  backend,
		presence: tracker,
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// LoadActive replaces the active partition. Conversations whose counterpart
// is gone or that are in the user's trash are dropped. On error the previous
// list stays.
func (d *Directory) LoadActive(ctx context.Context) error {
	defer logger.DeferLogDuration("directory.LoadActive", time.Now())()
	convs, err := d.backend.ListActive(ctx)
	metrics.IncDirectoryRefresh("active", err)
	if err != nil {
		return fmt.Errorf("directory.LoadActive: %w", err)
	}
	list := make([]*model.Conversation, 0, len(convs))
	seen := make(map[string]struct{}, len(convs))
	for _, c := range convs {
		if c == nil || c.Other(d.selfID).Missing() || c.TrashedBy(d.selfID) {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		list = append(list, c.Clone())
		d.presence.Seed(c.Participants...)
	}

	d.mu.Lock()
	d.active = list
	d.loaded = d.now()
	d.mu.Unlock()
	d.saveSnapshot(ctx)
	return nil
}

// LoadTrashed replaces the trash partition. Entries without a trash mark for
// the current user are stale and skipped.
func (d *Directory) LoadTrashed(ctx context.Context) error {
	defer logger.DeferLogDuration("directory.LoadTrashed", time.Now())()
	convs, err := d.backend.ListTrashed(ctx)
	metrics.IncDirectoryRefresh("trashed", err)
	if err != nil {
		return fmt.Errorf("directory.LoadTrashed: %w", err)
	}
	list := make([]trashEntry, 0, len(convs))
	for _, c := range convs {
		if c == nil {
			continue
		}
		mark, ok := c.DeletionFor(d.selfID)
		if !ok {
			logger.Debugf("directory: trashed conversation %s has no mark for %s", c.ID, d.selfID)
			continue
		}
		list = append(list, trashEntry{Conversation: c.Clone(), DeletedAt: mark.DeletedAt})
		d.presence.Seed(c.Participants...)
	}

	d.mu.Lock()
	d.trashed = list
	d.mu.Unlock()
	d.saveSnapshot(ctx)
	return nil
}

// Refresh refetches both partitions. Two rapid calls may both hit the backend;
// the result is the same.
func (d *Directory) Refresh(ctx context.Context) error {
	return errors.Join(d.LoadActive(ctx), d.LoadTrashed(ctx))
}

// Active returns the active partition with presence applied.
func (d *Directory) Active() []*model.Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*model.Conversation, len(d.active))
	for i, c := range d.active {
		out[i] = d.presence.ResolveConversation(c)
	}
	return out
}

// Trashed returns the trash partition with the countdown computed for now.
func (d *Directory) Trashed() []model.TrashedConversation {
	now := d.now()
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.TrashedConversation, len(d.trashed))
	for i, e := range d.trashed {
		out[i] = model.TrashedConversation{
			Conversation:      d.presence.ResolveConversation(e.Conversation),
			DeletedAt:         e.DeletedAt,
			DaysUntilDeletion: model.DaysUntilDeletion(e.DeletedAt, now),
		}
	}
	return out
}

// Get looks up an active conversation.
func (d *Directory) Get(id string) (*model.Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.active {
		if c.ID == id {
			return d.presence.ResolveConversation(c), true
		}
	}
	return nil, false
}

// IsTrashed reports whether id is in the trash partition.
func (d *Directory) IsTrashed(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.trashed {
		if e.Conversation.ID == id {
			return true
		}
	}
	return false
}

// PatchTheme updates the theme of a listed conversation in place.
func (d *Directory) PatchTheme(id string, theme model.Theme) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	patched := false
	for _, c := range d.active {
		if c.ID == id {
			c.Theme = theme
			patched = true
		}
	}
	for _, e := range d.trashed {
		if e.Conversation.ID == id {
			e.Conversation.Theme = theme
			patched = true
		}
	}
	return patched
}

// PurgeParticipant drops every conversation with userID from both partitions
// and returns the removed ids.
func (d *Directory) PurgeParticipant(userID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var removed []string
	active := d.active[:0]
	for _, c := range d.active {
		if c.HasParticipant(userID) {
			removed = append(removed, c.ID)
			continue
		}
		active = append(active, c)
	}
	d.active = active
	trashed := d.trashed[:0]
	for _, e := range d.trashed {
		if e.Conversation.HasParticipant(userID) {
			removed = append(removed, e.Conversation.ID)
			continue
		}
		trashed = append(trashed, e)
	}
	d.trashed = trashed
	return removed
}

// LoadedAt is when the active partition was last replaced.
func (d *Directory) LoadedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// WarmStart fills empty partitions from the snapshot store. A missing snapshot
// is not an error.
func (d *Directory) WarmStart(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	data, err := d.store.LoadSnapshot(ctx, storage.DirectoryKey(d.selfID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("directory.WarmStart: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("directory.WarmStart: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		d.active = snap.Active
		d.loaded = snap.SavedAt
		for _, c := range snap.Active {
			d.presence.Seed(c.Participants...)
		}
	}
	if d.trashed == nil {
		d.trashed = snap.Trashed
	}
	logger.Infof("directory: warm start from snapshot saved %s (%d active, %d trashed)",
		snap.SavedAt.Format(time.RFC3339), len(snap.Active), len(snap.Trashed))
	return nil
}

func (d *Directory) saveSnapshot(ctx context.Context) {
	if d.store == nil {
		return
	}
	d.mu.RLock()
	snap := snapshot{SavedAt: d.now(), Active: d.active, Trashed: d.trashed}
	data, err := json.Marshal(snap)
	d.mu.RUnlock()
	if err != nil {
		logger.Errorf("directory: encode snapshot: %v", err)
		return
	}
	if err := d.store.SaveSnapshot(ctx, storage.DirectoryKey(d.selfID), data, d.ttl); err != nil {
		logger.Errorf("directory: save snapshot: %v", err)
	}
}
