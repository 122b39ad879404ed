package model

import (
	"strings"
	"time"
)

// RetentionPeriod is how long a trashed conversation is kept before the server purges it.
const RetentionPeriod = 7 * 24 * time.Hour

const customThemePrefix = "custom:"

// Theme is either a named preset ("default", "ocean", ...) or "custom:<hex-color>".
type Theme string

func CustomTheme(hex string) Theme {
	return Theme(customThemePrefix + strings.TrimPrefix(hex, "#"))
}

func (t Theme) IsCustom() bool {
	return strings.HasPrefix(string(t), customThemePrefix)
}

// Color returns the hex color of a custom theme, "" for presets.
func (t Theme) Color() string {
	if !t.IsCustom() {
		return ""
	}
	return "#" + strings.TrimPrefix(string(t), customThemePrefix)
}

// DeletionMark records that one participant moved the conversation to trash.
type DeletionMark struct {
	User      string    `json:"user"`
	DeletedAt time.Time `json:"deletedAt"`
}

// LastMessage is the summary shown in the conversation list.
type LastMessage struct {
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is a direct-message thread between exactly two users.
type Conversation struct {
	ID           string         `json:"_id"`
	Participants []*User        `json:"participants"`
	LastMessage  *LastMessage   `json:"lastMessage,omitempty"`
	Theme        Theme          `json:"theme,omitempty"`
	IsDeleted    []DeletionMark `json:"isDeleted,omitempty"`
	UpdatedAt    time.Time      `json:"updatedAt,omitempty"`
}

// Other returns the participant that is not selfID. It returns nil when the
// counterpart reference is absent.
func (c *Conversation) Other(selfID string) *User {
	for _, p := range c.Participants {
		if p != nil && p.ID != selfID {
			return p
		}
	}
	return nil
}

// OtherID returns the id of the counterpart even when its profile is gone.
func (c *Conversation) OtherID(selfID string) string {
	if o := c.Other(selfID); o != nil {
		return o.ID
	}
	return ""
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p != nil && p.ID == userID {
			return true
		}
	}
	return false
}

// DeletionFor returns the trash mark of userID, if any.
func (c *Conversation) DeletionFor(userID string) (DeletionMark, bool) {
	for _, d := range c.IsDeleted {
		if d.User == userID {
			return d, true
		}
	}
	return DeletionMark{}, false
}

// TrashedBy reports whether the conversation is in userID's trash.
func (c *Conversation) TrashedBy(userID string) bool {
	_, ok := c.DeletionFor(userID)
	return ok
}

// MarkDeleted puts the conversation into userID's trash. A second call for the
// same user keeps the original mark.
func (c *Conversation) MarkDeleted(userID string, at time.Time) {
	if c.TrashedBy(userID) {
		return
	}
	c.IsDeleted = append(c.IsDeleted, DeletionMark{User: userID, DeletedAt: at})
}

// Unmark removes userID's trash mark.
func (c *Conversation) Unmark(userID string) {
	kept := c.IsDeleted[:0]
	for _, d := range c.IsDeleted {
		if d.User != userID {
			kept = append(kept, d)
		}
	}
	c.IsDeleted = kept
}

// Clone returns a copy that shares no slices or user pointers with c.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Participants = make([]*User, len(c.Participants))
	for i, p := range c.Participants {
		if p != nil {
			u := *p
			cp.Participants[i] = &u
		}
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	cp.IsDeleted = append([]DeletionMark(nil), c.IsDeleted...)
	return &cp
}

// TrashedConversation is an entry of the trash partition.
type TrashedConversation struct {
	Conversation      *Conversation `json:"conversation"`
	DeletedAt         time.Time     `json:"deletedAt"`
	DaysUntilDeletion int           `json:"daysUntilDeletion"`
}

// PurgeAt is when the server removes the conversation for good.
func (t TrashedConversation) PurgeAt() time.Time {
	return t.DeletedAt.Add(RetentionPeriod)
}

// DaysUntilDeletion is max(0, 7 - floor((now - deletedAt) / 1 day)).
func DaysUntilDeletion(deletedAt, now time.Time) int {
	const day = 24 * time.Hour
	total := int(RetentionPeriod / day)
	elapsed := int(now.Sub(deletedAt) / day)
	if now.Before(deletedAt) {
		elapsed = 0
	}
	left := total - elapsed
	if left < 0 {
		return 0
	}
	return left
}
