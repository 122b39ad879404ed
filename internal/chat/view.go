package chat

import (
	"time"

	"github.com/blogchat/internal/model"
	"github.com/blogchat/internal/presence"
)

type UpdateKind string

const (
	UpdateDirectory          UpdateKind = "directory"
	UpdateTimeline           UpdateKind = "timeline"
	UpdateTyping             UpdateKind = "typing"
	UpdatePresence           UpdateKind = "presence"
	UpdateTheme              UpdateKind = "theme"
	UpdateConversationOpened UpdateKind = "conversation_opened"
	UpdateConversationClosed UpdateKind = "conversation_closed"
	UpdateCelebration        UpdateKind = "celebration"
	UpdateCompose            UpdateKind = "compose"
)

// ViewUpdate tells renderers which part of the state changed. They pull the
// new state through the session accessors.
type ViewUpdate struct {
	Kind           UpdateKind `json:"kind"`
	ConversationID string     `json:"conversationId,omitempty"`
	Data           any        `json:"data,omitempty"`
}

// Peer is the counterpart of the open conversation as rendered in the header.
type Peer struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Image    string    `json:"profileImage,omitempty"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
	Status   string    `json:"status"`
	Deleted  bool      `json:"deleted"`
}

// State is a snapshot of the open view.
type State struct {
	Active   *model.Conversation `json:"active"`
	Peer     *Peer               `json:"peer,omitempty"`
	Typing   []string            `json:"typing"`
	CanSend  bool                `json:"canSend"`
	Draft    string              `json:"draft"`
	Messages int                 `json:"messages"`
	Pending  int                 `json:"pending"`
}

func peerOf(u *model.User, now time.Time) *Peer {
	if u.Missing() {
		p := &Peer{Name: model.DeletedUserName, Deleted: true}
		if u != nil {
			p.ID = u.ID
		}
		return p
	}
	return &Peer{
		ID:       u.ID,
		Name:     u.Name(),
		Image:    u.ProfileImage,
		IsOnline: u.IsOnline,
		LastSeen: u.LastSeen,
		Status:   presence.Label(u, now),
	}
}

func (s *Session) publish(u ViewUpdate) {
	if s.onUpdate != nil {
		s.onUpdate(u)
	}
}
