package model

import (
	"strings"
	"time"
)

// TempIDPrefix marks ids generated on the client before the server confirms a send.
const TempIDPrefix = "tmp-"

// CelebrationEmoji triggers a decorative burst when someone reacts with it.
const CelebrationEmoji = "🎉"

// ReplyPreview is the denormalized snippet of the message being replied to.
type ReplyPreview struct {
	ID     string `json:"_id"`
	Sender *User  `json:"sender,omitempty"`
	Text   string `json:"text"`
}

type Message struct {
	ID              string        `json:"_id"`
	ClientMessageID string        `json:"clientMessageId,omitempty"`
	ConversationID  string        `json:"conversationId"`
	Text            string        `json:"text"`
	Sender          *User         `json:"sender"`
	Recipient       *User         `json:"recipient,omitempty"`
	ReplyTo         *ReplyPreview `json:"replyTo,omitempty"`
	MediaURL        string        `json:"mediaUrl,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	Reactions       []Reaction    `json:"reactions"`
	IsPending       bool          `json:"isPending,omitempty"`
}

func (m *Message) SenderID() string {
	if m.Sender == nil {
		return ""
	}
	return m.Sender.ID
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Reaction is one stored {emoji, user} pair.
type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"userId"`
}

// ReactionGroup is aggregated reaction info for display.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
	Mine  bool     `json:"mine"`
}

// GroupReactions folds the flat list into groups in first-seen order.
func GroupReactions(reactions []Reaction, selfID string) []ReactionGroup {
	groups := make([]ReactionGroup, 0, 4)
	index := make(map[string]int, 4)
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, ReactionGroup{Emoji: r.Emoji})
		}
		groups[i].Count++
		groups[i].Users = append(groups[i].Users, r.UserID)
		if r.UserID == selfID {
			groups[i].Mine = true
		}
	}
	return groups
}
