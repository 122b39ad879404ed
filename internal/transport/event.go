package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/blogchat/internal/model"
)

type EventType string

// Events pushed by the realtime server.
const (
	EventNewMessage           EventType = "new_message"
	EventMessageDeleted       EventType = "message_deleted"
	EventMessageReaction      EventType = "message_reaction"
	EventUserTyping           EventType = "user_typing"
	EventUserStopTyping       EventType = "user_stop_typing"
	EventUserOnline           EventType = "user_online"
	EventUserOffline          EventType = "user_offline"
	EventConversationTrashed  EventType = "conversation_moved_to_trash"
	EventConversationRestored EventType = "conversation_restored"
	EventMessageInTrashedChat EventType = "message_in_trashed_chat"
	EventConversationThemeSet EventType = "conversation_theme_updated"
	EventUserDeleted          EventType = "user_deleted"
)

// Events emitted by the client.
const (
	EventJoin       EventType = "join"
	EventTyping     EventType = "typing"
	EventStopTyping EventType = "stop_typing"
)

// Event is one frame received from the server. Payload is decoded lazily by
// the dispatcher, which knows the shape for each type.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("transport: %s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("transport: %s: %w", e.Type, err)
	}
	return nil
}

// NewEvent builds an Event from a typed payload. Used by fake servers in tests
// and by chatctl to replay events.
func NewEvent(t EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Payload: raw}, nil
}

// Outgoing is one frame sent to the server.
type Outgoing struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// --- payloads ---

type JoinPayload struct {
	UserID string `json:"userId"`
}

// TypingSignal is emitted while the local user composes.
type TypingSignal struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId"`
}

// TypingPayload is received when the counterpart starts or stops typing.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type MessageDeletedPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
}

// ReactionPayload carries the authoritative reaction list after a toggle.
type ReactionPayload struct {
	MessageID      string           `json:"messageId"`
	ConversationID string           `json:"conversationId,omitempty"`
	Reactions      []model.Reaction `json:"reactions"`
	Emoji          string           `json:"emoji"`
}

type PresencePayload struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type TrashedChatMessagePayload struct {
	ConversationID string      `json:"conversationId"`
	Sender         *model.User `json:"sender"`
	Text           string      `json:"text"`
}

type ThemePayload struct {
	ConversationID string      `json:"conversationId"`
	Theme          model.Theme `json:"theme"`
}

type UserDeletedPayload struct {
	UserID string `json:"userId"`
}
