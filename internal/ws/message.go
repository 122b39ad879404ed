package ws

import "encoding/json"

type EventType string

// Frames pushed to browser tabs.
const (
	EventUpdate       EventType = "update"
	EventNotification EventType = "notification"
	EventError        EventType = "error"
)

// Frames accepted from browser tabs.
const (
	EventCompose EventType = "compose"
	EventSelect  EventType = "select"
	EventClose   EventType = "close"
)

// IncomingMessage is what a tab sends. Compose is high-frequency, so it goes
// over the socket instead of the REST routes.
type IncomingMessage struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	Text           string    `json:"text,omitempty"`
}

// OutgoingMessage is what the hub sends.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

func decodeIncoming(raw []byte) (IncomingMessage, error) {
	var msg IncomingMessage
	err := json.Unmarshal(raw, &msg)
	return msg, err
}
