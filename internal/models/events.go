package models

type EventType string

const (
	EventMessage             EventType = "message"
	EventMessageUpdated      EventType = "message_updated"
	EventMessageDeleted      EventType = "message_deleted"
	EventRead                EventType = "read"
	EventConversationDeleted EventType = "conversation_deleted"
)

// Event is a push notification about a change made by another session.
type Event struct {
	Type            EventType `json:"type"`
	ConversationID  int       `json:"conversation_id,omitempty"`
	MessageID       int       `json:"message_id,omitempty"`
	ClientMessageID string    `json:"client_message_id,omitempty"`
	Message         *Message  `json:"message,omitempty"`
}
