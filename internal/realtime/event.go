package realtime

import (
	"encoding/json"

	"github.com/messenger/chansync/internal/model"
)

type EventType string

const (
	EventNewMessage    EventType = "new_message"
	EventMessageRead   EventType = "message_read"
	EventChatCreated   EventType = "chat_created"
	EventChatUpdated   EventType = "chat_updated"
	EventMemberRemoved EventType = "member_removed"
	EventError         EventType = "error"
)

// Event is what the server pushes to the client. Payload is decoded per type.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessagePayload carries the message that becomes the channel's last message.
type NewMessagePayload struct {
	model.Message
	ChatID string `json:"chat_id"`
}

// MessageReadPayload is broadcast when a user reads a channel.
type MessageReadPayload struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

// ChatUpdatedPayload carries only the fields that changed.
type ChatUpdatedPayload struct {
	ChatID      string  `json:"chat_id"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// MemberRemovedPayload is broadcast when a member is removed or leaves.
type MemberRemovedPayload struct {
	ChatID  string `json:"chat_id"`
	UserID  string `json:"user_id"`
	IsLeave bool   `json:"is_leave"`
}
