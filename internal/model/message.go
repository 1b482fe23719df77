package model

import "time"

type ContentType string

const (
	ContentTypeText   ContentType = "text"
	ContentTypeFile   ContentType = "file"
	ContentTypeSystem ContentType = "system"
)

// Message — последнее сообщение канала в том виде, в каком оно нужно списку каналов.
type Message struct {
	ID          string      `json:"id"`
	ChannelID   string      `json:"channel_id"`
	SenderID    string      `json:"sender_id"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
	Encrypted   bool        `json:"is_encrypted"`
	CreatedAt   time.Time   `json:"created_at"`
}
