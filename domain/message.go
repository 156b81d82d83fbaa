package domain

import (
	"strings"
	"time"
)

const (
	MessageMaxLength    = 1200
	DefaultOpenLimit    = 40
	DefaultHistoryLimit = 30
	MaxPageSize         = 60
)

// MessageID is allocated from a global monotonic sequence and used as the pagination cursor.
type MessageID uint64

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageEmoji MessageType = "emoji"
	MessageImage MessageType = "image"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageEmoji, MessageImage:
		return true
	}
	return false
}

// Message represents an immutable chat event.
type Message struct {
	ID             MessageID      `json:"id"`
	ConversationID ConversationID `json:"conversation_id"`
	SenderID       UserID         `json:"sender_id"`
	Type           MessageType    `json:"type"`
	BodyText       string         `json:"body_text,omitempty"`
	ImageURL       string         `json:"image_url,omitempty"`
	Lang           string         `json:"lang,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// MessageDraft is what a sender submits before validation.
type MessageDraft struct {
	Type     MessageType
	BodyText string
	Emoji    string
	ImageURL string
}

// Body returns the trimmed text of a draft, falling back to the emoji code.
func (d MessageDraft) Body() string {
	body := strings.TrimSpace(d.BodyText)
	if body == "" {
		body = strings.TrimSpace(d.Emoji)
	}
	return body
}

// ClampLimit applies the default page size and the hard maximum.
func ClampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
