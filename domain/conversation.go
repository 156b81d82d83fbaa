package domain

import (
	"slices"
	"time"
)

type ConversationID string

type ConversationType string

const (
	ConversationDM    ConversationType = "dm"
	ConversationParty ConversationType = "party"
)

type Conversation struct {
	ID        ConversationID   `json:"id"`
	Type      ConversationType `json:"type"`
	PartyID   PartyID          `json:"party_id,omitempty"`
	MemberIDs []UserID         `json:"member_ids"`
	CreatedAt time.Time        `json:"created_at"`
}

func (c *Conversation) IsMember(user UserID) bool {
	return slices.Contains(c.MemberIDs, user)
}

// Peer is the other participant of a dm.
func (c *Conversation) Peer(user UserID) UserID {
	for _, m := range c.MemberIDs {
		if m != user {
			return m
		}
	}
	return ""
}

// ReadCursor is the per member last read message id.
type ReadCursor struct {
	ConversationID ConversationID `json:"conversation_id"`
	UserID         UserID         `json:"user_id"`
	LastRead       MessageID      `json:"last_read"`
	JoinedAt       time.Time      `json:"joined_at"`
}

type ConversationSummary struct {
	Conversation Conversation `json:"conversation"`
	Title        string       `json:"title,omitempty"`
	LastMessage  *Message     `json:"last_message,omitempty"`
	UnreadCount  int          `json:"unread_count"`
}

func (s ConversationSummary) LastMessageID() MessageID {
	if s.LastMessage == nil {
		return 0
	}
	return s.LastMessage.ID
}
