package runtime

import "social-lab/domain"

type searchPayload struct {
	Query string `json:"query" validate:"max=256"`
}

type requestSendPayload struct {
	TargetUserID domain.UserID `json:"target_user_id" validate:"required"`
}

// requestAnswerPayload names a request either by id or by its other user.
type requestAnswerPayload struct {
	RequestID string        `json:"request_id" validate:"required_without=UserID"`
	UserID    domain.UserID `json:"user_id"`
}

type removePayload struct {
	FriendUserID domain.UserID `json:"friend_user_id" validate:"required"`
}

type blockPayload struct {
	UserID domain.UserID `json:"user_id" validate:"required"`
}

type presencePayload struct {
	Status domain.PresenceStatus `json:"status" validate:"required"`
}

type partyInvitePayload struct {
	PartyID       domain.PartyID `json:"party_id" validate:"required"`
	InviteeUserID domain.UserID  `json:"invitee_user_id" validate:"required"`
}

type inviteAnswerPayload struct {
	InviteID domain.InviteID `json:"invite_id" validate:"required"`
}

type partyLeavePayload struct {
	PartyID domain.PartyID `json:"party_id"`
}

type partyKickPayload struct {
	PartyID      domain.PartyID `json:"party_id" validate:"required"`
	MemberUserID domain.UserID  `json:"member_user_id" validate:"required"`
}

type partyTransferPayload struct {
	PartyID     domain.PartyID `json:"party_id" validate:"required"`
	NewLeaderID domain.UserID  `json:"new_leader_id" validate:"required"`
}

type chatListPayload struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
}

type chatOpenPayload struct {
	ConversationID domain.ConversationID `json:"conversation_id" validate:"required"`
	Limit          int                   `json:"limit" validate:"gte=0"`
}

type chatOpenDMPayload struct {
	FriendUserID domain.UserID `json:"friend_user_id" validate:"required"`
}

type chatSendPayload struct {
	ConversationID domain.ConversationID `json:"conversation_id" validate:"required"`
	Type           domain.MessageType    `json:"type" validate:"required"`
	BodyText       string                `json:"body_text"`
	Emoji          string                `json:"emoji"`
	ImageURL       string                `json:"image_url"`
}

type chatTypingPayload struct {
	ConversationID domain.ConversationID `json:"conversation_id" validate:"required"`
	IsTyping       bool                  `json:"is_typing"`
}

type chatReadPayload struct {
	ConversationID    domain.ConversationID `json:"conversation_id" validate:"required"`
	LastReadMessageID *domain.MessageID     `json:"last_read_message_id"`
}

type chatHistoryPayload struct {
	ConversationID  domain.ConversationID `json:"conversation_id" validate:"required"`
	BeforeMessageID domain.MessageID      `json:"before_message_id" validate:"required"`
	Limit           int                   `json:"limit" validate:"gte=0"`
}
