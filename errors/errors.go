package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is the code reported to clients in social_error events.
type Kind string

const (
	KindPermissionDenied Kind = "permission_denied"
	KindNotFound         Kind = "not_found"
	KindRateLimited      Kind = "rate_limited"
	KindValidation       Kind = "validation_error"
	KindInvalidState     Kind = "invalid_state"
	KindUnavailable      Kind = "unavailable"
	KindInternal         Kind = "internal"
)

const internalMessage = "internal error"

// AppError is a business or infrastructure failure carrying a client facing kind.
// Sentinels below are compared with errors.Is, details are added with fmt.Errorf("%w").
type AppError struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message, Retryable: kind == KindUnavailable}
}

// Wrap attaches a cause to a fresh AppError of the same kind and message as base,
// keeping errors.Is(err, base) true.
func Wrap(base *AppError, cause error) error {
	return fmt.Errorf("%w: %w", base, cause)
}

// KindOf returns the kind of the first AppError in the chain, internal otherwise.
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func IsRetryable(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// PublicMessage never leaks internal details to the client.
func PublicMessage(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr.Kind != KindInternal {
		return appErr.Message
	}
	return internalMessage
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

var (
	ErrWorkerPanic       = fmt.Errorf("worker panic")
	ErrOnlyCensoredFiles = fmt.Errorf("censored directory contains directories")
	ErrEmptyWords        = fmt.Errorf("no words have been found")
	ErrSendQueueFull     = fmt.Errorf("connection send queue is full")
	ErrConnectionClosed  = fmt.Errorf("connection is closed")
	ErrMissingToken      = fmt.Errorf("missing authentication token")
	ErrInvalidToken      = fmt.Errorf("invalid or expired token")
	ErrOriginNotAllowed  = fmt.Errorf("origin not allowed")
)

// Store
var (
	ErrKeyNotFound      = New(KindNotFound, "record not found")
	ErrStoreTimeout     = New(KindUnavailable, "storage timed out, please retry")
	ErrStoreUnavailable = New(KindUnavailable, "storage unavailable, please retry")
	ErrLockTimeout      = New(KindUnavailable, "resource busy, please retry")
	ErrInternal         = New(KindInternal, internalMessage)
)

// Router
var (
	ErrRateLimited    = New(KindRateLimited, "too many requests, slow down")
	ErrUnknownEvent   = New(KindValidation, "unknown event")
	ErrInvalidPayload = New(KindValidation, "invalid payload")
)

// Friends
var (
	ErrSelfRequest          = New(KindValidation, "you cannot add yourself")
	ErrSelfBlock            = New(KindValidation, "you cannot block yourself")
	ErrUserNotFound         = New(KindNotFound, "user not found")
	ErrAlreadyFriends       = New(KindInvalidState, "already friends")
	ErrRequestAlreadySent   = New(KindInvalidState, "friend request already pending")
	ErrRelationshipBlocked  = New(KindPermissionDenied, "relationship is blocked")
	ErrRequestNotFound      = New(KindNotFound, "friend request not found")
	ErrNotRequestRecipient  = New(KindPermissionDenied, "only the recipient can answer this request")
	ErrNotFriends           = New(KindNotFound, "you are not friends")
	ErrFriendshipRequired   = New(KindPermissionDenied, "you can only do this with friends")
	ErrInvalidPresence      = New(KindValidation, "invalid presence status")
	ErrInvalidActivity      = New(KindValidation, "invalid activity")
	ErrMissingRequestTarget = New(KindValidation, "request_id or user_id is required")
)

// Parties
var (
	ErrPartyNotFound      = New(KindNotFound, "party not found")
	ErrNotInParty         = New(KindNotFound, "you are not in a party")
	ErrNotPartyMember     = New(KindPermissionDenied, "you are not a member of this party")
	ErrNotPartyLeader     = New(KindPermissionDenied, "only the party leader can do this")
	ErrAlreadyPartyMember = New(KindInvalidState, "user is already in this party")
	ErrInvitePending      = New(KindInvalidState, "an invite is already pending for this user")
	ErrInviteNotFound     = New(KindNotFound, "invite not found")
	ErrNotInvitee         = New(KindPermissionDenied, "this invite is not for you")
	ErrInviteStale        = New(KindInvalidState, "invite is no longer valid")
	ErrInAnotherParty     = New(KindInvalidState, "leave your current party first")
	ErrCannotKickSelf     = New(KindInvalidState, "you cannot kick yourself")
	ErrMemberNotFound     = New(KindNotFound, "member not found")
)

// Chat
var (
	ErrConversationNotFound  = New(KindNotFound, "conversation not found")
	ErrNotConversationMember = New(KindPermissionDenied, "you are not a member of this conversation")
	ErrInvalidMessageType    = New(KindValidation, "invalid message type")
	ErrEmptyMessage          = New(KindValidation, "message is empty")
	ErrMessageTooLong        = New(KindValidation, "message is too long")
	ErrInvalidImage          = New(KindValidation, "image is not valid")
)
