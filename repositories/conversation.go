package repositories

import (
	"fmt"
	"social-lab/contract"
	"social-lab/domain"
	"social-lab/errors"
	"strings"
	"time"
)

// ConversationRepository persists conversations and their members.
//   - "conv:{id}" holds the conversation
//   - "dm:{low}:{high}" resolves a friend pair to its dm conversation
//   - "cmember:{conv}:{user}" holds the member read cursor
//   - "convof:{user}:{conv}" lists the conversations of a user
type ConversationRepository struct{}

func NewConversationRepository() ConversationRepository {
	return ConversationRepository{}
}

func conversationKey(id domain.ConversationID) string {
	return "conv:" + string(id)
}

func dmKey(a, b domain.UserID) string {
	low, high := domain.Pair(a, b)
	return fmt.Sprintf("dm:%s:%s", low, high)
}

func cursorKey(conv domain.ConversationID, user domain.UserID) string {
	return fmt.Sprintf("cmember:%s:%s", conv, user)
}

func conversationOfKey(user domain.UserID, conv domain.ConversationID) string {
	return fmt.Sprintf("convof:%s:%s", user, conv)
}

func (ConversationRepository) Get(tx contract.Txn, id domain.ConversationID) (domain.Conversation, error) {
	var conv domain.Conversation
	err := tx.Get(conversationKey(id), &conv)
	if errors.Is(err, errors.ErrKeyNotFound) {
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	return conv, err
}

// Create stores a new conversation with a fresh cursor for each member.
func (r ConversationRepository) Create(tx contract.Txn, conv domain.Conversation) error {
	if err := tx.Set(conversationKey(conv.ID), conv); err != nil {
		return err
	}
	if conv.Type == domain.ConversationDM && len(conv.MemberIDs) == 2 {
		if err := tx.Set(dmKey(conv.MemberIDs[0], conv.MemberIDs[1]), conv.ID); err != nil {
			return err
		}
	}
	for _, member := range conv.MemberIDs {
		if err := r.indexMember(tx, conv.ID, member, conv.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

// AddMember is a no-op for current members.
func (r ConversationRepository) AddMember(tx contract.Txn, conv *domain.Conversation, user domain.UserID, at time.Time) error {
	if conv.IsMember(user) {
		return nil
	}
	conv.MemberIDs = append(conv.MemberIDs, user)
	if err := tx.Set(conversationKey(conv.ID), conv); err != nil {
		return err
	}
	return r.indexMember(tx, conv.ID, user, at)
}

func (ConversationRepository) RemoveMember(tx contract.Txn, conv *domain.Conversation, user domain.UserID) error {
	members := make([]domain.UserID, 0, len(conv.MemberIDs))
	for _, m := range conv.MemberIDs {
		if m != user {
			members = append(members, m)
		}
	}
	conv.MemberIDs = members
	if err := tx.Set(conversationKey(conv.ID), conv); err != nil {
		return err
	}
	if err := tx.Delete(cursorKey(conv.ID, user)); err != nil {
		return err
	}
	return tx.Delete(conversationOfKey(user, conv.ID))
}

func (ConversationRepository) indexMember(tx contract.Txn, conv domain.ConversationID, user domain.UserID, at time.Time) error {
	cursor := domain.ReadCursor{ConversationID: conv, UserID: user, JoinedAt: at}
	if err := tx.Set(cursorKey(conv, user), cursor); err != nil {
		return err
	}
	return tx.Set(conversationOfKey(user, conv), conv)
}

// Delete removes the conversation, its indexes and cursors. Messages are removed by the message repository.
func (r ConversationRepository) Delete(tx contract.Txn, conv domain.Conversation) error {
	for _, member := range conv.MemberIDs {
		if err := tx.Delete(cursorKey(conv.ID, member)); err != nil {
			return err
		}
		if err := tx.Delete(conversationOfKey(member, conv.ID)); err != nil {
			return err
		}
	}
	if conv.Type == domain.ConversationDM && len(conv.MemberIDs) == 2 {
		if err := tx.Delete(dmKey(conv.MemberIDs[0], conv.MemberIDs[1])); err != nil {
			return err
		}
	}
	return tx.Delete(conversationKey(conv.ID))
}

// DMBetween returns the dm conversation id of a pair, if one was ever opened.
func (ConversationRepository) DMBetween(tx contract.Txn, a, b domain.UserID) (domain.ConversationID, bool, error) {
	var id domain.ConversationID
	err := tx.Get(dmKey(a, b), &id)
	if errors.Is(err, errors.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (ConversationRepository) ListFor(tx contract.Txn, user domain.UserID) ([]domain.ConversationID, error) {
	prefix := fmt.Sprintf("convof:%s:", user)
	var ids []domain.ConversationID
	err := tx.Scan(contract.ScanOptions{Prefix: prefix}, func(key string, _ contract.Decoder) (bool, error) {
		ids = append(ids, domain.ConversationID(strings.TrimPrefix(key, prefix)))
		return true, nil
	})
	return ids, err
}

func (ConversationRepository) Cursor(tx contract.Txn, conv domain.ConversationID, user domain.UserID) (domain.ReadCursor, error) {
	var cursor domain.ReadCursor
	err := tx.Get(cursorKey(conv, user), &cursor)
	if errors.Is(err, errors.ErrKeyNotFound) {
		return domain.ReadCursor{}, errors.ErrNotConversationMember
	}
	return cursor, err
}

func (ConversationRepository) SaveCursor(tx contract.Txn, cursor domain.ReadCursor) error {
	return tx.Set(cursorKey(cursor.ConversationID, cursor.UserID), cursor)
}

// List returns every stored conversation.
func (ConversationRepository) List(tx contract.Txn) ([]domain.Conversation, error) {
	var conversations []domain.Conversation
	err := tx.Scan(contract.ScanOptions{Prefix: "conv:"}, func(_ string, value contract.Decoder) (bool, error) {
		var conv domain.Conversation
		if err := value(&conv); err != nil {
			return false, err
		}
		conversations = append(conversations, conv)
		return true, nil
	})
	return conversations, err
}
