package repositories

import (
	"fmt"
	"slices"
	"social-lab/contract"
	"social-lab/domain"
)

// MessageRepository stores messages under "msg:{conv}:{id}".
// The id is zero padded to 20 digits so that lexicographical order is id order.
type MessageRepository struct{}

func NewMessageRepository() MessageRepository {
	return MessageRepository{}
}

func messagePrefix(conv domain.ConversationID) string {
	return fmt.Sprintf("msg:%s:", conv)
}

func messageKey(conv domain.ConversationID, id domain.MessageID) string {
	return fmt.Sprintf("msg:%s:%020d", conv, id)
}

func (MessageRepository) Append(tx contract.Txn, message domain.Message) error {
	return tx.Set(messageKey(message.ConversationID, message.ID), message)
}

// Latest returns the last limit messages in chronological order.
func (r MessageRepository) Latest(tx contract.Txn, conv domain.ConversationID, limit int) ([]domain.Message, error) {
	return r.backward(tx, conv, "", limit)
}

// Before returns up to limit messages with an id strictly below before, in chronological order.
func (r MessageRepository) Before(tx contract.Txn, conv domain.ConversationID, before domain.MessageID, limit int) ([]domain.Message, error) {
	if before <= 1 {
		return []domain.Message{}, nil
	}
	return r.backward(tx, conv, messageKey(conv, before-1), limit)
}

// Last returns the most recent message of a conversation, nil when empty.
func (r MessageRepository) Last(tx contract.Txn, conv domain.ConversationID) (*domain.Message, error) {
	messages, err := r.backward(tx, conv, "", 1)
	if err != nil || len(messages) == 0 {
		return nil, err
	}
	return &messages[0], nil
}

// backward walks the conversation from seek (inclusive) towards older messages
// then flips the page back to chronological order.
func (MessageRepository) backward(tx contract.Txn, conv domain.ConversationID, seek string, limit int) ([]domain.Message, error) {
	messages := make([]domain.Message, 0, limit)
	if limit <= 0 {
		return messages, nil
	}
	opts := contract.ScanOptions{Prefix: messagePrefix(conv), Seek: seek, Reverse: true}
	err := tx.Scan(opts, func(_ string, value contract.Decoder) (bool, error) {
		var message domain.Message
		if err := value(&message); err != nil {
			return false, err
		}
		messages = append(messages, message)
		return len(messages) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

// CountUnread counts messages above the cursor that were not sent by user.
func (MessageRepository) CountUnread(tx contract.Txn, conv domain.ConversationID, user domain.UserID, after domain.MessageID) (int, error) {
	count := 0
	opts := contract.ScanOptions{Prefix: messagePrefix(conv), Seek: messageKey(conv, after+1)}
	err := tx.Scan(opts, func(_ string, value contract.Decoder) (bool, error) {
		var message domain.Message
		if err := value(&message); err != nil {
			return false, err
		}
		if message.SenderID != user {
			count++
		}
		return true, nil
	})
	return count, err
}

// DeleteAll drops the whole history of a conversation.
func (MessageRepository) DeleteAll(tx contract.Txn, conv domain.ConversationID) error {
	var keys []string
	err := tx.Scan(contract.ScanOptions{Prefix: messagePrefix(conv)}, func(key string, _ contract.Decoder) (bool, error) {
		keys = append(keys, key)
		return true, nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := tx.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
