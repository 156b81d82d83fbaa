package services

import (
	"fmt"
	"social-lab/domain"
)

// Lock keys. When several are needed they are taken in this order:
// party, user, pair, conversation, presence.

func partyLock(id domain.PartyID) string {
	return "party:" + string(id)
}

func userLock(id domain.UserID) string {
	return "user:" + string(id)
}

func pairLock(a, b domain.UserID) string {
	low, high := domain.Pair(a, b)
	return fmt.Sprintf("pair:%s:%s", low, high)
}

func conversationLock(id domain.ConversationID) string {
	return "conv:" + string(id)
}

func presenceLock(id domain.UserID) string {
	return "presence:" + string(id)
}
