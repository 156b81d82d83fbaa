package domain

import "strings"

// RoomKey is a namespaced broadcast group name: user:{id}, party:{id} or conv:{id}.
type RoomKey string

const (
	userRoomPrefix         = "user:"
	partyRoomPrefix        = "party:"
	conversationRoomPrefix = "conv:"
)

func UserRoom(id UserID) RoomKey {
	return RoomKey(userRoomPrefix + string(id))
}

func PartyRoom(id PartyID) RoomKey {
	return RoomKey(partyRoomPrefix + string(id))
}

func ConversationRoom(id ConversationID) RoomKey {
	return RoomKey(conversationRoomPrefix + string(id))
}

func (r RoomKey) IsUserRoom() bool {
	return strings.HasPrefix(string(r), userRoomPrefix)
}
