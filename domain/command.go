package domain

import (
	"encoding/json"
	"sync/atomic"
)

// EventKind names an inbound or outbound event on the wire.
type EventKind string

// Inbound
const (
	FriendsSearch         EventKind = "friends_search"
	FriendsRequestSend    EventKind = "friends_request_send"
	FriendsRequestAccept  EventKind = "friends_request_accept"
	FriendsRequestDecline EventKind = "friends_request_decline"
	FriendsRemove         EventKind = "friends_remove"
	FriendsBlock          EventKind = "friends_block"
	PresenceSet           EventKind = "presence_set"
	SocialActivitySet     EventKind = "social_activity_set"
	PartyCreate           EventKind = "party_create"
	PartyInviteSend       EventKind = "party_invite"
	PartyInviteAccept     EventKind = "party_invite_accept"
	PartyInviteDecline    EventKind = "party_invite_decline"
	PartyLeave            EventKind = "party_leave"
	PartyKick             EventKind = "party_kick"
	PartyTransferLeader   EventKind = "party_transfer_leader"
	ChatList              EventKind = "chat_list"
	ChatOpen              EventKind = "chat_open"
	ChatOpenDM            EventKind = "chat_open_dm"
	ChatSend              EventKind = "chat_send"
	ChatTyping            EventKind = "chat_typing"
	ChatRead              EventKind = "chat_read"
	ChatHistoryBefore     EventKind = "chat_history_before"
)

// Outbound
const (
	SocialError           EventKind = "social_error"
	FriendsStateEvent     EventKind = "friends_state"
	FriendRequestReceived EventKind = "friend_request_received"
	PresenceUpdate        EventKind = "presence_update"
	PartyStateEvent       EventKind = "party_state"
	PartyInviteReceived   EventKind = "party_invite_received"
	ChatMessage           EventKind = "chat_message"
	ChatUnread            EventKind = "chat_unread"
)

// Inbound is a decoded frame read from a connection.
type Inbound struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Envelope is a frame written to a connection.
type Envelope struct {
	Event EventKind `json:"event"`
	Data  any       `json:"data"`
}

type ErrorPayload struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

// Delivery addresses an envelope to every connection subscribed to Room,
// minus the connections of ExceptUser when set.
type Delivery struct {
	Room       RoomKey
	Envelope   Envelope
	ExceptUser UserID
}

// Subscription adds or removes every connection of User to or from Room.
// Seq is stamped when the outcome is built, while the entity lock is still held,
// so a registry can tell which of two racing changes for the same user and room is the newer.
type Subscription struct {
	User UserID
	Room RoomKey
	Seq  uint64
}

var subscriptionSeq atomic.Uint64

// Outcome is what a manager hands back to the router once its mutation is committed.
// Subscription changes are applied before deliveries.
type Outcome struct {
	Reply      *Envelope
	Joins      []Subscription
	Leaves     []Subscription
	Drops      []RoomKey
	Deliveries []Delivery
}

func (o *Outcome) Deliver(room RoomKey, kind EventKind, data any) {
	o.Deliveries = append(o.Deliveries, Delivery{Room: room, Envelope: Envelope{Event: kind, Data: data}})
}

func (o *Outcome) DeliverExcept(room RoomKey, except UserID, kind EventKind, data any) {
	o.Deliveries = append(o.Deliveries, Delivery{Room: room, Envelope: Envelope{Event: kind, Data: data}, ExceptUser: except})
}

func (o *Outcome) Respond(kind EventKind, data any) {
	o.Reply = &Envelope{Event: kind, Data: data}
}

func (o *Outcome) Join(user UserID, room RoomKey) {
	o.Joins = append(o.Joins, Subscription{User: user, Room: room, Seq: subscriptionSeq.Add(1)})
}

func (o *Outcome) Leave(user UserID, room RoomKey) {
	o.Leaves = append(o.Leaves, Subscription{User: user, Room: room, Seq: subscriptionSeq.Add(1)})
}

func (o *Outcome) Drop(room RoomKey) {
	o.Drops = append(o.Drops, room)
}

// Merge appends other after o. A reply in other replaces the current one only if o has none.
func (o *Outcome) Merge(other Outcome) {
	if o.Reply == nil {
		o.Reply = other.Reply
	}
	o.Joins = append(o.Joins, other.Joins...)
	o.Leaves = append(o.Leaves, other.Leaves...)
	o.Drops = append(o.Drops, other.Drops...)
	o.Deliveries = append(o.Deliveries, other.Deliveries...)
}

// Deliveries for a kind, mostly useful to assert on in tests.
func (o *Outcome) DeliveriesOf(kind EventKind) []Delivery {
	var out []Delivery
	for _, d := range o.Deliveries {
		if d.Envelope.Event == kind {
			out = append(out, d)
		}
	}
	return out
}
