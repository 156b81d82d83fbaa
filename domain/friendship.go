package domain

import "time"

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipBlocked  FriendshipStatus = "blocked"
	// FriendshipNone is only used to annotate search results.
	FriendshipNone FriendshipStatus = "none"
)

// Friendship is the single record kept per unordered pair.
// For a pending record RequestedBy is the sender, for a blocked record the blocker.
type Friendship struct {
	ID          string           `json:"id"`
	Low         UserID           `json:"low"`
	High        UserID           `json:"high"`
	RequestedBy UserID           `json:"requested_by"`
	Status      FriendshipStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (f Friendship) Other(user UserID) UserID {
	if f.Low == user {
		return f.High
	}
	return f.Low
}

// Recipient is the user a pending request was sent to.
func (f Friendship) Recipient() UserID {
	return f.Other(f.RequestedBy)
}

func (f Friendship) Involves(user UserID) bool {
	return f.Low == user || f.High == user
}

// StatusFor describes the relation from the point of view of user.
// Pending records are split into incoming and outgoing.
func (f Friendship) StatusFor(user UserID) string {
	if f.Status != FriendshipPending {
		return string(f.Status)
	}
	if f.RequestedBy == user {
		return "pending_out"
	}
	return "pending_in"
}

// FriendEntry is one line of a friends_state list.
type FriendEntry struct {
	RequestID string    `json:"request_id"`
	User      Profile   `json:"user"`
	Presence  *Presence `json:"presence,omitempty"`
	Since     time.Time `json:"since"`
}

type FriendsState struct {
	Friends    []FriendEntry `json:"friends"`
	PendingIn  []FriendEntry `json:"pending_in"`
	PendingOut []FriendEntry `json:"pending_out"`
	Blocked    []FriendEntry `json:"blocked"`
}

type SearchResult struct {
	User             Profile `json:"user"`
	FriendshipStatus string  `json:"friendship_status"`
}
