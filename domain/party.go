package domain

import (
	"sort"
	"time"
)

type PartyID string

type InviteID string

const InviteTTL = 48 * time.Hour

type PartyRole string

const (
	RoleLeader PartyRole = "leader"
	RoleMember PartyRole = "member"
)

type PartyMember struct {
	UserID   UserID    `json:"user_id"`
	Role     PartyRole `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
	// JoinSeq increases with every admission and breaks joined_at ties.
	JoinSeq uint64 `json:"join_seq"`
}

type Party struct {
	ID             PartyID        `json:"id"`
	LeaderID       UserID         `json:"leader_id"`
	Members        []PartyMember  `json:"members"`
	ConversationID ConversationID `json:"conversation_id"`
	NextJoinSeq    uint64         `json:"next_join_seq"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (p *Party) IsMember(user UserID) bool {
	return p.member(user) >= 0
}

func (p *Party) MemberIDs() []UserID {
	ids := make([]UserID, 0, len(p.Members))
	for _, m := range p.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

func (p *Party) member(user UserID) int {
	for i, m := range p.Members {
		if m.UserID == user {
			return i
		}
	}
	return -1
}

// AddMember admits user as a plain member.
func (p *Party) AddMember(user UserID, at time.Time) {
	if p.IsMember(user) {
		return
	}
	p.NextJoinSeq++
	p.Members = append(p.Members, PartyMember{UserID: user, Role: RoleMember, JoinedAt: at, JoinSeq: p.NextJoinSeq})
}

// RemoveMember drops user and, when the leader leaves, promotes the remaining
// member with the lowest join sequence. It returns the new leader when leadership changed.
func (p *Party) RemoveMember(user UserID) (UserID, bool) {
	i := p.member(user)
	if i < 0 {
		return "", false
	}
	p.Members = append(p.Members[:i], p.Members[i+1:]...)
	if p.LeaderID != user || len(p.Members) == 0 {
		if len(p.Members) == 0 {
			p.LeaderID = ""
		}
		return "", false
	}
	successor := p.Successor()
	p.setLeader(successor)
	return successor, true
}

// Successor is the earliest joined member, ties broken by user id.
func (p *Party) Successor() UserID {
	if len(p.Members) == 0 {
		return ""
	}
	members := append([]PartyMember(nil), p.Members...)
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinSeq != members[j].JoinSeq {
			return members[i].JoinSeq < members[j].JoinSeq
		}
		return members[i].UserID < members[j].UserID
	})
	return members[0].UserID
}

// TransferLeader is a single assignment, no leaderless state is ever stored.
func (p *Party) TransferLeader(user UserID) bool {
	if !p.IsMember(user) {
		return false
	}
	p.setLeader(user)
	return true
}

func (p *Party) setLeader(user UserID) {
	p.LeaderID = user
	for i := range p.Members {
		if p.Members[i].UserID == user {
			p.Members[i].Role = RoleLeader
		} else {
			p.Members[i].Role = RoleMember
		}
	}
}

func NewParty(id PartyID, leader UserID, conversationID ConversationID, at time.Time) Party {
	p := Party{ID: id, ConversationID: conversationID, CreatedAt: at}
	p.AddMember(leader, at)
	p.setLeader(leader)
	return p
}

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteDeclined InviteStatus = "declined"
	InviteExpired  InviteStatus = "expired"
)

type PartyInvite struct {
	ID        InviteID     `json:"id"`
	PartyID   PartyID      `json:"party_id"`
	InviterID UserID       `json:"inviter_id"`
	InviteeID UserID       `json:"invitee_id"`
	Status    InviteStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func (i PartyInvite) Live(now time.Time) bool {
	return i.Status == InvitePending && now.Before(i.ExpiresAt)
}

type PartySummary struct {
	ID          PartyID `json:"id"`
	LeaderID    UserID  `json:"leader_id"`
	MemberCount int     `json:"member_count"`
}

func (p *Party) Summary() PartySummary {
	return PartySummary{ID: p.ID, LeaderID: p.LeaderID, MemberCount: len(p.Members)}
}

type PartyState struct {
	Party           *Party        `json:"party"`
	IncomingInvites []PartyInvite `json:"incoming_invites"`
}
