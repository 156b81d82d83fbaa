package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParty_Leader_Leaving_Promotes_Earliest_Member(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Given a party led by alice where bob joined before carol
	party := NewParty("p1", "alice", "c1", at)
	party.AddMember("bob", at.Add(time.Minute))
	party.AddMember("carol", at.Add(2*time.Minute))

	// When alice leaves
	successor, changed := party.RemoveMember("alice")

	// Then bob leads and is the only leader
	req.True(changed)
	req.Equal(UserID("bob"), successor)
	req.Equal(UserID("bob"), party.LeaderID)
	leaders := 0
	for _, m := range party.Members {
		if m.Role == RoleLeader {
			leaders++
			req.Equal(UserID("bob"), m.UserID)
		}
	}
	req.Equal(1, leaders)
}

func TestParty_Same_JoinedAt_Uses_Join_Sequence(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Given two members admitted within the same instant, zed first
	party := NewParty("p1", "alice", "c1", at)
	party.AddMember("zed", at)
	party.AddMember("amy", at)

	// Then the first admitted wins even though amy sorts first by id
	successor, _ := party.RemoveMember("alice")
	req.Equal(UserID("zed"), successor)
}

func TestParty_Member_Leaving_Keeps_Leader(t *testing.T) {
	req := require.New(t)
	party := NewParty("p1", "alice", "c1", time.Now())
	party.AddMember("bob", time.Now())

	successor, changed := party.RemoveMember("bob")

	req.False(changed)
	req.Empty(successor)
	req.Equal(UserID("alice"), party.LeaderID)
	req.Equal([]UserID{"alice"}, party.MemberIDs())
}

func TestParty_Last_Member_Leaving_Empties_It(t *testing.T) {
	req := require.New(t)
	party := NewParty("p1", "alice", "c1", time.Now())

	_, changed := party.RemoveMember("alice")

	req.False(changed)
	req.Empty(party.Members)
	req.Empty(party.LeaderID)
}

func TestParty_AddMember_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	party := NewParty("p1", "alice", "c1", time.Now())

	party.AddMember("bob", time.Now())
	party.AddMember("bob", time.Now())

	req.Len(party.Members, 2)
	req.Equal(uint64(2), party.NextJoinSeq)
}

func TestParty_TransferLeader(t *testing.T) {
	req := require.New(t)
	party := NewParty("p1", "alice", "c1", time.Now())
	party.AddMember("bob", time.Now())

	// A stranger cannot receive leadership
	req.False(party.TransferLeader("mallory"))
	req.Equal(UserID("alice"), party.LeaderID)

	// A member can, and roles follow
	req.True(party.TransferLeader("bob"))
	req.Equal(UserID("bob"), party.LeaderID)
	for _, m := range party.Members {
		if m.UserID == "bob" {
			req.Equal(RoleLeader, m.Role)
		} else {
			req.Equal(RoleMember, m.Role)
		}
	}
}

func TestPartyInvite_Live(t *testing.T) {
	req := require.New(t)
	now := time.Now()
	invite := PartyInvite{Status: InvitePending, ExpiresAt: now.Add(InviteTTL)}

	req.True(invite.Live(now))
	req.False(invite.Live(now.Add(InviteTTL)))

	invite.Status = InviteDeclined
	req.False(invite.Live(now))
}

func TestRoomKeys_Are_Namespaced(t *testing.T) {
	req := require.New(t)

	req.Equal(RoomKey("user:alice"), UserRoom("alice"))
	req.Equal(RoomKey("party:p1"), PartyRoom("p1"))
	req.Equal(RoomKey("conv:c1"), ConversationRoom("c1"))
	req.True(UserRoom("alice").IsUserRoom())
	req.False(PartyRoom("p1").IsUserRoom())
}
