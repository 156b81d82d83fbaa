package services

import (
	"social-lab/domain"
	"social-lab/errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestFriendService_Request_Then_Accept(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	h.users(t, "alice", "bob")

	// When alice asks bob
	outcome, err := h.friends.SendRequest(h.ctx, "alice", "bob")
	req.NoError(err)

	// Then bob is notified on his own room
	notices := outcome.DeliveriesOf(domain.FriendRequestReceived)
	req.Len(notices, 1)
	req.Equal(domain.UserRoom("bob"), notices[0].Room)
	notice := notices[0].Envelope.Data.(friendRequestNotice)
	req.Equal(domain.UserID("alice"), notice.FromUser.UserID)

	// And each side sees the pending request from its end
	alice, err := h.friends.State(h.ctx, "alice")
	req.NoError(err)
	req.Len(alice.PendingOut, 1)
	bob, err := h.friends.State(h.ctx, "bob")
	req.NoError(err)
	req.Len(bob.PendingIn, 1)

	// When bob accepts by request id
	_, err = h.friends.Accept(h.ctx, "bob", notice.RequestID, "")
	req.NoError(err)

	// Then they are friends
	alice, err = h.friends.State(h.ctx, "alice")
	req.NoError(err)
	req.Len(alice.Friends, 1)
	req.Empty(alice.PendingOut)
	req.Equal(domain.UserID("bob"), alice.Friends[0].User.UserID)
	req.NotNil(alice.Friends[0].Presence)
}

func TestFriendService_Request_Errors(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	h.users(t, "alice", "bob")

	_, err := h.friends.SendRequest(h.ctx, "alice", "alice")
	req.ErrorIs(err, errors.ErrSelfRequest)

	_, err = h.friends.SendRequest(h.ctx, "alice", "ghost")
	req.ErrorIs(err, errors.ErrUserNotFound)

	_, err = h.friends.SendRequest(h.ctx, "alice", "bob")
	req.NoError(err)
	_, err = h.friends.SendRequest(h.ctx, "alice", "bob")
	req.ErrorIs(err, errors.ErrRequestAlreadySent)

	// Only the recipient may answer
	_, err = h.friends.Accept(h.ctx, "alice", "", "bob")
	req.ErrorIs(err, errors.ErrNotRequestRecipient)

	_, err = h.friends.Accept(h.ctx, "bob", "", "alice")
	req.NoError(err)
	_, err = h.friends.SendRequest(h.ctx, "bob", "alice")
	req.ErrorIs(err, errors.ErrAlreadyFriends)
}

func TestFriendService_Crossed_Requests_Auto_Accept(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	h.users(t, "alice", "bob")

	// Given alice asked bob
	_, err := h.friends.SendRequest(h.ctx, "alice", "bob")
	req.NoError(err)

	// When bob asks alice in turn
	outcome, err := h.friends.SendRequest(h.ctx, "bob", "alice")
	req.NoError(err)

	// Then no new request is announced and they are friends
	req.Empty(outcome.DeliveriesOf(domain.FriendRequestReceived))
	bob, err := h.friends.State(h.ctx, "bob")
	req.NoError(err)
	req.Len(bob.Friends, 1)
	req.Empty(bob.PendingIn)
}

func TestFriendService_Decline_And_Remove(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	h.users(t, "alice", "bob")

	_, err := h.friends.SendRequest(h.ctx, "alice", "bob")
	req.NoError(err)
	_, err = h.friends.Decline(h.ctx, "bob", "", "alice")
	req.NoError(err)

	// A declined request is gone, a second answer finds nothing
	_, err = h.friends.Accept(h.ctx, "bob", "", "alice")
	req.ErrorIs(err, errors.ErrRequestNotFound)

	_, err = h.friends.Remove(h.ctx, "alice", "bob")
	req.ErrorIs(err, errors.ErrNotFriends)

	h.befriend(t, "alice", "bob")
	outcome, err := h.friends.Remove(h.ctx, "alice", "bob")
	req.NoError(err)
	req.Len(outcome.DeliveriesOf(domain.FriendsStateEvent), 2)

	state, err := h.friends.State(h.ctx, "bob")
	req.NoError(err)
	req.Empty(state.Friends)
}

func TestFriendService_Block_Effects(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	h.users(t, "alice", "bob")

	// Given friends sharing a dm
	h.befriend(t, "alice", "bob")
	conv := h.openDM(t, "alice", "bob")

	// When alice blocks bob
	_, err := h.friends.Block(h.ctx, "alice", "bob")
	req.NoError(err)

	// Then the friendship is gone on both sides, only alice lists the block
	alice, err := h.friends.State(h.ctx, "alice")
	req.NoError(err)
	req.Empty(alice.Friends)
	req.Len(alice.Blocked, 1)
	bob, err := h.friends.State(h.ctx, "bob")
	req.NoError(err)
	req.Empty(bob.Friends)
	req.Empty(bob.Blocked)

	// And neither can request the other
	_, err = h.friends.SendRequest(h.ctx, "bob", "alice")
	req.ErrorIs(err, errors.ErrRelationshipBlocked)
	_, err = h.friends.SendRequest(h.ctx, "alice", "bob")
	req.ErrorIs(err, errors.ErrRelationshipBlocked)

	// And the dm is unusable and hidden
	_, err = h.chat.Send(h.ctx, "bob", conv, domain.MessageDraft{Type: domain.MessageText, BodyText: "hey"})
	req.ErrorIs(err, errors.ErrFriendshipRequired)
	list, err := h.chat.List(h.ctx, "bob")
	req.NoError(err)
	req.Empty(list)

	// And search hides both sides
	h.index.EXPECT().Search(gomock.Any(), "alice", gomock.Any()).Return([]domain.UserID{"alice"}, nil)
	outcome, err := h.friends.Search(h.ctx, "bob", "alice")
	req.NoError(err)
	req.Empty(outcome.Reply.Data.(searchResponse).Results)

	_, err = h.friends.Block(h.ctx, "alice", "alice")
	req.ErrorIs(err, errors.ErrSelfBlock)
}

func TestFriendService_Search_Annotates_Status(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	h.users(t, "alice", "bob", "bobby", "bo")
	h.befriend(t, "alice", "bob")
	_, err := h.friends.SendRequest(h.ctx, "alice", "bobby")
	req.NoError(err)

	// Given the index returns alice herself among the hits
	h.index.EXPECT().Search(gomock.Any(), "bo", gomock.Any()).
		Return([]domain.UserID{"alice", "bob", "bobby", "bo"}, nil)

	// When alice searches "@Bo"
	outcome, err := h.friends.Search(h.ctx, "alice", "@Bo")
	req.NoError(err)

	// Then she is not listed and each hit carries its status
	results := outcome.Reply.Data.(searchResponse).Results
	req.Len(results, 3)
	statuses := map[domain.UserID]string{}
	for _, r := range results {
		statuses[r.User.UserID] = r.FriendshipStatus
	}
	req.Equal(string(domain.FriendshipAccepted), statuses["bob"])
	req.Equal("pending_out", statuses["bobby"])
	req.Equal(string(domain.FriendshipNone), statuses["bo"])
}

func TestFriendService_Empty_Search_Skips_Index(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	outcome, err := h.friends.Search(h.ctx, "alice", "  @ ")

	req.NoError(err)
	req.Empty(outcome.Reply.Data.(searchResponse).Results)
}
