package repositories

import (
	"context"
	"social-lab/contract"
	"social-lab/domain"
	"social-lab/errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Party_Membership_Index(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	repository := NewPartyRepository()
	ctx := context.Background()
	now := time.Now().UTC()
	party := domain.NewParty("p1", "alice", "conv-1", now)
	party.AddMember("bob", now.Add(time.Second))

	// Given a party with two members
	req.NoError(store.Update(ctx, func(tx contract.Txn) error {
		return repository.Save(tx, party)
	}))

	// When bob moves to another party before the old index is cleared
	req.NoError(store.Update(ctx, func(tx contract.Txn) error {
		if err := repository.Save(tx, domain.NewParty("p2", "bob", "conv-2", now)); err != nil {
			return err
		}
		return repository.ClearPartyOf(tx, "bob", "p1")
	}))

	// Then clearing a stale index never removes the newer one
	req.NoError(store.View(ctx, func(tx contract.Txn) error {
		current, found, err := repository.PartyOf(tx, "bob")
		req.NoError(err)
		req.True(found)
		req.Equal(domain.PartyID("p2"), current)

		parties, err := repository.List(tx)
		req.NoError(err)
		req.Len(parties, 2)
		return nil
	}))

	// When p1 is deleted
	req.NoError(store.Update(ctx, func(tx contract.Txn) error {
		return repository.Delete(tx, "p1")
	}))
	req.NoError(store.View(ctx, func(tx contract.Txn) error {
		_, err := repository.Get(tx, "p1")
		req.ErrorIs(err, errors.ErrPartyNotFound)
		exists, err := repository.Exists(tx, "p2")
		req.NoError(err)
		req.True(exists)
		return nil
	}))
}

func Test_Party_Invite_Indexes_Follow_Status(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	repository := NewPartyRepository()
	ctx := context.Background()
	now := time.Now().UTC()
	older := domain.PartyInvite{
		ID: "i1", PartyID: "p1", InviterID: "alice", InviteeID: "carol",
		Status: domain.InvitePending, CreatedAt: now, ExpiresAt: now.Add(48 * time.Hour),
	}
	newer := domain.PartyInvite{
		ID: "i2", PartyID: "p2", InviterID: "bob", InviteeID: "carol",
		Status: domain.InvitePending, CreatedAt: now.Add(time.Minute), ExpiresAt: now.Add(48 * time.Hour),
	}

	// Given two pending invites for carol, saved newest first
	req.NoError(store.Update(ctx, func(tx contract.Txn) error {
		if err := repository.SaveInvite(tx, newer); err != nil {
			return err
		}
		return repository.SaveInvite(tx, older)
	}))

	// Then they are listed oldest first and found by pair
	req.NoError(store.View(ctx, func(tx contract.Txn) error {
		invites, err := repository.IncomingInvites(tx, "carol")
		req.NoError(err)
		req.Equal([]domain.InviteID{"i1", "i2"}, []domain.InviteID{invites[0].ID, invites[1].ID})

		pending, found, err := repository.PendingInvite(tx, "p1", "carol")
		req.NoError(err)
		req.True(found)
		req.Equal(domain.InviteID("i1"), pending.ID)
		return nil
	}))

	// When the older one is declined
	older.Status = domain.InviteDeclined
	req.NoError(store.Update(ctx, func(tx contract.Txn) error {
		return repository.SaveInvite(tx, older)
	}))

	// Then it leaves both indexes but stays readable by id
	req.NoError(store.View(ctx, func(tx contract.Txn) error {
		invites, err := repository.IncomingInvites(tx, "carol")
		req.NoError(err)
		req.Len(invites, 1)
		req.Equal(domain.InviteID("i2"), invites[0].ID)

		_, found, err := repository.PendingInvite(tx, "p1", "carol")
		req.NoError(err)
		req.False(found)

		declined, err := repository.GetInvite(tx, "i1")
		req.NoError(err)
		req.Equal(domain.InviteDeclined, declined.Status)

		_, err = repository.GetInvite(tx, "missing")
		req.ErrorIs(err, errors.ErrInviteNotFound)
		return nil
	}))
}

func Test_Presence_Defaults_Offline_And_Keeps_Away(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	repository := NewPresenceRepository()
	ctx := context.Background()

	req.NoError(store.View(ctx, func(tx contract.Txn) error {
		presence, err := repository.Get(tx, "ghost")
		req.NoError(err)
		req.Equal(domain.PresenceOffline, presence.Status)
		return nil
	}))

	// When a manual away is persisted
	req.NoError(store.Update(ctx, func(tx contract.Txn) error {
		return repository.Save(tx, domain.Presence{UserID: "alice", Status: domain.PresenceAway, Away: true})
	}))

	// Then the sticky flag survives the round trip
	req.NoError(store.View(ctx, func(tx contract.Txn) error {
		presence, err := repository.Get(tx, "alice")
		req.NoError(err)
		req.Equal(domain.PresenceAway, presence.Status)
		req.True(presence.Away)
		return nil
	}))
}
