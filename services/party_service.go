package services

import (
	"context"
	"log/slog"
	"social-lab/contract"
	"social-lab/domain"
	"social-lab/errors"
	"social-lab/repositories"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type IPartyService interface {
	Create(ctx context.Context, user domain.UserID) (domain.Outcome, error)
	Invite(ctx context.Context, inviter domain.UserID, party domain.PartyID, invitee domain.UserID) (domain.Outcome, error)
	AcceptInvite(ctx context.Context, user domain.UserID, invite domain.InviteID) (domain.Outcome, error)
	DeclineInvite(ctx context.Context, user domain.UserID, invite domain.InviteID) (domain.Outcome, error)
	Leave(ctx context.Context, user domain.UserID, party domain.PartyID) (domain.Outcome, error)
	Kick(ctx context.Context, actor domain.UserID, party domain.PartyID, target domain.UserID) (domain.Outcome, error)
	TransferLeader(ctx context.Context, actor domain.UserID, party domain.PartyID, newLeader domain.UserID) (domain.Outcome, error)
	State(ctx context.Context, user domain.UserID) (domain.PartyState, error)
}

// PartyService runs the party state machine. Every mutation of a party holds the
// party lock, changes of a user's membership also hold the user lock.
// The party conversation is mirrored afterwards as a separate step.
type PartyService struct {
	store    contract.Store
	locks    contract.ILocker
	chat     *ChatService
	log      *slog.Logger
	parties  repositories.PartyRepository
	friends  repositories.FriendshipRepository
	profiles repositories.ProfileRepository
	now      func() time.Time
}

func NewPartyService(store contract.Store, locks contract.ILocker, chat *ChatService, log *slog.Logger) *PartyService {
	return &PartyService{
		store:    store,
		locks:    locks,
		chat:     chat,
		log:      log,
		parties:  repositories.NewPartyRepository(),
		friends:  repositories.NewFriendshipRepository(),
		profiles: repositories.NewProfileRepository(),
		now:      time.Now,
	}
}

type partyInviteNotice struct {
	Invite       domain.PartyInvite  `json:"invite"`
	PartySummary domain.PartySummary `json:"party_summary"`
}

// Create starts a party led by user. A user already in a party gets that party back.
func (s *PartyService) Create(ctx context.Context, user domain.UserID) (domain.Outcome, error) {
	var outcome domain.Outcome
	unlock, err := s.locks.Lock(ctx, userLock(user))
	if err != nil {
		return outcome, err
	}
	defer unlock()

	var party domain.Party
	created := false
	err = s.store.Update(ctx, func(tx contract.Txn) error {
		current, found, err := s.parties.PartyOf(tx, user)
		if err != nil {
			return err
		}
		if found {
			party, err = s.parties.Get(tx, current)
			if err == nil && party.IsMember(user) {
				return nil
			}
			if err != nil && !errors.Is(err, errors.ErrPartyNotFound) {
				return err
			}
			if err = s.parties.ClearPartyOf(tx, user, current); err != nil {
				return err
			}
		}
		party = domain.NewParty(
			domain.PartyID(uuid.NewString()),
			user,
			domain.ConversationID(uuid.NewString()),
			s.now().UTC(),
		)
		created = true
		return s.parties.Save(tx, party)
	})
	if err != nil {
		return outcome, err
	}

	outcome.Join(user, domain.PartyRoom(party.ID))
	synced, err := s.chat.SyncPartyMembers(ctx, party)
	if err != nil {
		return outcome, err
	}
	outcome.Merge(synced)
	if created {
		s.log.Info("Party created", "party", party.ID, "leader", user)
	}
	return s.withStates(ctx, outcome, user)
}

// Invite asks a friend of inviter to join the party. The invite stays valid for domain.InviteTTL.
func (s *PartyService) Invite(ctx context.Context, inviter domain.UserID, id domain.PartyID, invitee domain.UserID) (domain.Outcome, error) {
	var outcome domain.Outcome
	unlock, err := s.locks.Lock(ctx, partyLock(id))
	if err != nil {
		return outcome, err
	}
	defer unlock()

	var invite domain.PartyInvite
	var party domain.Party
	err = s.store.Update(ctx, func(tx contract.Txn) error {
		if party, err = s.parties.Get(tx, id); err != nil {
			return err
		}
		if !party.IsMember(inviter) {
			return errors.ErrNotPartyMember
		}
		if party.IsMember(invitee) {
			return errors.ErrAlreadyPartyMember
		}
		friends, err := s.friends.AreFriends(tx, inviter, invitee)
		if err != nil {
			return err
		}
		if !friends {
			return errors.ErrFriendshipRequired
		}
		now := s.now().UTC()
		pending, found, err := s.parties.PendingInvite(tx, id, invitee)
		if err != nil {
			return err
		}
		if found && pending.Live(now) {
			return errors.ErrInvitePending
		}
		if found {
			pending.Status = domain.InviteExpired
			if err = s.parties.SaveInvite(tx, pending); err != nil {
				return err
			}
		}
		invite = domain.PartyInvite{
			ID:        domain.InviteID(uuid.NewString()),
			PartyID:   id,
			InviterID: inviter,
			InviteeID: invitee,
			Status:    domain.InvitePending,
			CreatedAt: now,
			ExpiresAt: now.Add(domain.InviteTTL),
		}
		return s.parties.SaveInvite(tx, invite)
	})
	if err != nil {
		return outcome, err
	}

	outcome.Deliver(domain.UserRoom(invitee), domain.PartyInviteReceived, partyInviteNotice{Invite: invite, PartySummary: party.Summary()})
	return s.withStates(ctx, outcome, invitee)
}

// AcceptInvite consumes the invite and adds user to the party.
// Invites that went stale are resolved here and reported as invalid_state.
func (s *PartyService) AcceptInvite(ctx context.Context, user domain.UserID, id domain.InviteID) (domain.Outcome, error) {
	var outcome domain.Outcome
	invite, err := s.invite(ctx, id)
	if err != nil {
		return outcome, err
	}
	if invite.InviteeID != user {
		return outcome, errors.ErrNotInvitee
	}

	unlock, err := s.locks.LockAll(ctx, partyLock(invite.PartyID), userLock(user))
	if err != nil {
		return outcome, err
	}
	defer unlock()

	var party domain.Party
	var stale error
	err = s.store.Update(ctx, func(tx contract.Txn) error {
		if invite, err = s.parties.GetInvite(tx, id); err != nil {
			return err
		}
		if invite.Status != domain.InvitePending {
			return errors.ErrInviteStale
		}
		now := s.now().UTC()
		party, err = s.parties.Get(tx, invite.PartyID)
		if err != nil && !errors.Is(err, errors.ErrPartyNotFound) {
			return err
		}
		if err != nil || !invite.Live(now) || party.IsMember(user) {
			stale = errors.ErrInviteStale
			invite.Status = domain.InviteExpired
			return s.parties.SaveInvite(tx, invite)
		}
		current, found, err := s.parties.PartyOf(tx, user)
		if err != nil {
			return err
		}
		if found && current != party.ID {
			return errors.ErrInAnotherParty
		}
		party.AddMember(user, now)
		if err = s.parties.Save(tx, party); err != nil {
			return err
		}
		invite.Status = domain.InviteAccepted
		return s.parties.SaveInvite(tx, invite)
	})
	if err != nil {
		return outcome, err
	}
	if stale != nil {
		return outcome, stale
	}

	outcome.Join(user, domain.PartyRoom(party.ID))
	synced, err := s.chat.SyncPartyMembers(ctx, party)
	if err != nil {
		return outcome, err
	}
	outcome.Merge(synced)
	s.log.Debug("Party invite accepted", "party", party.ID, "user", user)
	if outcome, err = s.chat.withLists(ctx, outcome, party.MemberIDs()...); err != nil {
		return outcome, err
	}
	return s.withStates(ctx, outcome, party.MemberIDs()...)
}

// DeclineInvite discards a pending invite.
func (s *PartyService) DeclineInvite(ctx context.Context, user domain.UserID, id domain.InviteID) (domain.Outcome, error) {
	var outcome domain.Outcome
	invite, err := s.invite(ctx, id)
	if err != nil {
		return outcome, err
	}
	if invite.InviteeID != user {
		return outcome, errors.ErrNotInvitee
	}

	unlock, err := s.locks.Lock(ctx, partyLock(invite.PartyID))
	if err != nil {
		return outcome, err
	}
	defer unlock()

	err = s.store.Update(ctx, func(tx contract.Txn) error {
		if invite, err = s.parties.GetInvite(tx, id); err != nil {
			return err
		}
		if invite.Status != domain.InvitePending {
			return errors.ErrInviteStale
		}
		invite.Status = domain.InviteDeclined
		return s.parties.SaveInvite(tx, invite)
	})
	if err != nil {
		return outcome, err
	}
	return s.withStates(ctx, outcome, user)
}

func (s *PartyService) invite(ctx context.Context, id domain.InviteID) (domain.PartyInvite, error) {
	var invite domain.PartyInvite
	err := s.store.View(ctx, func(tx contract.Txn) error {
		var err error
		invite, err = s.parties.GetInvite(tx, id)
		return err
	})
	return invite, err
}

// Leave removes user from a party, its current one when id is empty.
func (s *PartyService) Leave(ctx context.Context, user domain.UserID, id domain.PartyID) (domain.Outcome, error) {
	if id == "" {
		err := s.store.View(ctx, func(tx contract.Txn) error {
			current, found, err := s.parties.PartyOf(tx, user)
			if err != nil {
				return err
			}
			if !found {
				return errors.ErrNotInParty
			}
			id = current
			return nil
		})
		if err != nil {
			return domain.Outcome{}, err
		}
	}
	return s.remove(ctx, id, user, func(party domain.Party) error {
		if !party.IsMember(user) {
			return errors.ErrNotInParty
		}
		return nil
	})
}

// Kick removes target without its consent. Only the leader may kick, and not itself.
func (s *PartyService) Kick(ctx context.Context, actor domain.UserID, id domain.PartyID, target domain.UserID) (domain.Outcome, error) {
	return s.remove(ctx, id, target, func(party domain.Party) error {
		if party.LeaderID != actor {
			return errors.ErrNotPartyLeader
		}
		if target == actor {
			return errors.ErrCannotKickSelf
		}
		if !party.IsMember(target) {
			return errors.ErrMemberNotFound
		}
		return nil
	})
}

// remove takes user out of the party once check passed. The earliest joined member
// succeeds a departing leader, an empty party is destroyed with its conversation.
func (s *PartyService) remove(ctx context.Context, id domain.PartyID, user domain.UserID, check func(party domain.Party) error) (domain.Outcome, error) {
	var outcome domain.Outcome
	unlock, err := s.locks.LockAll(ctx, partyLock(id), userLock(user))
	if err != nil {
		return outcome, err
	}
	defer unlock()

	var party domain.Party
	var successor domain.UserID
	err = s.store.Update(ctx, func(tx contract.Txn) error {
		if party, err = s.parties.Get(tx, id); err != nil {
			return err
		}
		if err = check(party); err != nil {
			return err
		}
		successor, _ = party.RemoveMember(user)
		if err = s.parties.ClearPartyOf(tx, user, party.ID); err != nil {
			return err
		}
		if len(party.Members) == 0 {
			return s.parties.Delete(tx, party.ID)
		}
		return s.parties.Save(tx, party)
	})
	if err != nil {
		return outcome, err
	}

	room := domain.PartyRoom(party.ID)
	outcome.Leave(user, room)
	if len(party.Members) == 0 {
		outcome.Drop(room)
		deleted, err := s.chat.DeletePartyConversation(ctx, party.ConversationID)
		if err != nil {
			return outcome, err
		}
		outcome.Merge(deleted)
		s.log.Info("Party disbanded", "party", party.ID)
		if outcome, err = s.chat.withLists(ctx, outcome, user); err != nil {
			return outcome, err
		}
		return s.withStates(ctx, outcome, user)
	}

	synced, err := s.chat.SyncPartyMembers(ctx, party)
	if err != nil {
		return outcome, err
	}
	outcome.Merge(synced)
	if successor != "" {
		s.log.Debug("Party leader succeeded", "party", party.ID, "leader", successor)
	}
	users := append(party.MemberIDs(), user)
	if outcome, err = s.chat.withLists(ctx, outcome, user); err != nil {
		return outcome, err
	}
	return s.withStates(ctx, outcome, users...)
}

// TransferLeader hands leadership over in a single write.
func (s *PartyService) TransferLeader(ctx context.Context, actor domain.UserID, id domain.PartyID, newLeader domain.UserID) (domain.Outcome, error) {
	var outcome domain.Outcome
	unlock, err := s.locks.Lock(ctx, partyLock(id))
	if err != nil {
		return outcome, err
	}
	defer unlock()

	var party domain.Party
	err = s.store.Update(ctx, func(tx contract.Txn) error {
		if party, err = s.parties.Get(tx, id); err != nil {
			return err
		}
		if party.LeaderID != actor {
			return errors.ErrNotPartyLeader
		}
		if !party.TransferLeader(newLeader) {
			return errors.ErrMemberNotFound
		}
		return s.parties.Save(tx, party)
	})
	if err != nil {
		return outcome, err
	}
	return s.withStates(ctx, outcome, party.MemberIDs()...)
}

// State is the party of user, if any, with the live invites addressed to user.
func (s *PartyService) State(ctx context.Context, user domain.UserID) (domain.PartyState, error) {
	state := domain.PartyState{IncomingInvites: []domain.PartyInvite{}}
	err := s.store.View(ctx, func(tx contract.Txn) error {
		id, found, err := s.parties.PartyOf(tx, user)
		if err != nil {
			return err
		}
		if found {
			party, err := s.parties.Get(tx, id)
			if err != nil && !errors.Is(err, errors.ErrPartyNotFound) {
				return err
			}
			if err == nil && party.IsMember(user) {
				state.Party = lo.ToPtr(party)
			}
		}
		invites, err := s.parties.IncomingInvites(tx, user)
		if err != nil {
			return err
		}
		now := s.now()
		for _, invite := range invites {
			if !invite.Live(now) {
				continue
			}
			exists, err := s.parties.Exists(tx, invite.PartyID)
			if err != nil {
				return err
			}
			if exists {
				state.IncomingInvites = append(state.IncomingInvites, invite)
			}
		}
		return nil
	})
	if err != nil {
		return domain.PartyState{}, err
	}
	return state, nil
}

// withStates pushes each user its own party_state, incoming invites differ per user.
func (s *PartyService) withStates(ctx context.Context, outcome domain.Outcome, users ...domain.UserID) (domain.Outcome, error) {
	for _, user := range lo.Uniq(users) {
		state, err := s.State(ctx, user)
		if err != nil {
			return outcome, err
		}
		outcome.Deliver(domain.UserRoom(user), domain.PartyStateEvent, state)
	}
	return outcome, nil
}
