package services

import (
	"context"
	"log/slog"
	"social-lab/contract"
	"social-lab/domain"
	"social-lab/domain/search"
	"social-lab/errors"
	"social-lab/repositories"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type IFriendService interface {
	Search(ctx context.Context, user domain.UserID, raw string) (domain.Outcome, error)
	SendRequest(ctx context.Context, from, to domain.UserID) (domain.Outcome, error)
	Accept(ctx context.Context, user domain.UserID, requestID string, other domain.UserID) (domain.Outcome, error)
	Decline(ctx context.Context, user domain.UserID, requestID string, other domain.UserID) (domain.Outcome, error)
	Remove(ctx context.Context, user, friend domain.UserID) (domain.Outcome, error)
	Block(ctx context.Context, user, target domain.UserID) (domain.Outcome, error)
	State(ctx context.Context, user domain.UserID) (domain.FriendsState, error)
}

// FriendService owns the friend graph: one record per pair, mutated under the pair lock.
type FriendService struct {
	store     contract.Store
	locks     contract.ILocker
	index     contract.IUserIndex
	log       *slog.Logger
	profiles  repositories.ProfileRepository
	friends   repositories.FriendshipRepository
	presences repositories.PresenceRepository
	now       func() time.Time
}

func NewFriendService(store contract.Store, locks contract.ILocker, index contract.IUserIndex, log *slog.Logger) *FriendService {
	return &FriendService{
		store:     store,
		locks:     locks,
		index:     index,
		log:       log,
		profiles:  repositories.NewProfileRepository(),
		friends:   repositories.NewFriendshipRepository(),
		presences: repositories.NewPresenceRepository(),
		now:       time.Now,
	}
}

type searchResponse struct {
	Query   string                `json:"query"`
	Results []domain.SearchResult `json:"results"`
}

// Search looks users up in the directory. Self and blocked pairs, in either direction, never show up.
func (s *FriendService) Search(ctx context.Context, user domain.UserID, raw string) (domain.Outcome, error) {
	var outcome domain.Outcome
	query := search.NewSearchQuery(raw)
	results := make([]domain.SearchResult, 0)
	if query.Empty() {
		outcome.Respond(domain.FriendsSearch, searchResponse{Query: raw, Results: results})
		return outcome, nil
	}

	// Over fetch so that filtered entries do not shrink the page too much
	ids, err := s.index.Search(ctx, query.Terms, query.Limit+10)
	if err != nil {
		s.log.Error("User search failed", "error", err)
		return outcome, errors.Wrap(errors.ErrStoreUnavailable, err)
	}

	err = s.store.View(ctx, func(tx contract.Txn) error {
		for _, id := range ids {
			if id == user || len(results) == query.Limit {
				continue
			}
			f, found, err := s.friends.Get(tx, user, id)
			if err != nil {
				return err
			}
			if found && f.Status == domain.FriendshipBlocked {
				continue
			}
			profile, err := s.profiles.Lookup(tx, id)
			if err != nil {
				return err
			}
			status := string(domain.FriendshipNone)
			if found {
				status = f.StatusFor(user)
			}
			results = append(results, domain.SearchResult{User: profile, FriendshipStatus: status})
		}
		return nil
	})
	if err != nil {
		return outcome, err
	}
	outcome.Respond(domain.FriendsSearch, searchResponse{Query: raw, Results: results})
	return outcome, nil
}

type friendRequestNotice struct {
	RequestID string         `json:"request_id"`
	FromUser  domain.Profile `json:"from_user"`
}

// SendRequest creates a pending request. A request towards someone who already
// asked us accepts theirs instead.
func (s *FriendService) SendRequest(ctx context.Context, from, to domain.UserID) (domain.Outcome, error) {
	var outcome domain.Outcome
	if from == to {
		return outcome, errors.ErrSelfRequest
	}
	unlock, err := s.locks.Lock(ctx, pairLock(from, to))
	if err != nil {
		return outcome, err
	}
	defer unlock()

	var saved domain.Friendship
	var sender domain.Profile
	err = s.store.Update(ctx, func(tx contract.Txn) error {
		exists, err := s.profiles.Exists(tx, to)
		if err != nil {
			return err
		}
		if !exists {
			return errors.ErrUserNotFound
		}
		f, found, err := s.friends.Get(tx, from, to)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		switch {
		case found && f.Status == domain.FriendshipBlocked:
			return errors.ErrRelationshipBlocked
		case found && f.Status == domain.FriendshipAccepted:
			return errors.ErrAlreadyFriends
		case found && f.RequestedBy == from:
			return errors.ErrRequestAlreadySent
		case found:
			f.Status = domain.FriendshipAccepted
			f.UpdatedAt = now
			saved = f
		default:
			low, high := domain.Pair(from, to)
			saved = domain.Friendship{
				ID: uuid.NewString(), Low: low, High: high,
				RequestedBy: from, Status: domain.FriendshipPending,
				CreatedAt: now, UpdatedAt: now,
			}
		}
		if sender, err = s.profiles.Lookup(tx, from); err != nil {
			return err
		}
		return s.friends.Save(tx, saved)
	})
	if err != nil {
		return outcome, err
	}

	if saved.Status == domain.FriendshipPending {
		outcome.Deliver(domain.UserRoom(to), domain.FriendRequestReceived, friendRequestNotice{RequestID: saved.ID, FromUser: sender})
		s.log.Debug("Friend request sent", "from", from, "to", to)
	} else {
		s.log.Debug("Crossed friend requests accepted", "from", from, "to", to)
	}
	return s.withStates(ctx, outcome, from, to)
}

// Accept turns a pending request into a friendship. Only the recipient may accept.
func (s *FriendService) Accept(ctx context.Context, user domain.UserID, requestID string, other domain.UserID) (domain.Outcome, error) {
	return s.answer(ctx, user, requestID, other, true)
}

// Decline deletes a pending request. Only the recipient may decline.
func (s *FriendService) Decline(ctx context.Context, user domain.UserID, requestID string, other domain.UserID) (domain.Outcome, error) {
	return s.answer(ctx, user, requestID, other, false)
}

func (s *FriendService) answer(ctx context.Context, user domain.UserID, requestID string, other domain.UserID, accept bool) (domain.Outcome, error) {
	var outcome domain.Outcome
	if requestID == "" && other == "" {
		return outcome, errors.ErrMissingRequestTarget
	}
	if other == "" {
		f, err := s.lookupRequest(ctx, requestID)
		if err != nil {
			return outcome, err
		}
		other = f.Other(user)
	}
	if other == user {
		return outcome, errors.ErrRequestNotFound
	}

	unlock, err := s.locks.Lock(ctx, pairLock(user, other))
	if err != nil {
		return outcome, err
	}
	defer unlock()

	err = s.store.Update(ctx, func(tx contract.Txn) error {
		f, found, err := s.friends.Get(tx, user, other)
		if err != nil {
			return err
		}
		if !found || f.Status != domain.FriendshipPending || (requestID != "" && f.ID != requestID) {
			return errors.ErrRequestNotFound
		}
		if f.Recipient() != user {
			return errors.ErrNotRequestRecipient
		}
		if !accept {
			return s.friends.Delete(tx, f)
		}
		f.Status = domain.FriendshipAccepted
		f.UpdatedAt = s.now().UTC()
		return s.friends.Save(tx, f)
	})
	if err != nil {
		return outcome, err
	}
	return s.withStates(ctx, outcome, user, other)
}

func (s *FriendService) lookupRequest(ctx context.Context, requestID string) (domain.Friendship, error) {
	var f domain.Friendship
	err := s.store.View(ctx, func(tx contract.Txn) error {
		var found bool
		var err error
		f, found, err = s.friends.GetByID(tx, requestID)
		if err != nil {
			return err
		}
		if !found {
			return errors.ErrRequestNotFound
		}
		return nil
	})
	return f, err
}

// Remove deletes an accepted friendship.
func (s *FriendService) Remove(ctx context.Context, user, friend domain.UserID) (domain.Outcome, error) {
	var outcome domain.Outcome
	unlock, err := s.locks.Lock(ctx, pairLock(user, friend))
	if err != nil {
		return outcome, err
	}
	defer unlock()

	err = s.store.Update(ctx, func(tx contract.Txn) error {
		f, found, err := s.friends.Get(tx, user, friend)
		if err != nil {
			return err
		}
		if !found || f.Status != domain.FriendshipAccepted {
			return errors.ErrNotFriends
		}
		return s.friends.Delete(tx, f)
	})
	if err != nil {
		return outcome, err
	}
	return s.withStates(ctx, outcome, user, friend)
}

// Block overwrites whatever the pair had with a block owned by user.
func (s *FriendService) Block(ctx context.Context, user, target domain.UserID) (domain.Outcome, error) {
	var outcome domain.Outcome
	if user == target {
		return outcome, errors.ErrSelfBlock
	}
	unlock, err := s.locks.Lock(ctx, pairLock(user, target))
	if err != nil {
		return outcome, err
	}
	defer unlock()

	err = s.store.Update(ctx, func(tx contract.Txn) error {
		exists, err := s.profiles.Exists(tx, target)
		if err != nil {
			return err
		}
		if !exists {
			return errors.ErrUserNotFound
		}
		now := s.now().UTC()
		f, found, err := s.friends.Get(tx, user, target)
		if err != nil {
			return err
		}
		if !found {
			low, high := domain.Pair(user, target)
			f = domain.Friendship{ID: uuid.NewString(), Low: low, High: high, CreatedAt: now}
		}
		f.Status = domain.FriendshipBlocked
		f.RequestedBy = user
		f.UpdatedAt = now
		return s.friends.Save(tx, f)
	})
	if err != nil {
		return outcome, err
	}
	s.log.Debug("User blocked", "by", user, "target", target)
	return s.withStates(ctx, outcome, user, target)
}

// State splits the relations of user into the four friends_state lists.
// Friends come with their presence, online first. Blocked only lists blocks made by user.
func (s *FriendService) State(ctx context.Context, user domain.UserID) (domain.FriendsState, error) {
	state := domain.FriendsState{
		Friends:    []domain.FriendEntry{},
		PendingIn:  []domain.FriendEntry{},
		PendingOut: []domain.FriendEntry{},
		Blocked:    []domain.FriendEntry{},
	}
	err := s.store.View(ctx, func(tx contract.Txn) error {
		relations, err := s.friends.ListFor(tx, user)
		if err != nil {
			return err
		}
		for _, f := range relations {
			other := f.Other(user)
			profile, err := s.profiles.Lookup(tx, other)
			if err != nil {
				return err
			}
			entry := domain.FriendEntry{RequestID: f.ID, User: profile, Since: f.UpdatedAt}
			switch {
			case f.Status == domain.FriendshipAccepted:
				presence, err := s.presences.Get(tx, other)
				if err != nil {
					return err
				}
				entry.Presence = lo.ToPtr(presence)
				state.Friends = append(state.Friends, entry)
			case f.Status == domain.FriendshipPending && f.RequestedBy == user:
				state.PendingOut = append(state.PendingOut, entry)
			case f.Status == domain.FriendshipPending:
				state.PendingIn = append(state.PendingIn, entry)
			case f.Status == domain.FriendshipBlocked && f.RequestedBy == user:
				state.Blocked = append(state.Blocked, entry)
			}
		}
		return nil
	})
	if err != nil {
		return domain.FriendsState{}, err
	}
	sort.SliceStable(state.Friends, func(i, j int) bool {
		a, b := state.Friends[i], state.Friends[j]
		if a.Presence.Rank() != b.Presence.Rank() {
			return a.Presence.Rank() < b.Presence.Rank()
		}
		return a.User.Username < b.User.Username
	})
	return state, nil
}

// withStates pushes a fresh friends_state to every device of each user.
func (s *FriendService) withStates(ctx context.Context, outcome domain.Outcome, users ...domain.UserID) (domain.Outcome, error) {
	for _, u := range users {
		state, err := s.State(ctx, u)
		if err != nil {
			return outcome, err
		}
		outcome.Deliver(domain.UserRoom(u), domain.FriendsStateEvent, state)
	}
	return outcome, nil
}
