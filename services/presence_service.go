package services

import (
	"context"
	"log/slog"
	"social-lab/contract"
	"social-lab/domain"
	"social-lab/errors"
	"social-lab/repositories"
	"sync"
	"time"

	"github.com/samber/lo"
)

type IPresenceService interface {
	Connect(ctx context.Context, user domain.UserID) (domain.Outcome, error)
	Disconnect(ctx context.Context, user domain.UserID) (domain.Outcome, error)
	SetStatus(ctx context.Context, user domain.UserID, status domain.PresenceStatus) (domain.Outcome, error)
	SetActivity(ctx context.Context, user domain.UserID, activity domain.Activity) (domain.Outcome, error)
	Snapshot(ctx context.Context, user domain.UserID) (domain.Presence, error)
}

// PresenceService counts live connections per user and stores the resulting presence.
// Offline is only ever written when the last connection of a user goes away.
type PresenceService struct {
	store     contract.Store
	locks     contract.ILocker
	log       *slog.Logger
	presences repositories.PresenceRepository
	friends   repositories.FriendshipRepository
	now       func() time.Time

	mu    sync.Mutex
	conns map[domain.UserID]int
}

func NewPresenceService(store contract.Store, locks contract.ILocker, log *slog.Logger) *PresenceService {
	return &PresenceService{
		store:     store,
		locks:     locks,
		log:       log,
		presences: repositories.NewPresenceRepository(),
		friends:   repositories.NewFriendshipRepository(),
		now:       time.Now,
		conns:     make(map[domain.UserID]int),
	}
}

func (s *PresenceService) Connect(ctx context.Context, user domain.UserID) (domain.Outcome, error) {
	unlock, err := s.locks.Lock(ctx, presenceLock(user))
	if err != nil {
		return domain.Outcome{}, err
	}
	defer unlock()

	s.mu.Lock()
	s.conns[user]++
	first := s.conns[user] == 1
	s.mu.Unlock()
	if !first {
		return domain.Outcome{}, nil
	}

	outcome, err := s.update(ctx, user, func(p *domain.Presence) {
		p.Status = domain.PresenceOnline
		if p.Away {
			p.Status = domain.PresenceAway
		}
	})
	if err != nil {
		s.mu.Lock()
		s.decrement(user)
		s.mu.Unlock()
	}
	return outcome, err
}

// Disconnect is a no-op for users without live connections so that double cleanup is harmless.
// When the offline write fails the stored presence stays stale until Reconcile repairs it.
func (s *PresenceService) Disconnect(ctx context.Context, user domain.UserID) (domain.Outcome, error) {
	unlock, err := s.locks.Lock(ctx, presenceLock(user))
	if err != nil {
		return domain.Outcome{}, err
	}
	defer unlock()

	s.mu.Lock()
	if s.conns[user] == 0 {
		s.mu.Unlock()
		return domain.Outcome{}, nil
	}
	last := s.decrement(user)
	s.mu.Unlock()
	if !last {
		return domain.Outcome{}, nil
	}

	outcome, err := s.markOffline(ctx, user)
	if err != nil {
		s.log.Warn("Offline not stored, left to reconciliation", "user", user, "error", err)
	}
	return outcome, err
}

// Reconcile writes offline for every stored presence whose user holds no live connection.
// It repairs failed disconnects and the presences left behind by a restart.
func (s *PresenceService) Reconcile(ctx context.Context) (domain.Outcome, error) {
	var active []domain.Presence
	err := s.store.View(ctx, func(tx contract.Txn) error {
		var err error
		active, err = s.presences.Active(tx)
		return err
	})
	if err != nil {
		return domain.Outcome{}, err
	}

	var outcome domain.Outcome
	for _, presence := range active {
		repaired, err := s.repair(ctx, presence.UserID)
		if err != nil {
			return outcome, err
		}
		outcome.Merge(repaired)
	}
	return outcome, nil
}

func (s *PresenceService) repair(ctx context.Context, user domain.UserID) (domain.Outcome, error) {
	unlock, err := s.locks.Lock(ctx, presenceLock(user))
	if err != nil {
		return domain.Outcome{}, err
	}
	defer unlock()
	if s.Online(user) {
		return domain.Outcome{}, nil
	}
	s.log.Info("Stale presence repaired", "user", user)
	return s.markOffline(ctx, user)
}

func (s *PresenceService) markOffline(ctx context.Context, user domain.UserID) (domain.Outcome, error) {
	return s.update(ctx, user, func(p *domain.Presence) {
		if p.Status == domain.PresenceOffline {
			return
		}
		p.Status = domain.PresenceOffline
		p.LastSeen = lo.ToPtr(s.now().UTC())
	})
}

// SetStatus applies a manual status. Away sticks across reconnections until online is set again.
func (s *PresenceService) SetStatus(ctx context.Context, user domain.UserID, status domain.PresenceStatus) (domain.Outcome, error) {
	if !status.Manual() {
		return domain.Outcome{}, errors.ErrInvalidPresence
	}
	unlock, err := s.locks.Lock(ctx, presenceLock(user))
	if err != nil {
		return domain.Outcome{}, err
	}
	defer unlock()

	return s.update(ctx, user, func(p *domain.Presence) {
		p.Away = status == domain.PresenceAway
		if s.Online(user) {
			p.Status = status
		}
	})
}

// SetActivity replaces the activity label, an empty activity clears it.
func (s *PresenceService) SetActivity(ctx context.Context, user domain.UserID, activity domain.Activity) (domain.Outcome, error) {
	activity = activity.Normalize()
	if !activity.Valid() {
		return domain.Outcome{}, errors.ErrInvalidActivity
	}
	unlock, err := s.locks.Lock(ctx, presenceLock(user))
	if err != nil {
		return domain.Outcome{}, err
	}
	defer unlock()

	return s.update(ctx, user, func(p *domain.Presence) {
		if activity.Empty() {
			p.Activity = nil
			return
		}
		p.Activity = lo.ToPtr(activity)
	})
}

func (s *PresenceService) Snapshot(ctx context.Context, user domain.UserID) (domain.Presence, error) {
	var presence domain.Presence
	err := s.store.View(ctx, func(tx contract.Txn) error {
		var err error
		presence, err = s.presences.Get(tx, user)
		return err
	})
	return presence, err
}

// Online reports whether user holds at least one live connection on this node.
func (s *PresenceService) Online(user domain.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[user] > 0
}

// update stores the mutated presence and addresses presence_update to the user and every accepted friend.
func (s *PresenceService) update(ctx context.Context, user domain.UserID, mutate func(p *domain.Presence)) (domain.Outcome, error) {
	var outcome domain.Outcome
	var presence domain.Presence
	var friends []domain.UserID
	err := s.store.Update(ctx, func(tx contract.Txn) error {
		var err error
		if presence, err = s.presences.Get(tx, user); err != nil {
			return err
		}
		presence.UserID = user
		mutate(&presence)
		if err = s.presences.Save(tx, presence); err != nil {
			return err
		}
		friends, err = s.friends.FriendsOf(tx, user)
		return err
	})
	if err != nil {
		return outcome, err
	}

	outcome.Deliver(domain.UserRoom(user), domain.PresenceUpdate, presence)
	for _, friend := range friends {
		outcome.Deliver(domain.UserRoom(friend), domain.PresenceUpdate, presence)
	}
	s.log.Debug("Presence updated", "user", user, "status", presence.Status, "friends", len(friends))
	return outcome, nil
}

func (s *PresenceService) decrement(user domain.UserID) bool {
	s.conns[user]--
	if s.conns[user] <= 0 {
		delete(s.conns, user)
		return true
	}
	return false
}
