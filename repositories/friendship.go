package repositories

import (
	"fmt"
	"social-lab/contract"
	"social-lab/domain"
	"social-lab/errors"
)

// FriendshipRepository keeps one record per unordered pair under
// "friend:{low}:{high}", plus two lookup indexes:
//   - "friendreq:{id}" resolves a record id to its pair key
//   - "fadj:{user}:{other}" lists the pairs a user is part of
type FriendshipRepository struct{}

func NewFriendshipRepository() FriendshipRepository {
	return FriendshipRepository{}
}

func pairKey(a, b domain.UserID) string {
	low, high := domain.Pair(a, b)
	return fmt.Sprintf("friend:%s:%s", low, high)
}

func friendshipIDKey(id string) string {
	return "friendreq:" + id
}

func adjacencyKey(user, other domain.UserID) string {
	return fmt.Sprintf("fadj:%s:%s", user, other)
}

func adjacencyPrefix(user domain.UserID) string {
	return fmt.Sprintf("fadj:%s:", user)
}

// Get returns the record of a pair, if any.
func (FriendshipRepository) Get(tx contract.Txn, a, b domain.UserID) (domain.Friendship, bool, error) {
	var f domain.Friendship
	err := tx.Get(pairKey(a, b), &f)
	if errors.Is(err, errors.ErrKeyNotFound) {
		return domain.Friendship{}, false, nil
	}
	if err != nil {
		return domain.Friendship{}, false, err
	}
	return f, true, nil
}

func (r FriendshipRepository) GetByID(tx contract.Txn, id string) (domain.Friendship, bool, error) {
	var key string
	err := tx.Get(friendshipIDKey(id), &key)
	if errors.Is(err, errors.ErrKeyNotFound) {
		return domain.Friendship{}, false, nil
	}
	if err != nil {
		return domain.Friendship{}, false, err
	}
	var f domain.Friendship
	err = tx.Get(key, &f)
	if errors.Is(err, errors.ErrKeyNotFound) {
		return domain.Friendship{}, false, nil
	}
	return f, err == nil, err
}

// Save overwrites the record of the pair. A previous record with another id is unindexed.
func (r FriendshipRepository) Save(tx contract.Txn, f domain.Friendship) error {
	previous, found, err := r.Get(tx, f.Low, f.High)
	if err != nil {
		return err
	}
	if found && previous.ID != f.ID {
		if err := tx.Delete(friendshipIDKey(previous.ID)); err != nil {
			return err
		}
	}
	key := pairKey(f.Low, f.High)
	if err := tx.Set(key, f); err != nil {
		return err
	}
	if err := tx.Set(friendshipIDKey(f.ID), key); err != nil {
		return err
	}
	if err := tx.Set(adjacencyKey(f.Low, f.High), key); err != nil {
		return err
	}
	return tx.Set(adjacencyKey(f.High, f.Low), key)
}

func (FriendshipRepository) Delete(tx contract.Txn, f domain.Friendship) error {
	for _, key := range []string{
		pairKey(f.Low, f.High),
		friendshipIDKey(f.ID),
		adjacencyKey(f.Low, f.High),
		adjacencyKey(f.High, f.Low),
	} {
		if err := tx.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// ListFor returns every record involving user, whatever its status.
func (FriendshipRepository) ListFor(tx contract.Txn, user domain.UserID) ([]domain.Friendship, error) {
	var keys []string
	err := tx.Scan(contract.ScanOptions{Prefix: adjacencyPrefix(user)}, func(_ string, value contract.Decoder) (bool, error) {
		var key string
		if err := value(&key); err != nil {
			return false, err
		}
		keys = append(keys, key)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	friendships := make([]domain.Friendship, 0, len(keys))
	for _, key := range keys {
		var f domain.Friendship
		err := tx.Get(key, &f)
		if errors.Is(err, errors.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		friendships = append(friendships, f)
	}
	return friendships, nil
}

// FriendsOf lists the accepted friends of user.
func (r FriendshipRepository) FriendsOf(tx contract.Txn, user domain.UserID) ([]domain.UserID, error) {
	all, err := r.ListFor(tx, user)
	if err != nil {
		return nil, err
	}
	var friends []domain.UserID
	for _, f := range all {
		if f.Status == domain.FriendshipAccepted {
			friends = append(friends, f.Other(user))
		}
	}
	return friends, nil
}

func (r FriendshipRepository) AreFriends(tx contract.Txn, a, b domain.UserID) (bool, error) {
	f, found, err := r.Get(tx, a, b)
	if err != nil {
		return false, err
	}
	return found && f.Status == domain.FriendshipAccepted, nil
}
