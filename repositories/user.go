package repositories

import (
	"social-lab/contract"
	"social-lab/domain"
	"social-lab/errors"
)

// ProfileRepository stores the directory entries of users seen at handshake.
type ProfileRepository struct{}

func NewProfileRepository() ProfileRepository {
	return ProfileRepository{}
}

func profileKey(user domain.UserID) string {
	return "user:" + string(user)
}

func (ProfileRepository) Save(tx contract.Txn, profile domain.Profile) error {
	return tx.Set(profileKey(profile.UserID), profile)
}

// Get returns errors.ErrUserNotFound for users that never connected.
func (ProfileRepository) Get(tx contract.Txn, user domain.UserID) (domain.Profile, error) {
	var profile domain.Profile
	err := tx.Get(profileKey(user), &profile)
	if errors.Is(err, errors.ErrKeyNotFound) {
		return domain.Profile{}, errors.ErrUserNotFound
	}
	return profile, err
}

// Lookup never fails on unknown users, it falls back to a bare profile.
func (r ProfileRepository) Lookup(tx contract.Txn, user domain.UserID) (domain.Profile, error) {
	profile, err := r.Get(tx, user)
	if errors.Is(err, errors.ErrUserNotFound) {
		return domain.Profile{UserID: user, Username: string(user)}, nil
	}
	return profile, err
}

func (ProfileRepository) Exists(tx contract.Txn, user domain.UserID) (bool, error) {
	return tx.Has(profileKey(user))
}
