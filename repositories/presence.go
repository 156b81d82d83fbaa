package repositories

import (
	"social-lab/contract"
	"social-lab/domain"
	"social-lab/errors"
)

type PresenceRepository struct{}

func NewPresenceRepository() PresenceRepository {
	return PresenceRepository{}
}

type presenceRecord struct {
	Presence domain.Presence `json:"presence"`
	Away     bool            `json:"away"`
}

const presencePrefix = "presence:"

func presenceKey(user domain.UserID) string {
	return presencePrefix + string(user)
}

// Get returns an offline entry for users without a record.
func (PresenceRepository) Get(tx contract.Txn, user domain.UserID) (domain.Presence, error) {
	var rec presenceRecord
	err := tx.Get(presenceKey(user), &rec)
	if errors.Is(err, errors.ErrKeyNotFound) {
		return domain.Presence{UserID: user, Status: domain.PresenceOffline}, nil
	}
	if err != nil {
		return domain.Presence{}, err
	}
	rec.Presence.Away = rec.Away
	return rec.Presence, nil
}

func (PresenceRepository) Save(tx contract.Txn, presence domain.Presence) error {
	return tx.Set(presenceKey(presence.UserID), presenceRecord{Presence: presence, Away: presence.Away})
}

// Active lists the stored presences that are not offline.
func (PresenceRepository) Active(tx contract.Txn) ([]domain.Presence, error) {
	var active []domain.Presence
	err := tx.Scan(contract.ScanOptions{Prefix: presencePrefix}, func(_ string, value contract.Decoder) (bool, error) {
		var rec presenceRecord
		if err := value(&rec); err != nil {
			return false, err
		}
		if rec.Presence.Status != domain.PresenceOffline {
			rec.Presence.Away = rec.Away
			active = append(active, rec.Presence)
		}
		return true, nil
	})
	return active, err
}
