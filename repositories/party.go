package repositories

import (
	"fmt"
	"social-lab/contract"
	"social-lab/domain"
	"social-lab/errors"
	"sort"
	"strings"
)

// PartyRepository persists parties and their invites.
//   - "party:{id}" holds the party with its members
//   - "partyof:{user}" is the user -> party index
//   - "invite:{id}" holds an invite
//   - "invitefor:{invitee}:{invite}" lists invites received by a user
//   - "invitepending:{party}:{invitee}" points to the live invite of a pair
type PartyRepository struct{}

func NewPartyRepository() PartyRepository {
	return PartyRepository{}
}

const partyPrefix = "party:"

func partyKey(id domain.PartyID) string {
	return partyPrefix + string(id)
}

func partyOfKey(user domain.UserID) string {
	return "partyof:" + string(user)
}

func inviteKey(id domain.InviteID) string {
	return "invite:" + string(id)
}

func inviteForKey(invitee domain.UserID, id domain.InviteID) string {
	return fmt.Sprintf("invitefor:%s:%s", invitee, id)
}

func invitePendingKey(party domain.PartyID, invitee domain.UserID) string {
	return fmt.Sprintf("invitepending:%s:%s", party, invitee)
}

func (PartyRepository) Get(tx contract.Txn, id domain.PartyID) (domain.Party, error) {
	var party domain.Party
	err := tx.Get(partyKey(id), &party)
	if errors.Is(err, errors.ErrKeyNotFound) {
		return domain.Party{}, errors.ErrPartyNotFound
	}
	return party, err
}

// Save writes the party and points every member to it.
func (PartyRepository) Save(tx contract.Txn, party domain.Party) error {
	if err := tx.Set(partyKey(party.ID), party); err != nil {
		return err
	}
	for _, member := range party.Members {
		if err := tx.Set(partyOfKey(member.UserID), party.ID); err != nil {
			return err
		}
	}
	return nil
}

func (PartyRepository) Delete(tx contract.Txn, id domain.PartyID) error {
	return tx.Delete(partyKey(id))
}

// PartyOf returns the party a user belongs to.
func (PartyRepository) PartyOf(tx contract.Txn, user domain.UserID) (domain.PartyID, bool, error) {
	var id domain.PartyID
	err := tx.Get(partyOfKey(user), &id)
	if errors.Is(err, errors.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// ClearPartyOf removes the user -> party index if it still points to party.
func (r PartyRepository) ClearPartyOf(tx contract.Txn, user domain.UserID, party domain.PartyID) error {
	current, found, err := r.PartyOf(tx, user)
	if err != nil || !found || current != party {
		return err
	}
	return tx.Delete(partyOfKey(user))
}

func (PartyRepository) List(tx contract.Txn) ([]domain.Party, error) {
	var parties []domain.Party
	err := tx.Scan(contract.ScanOptions{Prefix: partyPrefix}, func(_ string, value contract.Decoder) (bool, error) {
		var party domain.Party
		if err := value(&party); err != nil {
			return false, err
		}
		parties = append(parties, party)
		return true, nil
	})
	return parties, err
}

func (PartyRepository) GetInvite(tx contract.Txn, id domain.InviteID) (domain.PartyInvite, error) {
	var invite domain.PartyInvite
	err := tx.Get(inviteKey(id), &invite)
	if errors.Is(err, errors.ErrKeyNotFound) {
		return domain.PartyInvite{}, errors.ErrInviteNotFound
	}
	return invite, err
}

// SaveInvite keeps the indexes in line with the invite status:
// resolved invites disappear from both lookup indexes.
func (PartyRepository) SaveInvite(tx contract.Txn, invite domain.PartyInvite) error {
	if err := tx.Set(inviteKey(invite.ID), invite); err != nil {
		return err
	}
	if invite.Status == domain.InvitePending {
		if err := tx.Set(inviteForKey(invite.InviteeID, invite.ID), invite.ID); err != nil {
			return err
		}
		return tx.Set(invitePendingKey(invite.PartyID, invite.InviteeID), invite.ID)
	}
	if err := tx.Delete(inviteForKey(invite.InviteeID, invite.ID)); err != nil {
		return err
	}
	return tx.Delete(invitePendingKey(invite.PartyID, invite.InviteeID))
}

// PendingInvite returns the pending invite for a party/invitee pair, if any.
func (r PartyRepository) PendingInvite(tx contract.Txn, party domain.PartyID, invitee domain.UserID) (domain.PartyInvite, bool, error) {
	var id domain.InviteID
	err := tx.Get(invitePendingKey(party, invitee), &id)
	if errors.Is(err, errors.ErrKeyNotFound) {
		return domain.PartyInvite{}, false, nil
	}
	if err != nil {
		return domain.PartyInvite{}, false, err
	}
	invite, err := r.GetInvite(tx, id)
	if errors.Is(err, errors.ErrInviteNotFound) {
		return domain.PartyInvite{}, false, nil
	}
	return invite, err == nil, err
}

// IncomingInvites lists pending invites addressed to user, oldest first.
func (r PartyRepository) IncomingInvites(tx contract.Txn, user domain.UserID) ([]domain.PartyInvite, error) {
	prefix := fmt.Sprintf("invitefor:%s:", user)
	var ids []domain.InviteID
	err := tx.Scan(contract.ScanOptions{Prefix: prefix}, func(key string, _ contract.Decoder) (bool, error) {
		ids = append(ids, domain.InviteID(strings.TrimPrefix(key, prefix)))
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	invites := make([]domain.PartyInvite, 0, len(ids))
	for _, id := range ids {
		invite, err := r.GetInvite(tx, id)
		if errors.Is(err, errors.ErrInviteNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		invites = append(invites, invite)
	}
	sort.Slice(invites, func(i, j int) bool {
		return invites[i].CreatedAt.Before(invites[j].CreatedAt)
	})
	return invites, nil
}

func (PartyRepository) Exists(tx contract.Txn, id domain.PartyID) (bool, error) {
	return tx.Has(partyKey(id))
}
