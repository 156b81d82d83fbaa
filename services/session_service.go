package services

import (
	"context"
	"log/slog"
	"social-lab/contract"
	"social-lab/domain"
	"social-lab/repositories"
)

type ISessionService interface {
	Connect(ctx context.Context, profile domain.Profile) (domain.Outcome, error)
	Disconnect(ctx context.Context, user domain.UserID) (domain.Outcome, error)
}

// SessionService bootstraps a freshly authenticated connection and tears it down on close.
type SessionService struct {
	store    contract.Store
	index    contract.IUserIndex
	log      *slog.Logger
	friends  *FriendService
	presence *PresenceService
	parties  *PartyService
	chat     *ChatService
	profiles repositories.ProfileRepository
}

func NewSessionService(store contract.Store, index contract.IUserIndex, friends *FriendService, presence *PresenceService, parties *PartyService, chat *ChatService, log *slog.Logger) *SessionService {
	return &SessionService{
		store:    store,
		index:    index,
		log:      log,
		friends:  friends,
		presence: presence,
		parties:  parties,
		chat:     chat,
		profiles: repositories.NewProfileRepository(),
	}
}

// Connect records the directory entry of the user, announces its presence and pushes
// friends_state, party_state and chat_list. The user's connections are joined to the
// rooms of its party and conversations.
func (s *SessionService) Connect(ctx context.Context, profile domain.Profile) (domain.Outcome, error) {
	user := profile.UserID
	if err := s.store.Update(ctx, func(tx contract.Txn) error {
		return s.profiles.Save(tx, profile)
	}); err != nil {
		return domain.Outcome{}, err
	}
	if err := s.index.Upsert(profile); err != nil {
		s.log.Warn("Unable to index user", "user", user, "error", err)
	}

	outcome, err := s.presence.Connect(ctx, user)
	if err != nil {
		return outcome, err
	}

	friends, err := s.friends.State(ctx, user)
	if err != nil {
		return outcome, err
	}
	outcome.Deliver(domain.UserRoom(user), domain.FriendsStateEvent, friends)

	party, err := s.parties.State(ctx, user)
	if err != nil {
		return outcome, err
	}
	if party.Party != nil {
		outcome.Join(user, domain.PartyRoom(party.Party.ID))
	}
	outcome.Deliver(domain.UserRoom(user), domain.PartyStateEvent, party)

	conversations, err := s.chat.List(ctx, user)
	if err != nil {
		return outcome, err
	}
	for _, summary := range conversations {
		outcome.Join(user, domain.ConversationRoom(summary.Conversation.ID))
	}
	outcome.Deliver(domain.UserRoom(user), domain.ChatList, chatListResponse{Conversations: conversations})
	return outcome, nil
}

// Disconnect is safe to call twice for the same connection.
func (s *SessionService) Disconnect(ctx context.Context, user domain.UserID) (domain.Outcome, error) {
	return s.presence.Disconnect(ctx, user)
}
