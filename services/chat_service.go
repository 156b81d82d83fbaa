package services

import (
	"context"
	"log/slog"
	"social-lab/contract"
	"social-lab/domain"
	"social-lab/errors"
	"social-lab/moderation"
	"social-lab/repositories"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type IChatService interface {
	List(ctx context.Context, user domain.UserID) ([]domain.ConversationSummary, error)
	OpenDM(ctx context.Context, user, friend domain.UserID) (domain.Outcome, error)
	Open(ctx context.Context, user domain.UserID, conv domain.ConversationID, limit int) (domain.Outcome, error)
	Send(ctx context.Context, user domain.UserID, conv domain.ConversationID, draft domain.MessageDraft) (domain.Outcome, error)
	Typing(ctx context.Context, user domain.UserID, conv domain.ConversationID, isTyping bool) (domain.Outcome, error)
	Read(ctx context.Context, user domain.UserID, conv domain.ConversationID, lastRead *domain.MessageID) (domain.Outcome, error)
	HistoryBefore(ctx context.Context, user domain.UserID, conv domain.ConversationID, before domain.MessageID, limit int) (domain.Outcome, error)
}

// ChatService owns conversations, their members and their messages.
// Mutations of one conversation are serialized by the conversation lock.
type ChatService struct {
	store         contract.Store
	locks         contract.ILocker
	images        contract.ImageValidator
	moderator     *moderation.Moderator
	log           *slog.Logger
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	friends       repositories.FriendshipRepository
	parties       repositories.PartyRepository
	profiles      repositories.ProfileRepository
	now           func() time.Time
}

func NewChatService(store contract.Store, locks contract.ILocker, images contract.ImageValidator, moderator *moderation.Moderator, log *slog.Logger) *ChatService {
	return &ChatService{
		store:         store,
		locks:         locks,
		images:        images,
		moderator:     moderator,
		log:           log,
		conversations: repositories.NewConversationRepository(),
		messages:      repositories.NewMessageRepository(),
		friends:       repositories.NewFriendshipRepository(),
		parties:       repositories.NewPartyRepository(),
		profiles:      repositories.NewProfileRepository(),
		now:           time.Now,
	}
}

type chatListResponse struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
}

type chatOpenResponse struct {
	Conversation domain.ConversationSummary `json:"conversation"`
	Messages     []domain.Message           `json:"messages"`
}

type chatMessageEvent struct {
	Message domain.Message `json:"message"`
}

type chatTypingEvent struct {
	ConversationID domain.ConversationID `json:"conversation_id"`
	UserID         domain.UserID         `json:"user_id"`
	IsTyping       bool                  `json:"is_typing"`
}

type chatUnreadEvent struct {
	ConversationID domain.ConversationID `json:"conversation_id"`
	UnreadCount    int                   `json:"unread_count"`
}

type chatHistoryResponse struct {
	ConversationID domain.ConversationID `json:"conversation_id"`
	Messages       []domain.Message      `json:"messages"`
}

// List returns the conversations user can still use, most recent activity first.
func (s *ChatService) List(ctx context.Context, user domain.UserID) ([]domain.ConversationSummary, error) {
	summaries := make([]domain.ConversationSummary, 0)
	err := s.store.View(ctx, func(tx contract.Txn) error {
		ids, err := s.conversations.ListFor(tx, user)
		if err != nil {
			return err
		}
		for _, id := range ids {
			conv, err := s.conversations.Get(tx, id)
			if errors.Is(err, errors.ErrConversationNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err = s.authorize(tx, user, conv); err != nil {
				if errors.KindOf(err) == errors.KindPermissionDenied {
					continue
				}
				return err
			}
			summary, err := s.summarize(tx, user, conv)
			if err != nil {
				return err
			}
			summaries = append(summaries, summary)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if a.LastMessageID() != b.LastMessageID() {
			return a.LastMessageID() > b.LastMessageID()
		}
		return a.Conversation.CreatedAt.After(b.Conversation.CreatedAt)
	})
	return summaries, nil
}

// OpenDM returns the dm of a friend pair, creating it on first use.
func (s *ChatService) OpenDM(ctx context.Context, user, friend domain.UserID) (domain.Outcome, error) {
	var outcome domain.Outcome
	if user == friend {
		return outcome, errors.ErrFriendshipRequired
	}
	unlock, err := s.locks.Lock(ctx, pairLock(user, friend))
	if err != nil {
		return outcome, err
	}
	defer unlock()

	var conv domain.Conversation
	created := false
	err = s.store.Update(ctx, func(tx contract.Txn) error {
		friends, err := s.friends.AreFriends(tx, user, friend)
		if err != nil {
			return err
		}
		if !friends {
			return errors.ErrFriendshipRequired
		}
		id, found, err := s.conversations.DMBetween(tx, user, friend)
		if err != nil {
			return err
		}
		if found {
			conv, err = s.conversations.Get(tx, id)
			if !errors.Is(err, errors.ErrConversationNotFound) {
				return err
			}
		}
		low, high := domain.Pair(user, friend)
		conv = domain.Conversation{
			ID:        domain.ConversationID(uuid.NewString()),
			Type:      domain.ConversationDM,
			MemberIDs: []domain.UserID{low, high},
			CreatedAt: s.now().UTC(),
		}
		created = true
		return s.conversations.Create(tx, conv)
	})
	if err != nil {
		return outcome, err
	}

	room := domain.ConversationRoom(conv.ID)
	outcome.Join(user, room)
	outcome.Join(friend, room)
	opened, err := s.open(ctx, user, conv.ID, domain.DefaultOpenLimit)
	if err != nil {
		return outcome, err
	}
	outcome.Merge(opened)
	if created {
		s.log.Debug("Direct conversation created", "conversation", conv.ID)
		return s.withLists(ctx, outcome, user, friend)
	}
	return outcome, nil
}

// Open replies with the latest messages of a conversation the user belongs to.
func (s *ChatService) Open(ctx context.Context, user domain.UserID, conv domain.ConversationID, limit int) (domain.Outcome, error) {
	outcome, err := s.open(ctx, user, conv, domain.ClampLimit(limit, domain.DefaultOpenLimit))
	if err != nil {
		return outcome, err
	}
	outcome.Join(user, domain.ConversationRoom(conv))
	return outcome, nil
}

func (s *ChatService) open(ctx context.Context, user domain.UserID, id domain.ConversationID, limit int) (domain.Outcome, error) {
	var outcome domain.Outcome
	var response chatOpenResponse
	err := s.store.View(ctx, func(tx contract.Txn) error {
		conv, err := s.conversations.Get(tx, id)
		if err != nil {
			return err
		}
		if err = s.authorize(tx, user, conv); err != nil {
			return err
		}
		if response.Conversation, err = s.summarize(tx, user, conv); err != nil {
			return err
		}
		response.Messages, err = s.messages.Latest(tx, id, limit)
		return err
	})
	if err != nil {
		return outcome, err
	}
	outcome.Respond(domain.ChatOpen, response)
	return outcome, nil
}

// Send validates, moderates and appends a message. Every member gets the message
// through the conversation room and the others their new unread count.
func (s *ChatService) Send(ctx context.Context, user domain.UserID, id domain.ConversationID, draft domain.MessageDraft) (domain.Outcome, error) {
	var outcome domain.Outcome
	message, err := s.draft(ctx, user, id, draft)
	if err != nil {
		return outcome, err
	}

	unlock, err := s.locks.Lock(ctx, conversationLock(id))
	if err != nil {
		return outcome, err
	}
	defer unlock()

	// Rejects early so that refused sends do not consume message ids
	err = s.store.View(ctx, func(tx contract.Txn) error {
		conv, err := s.conversations.Get(tx, id)
		if err != nil {
			return err
		}
		return s.authorize(tx, user, conv)
	})
	if err != nil {
		return outcome, err
	}

	next, err := s.store.NextID(ctx, "message")
	if err != nil {
		return outcome, err
	}
	message.ID = domain.MessageID(next)
	message.CreatedAt = s.now().UTC()

	// Authorization is checked again in the write transaction: a block, removal or
	// kick committed since the check above either shows up here or conflicts the commit.
	var conv domain.Conversation
	unread := make(map[domain.UserID]int)
	err = s.store.Update(ctx, func(tx contract.Txn) error {
		var err error
		if conv, err = s.conversations.Get(tx, id); err != nil {
			return err
		}
		if err = s.authorize(tx, user, conv); err != nil {
			return err
		}
		if err = s.messages.Append(tx, message); err != nil {
			return err
		}
		for _, member := range conv.MemberIDs {
			if member == user {
				continue
			}
			cursor, err := s.conversations.Cursor(tx, id, member)
			if err != nil {
				return err
			}
			if unread[member], err = s.messages.CountUnread(tx, id, member, cursor.LastRead); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return outcome, err
	}

	outcome.Deliver(domain.ConversationRoom(id), domain.ChatMessage, chatMessageEvent{Message: message})
	for _, member := range conv.MemberIDs {
		if count, ok := unread[member]; ok {
			outcome.Deliver(domain.UserRoom(member), domain.ChatUnread, chatUnreadEvent{ConversationID: id, UnreadCount: count})
		}
	}
	return outcome, nil
}

// draft checks the payload before any lock is taken.
func (s *ChatService) draft(ctx context.Context, user domain.UserID, id domain.ConversationID, draft domain.MessageDraft) (domain.Message, error) {
	message := domain.Message{ConversationID: id, SenderID: user, Type: draft.Type}
	switch draft.Type {
	case domain.MessageText, domain.MessageEmoji:
		body := draft.Body()
		if body == "" {
			return message, errors.ErrEmptyMessage
		}
		if utf8.RuneCountInString(body) > domain.MessageMaxLength {
			return message, errors.ErrMessageTooLong
		}
		message.BodyText = body
		if draft.Type == domain.MessageText && s.moderator != nil {
			sanitized := s.moderator.Sanitize(body)
			message.BodyText = sanitized.Text
			message.Lang = sanitized.Lang
		}
	case domain.MessageImage:
		url := strings.TrimSpace(draft.ImageURL)
		if url == "" {
			return message, errors.ErrInvalidImage
		}
		caption := strings.TrimSpace(draft.BodyText)
		if utf8.RuneCountInString(caption) > domain.MessageMaxLength {
			return message, errors.ErrMessageTooLong
		}
		if err := s.images.ValidateImage(ctx, url); err != nil {
			s.log.Debug("Image rejected", "user", user, "url", url, "error", err)
			if errors.KindOf(err) == errors.KindInternal {
				return message, errors.Wrap(errors.ErrInvalidImage, err)
			}
			return message, err
		}
		message.ImageURL = url
		if caption != "" && s.moderator != nil {
			caption = s.moderator.Sanitize(caption).Text
		}
		message.BodyText = caption
	default:
		return message, errors.ErrInvalidMessageType
	}
	return message, nil
}

// Typing is relayed to the other members only and never stored.
func (s *ChatService) Typing(ctx context.Context, user domain.UserID, id domain.ConversationID, isTyping bool) (domain.Outcome, error) {
	var outcome domain.Outcome
	err := s.store.View(ctx, func(tx contract.Txn) error {
		conv, err := s.conversations.Get(tx, id)
		if err != nil {
			return err
		}
		return s.authorize(tx, user, conv)
	})
	if err != nil {
		return outcome, err
	}
	outcome.DeliverExcept(domain.ConversationRoom(id), user, domain.ChatTyping, chatTypingEvent{ConversationID: id, UserID: user, IsTyping: isTyping})
	return outcome, nil
}

// Read moves the cursor of user forward. Without an id the latest message is marked read.
// Ids above the latest message are clamped, ids below the cursor change nothing.
func (s *ChatService) Read(ctx context.Context, user domain.UserID, id domain.ConversationID, lastRead *domain.MessageID) (domain.Outcome, error) {
	var outcome domain.Outcome
	unlock, err := s.locks.Lock(ctx, conversationLock(id))
	if err != nil {
		return outcome, err
	}
	defer unlock()

	var unread int
	err = s.store.Update(ctx, func(tx contract.Txn) error {
		conv, err := s.conversations.Get(tx, id)
		if err != nil {
			return err
		}
		if err = s.authorize(tx, user, conv); err != nil {
			return err
		}
		cursor, err := s.conversations.Cursor(tx, id, user)
		if err != nil {
			return err
		}
		last, err := s.messages.Last(tx, id)
		if err != nil {
			return err
		}
		var latest domain.MessageID
		if last != nil {
			latest = last.ID
		}
		target := latest
		if lastRead != nil && *lastRead < latest {
			target = *lastRead
		}
		if target > cursor.LastRead {
			cursor.LastRead = target
			if err = s.conversations.SaveCursor(tx, cursor); err != nil {
				return err
			}
		}
		unread, err = s.messages.CountUnread(tx, id, user, cursor.LastRead)
		return err
	})
	if err != nil {
		return outcome, err
	}
	outcome.Deliver(domain.UserRoom(user), domain.ChatUnread, chatUnreadEvent{ConversationID: id, UnreadCount: unread})
	return outcome, nil
}

// HistoryBefore pages backwards. An empty page means the beginning of the conversation was reached.
func (s *ChatService) HistoryBefore(ctx context.Context, user domain.UserID, id domain.ConversationID, before domain.MessageID, limit int) (domain.Outcome, error) {
	var outcome domain.Outcome
	var messages []domain.Message
	err := s.store.View(ctx, func(tx contract.Txn) error {
		conv, err := s.conversations.Get(tx, id)
		if err != nil {
			return err
		}
		if err = s.authorize(tx, user, conv); err != nil {
			return err
		}
		messages, err = s.messages.Before(tx, id, before, domain.ClampLimit(limit, domain.DefaultHistoryLimit))
		return err
	})
	if err != nil {
		return outcome, err
	}
	outcome.Respond(domain.ChatHistoryBefore, chatHistoryResponse{ConversationID: id, Messages: messages})
	return outcome, nil
}

// SyncPartyMembers makes the party conversation mirror the party members,
// creating the conversation when it does not exist yet.
func (s *ChatService) SyncPartyMembers(ctx context.Context, party domain.Party) (domain.Outcome, error) {
	var outcome domain.Outcome
	unlock, err := s.locks.Lock(ctx, conversationLock(party.ConversationID))
	if err != nil {
		return outcome, err
	}
	defer unlock()

	members := party.MemberIDs()
	var added, removed []domain.UserID
	err = s.store.Update(ctx, func(tx contract.Txn) error {
		now := s.now().UTC()
		conv, err := s.conversations.Get(tx, party.ConversationID)
		if errors.Is(err, errors.ErrConversationNotFound) {
			added = members
			return s.conversations.Create(tx, domain.Conversation{
				ID:        party.ConversationID,
				Type:      domain.ConversationParty,
				PartyID:   party.ID,
				MemberIDs: members,
				CreatedAt: now,
			})
		}
		if err != nil {
			return err
		}
		added, removed = lo.Difference(members, conv.MemberIDs)
		for _, user := range removed {
			if err := s.conversations.RemoveMember(tx, &conv, user); err != nil {
				return err
			}
		}
		for _, user := range added {
			if err := s.conversations.AddMember(tx, &conv, user, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return outcome, err
	}

	room := domain.ConversationRoom(party.ConversationID)
	for _, user := range added {
		outcome.Join(user, room)
	}
	for _, user := range removed {
		outcome.Leave(user, room)
	}
	if len(added)+len(removed) > 0 {
		s.log.Debug("Party conversation synced", "party", party.ID, "added", len(added), "removed", len(removed))
	}
	return outcome, nil
}

// DeletePartyConversation removes a party conversation with its history.
func (s *ChatService) DeletePartyConversation(ctx context.Context, id domain.ConversationID) (domain.Outcome, error) {
	var outcome domain.Outcome
	unlock, err := s.locks.Lock(ctx, conversationLock(id))
	if err != nil {
		return outcome, err
	}
	defer unlock()

	err = s.store.Update(ctx, func(tx contract.Txn) error {
		conv, err := s.conversations.Get(tx, id)
		if errors.Is(err, errors.ErrConversationNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err = s.messages.DeleteAll(tx, id); err != nil {
			return err
		}
		return s.conversations.Delete(tx, conv)
	})
	if err != nil {
		return outcome, err
	}
	outcome.Drop(domain.ConversationRoom(id))
	return outcome, nil
}

// Reconcile re-derives every party conversation from the party members and
// removes party conversations whose party is gone.
func (s *ChatService) Reconcile(ctx context.Context) (domain.Outcome, error) {
	var outcome domain.Outcome
	var parties []domain.Party
	var conversations []domain.Conversation
	err := s.store.View(ctx, func(tx contract.Txn) error {
		var err error
		if parties, err = s.parties.List(tx); err != nil {
			return err
		}
		conversations, err = s.conversations.List(tx)
		return err
	})
	if err != nil {
		return outcome, err
	}

	for _, p := range parties {
		synced, err := s.reconcileParty(ctx, p.ID)
		if err != nil {
			return outcome, err
		}
		outcome.Merge(synced)
	}

	for _, conv := range conversations {
		if conv.Type != domain.ConversationParty {
			continue
		}
		orphan, err := s.reconcileOrphan(ctx, conv)
		if err != nil {
			return outcome, err
		}
		outcome.Merge(orphan)
	}
	return outcome, nil
}

func (s *ChatService) reconcileParty(ctx context.Context, id domain.PartyID) (domain.Outcome, error) {
	unlock, err := s.locks.Lock(ctx, partyLock(id))
	if err != nil {
		return domain.Outcome{}, err
	}
	defer unlock()

	var party domain.Party
	err = s.store.View(ctx, func(tx contract.Txn) error {
		party, err = s.parties.Get(tx, id)
		return err
	})
	if errors.Is(err, errors.ErrPartyNotFound) {
		return domain.Outcome{}, nil
	}
	if err != nil {
		return domain.Outcome{}, err
	}
	return s.SyncPartyMembers(ctx, party)
}

func (s *ChatService) reconcileOrphan(ctx context.Context, conv domain.Conversation) (domain.Outcome, error) {
	unlock, err := s.locks.Lock(ctx, partyLock(conv.PartyID))
	if err != nil {
		return domain.Outcome{}, err
	}
	defer unlock()

	var orphan bool
	err = s.store.View(ctx, func(tx contract.Txn) error {
		party, err := s.parties.Get(tx, conv.PartyID)
		if errors.Is(err, errors.ErrPartyNotFound) {
			orphan = true
			return nil
		}
		if err != nil {
			return err
		}
		orphan = party.ConversationID != conv.ID
		return nil
	})
	if err != nil || !orphan {
		return domain.Outcome{}, err
	}
	s.log.Info("Removing orphan party conversation", "conversation", conv.ID, "party", conv.PartyID)
	return s.DeletePartyConversation(ctx, conv.ID)
}

// authorize enforces membership, plus friendship for dms and party membership for party chats.
func (s *ChatService) authorize(tx contract.Txn, user domain.UserID, conv domain.Conversation) error {
	if !conv.IsMember(user) {
		return errors.ErrNotConversationMember
	}
	switch conv.Type {
	case domain.ConversationDM:
		friends, err := s.friends.AreFriends(tx, user, conv.Peer(user))
		if err != nil {
			return err
		}
		if !friends {
			return errors.ErrFriendshipRequired
		}
	case domain.ConversationParty:
		party, found, err := s.parties.PartyOf(tx, user)
		if err != nil {
			return err
		}
		if !found || party != conv.PartyID {
			return errors.ErrNotPartyMember
		}
	}
	return nil
}

func (s *ChatService) summarize(tx contract.Txn, user domain.UserID, conv domain.Conversation) (domain.ConversationSummary, error) {
	summary := domain.ConversationSummary{Conversation: conv, Title: "Party"}
	if conv.Type == domain.ConversationDM {
		peer, err := s.profiles.Lookup(tx, conv.Peer(user))
		if err != nil {
			return summary, err
		}
		summary.Title = peer.Username
	}
	cursor, err := s.conversations.Cursor(tx, conv.ID, user)
	if err != nil {
		return summary, err
	}
	if summary.LastMessage, err = s.messages.Last(tx, conv.ID); err != nil {
		return summary, err
	}
	summary.UnreadCount, err = s.messages.CountUnread(tx, conv.ID, user, cursor.LastRead)
	return summary, err
}

// withLists pushes a fresh chat_list to every device of each user.
func (s *ChatService) withLists(ctx context.Context, outcome domain.Outcome, users ...domain.UserID) (domain.Outcome, error) {
	for _, user := range users {
		list, err := s.List(ctx, user)
		if err != nil {
			return outcome, err
		}
		outcome.Deliver(domain.UserRoom(user), domain.ChatList, chatListResponse{Conversations: list})
	}
	return outcome, nil
}
