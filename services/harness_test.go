package services

import (
	"context"
	"log/slog"
	"social-lab/contract"
	"social-lab/domain"
	"social-lab/errors"
	"social-lab/infrastructure/storage"
	"social-lab/mocks"
	"social-lab/moderation"
	"social-lab/repositories"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// testLocker is a plain per key mutex, enough for tests that do not measure waiting.
type testLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *testLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}

func (l *testLocker) LockAll(ctx context.Context, keys ...string) (func(), error) {
	var releases []func()
	for _, key := range keys {
		release, _ := l.Lock(ctx, key)
		releases = append(releases, release)
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}, nil
}

// hookedStore runs beforeUpdate once ahead of the next write and fails writes while failing is set.
type hookedStore struct {
	contract.Store
	failing      atomic.Bool
	beforeUpdate func()
}

func (s *hookedStore) Update(ctx context.Context, fn func(tx contract.Txn) error) error {
	if hook := s.beforeUpdate; hook != nil {
		s.beforeUpdate = nil
		hook()
	}
	if s.failing.Load() {
		return errors.Wrap(errors.ErrStoreTimeout, context.DeadlineExceeded)
	}
	return s.Store.Update(ctx, fn)
}

type harness struct {
	ctx      context.Context
	store    *storage.KV
	index    *mocks.MockIUserIndex
	images   *mocks.MockImageValidator
	friends  *FriendService
	presence *PresenceService
	parties  *PartyService
	chat     *ChatService
	session  *SessionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	store := storage.NewKV(db, log, 5*time.Second)
	t.Cleanup(func() {
		store.Close()
		_ = db.Close()
	})

	ctrl := gomock.NewController(t)
	index := mocks.NewMockIUserIndex(ctrl)
	images := mocks.NewMockImageValidator(ctrl)
	moderator, err := moderation.NewModerator([]string{"badger"}, '*', log)
	require.NoError(t, err)

	locks := &testLocker{}
	chat := NewChatService(store, locks, images, moderator, log)
	friends := NewFriendService(store, locks, index, log)
	presence := NewPresenceService(store, locks, log)
	parties := NewPartyService(store, locks, chat, log)
	return &harness{
		ctx:      context.Background(),
		store:    store,
		index:    index,
		images:   images,
		friends:  friends,
		presence: presence,
		parties:  parties,
		chat:     chat,
		session:  NewSessionService(store, index, friends, presence, parties, chat, log),
	}
}

// users registers directory entries the way a first connection would.
func (h *harness) users(t *testing.T, ids ...domain.UserID) {
	t.Helper()
	profiles := repositories.NewProfileRepository()
	err := h.store.Update(h.ctx, func(tx contract.Txn) error {
		for _, id := range ids {
			if err := profiles.Save(tx, domain.Profile{UserID: id, Username: string(id), UpdatedAt: time.Now()}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (h *harness) befriend(t *testing.T, a, b domain.UserID) {
	t.Helper()
	_, err := h.friends.SendRequest(h.ctx, a, b)
	require.NoError(t, err)
	_, err = h.friends.Accept(h.ctx, b, "", a)
	require.NoError(t, err)
}

func (h *harness) openDM(t *testing.T, a, b domain.UserID) domain.ConversationID {
	t.Helper()
	outcome, err := h.chat.OpenDM(h.ctx, a, b)
	require.NoError(t, err)
	require.NotNil(t, outcome.Reply)
	return outcome.Reply.Data.(chatOpenResponse).Conversation.Conversation.ID
}

func (h *harness) send(t *testing.T, user domain.UserID, conv domain.ConversationID, text string) domain.Message {
	t.Helper()
	outcome, err := h.chat.Send(h.ctx, user, conv, domain.MessageDraft{Type: domain.MessageText, BodyText: text})
	require.NoError(t, err)
	messages := outcome.DeliveriesOf(domain.ChatMessage)
	require.Len(t, messages, 1)
	return messages[0].Envelope.Data.(chatMessageEvent).Message
}

func (h *harness) createParty(t *testing.T, leader domain.UserID) domain.Party {
	t.Helper()
	_, err := h.parties.Create(h.ctx, leader)
	require.NoError(t, err)
	state, err := h.parties.State(h.ctx, leader)
	require.NoError(t, err)
	require.NotNil(t, state.Party)
	return *state.Party
}

// join runs the whole invite flow for a friend of the leader.
func (h *harness) join(t *testing.T, party domain.Party, leader, user domain.UserID) {
	t.Helper()
	outcome, err := h.parties.Invite(h.ctx, leader, party.ID, user)
	require.NoError(t, err)
	invites := outcome.DeliveriesOf(domain.PartyInviteReceived)
	require.Len(t, invites, 1)
	invite := invites[0].Envelope.Data.(partyInviteNotice).Invite
	_, err = h.parties.AcceptInvite(h.ctx, user, invite.ID)
	require.NoError(t, err)
}

func (h *harness) party(t *testing.T, user domain.UserID) *domain.Party {
	t.Helper()
	state, err := h.parties.State(h.ctx, user)
	require.NoError(t, err)
	return state.Party
}

func (h *harness) unread(t *testing.T, user domain.UserID, conv domain.ConversationID) int {
	t.Helper()
	summaries, err := h.chat.List(h.ctx, user)
	require.NoError(t, err)
	for _, s := range summaries {
		if s.Conversation.ID == conv {
			return s.UnreadCount
		}
	}
	t.Fatalf("conversation %s not listed for %s", conv, user)
	return 0
}

// targets drops the stamps so that subscriptions compare by user and room.
func targets(subscriptions []domain.Subscription) []domain.Subscription {
	out := make([]domain.Subscription, 0, len(subscriptions))
	for _, s := range subscriptions {
		out = append(out, domain.Subscription{User: s.User, Room: s.Room})
	}
	return out
}

func rooms(subscriptions []domain.Subscription) []domain.RoomKey {
	out := make([]domain.RoomKey, 0, len(subscriptions))
	for _, s := range subscriptions {
		out = append(out, s.Room)
	}
	return out
}
