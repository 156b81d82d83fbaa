package repositories

import (
	"context"
	"log/slog"
	"social-lab/contract"
	"social-lab/domain"
	"social-lab/infrastructure/storage"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) contract.Store {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	kv := storage.NewKV(db, logs.GetLoggerFromLevel(slog.LevelDebug), time.Second)
	t.Cleanup(func() {
		kv.Close()
		_ = db.Close()
	})
	return kv
}

func seedMessages(t *testing.T, store contract.Store, conv domain.ConversationID, senders ...domain.UserID) []domain.Message {
	t.Helper()
	repository := NewMessageRepository()
	at := time.Now().UTC()
	var messages []domain.Message
	err := store.Update(context.Background(), func(tx contract.Txn) error {
		for i, sender := range senders {
			message := domain.Message{
				ID:             domain.MessageID(i + 1),
				ConversationID: conv,
				SenderID:       sender,
				Type:           domain.MessageText,
				BodyText:       "hello",
				CreatedAt:      at.Add(time.Duration(i) * time.Second),
			}
			if err := repository.Append(tx, message); err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	require.NoError(t, err)
	return messages
}

func ids(messages []domain.Message) []domain.MessageID {
	out := make([]domain.MessageID, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func Test_Latest_Messages_Are_Chronological(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	repository := NewMessageRepository()
	seedMessages(t, store, "c1", "alice", "bob", "alice", "bob", "alice")
	seedMessages(t, store, "c2", "carol")

	err := store.View(context.Background(), func(tx contract.Txn) error {
		latest, err := repository.Latest(tx, "c1", 3)
		req.NoError(err)
		req.Equal([]domain.MessageID{3, 4, 5}, ids(latest))

		all, err := repository.Latest(tx, "c1", 60)
		req.NoError(err)
		req.Len(all, 5)

		last, err := repository.Last(tx, "c1")
		req.NoError(err)
		req.Equal(domain.MessageID(5), last.ID)
		return nil
	})
	req.NoError(err)
}

func Test_History_Before_Pages_Backwards(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	repository := NewMessageRepository()
	seedMessages(t, store, "c1", "alice", "bob", "alice", "bob", "alice")

	tests := []struct {
		name     string
		before   domain.MessageID
		limit    int
		expected []domain.MessageID
	}{
		{name: "strictly below the cursor", before: 5, limit: 2, expected: []domain.MessageID{3, 4}},
		{name: "page reaching the start", before: 3, limit: 10, expected: []domain.MessageID{1, 2}},
		{name: "cursor above every id", before: 100, limit: 2, expected: []domain.MessageID{4, 5}},
		{name: "oldest id gives an empty page", before: 1, limit: 10, expected: []domain.MessageID{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.View(context.Background(), func(tx contract.Txn) error {
				page, err := repository.Before(tx, "c1", tt.before, tt.limit)
				req.NoError(err)
				req.Equal(tt.expected, ids(page))
				return nil
			})
			req.NoError(err)
		})
	}
}

func Test_Count_Unread_Ignores_Own_Messages(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	repository := NewMessageRepository()
	seedMessages(t, store, "c1", "alice", "bob", "alice", "bob", "alice")

	err := store.View(context.Background(), func(tx contract.Txn) error {
		unread, err := repository.CountUnread(tx, "c1", "bob", 0)
		req.NoError(err)
		req.Equal(3, unread)

		unread, err = repository.CountUnread(tx, "c1", "bob", 3)
		req.NoError(err)
		req.Equal(1, unread)

		unread, err = repository.CountUnread(tx, "c1", "alice", 5)
		req.NoError(err)
		req.Zero(unread)
		return nil
	})
	req.NoError(err)
}

func Test_Delete_All_Messages(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	repository := NewMessageRepository()
	seedMessages(t, store, "c1", "alice", "bob")
	seedMessages(t, store, "c2", "carol")

	err := store.Update(context.Background(), func(tx contract.Txn) error {
		return repository.DeleteAll(tx, "c1")
	})
	req.NoError(err)

	err = store.View(context.Background(), func(tx contract.Txn) error {
		last, err := repository.Last(tx, "c1")
		req.NoError(err)
		req.Nil(last)

		other, err := repository.Latest(tx, "c2", 10)
		req.NoError(err)
		req.Len(other, 1)
		return nil
	})
	req.NoError(err)
}
