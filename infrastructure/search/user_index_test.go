package search

import (
	"context"
	"log/slog"
	"social-lab/domain"
	"testing"

	"github.com/blugelabs/bluge"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func newIndex(t *testing.T) *UserIndex {
	t.Helper()
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })
	return NewUserIndex(writer, logs.GetLoggerFromLevel(slog.LevelDebug))
}

func TestUserIndex_Search(t *testing.T) {
	req := require.New(t)
	index := newIndex(t)
	ctx := context.Background()

	// Given three known users
	for _, p := range []domain.Profile{
		{UserID: "u-1", Username: "Alice Cooper"},
		{UserID: "u-2", Username: "alicia"},
		{UserID: "u-3", Username: "Bob"},
	} {
		req.NoError(index.Upsert(p))
	}

	tests := []struct {
		name     string
		terms    string
		expected []domain.UserID
	}{
		{name: "prefix matches several usernames", terms: "ali", expected: []domain.UserID{"u-1", "u-2"}},
		{name: "full word is case insensitive", terms: "COOPER", expected: []domain.UserID{"u-1"}},
		{name: "exact user id", terms: "u-3", expected: []domain.UserID{"u-3"}},
		{name: "nothing matches", terms: "zed", expected: nil},
		{name: "blank terms", terms: "   ", expected: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := index.Search(ctx, tt.terms, 10)
			require.NoError(t, err)
			require.ElementsMatch(t, tt.expected, ids)
		})
	}
}

func TestUserIndex_Upsert_Replaces_Document(t *testing.T) {
	req := require.New(t)
	index := newIndex(t)
	ctx := context.Background()

	req.NoError(index.Upsert(domain.Profile{UserID: "u-1", Username: "oldname"}))
	req.NoError(index.Upsert(domain.Profile{UserID: "u-1", Username: "newname"}))

	ids, err := index.Search(ctx, "oldname", 10)
	req.NoError(err)
	req.Empty(ids)

	ids, err = index.Search(ctx, "newname", 10)
	req.NoError(err)
	req.Equal([]domain.UserID{"u-1"}, ids)
}
