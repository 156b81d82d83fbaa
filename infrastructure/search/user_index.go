package search

import (
	"context"
	"log/slog"
	"social-lab/domain"
	"strings"

	"github.com/blugelabs/bluge"
)

const (
	fieldUserID   = "user_id"
	fieldUsername = "username"
)

// UserIndex is the bluge backed directory behind friends_search.
type UserIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewUserIndex(writer *bluge.Writer, log *slog.Logger) *UserIndex {
	return &UserIndex{writer: writer, log: log}
}

// Upsert replaces the indexed document of a user.
func (u *UserIndex) Upsert(profile domain.Profile) error {
	doc := bluge.NewDocument(string(profile.UserID))
	doc.AddField(bluge.NewKeywordField(fieldUserID, strings.ToLower(string(profile.UserID))))
	doc.AddField(bluge.NewTextField(fieldUsername, profile.Username))
	// Keyword copy for prefix matching on the full name
	doc.AddField(bluge.NewKeywordField(fieldUsername+"_exact", strings.ToLower(profile.Username)))
	return u.writer.Update(doc.ID(), doc)
}

// Search matches terms against usernames (full words and prefixes) and exact user ids.
func (u *UserIndex) Search(ctx context.Context, terms string, limit int) ([]domain.UserID, error) {
	terms = strings.ToLower(strings.TrimSpace(terms))
	if terms == "" || limit <= 0 {
		return nil, nil
	}

	query := bluge.NewBooleanQuery().
		AddShould(bluge.NewMatchQuery(terms).SetField(fieldUsername)).
		AddShould(bluge.NewPrefixQuery(terms).SetField(fieldUsername + "_exact")).
		AddShould(bluge.NewTermQuery(terms).SetField(fieldUserID))
	for _, word := range strings.Fields(terms) {
		query.AddShould(bluge.NewPrefixQuery(word).SetField(fieldUsername))
	}
	query.SetMinShould(1)

	reader, err := u.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			u.log.Warn("Unable to close bluge reader", "error", err)
		}
	}()

	matches, err := reader.Search(ctx, bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, err
	}

	var ids []domain.UserID
	match, err := matches.Next()
	for err == nil && match != nil {
		visitErr := match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				ids = append(ids, domain.UserID(value))
				return false
			}
			return true
		})
		if visitErr != nil {
			return nil, visitErr
		}
		match, err = matches.Next()
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}
