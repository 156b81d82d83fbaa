package search

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultLimit   = 20
	MaxQueryLength = 64
)

// Query represents the structured parameters of a friends search.
// It decouples the raw client input from the index requirements.
type Query struct {
	RawInput string // The original text typed by the user
	Terms    string // Lower cased text actually searched
	Limit    int    // Number of results
}

// NewSearchQuery normalizes a raw search string.
// Leading '@' markers are dropped so that "@alice" finds "alice".
func NewSearchQuery(input string) *Query {
	query := &Query{
		RawInput: input,
		Limit:    DefaultLimit,
	}

	var terms []string
	for _, part := range strings.Fields(input) {
		part = strings.TrimLeft(part, "@")
		if part != "" {
			terms = append(terms, strings.ToLower(part))
		}
	}

	query.Terms = strings.Join(terms, " ")
	if utf8.RuneCountInString(query.Terms) > MaxQueryLength {
		query.Terms = string([]rune(query.Terms)[:MaxQueryLength])
	}
	return query
}

func (q *Query) Empty() bool {
	return q.Terms == ""
}
