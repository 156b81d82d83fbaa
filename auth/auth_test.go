package auth

import (
	"net/http"
	"net/http/httptest"
	"social-lab/domain"
	"social-lab/errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	req := require.New(t)
	tokens := NewTokens("a_test_secret_long_enough_for_hs256")

	token, err := tokens.GenerateToken("user-1", "alice", []string{"user"}, time.Hour)
	req.NoError(err)

	claims, err := tokens.ValidateToken(token)
	req.NoError(err)
	req.Equal("user-1", claims.UserID)
	req.Equal("alice", claims.Username)
	req.Equal([]string{"user"}, claims.Roles)

	// A token signed with another secret is rejected
	_, err = NewTokens("another_secret_long_enough_for_hs256").ValidateToken(token)
	req.Error(err)

	// An expired token is rejected
	expired, err := tokens.GenerateToken("user-1", "alice", nil, -time.Minute)
	req.NoError(err)
	_, err = tokens.ValidateToken(expired)
	req.Error(err)
}

func TestResolve(t *testing.T) {
	tokens := NewTokens("a_test_secret_long_enough_for_hs256")
	valid, err := tokens.GenerateToken("user-1", "alice", nil, time.Hour)
	require.NoError(t, err)
	withColon, err := tokens.GenerateToken("user:1", "mallory", nil, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		request func() *http.Request
		wantErr error
	}{
		{
			name: "bearer header",
			request: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/social", nil)
				r.Header.Set("Authorization", "Bearer "+valid)
				return r
			},
		},
		{
			name: "cookie",
			request: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/social", nil)
				r.AddCookie(&http.Cookie{Name: CookieName, Value: valid})
				return r
			},
		},
		{
			name: "query parameter",
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/social?token="+valid, nil)
			},
		},
		{
			name: "missing token",
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/social", nil)
			},
			wantErr: errors.ErrMissingToken,
		},
		{
			name: "garbage token",
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/social?token=garbage", nil)
			},
			wantErr: errors.ErrInvalidToken,
		},
		{
			name: "user id with a key separator",
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/social?token="+withColon, nil)
			},
			wantErr: errors.ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			identity, err := tokens.Resolve(tt.request())
			if tt.wantErr != nil {
				req.ErrorIs(err, tt.wantErr)
				return
			}
			req.NoError(err)
			req.Equal(domain.UserID("user-1"), identity.UserID)
			req.Equal("alice", identity.Profile.Username)
		})
	}
}
