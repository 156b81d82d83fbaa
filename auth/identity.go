package auth

import (
	"fmt"
	"net/http"
	"social-lab/domain"
	"social-lab/errors"
	"strings"
	"time"
)

const (
	CookieName = "jwt"
	QueryParam = "token"
)

// Identity is what a handshake is bound to for the lifetime of the connection.
type Identity struct {
	UserID  domain.UserID
	Profile domain.Profile
}

// Resolve extracts the token from the Authorization header, the jwt cookie
// or the token query parameter, in that order, and validates it.
func (t *Tokens) Resolve(r *http.Request) (Identity, error) {
	raw := tokenFromRequest(r)
	if raw == "" {
		return Identity{}, errors.ErrMissingToken
	}
	claims, err := t.ValidateToken(raw)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", errors.ErrInvalidToken, err)
	}
	if !validUserID(claims.UserID) {
		return Identity{}, fmt.Errorf("%w: malformed user id", errors.ErrInvalidToken)
	}

	username := strings.TrimSpace(claims.Username)
	if username == "" {
		username = claims.UserID
	}
	return Identity{
		UserID: domain.UserID(claims.UserID),
		Profile: domain.Profile{
			UserID:    domain.UserID(claims.UserID),
			Username:  username,
			AvatarURL: claims.AvatarURL,
			UpdatedAt: time.Now().UTC(),
		},
	}, nil
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get(QueryParam)
}

// validUserID refuses separators used in storage keys and room names.
func validUserID(id string) bool {
	return id != "" && len(id) <= 128 && !strings.ContainsAny(id, ": \t\n")
}
