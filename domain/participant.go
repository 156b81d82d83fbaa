// Package domain contains core concepts of the social system.
// No runtime, network, or storage logic should be added here.
package domain

import "time"

// UserID is the authenticated identity bound to a connection at handshake.
type UserID string

// ConnID identifies one live connection. A user may hold several.
type ConnID string

// Profile is the directory entry used by search and friend lists.
type Profile struct {
	UserID    UserID    `json:"user_id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pair orders two user ids so that an unordered pair has a single representation.
func Pair(a, b UserID) (low, high UserID) {
	if a < b {
		return a, b
	}
	return b, a
}
