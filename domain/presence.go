package domain

import (
	"strings"
	"time"
)

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

const (
	ActivityModeMaxLength   = 32
	ActivityTargetMaxLength = 80
	ActivityLabelMaxLength  = 80
)

// Manual reports whether a client may set the status explicitly.
// Offline is only ever reached through the last disconnect.
func (s PresenceStatus) Manual() bool {
	return s == PresenceOnline || s == PresenceAway
}

type Activity struct {
	Mode   string `json:"mode,omitempty"`
	Target string `json:"target,omitempty"`
	Label  string `json:"label,omitempty"`
}

func (a Activity) Normalize() Activity {
	return Activity{
		Mode:   strings.TrimSpace(a.Mode),
		Target: strings.TrimSpace(a.Target),
		Label:  strings.TrimSpace(a.Label),
	}
}

func (a Activity) Empty() bool {
	return a.Mode == "" && a.Target == "" && a.Label == ""
}

func (a Activity) Valid() bool {
	return len([]rune(a.Mode)) <= ActivityModeMaxLength &&
		len([]rune(a.Target)) <= ActivityTargetMaxLength &&
		len([]rune(a.Label)) <= ActivityLabelMaxLength
}

type Presence struct {
	UserID   UserID         `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen *time.Time     `json:"last_seen,omitempty"`
	Activity *Activity      `json:"activity,omitempty"`
	// Away is remembered across reconnections when set manually.
	Away bool `json:"-"`
}

// Rank orders presences for friend lists: online, then away, then offline.
func (p *Presence) Rank() int {
	if p == nil {
		return 2
	}
	switch p.Status {
	case PresenceOnline:
		return 0
	case PresenceAway:
		return 1
	default:
		return 2
	}
}
