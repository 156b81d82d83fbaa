package runtime

import (
	"social-lab/domain"
	"sync"
	"time"
)

// Rule bounds how many events of a kind a user may send within a trailing window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRules lists the limited kinds. Kinds without a rule, like chat_typing, are always admitted.
func DefaultRules() map[domain.EventKind]Rule {
	return map[domain.EventKind]Rule{
		domain.ChatSend:           {Limit: 10, Window: 8 * time.Second},
		domain.ChatOpenDM:         {Limit: 30, Window: time.Minute},
		domain.FriendsRequestSend: {Limit: 20, Window: time.Minute},
		domain.FriendsSearch:      {Limit: 30, Window: 10 * time.Second},
		domain.PartyCreate:        {Limit: 10, Window: time.Minute},
		domain.PartyInviteSend:    {Limit: 20, Window: time.Minute},
	}
}

type bucketKey struct {
	user domain.UserID
	kind domain.EventKind
}

// bucket is a sliding window log: the timestamps of admitted events still inside the window.
// A dead bucket was evicted, events must go to the bucket now in the map.
type bucket struct {
	mu   sync.Mutex
	hits []time.Time
	last time.Time
	dead bool
}

type RateLimiter struct {
	mu      sync.Mutex
	rules   map[domain.EventKind]Rule
	buckets map[bucketKey]*bucket
	now     func() time.Time
}

func NewRateLimiter(rules map[domain.EventKind]Rule) *RateLimiter {
	return &RateLimiter{
		rules:   rules,
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
	}
}

// Admit records the event and reports whether it fits in the window.
// Rejected events are not recorded.
func (r *RateLimiter) Admit(user domain.UserID, kind domain.EventKind) bool {
	rule, ok := r.rules[kind]
	if !ok || rule.Limit <= 0 {
		return true
	}

	key := bucketKey{user: user, kind: kind}
	for {
		if admitted, live := r.bucket(key).admit(r.now(), rule); live {
			return admitted
		}
	}
}

func (r *RateLimiter) bucket(key bucketKey) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{}
		r.buckets[key] = b
	}
	return b
}

// Evict forgets buckets idle for longer than their window and returns how many were dropped.
func (r *RateLimiter) Evict() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for key, b := range r.buckets {
		window := r.rules[key.kind].Window
		b.mu.Lock()
		idle := now.Sub(b.last) > window
		b.dead = idle
		b.mu.Unlock()
		if idle {
			delete(r.buckets, key)
			evicted++
		}
	}
	return evicted
}

func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// admit reports live=false when the bucket was evicted, nothing is recorded then.
func (b *bucket) admit(now time.Time, rule Rule) (admitted, live bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dead {
		return false, false
	}
	b.prune(now.Add(-rule.Window))
	b.last = now
	if len(b.hits) >= rule.Limit {
		return false, true
	}
	b.hits = append(b.hits, now)
	return true, true
}

func (b *bucket) prune(cutoff time.Time) {
	i := 0
	for i < len(b.hits) && !b.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.hits = append(b.hits[:0], b.hits[i:]...)
	}
}
