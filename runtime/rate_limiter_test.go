package runtime

import (
	"social-lab/domain"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLimiter(rules map[domain.EventKind]Rule) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewRateLimiter(rules)
	limiter.now = clock.Now
	return limiter, clock
}

func TestRateLimiter_Rejects_The_N_Plus_One_Event(t *testing.T) {
	req := require.New(t)
	limiter, clock := newLimiter(DefaultRules())

	// Given ten chat_send admitted within the window
	for i := 0; i < 10; i++ {
		req.True(limiter.Admit("alice", domain.ChatSend), "event %d", i)
		clock.Advance(100 * time.Millisecond)
	}

	// Then the eleventh is rejected
	req.False(limiter.Admit("alice", domain.ChatSend))

	// And other users and kinds are independent
	req.True(limiter.Admit("bob", domain.ChatSend))
	req.True(limiter.Admit("alice", domain.FriendsSearch))
}

func TestRateLimiter_Window_Slides(t *testing.T) {
	req := require.New(t)
	limiter, clock := newLimiter(map[domain.EventKind]Rule{domain.ChatSend: {Limit: 2, Window: time.Second}})

	req.True(limiter.Admit("alice", domain.ChatSend))
	clock.Advance(600 * time.Millisecond)
	req.True(limiter.Admit("alice", domain.ChatSend))
	req.False(limiter.Admit("alice", domain.ChatSend))

	// When the first hit leaves the window one slot frees up
	clock.Advance(500 * time.Millisecond)
	req.True(limiter.Admit("alice", domain.ChatSend))
	req.False(limiter.Admit("alice", domain.ChatSend))
}

func TestRateLimiter_Unlimited_Kinds(t *testing.T) {
	req := require.New(t)
	limiter, _ := newLimiter(DefaultRules())

	for i := 0; i < 1000; i++ {
		req.True(limiter.Admit("alice", domain.ChatTyping))
	}
	req.Zero(limiter.Size())
}

func TestRateLimiter_Concurrent_Connections_Share_The_Bucket(t *testing.T) {
	req := require.New(t)
	limiter, _ := newLimiter(map[domain.EventKind]Rule{domain.ChatSend: {Limit: 10, Window: time.Minute}})

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Admit("alice", domain.ChatSend) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	req.Equal(int32(10), admitted.Load())
}

func TestRateLimiter_Evict_Idle_Buckets(t *testing.T) {
	req := require.New(t)
	limiter, clock := newLimiter(DefaultRules())
	limiter.Admit("alice", domain.ChatSend)
	limiter.Admit("bob", domain.FriendsRequestSend)

	clock.Advance(10 * time.Second)

	// chat_send window is 8s, friends_request_send is one minute
	req.Equal(1, limiter.Evict())
	req.Equal(1, limiter.Size())
}

func TestRateLimiter_Evicted_Bucket_Records_Nothing(t *testing.T) {
	req := require.New(t)
	rule := Rule{Limit: 2, Window: 8 * time.Second}
	limiter, clock := newLimiter(map[domain.EventKind]Rule{domain.ChatSend: rule})
	key := bucketKey{user: "alice", kind: domain.ChatSend}

	// Given an Admit that looked its bucket up just before the bucket was evicted
	req.True(limiter.Admit("alice", domain.ChatSend))
	stale := limiter.buckets[key]
	clock.Advance(9 * time.Second)
	req.Equal(1, limiter.Evict())

	// When it records into the bucket it holds
	_, live := stale.admit(clock.Now(), rule)

	// Then the hit is refused there and lands in the live bucket instead
	req.False(live)
	req.Len(stale.hits, 1)
	req.True(limiter.Admit("alice", domain.ChatSend))
	req.True(limiter.Admit("alice", domain.ChatSend))
	req.False(limiter.Admit("alice", domain.ChatSend))
	req.Equal(1, limiter.Size())
	req.NotSame(stale, limiter.buckets[key])
}
