package runtime

import (
	"context"
	"social-lab/errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_Serializes_Same_Key(t *testing.T) {
	req := require.New(t)
	locks := NewKeyedMutex()
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(ctx, "party:p1")
			if err != nil {
				return
			}
			defer unlock()
			current := counter
			time.Sleep(time.Microsecond)
			counter = current + 1
		}()
	}
	wg.Wait()

	req.Equal(100, counter)
	req.Zero(locks.Size())
}

func TestKeyedMutex_Waiting_Is_Bounded_By_Context(t *testing.T) {
	req := require.New(t)
	locks := NewKeyedMutex()

	unlock, err := locks.Lock(context.Background(), "party:p1")
	req.NoError(err)
	defer unlock()

	// Other keys are free
	other, err := locks.Lock(context.Background(), "party:p2")
	req.NoError(err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "party:p1")

	req.ErrorIs(err, errors.ErrLockTimeout)
	req.True(errors.IsRetryable(err))
}

func TestKeyedMutex_LockAll_Releases_On_Failure(t *testing.T) {
	req := require.New(t)
	locks := NewKeyedMutex()

	held, err := locks.Lock(context.Background(), "user:bob")
	req.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.LockAll(ctx, "party:p1", "user:bob")
	req.Error(err)

	// party:p1 was released when user:bob could not be taken
	unlock, err := locks.Lock(context.Background(), "party:p1")
	req.NoError(err)
	unlock()
	held()
	req.Zero(locks.Size())
}
