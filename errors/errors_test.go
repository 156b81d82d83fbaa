package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrap_Keeps_Sentinel_And_Cause(t *testing.T) {
	req := require.New(t)

	err := Wrap(ErrStoreTimeout, context.DeadlineExceeded)

	req.ErrorIs(err, ErrStoreTimeout)
	req.ErrorIs(err, context.DeadlineExceeded)
	req.Equal(KindUnavailable, KindOf(err))
	req.True(IsRetryable(err))
}

func TestKindOf_Unknown_Error_Is_Internal(t *testing.T) {
	req := require.New(t)

	req.Equal(KindInternal, KindOf(fmt.Errorf("boom")))
	req.False(IsRetryable(fmt.Errorf("boom")))
}

func TestPublicMessage_Hides_Internal_Details(t *testing.T) {
	req := require.New(t)

	// Given a business error wrapped with details
	business := fmt.Errorf("party p1: %w", ErrNotPartyLeader)
	// And an unexpected one
	internal := Wrap(ErrInternal, fmt.Errorf("badger: value log corrupted"))

	req.Equal("only the party leader can do this", PublicMessage(business))
	req.Equal(KindPermissionDenied, KindOf(business))
	req.Equal(internalMessage, PublicMessage(internal))
	req.Equal(internalMessage, PublicMessage(fmt.Errorf("raw")))
}

func TestOnly_Unavailable_Is_Retryable(t *testing.T) {
	req := require.New(t)

	req.False(IsRetryable(ErrRateLimited))
	req.False(IsRetryable(ErrInvalidPayload))
	req.True(IsRetryable(ErrLockTimeout))
	req.True(IsRetryable(ErrStoreUnavailable))
}
