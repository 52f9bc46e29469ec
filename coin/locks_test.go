package coin

import (
	"context"
	"testing"
	"time"

	"github.com/sportcoin/coin-engine/generic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserLocks_WaitEndsWithContext(t *testing.T) {
	locks := newUserLocks()

	// GIVEN: u1 is held by a slow writer
	unlock, err := locks.Lock(context.Background(), "u1")
	require.NoError(t, err)

	// WHEN: Another writer waits with a deadline
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "u1")

	// THEN: It gives up with a retryable error
	assert.ErrorIs(t, err, generic.ErrTransient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Other users are not blocked.
	unlockOther, err := locks.Lock(context.Background(), "u2")
	require.NoError(t, err)
	unlockOther()

	unlock()
	again, err := locks.Lock(context.Background(), "u1")
	require.NoError(t, err)
	again()
	assert.Empty(t, locks.locks)
}
