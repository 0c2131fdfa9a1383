package production

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLocksSerializeSameKey(t *testing.T) {
	locks := newKeyedLocks()

	release, err := locks.acquire(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, "a")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	other, err := locks.acquire(context.Background(), "b")
	require.NoError(t, err)
	other()

	release()
	release() // second call is a no-op

	again, err := locks.acquire(context.Background(), "a")
	require.NoError(t, err)
	again()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks)
}

func TestKeyedLocksHandOff(t *testing.T) {
	locks := newKeyedLocks()
	release, err := locks.acquire(context.Background(), "a")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := locks.acquire(context.Background(), "a")
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the lock early")
	case <-time.After(20 * time.Millisecond):
	}
	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}
