//go:build unix

package flock_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/mrz1836/conductor/internal/errors"
	"github.com/mrz1836/conductor/internal/flock"
)

func TestAcquire(t *testing.T) {
	t.Parallel()

	t.Run("acquires and releases", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "plan.lock")

		lock, err := flock.Acquire(context.Background(), path, time.Second)
		require.NoError(t, err)
		require.NoError(t, lock.Release())
		require.NoError(t, lock.Release(), "second release is a no-op")
	})

	t.Run("times out while held", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "plan.lock")

		held, err := flock.Acquire(context.Background(), path, time.Second)
		require.NoError(t, err)
		defer func() { _ = held.Release() }()

		start := time.Now()
		_, err = flock.Acquire(context.Background(), path, 150*time.Millisecond)
		require.ErrorIs(t, err, cerrors.ErrLockTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	})

	t.Run("reacquires after release", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "plan.lock")

		first, err := flock.Acquire(context.Background(), path, time.Second)
		require.NoError(t, err)
		require.NoError(t, first.Release())

		second, err := flock.Acquire(context.Background(), path, time.Second)
		require.NoError(t, err)
		assert.NoError(t, second.Release())
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "plan.lock")

		held, err := flock.Acquire(context.Background(), path, time.Second)
		require.NoError(t, err)
		defer func() { _ = held.Release() }()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err = flock.Acquire(ctx, path, 10*time.Second)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("nil lock release", func(t *testing.T) {
		t.Parallel()
		var l *flock.Lock
		assert.NoError(t, l.Release())
	})
}
