// Package flock provides a cross-platform exclusive file lock with bounded
// retry. The file plan store takes one per plan so two conductor processes
// never interleave writes to the same event log.
//
// Usage:
//
//	lock, err := flock.Acquire(ctx, filepath.Join(dir, "plan.lock"), constants.LockTimeout)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = lock.Release() }()
package flock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/ctxutil"
	cerrors "github.com/mrz1836/conductor/internal/errors"
)

const lockFilePerm = 0o600

// Lock is a held exclusive file lock.
type Lock struct {
	f *os.File
}

// Acquire opens (creating if needed) the lock file at path and takes an
// exclusive lock on it, retrying until timeout elapses or ctx is done.
// A timeout of zero uses constants.LockTimeout.
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = constants.LockTimeout
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePerm) //#nosec G302,G304 -- lock file path is constructed by the store
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		if err := ctxutil.Canceled(ctx); err != nil {
			_ = f.Close()
			return nil, err
		}

		if err := tryLock(f); err == nil {
			return &Lock{f: f}, nil
		}

		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, fmt.Errorf("failed to acquire lock on %s: %w", path, cerrors.ErrLockTimeout)
		}

		if err := ctxutil.Sleep(ctx, constants.LockRetryInterval); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
}

// Release unlocks and closes the lock file. Releasing a nil lock is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil

	if err := unlock(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return f.Close()
}
