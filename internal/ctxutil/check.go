// Package ctxutil provides small helpers for cancellation checks in
// store and locking code.
package ctxutil

import (
	"context"
	"time"
)

// Canceled returns the context error once ctx is done, nil otherwise.
// Stores call it at entry so canceled callers never touch disk.
func Canceled(ctx context.Context) error {
	return ctx.Err()
}

// Sleep waits for d or until ctx is done, whichever comes first.
// It returns the context error when ctx ended the wait.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return Canceled(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
