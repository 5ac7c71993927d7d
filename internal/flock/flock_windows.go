//go:build windows

package flock

import (
	"os"

	"golang.org/x/sys/windows"
)

// LockFileEx byte range: the first byte stands for the whole file.
const (
	rangeReserved = 0
	rangeLow      = 1
	rangeHigh     = 0
)

// tryLock takes an exclusive lock on f without blocking.
func tryLock(f *os.File) error {
	return windows.LockFileEx(
		windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		rangeReserved,
		rangeLow,
		rangeHigh,
		&windows.Overlapped{},
	)
}

func unlock(f *os.File) error {
	return windows.UnlockFileEx(
		windows.Handle(f.Fd()),
		rangeReserved,
		rangeLow,
		rangeHigh,
		&windows.Overlapped{},
	)
}
