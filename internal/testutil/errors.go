// Package testutil provides testing utilities for conductor.
//
// This package contains mock errors and fixture helpers used across test
// files. It should only be imported by test files (*_test.go).
package testutil

import "errors"

// Mock errors for testing purposes.
// These errors are used to simulate various failure scenarios in tests.
var (
	// ErrMockExecutor indicates a mock executor invocation failed (used in tests).
	ErrMockExecutor = errors.New("executor crashed")

	// ErrMockStoreUnavailable indicates a mock plan store is unavailable (used in tests).
	ErrMockStoreUnavailable = errors.New("plan store unavailable")

	// ErrMockNetwork indicates a mock network error occurred (used in tests).
	ErrMockNetwork = errors.New("network error")

	// ErrMockFormAborted indicates a mock confirmation form was aborted (used in tests).
	ErrMockFormAborted = errors.New("user aborted")
)
