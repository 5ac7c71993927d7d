// Package signal turns interrupt signals into plan-run cancellation for the
// conductor CLI.
//
// The first SIGINT or SIGTERM cancels the run context so the caller can
// abandon the plan and stop dispatching. A second signal closes Forced so the
// caller can exit without waiting for in-flight tasks to wind down.
//
// Import rules:
//   - CAN import: std lib only
//   - MUST NOT import: internal packages
package signal

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Handler cancels a context on the first interrupt and reports a second one.
type Handler struct {
	ctx         context.Context //nolint:containedctx // the handler owns the run context
	cancel      context.CancelFunc
	interrupted chan struct{}
	forced      chan struct{}
	done        chan struct{}
	sigChan     chan os.Signal

	mu       sync.Mutex
	received int
	stopOnce sync.Once
}

// NewHandler starts listening for SIGINT and SIGTERM.
//
// Usage:
//
//	h := signal.NewHandler(ctx)
//	defer h.Stop()
//	status, err := sched.Run(h.Context(), planID)
//	select {
//	case <-h.Interrupted():
//	    // abandon the plan
//	default:
//	}
func NewHandler(parent context.Context) *Handler {
	ctx, cancel := context.WithCancel(parent)
	h := &Handler{
		ctx:         ctx,
		cancel:      cancel,
		interrupted: make(chan struct{}),
		forced:      make(chan struct{}),
		done:        make(chan struct{}),
		sigChan:     make(chan os.Signal, 2),
	}

	signal.Notify(h.sigChan, syscall.SIGINT, syscall.SIGTERM)
	go h.listen()

	return h
}

// Context returns the run context. It is canceled by the first signal, by
// Stop, or by the parent.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Interrupted closes when the first signal arrives.
func (h *Handler) Interrupted() <-chan struct{} {
	return h.interrupted
}

// Forced closes when a second signal arrives.
func (h *Handler) Forced() <-chan struct{} {
	return h.forced
}

// Signals returns how many interrupt signals have been received.
func (h *Handler) Signals() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.received
}

// Stop stops listening and cancels the context. It is safe to call more
// than once.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		signal.Stop(h.sigChan)
		close(h.done)
		h.cancel()
	})
}

// handleSignal records one received signal.
func (h *Handler) handleSignal() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.received++
	switch h.received {
	case 1:
		h.cancel()
		close(h.interrupted)
	case 2:
		close(h.forced)
	}
}

// listen runs until Stop. It keeps draining after the first signal so a
// repeated Ctrl+C is seen as a forced exit.
func (h *Handler) listen() {
	for {
		select {
		case <-h.done:
			return
		case <-h.sigChan:
			h.handleSignal()
		}
	}
}
