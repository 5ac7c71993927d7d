// Package report records progress events and turns a plan's state and
// event log into human- and machine-readable reports.
//
// This package follows strict import rules:
//   - CAN import: internal/constants, internal/domain, internal/errors,
//     internal/gate, internal/plan, internal/clock, internal/tui
//   - MUST NOT import: internal/scheduler, internal/cli
package report

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mrz1836/conductor/internal/clock"
	"github.com/mrz1836/conductor/internal/domain"
	"github.com/mrz1836/conductor/internal/gate"
	"github.com/mrz1836/conductor/internal/plan"
)

// Reporter appends informational events to a plan's log and builds
// summaries from the store. It satisfies scheduler.Reporter.
type Reporter struct {
	store     plan.Store
	evaluator *gate.Evaluator
	clock     clock.Clock
	logger    zerolog.Logger
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithClock sets the clock used to stamp generated reports.
func WithClock(clk clock.Clock) Option {
	return func(r *Reporter) {
		r.clock = clk
	}
}

// WithLogger sets the logger that receives one line per event.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reporter) {
		r.logger = logger
	}
}

// New creates a Reporter. A nil evaluator falls back to the default rule set.
func New(store plan.Store, evaluator *gate.Evaluator, opts ...Option) *Reporter {
	if evaluator == nil {
		evaluator = gate.NewEvaluator(gate.DefaultRegistry())
	}
	r := &Reporter{
		store:     store,
		evaluator: evaluator,
		clock:     clock.RealClock{},
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Log appends an informational event to the plan's log and returns it with
// its sequence number and timestamp. Status changes never go through Log.
func (r *Reporter) Log(ctx context.Context, planID string, ev domain.Event) (domain.Event, error) {
	recorded, err := r.store.AppendEvent(ctx, planID, ev)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("plan_id", planID).
			Str("kind", ev.Kind.String()).
			Msg("failed to record progress event")
		return ev, err
	}
	r.Observe(recorded)
	return recorded, nil
}

// Observe emits a structured log line for an event that is already durable.
func (r *Reporter) Observe(ev domain.Event) {
	logEvent := r.logger.Info()
	if ev.ErrorKind != "" {
		logEvent = r.logger.Warn().Str("error_kind", ev.ErrorKind)
	}
	logEvent = logEvent.
		Str("plan_id", ev.PlanID).
		Int64("seq", ev.Seq).
		Str("kind", ev.Kind.String())
	if ev.TaskID != "" {
		logEvent = logEvent.Str("task_id", ev.TaskID)
	}
	if ev.To != "" {
		logEvent = logEvent.Str("status", ev.To.String())
	}
	if len(ev.FailedRules) > 0 {
		logEvent = logEvent.Strs("failed_rules", ev.FailedRules)
	}
	logEvent.Msg(eventMessage(ev))
}

func eventMessage(ev domain.Event) string {
	if ev.Message != "" {
		return ev.Message
	}
	return "progress event recorded"
}
