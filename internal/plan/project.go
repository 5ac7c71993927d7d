package plan

import (
	"fmt"

	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
)

// Apply folds an already validated event into the projection.
func Apply(p *domain.Plan, ev domain.Event) {
	if ev.Seq > p.LastSeq {
		p.LastSeq = ev.Seq
	}
	if !ev.Timestamp.IsZero() {
		p.UpdatedAt = ev.Timestamp
	}

	switch ev.Kind {
	case constants.EventAbandoned:
		p.Abandoned = true
		p.AbandonReason = ev.Message
	case constants.EventRetired:
		p.Retired = true
	}

	if ev.TaskID == "" {
		return
	}
	t := p.Task(ev.TaskID)
	if t == nil {
		return
	}
	if !ev.Timestamp.IsZero() {
		t.UpdatedAt = ev.Timestamp
	}

	switch ev.Kind {
	case constants.EventStarted:
		t.Attempts++
		clearFailure(t)
	case constants.EventCompleted:
		// An empty payload is dropped from the encoded log; completion
		// still means the task has evidence.
		t.Evidence = ev.Evidence.Clone()
		if t.Evidence == nil {
			t.Evidence = domain.Evidence{}
		}
	case constants.EventGatePassed:
		clearFailure(t)
	case constants.EventFailed, constants.EventGateRejected, constants.EventBlocked:
		recordFailure(t, ev)
	case constants.EventRevalidated:
		if ev.To == constants.TaskStatusSatisfied {
			clearFailure(t)
		} else if ev.To != "" {
			recordFailure(t, ev)
		}
	case constants.EventRequeued:
		clearFailure(t)
	case constants.EventRetry:
		if ev.ResetAttempts {
			t.Attempts = 0
		}
		if ev.To == constants.TaskStatusPending {
			clearFailure(t)
		}
	case constants.EventNote:
		t.Note = ev.Message
	}

	if ev.To != "" {
		t.Status = ev.To
	}
}

func clearFailure(t *domain.Task) {
	t.FailedRules = nil
	t.FailureKind = ""
	t.LastError = ""
}

func recordFailure(t *domain.Task, ev domain.Event) {
	t.LastError = ev.Message
	t.FailureKind = ev.ErrorKind
	t.FailedRules = append([]string(nil), ev.FailedRules...)
}

// Reset returns a copy of p with every task back in its initial pending
// state, as the plan was when it was created.
func Reset(p *domain.Plan) *domain.Plan {
	c := p.Clone()
	c.Abandoned = false
	c.AbandonReason = ""
	c.Retired = false
	c.LastSeq = 0
	c.UpdatedAt = c.CreatedAt
	for _, t := range c.Tasks {
		t.Status = constants.TaskStatusPending
		t.Attempts = 0
		t.Evidence = nil
		clearFailure(t)
		t.UpdatedAt = c.CreatedAt
	}
	return c
}

// Project rebuilds the projection of p from its complete event log. The
// result equals the cached projection whenever the log and the cache agree,
// which is what the file and SQLite stores rely on after a restart.
func Project(p *domain.Plan, events []domain.Event) (*domain.Plan, error) {
	return Replay(Reset(p), events)
}

// Replay folds events onto a copy of p, skipping those already reflected in
// p.LastSeq. Sequence numbers must be contiguous.
func Replay(p *domain.Plan, events []domain.Event) (*domain.Plan, error) {
	out := p.Clone()
	for _, ev := range events {
		if ev.Seq <= out.LastSeq {
			continue
		}
		if ev.Seq != out.LastSeq+1 {
			return nil, fmt.Errorf("plan %s: expected event %d, found %d: %w",
				p.ID, out.LastSeq+1, ev.Seq, cerrors.ErrEventLogCorrupted)
		}
		Apply(out, ev)
	}
	return out, nil
}
