package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/domain"
)

// Entry is one line of a plan's timeline.
type Entry struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"ts"`
	TaskID    string    `json:"task_id,omitempty"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
}

// Timeline returns the plan's event log as readable entries in sequence order.
func (r *Reporter) Timeline(ctx context.Context, planID string) ([]Entry, error) {
	events, err := r.store.Events(ctx, planID)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(events))
	for _, ev := range events {
		entries = append(entries, Entry{
			Seq:       ev.Seq,
			Timestamp: ev.Timestamp,
			TaskID:    ev.TaskID,
			Kind:      ev.Kind.String(),
			Text:      Describe(ev),
		})
	}
	return entries, nil
}

// Describe renders a single event as a sentence.
func Describe(ev domain.Event) string {
	var b strings.Builder
	switch ev.Kind {
	case constants.EventPlanCreated:
		b.WriteString("plan created")
	case constants.EventAbandoned:
		b.WriteString("plan abandoned")
	case constants.EventRetired:
		b.WriteString("plan retired")
	case constants.EventNote:
		if ev.TaskID != "" {
			fmt.Fprintf(&b, "note on %s", ev.TaskID)
		} else {
			b.WriteString("note")
		}
	case constants.EventStarted, constants.EventCompleted, constants.EventFailed,
		constants.EventBlocked, constants.EventGateRejected, constants.EventGatePassed,
		constants.EventRunnable, constants.EventRequeued, constants.EventRetry, constants.EventRevalidated:
		fmt.Fprintf(&b, "%s %s", ev.TaskID, strings.ReplaceAll(ev.Kind.String(), "_", " "))
	default:
		fmt.Fprintf(&b, "%s %s", ev.Kind, ev.TaskID)
	}

	if ev.From != "" && ev.To != "" {
		fmt.Fprintf(&b, " (%s → %s)", ev.From, ev.To)
	}
	if ev.ErrorKind != "" {
		fmt.Fprintf(&b, " [%s]", ev.ErrorKind)
	}
	if len(ev.FailedRules) > 0 {
		fmt.Fprintf(&b, " rules: %s", strings.Join(ev.FailedRules, ", "))
	}
	if ev.Message != "" {
		b.WriteString(": ")
		b.WriteString(ev.Message)
	}
	return strings.TrimSpace(b.String())
}
