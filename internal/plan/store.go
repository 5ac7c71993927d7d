package plan

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/mrz1836/conductor/internal/clock"
	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
)

// Store defines plan persistence. Implementations serialize writes per plan
// and never block writes to unrelated plans on each other.
type Store interface {
	// Create stores a new plan and records its plan_created event.
	// Returns ErrPlanExists if a plan with the same id exists.
	Create(ctx context.Context, p *domain.Plan) (string, error)

	// Get returns a snapshot of the plan. Callers may mutate the result freely.
	// Returns ErrPlanNotFound if the plan doesn't exist.
	Get(ctx context.Context, planID string) (*domain.Plan, error)

	// ApplyTransition validates a task status transition, appends it to the
	// log, and updates the projection, in that order. Invalid transitions
	// return ErrInvalidTransition (or ErrStaleTransition when ev.From does
	// not match) and change nothing.
	ApplyTransition(ctx context.Context, planID string, ev domain.Event) (*domain.Plan, error)

	// AppendEvent records an event that carries no task status change.
	// Plan-level events (abandoned, note) are folded into the projection.
	AppendEvent(ctx context.Context, planID string, ev domain.Event) (domain.Event, error)

	// Events returns the plan's full event log in sequence order.
	Events(ctx context.Context, planID string) ([]domain.Event, error)

	// List returns snapshots of every stored plan, newest first.
	List(ctx context.Context) ([]*domain.Plan, error)

	// Retire marks a complete or abandoned plan read-only. Plans are only
	// ever retired as a whole.
	Retire(ctx context.Context, planID string) error

	// Close releases the store's resources.
	Close() error
}

// validPlanIDRegex keeps plan ids safe to use as directory names.
var validPlanIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func validatePlanID(planID string) error {
	if planID == "" {
		return fmt.Errorf("plan ID %w", cerrors.ErrEmptyValue)
	}
	if !validPlanIDRegex.MatchString(planID) {
		return fmt.Errorf("invalid plan ID %q: %w", planID, cerrors.ErrPlanNotFound)
	}
	return nil
}

// prepareCreate validates a new plan and returns the snapshot to persist
// together with its plan_created event.
func prepareCreate(p *domain.Plan, clk clock.Clock) (*domain.Plan, domain.Event, error) {
	if p == nil {
		return nil, domain.Event{}, fmt.Errorf("failed to create plan: plan %w", cerrors.ErrEmptyValue)
	}
	if err := validatePlanID(p.ID); err != nil {
		return nil, domain.Event{}, fmt.Errorf("failed to create plan: %w", err)
	}

	snap := Reset(p)
	snap.SchemaVersion = constants.PlanSchemaVersion
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = clk.Now()
		snap.UpdatedAt = snap.CreatedAt
	}

	ev := domain.Event{
		Seq:       1,
		Timestamp: clk.Now(),
		PlanID:    snap.ID,
		Kind:      constants.EventPlanCreated,
		Message:   snap.Title,
	}
	return snap, ev, nil
}

// prepareEvent validates ev against the current projection and stamps it
// with the plan id, next sequence number, and timestamp.
func prepareEvent(p *domain.Plan, ev domain.Event, transition bool, clk clock.Clock) (domain.Event, error) {
	if transition && !ev.IsTransition() {
		return ev, fmt.Errorf("%w: %s event for task %q has no target status", cerrors.ErrInvalidTransition, ev.Kind, ev.TaskID)
	}
	if !transition && ev.IsTransition() {
		return ev, fmt.Errorf("%w: %s event changes task status; use ApplyTransition", cerrors.ErrInvalidTransition, ev.Kind)
	}

	checked, err := CheckEvent(p, ev)
	if err != nil {
		return ev, err
	}
	checked = checked.Clone()
	checked.PlanID = p.ID
	checked.Seq = p.LastSeq + 1
	if checked.Timestamp.IsZero() {
		checked.Timestamp = clk.Now()
	}
	return checked, nil
}

func sortNewestFirst(plans []*domain.Plan) {
	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].CreatedAt.Equal(plans[j].CreatedAt) {
			return plans[i].ID < plans[j].ID
		}
		return plans[i].CreatedAt.After(plans[j].CreatedAt)
	})
}

// retireEvent builds the plan-level retired event.
func retireEvent() domain.Event {
	return domain.Event{Kind: constants.EventRetired}
}
