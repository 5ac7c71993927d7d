package plan

import (
	"context"
	"fmt"
	"sync"

	"github.com/mrz1836/conductor/internal/clock"
	"github.com/mrz1836/conductor/internal/ctxutil"
	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
)

// MemoryStore implements Store in process memory. Each plan is guarded by
// its own mutex, so plans progress fully in parallel.
type MemoryStore struct {
	mu     sync.RWMutex
	plans  map[string]*memoryPlan
	clock  clock.Clock
	closed bool
}

type memoryPlan struct {
	mu     sync.Mutex
	plan   *domain.Plan
	events []domain.Event
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock sets the clock used to stamp events.
func WithMemoryClock(clk clock.Clock) MemoryOption {
	return func(s *MemoryStore) {
		s.clock = clk
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{plans: make(map[string]*memoryPlan), clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) lookup(planID string) (*memoryPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, cerrors.ErrStoreClosed
	}
	mp, ok := s.plans[planID]
	if !ok {
		return nil, fmt.Errorf("plan '%s': %w", planID, cerrors.ErrPlanNotFound)
	}
	return mp, nil
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, p *domain.Plan) (string, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return "", err
	}
	snap, created, err := prepareCreate(p, s.clock)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", cerrors.ErrStoreClosed
	}
	if _, ok := s.plans[snap.ID]; ok {
		return "", fmt.Errorf("failed to create plan '%s': %w", snap.ID, cerrors.ErrPlanExists)
	}

	Apply(snap, created)
	s.plans[snap.ID] = &memoryPlan{plan: snap, events: []domain.Event{created}}
	return snap.ID, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, planID string) (*domain.Plan, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	mp, err := s.lookup(planID)
	if err != nil {
		return nil, err
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.plan.Clone(), nil
}

// ApplyTransition implements Store.
func (s *MemoryStore) ApplyTransition(ctx context.Context, planID string, ev domain.Event) (*domain.Plan, error) {
	snap, _, err := s.record(ctx, planID, ev, true)
	return snap, err
}

// AppendEvent implements Store.
func (s *MemoryStore) AppendEvent(ctx context.Context, planID string, ev domain.Event) (domain.Event, error) {
	_, recorded, err := s.record(ctx, planID, ev, false)
	return recorded, err
}

func (s *MemoryStore) record(ctx context.Context, planID string, ev domain.Event, transition bool) (*domain.Plan, domain.Event, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, ev, err
	}
	mp, err := s.lookup(planID)
	if err != nil {
		return nil, ev, err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	recorded, err := prepareEvent(mp.plan, ev, transition, s.clock)
	if err != nil {
		return nil, ev, err
	}
	mp.events = append(mp.events, recorded)
	Apply(mp.plan, recorded)
	return mp.plan.Clone(), recorded.Clone(), nil
}

// Events implements Store.
func (s *MemoryStore) Events(ctx context.Context, planID string) ([]domain.Event, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	mp, err := s.lookup(planID)
	if err != nil {
		return nil, err
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()

	out := make([]domain.Event, len(mp.events))
	for i, ev := range mp.events {
		out[i] = ev.Clone()
	}
	return out, nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]*domain.Plan, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, cerrors.ErrStoreClosed
	}
	all := make([]*memoryPlan, 0, len(s.plans))
	for _, mp := range s.plans {
		all = append(all, mp)
	}
	s.mu.RUnlock()

	plans := make([]*domain.Plan, 0, len(all))
	for _, mp := range all {
		mp.mu.Lock()
		plans = append(plans, mp.plan.Clone())
		mp.mu.Unlock()
	}
	sortNewestFirst(plans)
	return plans, nil
}

// Retire implements Store.
func (s *MemoryStore) Retire(ctx context.Context, planID string) error {
	_, err := s.AppendEvent(ctx, planID, retireEvent())
	return err
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
