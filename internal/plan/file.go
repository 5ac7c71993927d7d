package plan

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrz1836/conductor/internal/clock"
	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/ctxutil"
	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
	"github.com/mrz1836/conductor/internal/flock"
)

// Directory and file permission constants.
const (
	dirPerm  = 0o750
	filePerm = 0o600
)

const lockFileName = "plan.lock"

// FileStore implements Store on the local filesystem. Each plan lives in
// its own directory:
//
//	<dir>/<plan-id>/plan.json     snapshot of the projection (atomic rewrite)
//	<dir>/<plan-id>/events.jsonl  append-only event log (fsync per event)
//	<dir>/<plan-id>/plan.lock     exclusive lock held during each operation
//
// The event log is authoritative: on every operation the snapshot is
// caught up with any events it has not yet folded in, so a snapshot write
// lost to a crash costs nothing.
type FileStore struct {
	dir         string
	clock       clock.Clock
	logger      zerolog.Logger
	lockTimeout time.Duration

	mu     sync.Mutex
	plans  map[string]*filePlan
	closed bool
}

type filePlan struct {
	mu   sync.Mutex
	plan *domain.Plan
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithFileClock sets the clock used to stamp events.
func WithFileClock(clk clock.Clock) FileOption {
	return func(s *FileStore) {
		s.clock = clk
	}
}

// WithFileLogger sets the logger for non-fatal store warnings.
func WithFileLogger(logger zerolog.Logger) FileOption {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// WithLockTimeout bounds how long an operation waits for a plan lock.
func WithLockTimeout(d time.Duration) FileOption {
	return func(s *FileStore) {
		s.lockTimeout = d
	}
}

// NewFileStore creates a FileStore rooted at dir.
// If dir is empty, uses ~/.conductor/plans.
func NewFileStore(dir string, opts ...FileOption) (*FileStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(home, constants.ConductorHome, constants.PlansDir)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create plan directory: %w", err)
	}

	s := &FileStore{
		dir:         dir,
		clock:       clock.RealClock{},
		logger:      zerolog.Nop(),
		lockTimeout: constants.LockTimeout,
		plans:       make(map[string]*filePlan),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ Store = (*FileStore)(nil)

// Dir returns the store's root directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) planDir(planID string) string {
	return filepath.Join(s.dir, planID)
}

func (s *FileStore) snapshotPath(planID string) string {
	return filepath.Join(s.planDir(planID), constants.PlanFileName)
}

func (s *FileStore) eventLogPath(planID string) string {
	return filepath.Join(s.planDir(planID), constants.EventLogFileName)
}

func (s *FileStore) lockPath(planID string) string {
	return filepath.Join(s.planDir(planID), lockFileName)
}

func (s *FileStore) entry(planID string) (*filePlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, cerrors.ErrStoreClosed
	}
	fp, ok := s.plans[planID]
	if !ok {
		fp = &filePlan{}
		s.plans[planID] = fp
	}
	return fp, nil
}

// withPlan runs fn holding both the in-process and the cross-process lock
// of a plan, after catching the cached projection up with the event log.
func (s *FileStore) withPlan(ctx context.Context, planID string, fn func(fp *filePlan) error) error {
	if err := ctxutil.Canceled(ctx); err != nil {
		return err
	}
	if err := validatePlanID(planID); err != nil {
		return err
	}
	if _, err := os.Stat(s.snapshotPath(planID)); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("plan '%s': %w", planID, cerrors.ErrPlanNotFound)
	}

	fp, err := s.entry(planID)
	if err != nil {
		return err
	}
	fp.mu.Lock()
	defer fp.mu.Unlock()

	lock, err := flock.Acquire(ctx, s.lockPath(planID), s.lockTimeout)
	if err != nil {
		return fmt.Errorf("plan '%s': %w", planID, err)
	}
	defer func() { _ = lock.Release() }()

	if err := s.catchUp(planID, fp); err != nil {
		return err
	}
	return fn(fp)
}

func (s *FileStore) catchUp(planID string, fp *filePlan) error {
	if fp.plan == nil {
		snap, err := s.readSnapshot(planID)
		if err != nil {
			return err
		}
		fp.plan = snap
	}

	events, err := s.readEvents(planID)
	if err != nil {
		return err
	}
	if n := len(events); n == 0 || events[n-1].Seq <= fp.plan.LastSeq {
		return nil
	}

	caught, err := Replay(fp.plan, events)
	if err != nil {
		return err
	}
	fp.plan = caught
	s.saveSnapshot(fp.plan)
	return nil
}

// Create implements Store.
func (s *FileStore) Create(ctx context.Context, p *domain.Plan) (string, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return "", err
	}
	snap, created, err := prepareCreate(p, s.clock)
	if err != nil {
		return "", err
	}

	fp, err := s.entry(snap.ID)
	if err != nil {
		return "", err
	}
	fp.mu.Lock()
	defer fp.mu.Unlock()

	planDir := s.planDir(snap.ID)
	if err := os.Mkdir(planDir, dirPerm); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to create plan '%s': %w", snap.ID, cerrors.ErrPlanExists)
		}
		return "", fmt.Errorf("failed to create plan directory: %w", err)
	}

	lock, err := flock.Acquire(ctx, s.lockPath(snap.ID), s.lockTimeout)
	if err != nil {
		_ = os.RemoveAll(planDir)
		return "", fmt.Errorf("failed to create plan '%s': %w", snap.ID, err)
	}
	defer func() { _ = lock.Release() }()

	if err := s.appendEvent(snap.ID, created); err != nil {
		_ = os.RemoveAll(planDir)
		return "", fmt.Errorf("failed to create plan '%s': %w", snap.ID, err)
	}
	Apply(snap, created)
	if err := s.writeSnapshot(snap); err != nil {
		_ = os.RemoveAll(planDir)
		return "", fmt.Errorf("failed to create plan '%s': %w", snap.ID, err)
	}

	fp.plan = snap
	return snap.ID, nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, planID string) (*domain.Plan, error) {
	var out *domain.Plan
	err := s.withPlan(ctx, planID, func(fp *filePlan) error {
		out = fp.plan.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyTransition implements Store.
func (s *FileStore) ApplyTransition(ctx context.Context, planID string, ev domain.Event) (*domain.Plan, error) {
	snap, _, err := s.record(ctx, planID, ev, true)
	return snap, err
}

// AppendEvent implements Store.
func (s *FileStore) AppendEvent(ctx context.Context, planID string, ev domain.Event) (domain.Event, error) {
	_, recorded, err := s.record(ctx, planID, ev, false)
	return recorded, err
}

func (s *FileStore) record(ctx context.Context, planID string, ev domain.Event, transition bool) (*domain.Plan, domain.Event, error) {
	var (
		snap     *domain.Plan
		recorded domain.Event
	)
	err := s.withPlan(ctx, planID, func(fp *filePlan) error {
		var err error
		recorded, err = prepareEvent(fp.plan, ev, transition, s.clock)
		if err != nil {
			return err
		}
		if err := s.appendEvent(planID, recorded); err != nil {
			return fmt.Errorf("failed to record %s event: %w", recorded.Kind, err)
		}
		Apply(fp.plan, recorded)
		s.saveSnapshot(fp.plan)
		snap = fp.plan.Clone()
		return nil
	})
	if err != nil {
		return nil, ev, err
	}
	return snap, recorded.Clone(), nil
}

// Events implements Store.
func (s *FileStore) Events(ctx context.Context, planID string) ([]domain.Event, error) {
	var events []domain.Event
	err := s.withPlan(ctx, planID, func(_ *filePlan) error {
		var err error
		events, err = s.readEvents(planID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// List implements Store. Directories without a readable plan are skipped.
func (s *FileStore) List(ctx context.Context) ([]*domain.Plan, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*domain.Plan{}, nil
		}
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	plans := make([]*domain.Plan, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !validPlanIDRegex.MatchString(entry.Name()) {
			continue
		}
		if err := ctxutil.Canceled(ctx); err != nil {
			return nil, err
		}
		p, err := s.Get(ctx, entry.Name())
		if err != nil {
			s.logger.Warn().Err(err).Str("plan_id", entry.Name()).Msg("skipping unreadable plan")
			continue
		}
		plans = append(plans, p)
	}
	sortNewestFirst(plans)
	return plans, nil
}

// Retire implements Store.
func (s *FileStore) Retire(ctx context.Context, planID string) error {
	_, err := s.AppendEvent(ctx, planID, retireEvent())
	return err
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.plans = make(map[string]*filePlan)
	return nil
}

func (s *FileStore) readSnapshot(planID string) (*domain.Plan, error) {
	data, err := os.ReadFile(s.snapshotPath(planID)) //#nosec G304 -- path is validated and constructed from trusted base
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("plan '%s': %w", planID, cerrors.ErrPlanNotFound)
		}
		return nil, fmt.Errorf("failed to read plan '%s': %w", planID, err)
	}

	var p domain.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan '%s': corrupted snapshot: %w", planID, err)
	}
	if p.Tasks == nil {
		p.Tasks = make(map[string]*domain.Task)
	}
	return &p, nil
}

func (s *FileStore) writeSnapshot(p *domain.Plan) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	return atomicWrite(s.snapshotPath(p.ID), data)
}

// saveSnapshot rewrites the snapshot after an event was made durable. A
// failure is only logged: the next operation replays the event log.
func (s *FileStore) saveSnapshot(p *domain.Plan) {
	if err := s.writeSnapshot(p); err != nil {
		s.logger.Warn().Err(err).Str("plan_id", p.ID).Int64("seq", p.LastSeq).Msg("failed to write plan snapshot")
	}
}

// appendEvent appends one JSON line to the plan's event log and syncs it.
func (s *FileStore) appendEvent(planID string, ev domain.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.eventLogPath(planID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm) //#nosec G304 -- path is constructed internally
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync event log: %w", err)
	}
	return nil
}

// readEvents parses the event log. A torn final line left by a crash
// mid-append is ignored; any other undecodable line is corruption.
func (s *FileStore) readEvents(planID string) ([]domain.Event, error) {
	f, err := os.Open(s.eventLogPath(planID)) //#nosec G304 -- path is constructed internally
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.Event{}, nil
		}
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []domain.Event
	reader := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, readErr := reader.ReadBytes('\n')
		complete := len(line) > 0 && line[len(line)-1] == '\n'
		line = bytes.TrimSpace(line)

		if len(line) > 0 {
			var ev domain.Event
			if err := json.Unmarshal(line, &ev); err != nil {
				if !complete && errors.Is(readErr, io.EOF) {
					s.logger.Warn().Str("plan_id", planID).Int("line", lineNo).Msg("ignoring torn event log tail")
					break
				}
				return nil, fmt.Errorf("plan '%s' line %d: %w: %w", planID, lineNo, cerrors.ErrEventLogCorrupted, err)
			}
			events = append(events, ev)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read event log: %w", readErr)
		}
	}
	return events, nil
}

// atomicWrite writes data to a file atomically using write-then-rename.
func atomicWrite(path string, data []byte) error {
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm) //#nosec G304 -- path is constructed internally
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
