package plan

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/mrz1836/conductor/internal/clock"
	"github.com/mrz1836/conductor/internal/ctxutil"
	"github.com/mrz1836/conductor/internal/domain"
	cerrors "github.com/mrz1836/conductor/internal/errors"
)

// SQLiteStore implements Store on a SQLite database. The event insert and
// the snapshot update of one operation share a transaction.
type SQLiteStore struct {
	db    *sql.DB
	clock clock.Clock

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteClock sets the clock used to stamp events.
func WithSQLiteClock(clk clock.Clock) SQLiteOption {
	return func(s *SQLiteStore) {
		s.clock = clk
	}
}

// NewSQLiteStore opens (creating if needed) the database at path.
// The special path ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: an in-memory database exists per connection, and
	// SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, clock: clock.RealClock{}, locks: make(map[string]*sync.Mutex)}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		snapshot TEXT NOT NULL,             -- JSON projection of the event log
		last_seq INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		retired INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS events (
		plan_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		ts TEXT NOT NULL,
		kind TEXT NOT NULL,
		task_id TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,                 -- full JSON event
		PRIMARY KEY (plan_id, seq),
		FOREIGN KEY (plan_id) REFERENCES plans(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_events_task ON events(plan_id, task_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) planLock(planID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[planID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[planID] = l
	}
	return l
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, p *domain.Plan) (string, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return "", err
	}
	snap, created, err := prepareCreate(p, s.clock)
	if err != nil {
		return "", err
	}
	Apply(snap, created)

	l := s.planLock(snap.ID)
	l.Lock()
	defer l.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM plans WHERE id = ?", snap.ID).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("check plan: %w", err)
	}
	if exists > 0 {
		return "", fmt.Errorf("failed to create plan '%s': %w", snap.ID, cerrors.ErrPlanExists)
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO plans (id, title, snapshot, last_seq, created_at) VALUES (?, ?, ?, ?, ?)",
		snap.ID, snap.Title, string(body), snap.LastSeq, snap.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert plan: %w", err)
	}
	if err := insertEvent(ctx, tx, created); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return snap.ID, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO events (plan_id, seq, ts, kind, task_id, body) VALUES (?, ?, ?, ?, ?, ?)",
		ev.PlanID, ev.Seq, ev.Timestamp.Format(time.RFC3339Nano), string(ev.Kind), ev.TaskID, string(body))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadSnapshot(ctx context.Context, q querier, planID string) (*domain.Plan, error) {
	var body string
	err := q.QueryRowContext(ctx, "SELECT snapshot FROM plans WHERE id = ?", planID).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("plan '%s': %w", planID, cerrors.ErrPlanNotFound)
		}
		return nil, fmt.Errorf("load plan '%s': %w", planID, err)
	}

	var p domain.Plan
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan '%s': corrupted snapshot: %w", planID, err)
	}
	if p.Tasks == nil {
		p.Tasks = make(map[string]*domain.Task)
	}
	return &p, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, planID string) (*domain.Plan, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	return loadSnapshot(ctx, s.db, planID)
}

// ApplyTransition implements Store.
func (s *SQLiteStore) ApplyTransition(ctx context.Context, planID string, ev domain.Event) (*domain.Plan, error) {
	snap, _, err := s.record(ctx, planID, ev, true)
	return snap, err
}

// AppendEvent implements Store.
func (s *SQLiteStore) AppendEvent(ctx context.Context, planID string, ev domain.Event) (domain.Event, error) {
	_, recorded, err := s.record(ctx, planID, ev, false)
	return recorded, err
}

func (s *SQLiteStore) record(ctx context.Context, planID string, ev domain.Event, transition bool) (*domain.Plan, domain.Event, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, ev, err
	}

	l := s.planLock(planID)
	l.Lock()
	defer l.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ev, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	p, err := loadSnapshot(ctx, tx, planID)
	if err != nil {
		return nil, ev, err
	}
	recorded, err := prepareEvent(p, ev, transition, s.clock)
	if err != nil {
		return nil, ev, err
	}
	if err := insertEvent(ctx, tx, recorded); err != nil {
		return nil, ev, err
	}

	Apply(p, recorded)
	body, err := json.Marshal(p)
	if err != nil {
		return nil, ev, fmt.Errorf("marshal plan: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE plans SET snapshot = ?, last_seq = ?, retired = ? WHERE id = ?",
		string(body), p.LastSeq, boolToInt(p.Retired), planID)
	if err != nil {
		return nil, ev, fmt.Errorf("update plan: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, ev, fmt.Errorf("commit: %w", err)
	}
	return p, recorded, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Events implements Store.
func (s *SQLiteStore) Events(ctx context.Context, planID string) ([]domain.Event, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	if _, err := loadSnapshot(ctx, s.db, planID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT seq, body FROM events WHERE plan_id = ? ORDER BY seq", planID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []domain.Event{}
	for rows.Next() {
		var (
			seq  int64
			body string
		)
		if err := rows.Scan(&seq, &body); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return nil, fmt.Errorf("plan '%s' event %d: %w: %w", planID, seq, cerrors.ErrEventLogCorrupted, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]*domain.Plan, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, snapshot FROM plans")
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	plans := []*domain.Plan{}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		var p domain.Plan
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, fmt.Errorf("failed to parse plan '%s': corrupted snapshot: %w", id, err)
		}
		plans = append(plans, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortNewestFirst(plans)
	return plans, nil
}

// Retire implements Store.
func (s *SQLiteStore) Retire(ctx context.Context, planID string) error {
	_, err := s.AppendEvent(ctx, planID, retireEvent())
	return err
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
