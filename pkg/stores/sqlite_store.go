package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements Ledger using SQLite
type SQLiteStore struct {
	db     *sql.DB
	config Config
	now    func() time.Time
}

// Config holds SQLite store configuration
type Config struct {
	// Path is the database file.
	Path string

	// Actor is written to runs and audit entries, normally the invoking user.
	Actor string

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Actor == "" {
		cfg.Actor = "convergo"
	}
	// One writer per invocation; a small pool is plenty.
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		config: cfg,
		now:    time.Now,
	}, nil
}

// Init opens the database and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.config.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.config.MaxOpenConns)
	db.SetMaxIdleConns(s.config.MaxOpenConns)
	db.SetConnMaxLifetime(s.config.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// StartRun records the start of an operation.
func (s *SQLiteStore) StartRun(ctx context.Context, kind RunKind, from, to string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		FromID:    optional(from),
		ToID:      optional(to),
		Status:    StatusRunning,
		Actor:     s.config.Actor,
		StartedAt: s.now().UTC(),
	}

	query := `
		INSERT INTO runs (id, kind, from_id, to_id, status, actor, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Kind,
		run.FromID,
		run.ToID,
		run.Status,
		run.Actor,
		run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// FinishRun closes a run. A non-nil runErr marks it failed. An empty to keeps
// the target recorded at start.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID, to string, runErr error) error {
	status, errMsg := outcome(runErr)

	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?, to_id = COALESCE(?, to_id)
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, status, errMsg, s.now().UTC(), optional(to), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return expectRow(result, "run", runID)
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, kind, from_id, to_id, status, actor, started_at, completed_at, error
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// LastRun returns the most recent run of kind.
func (s *SQLiteStore) LastRun(ctx context.Context, kind RunKind) (*Run, error) {
	query := `
		SELECT id, kind, from_id, to_id, status, actor, started_at, completed_at, error
		FROM runs
		WHERE kind = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, kind))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no %s run: %w", kind, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first, optionally filtered by kind.
func (s *SQLiteStore) ListRuns(ctx context.Context, kind *RunKind, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, kind, from_id, to_id, status, actor, started_at, completed_at, error
		FROM runs
		WHERE (? IS NULL OR kind = ?)
		ORDER BY started_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, kind, kind, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Kind,
		&run.FromID,
		&run.ToID,
		&run.Status,
		&run.Actor,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// StartStep records the start of a manager action within a run.
func (s *SQLiteStore) StartStep(ctx context.Context, runID, manager, action string, items []string) (*Step, error) {
	if items == nil {
		items = []string{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode step items: %w", err)
	}

	step := &Step{
		ID:        uuid.NewString(),
		RunID:     runID,
		Manager:   manager,
		Action:    action,
		Items:     items,
		Status:    StatusRunning,
		StartedAt: s.now().UTC(),
	}

	query := `
		INSERT INTO steps (id, run_id, seq, manager, action, items, status, started_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM steps WHERE run_id = ?), ?, ?, ?, ?, ?)
		RETURNING seq
	`
	err = s.db.QueryRowContext(ctx, query,
		step.ID,
		step.RunID,
		step.RunID,
		step.Manager,
		step.Action,
		string(encoded),
		step.Status,
		step.StartedAt,
	).Scan(&step.Seq)
	if err != nil {
		return nil, fmt.Errorf("failed to create step: %w", err)
	}

	return step, nil
}

// FinishStep closes a step. A non-nil stepErr marks it failed.
func (s *SQLiteStore) FinishStep(ctx context.Context, stepID string, stepErr error) error {
	status, errMsg := outcome(stepErr)

	query := `
		UPDATE steps
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, status, errMsg, s.now().UTC(), stepID)
	if err != nil {
		return fmt.Errorf("failed to finish step: %w", err)
	}
	return expectRow(result, "step", stepID)
}

// ListSteps lists the steps of a run in execution order.
func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]*Step, error) {
	query := `
		SELECT id, run_id, seq, manager, action, items, status, started_at, completed_at, error
		FROM steps
		WHERE run_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	steps := []*Step{}
	for rows.Next() {
		step := &Step{}
		var items string
		err := rows.Scan(
			&step.ID,
			&step.RunID,
			&step.Seq,
			&step.Manager,
			&step.Action,
			&items,
			&step.Status,
			&step.StartedAt,
			&step.CompletedAt,
			&step.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(items), &step.Items); err != nil {
			return nil, fmt.Errorf("failed to decode step items: %w", err)
		}
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

// AppendEvent appends an event. An empty runID records a global event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, runID string, level EventLevel, message string, details map[string]string) error {
	blob, err := encodeDetails(details)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO events (run_id, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query, optional(runID), level, message, blob, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// GetEvents retrieves events with optional filtering
func (s *SQLiteStore) GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, run_id, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, runID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// Audit records an audit trail entry.
func (s *SQLiteStore) Audit(ctx context.Context, action, target string, details map[string]string) error {
	blob, err := encodeDetails(details)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit (action, actor, target, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query, action, s.config.Actor, optional(target), blob, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	return nil
}

// ListAuditEntries lists audit entries newest first, optionally filtered by action.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.Target,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

func outcome(err error) (Status, *string) {
	if err == nil {
		return StatusCompleted, nil
	}
	msg := err.Error()
	return StatusFailed, &msg
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func encodeDetails(details map[string]string) (*string, error) {
	if len(details) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode details: %w", err)
	}
	blob := string(data)
	return &blob, nil
}

func expectRow(result sql.Result, what, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}
