package stores

import (
	"context"
	"time"
)

// RunKind names the operation a run records.
type RunKind string

const (
	RunKindCommit   RunKind = "commit"
	RunKindBuild    RunKind = "build"
	RunKindRollback RunKind = "rollback"
	RunKindLatest   RunKind = "latest"
	RunKindSet      RunKind = "set"
	RunKindSync     RunKind = "sync"
	RunKindUpgrade  RunKind = "upgrade"
	RunKindPrune    RunKind = "prune"
)

// Status represents the status of a run or step
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one mutating operation.
type Run struct {
	ID          string     `json:"id"`
	Kind        RunKind    `json:"kind"`
	FromID      *string    `json:"from_id,omitempty"` // snapshot before the run
	ToID        *string    `json:"to_id,omitempty"`   // snapshot the run moved to
	Status      Status     `json:"status"`
	Actor       string     `json:"actor"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// Step is one manager action inside a run.
type Step struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	Seq         int        `json:"seq"`
	Manager     string     `json:"manager"`
	Action      string     `json:"action"` // add, remove, sync, upgrade
	Items       []string   `json:"items"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"` // e.g. "pointer.current", "lock.forced"
	Actor     string    `json:"actor"`
	Target    *string   `json:"target,omitempty"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Recorder is the write side used while an operation runs.
type Recorder interface {
	StartRun(ctx context.Context, kind RunKind, from, to string) (*Run, error)
	FinishRun(ctx context.Context, runID, to string, runErr error) error
	StartStep(ctx context.Context, runID, manager, action string, items []string) (*Step, error)
	FinishStep(ctx context.Context, stepID string, stepErr error) error
	AppendEvent(ctx context.Context, runID string, level EventLevel, message string, details map[string]string) error
	Audit(ctx context.Context, action, target string, details map[string]string) error
}

// Ledger is the full persistence interface.
type Ledger interface {
	Recorder

	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	GetRun(ctx context.Context, id string) (*Run, error)
	LastRun(ctx context.Context, kind RunKind) (*Run, error)
	ListRuns(ctx context.Context, kind *RunKind, limit, offset int) ([]*Run, error)
	ListSteps(ctx context.Context, runID string) ([]*Step, error)
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)
	ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error)

	HealthCheck(ctx context.Context) error
}
