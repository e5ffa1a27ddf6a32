package engine

import (
	"context"

	"github.com/openfroyo/convergo/pkg/generation"
	"github.com/openfroyo/convergo/pkg/manager"
	"github.com/openfroyo/convergo/pkg/policy"
	"github.com/openfroyo/convergo/pkg/stores"
)

// Resolver produces the effective generation for a configuration side.
// *generation.Loader implements it.
type Resolver interface {
	Resolve(ctx context.Context, side generation.Side) (generation.Generation, error)
}

// ManagerProvider looks managers up by name. *manager.Registry implements it.
type ManagerProvider interface {
	// Get returns the named manager, validating its declaration.
	Get(name string) (manager.Manager, error)

	// Names lists every declared manager.
	Names() ([]string, error)

	// Check validates every declaration without stopping at the first error.
	Check() ([]manager.CheckResult, error)
}

// PolicyChecker evaluates guard rules against a generation.
// *policy.Engine implements it.
type PolicyChecker interface {
	Check(ctx context.Context, g generation.Generation, operation, hostname string) (*policy.Result, error)
}

// Ledger records operations and answers questions about past builds.
// *stores.SQLiteStore implements it.
type Ledger interface {
	stores.Recorder

	LastRun(ctx context.Context, kind stores.RunKind) (*stores.Run, error)
	ListSteps(ctx context.Context, runID string) ([]*stores.Step, error)
}

// nopLedger discards records and knows of no past runs.
type nopLedger struct{}

func (nopLedger) StartRun(_ context.Context, kind stores.RunKind, from, to string) (*stores.Run, error) {
	return &stores.Run{Kind: kind, Status: stores.StatusRunning}, nil
}

func (nopLedger) FinishRun(context.Context, string, string, error) error { return nil }

func (nopLedger) StartStep(_ context.Context, runID, mgr, action string, items []string) (*stores.Step, error) {
	return &stores.Step{RunID: runID, Manager: mgr, Action: action, Items: items}, nil
}

func (nopLedger) FinishStep(context.Context, string, error) error { return nil }

func (nopLedger) AppendEvent(context.Context, string, stores.EventLevel, string, map[string]string) error {
	return nil
}

func (nopLedger) Audit(context.Context, string, string, map[string]string) error { return nil }

func (nopLedger) LastRun(_ context.Context, kind stores.RunKind) (*stores.Run, error) {
	return nil, stores.ErrNotFound
}

func (nopLedger) ListSteps(context.Context, string) ([]*stores.Step, error) { return nil, nil }
