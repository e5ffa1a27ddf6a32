package engine

import (
	"time"

	"github.com/openfroyo/convergo/pkg/policy"
	"github.com/openfroyo/convergo/pkg/stores"
)

// Operation names used for spans, metrics and ledger runs.
const (
	OperationCommit   = "commit"
	OperationBuild    = "build"
	OperationRollback = "rollback"
	OperationLatest   = "latest"
	OperationSet      = "set"
	OperationSync     = "sync"
	OperationUpgrade  = "upgrade"
	OperationPrune    = "prune"
)

// Step is one manager call in a build plan.
type Step struct {
	// Manager is the manager name.
	Manager string `json:"manager"`

	// Action is manager.ActionAdd or manager.ActionRemove.
	Action string `json:"action"`

	// Items are passed to the manager in one call.
	Items []string `json:"items"`
}

// Plan is the ordered list of manager calls that converges the system from
// the built generation to the current one.
type Plan struct {
	// First is true when nothing has been built before and every item is added.
	First bool `json:"first"`

	// Steps are executed in order. A failing step aborts the rest.
	Steps []Step `json:"steps"`
}

// IsEmpty reports whether the plan changes nothing.
func (p Plan) IsEmpty() bool {
	return len(p.Steps) == 0
}

// Managers returns the managers the plan touches, in first-use order.
func (p Plan) Managers() []string {
	seen := make(map[string]struct{}, len(p.Steps))
	var names []string
	for _, s := range p.Steps {
		if _, ok := seen[s.Manager]; ok {
			continue
		}
		seen[s.Manager] = struct{}{}
		names = append(names, s.Manager)
	}
	return names
}

// GenerationInfo describes one snapshot in the history log.
type GenerationInfo struct {
	// Index is the 1-based position in the newest-first log.
	Index   int    `json:"index"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Current bool   `json:"current"`
	Built   bool   `json:"built"`
}

// CommitResult is the outcome of Commit.
type CommitResult struct {
	// ID is the new snapshot, empty when there was nothing to commit.
	ID string `json:"id,omitempty"`

	// Policy holds the policy evaluation, nil when no policy engine is configured.
	Policy *policy.Result `json:"policy,omitempty"`
}

// Committed reports whether a new snapshot was recorded.
func (r *CommitResult) Committed() bool {
	return r != nil && r.ID != ""
}

// StepResult is the outcome of one executed step.
type StepResult struct {
	Step
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// BuildResult is the outcome of Build.
type BuildResult struct {
	RunID    string        `json:"run_id"`
	From     string        `json:"from,omitempty"`
	To       string        `json:"to"`
	Plan     Plan          `json:"plan"`
	Steps    []StepResult  `json:"steps"`
	Duration time.Duration `json:"duration"`
}

// MoveResult is the outcome of Rollback, Latest and Set.
type MoveResult struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`

	// Message is the commit message of the target snapshot.
	Message string `json:"message"`
}

// Others lists installed items a manager reports that no generation declares.
type Others struct {
	Manager string   `json:"manager"`
	Items   []string `json:"items"`

	// Removed is true when the items were uninstalled.
	Removed bool `json:"removed"`
}

// BuildSummary is the most recent build recorded in the ledger.
type BuildSummary struct {
	Run   *stores.Run    `json:"run"`
	Steps []*stores.Step `json:"steps"`
}

// ConfigReport is the outcome of CheckConfig.
type ConfigReport struct {
	// Managers holds one entry per declaration file.
	Managers []ManagerCheck `json:"managers"`

	// Undeclared lists managers the user generation references without a declaration.
	Undeclared []string `json:"undeclared,omitempty"`

	// OrderDuplicates maps names listed more than once in the order file to their count.
	OrderDuplicates map[string]int `json:"order_duplicates,omitempty"`

	// Policy is the policy evaluation of the user generation.
	Policy *policy.Result `json:"policy,omitempty"`

	// Err is set when the user generation could not be resolved.
	Err error `json:"-"`
}

// ManagerCheck is the validation result of one manager declaration.
type ManagerCheck struct {
	Name     string   `json:"name"`
	Problems []string `json:"problems,omitempty"`
	Err      error    `json:"-"`
}

// OK reports whether the configuration has no errors. Warnings do not count.
func (r *ConfigReport) OK() bool {
	if r.Err != nil || len(r.Undeclared) > 0 {
		return false
	}
	for _, m := range r.Managers {
		if m.Err != nil {
			return false
		}
	}
	return r.Policy == nil || r.Policy.Allowed
}
