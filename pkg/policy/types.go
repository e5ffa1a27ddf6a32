package policy

import (
	"time"

	"github.com/openfroyo/convergo/pkg/generation"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityWarning is reported but does not block the operation.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the operation.
	SeverityError Severity = "error"
)

// PackagePrefix is the Rego package every policy must live under.
const PackagePrefix = "convergo"

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description is taken from the leading comment block.
	Description string `json:"description"`

	// Source is the file the policy was read from, empty for built-ins.
	Source string `json:"source,omitempty"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity applies to violations that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`
}

// Violation is one message produced by a deny rule.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Manager and Item locate the violation when the rule reports them.
	Manager string `json:"manager,omitempty"`
	Item    string `json:"item,omitempty"`
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	Allowed     bool        `json:"allowed"`
	Violations  []Violation `json:"violations"`
	Warnings    []string    `json:"warnings,omitempty"` // evaluation problems, not violations
	Evaluated   []string    `json:"evaluated"`
	EvaluatedAt time.Time   `json:"evaluated_at"`
}

// Errors returns the blocking violations.
func (r *Result) Errors() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document policies see as input.
type Input struct {
	Imports   []string                      `json:"imports"`
	Managers  map[string]generation.ItemSet `json:"managers"`
	Operation string                        `json:"operation"`
	Hostname  string                        `json:"hostname,omitempty"`
}

// NewInput builds the policy input for g. Item lists are deduplicated so
// rules see what a build would apply.
func NewInput(g generation.Generation, operation, hostname string) Input {
	n := g.Normalized()
	imports := n.Imports
	if imports == nil {
		imports = []string{}
	}
	managers := make(map[string]generation.ItemSet, len(n.Managers))
	for name, set := range n.Managers {
		if set.Items == nil {
			set.Items = []string{}
		}
		managers[name] = set
	}
	return Input{
		Imports:   imports,
		Managers:  managers,
		Operation: operation,
		Hostname:  hostname,
	}
}
