// Package generation defines the declarative desired-state model: a set of
// imports plus per-manager item sets, with merge, codec and import resolution.
package generation

import (
	"bytes"
	stderrors "errors"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/openfroyo/convergo/pkg/errors"
)

// ItemSet is the ordered item list declared for one manager.
type ItemSet struct {
	Items []string `toml:"items" json:"items"`
}

// Generation is a declarative snapshot of desired state.
type Generation struct {
	Imports  []string           `toml:"imports" json:"imports"`
	Managers map[string]ItemSet `toml:"managers" json:"managers"`
}

// New returns an empty generation with an allocated manager map.
func New() Generation {
	return Generation{Managers: make(map[string]ItemSet)}
}

// Extend returns a new generation holding g's imports and items followed by
// other's. Managers only present in other are created. Neither input is modified.
func (g Generation) Extend(other Generation) Generation {
	out := g.Clone()
	out.Imports = append(out.Imports, other.Imports...)
	for name, set := range other.Managers {
		cur := out.Managers[name]
		cur.Items = append(cur.Items, set.Items...)
		out.Managers[name] = cur
	}
	return out
}

// Clone returns a deep copy.
func (g Generation) Clone() Generation {
	out := Generation{Managers: make(map[string]ItemSet, len(g.Managers))}
	if len(g.Imports) > 0 {
		out.Imports = append([]string(nil), g.Imports...)
	}
	for name, set := range g.Managers {
		out.Managers[name] = ItemSet{Items: append([]string(nil), set.Items...)}
	}
	return out
}

// Normalized returns a copy with every item set deduplicated. Managers whose
// set becomes empty are kept so that an explicitly declared manager survives.
func (g Generation) Normalized() Generation {
	out := Generation{Managers: make(map[string]ItemSet, len(g.Managers))}
	if len(g.Imports) > 0 {
		out.Imports = Dedup(g.Imports)
	}
	for name, set := range g.Managers {
		out.Managers[name] = ItemSet{Items: Dedup(set.Items)}
	}
	return out
}

// ManagerNames returns the manager keys in lexical order.
func (g Generation) ManagerNames() []string {
	names := make([]string, 0, len(g.Managers))
	for name := range g.Managers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Items returns the declared items for a manager, nil if absent.
func (g Generation) Items(manager string) []string {
	return g.Managers[manager].Items
}

// IsEmpty reports whether the generation declares nothing.
func (g Generation) IsEmpty() bool {
	if len(g.Imports) > 0 {
		return false
	}
	for _, set := range g.Managers {
		if len(set.Items) > 0 {
			return false
		}
	}
	return true
}

// Dedup returns items in first-appearance order with duplicates and
// blank values removed. Values are trimmed.
func Dedup(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Decode parses a generation document. Unknown fields are rejected; missing
// fields take their zero value. source names the document in errors.
func Decode(data []byte, source string) (Generation, error) {
	g := New()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&g); err != nil {
		return Generation{}, malformed(err, source)
	}
	if g.Managers == nil {
		g.Managers = make(map[string]ItemSet)
	}
	return g, nil
}

// Encode serializes a generation to TOML.
func Encode(g Generation) ([]byte, error) {
	if g.Managers == nil {
		g.Managers = make(map[string]ItemSet)
	}
	data, err := toml.Marshal(g)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to encode generation")
	}
	return data, nil
}

func malformed(err error, source string) error {
	e := errors.New(errors.KindConfigMalformed, "failed to decode "+source).
		WithResource(source).
		WithCause(err)

	var strict *toml.StrictMissingError
	if stderrors.As(err, &strict) {
		e = e.WithDetail("unknown_fields", strict.String())
	}
	var decErr *toml.DecodeError
	if stderrors.As(err, &decErr) {
		row, col := decErr.Position()
		e = e.WithDetail("row", row).WithDetail("column", col)
	}
	return e
}
