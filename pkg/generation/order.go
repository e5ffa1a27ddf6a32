package generation

import (
	"bytes"
	stderrors "errors"
	"io/fs"
	"os"
	"sort"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/openfroyo/convergo/pkg/errors"
)

// ManagerOrder pins some managers to the start or end of a build.
type ManagerOrder struct {
	Begin []string `toml:"begin"`
	End   []string `toml:"end"`
}

// LoadOrder reads an order file. A missing file yields a zero order.
func LoadOrder(path string) (ManagerOrder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return ManagerOrder{}, nil
		}
		return ManagerOrder{}, errors.Wrapf(err, errors.KindInternal, "failed to read %s", path)
	}

	var order ManagerOrder
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&order); err != nil {
		return ManagerOrder{}, malformed(err, path)
	}
	return order, nil
}

// Duplicates returns names listed more than once across Begin and End,
// with their counts.
func (o ManagerOrder) Duplicates() map[string]int {
	counts := make(map[string]int)
	for _, name := range o.Begin {
		counts[name]++
	}
	for _, name := range o.End {
		counts[name]++
	}
	dups := make(map[string]int)
	for name, n := range counts {
		if n > 1 {
			dups[name] = n
		}
	}
	return dups
}

// Order returns the managers of g in build order: Begin entries, then the
// remaining managers sorted lexically, then End entries. Names not present in
// g are dropped and each manager appears once.
func Order(g Generation, order ManagerOrder) []string {
	pinned := make(map[string]struct{}, len(order.Begin)+len(order.End))
	for _, name := range order.Begin {
		pinned[name] = struct{}{}
	}
	for _, name := range order.End {
		pinned[name] = struct{}{}
	}

	var middle []string
	for name := range g.Managers {
		if _, ok := pinned[name]; !ok {
			middle = append(middle, name)
		}
	}
	sort.Strings(middle)

	candidates := make([]string, 0, len(g.Managers))
	candidates = append(candidates, order.Begin...)
	candidates = append(candidates, middle...)
	candidates = append(candidates, order.End...)

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(g.Managers))
	for _, name := range candidates {
		if _, ok := g.Managers[name]; !ok {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
