// Package diff computes add/remove differences between item lists and generations.
package diff

import (
	"sort"
	"strings"

	"github.com/openfroyo/convergo/pkg/generation"
)

// Mode classifies a diff entry.
type Mode string

const (
	// ModeAdd marks a value present only in the new list.
	ModeAdd Mode = "add"
	// ModeRemove marks a value present only in the old list.
	ModeRemove Mode = "remove"
)

// Symbol returns the display prefix for the mode.
func (m Mode) Symbol() string {
	if m == ModeAdd {
		return "+"
	}
	return "-"
}

// Entry is one difference between two item lists.
type Entry struct {
	Mode  Mode
	Value string
}

// History returns the entries that turn from into to. Both inputs are
// deduplicated and blank values are ignored. Removes come first, then Adds,
// each in first-appearance order.
func History(from, to []string) []Entry {
	oldItems := generation.Dedup(from)
	newItems := generation.Dedup(to)

	oldSet := make(map[string]struct{}, len(oldItems))
	for _, v := range oldItems {
		oldSet[v] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newItems))
	for _, v := range newItems {
		newSet[v] = struct{}{}
	}

	var entries []Entry
	for _, v := range oldItems {
		if _, ok := newSet[v]; !ok {
			entries = append(entries, Entry{Mode: ModeRemove, Value: v})
		}
	}
	for _, v := range newItems {
		if _, ok := oldSet[v]; !ok {
			entries = append(entries, Entry{Mode: ModeAdd, Value: v})
		}
	}
	return entries
}

// HistoryGen applies History per manager present in either generation.
// Managers with no differences map to an empty slice.
func HistoryGen(from, to generation.Generation) map[string][]Entry {
	out := make(map[string][]Entry, len(from.Managers)+len(to.Managers))
	for name, set := range to.Managers {
		out[name] = History(from.Managers[name].Items, set.Items)
	}
	for name, set := range from.Managers {
		if _, ok := to.Managers[name]; ok {
			continue
		}
		out[name] = History(set.Items, nil)
	}
	return out
}

// Split partitions entries into added and removed values.
func Split(entries []Entry) (adds, removes []string) {
	for _, e := range entries {
		switch e.Mode {
		case ModeAdd:
			adds = append(adds, e.Value)
		case ModeRemove:
			removes = append(removes, e.Value)
		}
	}
	return adds, removes
}

// Apply converges old by entries: Removes are dropped and Adds appended.
// The result is deduplicated.
func Apply(old []string, entries []Entry) []string {
	adds, removes := Split(entries)
	drop := make(map[string]struct{}, len(removes))
	for _, v := range removes {
		drop[v] = struct{}{}
	}

	var out []string
	for _, v := range generation.Dedup(old) {
		if _, ok := drop[v]; !ok {
			out = append(out, v)
		}
	}
	return generation.Dedup(append(out, adds...))
}

// Managers returns the manager names of a HistoryGen result in lexical order.
func Managers(m map[string][]Entry) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Format renders entries one per line with +/- prefixes.
func Format(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Mode.Symbol())
		b.WriteString(" ")
		b.WriteString(e.Value)
		b.WriteString("\n")
	}
	return b.String()
}
