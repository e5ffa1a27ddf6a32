package manager

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openfroyo/convergo/pkg/errors"
)

// Registry loads manager declarations by name from a directory. Each
// declaration is read and validated once per Registry.
type Registry struct {
	dir   string
	exec  Exec
	cache map[string]Manager
}

// NewRegistry creates a registry over dir (one <name>.toml per manager).
func NewRegistry(dir string, ex Exec) *Registry {
	return &Registry{dir: dir, exec: ex, cache: make(map[string]Manager)}
}

// Get returns the named manager, loading its declaration on first use.
func (r *Registry) Get(name string) (Manager, error) {
	if m, ok := r.cache[name]; ok {
		return m, nil
	}
	decl, err := r.Load(name)
	if err != nil {
		return nil, err
	}
	m := NewCommandManager(name, decl, r.exec)
	r.cache[name] = m
	return m, nil
}

// Load reads and validates the named declaration without caching it.
func (r *Registry) Load(name string) (Declaration, error) {
	if !IsFilenameSafe(name) {
		return Declaration{}, errors.Newf(errors.KindConfigMalformed, "invalid manager name %q", name).
			WithResource(name)
	}
	path := filepath.Join(r.dir, name+".toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return Declaration{}, errors.Newf(errors.KindMissingFile, "no declaration for manager %s", name).
				WithResource(path).
				WithCause(err)
		}
		return Declaration{}, errors.Wrapf(err, errors.KindInternal, "failed to read %s", path)
	}
	return DecodeDeclaration(data, path)
}

// Names lists declared managers in lexical order. A missing directory yields none.
func (r *Registry) Names() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to list %s", r.dir)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".toml"))
	}
	sort.Strings(names)
	return names, nil
}

// CheckResult is the outcome of validating one declaration.
type CheckResult struct {
	Name     string
	Problems []string
	Err      error
}

// Check loads every declared manager and reports problems per manager.
func (r *Registry) Check() ([]CheckResult, error) {
	names, err := r.Names()
	if err != nil {
		return nil, err
	}
	results := make([]CheckResult, 0, len(names))
	for _, name := range names {
		res := CheckResult{Name: name}
		if _, err := r.Load(name); err != nil {
			res.Err = err
			if e, ok := errors.As(err); ok {
				if problems, ok := e.Details["problems"].([]string); ok {
					res.Problems = problems
				}
			}
		}
		results = append(results, res)
	}
	return results, nil
}
