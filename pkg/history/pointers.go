package history

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/convergo/pkg/errors"
)

// Pointer names.
const (
	Current = "current"
	Built   = "built"
)

// PointerStore persists the current and built snapshot ids. A pointer that
// was never set reads as ("", false, nil).
type PointerStore interface {
	Get(name string) (string, bool, error)
	Set(name, id string) error
	Clear(name string) error
}

// FilePointers stores each pointer as a one-line file in a directory kept
// outside the version history.
type FilePointers struct {
	dir string
}

// NewFilePointers creates a pointer store in dir.
func NewFilePointers(dir string) *FilePointers {
	return &FilePointers{dir: dir}
}

// Get reads a pointer.
func (p *FilePointers) Get(name string) (string, bool, error) {
	data, err := os.ReadFile(filepath.Join(p.dir, name))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, errors.KindInternal, "failed to read %s pointer", name)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", false, nil
	}
	return id, true, nil
}

// Set writes a pointer atomically.
func (p *FilePointers) Set(name, id string) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to create %s", p.dir)
	}
	tmp, err := os.CreateTemp(p.dir, "."+name+"-*")
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to write %s pointer", name)
	}
	if _, err := tmp.WriteString(id + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, errors.KindInternal, "failed to write %s pointer", name)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, errors.KindInternal, "failed to write %s pointer", name)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(p.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, errors.KindInternal, "failed to write %s pointer", name)
	}
	return nil
}

// Clear removes a pointer.
func (p *FilePointers) Clear(name string) error {
	if err := os.Remove(filepath.Join(p.dir, name)); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, errors.KindInternal, "failed to clear %s pointer", name)
	}
	return nil
}

// MemoryPointers is an in-memory PointerStore.
type MemoryPointers struct {
	values map[string]string
}

// NewMemoryPointers creates an empty in-memory pointer store.
func NewMemoryPointers() *MemoryPointers {
	return &MemoryPointers{values: make(map[string]string)}
}

// Get implements PointerStore.
func (p *MemoryPointers) Get(name string) (string, bool, error) {
	v, ok := p.values[name]
	return v, ok, nil
}

// Set implements PointerStore.
func (p *MemoryPointers) Set(name, id string) error {
	p.values[name] = id
	return nil
}

// Clear implements PointerStore.
func (p *MemoryPointers) Clear(name string) error {
	delete(p.values, name)
	return nil
}
