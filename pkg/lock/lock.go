// Package lock serializes state-mutating operations across processes with a
// lock file holding the owner's process identifier. A lock left behind by a
// dead process is never cleared automatically; ForceRelease is the only way.
package lock

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/convergo/pkg/errors"
)

var (
	procOnce sync.Once
	procID   string
)

// ProcessID returns this process's identifier: "<pid>_<unix start time>".
// It is computed once and stable for the life of the process.
func ProcessID() string {
	procOnce.Do(func() {
		procID = fmt.Sprintf("%d_%d", os.Getpid(), time.Now().Unix())
	})
	return procID
}

// Lock is a cross-process mutual-exclusion lock backed by a file.
type Lock struct {
	path string
	id   string
}

// New creates a lock at path owned by id.
func New(path, id string) *Lock {
	return &Lock{path: path, id: id}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// ID returns the identifier this lock acquires with.
func (l *Lock) ID() string { return l.id }

// Acquire takes the lock. Acquiring a lock this id already holds is a no-op;
// a lock held by another id fails with lock_held.
//
// The id is written to a temporary file first and hard-linked into place, so
// the lock file is never observed without its owner.
func (l *Lock) Acquire() error {
	tmp, err := l.stage()
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	err = os.Link(tmp, l.path)
	if err == nil {
		return nil
	}
	if !stderrors.Is(err, fs.ErrExist) {
		return errors.Wrapf(err, errors.KindInternal, "failed to create lock file %s", l.path)
	}

	owner, err := l.Owner()
	if err != nil {
		return err
	}
	if owner == l.id {
		return nil
	}
	if owner == "" {
		// released between the link attempt and the read
		if locked, err := l.IsLocked(); err == nil && !locked {
			return l.Acquire()
		}
	}
	return heldBy(owner)
}

// stage writes the id to a temporary file next to the lock file.
func (l *Lock) stage() (string, error) {
	f, err := os.CreateTemp(filepath.Dir(l.path), "."+filepath.Base(l.path)+"-*")
	if err != nil {
		return "", errors.Wrapf(err, errors.KindInternal, "failed to create lock file %s", l.path)
	}
	_, werr := f.WriteString(l.id)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(f.Name())
		return "", errors.Wrap(stderrors.Join(werr, cerr), errors.KindInternal, "failed to write lock file")
	}
	return f.Name(), nil
}

// Release drops the lock. Releasing an unheld lock is a no-op; releasing a
// lock owned by another id fails with lock_held and leaves it in place.
func (l *Lock) Release() error {
	owner, err := l.Owner()
	if err != nil {
		return err
	}
	if owner == "" {
		return nil
	}
	if owner != l.id {
		return heldBy(owner)
	}
	if err := os.Remove(l.path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, errors.KindInternal, "failed to remove lock file %s", l.path)
	}
	return nil
}

// ForceRelease removes the lock regardless of owner.
func (l *Lock) ForceRelease() error {
	if err := os.Remove(l.path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, errors.KindInternal, "failed to remove lock file %s", l.path)
	}
	return nil
}

// IsLocked reports whether any process holds the lock. It never blocks.
func (l *Lock) IsLocked() (bool, error) {
	_, err := os.Stat(l.path)
	if err == nil {
		return true, nil
	}
	if stderrors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, errors.KindInternal, "failed to stat lock file %s", l.path)
}

// Owner returns the id holding the lock, or "" when unlocked.
func (l *Lock) Owner() (string, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", errors.Wrapf(err, errors.KindInternal, "failed to read lock file %s", l.path)
	}
	return strings.TrimSpace(string(data)), nil
}

// With runs fn while holding the lock and always releases it afterwards.
// A lock this id already held before the call is left held.
func (l *Lock) With(fn func() error) (err error) {
	owner, err := l.Owner()
	if err != nil {
		return err
	}
	reentrant := owner == l.id

	if err := l.Acquire(); err != nil {
		return err
	}
	if reentrant {
		return fn()
	}
	defer func() {
		if rerr := l.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn()
}

func heldBy(owner string) error {
	return errors.Newf(errors.KindLockHeld, "lock is held by process %s", owner).
		WithResource(owner).
		WithDetail("owner", owner)
}
