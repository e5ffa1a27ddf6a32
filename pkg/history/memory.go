package history

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/openfroyo/convergo/pkg/errors"
)

type memoryCommit struct {
	id      string
	message string
	content []byte
	present bool
}

// MemoryStore is a Store that keeps snapshots in memory while still
// materialising the snapshot file in a real working tree directory. Only
// SnapshotFile is tracked.
type MemoryStore struct {
	dir     string
	commits []memoryCommit
	head    string
	stashes int
}

// NewMemoryStore creates a store whose working tree is dir.
func NewMemoryStore(dir string) *MemoryStore {
	return &MemoryStore{dir: dir}
}

// Init implements Store.
func (m *MemoryStore) Init(context.Context) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}
	if len(m.commits) == 0 {
		m.record(initialMessage, nil, false)
	}
	return nil
}

// WorkTree implements Store.
func (m *MemoryStore) WorkTree() string { return m.dir }

// Attach implements Store.
func (m *MemoryStore) Attach(ctx context.Context) error {
	if len(m.commits) == 0 {
		return nil
	}
	tip := m.commits[len(m.commits)-1].id
	if m.head == tip {
		return nil
	}
	return m.Checkout(ctx, tip)
}

// Commit implements Store.
func (m *MemoryStore) Commit(ctx context.Context, message string) (string, error) {
	dirty, err := m.IsDirty(ctx)
	if err != nil {
		return "", err
	}
	if !dirty {
		return "", nil
	}
	content, present, err := m.readTree()
	if err != nil {
		return "", err
	}
	return m.record(message, content, present), nil
}

// Log implements Store.
func (m *MemoryStore) Log(_ context.Context, limit int) ([]Snapshot, error) {
	var out []Snapshot
	for i := len(m.commits) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, Snapshot{ID: m.commits[i].id, Message: m.commits[i].message})
	}
	return out, nil
}

// Checkout implements Store.
func (m *MemoryStore) Checkout(ctx context.Context, id string) error {
	c, ok := m.find(id)
	if !ok {
		return errors.Newf(errors.KindVersionStore, "unknown snapshot %s", id).WithOp("checkout")
	}
	dirty, err := m.IsDirty(ctx)
	if err != nil {
		return err
	}
	if dirty {
		m.stashes++
	}
	path := filepath.Join(m.dir, SnapshotFile)
	if c.present {
		if err := os.WriteFile(path, c.content, 0o644); err != nil {
			return err
		}
	} else if err := os.Remove(path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return err
	}
	m.head = id
	return nil
}

// Show implements Store.
func (m *MemoryStore) Show(_ context.Context, id, path string) ([]byte, error) {
	c, ok := m.find(id)
	if !ok {
		return nil, errors.Newf(errors.KindVersionStore, "unknown snapshot %s", id).WithOp("show")
	}
	if path != SnapshotFile || !c.present {
		return nil, errors.Newf(errors.KindMissingFile, "%s does not exist in snapshot %s", path, id).WithOp("show")
	}
	return append([]byte(nil), c.content...), nil
}

// Head implements Store.
func (m *MemoryStore) Head(context.Context) (string, error) {
	if m.head == "" {
		return "", errors.New(errors.KindVersionStore, "no commits").WithOp("rev-parse")
	}
	return m.head, nil
}

// IsDirty implements Store.
func (m *MemoryStore) IsDirty(context.Context) (bool, error) {
	content, present, err := m.readTree()
	if err != nil {
		return false, err
	}
	var headContent []byte
	headPresent := false
	if c, ok := m.find(m.head); ok {
		headContent, headPresent = c.content, c.present
	}
	return present != headPresent || string(content) != string(headContent), nil
}

// Diff implements Store.
func (m *MemoryStore) Diff(_ context.Context, from, to string) (string, error) {
	a, okA := m.find(from)
	b, okB := m.find(to)
	if !okA || !okB {
		return "", errors.New(errors.KindVersionStore, "unknown snapshot").WithOp("diff")
	}
	if string(a.content) == string(b.content) {
		return "", nil
	}
	return fmt.Sprintf("--- %s\n+++ %s\n-%s\n+%s", from, to, a.content, b.content), nil
}

// Stashes returns how many times a dirty tree was stashed.
func (m *MemoryStore) Stashes() int { return m.stashes }

func (m *MemoryStore) record(message string, content []byte, present bool) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%d\x00%s\x00%s", len(m.commits), message, content)))
	id := hex.EncodeToString(sum[:])
	m.commits = append(m.commits, memoryCommit{id: id, message: message, content: content, present: present})
	m.head = id
	return id
}

func (m *MemoryStore) find(id string) (memoryCommit, bool) {
	for _, c := range m.commits {
		if c.id == id {
			return c, true
		}
	}
	return memoryCommit{}, false
}

func (m *MemoryStore) readTree() ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, SnapshotFile))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}
