package history

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/convergo/pkg/errors"
	"github.com/openfroyo/convergo/pkg/process"
)

func newGitStore(t *testing.T) *GitStore {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	t.Setenv("HOME", t.TempDir())

	dir := filepath.Join(t.TempDir(), "history")
	store := NewGitStore(dir, process.NewExecRunner(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, store.Init(context.Background()))
	return store
}

func writeGen(t *testing.T, s Store, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(s.WorkTree(), SnapshotFile), []byte(content), 0o644))
}

// storeContract runs the same behavioural checks against every Store.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	initial, err := s.Log(ctx, 0)
	require.NoError(t, err)
	require.Len(t, initial, 1)

	writeGen(t, s, "[managers.apt]\nitems = [\"git\"]\n")
	dirty, err := s.IsDirty(ctx)
	require.NoError(t, err)
	assert.True(t, dirty)

	first, err := s.Commit(ctx, "first")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// nothing changed
	again, err := s.Commit(ctx, "noop")
	require.NoError(t, err)
	assert.Empty(t, again)

	writeGen(t, s, "[managers.apt]\nitems = [\"git\", \"vim\"]\n")
	second, err := s.Commit(ctx, "second")
	require.NoError(t, err)
	require.NotEmpty(t, second)
	assert.NotEqual(t, first, second)

	log, err := s.Log(ctx, 0)
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, Snapshot{ID: second, Message: "second"}, log[0])
	assert.Equal(t, Snapshot{ID: first, Message: "first"}, log[1])

	limited, err := s.Log(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	content, err := s.Show(ctx, first, SnapshotFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "git")
	assert.NotContains(t, string(content), "vim")

	_, err = s.Show(ctx, initial[0].ID, SnapshotFile)
	assert.True(t, errors.IsKind(err, errors.KindMissingFile))

	// local drift is stashed on checkout
	writeGen(t, s, "drift")
	require.NoError(t, s.Checkout(ctx, first))
	head, err := s.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, head)
	onDisk, err := os.ReadFile(filepath.Join(s.WorkTree(), SnapshotFile))
	require.NoError(t, err)
	assert.Equal(t, string(content), string(onDisk))

	// the log still reaches the newest snapshot after moving back
	log, err = s.Log(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, second, log[0].ID)

	require.NoError(t, s.Attach(ctx))
	head, err = s.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, head)

	diff, err := s.Diff(ctx, first, second)
	require.NoError(t, err)
	assert.Contains(t, diff, "vim")
}

func TestGitStore(t *testing.T) {
	storeContract(t, newGitStore(t))
}

func TestGitStoreInitIdempotent(t *testing.T) {
	s := newGitStore(t)
	require.NoError(t, s.Init(context.Background()))
	log, err := s.Log(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestGitStoreFailureKind(t *testing.T) {
	s := newGitStore(t)
	err := s.Checkout(context.Background(), "0000000000000000000000000000000000000000")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindVersionStore))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(t.TempDir())
	require.NoError(t, s.Init(context.Background()))
	storeContract(t, s)
	assert.Equal(t, 1, s.Stashes())
}

func TestParseLog(t *testing.T) {
	got := parseLog("abc|second | with pipe\ndef|first\n\ngarbage")
	assert.Equal(t, []Snapshot{
		{ID: "abc", Message: "second | with pipe"},
		{ID: "def", Message: "first"},
	}, got)
}

func TestFilePointers(t *testing.T) {
	p := NewFilePointers(filepath.Join(t.TempDir(), "pointers"))

	id, ok, err := p.Get(Current)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)

	require.NoError(t, p.Set(Current, "abc123"))
	require.NoError(t, p.Set(Built, "def456"))

	id, ok, err = p.Get(Current)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", id)

	require.NoError(t, p.Set(Current, "zzz"))
	id, _, err = p.Get(Current)
	require.NoError(t, err)
	assert.Equal(t, "zzz", id)

	require.NoError(t, p.Clear(Built))
	_, ok, err = p.Get(Built)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, p.Clear(Built))
}
