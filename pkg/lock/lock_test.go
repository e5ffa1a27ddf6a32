package lock

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/convergo/pkg/errors"
)

func TestProcessID(t *testing.T) {
	id := ProcessID()
	assert.Regexp(t, regexp.MustCompile(`^\d+_\d+$`), id)
	assert.Equal(t, id, ProcessID())
}

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	l := New(path, "100_1")

	locked, err := l.IsLocked()
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, l.Acquire())
	locked, err = l.IsLocked()
	require.NoError(t, err)
	assert.True(t, locked)

	owner, err := l.Owner()
	require.NoError(t, err)
	assert.Equal(t, "100_1", owner)

	// same id reacquires
	require.NoError(t, l.Acquire())

	require.NoError(t, l.Release())
	assert.NoFileExists(t, path)

	// releasing an unheld lock is a no-op
	require.NoError(t, l.Release())
}

func TestHeldByOther(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	a := New(path, "100_1")
	b := New(path, "200_2")

	require.NoError(t, a.Acquire())

	err := b.Acquire()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindLockHeld))

	err = b.Release()
	assert.True(t, errors.IsKind(err, errors.KindLockHeld))
	assert.FileExists(t, path)

	require.NoError(t, b.ForceRelease())
	assert.NoFileExists(t, path)
	require.NoError(t, b.Acquire())
}

func TestForceReleaseMissing(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "lock"), "1_1")
	assert.NoError(t, l.ForceRelease())
}

func TestWithReleasesOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	l := New(path, "1_1")

	boom := stderrors.New("boom")
	err := l.With(func() error {
		assert.FileExists(t, path)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoFileExists(t, path)

	require.NoError(t, l.With(func() error { return nil }))
	assert.NoFileExists(t, path)
}

func TestWithReleasesOnPanic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	l := New(path, "1_1")

	assert.Panics(t, func() {
		_ = l.With(func() error { panic("boom") })
	})
	assert.NoFileExists(t, path)
}

func TestWithHeldByOther(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	require.NoError(t, os.WriteFile(path, []byte("9_9"), 0o644))

	ran := false
	err := New(path, "1_1").With(func() error {
		ran = true
		return nil
	})
	assert.True(t, errors.IsKind(err, errors.KindLockHeld))
	assert.False(t, ran)
	assert.FileExists(t, path)
}

func TestWithReentrant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	l := New(path, "1_1")
	require.NoError(t, l.Acquire())

	require.NoError(t, l.With(func() error { return nil }))
	assert.FileExists(t, path)
}

func TestAcquireEmptyLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	err := New(path, "1_1").Acquire()
	assert.True(t, errors.IsKind(err, errors.KindLockHeld))
	assert.FileExists(t, path)
}

func TestConcurrentAcquireReportsOwner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lock")

	for round := 0; round < 20; round++ {
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []string
			owners  []string
		)
		for i := 0; i < 8; i++ {
			id := fmt.Sprintf("%d_%d", i+1, round)
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := New(path, id).Acquire()
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					winners = append(winners, id)
					return
				}
				e, ok := errors.As(err)
				if assert.True(t, ok, err) && assert.Equal(t, errors.KindLockHeld, e.Kind) {
					owners = append(owners, e.Resource)
				}
			}()
		}
		wg.Wait()

		require.Len(t, winners, 1)
		for _, owner := range owners {
			assert.Equal(t, winners[0], owner)
		}
		require.NoError(t, New(path, winners[0]).Release())
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary lock files left behind")
}
