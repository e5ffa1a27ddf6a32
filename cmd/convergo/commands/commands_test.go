package commands

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/convergo/pkg/diff"
	"github.com/openfroyo/convergo/pkg/engine"
	"github.com/openfroyo/convergo/pkg/errors"
)

type env struct {
	configDir string
	stateDir  string
}

func newEnv(t *testing.T) env {
	t.Helper()
	t.Setenv("CONVERGO_LOG_LEVEL", "error")
	root := t.TempDir()
	return env{
		configDir: filepath.Join(root, "config"),
		stateDir:  filepath.Join(root, "state"),
	}
}

func (e env) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append([]string{"--config-dir", e.configDir, "--state-dir", e.stateDir}, args...))
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func TestConfigInitWritesStarter(t *testing.T) {
	e := newEnv(t)

	out, err := e.execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created")
	assert.FileExists(t, filepath.Join(e.configDir, "gen.toml"))
	assert.FileExists(t, filepath.Join(e.configDir, "managers", "example.toml"))

	out, err = e.execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Kept")
	assert.NotContains(t, out, "Created")

	out, err = e.execute(t, "config", "init", "--manager", "apt")
	require.NoError(t, err)
	assert.Contains(t, out, "Created "+filepath.Join(e.configDir, "managers", "apt.toml"))

	_, err = e.execute(t, "config", "init", "--manager", "brew")
	require.Error(t, err)
}

func TestCommandsRequireSetup(t *testing.T) {
	e := newEnv(t)

	_, err := e.execute(t, "gen", "list")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotSetUp))

	_, err = e.execute(t, "gen", "commit", "first")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotSetUp))
}

func TestIsUnlocked(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.MkdirAll(e.stateDir, 0o755))
	require.NoError(t, os.MkdirAll(e.configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.configDir, "convergo.yaml"), []byte("force_unlock_countdown: 0\n"), 0o644))

	_, err := e.execute(t, "is-unlocked")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(e.stateDir, "lock"), []byte("42_1700000000"), 0o644))
	_, err = e.execute(t, "is-unlocked")
	require.Error(t, err)
	assert.Equal(t, 1, Report(&bytes.Buffer{}, err))

	out, err := e.execute(t, "force-unlock", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Lock removed")

	_, err = e.execute(t, "is-unlocked")
	require.NoError(t, err)
}

func TestForceUnlockWithoutTerminal(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.MkdirAll(e.stateDir, 0o755))
	lockPath := filepath.Join(e.stateDir, "lock")
	require.NoError(t, os.WriteFile(lockPath, []byte("42_1700000000"), 0o644))

	orig := stdinIsTerminal
	stdinIsTerminal = func() bool { return false }
	t.Cleanup(func() { stdinIsTerminal = orig })

	out, err := e.execute(t, "force-unlock")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
	assert.NotContains(t, out, "Lock removed")
	assert.FileExists(t, lockPath)
}

func TestMutationRefusedBeforeLedgerOpens(t *testing.T) {
	requireGit(t)
	e := newEnv(t)

	_, err := e.execute(t, "config", "init")
	require.NoError(t, err)
	t.Setenv("CONVERGO_SHELL", "sh")
	_, err = e.execute(t, "setup")
	require.NoError(t, err)

	ledgerPath := filepath.Join(e.stateDir, "ledger.db")
	require.NoError(t, os.Remove(ledgerPath))
	require.NoError(t, os.WriteFile(filepath.Join(e.stateDir, "lock"), []byte("42_1700000000"), 0o644))

	_, err = e.execute(t, "gen", "commit", "blocked")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindLockHeld))
	assert.NoFileExists(t, ledgerPath)

	_, err = e.execute(t, "setup")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindLockHeld))
	assert.NoFileExists(t, ledgerPath)
}

func TestGenerationWorkflow(t *testing.T) {
	requireGit(t)
	e := newEnv(t)

	_, err := e.execute(t, "config", "init")
	require.NoError(t, err)
	t.Setenv("CONVERGO_SHELL", "sh")

	out, err := e.execute(t, "setup")
	require.NoError(t, err)
	assert.Contains(t, out, "State directory ready")

	out, err = e.execute(t, "gen", "commit", "first")
	require.NoError(t, err)
	assert.Contains(t, out, "Committed generation")

	out, err = e.execute(t, "gen", "commit", "again")
	require.NoError(t, err)
	assert.Contains(t, out, "No changes to commit")

	out, err = e.execute(t, "gen", "diff", "--raw", "1", "1")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = e.execute(t, "gen", "current", "build")
	require.NoError(t, err)
	assert.Contains(t, out, "Built generation")

	out, err = e.execute(t, "gen", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "[CURRENT]")
	assert.Contains(t, out, "[BUILT]")

	out, err = e.execute(t, "gen", "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")

	_, err = e.execute(t, "gen", "current", "rollback", "5")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindRange))

	_, err = e.execute(t, "gen", "current", "set", "abc")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindRange))
}

func TestReport(t *testing.T) {
	t.Run("manager failure adds a hint", func(t *testing.T) {
		var buf bytes.Buffer
		err := errors.New(errors.KindManagerCommandFailed, "failed to add packages").
			WithResource("apt").
			WithOp("add")
		assert.Equal(t, 1, Report(&buf, err))
		assert.Contains(t, buf.String(), "[manager_command_failed] failed to add packages")
		assert.Contains(t, buf.String(), "list-others --manager apt")
	})

	t.Run("unclassified errors are internal", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Equal(t, 1, Report(&buf, assert.AnError))
		assert.Contains(t, buf.String(), "[internal]")
	})

	t.Run("exit errors are silent", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Equal(t, 3, Report(&buf, &exitError{code: 3}))
		assert.Empty(t, buf.String())
	})
}

func TestRenderDiff(t *testing.T) {
	var buf bytes.Buffer
	shown := renderDiff(&buf, map[string][]diff.Entry{
		"apt": {
			{Mode: diff.ModeRemove, Value: "nano"},
			{Mode: diff.ModeAdd, Value: "vim"},
		},
		"cargo": nil,
	})

	assert.Equal(t, 1, shown)
	assert.Contains(t, buf.String(), "apt:")
	assert.Contains(t, buf.String(), "- nano")
	assert.Contains(t, buf.String(), "+ vim")
	assert.NotContains(t, buf.String(), "cargo")

	buf.Reset()
	assert.Zero(t, renderDiff(&buf, nil))
	assert.Contains(t, buf.String(), "No differences")
}

func TestGenerationLine(t *testing.T) {
	line := generationLine(engine.GenerationInfo{Index: 2, ID: "0123456789abcdef", Message: "add vim", Current: true})
	assert.Contains(t, line, "0123456789")
	assert.NotContains(t, line, "abcdef")
	assert.Contains(t, line, "add vim")
	assert.Contains(t, line, "[CURRENT]")
	assert.NotContains(t, line, "[BUILT]")
}
