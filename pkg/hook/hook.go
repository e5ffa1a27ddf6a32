// Package hook runs user-supplied hook executables around builds and manager actions.
package hook

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/openfroyo/convergo/pkg/errors"
	"github.com/openfroyo/convergo/pkg/process"
)

// Build phase hook names.
const (
	PreBuild  = "pre_build"
	PostBuild = "post_build"
)

// Name returns the hook for a manager action, e.g. Name("pre", "apt", "add") = "pre_apt_add".
func Name(phase, hookName, action string) string {
	return phase + "_" + hookName + "_" + action
}

// Hooks runs named hooks.
type Hooks interface {
	Run(ctx context.Context, name string) error
}

// Runner executes hooks found in a directory. A hook that does not exist is
// skipped; one that exits non-zero fails with hook_failed.
type Runner struct {
	dir    string
	runner process.Runner
	stdout io.Writer
	stderr io.Writer
	logger zerolog.Logger
}

// NewRunner creates a hook runner over dir.
func NewRunner(dir string, runner process.Runner, stdout, stderr io.Writer, logger zerolog.Logger) *Runner {
	return &Runner{
		dir:    dir,
		runner: runner,
		stdout: stdout,
		stderr: stderr,
		logger: logger.With().Str("component", "hook").Logger(),
	}
}

// Run executes the hook called name with no arguments.
func (r *Runner) Run(ctx context.Context, name string) error {
	path := filepath.Join(r.dir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		r.logger.Trace().Str("hook", name).Msg("Hook not present")
		return nil
	}

	r.logger.Info().Str("hook", name).Msg("Running hook")

	res, err := r.runner.Run(ctx, process.Request{
		Command: path,
		Dir:     r.dir,
		Stdout:  r.stdout,
		Stderr:  r.stderr,
	})
	if err != nil {
		return errors.New(errors.KindHookFailed, "failed to start hook").
			WithResource(name).
			WithCause(err)
	}
	if !res.Success() {
		return errors.Newf(errors.KindHookFailed, "hook exited with status %d", res.ExitCode).
			WithResource(name).
			WithDetail("exit_code", res.ExitCode)
	}

	r.logger.Info().Str("hook", name).Dur("duration", res.Duration).Msg("Hook finished")
	return nil
}

// Nop is a Hooks that does nothing.
type Nop struct{}

// Run implements Hooks.
func (Nop) Run(context.Context, string) error { return nil }
