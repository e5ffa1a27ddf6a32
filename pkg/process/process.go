// Package process runs external commands: manager templates, hooks and the
// version store binary. Commands are synchronous and are never cancelled once
// started; the context is only consulted before launch.
package process

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/convergo/pkg/errors"
)

// DefaultShell interprets manager and hook command strings.
const DefaultShell = "bash"

// Request describes one external command.
type Request struct {
	// Command is the program to run, or a shell script when Args is empty
	// and Shell is set.
	Command string

	// Args are passed to Command verbatim.
	Args []string

	// Shell, when set and Args is empty, runs Command via `<shell> -c`.
	Shell string

	// Dir is the working directory.
	Dir string

	// Env adds variables on top of the current environment.
	Env map[string]string

	// Stdin feeds the process, nil for no input.
	Stdin io.Reader

	// Stdout and Stderr receive a live copy of the output, e.g. the terminal.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the request for logs.
func (r Request) String() string {
	if len(r.Args) == 0 {
		return r.Command
	}
	return r.Command + " " + strings.Join(r.Args, " ")
}

// Result is the outcome of a command that started.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports a zero exit code.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes external commands. A non-zero exit is reported through
// Result.ExitCode, not as an error; errors mean the command could not start.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// ExecRunner runs commands on the local host.
type ExecRunner struct {
	logger zerolog.Logger
}

// NewExecRunner creates a local runner.
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger.With().Str("component", "process").Logger()}
}

// Run executes req and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Command == "" {
		return nil, errors.New(errors.KindInternal, "command is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cmd *exec.Cmd
	if len(req.Args) == 0 && req.Shell != "" {
		cmd = exec.Command(req.Shell, "-c", req.Command)
	} else {
		cmd = exec.Command(req.Command, req.Args...)
	}

	if req.Dir != "" {
		cmd.Dir = req.Dir
	}
	if len(req.Env) > 0 {
		env := os.Environ()
		for k, v := range req.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	cmd.Stdin = req.Stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = tee(&stdout, req.Stdout)
	cmd.Stderr = tee(&stderr, req.Stderr)

	r.logger.Debug().Str("command", req.String()).Str("dir", req.Dir).Msg("Running command")

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			r.logger.Debug().
				Str("command", req.String()).
				Int("exit_code", result.ExitCode).
				Dur("duration", result.Duration).
				Msg("Command exited non-zero")
			return result, nil
		}
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to execute %s", req.Command)
	}

	return result, nil
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}
