// Package manager drives external item managers (package ecosystems,
// service sets) through user-declared command templates.
package manager

import (
	"context"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/convergo/pkg/errors"
	"github.com/openfroyo/convergo/pkg/generation"
	"github.com/openfroyo/convergo/pkg/hook"
	"github.com/openfroyo/convergo/pkg/process"
)

// Action names used for hooks, ledger steps and metrics.
const (
	ActionAdd     = "add"
	ActionRemove  = "remove"
	ActionSync    = "sync"
	ActionUpgrade = "upgrade"
	ActionList    = "list"
)

// Manager is the uniform contract every backend satisfies.
type Manager interface {
	Name() string
	Declaration() Declaration
	Add(ctx context.Context, items []string) error
	Remove(ctx context.Context, items []string) error
	Sync(ctx context.Context) error
	Upgrade(ctx context.Context) error
	List(ctx context.Context) ([]string, error)
	Other(ctx context.Context, declared []string) ([]string, error)
}

// CommandManager implements Manager by running shell templates.
type CommandManager struct {
	name   string
	decl   Declaration
	runner process.Runner
	hooks  hook.Hooks
	shell  string
	stdout io.Writer
	stderr io.Writer
	logger zerolog.Logger
}

// Exec groups what a CommandManager needs to run commands.
type Exec struct {
	Runner process.Runner
	Hooks  hook.Hooks
	Shell  string
	Stdout io.Writer
	Stderr io.Writer
	Logger zerolog.Logger
}

// NewCommandManager binds a declaration to an executor.
func NewCommandManager(name string, decl Declaration, ex Exec) *CommandManager {
	shell := ex.Shell
	if shell == "" {
		shell = process.DefaultShell
	}
	hooks := ex.Hooks
	if hooks == nil {
		hooks = hook.Nop{}
	}
	return &CommandManager{
		name:   name,
		decl:   decl,
		runner: ex.Runner,
		hooks:  hooks,
		shell:  shell,
		stdout: ex.Stdout,
		stderr: ex.Stderr,
		logger: ex.Logger.With().Str("component", "manager").Str("manager", name).Logger(),
	}
}

// Name returns the manager name.
func (m *CommandManager) Name() string { return m.name }

// Declaration returns the declaration the manager was built from.
func (m *CommandManager) Declaration() Declaration { return m.decl }

// Add installs items.
func (m *CommandManager) Add(ctx context.Context, items []string) error {
	return m.apply(ctx, ActionAdd, m.decl.Add, items)
}

// Remove uninstalls items.
func (m *CommandManager) Remove(ctx context.Context, items []string) error {
	return m.apply(ctx, ActionRemove, m.decl.Remove, items)
}

// Sync refreshes the backend's repositories. Hooks run even when no sync
// command is declared.
func (m *CommandManager) Sync(ctx context.Context) error {
	return m.wrapped(ctx, ActionSync, func() error {
		if m.decl.Sync == "" {
			m.logger.Debug().Msg("No sync command declared")
			return nil
		}
		return m.run(ctx, ActionSync, m.decl.Sync, nil)
	})
}

// Upgrade upgrades every installed item. Hooks run even when no upgrade
// command is declared.
func (m *CommandManager) Upgrade(ctx context.Context) error {
	return m.wrapped(ctx, ActionUpgrade, func() error {
		if m.decl.Upgrade == "" {
			m.logger.Debug().Msg("No upgrade command declared")
			return nil
		}
		return m.run(ctx, ActionUpgrade, m.decl.Upgrade, nil)
	})
}

// List returns the installed items reported by the list command.
func (m *CommandManager) List(ctx context.Context) ([]string, error) {
	if m.decl.List == "" {
		return nil, errors.Newf(errors.KindManagerCommandFailed, "no list command declared for %s", m.decl.PluralName).
			WithResource(m.name).
			WithOp(ActionList)
	}

	res, err := m.runner.Run(ctx, process.Request{Command: m.decl.List, Shell: m.shell, Stderr: m.stderr})
	if err != nil {
		return nil, errors.New(errors.KindManagerCommandFailed, "failed to start list command").
			WithResource(m.name).
			WithOp(ActionList).
			WithCause(err)
	}
	if !res.Success() {
		return nil, errors.Newf(errors.KindManagerCommandFailed, "failed to get list of %s", m.decl.PluralName).
			WithResource(m.name).
			WithOp(ActionList).
			WithDetail("exit_code", res.ExitCode)
	}
	return strings.Fields(res.Stdout), nil
}

// Other returns installed items that are not declared. Without a list
// command there is nothing to compare and the result is empty.
func (m *CommandManager) Other(ctx context.Context, declared []string) ([]string, error) {
	if m.decl.List == "" {
		return nil, nil
	}
	installed, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(declared))
	for _, item := range declared {
		known[strings.TrimSpace(item)] = struct{}{}
	}
	var others []string
	for _, item := range generation.Dedup(installed) {
		if _, ok := known[item]; !ok {
			others = append(others, item)
		}
	}
	return others, nil
}

func (m *CommandManager) apply(ctx context.Context, action, template string, items []string) error {
	items = generation.Dedup(items)
	if len(items) == 0 {
		return nil
	}

	return m.wrapped(ctx, action, func() error {
		if m.decl.Config.ManyArgs {
			return m.run(ctx, action, Substitute(template, strings.Join(items, m.decl.Config.ArgSep)), items)
		}
		for _, item := range items {
			if err := m.run(ctx, action, Substitute(template, item), []string{item}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *CommandManager) wrapped(ctx context.Context, action string, fn func() error) error {
	if err := m.hooks.Run(ctx, hook.Name("pre", m.decl.HookName, action)); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return m.hooks.Run(ctx, hook.Name("post", m.decl.HookName, action))
}

func (m *CommandManager) run(ctx context.Context, action, command string, items []string) error {
	m.logger.Debug().Str("action", action).Str("command", command).Msg("Running manager command")

	res, err := m.runner.Run(ctx, process.Request{
		Command: command,
		Shell:   m.shell,
		Stdout:  m.stdout,
		Stderr:  m.stderr,
	})
	if err != nil {
		return errors.Newf(errors.KindManagerCommandFailed, "failed to start %s command", action).
			WithResource(m.name).
			WithOp(action).
			WithCause(err)
	}
	if !res.Success() {
		return errors.Newf(errors.KindManagerCommandFailed, "failed to %s %s", action, m.decl.PluralName).
			WithResource(m.name).
			WithOp(action).
			WithDetail("exit_code", res.ExitCode).
			WithDetail("items", items)
	}

	m.logger.Info().Str("action", action).Strs("items", items).Dur("duration", res.Duration).
		Msgf("%s %s succeeded", action, m.decl.PluralName)
	return nil
}

// Substitute replaces the item token in template with args.
func Substitute(template, args string) string {
	return strings.ReplaceAll(template, ItemToken, args)
}
