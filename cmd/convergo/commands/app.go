package commands

import (
	"context"
	stderrors "errors"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/convergo/pkg/config"
	"github.com/openfroyo/convergo/pkg/engine"
	"github.com/openfroyo/convergo/pkg/generation"
	"github.com/openfroyo/convergo/pkg/history"
	"github.com/openfroyo/convergo/pkg/hook"
	"github.com/openfroyo/convergo/pkg/lock"
	"github.com/openfroyo/convergo/pkg/manager"
	"github.com/openfroyo/convergo/pkg/paths"
	"github.com/openfroyo/convergo/pkg/policy"
	"github.com/openfroyo/convergo/pkg/process"
	"github.com/openfroyo/convergo/pkg/stores"
	"github.com/openfroyo/convergo/pkg/telemetry"
)

// app holds what every command needs: locations, settings and telemetry.
// The engine and its collaborators are only built by commands that use them.
type app struct {
	paths     *paths.Paths
	settings  config.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	hostname  string
	lock      *lock.Lock
	runner    process.Runner
	ledger    *stores.SQLiteStore
}

// newApp resolves locations from the global flags, reads the settings file
// and starts telemetry.
func newApp(cmd *cobra.Command) (*app, error) {
	p := paths.New()
	if configDir != "" || stateDir != "" {
		cfgRoot, stateRoot := p.ConfigDir(), p.StateDir()
		if configDir != "" {
			cfgRoot = configDir
		}
		if stateDir != "" {
			stateRoot = stateDir
		}
		p = paths.NewWithRoots(cfgRoot, stateRoot)
	}

	settings, err := config.Load(p.Settings())
	if err != nil {
		return nil, err
	}
	if verbose {
		settings.Log.Level = "debug"
	}

	tel, err := telemetry.New(settings.Telemetry(buildVersion), cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	hostname, err := paths.Hostname()
	if err != nil {
		return nil, err
	}

	logger := tel.Logger.Zerolog()
	logger.Debug().
		Str("config_dir", p.ConfigDir()).
		Str("state_dir", p.StateDir()).
		Str("hostname", hostname).
		Msg("Resolved locations")

	return &app{
		paths:     p,
		settings:  settings,
		telemetry: tel,
		logger:    logger,
		hostname:  hostname,
		lock:      lock.New(p.Lock(), lock.ProcessID()),
		runner:    process.NewExecRunner(logger),
	}, nil
}

// engine builds the convergence engine. The state directories must exist.
func (a *app) engine(ctx context.Context, cmd *cobra.Command) (*engine.Engine, error) {
	if err := a.paths.CheckSetUp(); err != nil {
		return nil, err
	}

	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	hooks := hook.NewRunner(a.paths.HooksDir(), a.runner, stdout, stderr, a.logger)
	registry := manager.NewRegistry(a.paths.ManagersDir(), manager.Exec{
		Runner: a.runner,
		Hooks:  hooks,
		Shell:  a.settings.Shell,
		Stdout: stdout,
		Stderr: stderr,
		Logger: a.logger,
	})

	order, err := generation.LoadOrder(a.paths.Order())
	if err != nil {
		return nil, err
	}
	for name, count := range order.Duplicates() {
		a.logger.Warn().Str("manager", name).Int("count", count).Msg("Manager listed more than once in the order file")
	}

	ledger, err := a.openLedger(ctx)
	if err != nil {
		return nil, err
	}

	guard, err := policy.NewEngine(ctx, a.logger)
	if err != nil {
		return nil, err
	}
	if err := guard.LoadDir(ctx, a.paths.PoliciesDir()); err != nil {
		return nil, err
	}

	return engine.New(engine.Options{
		Resolver: generation.NewLoader(a.paths, a.hostname, a.logger),
		Store:    history.NewGitStore(a.paths.HistoryDir(), a.runner, a.logger),
		Pointers: history.NewFilePointers(a.paths.PointersDir()),
		Managers: registry,
		Hooks:    hooks,
		Order:    order,
		Ledger:   ledger,
		Policy:   guard,
		Metrics:  a.telemetry.Metrics,
		Tracer:   a.telemetry.Tracer,
		Logger:   a.logger,
		Hostname: a.hostname,
	})
}

func (a *app) openLedger(ctx context.Context) (*stores.SQLiteStore, error) {
	ledger, err := stores.NewSQLiteStore(stores.Config{
		Path:  a.paths.Ledger(),
		Actor: actor(),
	})
	if err != nil {
		return nil, err
	}
	if err := ledger.Init(ctx); err != nil {
		_ = ledger.Close()
		return nil, err
	}
	if err := ledger.Migrate(ctx); err != nil {
		_ = ledger.Close()
		return nil, err
	}
	a.ledger = ledger
	return ledger, nil
}

// locked runs fn while holding the mutation lock.
func (a *app) locked(fn func() error) error {
	return a.lock.With(fn)
}

// close flushes telemetry and closes the ledger. Errors are logged, not returned.
func (a *app) close() {
	var errs []error
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	errs = append(errs, a.telemetry.Shutdown(context.Background()))
	if err := stderrors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to shut down cleanly")
	}
}

// run wires an app and an engine for one command invocation.
func run(cmd *cobra.Command, fn func(ctx context.Context, a *app, eng *engine.Engine) error) error {
	return invoke(cmd, false, fn)
}

// mutate is run with the mutation lock held. The lock is taken before the
// ledger is opened so a refused command leaves no state behind.
func mutate(cmd *cobra.Command, fn func(ctx context.Context, a *app, eng *engine.Engine) error) error {
	return invoke(cmd, true, fn)
}

func invoke(cmd *cobra.Command, exclusive bool, fn func(ctx context.Context, a *app, eng *engine.Engine) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := a.telemetry.Logger.WithContext(cmd.Context())
	body := func() error {
		eng, err := a.engine(ctx, cmd)
		if err != nil {
			return err
		}
		return fn(ctx, a, eng)
	}
	if !exclusive {
		return body()
	}
	if err := a.paths.CheckSetUp(); err != nil {
		return err
	}
	return a.locked(body)
}

func actor() string {
	for _, key := range []string{"USER", "LOGNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "convergo"
}
