package engine

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/convergo/pkg/diff"
	"github.com/openfroyo/convergo/pkg/errors"
	"github.com/openfroyo/convergo/pkg/generation"
	"github.com/openfroyo/convergo/pkg/history"
	"github.com/openfroyo/convergo/pkg/hook"
	"github.com/openfroyo/convergo/pkg/manager"
	"github.com/openfroyo/convergo/pkg/stores"
	"github.com/openfroyo/convergo/pkg/telemetry"
)

// Options wires an Engine. Resolver, Store, Pointers and Managers are
// required; everything else has a working default.
type Options struct {
	Resolver Resolver
	Store    history.Store
	Pointers history.PointerStore
	Managers ManagerProvider

	// Hooks runs pre_build and post_build. Defaults to hook.Nop.
	Hooks hook.Hooks

	// Order pins managers to the start or end of a build.
	Order generation.ManagerOrder

	// Ledger records runs and steps. Defaults to discarding them.
	Ledger Ledger

	// Policy guards commits. Nil disables policy checks.
	Policy PolicyChecker

	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
	Logger  zerolog.Logger

	// Hostname is passed to policies.
	Hostname string
}

// Engine converges the live system toward the current generation and moves
// the current and built pointers through the snapshot history.
//
// Engine does not lock. Callers serialize mutating operations (Commit, Build,
// Rollback, Latest, Set, SyncManagers, UpgradeManagers and ListOthers with
// removal) across processes, normally with lock.With.
type Engine struct {
	resolver Resolver
	store    history.Store
	pointers history.PointerStore
	managers ManagerProvider
	hooks    hook.Hooks
	order    generation.ManagerOrder
	ledger   Ledger
	policy   PolicyChecker
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	logger   zerolog.Logger
	hostname string
	exec     *executor
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Resolver == nil || opts.Store == nil || opts.Pointers == nil || opts.Managers == nil {
		return nil, errors.New(errors.KindInternal, "engine requires a resolver, store, pointers and managers")
	}

	e := &Engine{
		resolver: opts.Resolver,
		store:    opts.Store,
		pointers: opts.Pointers,
		managers: opts.Managers,
		hooks:    opts.Hooks,
		order:    opts.Order,
		ledger:   opts.Ledger,
		policy:   opts.Policy,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		logger:   telemetry.Wrap(opts.Logger).NewComponentLogger("engine").Zerolog(),
		hostname: opts.Hostname,
	}
	if e.hooks == nil {
		e.hooks = hook.Nop{}
	}
	if e.ledger == nil {
		e.ledger = nopLedger{}
	}
	if e.tracer == nil {
		tracer, err := telemetry.NewTracer(telemetry.TracingConfig{}, "convergo", "")
		if err != nil {
			return nil, err
		}
		e.tracer = tracer
	}

	e.exec = &executor{
		managers: e.managers,
		ledger:   e.ledger,
		metrics:  e.metrics,
		tracer:   e.tracer,
	}
	return e, nil
}

// Setup initialises the version store.
func (e *Engine) Setup(ctx context.Context) error {
	if err := e.store.Init(ctx); err != nil {
		return err
	}
	e.audit(ctx, "setup", e.store.WorkTree(), nil)
	return nil
}

// Commit resolves the user generation, checks it against policy and records
// it as a new snapshot. When nothing changed since the newest snapshot the
// result has an empty ID and the current pointer stays where it was.
func (e *Engine) Commit(ctx context.Context, message string) (*CommitResult, error) {
	from, _, err := e.pointers.Get(history.Current)
	if err != nil {
		return nil, err
	}

	result := &CommitResult{}
	err = e.track(ctx, OperationCommit, stores.RunKindCommit, from, func(ctx context.Context, _ string, logger zerolog.Logger) (string, error) {
		g, err := e.resolver.Resolve(ctx, generation.SideUser)
		if err != nil {
			return "", err
		}
		g = g.Normalized()

		if e.policy != nil {
			res, err := e.policy.Check(ctx, g, OperationCommit, e.hostname)
			result.Policy = res
			if err != nil {
				return "", err
			}
		}

		// The new snapshot goes on top of the newest one even after a rollback.
		if err := e.store.Attach(ctx); err != nil {
			return "", err
		}
		path := filepath.Join(e.store.WorkTree(), history.SnapshotFile)
		if err := generation.WriteFile(path, g); err != nil {
			return "", err
		}

		id, err := e.store.Commit(ctx, message)
		if err != nil {
			return "", err
		}
		if id == "" {
			logger.Warn().Msg("No changes to commit")
			return "", e.restore(ctx, from)
		}

		if err := e.pointers.Set(history.Current, id); err != nil {
			return "", err
		}
		result.ID = id
		logger.Info().Str("id", id).Str("message", message).Msg("Committed generation")
		e.audit(ctx, OperationCommit, id, map[string]string{"message": message})
		return id, nil
	})
	return result, err
}

// restore puts the working tree back on the current snapshot after Attach
// moved it to the newest one.
func (e *Engine) restore(ctx context.Context, current string) error {
	if current == "" {
		return nil
	}
	head, err := e.store.Head(ctx)
	if err != nil {
		return err
	}
	if head == current {
		return nil
	}
	return e.store.Checkout(ctx, current)
}

// Build converges the live system to the generation checked out in the
// version store, then marks the current snapshot as built.
//
// The first build adds every item. Later builds diff against the built
// snapshot and only add and remove what changed. A failing manager step
// aborts the build; managers converged before it stay converged and the
// built pointer does not move.
func (e *Engine) Build(ctx context.Context) (*BuildResult, error) {
	currentID, hasCurrent, err := e.pointers.Get(history.Current)
	if err != nil {
		return nil, err
	}
	builtID, hasBuilt, err := e.pointers.Get(history.Built)
	if err != nil {
		return nil, err
	}

	result := &BuildResult{From: builtID, To: currentID}
	timer := telemetry.NewTimer()
	err = e.track(ctx, OperationBuild, stores.RunKindBuild, builtID, func(ctx context.Context, runID string, logger zerolog.Logger) (string, error) {
		result.RunID = runID

		if err := e.hooks.Run(ctx, hook.PreBuild); err != nil {
			return "", err
		}

		curr, err := e.resolver.Resolve(ctx, generation.SideSystem)
		if err != nil {
			return "", err
		}
		if !hasCurrent {
			return "", errors.New(errors.KindNoGeneration, "no current generation, commit one first").
				WithOp(OperationBuild)
		}

		var built *generation.Generation
		if hasBuilt {
			g, err := e.snapshot(ctx, builtID)
			if err != nil {
				return "", err
			}
			built = &g
		}

		plan := PlanBuild(built, curr, e.order)
		result.Plan = plan
		telemetry.FromContext(ctx).WithFields(map[string]interface{}{
			"first":    plan.First,
			"steps":    len(plan.Steps),
			"managers": plan.Managers(),
		}).Info("Build plan computed")

		steps, err := e.exec.run(ctx, runID, plan.Steps, applyStep)
		result.Steps = steps
		if err != nil {
			return "", err
		}

		if err := e.pointers.Set(history.Built, currentID); err != nil {
			return "", err
		}
		e.metrics.SetLastBuild(time.Now())
		e.audit(ctx, OperationBuild, currentID, map[string]string{"from": builtID})

		if err := e.hooks.Run(ctx, hook.PostBuild); err != nil {
			return currentID, err
		}
		return currentID, nil
	})
	result.Duration = timer.Duration()
	return result, err
}

// Rollback moves the current pointer by snapshots back from the newest one:
// 0 is the newest snapshot, 1 the one before it. The live system is not
// touched until the next Build.
func (e *Engine) Rollback(ctx context.Context, by int) (*MoveResult, error) {
	return e.move(ctx, OperationRollback, stores.RunKindRollback, func(ctx context.Context) (history.Snapshot, error) {
		log, err := e.store.Log(ctx, 0)
		if err != nil {
			return history.Snapshot{}, err
		}
		if by < 0 || by >= len(log) {
			return history.Snapshot{}, errors.Newf(errors.KindRange,
				"cannot roll back by %d, only %d generations exist", by, len(log)).
				WithOp(OperationRollback).
				WithDetail("by", by).
				WithDetail("generations", len(log))
		}
		return log[by], nil
	})
}

// Latest moves the current pointer to the newest snapshot.
func (e *Engine) Latest(ctx context.Context) (*MoveResult, error) {
	return e.move(ctx, OperationLatest, stores.RunKindLatest, func(ctx context.Context) (history.Snapshot, error) {
		log, err := e.store.Log(ctx, 1)
		if err != nil {
			return history.Snapshot{}, err
		}
		if len(log) == 0 {
			return history.Snapshot{}, errors.New(errors.KindNoGeneration, "no generations found").
				WithOp(OperationLatest)
		}
		return log[0], nil
	})
}

// Set moves the current pointer to the snapshot at a 1-based list index.
func (e *Engine) Set(ctx context.Context, index int) (*MoveResult, error) {
	return e.move(ctx, OperationSet, stores.RunKindSet, func(ctx context.Context) (history.Snapshot, error) {
		return e.byIndex(ctx, index)
	})
}

func (e *Engine) move(ctx context.Context, op string, kind stores.RunKind, pick func(context.Context) (history.Snapshot, error)) (*MoveResult, error) {
	from, _, err := e.pointers.Get(history.Current)
	if err != nil {
		return nil, err
	}

	result := &MoveResult{From: from}
	err = e.track(ctx, op, kind, from, func(ctx context.Context, _ string, logger zerolog.Logger) (string, error) {
		target, err := pick(ctx)
		if err != nil {
			return "", err
		}
		if err := e.store.Checkout(ctx, target.ID); err != nil {
			return "", err
		}
		if err := e.pointers.Set(history.Current, target.ID); err != nil {
			return "", err
		}

		result.To = target.ID
		result.Message = target.Message
		logger.Info().Str("from", from).Str("to", target.ID).Msg("Current generation moved")
		e.audit(ctx, op, target.ID, map[string]string{"from": from})
		return target.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// byIndex maps a 1-based list index to its snapshot.
func (e *Engine) byIndex(ctx context.Context, index int) (history.Snapshot, error) {
	log, err := e.store.Log(ctx, 0)
	if err != nil {
		return history.Snapshot{}, err
	}
	if index < 1 || index > len(log) {
		return history.Snapshot{}, errors.Newf(errors.KindRange,
			"generation %d does not exist, valid range is 1-%d", index, len(log)).
			WithDetail("index", index).
			WithDetail("generations", len(log))
	}
	return log[index-1], nil
}

// snapshot loads the generation recorded in a snapshot. A snapshot without
// a generation file holds the empty generation.
func (e *Engine) snapshot(ctx context.Context, id string) (generation.Generation, error) {
	data, err := e.store.Show(ctx, id, history.SnapshotFile)
	if err != nil {
		if errors.IsKind(err, errors.KindMissingFile) {
			return generation.New(), nil
		}
		return generation.Generation{}, err
	}
	return generation.Decode(data, id+":"+history.SnapshotFile)
}

// Diff returns the per-manager differences between two snapshots given by
// 1-based list index.
func (e *Engine) Diff(ctx context.Context, oldIndex, newIndex int) (map[string][]diff.Entry, error) {
	oldSnap, err := e.byIndex(ctx, oldIndex)
	if err != nil {
		return nil, err
	}
	newSnap, err := e.byIndex(ctx, newIndex)
	if err != nil {
		return nil, err
	}

	oldGen, err := e.snapshot(ctx, oldSnap.ID)
	if err != nil {
		return nil, err
	}
	newGen, err := e.snapshot(ctx, newSnap.ID)
	if err != nil {
		return nil, err
	}
	return diff.HistoryGen(oldGen, newGen), nil
}

// RawDiff returns the version store's own diff between two generations,
// addressed by their 1-based log index like Diff.
func (e *Engine) RawDiff(ctx context.Context, oldIndex, newIndex int) (string, error) {
	oldSnap, err := e.byIndex(ctx, oldIndex)
	if err != nil {
		return "", err
	}
	newSnap, err := e.byIndex(ctx, newIndex)
	if err != nil {
		return "", err
	}
	return e.store.Diff(ctx, oldSnap.ID, newSnap.ID)
}

// PendingDiff returns what committing the user generation would change
// relative to the current snapshot.
func (e *Engine) PendingDiff(ctx context.Context) (map[string][]diff.Entry, error) {
	user, err := e.resolver.Resolve(ctx, generation.SideUser)
	if err != nil {
		return nil, err
	}

	current := generation.New()
	id, ok, err := e.pointers.Get(history.Current)
	if err != nil {
		return nil, err
	}
	if ok {
		if current, err = e.snapshot(ctx, id); err != nil {
			return nil, err
		}
	}
	return diff.HistoryGen(current, user), nil
}

// List returns every snapshot newest first.
func (e *Engine) List(ctx context.Context) ([]GenerationInfo, error) {
	log, err := e.store.Log(ctx, 0)
	if err != nil {
		return nil, err
	}
	current, _, err := e.pointers.Get(history.Current)
	if err != nil {
		return nil, err
	}
	built, _, err := e.pointers.Get(history.Built)
	if err != nil {
		return nil, err
	}

	infos := make([]GenerationInfo, 0, len(log))
	for i, snap := range log {
		infos = append(infos, GenerationInfo{
			Index:   i + 1,
			ID:      snap.ID,
			Message: snap.Message,
			Current: current != "" && snap.ID == current,
			Built:   built != "" && snap.ID == built,
		})
	}
	e.metrics.SetGenerations(len(infos))
	return infos, nil
}

// Newest returns the newest snapshot.
func (e *Engine) Newest(ctx context.Context) (GenerationInfo, error) {
	infos, err := e.List(ctx)
	if err != nil {
		return GenerationInfo{}, err
	}
	if len(infos) == 0 {
		return GenerationInfo{}, errors.New(errors.KindNoGeneration, "no generations found")
	}
	return infos[0], nil
}

// Info returns the resolved user generation with every item set
// deduplicated and sorted.
func (e *Engine) Info(ctx context.Context) (generation.Generation, error) {
	g, err := e.resolver.Resolve(ctx, generation.SideUser)
	if err != nil {
		return generation.Generation{}, err
	}
	g = g.Normalized()
	for name, set := range g.Managers {
		items := append([]string(nil), set.Items...)
		sort.Strings(items)
		g.Managers[name] = generation.ItemSet{Items: items}
	}
	return g, nil
}

// SyncManagers runs each manager's sync command. No names means every
// declared manager.
func (e *Engine) SyncManagers(ctx context.Context, names []string) ([]StepResult, error) {
	return e.each(ctx, OperationSync, stores.RunKindSync, manager.ActionSync, names)
}

// UpgradeManagers runs each manager's upgrade command, optionally syncing all
// of them first.
func (e *Engine) UpgradeManagers(ctx context.Context, names []string, sync bool) ([]StepResult, error) {
	var synced []StepResult
	if sync {
		var err error
		if synced, err = e.SyncManagers(ctx, names); err != nil {
			return synced, err
		}
	}
	upgraded, err := e.each(ctx, OperationUpgrade, stores.RunKindUpgrade, manager.ActionUpgrade, names)
	return append(synced, upgraded...), err
}

func (e *Engine) each(ctx context.Context, op string, kind stores.RunKind, action string, names []string) ([]StepResult, error) {
	if len(names) == 0 {
		var err error
		if names, err = e.managers.Names(); err != nil {
			return nil, err
		}
	}

	steps := make([]Step, 0, len(names))
	for _, name := range names {
		steps = append(steps, Step{Manager: name, Action: action})
	}

	var results []StepResult
	err := e.track(ctx, op, kind, "", func(ctx context.Context, runID string, logger zerolog.Logger) (string, error) {
		var err error
		results, err = e.exec.run(ctx, runID, steps, applyStep)
		if err == nil {
			logger.Info().Strs("managers", names).Msgf("All managers %s", pastTense(action))
		}
		return "", err
	})
	return results, err
}

func pastTense(action string) string {
	switch action {
	case manager.ActionSync:
		return "synced"
	case manager.ActionUpgrade:
		return "upgraded"
	default:
		return action + "ed"
	}
}

// ListOthers reports, per manager, installed items that the checked-out
// generation does not declare. No names means every manager of that
// generation. When confirm is non-nil and returns true for a manager, its
// items are removed.
func (e *Engine) ListOthers(ctx context.Context, names []string, confirm func(Others) bool) ([]Others, error) {
	g, err := e.resolver.Resolve(ctx, generation.SideSystem)
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		names = g.ManagerNames()
	}
	for _, name := range names {
		if _, ok := g.Managers[name]; !ok {
			return nil, errors.Newf(errors.KindConfigMalformed, "manager %s is not in the current generation", name).
				WithResource(name).
				WithOp(OperationPrune)
		}
	}

	var found []Others
	for _, name := range names {
		m, err := e.managers.Get(name)
		if err != nil {
			return found, err
		}
		items, err := m.Other(ctx, g.Items(name))
		if err != nil {
			return found, err
		}
		if len(items) == 0 {
			continue
		}

		others := Others{Manager: name, Items: items}
		if confirm != nil && confirm(others) {
			if err := e.prune(ctx, others); err != nil {
				return append(found, others), err
			}
			others.Removed = true
		}
		found = append(found, others)
	}
	return found, nil
}

func (e *Engine) prune(ctx context.Context, others Others) error {
	steps := []Step{{Manager: others.Manager, Action: manager.ActionRemove, Items: others.Items}}
	return e.track(ctx, OperationPrune, stores.RunKindPrune, "", func(ctx context.Context, runID string, _ zerolog.Logger) (string, error) {
		_, err := e.exec.run(ctx, runID, steps, applyStep)
		return "", err
	})
}

// LastBuild returns the most recent build in the ledger. It fails with
// stores.ErrNotFound when nothing was built yet.
func (e *Engine) LastBuild(ctx context.Context) (*BuildSummary, error) {
	run, err := e.ledger.LastRun(ctx, stores.RunKindBuild)
	if err != nil {
		return nil, err
	}
	steps, err := e.ledger.ListSteps(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	return &BuildSummary{Run: run, Steps: steps}, nil
}

// CheckConfig validates the user configuration without changing anything:
// every manager declaration, the order file, the user generation and the
// policies. Problems are collected in the report rather than returned.
func (e *Engine) CheckConfig(ctx context.Context) (*ConfigReport, error) {
	checks, err := e.managers.Check()
	if err != nil {
		return nil, err
	}

	report := &ConfigReport{OrderDuplicates: e.order.Duplicates()}
	declared := make(map[string]struct{}, len(checks))
	for _, c := range checks {
		declared[c.Name] = struct{}{}
		report.Managers = append(report.Managers, ManagerCheck{Name: c.Name, Problems: c.Problems, Err: c.Err})
	}

	g, err := e.resolver.Resolve(ctx, generation.SideUser)
	if err != nil {
		report.Err = err
		return report, nil
	}
	for _, name := range g.ManagerNames() {
		if _, ok := declared[name]; !ok {
			report.Undeclared = append(report.Undeclared, name)
		}
	}

	if e.policy != nil {
		res, err := e.policy.Check(ctx, g.Normalized(), "check", e.hostname)
		if res == nil && err != nil {
			return nil, err
		}
		report.Policy = res
	}
	return report, nil
}

// track wraps an operation in a span, a ledger run and metrics. fn returns
// the snapshot the operation moved to, if any.
func (e *Engine) track(
	ctx context.Context,
	op string,
	kind stores.RunKind,
	from string,
	fn func(ctx context.Context, runID string, logger zerolog.Logger) (string, error),
) error {
	ctx, span := e.tracer.StartOperationSpan(ctx, op)
	timer := telemetry.NewTimer()

	base := telemetry.Wrap(e.logger).WithField("operation", op)
	run, err := e.ledger.StartRun(ctx, kind, from, "")
	if err != nil {
		base.WithError(err).Warn("Failed to record run start")
		run = &stores.Run{Kind: kind}
	}
	span.SetAttributes(telemetry.AttrRunID.String(run.ID))

	// Steps pick the run logger up from ctx.
	runLogger := base.WithRunID(run.ID)
	ctx = runLogger.WithContext(ctx)
	logger := runLogger.Zerolog()

	to, err := fn(ctx, run.ID, logger)

	if run.ID != "" {
		if lerr := e.ledger.FinishRun(ctx, run.ID, to, err); lerr != nil {
			runLogger.WithError(lerr).Warn("Failed to record run result")
		}
	}
	if to != "" {
		span.SetAttributes(telemetry.AttrSnapshot.String(to))
	}

	status := string(stores.StatusCompleted)
	if err != nil {
		status = string(stores.StatusFailed)
		errKind := errors.KindOf(err)
		e.metrics.RecordError(string(errKind))
		span.SetAttributes(telemetry.AttrErrorKind.String(string(errKind)))
		runLogger.WithError(err).WithField("kind", string(errKind)).Error("Operation failed")
	}
	e.metrics.RecordOperation(op, status, timer.Duration())
	telemetry.End(span, err)
	return err
}

func (e *Engine) audit(ctx context.Context, action, target string, details map[string]string) {
	if err := e.ledger.Audit(ctx, action, target, details); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warnf("Failed to write %s audit entry", action)
	}
}
