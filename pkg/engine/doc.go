// Package engine converges the live system toward a declared generation.
//
// # Overview
//
// A generation declares, per manager, the items that should be installed.
// The engine moves generations through three states:
//
//  1. Declared - resolved on demand from the user's configuration files
//  2. Committed - recorded as an immutable snapshot in the version store;
//     the current pointer names the snapshot the next build targets
//  3. Built - applied to the live system; the built pointer names it
//
// Commit records the user generation. Build converges the live system from
// the built snapshot to the checked-out one. Rollback, Latest and Set move the
// current pointer without touching the live system.
//
// # Planning
//
// PlanBuild is a pure function from (built, current, order) to a Plan. The
// first build adds every item. Later builds issue, per manager and in build
// order, one remove call and one add call carrying the differences. Managers
// dropped from the generation lose all of their items last.
//
// # Execution
//
// Steps run one at a time. Each is recorded as a ledger step, a trace span
// and metrics. The first failing step aborts the build; managers already
// converged stay converged and the built pointer stays where it was, so a
// later build resumes from the same diff.
//
// # Locking
//
// The engine itself does not lock. Mutating calls are serialized across
// processes by the caller with lock.With.
//
// # Example
//
//	eng, err := engine.New(engine.Options{
//	    Resolver: generation.NewLoader(p, hostname, logger),
//	    Store:    history.NewGitStore(p.HistoryDir(), runner, logger),
//	    Pointers: history.NewFilePointers(p.PointersDir()),
//	    Managers: manager.NewRegistry(p.ManagersDir(), exec),
//	    Logger:   logger,
//	})
//	if err != nil {
//	    return err
//	}
//	if _, err := eng.Commit(ctx, "add vim"); err != nil {
//	    return err
//	}
//	result, err := eng.Build(ctx)
package engine
