package stores

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// setupTestStore creates a migrated SQLite store in a temporary directory
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path:  filepath.Join(t.TempDir(), "ledger.db"),
		Actor: "tester",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

// fixedClock makes every call return a time one second after the previous one.
func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "steps", "events", "audit"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run, err := store.StartRun(ctx, RunKindBuild, "aaa", "bbb")
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	if run.Status != StatusRunning {
		t.Errorf("expected running, got %s", run.Status)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Kind != RunKindBuild || got.Actor != "tester" {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.FromID == nil || *got.FromID != "aaa" {
		t.Errorf("expected from_id aaa, got %v", got.FromID)
	}
	if got.CompletedAt != nil {
		t.Errorf("running run should have no completion time")
	}

	if err := store.FinishRun(ctx, run.ID, "", errors.New("apt add failed")); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	got, err = store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.Error == nil || *got.Error != "apt add failed" {
		t.Errorf("unexpected error message: %v", got.Error)
	}
	if got.ToID == nil || *got.ToID != "bbb" {
		t.Errorf("empty target should keep bbb, got %v", got.ToID)
	}
	if got.CompletedAt == nil {
		t.Errorf("finished run should have a completion time")
	}
}

func TestFinishRunUpdatesTarget(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run, err := store.StartRun(ctx, RunKindCommit, "aaa", "")
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	if err := store.FinishRun(ctx, run.ID, "ccc", nil); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != StatusCompleted || got.Error != nil {
		t.Errorf("unexpected outcome: %+v", got)
	}
	if got.ToID == nil || *got.ToID != "ccc" {
		t.Errorf("expected to_id ccc, got %v", got.ToID)
	}
}

func TestRunNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.FinishRun(ctx, "missing", "", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.LastRun(ctx, RunKindBuild); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLastRunAndListRuns(t *testing.T) {
	store := setupTestStore(t)
	store.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	first, _ := store.StartRun(ctx, RunKindBuild, "", "one")
	commit, _ := store.StartRun(ctx, RunKindCommit, "", "two")
	second, _ := store.StartRun(ctx, RunKindBuild, "one", "two")

	last, err := store.LastRun(ctx, RunKindBuild)
	if err != nil {
		t.Fatalf("failed to get last run: %v", err)
	}
	if last.ID != second.ID {
		t.Errorf("expected %s, got %s", second.ID, last.ID)
	}

	all, err := store.ListRuns(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	ids := []string{}
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	want := []string{second.ID, commit.ID, first.ID}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("expected %v, got %v", want, ids)
	}

	kind := RunKindBuild
	builds, err := store.ListRuns(ctx, &kind, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(builds) != 2 {
		t.Errorf("expected 2 builds, got %d", len(builds))
	}

	page, err := store.ListRuns(ctx, nil, 1, 1)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(page) != 1 || page[0].ID != commit.ID {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestSteps(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run, err := store.StartRun(ctx, RunKindBuild, "", "x")
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}

	remove, err := store.StartStep(ctx, run.ID, "apt", "remove", []string{"nano"})
	if err != nil {
		t.Fatalf("failed to start step: %v", err)
	}
	if remove.Seq != 1 {
		t.Errorf("expected seq 1, got %d", remove.Seq)
	}
	if err := store.FinishStep(ctx, remove.ID, nil); err != nil {
		t.Fatalf("failed to finish step: %v", err)
	}

	add, err := store.StartStep(ctx, run.ID, "apt", "add", []string{"vim", "git"})
	if err != nil {
		t.Fatalf("failed to start step: %v", err)
	}
	if add.Seq != 2 {
		t.Errorf("expected seq 2, got %d", add.Seq)
	}
	if err := store.FinishStep(ctx, add.ID, errors.New("exit status 100")); err != nil {
		t.Fatalf("failed to finish step: %v", err)
	}

	sync, err := store.StartStep(ctx, run.ID, "flatpak", "sync", nil)
	if err != nil {
		t.Fatalf("failed to start step: %v", err)
	}

	steps, err := store.ListSteps(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list steps: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}

	if steps[0].Action != "remove" || steps[0].Status != StatusCompleted {
		t.Errorf("unexpected first step: %+v", steps[0])
	}
	if !reflect.DeepEqual(steps[1].Items, []string{"vim", "git"}) {
		t.Errorf("unexpected items: %v", steps[1].Items)
	}
	if steps[1].Status != StatusFailed || steps[1].Error == nil || *steps[1].Error != "exit status 100" {
		t.Errorf("unexpected second step: %+v", steps[1])
	}
	if steps[2].ID != sync.ID || steps[2].Status != StatusRunning || len(steps[2].Items) != 0 {
		t.Errorf("unexpected third step: %+v", steps[2])
	}
}

func TestStepRequiresRun(t *testing.T) {
	store := setupTestStore(t)
	if _, err := store.StartStep(context.Background(), "missing", "apt", "add", []string{"vim"}); err == nil {
		t.Error("expected foreign key violation")
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run, _ := store.StartRun(ctx, RunKindCommit, "", "")

	if err := store.AppendEvent(ctx, run.ID, EventLevelInfo, "nothing to commit", nil); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}
	if err := store.AppendEvent(ctx, run.ID, EventLevelWarning, "duplicate order entry", map[string]string{"manager": "apt"}); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}
	if err := store.AppendEvent(ctx, "", EventLevelInfo, "setup", nil); err != nil {
		t.Fatalf("failed to append global event: %v", err)
	}

	events, err := store.GetEvents(ctx, &run.ID, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Message != "nothing to commit" || events[0].Details != nil {
		t.Errorf("unexpected event: %+v", events[0])
	}
	if events[1].Details == nil || *events[1].Details != `{"manager":"apt"}` {
		t.Errorf("unexpected details: %v", events[1].Details)
	}

	level := EventLevelWarning
	warnings, err := store.GetEvents(ctx, nil, &level, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(warnings) != 1 {
		t.Errorf("expected 1 warning, got %d", len(warnings))
	}

	all, err := store.GetEvents(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 events, got %d", len(all))
	}
}

func TestAudit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Audit(ctx, "pointer.current", "abc", map[string]string{"from": "def"}); err != nil {
		t.Fatalf("failed to audit: %v", err)
	}
	if err := store.Audit(ctx, "lock.forced", "", nil); err != nil {
		t.Fatalf("failed to audit: %v", err)
	}

	entries, err := store.ListAuditEntries(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != "lock.forced" || entries[0].Target != nil {
		t.Errorf("unexpected newest entry: %+v", entries[0])
	}
	if entries[1].Actor != "tester" || entries[1].Target == nil || *entries[1].Target != "abc" {
		t.Errorf("unexpected entry: %+v", entries[1])
	}

	action := "pointer.current"
	filtered, err := store.ListAuditEntries(ctx, &action, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(filtered) != 1 {
		t.Errorf("expected 1 entry, got %d", len(filtered))
	}
}
