package stores_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/openfroyo/convergo/pkg/stores"
)

// ExampleSQLiteStore_StartRun records a build with two manager steps and reads it back.
func ExampleSQLiteStore_StartRun() {
	dir, err := os.MkdirTemp("", "ledger")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(dir, "ledger.db")})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	run, _ := store.StartRun(ctx, stores.RunKindBuild, "", "abc123")

	remove, _ := store.StartStep(ctx, run.ID, "apt", "remove", []string{"nano"})
	_ = store.FinishStep(ctx, remove.ID, nil)
	add, _ := store.StartStep(ctx, run.ID, "apt", "add", []string{"vim", "git"})
	_ = store.FinishStep(ctx, add.ID, nil)

	_ = store.FinishRun(ctx, run.ID, "", nil)

	last, _ := store.LastRun(ctx, stores.RunKindBuild)
	fmt.Println(last.Status, *last.ToID)

	steps, _ := store.ListSteps(ctx, last.ID)
	for _, step := range steps {
		fmt.Println(step.Seq, step.Manager, step.Action, step.Items)
	}
	// Output:
	// completed abc123
	// 1 apt remove [nano]
	// 2 apt add [vim git]
}
