package commands

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/convergo/pkg/engine"
	"github.com/openfroyo/convergo/pkg/errors"
	"github.com/openfroyo/convergo/pkg/stores"
	"github.com/openfroyo/convergo/pkg/watch"
)

func newGenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Commit, inspect and build generations",
		Long: `Generations are immutable snapshots of the user configuration. The current
generation is the one the next build converges to; the built generation is
the one last applied to this machine.`,
	}

	cmd.AddCommand(newGenCommitCommand())
	cmd.AddCommand(newGenListCommand())
	cmd.AddCommand(newGenInfoCommand())
	cmd.AddCommand(newGenLatestCommand())
	cmd.AddCommand(newGenDiffCommand())
	cmd.AddCommand(newGenSummaryCommand())
	cmd.AddCommand(newGenWatchCommand())
	cmd.AddCommand(newGenCurrentCommand())

	return cmd
}

func newGenCommitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit MESSAGE",
		Short: "Record the user configuration as a new generation",
		Long: `Resolve the user generation (gen.toml, its imports and this machine's
generation), check it against the policies and record it as the new current
generation. Nothing is installed until 'gen current build'.

Committing an unchanged configuration records nothing.`,
		Example: `  convergo gen commit "add ripgrep"
  convergo gen commit add neovim and drop vim`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			return mutate(cmd, func(ctx context.Context, a *app, eng *engine.Engine) error {
				result, err := eng.Commit(ctx, message)
				if result != nil && result.Policy != nil {
					renderPolicy(result.Policy)
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if !result.Committed() {
					fmt.Fprintln(out, mutedStyle.Render("No changes to commit"))
					return nil
				}
				fmt.Fprintf(out, "✓ Committed generation %s: %s\n", shortID(result.ID), message)
				return nil
			})
		},
	}

	return cmd
}

func newGenListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List generations, newest first",
		Example: `  convergo gen list`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app, eng *engine.Engine) error {
				infos, err := eng.List(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(infos) == 0 {
					fmt.Fprintln(out, mutedStyle.Render("No generations yet, run 'convergo gen commit'"))
					return nil
				}
				for _, info := range infos {
					fmt.Fprintln(out, generationLine(info))
				}
				return nil
			})
		},
	}

	return cmd
}

func newGenInfoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the resolved user generation",
		Long: `Resolve the user generation with its imports and this machine's generation
and print every manager with its items, deduplicated and sorted.`,
		Example: `  convergo gen info`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app, eng *engine.Engine) error {
				g, err := eng.Info(ctx)
				if err != nil {
					return err
				}
				renderGeneration(cmd.OutOrStdout(), g)
				return nil
			})
		},
	}

	return cmd
}

func newGenLatestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "latest",
		Short:   "Show the newest generation",
		Example: `  convergo gen latest`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app, eng *engine.Engine) error {
				info, err := eng.Newest(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), generationLine(info))
				return nil
			})
		},
	}

	return cmd
}

func newGenDiffCommand() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "diff OLD NEW",
		Short: "Show what changes between two generations",
		Long: `Compare two generations by their index in 'gen list' (1 is the newest) and
print, per manager, the items removed (-) and added (+). With --raw the
version store's own diff of the generation file is printed instead.`,
		Example: `  # What did the last commit change?
  convergo gen diff 2 1

  # Show the underlying git diff
  convergo gen diff --raw 2 1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldIndex, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			newIndex, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			return run(cmd, func(ctx context.Context, a *app, eng *engine.Engine) error {
				if raw {
					out, err := eng.RawDiff(ctx, oldIndex, newIndex)
					if err != nil {
						return err
					}
					if out != "" {
						fmt.Fprintln(cmd.OutOrStdout(), out)
					}
					return nil
				}
				changes, err := eng.Diff(ctx, oldIndex, newIndex)
				if err != nil {
					return err
				}
				renderDiff(cmd.OutOrStdout(), changes)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print the version store diff instead of per-manager changes")

	return cmd
}

func newGenSummaryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the outcome of the last build",
		Long: `Print the last build recorded in the ledger with the outcome of every
manager step.`,
		Example: `  convergo gen summary`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app, eng *engine.Engine) error {
				summary, err := eng.LastBuild(ctx)
				if stderrors.Is(err, stores.ErrNotFound) {
					fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Nothing has been built yet"))
					return nil
				}
				if err != nil {
					return err
				}
				renderSummary(cmd, summary)
				return nil
			})
		},
	}

	return cmd
}

func renderSummary(cmd *cobra.Command, summary *engine.BuildSummary) {
	out := cmd.OutOrStdout()
	r := summary.Run

	status := string(r.Status)
	switch r.Status {
	case stores.StatusCompleted:
		status = addStyle.Render(status)
	case stores.StatusFailed:
		status = removeStyle.Render(status)
	}
	fmt.Fprintf(out, "%s %s  %s\n", headerStyle.Render("Build"), mutedStyle.Render(r.ID), status)
	fmt.Fprintf(out, "  started  %s\n", r.StartedAt.Local().Format(time.RFC1123))
	if r.CompletedAt != nil {
		fmt.Fprintf(out, "  took     %s\n", r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	if r.FromID != nil {
		fmt.Fprintf(out, "  from     %s\n", shortID(*r.FromID))
	}
	if r.ToID != nil {
		fmt.Fprintf(out, "  to       %s\n", shortID(*r.ToID))
	}
	if r.Error != nil {
		fmt.Fprintf(out, "  error    %s\n", removeStyle.Render(*r.Error))
	}

	if len(summary.Steps) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("  No manager steps"))
		return
	}
	for _, step := range summary.Steps {
		mark := addStyle.Render("✓")
		if step.Status != stores.StatusCompleted {
			mark = removeStyle.Render("✗")
		}
		fmt.Fprintf(out, "  %s %s %s (%d items)\n", mark, step.Manager, step.Action, len(step.Items))
		if step.Error != nil {
			fmt.Fprintf(out, "      %s\n", removeStyle.Render(*step.Error))
		}
	}
}

func newGenWatchCommand() *cobra.Command {
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Preview the pending diff while editing the configuration",
		Long: `Watch the user configuration and, after every change, print what a commit
would change compared to the current generation. Stop with Ctrl-C.`,
		Example: `  convergo gen watch
  convergo gen watch --delay 1s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app, eng *engine.Engine) error {
				w, err := watch.New(a.logger, watch.Options{Delay: delay})
				if err != nil {
					return err
				}
				defer w.Close()
				if err := w.Add(a.paths.ConfigDir()); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				preview := func(ctx context.Context, changed []string) {
					if len(changed) > 0 {
						fmt.Fprintln(out, mutedStyle.Render("Changed: "+strings.Join(changed, ", ")))
					}
					changes, err := eng.PendingDiff(ctx)
					if err != nil {
						fmt.Fprintln(out, errorStyle.Render(err.Error()))
						return
					}
					renderDiff(out, changes)
				}

				preview(ctx, nil)
				if err := w.Run(ctx, preview); err != nil && !stderrors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", watch.DefaultDelay, "wait this long for edits to settle")

	return cmd
}

// parseIndex parses a 1-based generation index.
func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Newf(errors.KindRange, "%q is not a generation index", s).WithCause(err)
	}
	return n, nil
}
