package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/convergo/pkg/engine"
	"github.com/openfroyo/convergo/pkg/errors"
)

func newGenCurrentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "current",
		Short: "Build the current generation or move the current pointer",
	}

	cmd.AddCommand(newBuildCommand())
	cmd.AddCommand(newRollbackCommand())
	cmd.AddCommand(newToLatestCommand())
	cmd.AddCommand(newSetCommand())

	return cmd
}

func newBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Converge this machine to the current generation",
		Long: `Converge the live system to the current generation. The first build adds
every item; later builds only remove and add what differs from the built
generation, one manager call per action.

A failing manager stops the build. Managers converged before it stay
converged and the built generation does not move, so the next build
retries the same difference.`,
		Example: `  convergo gen current build`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, func(ctx context.Context, a *app, eng *engine.Engine) error {
				result, err := eng.Build(ctx)
				out := cmd.OutOrStdout()
				if result != nil {
					if verbose {
						renderPlan(out, result.Plan)
					}
					renderSteps(out, result.Steps)
				}
				if err != nil {
					return err
				}
				if result.Plan.IsEmpty() {
					fmt.Fprintln(out, mutedStyle.Render("Already converged"))
				}
				fmt.Fprintf(out, "✓ Built generation %s in %s\n", shortID(result.To), result.Duration.Round(time.Millisecond))
				return nil
			})
		},
	}

	return cmd
}

func renderSteps(w io.Writer, steps []engine.StepResult) {
	for _, s := range steps {
		mark := addStyle.Render("✓")
		if s.Error != "" {
			mark = removeStyle.Render("✗")
		}
		line := fmt.Sprintf("%s %s %s", mark, s.Manager, s.Action)
		if len(s.Items) > 0 {
			line += fmt.Sprintf(" (%d items)", len(s.Items))
		}
		fmt.Fprintln(w, line+" "+mutedStyle.Render(s.Duration.Round(time.Millisecond).String()))
	}
}

func newRollbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback BY",
		Short: "Make an older generation current",
		Long: `Make the generation BY commits before the newest one current: 0 is the
newest generation, 1 the one before it. Run 'gen current build' to apply it.`,
		Example: `  # Undo the last commit
  convergo gen current rollback 1
  convergo gen current build`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			by, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.Newf(errors.KindRange, "%q is not a number of generations", args[0]).WithCause(err)
			}
			return mutate(cmd, func(ctx context.Context, a *app, eng *engine.Engine) error {
				result, err := eng.Rollback(ctx, by)
				if err != nil {
					return err
				}
				renderMove(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}

	return cmd
}

func newToLatestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "to-latest",
		Short:   "Make the newest generation current",
		Example: `  convergo gen current to-latest`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, func(ctx context.Context, a *app, eng *engine.Engine) error {
				result, err := eng.Latest(ctx)
				if err != nil {
					return err
				}
				renderMove(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}

	return cmd
}

func newSetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set TO",
		Short: "Make the generation at an index current",
		Long: `Make the generation at index TO in 'gen list' current (1 is the newest).
Run 'gen current build' to apply it.`,
		Example: `  convergo gen current set 3`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			return mutate(cmd, func(ctx context.Context, a *app, eng *engine.Engine) error {
				result, err := eng.Set(ctx, index)
				if err != nil {
					return err
				}
				renderMove(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}

	return cmd
}

func renderMove(w io.Writer, result *engine.MoveResult) {
	fmt.Fprintf(w, "✓ Current generation is now %s: %s\n", shortID(result.To), result.Message)
	fmt.Fprintln(w, mutedStyle.Render("Run 'convergo gen current build' to apply it"))
}
