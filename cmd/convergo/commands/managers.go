package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/convergo/pkg/engine"
)

func newManagersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "managers",
		Short: "Run manager maintenance commands",
	}

	cmd.AddCommand(newSyncCommand())
	cmd.AddCommand(newUpgradeCommand())
	cmd.AddCommand(newListOthersCommand())

	return cmd
}

func newSyncCommand() *cobra.Command {
	var names []string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh manager repositories",
		Long: `Run the sync command of each manager, e.g. refreshing package indexes.
Without --manager every declared manager is synced.`,
		Example: `  convergo managers sync
  convergo managers sync --manager apt --manager flatpak`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, func(ctx context.Context, a *app, eng *engine.Engine) error {
				results, err := eng.SyncManagers(ctx, names)
				renderSteps(cmd.OutOrStdout(), results)
				return err
			})
		},
	}

	cmd.Flags().StringArrayVarP(&names, "manager", "m", nil, "manager to sync (repeatable)")

	return cmd
}

func newUpgradeCommand() *cobra.Command {
	var (
		names []string
		sync  bool
	)

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade installed items",
		Long: `Run the upgrade command of each manager. Without --manager every declared
manager is upgraded. With --sync the managers are synced first.`,
		Example: `  convergo managers upgrade --sync
  convergo managers upgrade --manager cargo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, func(ctx context.Context, a *app, eng *engine.Engine) error {
				results, err := eng.UpgradeManagers(ctx, names, sync)
				renderSteps(cmd.OutOrStdout(), results)
				return err
			})
		},
	}

	cmd.Flags().StringArrayVarP(&names, "manager", "m", nil, "manager to upgrade (repeatable)")
	cmd.Flags().BoolVar(&sync, "sync", false, "sync managers before upgrading")

	return cmd
}

func newListOthersCommand() *cobra.Command {
	var (
		names  []string
		remove bool
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "list-others",
		Short: "List installed items no generation declares",
		Long: `Ask each manager for its installed items and print the ones the current
generation does not declare. Managers without a list command are skipped.

With --remove each manager's extra items are uninstalled after confirmation.`,
		Example: `  convergo managers list-others
  convergo managers list-others --manager apt --remove`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var (
				approve    func(engine.Others) bool
				confirmErr error
			)
			if remove {
				approve = func(o engine.Others) bool {
					renderOthers(cmd, o)
					if yes {
						return true
					}
					if confirmErr != nil {
						return false
					}
					ok, err := confirm(fmt.Sprintf("Remove %d items with %s?", len(o.Items), o.Manager))
					confirmErr = err
					return ok
				}
			}

			list := func(ctx context.Context, a *app, eng *engine.Engine) error {
				found, err := eng.ListOthers(ctx, names, approve)
				if err == nil {
					err = confirmErr
				}
				if !remove {
					for _, o := range found {
						renderOthers(cmd, o)
					}
				}
				for _, o := range found {
					if o.Removed {
						fmt.Fprintf(out, "✓ Removed %d items with %s\n", len(o.Items), o.Manager)
					}
				}
				if err == nil && len(found) == 0 {
					fmt.Fprintln(out, mutedStyle.Render("Nothing undeclared is installed"))
				}
				return err
			}

			if remove {
				return mutate(cmd, list)
			}
			return run(cmd, list)
		},
	}

	cmd.Flags().StringArrayVarP(&names, "manager", "m", nil, "manager to inspect (repeatable)")
	cmd.Flags().BoolVar(&remove, "remove", false, "uninstall the listed items after confirmation")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "remove without asking")

	return cmd
}

func renderOthers(cmd *cobra.Command, o engine.Others) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%s (%d):", o.Manager, len(o.Items))))
	fmt.Fprintln(out, "  "+strings.Join(o.Items, "\n  "))
}
