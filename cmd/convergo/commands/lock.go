package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newForceUnlockCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "force-unlock",
		Short: "Remove the lock left by a crashed process",
		Long: `Remove the mutation lock regardless of who holds it. Only do this when the
holding process is gone; breaking the lock of a running build can corrupt the
generation history.

The removal waits for a short countdown after confirmation (see
force_unlock_countdown in convergo.yaml).`,
		Example: `  convergo force-unlock`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			owner, err := a.lock.Owner()
			if err != nil {
				return err
			}
			if owner == "" {
				fmt.Fprintln(out, mutedStyle.Render("Not locked"))
				return nil
			}

			if !yes {
				ok, err := confirm(fmt.Sprintf("Lock is held by process %s. Remove it?", owner))
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}

			if err := countdown(cmd, a.settings.ForceUnlockCountdown); err != nil {
				return err
			}
			if err := a.lock.ForceRelease(); err != nil {
				return err
			}
			a.logger.Warn().Str("owner", owner).Msg("Lock forcibly released")
			fmt.Fprintln(out, "✓ Lock removed")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation")

	return cmd
}

// countdown waits seconds with a spinner, giving the user time to abort.
func countdown(cmd *cobra.Command, seconds int) error {
	if seconds <= 0 {
		return nil
	}
	spinner, err := pterm.DefaultSpinner.Start(fmt.Sprintf("Removing lock in %d seconds, Ctrl-C to abort", seconds))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	ctx := cmd.Context()
	for left := seconds; left > 0; left-- {
		spinner.UpdateText(fmt.Sprintf("Removing lock in %d seconds, Ctrl-C to abort", left))
		select {
		case <-ctx.Done():
			spinner.Fail("Aborted")
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return spinner.Stop()
}

func newIsUnlockedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "is-unlocked",
		Short: "Exit 0 when no process holds the lock, 1 otherwise",
		Example: `  convergo is-unlocked && convergo gen current build`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			locked, err := a.lock.IsLocked()
			if err != nil {
				return err
			}
			if locked {
				return &exitError{code: 1}
			}
			return nil
		},
	}

	return cmd
}
