package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/convergo/pkg/paths"
)

func newSetupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the state directory and the generation history",
		Long: `Create the state directory layout and initialise the version store that
records generations. Running setup again is safe: existing history is kept.

Every other command except 'config init' requires setup to have run.`,
		Example: `  # Prepare a new machine
  convergo setup

  # Keep state somewhere else
  convergo setup --state-dir /var/lib/convergo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if err := paths.EnsureDirs(a.paths.StateDirs()); err != nil {
				return err
			}
			ctx := a.telemetry.Logger.WithContext(cmd.Context())
			return a.locked(func() error {
				eng, err := a.engine(ctx, cmd)
				if err != nil {
					return err
				}
				if err := eng.Setup(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ State directory ready: %s\n", a.paths.StateDir())
				return nil
			})
		},
	}

	return cmd
}
