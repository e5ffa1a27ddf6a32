package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configDir string
	stateDir  string
	verbose   bool

	// buildVersion is reported to telemetry.
	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "convergo",
		Short: "Convergo - declarative system state convergence",
		Long: `Convergo keeps the items installed on this machine in line with a declared
generation. Each commit of the user configuration becomes an immutable
generation; building converges the live system toward the current one.

Features:
  - Any package ecosystem through shell-template managers
  - Versioned generations with rollback and diff
  - Minimal builds: only the difference to the built generation is applied
  - Hooks around builds and manager actions
  - Rego policies guarding commits
  - Build ledger with per-step outcomes`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	buildVersion = version

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "user configuration directory (default $XDG_CONFIG_HOME/convergo)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "state directory (default $XDG_STATE_HOME/convergo)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newSetupCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newGenCommand())
	rootCmd.AddCommand(newManagersCommand())
	rootCmd.AddCommand(newForceUnlockCommand())
	rootCmd.AddCommand(newIsUnlockedCommand())

	return rootCmd
}
