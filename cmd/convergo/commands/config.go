package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/openfroyo/convergo/pkg/config"
	"github.com/openfroyo/convergo/pkg/engine"
	"github.com/openfroyo/convergo/pkg/errors"
	"github.com/openfroyo/convergo/pkg/paths"
	"github.com/openfroyo/convergo/pkg/policy"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and validate the user configuration",
	}

	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigCheckCommand())

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		presets []string
		detect  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration",
		Long: `Write a starter user configuration: gen.toml, an example manager, an import,
a machine generation for this host, the order file, a policy and convergo.yaml.

With --manager a ready-made declaration is added for a system package tool;
--detect picks the one installed on this machine.

Existing files are never overwritten.`,
		Example: `  convergo config init
  convergo config init --detect
  convergo config init --manager apt --config-dir ~/dotfiles/convergo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if err := paths.EnsureDirs(a.paths.ConfigDirs()); err != nil {
				return err
			}
			files, err := config.WriteStarter(a.paths, a.hostname)
			if err != nil {
				return err
			}

			if detect {
				if name, ok := config.DetectPreset(nil); ok {
					presets = append(presets, name)
				} else {
					a.logger.Warn().Strs("presets", config.Presets()).Msg("No known package tool found")
				}
			}
			for _, name := range presets {
				f, err := config.WritePreset(a.paths, name)
				if err != nil {
					return err
				}
				files = append(files, f)
			}

			out := cmd.OutOrStdout()
			for _, f := range files {
				if f.Created {
					fmt.Fprintf(out, "✓ Created %s\n", f.Path)
				} else {
					fmt.Fprintln(out, mutedStyle.Render("  Kept "+f.Path))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&presets, "manager", "m", nil, "add a preset manager declaration (apt, dnf, yum, zypper)")
	cmd.Flags().BoolVar(&detect, "detect", false, "add the preset for the package tool found on this machine")

	return cmd
}

func newConfigCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate managers, the order file, the user generation and policies",
		Long: `Load every manager declaration, the order file and the user generation,
check that every manager the generation uses is declared, and evaluate the
policies. Nothing is changed.`,
		Example: `  convergo config check`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app, eng *engine.Engine) error {
				report, err := eng.CheckConfig(ctx)
				if err != nil {
					return err
				}
				renderReport(report)
				if !report.OK() {
					return errors.New(errors.KindConfigMalformed, "configuration check failed")
				}
				return nil
			})
		},
	}

	return cmd
}

func renderReport(report *engine.ConfigReport) {
	for _, m := range report.Managers {
		switch {
		case m.Err != nil:
			pterm.Error.Printfln("manager %s: %v", m.Name, m.Err)
		case len(m.Problems) > 0:
			for _, p := range m.Problems {
				pterm.Error.Printfln("manager %s: %s", m.Name, p)
			}
		default:
			pterm.Success.Printfln("manager %s", m.Name)
		}
	}

	dups := make([]string, 0, len(report.OrderDuplicates))
	for name := range report.OrderDuplicates {
		dups = append(dups, name)
	}
	sort.Strings(dups)
	for _, name := range dups {
		pterm.Warning.Printfln("%s is listed %d times in the order file", name, report.OrderDuplicates[name])
	}

	if report.Err != nil {
		pterm.Error.Printfln("user generation: %v", report.Err)
		return
	}
	for _, name := range report.Undeclared {
		pterm.Error.Printfln("manager %s is used by the generation but not declared", name)
	}

	if report.Policy != nil {
		renderPolicy(report.Policy)
	}
	if report.OK() {
		pterm.Success.Println("Configuration is valid")
	}
}

func renderPolicy(res *policy.Result) {
	for _, w := range res.Warnings {
		pterm.Warning.Println(w)
	}
	for _, v := range res.Violations {
		where := v.Manager
		if v.Item != "" {
			where += "/" + v.Item
		}
		msg := fmt.Sprintf("%s: %s", v.Policy, v.Message)
		if where != "" {
			msg = fmt.Sprintf("%s (%s)", msg, where)
		}
		if v.Severity == policy.SeverityError {
			pterm.Error.Println(msg)
		} else {
			pterm.Warning.Println(msg)
		}
	}
}
