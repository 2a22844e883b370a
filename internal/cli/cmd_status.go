package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [module...]",
		Short: "Show which steps a build would run",
		Long: `Show which steps a build would run.
Reads the cached build state and compares it with the current inputs. No tools
are run and nothing is written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := a.configs(args)
			if err != nil {
				return err
			}
			ctx := a.context(cmd)
			runner := a.runner(false)

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "MODULE\tCONFIGURE\tBUILD\tSTUBS\tARTIFACT")
			for _, cfg := range configs {
				plan, err := runner.Plan(ctx, cfg)
				if err != nil {
					_ = tw.Flush()
					return err
				}
				artifact := plan.ArtifactPath
				if artifact == "" {
					artifact = "-"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					plan.Module,
					needs(plan.NeedsConfigure),
					needs(plan.NeedsBuild),
					stubsColumn(cfg.StubsDir(), plan.NeedsStubGeneration),
					artifact,
				)
			}
			return tw.Flush()
		},
	}

	return cmd
}

func needs(b bool) string {
	if b {
		return "needed"
	}
	return "up to date"
}

func stubsColumn(stubsDir string, needed bool) string {
	if stubsDir == "" {
		return "disabled"
	}
	return needs(needed)
}
