package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	jitload "github.com/contriboss/jitload-go"
)

func newBuildCmd(a *app) *cobra.Command {
	var jobs int

	cmd := &cobra.Command{
		Use:   "build [module...]",
		Short: "Build modules from the manifest",
		Long: `Build modules from the manifest.
Runs configure, build and stub generation for each named module, or for every
module in the manifest when none are named. Steps that are up to date are
skipped. Modules build concurrently, up to --jobs at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := a.configs(args)
			if err != nil {
				return err
			}
			ctx := a.context(cmd)

			runner := a.runner(len(configs) == 1 || jobs == 1)
			results := make([]*jitload.RunResult, len(configs))

			var g errgroup.Group
			if jobs > 0 {
				g.SetLimit(jobs)
			}
			for i, cfg := range configs {
				g.Go(func() error {
					result, err := runner.Run(ctx, cfg)
					results[i] = result
					return err
				})
			}
			err = g.Wait()

			for _, result := range results {
				if result == nil || result.ArtifactPath == "" {
					continue
				}
				_, _ = fmt.Fprintf(a.stdout, "%s\t%s\n", result.Module, result.ArtifactPath)
				for _, warning := range result.Warnings {
					_, _ = fmt.Fprintf(a.stderr, "warning: %s: %s\n", result.Module, warning)
				}
			}
			return err
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "maximum concurrent module builds (0: no limit)")

	return cmd
}
