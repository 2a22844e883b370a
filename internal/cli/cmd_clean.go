package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean <module>...",
		Short: "Remove build outputs and cached state",
		Long: `Remove build outputs and cached state.
Empties the build directory of each named module. The next build runs every
step again.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := a.configs(args)
			if err != nil {
				return err
			}
			ctx := a.context(cmd)
			runner := a.runner(false)

			for _, cfg := range configs {
				if err := runner.Clean(ctx, cfg); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(a.stdout, "cleaned %s (%s)\n", cfg.ModuleName(), cfg.BuildDir())
			}
			return nil
		},
	}

	return cmd
}
