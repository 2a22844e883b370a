package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	jitload "github.com/contriboss/jitload-go"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print jitload version",
		Long:  "Print the jitload version string.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "jitload %s\n", jitload.Version)
		},
	}

	return cmd
}
