package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	jitload "github.com/contriboss/jitload-go"
)

func newDoctorCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that build tools are installed",
		Long: `Check that build tools are installed.
Looks up the binaries each toolchain and the default stub generator run. Fails
when no toolchain has all of its required tools.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			usable := 0
			for _, toolchain := range a.factory.ListToolchains() {
				checker, ok := toolchain.(jitload.ToolChecker)
				if !ok {
					usable++
					_, _ = fmt.Fprintf(a.stdout, "%s: no tool requirements\n", toolchain.Name())
					continue
				}
				if report(a.stdout, toolchain.Name(), checker.RequiredTools()) {
					usable++
				}
			}
			report(a.stdout, "stubs", jitload.DefaultStubGenerator().RequiredTools())

			if usable == 0 {
				return jitload.New(jitload.ECommandNotFound, "no usable toolchain found")
			}
			return nil
		},
	}

	return cmd
}

// report prints one line per requirement and reports whether every
// required tool was found.
func report(w io.Writer, component string, requirements []jitload.ToolRequirement) bool {
	ok := true
	_, _ = fmt.Fprintf(w, "%s:\n", component)
	for _, status := range jitload.InspectTools(requirements) {
		req := status.Requirement
		names := strings.Join(append([]string{req.Name}, req.Alternatives...), "|")
		switch {
		case !status.Missing():
			_, _ = fmt.Fprintf(w, "  ok       %-10s %s\n", status.Found, status.Path)
		case req.Optional:
			_, _ = fmt.Fprintf(w, "  optional %-10s not found (%s)\n", names, req.Purpose)
		default:
			ok = false
			_, _ = fmt.Fprintf(w, "  missing  %-10s not found (%s)\n", names, req.Purpose)
		}
	}
	return ok
}
