// Command jitload builds the native extension modules listed in a project
// manifest and reports their build state.
package main

import (
	"os"

	jitload "github.com/contriboss/jitload-go"
	"github.com/contriboss/jitload-go/internal/cli"
)

func main() {
	if err := cli.Execute(os.Stdout, os.Stderr); err != nil {
		jitload.Print(os.Stderr, err)
		os.Exit(jitload.ExitCode(err))
	}
}
