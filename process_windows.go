//go:build windows

package jitload

import (
	"io"
	"os/exec"
)

// runInTerminal falls back to plain pipes; there is no pty on Windows.
func runInTerminal(cmd *exec.Cmd, out io.Writer) error {
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}
