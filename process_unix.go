//go:build !windows

package jitload

import (
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

// runInTerminal runs cmd attached to a pseudo terminal and copies everything
// it prints to out.
func runInTerminal(cmd *exec.Cmd, out io.Writer) error {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return errors.Wrap(err, "starting pty")
	}
	defer ptmx.Close()

	if cols, rows, sizeErr := term.GetSize(int(os.Stdout.Fd())); sizeErr == nil {
		_ = pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	}

	_, copyErr := io.Copy(out, ptmx)
	waitErr := cmd.Wait()
	if waitErr != nil {
		return waitErr
	}
	// Linux reports EIO on the master once the child side is closed.
	if copyErr != nil && !errors.Is(copyErr, syscall.EIO) {
		return errors.Wrap(copyErr, "reading pty")
	}
	return nil
}
