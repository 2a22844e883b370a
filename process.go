package jitload

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// execLookPath is swapped in tests.
var execLookPath = exec.LookPath

// commandNotFoundError reports a tool binary missing from PATH.
type commandNotFoundError struct {
	name string
	err  error
}

func (e *commandNotFoundError) Error() string {
	return fmt.Sprintf("%s not found in PATH", e.name)
}

func (e *commandNotFoundError) Unwrap() error {
	return e.err
}

// commandError reports a tool that started but did not succeed.
type commandError struct {
	command string
	err     error
}

func (e *commandError) Error() string {
	return fmt.Sprintf("%s: %v", e.command, e.err)
}

func (e *commandError) Unwrap() error {
	return e.err
}

// command is one external tool invocation.
type command struct {
	Name string
	Args []string
	Dir  string
	Env  []string // KEY=VALUE entries added to the current environment
}

// String renders the command line with quoting for arguments containing
// spaces.
func (c command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, arg := range c.Args {
		if strings.ContainsAny(arg, " \t") {
			arg = fmt.Sprintf("%q", arg)
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// runCommand executes c, writing the command line and all output to s.
//
// A binary that cannot be found yields *commandNotFoundError, any other
// failure *commandError.
func runCommand(ctx context.Context, c command, s Stream) error {
	path, err := execLookPath(c.Name)
	if err != nil {
		return &commandNotFoundError{name: c.Name, err: err}
	}

	out := s.Output
	if out == nil {
		out = io.Discard
	}
	fmt.Fprintf(out, "$ %s\n", c)

	//nolint:gosec // Commands come from toolchain configuration
	cmd := exec.CommandContext(ctx, path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)

	if s.Terminal {
		err = runInTerminal(cmd, out)
	} else {
		cmd.Stdout = out
		cmd.Stderr = out
		err = cmd.Run()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &commandError{command: c.String(), err: ctxErr}
		}
		return &commandError{command: c.String(), err: err}
	}
	return nil
}
