package jitload

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gookit/color"
	"golang.org/x/term"
)

const consolePrefix = "[jitload]"

// Console prints human-facing progress banners.
//
// Colors are only used when the writer is a terminal. A nil *Console prints
// nothing.
type Console struct {
	mu       sync.Mutex
	w        io.Writer
	terminal bool
	open     bool // a step line is waiting for its result
}

// NewConsole creates a console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, terminal: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Writer returns the underlying writer, used to echo tool output.
func (c *Console) Writer() io.Writer {
	if c == nil {
		return io.Discard
	}
	return lockedWriter{c}
}

// Terminal reports whether the console writes to a terminal.
func (c *Console) Terminal() bool {
	return c != nil && c.terminal
}

// lockedWriter finishes a pending step line before echoing output.
type lockedWriter struct{ c *Console }

func (lw lockedWriter) Write(p []byte) (int, error) {
	lw.c.mu.Lock()
	defer lw.c.mu.Unlock()
	lw.c.breakLine()
	return lw.c.w.Write(p)
}

func (c *Console) style(text string, colors ...color.Color) string {
	if !c.terminal {
		return text
	}
	return color.New(colors...).Sprint(text)
}

func (c *Console) breakLine() {
	if c.open {
		fmt.Fprintln(c.w)
		c.open = false
	}
}

// Module prints the header for a module run.
func (c *Console) Module(cfg *Config) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakLine()
	fmt.Fprintf(c.w, "%s %s %s (%s, %s)\n",
		c.style(consolePrefix, color.FgCyan, color.OpBold),
		"Building module",
		c.style(fmt.Sprintf("'%s'", cfg.ModuleName()), color.OpBold),
		cfg.BuildType(), cfg.Toolchain().Name())
}

// StepStarted prints "[i/n] Title ..." and leaves the line open.
func (c *Console) StepStarted(i, n int, step Step) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakLine()
	fmt.Fprintf(c.w, "%s [%d/%d] %s ... ", c.style(consolePrefix, color.FgCyan, color.OpBold), i, n, step.Title())
	c.open = true
}

// StepFinished completes the open step line, or prints a full line when
// output was echoed in between.
func (c *Console) StepFinished(i, n int, step Step, status StepStatus, d time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var result string
	switch status {
	case StatusSucceeded:
		result = c.style("done", color.FgGreen) + fmt.Sprintf(" (%.2fs)", d.Seconds())
	case StatusSkipped:
		result = c.style("skipped", color.FgGray)
	case StatusTolerated:
		result = c.style("failed (ignored)", color.FgYellow) + fmt.Sprintf(" (%.2fs)", d.Seconds())
	default:
		result = c.style("failed", color.FgRed, color.OpBold) + fmt.Sprintf(" (%.2fs)", d.Seconds())
	}

	if !c.open {
		fmt.Fprintf(c.w, "%s [%d/%d] %s ... ", c.style(consolePrefix, color.FgCyan, color.OpBold), i, n, step.Title())
	}
	fmt.Fprintln(c.w, result)
	c.open = false
}

// Warn prints a warning line.
func (c *Console) Warn(format string, args ...any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakLine()
	fmt.Fprintf(c.w, "%s %s %s\n", c.style(consolePrefix, color.FgCyan, color.OpBold),
		c.style("warning:", color.FgYellow, color.OpBold), fmt.Sprintf(format, args...))
}

// Finished prints the summary line of a run.
func (c *Console) Finished(result *RunResult) {
	if c == nil || result == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakLine()
	fmt.Fprintf(c.w, "%s Module '%s' ready in %.2fs: %s\n", c.style(consolePrefix, color.FgCyan, color.OpBold),
		result.Module, result.Duration.Seconds(), result.ArtifactPath)
}
