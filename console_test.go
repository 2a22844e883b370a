package jitload

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsole(t *testing.T) {
	p := newTestProject(t)
	cfg := p.config(t, func(o *Options) { o.BuildType = BuildTypeRelease })

	var buf bytes.Buffer
	c := NewConsole(&buf)
	assert.False(t, c.Terminal())

	c.Module(cfg)
	c.StepStarted(1, 2, StepConfigure)
	fmt.Fprintln(c.Writer(), "-- echoed tool output")
	c.StepFinished(1, 2, StepConfigure, StatusSucceeded, 1500*time.Millisecond)
	c.StepStarted(2, 2, StepBuild)
	c.StepFinished(2, 2, StepBuild, StatusSkipped, 0)
	c.Warn("stubs for %s are incomplete", "fast_math")
	c.Finished(&RunResult{Module: "fast_math", ArtifactPath: "/b/fast_math.so", Duration: 2 * time.Second})

	assert.Equal(t, `[jitload] Building module 'fast_math' (Release, Fake)
[jitload] [1/2] Configure ... 
-- echoed tool output
[jitload] [1/2] Configure ... done (1.50s)
[jitload] [2/2] Build ... skipped
[jitload] warning: stubs for fast_math are incomplete
[jitload] Module 'fast_math' ready in 2.00s: /b/fast_math.so
`, buf.String())
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestConsole_Nil(t *testing.T) {
	var c *Console
	assert.NotPanics(t, func() {
		c.Module(nil)
		c.StepStarted(1, 1, StepBuild)
		c.StepFinished(1, 1, StepBuild, StatusFailed, 0)
		c.Warn("ignored")
		c.Finished(nil)
		fmt.Fprintln(c.Writer(), "discarded")
	})
	assert.False(t, c.Terminal())
}

func TestLogger(t *testing.T) {
	assert.NotNil(t, LoggerFrom(context.Background()))

	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, true)
	ctx := ContextWithLogger(context.Background(), logger)
	assert.Same(t, logger, LoggerFrom(ctx))

	LoggerFrom(ctx).Debug("hidden")
	LoggerFrom(ctx).Info("building", "module", "fast_math")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"building","module":"fast_math"`)

	buf.Reset()
	NewLogger(&buf, slog.LevelDebug, false).Debug("step", "name", "configure")
	assert.Contains(t, buf.String(), "level=DEBUG msg=step name=configure")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestCompatibleVersion(t *testing.T) {
	require.True(t, compatibleVersion(Version))
	assert.True(t, compatibleVersion("v0.4.9"))
	assert.False(t, compatibleVersion("v0.3.0"))
	assert.False(t, compatibleVersion("v1.4.0"))
	assert.False(t, compatibleVersion("0.4.0"))
	assert.False(t, compatibleVersion(""))
}
