package jitload

import (
	"bytes"
	"os/exec"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	err := &Error{
		Code:   EConfigureFailed,
		Msg:    `Configure failed for module "fast_math"`,
		Step:   StepConfigure,
		Module: "fast_math",
		Log:    "CMake Error at CMakeLists.txt:3\n",
		Cause:  errors.New("exit status 1"),
	}

	assert.Equal(t, `E_CONFIGURE_FAILED: Configure failed for module "fast_math": exit status 1

Configure output:
`+logRuler+`
CMake Error at CMakeLists.txt:3
`+logRuler, err.Error())

	plain := New(EInternal, "boom")
	assert.Equal(t, "E_INTERNAL: boom", plain.Error())
	assert.Equal(t, "E_LOCK_FAILED: busy 3", Newf(ELockFailed, "busy %d", 3).Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := errors.Wrap(Wrap(EInternal, "writing state", cause), "run")

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, EInternal, GetCode(err))
	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, "writing state", e.Msg)

	assert.Equal(t, Code(""), GetCode(cause))
	_, ok = AsError(cause)
	assert.False(t, ok)
}

func TestError_Hint(t *testing.T) {
	assert.Contains(t, (&Error{Code: EBuildFailed}).Hint(), "JITLOAD_FORCE_VERBOSE=1")
	assert.NotContains(t, (&Error{Code: EBuildFailed}).Hint(), "STUBS_INVALID_OK")
	assert.Contains(t, (&Error{Code: EStubGenerationFailed}).Hint(), "JITLOAD_FORCE_STUBS_INVALID_OK=1")
	assert.Equal(t, `Install "cmake" or make sure it is on PATH.`, (&Error{Code: ECommandNotFound, Command: "cmake"}).Hint())
	assert.Empty(t, (&Error{Code: EInvalidConfiguration}).Hint())
}

func TestExitCode(t *testing.T) {
	testCases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{New(EInvalidConfiguration, "bad"), 2},
		{errors.Wrap(New(EManifestInvalid, "bad"), "loading"), 2},
		{New(EBuildFailed, "failed"), 1},
		{errors.New("plain"), 1},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, ExitCode(tc.err), "%v", tc.err)
	}
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, &Error{
		Code:    ECommandNotFound,
		Msg:     `Configure: command "cmake" not found`,
		Command: "cmake",
		Details: map[string]string{"path": "/usr/bin", "module": "fast_math"},
	})

	assert.Equal(t, `error_code: E_COMMAND_NOT_FOUND
E_COMMAND_NOT_FOUND: Configure: command "cmake" not found
  module: fast_math
  path: /usr/bin

Install "cmake" or make sure it is on PATH.
`, buf.String())

	buf.Reset()
	Print(&buf, errors.New("unexpected"))
	assert.Equal(t, "error_code: E_INTERNAL\nunexpected\n", buf.String())

	buf.Reset()
	Print(&buf, nil)
	assert.Empty(t, buf.String())
}

func TestStepError(t *testing.T) {
	t.Run("command not found", func(t *testing.T) {
		err := stepError("fast_math", StepBuild, "-- Configuring done\n", &commandNotFoundError{name: "ninja", err: exec.ErrNotFound})
		e, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, ECommandNotFound, e.Code)
		assert.Equal(t, "ninja", e.Command)
		assert.Equal(t, StepBuild, e.Step)
		assert.Equal(t, "-- Configuring done\n", e.Log)
		assert.True(t, errors.Is(err, exec.ErrNotFound))
	})

	t.Run("command failed", func(t *testing.T) {
		cause := &commandError{command: "cmake --build /b", err: errors.New("exit status 2")}
		err := stepError("fast_math", StepConfigure, "error: boom\n", cause)
		e, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, EConfigureFailed, e.Code)
		assert.Equal(t, "cmake --build /b", e.Command)
		assert.True(t, strings.Contains(err.Error(), "error: boom"))
	})

	t.Run("stub generation", func(t *testing.T) {
		err := stepError("fast_math", StepStubGeneration, "", errors.New("bad"))
		assert.Equal(t, EStubGenerationFailed, GetCode(err))
	})

	t.Run("other step", func(t *testing.T) {
		err := stepError("fast_math", StepInitialize, "", errors.New("bad"))
		assert.Equal(t, EInternal, GetCode(err))
	})
}

func TestFormatLog(t *testing.T) {
	assert.Equal(t, "Tool output:\n"+logRuler+"\nline\n"+logRuler, formatLog("", "line\n\n"))
	assert.True(t, strings.HasPrefix(formatLog(StepStubGeneration, "x"), "Stub Generation output:\n"))
}
