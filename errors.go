package jitload

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Code is a stable error code string.
type Code string

// Error codes
const (
	EInvalidConfiguration Code = "E_INVALID_CONFIGURATION"
	ECommandNotFound      Code = "E_COMMAND_NOT_FOUND"
	EConfigureFailed      Code = "E_CONFIGURE_FAILED"
	EBuildFailed          Code = "E_BUILD_FAILED"
	EStubGenerationFailed Code = "E_STUB_GENERATION_FAILED"
	EImportCycle          Code = "E_IMPORT_CYCLE"     // module imported while its own build is running
	EModuleNotFound       Code = "E_MODULE_NOT_FOUND" // no finder resolved the name
	ELockFailed           Code = "E_LOCK_FAILED"      // build lock could not be acquired
	EManifestInvalid      Code = "E_MANIFEST_INVALID"
	EInternal             Code = "E_INTERNAL"
)

// stepCodes maps a pipeline step to the code used when it fails.
var stepCodes = map[Step]Code{
	StepConfigure:      EConfigureFailed,
	StepBuild:          EBuildFailed,
	StepStubGeneration: EStubGenerationFailed,
}

// Error is the error type returned by every exported operation.
//
// Step failures carry the step and the captured log so the caller can show
// the tool output without re-running anything.
type Error struct {
	Code    Code
	Msg     string
	Step    Step              // Failing step, empty for non-step errors
	Module  string            // Module being built, if known
	Command string            // Missing or failing command, if known
	Log     string            // Captured subprocess output
	Cause   error             // Underlying error
	Details map[string]string // Optional structured context
}

// Error returns "CODE: message" followed by the captured log, if any.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Msg)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if e.Log != "" {
		b.WriteString("\n\n")
		b.WriteString(formatLog(e.Step, e.Log))
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Hint returns the remediation hint shown under step failures.
func (e *Error) Hint() string {
	switch e.Code {
	case EConfigureFailed, EBuildFailed, EStubGenerationFailed:
		hint := "Set JITLOAD_FORCE_VERBOSE=1 to stream the tool output, " +
			"or JITLOAD_FORCE_CLEAN_BUILD=1 to rebuild from scratch."
		if e.Code == EStubGenerationFailed {
			hint += " Set JITLOAD_FORCE_STUBS_INVALID_OK=1 to continue without valid stubs."
		}
		return hint
	case ECommandNotFound:
		return fmt.Sprintf("Install %q or make sure it is on PATH.", e.Command)
	case EImportCycle:
		return "A module cannot be imported by its own build."
	default:
		return ""
	}
}

// New creates an Error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping cause.
func Wrap(code Code, msg string, cause error) error {
	return &Error{Code: code, Msg: msg, Cause: cause}
}

// stepError builds the error for a failed pipeline step.
//
// A missing command is reported as ECommandNotFound regardless of the step.
func stepError(module string, step Step, log string, cause error) error {
	var nf *commandNotFoundError
	if errors.As(cause, &nf) {
		return &Error{
			Code:    ECommandNotFound,
			Msg:     fmt.Sprintf("%s: command %q not found", step.Title(), nf.name),
			Step:    step,
			Module:  module,
			Command: nf.name,
			Log:     log,
			Cause:   nf.err,
		}
	}

	code, ok := stepCodes[step]
	if !ok {
		code = EInternal
	}
	e := &Error{
		Code:   code,
		Msg:    fmt.Sprintf("%s failed for module %q", step.Title(), module),
		Step:   step,
		Module: module,
		Log:    log,
		Cause:  cause,
	}
	var ce *commandError
	if errors.As(cause, &ce) {
		e.Command = ce.command
	}
	return e
}

// GetCode extracts the error code from err, or "" if err is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// AsError returns (*Error, true) if err is or wraps an *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ExitCode maps err to a process exit status: 0 for nil, 2 for invalid
// configuration or manifests, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch GetCode(err) {
	case EInvalidConfiguration, EManifestInvalid:
		return 2
	default:
		return 1
	}
}

// Print writes err in the CLI format: "error_code: CODE" followed by the
// message, details sorted by key and the hint.
func Print(w io.Writer, err error) {
	if err == nil {
		return
	}
	e, ok := AsError(err)
	if !ok {
		fmt.Fprintf(w, "error_code: %s\n%s\n", EInternal, err.Error())
		return
	}
	fmt.Fprintf(w, "error_code: %s\n%s\n", e.Code, e.Error())
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %s\n", k, e.Details[k])
		}
	}
	if hint := e.Hint(); hint != "" {
		fmt.Fprintf(w, "\n%s\n", hint)
	}
}
