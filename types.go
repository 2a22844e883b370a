package jitload

import (
	"fmt"
	"strings"
	"time"
)

// BuildType selects the compiler configuration used for a build.
type BuildType string

// Supported build types
const (
	BuildTypeDebug          BuildType = "Debug"
	BuildTypeRelease        BuildType = "Release"
	BuildTypeRelWithDebInfo BuildType = "RelWithDebInfo"
	BuildTypeMinSizeRel     BuildType = "MinSizeRel"
)

// DefaultBuildType is used when Options.BuildType is empty.
const DefaultBuildType = BuildTypeRelWithDebInfo

var buildTypes = []BuildType{
	BuildTypeDebug,
	BuildTypeRelease,
	BuildTypeRelWithDebInfo,
	BuildTypeMinSizeRel,
}

// ParseBuildType returns the canonical build type for s.
//
// Matching is case-insensitive, so "release" yields BuildTypeRelease.
// An empty string yields DefaultBuildType.
func ParseBuildType(s string) (BuildType, error) {
	if s == "" {
		return DefaultBuildType, nil
	}
	for _, bt := range buildTypes {
		if strings.EqualFold(string(bt), s) {
			return bt, nil
		}
	}
	return "", fmt.Errorf("unknown build type %q (expected one of %s)", s, joinBuildTypes())
}

func joinBuildTypes() string {
	names := make([]string, len(buildTypes))
	for i, bt := range buildTypes {
		names[i] = string(bt)
	}
	return strings.Join(names, ", ")
}

// Step names one stage of the pipeline.
type Step string

// Pipeline steps in execution order
const (
	StepClean          Step = "clean"
	StepInitialize     Step = "initialize"
	StepConfigure      Step = "configure"
	StepBuild          Step = "build"
	StepStubGeneration Step = "stub-generation"
)

// cachedSteps are the steps whose success is recorded in the state cache,
// upstream first.
var cachedSteps = []Step{StepConfigure, StepBuild, StepStubGeneration}

// Title returns the human readable step name used in banners.
func (s Step) Title() string {
	switch s {
	case StepClean:
		return "Clean"
	case StepInitialize:
		return "Initialize"
	case StepConfigure:
		return "Configure"
	case StepBuild:
		return "Build"
	case StepStubGeneration:
		return "Stub Generation"
	default:
		return string(s)
	}
}

// downstream returns s and every cached step after it.
func (s Step) downstream() []Step {
	for i, step := range cachedSteps {
		if step == s {
			return cachedSteps[i:]
		}
	}
	return nil
}

// StepStatus is the outcome of a single step in one run.
type StepStatus string

// Step outcomes
const (
	StatusSucceeded StepStatus = "succeeded"
	StatusSkipped   StepStatus = "skipped"
	StatusFailed    StepStatus = "failed"
	// StatusTolerated marks a stub generation failure that was downgraded to
	// a warning.
	StatusTolerated StepStatus = "tolerated"
)

// Option is a single NAME=VALUE definition passed to the configure step.
type Option struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// String renders the option as a -D definition.
func (o Option) String() string {
	return fmt.Sprintf("-D%s=%s", o.Name, o.Value)
}

// StepOutcome records what happened to one step.
type StepOutcome struct {
	Step     Step          // Pipeline step
	Status   StepStatus    // Outcome of the step
	Duration time.Duration // Wall time spent, zero when skipped
	Log      string        // Captured subprocess output
}

// RunResult describes one pipeline run.
//
// A result is returned alongside a failure as well, holding the outcomes of
// the steps that ran before the failing one.
type RunResult struct {
	RunID        string        // Unique id of the run, also stored with cache records
	Module       string        // Module name
	ArtifactPath string        // Compiled extension, empty when the run failed before it existed
	Steps        []StepOutcome // Outcomes in execution order
	Warnings     []string      // Non-fatal problems such as tolerated stub failures
	Duration     time.Duration // Total wall time including lock acquisition
}

// Status returns the outcome of step, or "" when the step was not part of
// the run.
func (r *RunResult) Status(step Step) StepStatus {
	for _, outcome := range r.Steps {
		if outcome.Step == step {
			return outcome.Status
		}
	}
	return ""
}

// Ran reports whether step actually executed (successfully or not).
func (r *RunResult) Ran(step Step) bool {
	switch r.Status(step) {
	case StatusSucceeded, StatusFailed, StatusTolerated:
		return true
	default:
		return false
	}
}

func (r *RunResult) record(step Step, status StepStatus, d time.Duration, log string) {
	r.Steps = append(r.Steps, StepOutcome{Step: step, Status: status, Duration: d, Log: log})
}
