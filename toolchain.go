package jitload

import (
	"context"
	"io"
)

// Stream tells a step where subprocess output goes.
//
// Output always receives the full output so it can be attached to errors.
// Terminal is set when Output is echoed to an interactive terminal, in which
// case tools are run under a pseudo terminal to keep their progress display.
type Stream struct {
	Output   io.Writer
	Terminal bool
}

// ConfigureRequest is the input of the configure step.
type ConfigureRequest struct {
	Module     string    // Module name
	ProjectDir string    // Absolute project directory
	BuildDir   string    // Absolute build directory
	BuildType  BuildType // Selected build type
	Options    []Option  // User options in declaration order
	Stream
}

// BuildRequest is the input of the build step.
type BuildRequest struct {
	Module     string
	ProjectDir string
	BuildDir   string
	BuildType  BuildType
	Stream
}

// StubRequest is the input of the stub generation step.
type StubRequest struct {
	Module        string // Module name
	ArtifactPath  string // Compiled extension
	StubsDir      string // Output directory for stubs
	IgnoreInvalid bool   // Keep going when the generator meets invalid expressions
	Stream
}

// Configurer prepares a build directory from a project directory.
type Configurer interface {
	Configure(ctx context.Context, req *ConfigureRequest) error
}

// Builder compiles a configured build directory into an artifact.
type Builder interface {
	Build(ctx context.Context, req *BuildRequest) error
}

// Toolchain is the external build system driving one kind of project.
//
// Implementations must be safe for concurrent use; the runner serialises
// runs per build directory, not per toolchain.
//
// # Example Implementation
//
//	type MesonToolchain struct{}
//
//	func (t *MesonToolchain) Name() string       { return "Meson" }
//	func (t *MesonToolchain) Descriptor() string { return "meson.build" }
//	func (t *MesonToolchain) CanBuild(projectDir string) bool {
//	    return descriptorExists(projectDir, t.Descriptor())
//	}
//	...
type Toolchain interface {
	Configurer
	Builder

	// Name returns the toolchain name (e.g., "CMake", "Cargo").
	Name() string

	// Descriptor returns the build descriptor file name relative to the
	// project directory. Its content is part of the configure fingerprint.
	Descriptor() string

	// CanBuild reports whether projectDir holds this toolchain's descriptor.
	CanBuild(projectDir string) bool

	// Identity describes the tool binaries and the settings that select
	// them. It must not start processes; a change invalidates configure.
	Identity() (string, error)

	// LocateArtifact returns the compiled extension for module after a
	// successful build.
	LocateArtifact(module, buildDir string, bt BuildType) (string, error)
}

// LockfileToolchain is implemented by toolchains that pin dependencies with
// a lockfile in the project directory. The lockfile never counts as source;
// when locked is true its content is part of the configure fingerprint.
type LockfileToolchain interface {
	Lockfile(projectDir, buildDir string) (path string, locked bool)
}

// StubGenerator writes type stubs for a compiled extension.
type StubGenerator interface {
	// Name returns the generator name used in logs.
	Name() string

	// GenerateStubs writes the stubs for req.Module into req.StubsDir.
	GenerateStubs(ctx context.Context, req *StubRequest) error

	// StubsExist reports whether stubs for module are present in stubsDir.
	StubsExist(stubsDir, module string) bool
}
