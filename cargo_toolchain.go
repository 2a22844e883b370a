package jitload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Platform constants
const (
	platformWindows = "windows"
	platformDarwin  = "darwin"
)

// CargoToolchain drives Rust crates that build a cdylib.
//
// Options are Cargo configuration keys (e.g., "profile.release.lto" = "true").
// Configure writes them to <build>/jitload/cargo-config.toml and fetches
// dependencies; build compiles into <build>/target and copies the library to
// <build>/<module><suffix>.
type CargoToolchain struct {
	// Program overrides the cargo binary. Defaults to $CARGO or "cargo".
	Program string
}

// Name returns the toolchain name
func (t *CargoToolchain) Name() string {
	return "Cargo"
}

// Descriptor returns the build descriptor file name
func (t *CargoToolchain) Descriptor() string {
	return "Cargo.toml"
}

// CanBuild checks if the project directory contains a Cargo.toml
func (t *CargoToolchain) CanBuild(projectDir string) bool {
	return descriptorExists(projectDir, t.Descriptor())
}

// RequiredTools lists the binaries the toolchain runs
func (t *CargoToolchain) RequiredTools() []ToolRequirement {
	return []ToolRequirement{
		{Name: t.program(), Purpose: "Rust compiler and package manager"},
	}
}

// CheckTools verifies that cargo is available
func (t *CargoToolchain) CheckTools() error {
	return CheckRequiredTools(t.RequiredTools())
}

// Identity describes the cargo binary and the target selection
func (t *CargoToolchain) Identity() (string, error) {
	id, err := binaryIdentity(t.program())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s;target=%s", id, os.Getenv("CARGO_BUILD_TARGET")), nil
}

// Configure writes the Cargo configuration and fetches dependencies
func (t *CargoToolchain) Configure(ctx context.Context, req *ConfigureRequest) error {
	configPath := cargoConfigFile(req.BuildDir)
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return errors.Wrap(err, "creating cargo config directory")
	}
	if err := writeFileAtomic(configPath, renderCargoConfig(req.Options), 0o644); err != nil {
		return errors.Wrap(err, "writing cargo config")
	}

	lockPath, locked := t.Lockfile(req.ProjectDir, req.BuildDir)
	_, statErr := os.Stat(lockPath)
	generated := os.IsNotExist(statErr)

	args := []string{"fetch", "--manifest-path", t.manifest(req.ProjectDir), "--config", configPath}
	if locked {
		args = append(args, "--locked")
	}
	err := runCommand(ctx, command{
		Name: t.program(),
		Args: args,
		Dir:  req.ProjectDir,
	}, req.Stream)
	if err != nil {
		return err
	}
	if generated {
		if err := writeFileAtomic(generatedLockMarker(req.BuildDir), []byte(lockPath+"\n"), 0o644); err != nil {
			return errors.Wrap(err, "recording generated Cargo.lock")
		}
	}
	return nil
}

// Build compiles the crate and copies the library next to the build directory
func (t *CargoToolchain) Build(ctx context.Context, req *BuildRequest) error {
	args := []string{
		"build",
		"--lib",
		"--manifest-path", t.manifest(req.ProjectDir),
		"--target-dir", filepath.Join(req.BuildDir, "target"),
		"--config", cargoConfigFile(req.BuildDir),
	}
	if req.BuildType != BuildTypeDebug {
		args = append(args, "--release")
	}
	if target := os.Getenv("CARGO_BUILD_TARGET"); target != "" {
		args = append(args, "--target", target)
	}
	if _, locked := t.Lockfile(req.ProjectDir, req.BuildDir); locked {
		args = append(args, "--locked")
	}

	err := runCommand(ctx, command{
		Name: t.program(),
		Args: args,
		Dir:  req.ProjectDir,
		Env:  cargoProfileEnv(req.BuildType),
	}, req.Stream)
	if err != nil {
		return err
	}

	return t.installLibrary(req)
}

// LocateArtifact finds the library copied by Build
func (t *CargoToolchain) LocateArtifact(module, buildDir string, _ BuildType) (string, error) {
	return findArtifact(buildDir, []string{"."}, module)
}

// installLibrary copies the cdylib from the target directory to
// <build>/<module><suffix>.
func (t *CargoToolchain) installLibrary(req *BuildRequest) error {
	targetDir := filepath.Join(req.BuildDir, "target")
	if target := os.Getenv("CARGO_BUILD_TARGET"); target != "" {
		targetDir = filepath.Join(targetDir, target)
	}
	if req.BuildType == BuildTypeDebug {
		targetDir = filepath.Join(targetDir, "debug")
	} else {
		targetDir = filepath.Join(targetDir, "release")
	}

	libs, err := findCargoOutputs(targetDir)
	if err != nil {
		return err
	}
	lib, err := selectCargoOutput(libs, moduleBase(req.Module))
	if err != nil {
		return errors.Wrapf(err, "in %s", targetDir)
	}

	dst := filepath.Join(req.BuildDir, moduleBase(req.Module)+nativeSuffix())
	if err := copyFile(lib, dst); err != nil {
		return errors.Wrapf(err, "copying %s to %s", lib, dst)
	}
	if req.Output != nil {
		fmt.Fprintf(req.Output, "Copied %s -> %s\n", lib, dst)
	}
	return nil
}

func (t *CargoToolchain) program() string {
	if t.Program != "" {
		return t.Program
	}
	if program := os.Getenv("CARGO"); program != "" {
		return program
	}
	return "cargo"
}

func (t *CargoToolchain) manifest(projectDir string) string {
	return filepath.Join(projectDir, t.Descriptor())
}

// Lockfile returns the project's Cargo.lock. Builds pass --locked only when
// the lockfile came with the project; one that cargo wrote during configure
// is recorded in the build directory and does not lock.
func (t *CargoToolchain) Lockfile(projectDir, buildDir string) (string, bool) {
	path := filepath.Join(projectDir, "Cargo.lock")
	if _, err := os.Stat(path); err != nil {
		return path, false
	}
	if _, err := os.Stat(generatedLockMarker(buildDir)); err == nil {
		return path, false
	}
	return path, true
}

func cargoConfigFile(buildDir string) string {
	return filepath.Join(stateDir(buildDir), "cargo-config.toml")
}

func generatedLockMarker(buildDir string) string {
	return filepath.Join(stateDir(buildDir), "cargo-lock-generated")
}

// renderCargoConfig writes options as TOML key/value pairs. Booleans and
// numbers are written bare, everything else quoted.
func renderCargoConfig(options []Option) []byte {
	var b strings.Builder
	b.WriteString("# generated by jitload\n")
	for _, opt := range options {
		fmt.Fprintf(&b, "%s = %s\n", opt.Name, tomlValue(opt.Value))
	}
	return []byte(b.String())
}

func tomlValue(v string) string {
	if v == "true" || v == "false" {
		return v
	}
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return v
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil && strings.ContainsAny(v, ".eE") {
		return v
	}
	return strconv.Quote(v)
}

// cargoProfileEnv adapts the release profile to the build type
func cargoProfileEnv(bt BuildType) []string {
	switch bt {
	case BuildTypeRelWithDebInfo:
		return []string{"CARGO_PROFILE_RELEASE_DEBUG=true"}
	case BuildTypeMinSizeRel:
		return []string{"CARGO_PROFILE_RELEASE_OPT_LEVEL=s"}
	default:
		return nil
	}
}

// findCargoOutputs locates built dynamic libraries
func findCargoOutputs(targetDir string) ([]string, error) {
	var pattern string
	switch runtime.GOOS {
	case platformWindows:
		pattern = "*.dll"
	case platformDarwin:
		pattern = "*.dylib"
	default:
		pattern = "*.so"
	}

	matches, err := filepath.Glob(filepath.Join(targetDir, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to glob pattern %s: %v", pattern, err)
	}
	return matches, nil
}

// selectCargoOutput picks the library named after the module, or the only
// library if there is exactly one.
func selectCargoOutput(libs []string, name string) (string, error) {
	for _, lib := range libs {
		if stem := libraryStem(lib); stem == name || stem == "lib"+name {
			return lib, nil
		}
	}
	switch len(libs) {
	case 0:
		return "", errors.New("no dynamic libraries found")
	case 1:
		return libs[0], nil
	default:
		return "", fmt.Errorf("%d dynamic libraries found and none is named %q", len(libs), name)
	}
}

// libraryStem strips the directory and extension from a library path. The
// lib prefix is kept: a crate may itself be named lib<something>.
func libraryStem(path string) string {
	filename := filepath.Base(path)
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
