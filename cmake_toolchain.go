package jitload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// Generator constants
const (
	ninjaMultiConfig = "Ninja Multi-Config"
	unixMakefiles    = "Unix Makefiles"
	visualStudio     = "Visual Studio 17 2022"
)

// CMakeToolchain drives CMake projects.
//
// Configure runs
//
//	cmake -DCMAKE_CONFIGURATION_TYPES=<type> -DCMAKE_BUILD_TYPE=<type> \
//	      -DJITLOAD_JIT_COMPILE=ON -DJITLOAD_MODULE_NAME=<module> \
//	      -DJITLOAD_LOCATION_FILE=<file> [-D<name>=<value>...] \
//	      -G <generator> -S <project> -B <build>
//
// and build runs
//
//	cmake --build <build> --config <type> --parallel
//
// The project may write the absolute path of the built extension to the
// file named by JITLOAD_LOCATION_FILE; otherwise the build directory is
// searched.
type CMakeToolchain struct {
	// Program overrides the cmake binary. Defaults to $CMAKE or "cmake".
	Program string

	// Generator overrides the generator. Defaults to $CMAKE_GENERATOR, then
	// Ninja Multi-Config when ninja is on PATH, then the platform default.
	Generator string
}

// Name returns the toolchain name
func (t *CMakeToolchain) Name() string {
	return "CMake"
}

// Descriptor returns the build descriptor file name
func (t *CMakeToolchain) Descriptor() string {
	return "CMakeLists.txt"
}

// CanBuild checks if the project directory contains a CMakeLists.txt
func (t *CMakeToolchain) CanBuild(projectDir string) bool {
	return descriptorExists(projectDir, t.Descriptor())
}

// RequiredTools lists the binaries the toolchain runs
func (t *CMakeToolchain) RequiredTools() []ToolRequirement {
	return []ToolRequirement{
		{Name: t.program(), Purpose: "CMake build system"},
		{Name: "ninja", Optional: true, Purpose: "Ninja Multi-Config generator"},
	}
}

// CheckTools verifies that cmake is available
func (t *CMakeToolchain) CheckTools() error {
	return CheckRequiredTools(t.RequiredTools())
}

// Identity describes the cmake binary and the generator selection
func (t *CMakeToolchain) Identity() (string, error) {
	id, err := binaryIdentity(t.program())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s;generator=%s", id, t.generator()), nil
}

// Configure runs the cmake configure step
func (t *CMakeToolchain) Configure(ctx context.Context, req *ConfigureRequest) error {
	args := []string{
		fmt.Sprintf("-DCMAKE_CONFIGURATION_TYPES=%s", req.BuildType),
		fmt.Sprintf("-DCMAKE_BUILD_TYPE=%s", req.BuildType),
		"-DJITLOAD_JIT_COMPILE=ON",
		fmt.Sprintf("-DJITLOAD_MODULE_NAME=%s", moduleBase(req.Module)),
		fmt.Sprintf("-DJITLOAD_LOCATION_FILE=%s", filepath.ToSlash(locationFile(req.BuildDir, req.BuildType))),
	}
	for _, opt := range req.Options {
		args = append(args, opt.String())
	}
	if generator := t.generator(); generator != "" {
		if err := clearStaleCache(req.BuildDir, generator, req.Output); err != nil {
			return err
		}
		args = append(args, "-G", generator)
	}
	args = append(args, "-S", req.ProjectDir, "-B", req.BuildDir)

	return runCommand(ctx, command{
		Name: t.program(),
		Args: args,
		Dir:  req.BuildDir,
	}, req.Stream)
}

// clearStaleCache removes CMakeCache.txt and CMakeFiles/ when the cache was
// written by another generator. cmake does not switch generators in place.
func clearStaleCache(buildDir, generator string, out io.Writer) error {
	cached, ok := cachedGenerator(buildDir)
	if !ok || cached == generator {
		return nil
	}
	if out != nil {
		fmt.Fprintf(out, "Generator changed from %q to %q, clearing the CMake cache\n", cached, generator)
	}
	if err := os.Remove(filepath.Join(buildDir, "CMakeCache.txt")); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing CMakeCache.txt")
	}
	if err := os.RemoveAll(filepath.Join(buildDir, "CMakeFiles")); err != nil {
		return errors.Wrap(err, "removing CMakeFiles")
	}
	return nil
}

// cachedGenerator reads the CMAKE_GENERATOR entry of <build>/CMakeCache.txt.
func cachedGenerator(buildDir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(buildDir, "CMakeCache.txt"))
	if err != nil {
		return "", false
	}
	for _, line := range strings.Split(string(data), "\n") {
		entry, value, ok := strings.Cut(strings.TrimRight(line, "\r"), "=")
		if !ok {
			continue
		}
		if key, _, _ := strings.Cut(entry, ":"); key == "CMAKE_GENERATOR" {
			return value, true
		}
	}
	return "", false
}

// Build runs cmake --build
func (t *CMakeToolchain) Build(ctx context.Context, req *BuildRequest) error {
	return runCommand(ctx, command{
		Name: t.program(),
		Args: []string{"--build", req.BuildDir, "--config", string(req.BuildType), "--parallel"},
		Dir:  req.BuildDir,
	}, req.Stream)
}

// LocateArtifact finds the compiled extension
func (t *CMakeToolchain) LocateArtifact(module, buildDir string, bt BuildType) (string, error) {
	if path, ok := readLocationFile(buildDir, bt); ok {
		return path, nil
	}

	// Generators place outputs in different directories
	searchDirs := []string{
		string(bt), // Multi-config generators
		".",
		"lib",
		"bin",
		filepath.Join("lib", string(bt)),
		filepath.Join("bin", string(bt)),
	}
	return findArtifact(buildDir, searchDirs, module)
}

func (t *CMakeToolchain) program() string {
	if t.Program != "" {
		return t.Program
	}
	if program := os.Getenv("CMAKE"); program != "" {
		return program
	}
	return "cmake"
}

// generator returns the CMake generator for the platform
func (t *CMakeToolchain) generator() string {
	if t.Generator != "" {
		return t.Generator
	}
	if generator := os.Getenv("CMAKE_GENERATOR"); generator != "" {
		return generator
	}
	if _, err := execLookPath("ninja"); err == nil {
		return ninjaMultiConfig
	}

	switch runtime.GOOS {
	case platformWindows:
		return visualStudio
	default:
		return unixMakefiles
	}
}

// readLocationFile returns the artifact path written by the project's CMake
// code, if the file exists and points at an existing file.
func readLocationFile(buildDir string, bt BuildType) (string, bool) {
	data, err := os.ReadFile(locationFile(buildDir, bt))
	if err != nil {
		return "", false
	}
	path := strings.TrimSpace(string(data))
	if path == "" {
		return "", false
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(buildDir, path)
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return "", false
	}
	return filepath.Clean(path), true
}
