package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jitload "github.com/contriboss/jitload-go"
)

// stubToolchain "builds" by writing an empty library into the build directory.
type stubToolchain struct {
	configures atomic.Int32
	builds     atomic.Int32
}

func (t *stubToolchain) Name() string       { return "stub" }
func (t *stubToolchain) Descriptor() string { return "stub.build" }
func (t *stubToolchain) CanBuild(projectDir string) bool {
	_, err := os.Stat(filepath.Join(projectDir, t.Descriptor()))
	return err == nil
}
func (t *stubToolchain) Identity() (string, error) { return "stub-1", nil }

func (t *stubToolchain) Configure(_ context.Context, req *jitload.ConfigureRequest) error {
	t.configures.Add(1)
	_, _ = fmt.Fprintf(req.Output, "configuring %s\n", req.Module)
	return nil
}

func (t *stubToolchain) Build(_ context.Context, req *jitload.BuildRequest) error {
	t.builds.Add(1)
	return os.WriteFile(filepath.Join(req.BuildDir, req.Module+".so"), nil, 0o644)
}

func (t *stubToolchain) LocateArtifact(module, buildDir string, _ jitload.BuildType) (string, error) {
	return filepath.Join(buildDir, module+".so"), nil
}

// executeCmd runs a root command with the given args and returns stdout, stderr, and error.
func executeCmd(factory *jitload.ToolchainFactory, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	rootCmd := NewRootCmd()
	if factory != nil {
		rootCmd = newRootCmd(factory)
	}
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

// writeProject creates two stub projects and a manifest naming them.
func writeProject(t *testing.T) (string, *jitload.ToolchainFactory, *stubToolchain) {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"alpha", "beta"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", name), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "src", name, "stub.build"), []byte(name), 0o644))
	}
	manifest := `modules:
  alpha:
    project_dir: src/alpha
    build_dir: build/alpha
    toolchain: stub
    cmake_options:
      WITH_SIMD: "ON"
  beta:
    project_dir: src/beta
    build_dir: build/beta
    toolchain: stub
`
	path := filepath.Join(dir, "jitload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))

	toolchain := &stubToolchain{}
	factory := &jitload.ToolchainFactory{}
	factory.Register(toolchain)
	return path, factory, toolchain
}

func TestRoot_Help(t *testing.T) {
	for _, arg := range []string{"--help", "-h"} {
		t.Run(arg, func(t *testing.T) {
			stdout, _, err := executeCmd(nil, arg)
			require.NoError(t, err)
			assert.Contains(t, stdout, "jitload")
			assert.Contains(t, stdout, "Available Commands")
			for _, cmd := range []string{"build", "status", "clean", "doctor", "version"} {
				assert.Contains(t, stdout, cmd)
			}
		})
	}
}

func TestRoot_Version(t *testing.T) {
	for _, arg := range []string{"--version", "version"} {
		t.Run(arg, func(t *testing.T) {
			stdout, _, err := executeCmd(nil, arg)
			require.NoError(t, err)
			assert.Contains(t, stdout, jitload.Version)
		})
	}
}

func TestRoot_UnknownCommand(t *testing.T) {
	_, _, err := executeCmd(nil, "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestBuild_AllModules(t *testing.T) {
	manifest, factory, toolchain := writeProject(t)

	stdout, _, err := executeCmd(factory, "build", "--manifest", manifest)
	require.NoError(t, err)

	dir := filepath.Dir(manifest)
	assert.Contains(t, stdout, "alpha\t"+filepath.Join(dir, "build", "alpha", "alpha.so"))
	assert.Contains(t, stdout, "beta\t"+filepath.Join(dir, "build", "beta", "beta.so"))
	assert.Equal(t, int32(2), toolchain.configures.Load())
	assert.Equal(t, int32(2), toolchain.builds.Load())

	// Second build is a no-op.
	_, _, err = executeCmd(factory, "build", "--manifest", manifest)
	require.NoError(t, err)
	assert.Equal(t, int32(2), toolchain.configures.Load())
	assert.Equal(t, int32(2), toolchain.builds.Load())
}

func TestBuild_UnknownModule(t *testing.T) {
	manifest, factory, _ := writeProject(t)

	_, _, err := executeCmd(factory, "build", "--manifest", manifest, "gamma")
	require.Error(t, err)
	assert.Equal(t, jitload.EModuleNotFound, jitload.GetCode(err))
}

func TestBuild_InvalidManifestExitCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jitload.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modules: [1, 2]\n"), 0o644))

	_, _, err := executeCmd(&jitload.ToolchainFactory{}, "build", "--manifest", path)
	require.Error(t, err)
	assert.Equal(t, jitload.EManifestInvalid, jitload.GetCode(err))
	assert.Equal(t, 2, jitload.ExitCode(err))
}

func TestStatus(t *testing.T) {
	manifest, factory, _ := writeProject(t)

	stdout, _, err := executeCmd(factory, "status", "--manifest", manifest, "alpha")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "alpha")
	assert.Contains(t, lines[1], "needed")
	assert.Contains(t, lines[1], "disabled")

	_, _, err = executeCmd(factory, "build", "--manifest", manifest, "alpha")
	require.NoError(t, err)

	stdout, _, err = executeCmd(factory, "status", "--manifest", manifest, "alpha")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "needed")
	assert.Contains(t, stdout, "alpha.so")
}

func TestClean(t *testing.T) {
	manifest, factory, toolchain := writeProject(t)

	_, _, err := executeCmd(factory, "build", "--manifest", manifest, "alpha")
	require.NoError(t, err)

	stdout, _, err := executeCmd(factory, "clean", "--manifest", manifest, "alpha")
	require.NoError(t, err)
	assert.Contains(t, stdout, "cleaned alpha")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(manifest), "build", "alpha", "alpha.so"))

	_, _, err = executeCmd(factory, "build", "--manifest", manifest, "alpha")
	require.NoError(t, err)
	assert.Equal(t, int32(2), toolchain.configures.Load())
}

func TestClean_RequiresModule(t *testing.T) {
	_, _, err := executeCmd(nil, "clean")
	require.Error(t, err)
}

func TestDoctor_NoRequirements(t *testing.T) {
	_, factory, _ := writeProject(t)

	stdout, _, err := executeCmd(factory, "doctor")
	require.NoError(t, err)
	assert.Contains(t, stdout, "stub: no tool requirements")
	assert.Contains(t, stdout, "stubs:")
}
