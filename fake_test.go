package jitload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeToolchain records its calls and "compiles" by writing the artifact
// content into <build>/<module>.so.
type fakeToolchain struct {
	identity string
	artifact string // artifact content, defaults to "binary"

	configureErr  error
	buildErr      error
	configureHook func(ctx context.Context, req *ConfigureRequest) error
	buildHook     func(ctx context.Context, req *BuildRequest) error

	configures atomic.Int32
	builds     atomic.Int32
}

func (f *fakeToolchain) Name() string       { return "Fake" }
func (f *fakeToolchain) Descriptor() string { return "fake.build" }

func (f *fakeToolchain) CanBuild(projectDir string) bool {
	return descriptorExists(projectDir, f.Descriptor())
}

func (f *fakeToolchain) Identity() (string, error) {
	if f.identity == "" {
		return "fake-1.0", nil
	}
	return f.identity, nil
}

func (f *fakeToolchain) Configure(ctx context.Context, req *ConfigureRequest) error {
	f.configures.Add(1)
	fmt.Fprintf(req.Output, "-- configuring %s (%s)\n", req.Module, req.BuildType)
	if f.configureHook != nil {
		if err := f.configureHook(ctx, req); err != nil {
			return err
		}
	}
	return f.configureErr
}

func (f *fakeToolchain) Build(ctx context.Context, req *BuildRequest) error {
	f.builds.Add(1)
	fmt.Fprintf(req.Output, "[100%%] Linking %s\n", req.Module)
	if f.buildHook != nil {
		if err := f.buildHook(ctx, req); err != nil {
			return err
		}
	}
	if f.buildErr != nil {
		return f.buildErr
	}
	content := f.artifact
	if content == "" {
		content = "binary"
	}
	return os.WriteFile(filepath.Join(req.BuildDir, moduleBase(req.Module)+".so"), []byte(content), 0o755)
}

func (f *fakeToolchain) LocateArtifact(module, buildDir string, _ BuildType) (string, error) {
	return findArtifact(buildDir, []string{"."}, module)
}

func (f *fakeToolchain) calls() (configures, builds int) {
	return int(f.configures.Load()), int(f.builds.Load())
}

// fakeStubGenerator writes <stubs>/<module path>.pyi.
type fakeStubGenerator struct {
	err           error
	ignoreInvalid atomic.Bool
	generations   atomic.Int32
}

func (g *fakeStubGenerator) Name() string { return "fake-stubgen" }

func (g *fakeStubGenerator) GenerateStubs(_ context.Context, req *StubRequest) error {
	g.generations.Add(1)
	g.ignoreInvalid.Store(req.IgnoreInvalid)
	if g.err != nil {
		fmt.Fprintf(req.Output, "Invalid expression in %s\n", req.Module)
		return g.err
	}
	path := filepath.Join(req.StubsDir, modulePath(req.Module)+".pyi")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("def add(a: int, b: int) -> int: ...\n"), 0o644)
}

func (g *fakeStubGenerator) StubsExist(stubsDir, module string) bool {
	return fileExists(filepath.Join(stubsDir, modulePath(module)+".pyi"))
}

// testProject is a project directory with a fake descriptor and one source
// file, plus sibling build and stubs directories.
type testProject struct {
	root       string
	projectDir string
	buildDir   string
	stubsDir   string
	toolchain  *fakeToolchain
	stubgen    *fakeStubGenerator
}

func newTestProject(t *testing.T) *testProject {
	t.Helper()
	clearEnvOverrides(t)

	root := t.TempDir()
	p := &testProject{
		root:       root,
		projectDir: filepath.Join(root, "project"),
		buildDir:   filepath.Join(root, "build"),
		stubsDir:   filepath.Join(root, "stubs"),
		toolchain:  &fakeToolchain{},
		stubgen:    &fakeStubGenerator{},
	}
	require.NoError(t, os.MkdirAll(filepath.Join(p.projectDir, "src"), 0o755))
	p.write(t, "fake.build", "project(fast_math)\n")
	p.write(t, "src/fast_math.c", "int add(int a, int b) { return a + b; }\n")
	return p
}

// write creates or replaces a file in the project directory.
func (p *testProject) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(p.projectDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// options returns Options wired to the fakes, without stubs.
func (p *testProject) options() Options {
	return Options{
		ProjectDir:    p.projectDir,
		BuildDir:      p.buildDir,
		Toolchain:     p.toolchain,
		StubGenerator: p.stubgen,
	}
}

// config validates opts for module fast_math.
func (p *testProject) config(t *testing.T, mutate ...func(*Options)) *Config {
	t.Helper()
	opts := p.options()
	for _, m := range mutate {
		m(&opts)
	}
	cfg, err := NewConfig("fast_math", opts)
	require.NoError(t, err)
	return cfg
}

func withStubs(p *testProject) func(*Options) {
	return func(o *Options) { o.StubsDir = p.stubsDir }
}

// clearEnvOverrides unsets the JITLOAD_FORCE_* variables for the test.
func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvForceCleanBuild, EnvForceStubsInvalidOK, EnvForceVerbose} {
		t.Setenv(key, "")
	}
}

// stepStatuses returns the status of every step in execution order.
func stepStatuses(result *RunResult) map[Step]StepStatus {
	statuses := make(map[Step]StepStatus, len(result.Steps))
	for _, outcome := range result.Steps {
		statuses[outcome.Step] = outcome.Status
	}
	return statuses
}
