package jitload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_ResolvesPaths(t *testing.T) {
	p := newTestProject(t)
	t.Chdir(p.root)

	cfg, err := NewConfig("pkg.fast_math", Options{
		ProjectDir:    "project",
		BuildDir:      "build/../build",
		StubsDir:      "stubs",
		Toolchain:     p.toolchain,
		StubGenerator: p.stubgen,
	})
	require.NoError(t, err)

	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, "project"), cfg.ProjectDir())
	assert.Equal(t, filepath.Join(cwd, "build"), cfg.BuildDir())
	assert.Equal(t, filepath.Join(cwd, "stubs"), cfg.StubsDir())
	assert.Equal(t, "pkg.fast_math", cfg.ModuleName())
	assert.Equal(t, DefaultBuildType, cfg.BuildType())
	assert.Same(t, p.toolchain, cfg.Toolchain())
}

func TestNewConfig_Defaults(t *testing.T) {
	p := newTestProject(t)

	cfg, err := NewConfig("fast_math", Options{ProjectDir: p.projectDir, Toolchain: p.toolchain})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cfg.BuildDir(), filepath.Join(os.TempDir(), "jitload-of-")))
	assert.True(t, strings.HasPrefix(filepath.Base(cfg.BuildDir()), "fast_math_build_"))
	assert.Len(t, filepath.Base(cfg.BuildDir()), len("fast_math_build_")+8)
	assert.Empty(t, cfg.StubsDir())
	assert.Equal(t, "pybind11-stubgen", cfg.StubGenerator().Name())
	assert.False(t, cfg.CleanBuild())
	assert.False(t, cfg.Verbose())
	assert.Zero(t, cfg.Timeout())

	// The default build directory is stable for a project.
	again, err := NewConfig("fast_math", Options{ProjectDir: p.projectDir, Toolchain: p.toolchain})
	require.NoError(t, err)
	assert.Equal(t, cfg.BuildDir(), again.BuildDir())
}

func TestNewConfig_DetectsToolchain(t *testing.T) {
	clearEnvOverrides(t)
	dir := t.TempDir()
	project := filepath.Join(dir, "rust")
	require.NoError(t, os.MkdirAll(project, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "Cargo.toml"), []byte("[package]\nname = \"fast_math\"\n"), 0o644))

	cfg, err := NewConfig("fast_math", Options{ProjectDir: project, BuildDir: filepath.Join(dir, "build")})
	require.NoError(t, err)
	assert.Equal(t, "Cargo", cfg.Toolchain().Name())
}

func TestNewConfig_BuildTypeIsCaseInsensitive(t *testing.T) {
	p := newTestProject(t)

	cfg := p.config(t, func(o *Options) { o.BuildType = "release" })
	assert.Equal(t, BuildTypeRelease, cfg.BuildType())
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		module  string
		mutate  func(p *testProject, o *Options)
		wantMsg string
	}{
		{
			name:    "module name",
			module:  "fast-math",
			wantMsg: "invalid module name",
		},
		{
			name:    "missing project dir",
			module:  "fast_math",
			mutate:  func(p *testProject, o *Options) { o.ProjectDir = "" },
			wantMsg: "project directory is required",
		},
		{
			name:    "nonexistent project dir",
			module:  "fast_math",
			mutate:  func(p *testProject, o *Options) { o.ProjectDir = filepath.Join(p.root, "nope") },
			wantMsg: "does not exist",
		},
		{
			name:   "no descriptor",
			module: "fast_math",
			mutate: func(p *testProject, o *Options) {
				_ = os.Remove(filepath.Join(p.projectDir, "fake.build"))
			},
			wantMsg: "has no fake.build",
		},
		{
			name:    "no descriptor for any toolchain",
			module:  "fast_math",
			mutate:  func(p *testProject, o *Options) { o.Toolchain = nil },
			wantMsg: "no build descriptor found",
		},
		{
			name:    "build type",
			module:  "fast_math",
			mutate:  func(p *testProject, o *Options) { o.BuildType = "Profile" },
			wantMsg: "unknown build type",
		},
		{
			name:    "build dir is project dir",
			module:  "fast_math",
			mutate:  func(p *testProject, o *Options) { o.BuildDir = p.projectDir },
			wantMsg: "must not contain the project directory",
		},
		{
			name:    "build dir contains project dir",
			module:  "fast_math",
			mutate:  func(p *testProject, o *Options) { o.BuildDir = p.root },
			wantMsg: "must not contain the project directory",
		},
		{
			name:   "build dir under a file",
			module: "fast_math",
			mutate: func(p *testProject, o *Options) {
				o.BuildDir = filepath.Join(p.projectDir, "fake.build", "out")
			},
			wantMsg: "cannot be created",
		},
		{
			name:    "reserved option",
			module:  "fast_math",
			mutate:  func(p *testProject, o *Options) { o.CMakeOptions = []Option{{Name: "CMAKE_BUILD_TYPE", Value: "Debug"}} },
			wantMsg: "reserved",
		},
		{
			name:    "reserved prefix",
			module:  "fast_math",
			mutate:  func(p *testProject, o *Options) { o.CMakeOptions = []Option{{Name: "JITLOAD_MODULE_NAME", Value: "x"}} },
			wantMsg: "reserved",
		},
		{
			name:   "duplicate option",
			module: "fast_math",
			mutate: func(p *testProject, o *Options) {
				o.CMakeOptions = []Option{{Name: "A", Value: "1"}, {Name: "A", Value: "2"}}
			},
			wantMsg: "more than once",
		},
		{
			name:    "malformed option",
			module:  "fast_math",
			mutate:  func(p *testProject, o *Options) { o.CMakeOptions = []Option{{Name: "A=B", Value: "1"}} },
			wantMsg: "invalid option name",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestProject(t)
			opts := p.options()
			if tc.mutate != nil {
				tc.mutate(p, &opts)
			}

			cfg, err := NewConfig(tc.module, opts)
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Equal(t, EInvalidConfiguration, GetCode(err))
			assert.Contains(t, err.Error(), tc.wantMsg)
			assert.Equal(t, 2, ExitCode(err))
		})
	}
}

func TestNewConfig_EnvOverrides(t *testing.T) {
	p := newTestProject(t)
	t.Setenv(EnvForceCleanBuild, "on")
	t.Setenv(EnvForceStubsInvalidOK, "Y")
	t.Setenv(EnvForceVerbose, "true")

	cfg := p.config(t)
	assert.True(t, cfg.CleanBuild())
	assert.True(t, cfg.StubsInvalidOK())
	assert.True(t, cfg.Verbose())

	t.Setenv(EnvForceVerbose, "0")
	cfg = p.config(t, func(o *Options) { o.Verbose = true })
	assert.False(t, cfg.Verbose())
}

func TestNewConfig_InvalidEnvOverride(t *testing.T) {
	p := newTestProject(t)
	t.Setenv(EnvForceCleanBuild, "maybe")

	_, err := NewConfig("fast_math", p.options())
	require.Error(t, err)
	assert.Equal(t, EInvalidConfiguration, GetCode(err))
	assert.Contains(t, err.Error(), EnvForceCleanBuild)
}

func TestConfig_Immutable(t *testing.T) {
	p := newTestProject(t)
	options := []Option{{Name: "USE_OPENMP", Value: "ON"}}
	cfg := p.config(t, func(o *Options) { o.CMakeOptions = options })

	options[0].Value = "OFF"
	got := cfg.CMakeOptions()
	got[0].Value = "MAYBE"

	assert.Equal(t, []Option{{Name: "USE_OPENMP", Value: "ON"}}, cfg.CMakeOptions())
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"1", "on", "YES", "true", "y", " True "} {
		v, err := parseBool(s)
		require.NoError(t, err, s)
		assert.True(t, v, s)
	}
	for _, s := range []string{"0", "off", "no", "FALSE", "n"} {
		v, err := parseBool(s)
		require.NoError(t, err, s)
		assert.False(t, v, s)
	}
	_, err := parseBool("2")
	assert.Error(t, err)
}
