package jitload

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandStubGenerator_Generate(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	t.Setenv("ARGS_FILE", argsFile)
	script := writeScript(t, dir, "stubgen", recordArgs+`echo "PYTHONPATH=$PYTHONPATH" >> "$ARGS_FILE"
`)

	gen := NewCommandStubGenerator(&CommandStubGeneratorConfig{
		Name:              "test-stubgen",
		Command:           []string{script, "-o", "{{output}}", "{{module}}", "--lib={{artifact}}"},
		Env:               []string{"PYTHONPATH={{artifact_dir}}"},
		IgnoreInvalidArgs: []string{"--ignore-all-errors"},
	})
	assert.Equal(t, "test-stubgen", gen.Name())

	artifact := filepath.Join(dir, "build", "fast_math.so")
	stubsDir := filepath.Join(dir, "stubs")
	req := &StubRequest{
		Module:       "pkg.fast_math",
		ArtifactPath: artifact,
		StubsDir:     stubsDir,
		Stream:       Stream{Output: &bytes.Buffer{}},
	}
	require.NoError(t, gen.GenerateStubs(context.Background(), req))
	assert.DirExists(t, stubsDir)
	assert.Equal(t, []string{
		"-o", stubsDir, "pkg.fast_math", "--lib=" + artifact,
		"PYTHONPATH=" + filepath.Dir(artifact),
	}, readArgs(t, argsFile))

	require.NoError(t, os.Remove(argsFile))
	req.IgnoreInvalid = true
	require.NoError(t, gen.GenerateStubs(context.Background(), req))
	assert.Equal(t, []string{
		"-o", stubsDir, "pkg.fast_math", "--lib=" + artifact, "--ignore-all-errors",
		"PYTHONPATH=" + filepath.Dir(artifact),
	}, readArgs(t, argsFile))
}

func TestCommandStubGenerator_Failure(t *testing.T) {
	dir := t.TempDir()
	gen := NewCommandStubGenerator(&CommandStubGeneratorConfig{
		Name:    "test-stubgen",
		Command: []string{writeScript(t, dir, "stubgen", "echo 'Invalid expression: numpy.ndarray' >&2\nexit 1\n")},
	})

	var out bytes.Buffer
	err := gen.GenerateStubs(context.Background(), &StubRequest{
		Module:   "fast_math",
		StubsDir: filepath.Join(dir, "stubs"),
		Stream:   Stream{Output: &out},
	})
	require.Error(t, err)
	assert.Contains(t, out.String(), "Invalid expression")

	empty := NewCommandStubGenerator(&CommandStubGeneratorConfig{Name: "empty"})
	err = empty.GenerateStubs(context.Background(), &StubRequest{Module: "fast_math", StubsDir: dir})
	assert.ErrorContains(t, err, "no command configured")
}

func TestCommandStubGenerator_StubsExist(t *testing.T) {
	gen := DefaultStubGenerator()
	stubsDir := t.TempDir()

	assert.False(t, gen.StubsExist(stubsDir, "pkg.fast_math"))

	require.NoError(t, os.MkdirAll(filepath.Join(stubsDir, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stubsDir, "pkg", "fast_math.pyi"), nil, 0o644))
	assert.True(t, gen.StubsExist(stubsDir, "pkg.fast_math"))

	require.NoError(t, os.MkdirAll(filepath.Join(stubsDir, "rust_ext"), 0o755))
	assert.True(t, gen.StubsExist(stubsDir, "rust_ext"))

	custom := NewCommandStubGenerator(&CommandStubGeneratorConfig{
		Name:    "custom",
		Command: []string{"true"},
		Outputs: []string{"{{module}}.stub"},
	})
	assert.False(t, custom.StubsExist(stubsDir, "rust_ext"))
	require.NoError(t, os.WriteFile(filepath.Join(stubsDir, "rust_ext.stub"), nil, 0o644))
	assert.True(t, custom.StubsExist(stubsDir, "rust_ext"))
}

func TestDefaultStubGenerator(t *testing.T) {
	gen := DefaultStubGenerator()
	assert.Equal(t, "pybind11-stubgen", gen.Name())
	require.Len(t, gen.RequiredTools(), 1)
	assert.Equal(t, []string{"python"}, gen.RequiredTools()[0].Alternatives)
}

func TestExpandTemplates(t *testing.T) {
	got := expandTemplates([]string{"{{module}}", "-o={{output}}/{{module}}", "plain"}, map[string]string{
		"{{module}}": "fast_math",
		"{{output}}": "/stubs",
	})
	assert.Equal(t, []string{"fast_math", "-o=/stubs/fast_math", "plain"}, got)
	assert.Equal(t, filepath.Join("pkg", "sub", "mod"), modulePath("pkg.sub.mod"))
}
