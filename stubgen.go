package jitload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CommandStubGenerator runs a configurable command to produce stubs.
//
// # Configuration
//
// The command is a template. Supported placeholders:
//
//	{{module}}       - The module name
//	{{artifact}}     - The compiled extension
//	{{artifact_dir}} - Directory containing the compiled extension
//	{{output}}       - The stubs directory
//
// IgnoreInvalidArgs are appended when invalid stubs are acceptable.
//
// # Example: pybind11-stubgen
//
//	gen := NewCommandStubGenerator(&CommandStubGeneratorConfig{
//	    Name:    "pybind11-stubgen",
//	    Command: []string{"python3", "-m", "pybind11_stubgen", "-o", "{{output}}", "{{module}}"},
//	    Env:     []string{"PYTHONPATH={{artifact_dir}}"},
//	    IgnoreInvalidArgs: []string{"--ignore-all-errors"},
//	})
type CommandStubGenerator struct {
	name              string
	command           []string
	env               []string
	ignoreInvalidArgs []string
	tools             []ToolRequirement
	outputs           []string
}

// CommandStubGeneratorConfig defines a CommandStubGenerator.
type CommandStubGeneratorConfig struct {
	// Name is the generator name used in logs
	Name string

	// Command is the command template; the first element is the binary
	Command []string

	// Env holds KEY=VALUE templates added to the environment
	Env []string

	// IgnoreInvalidArgs are appended when invalid expressions are tolerated
	IgnoreInvalidArgs []string

	// Tools are the required binaries, reported by the doctor command
	Tools []ToolRequirement

	// Outputs are path templates relative to the stubs directory whose
	// existence means stubs are present. Defaults to the module directory
	// and <module>.pyi.
	Outputs []string
}

// NewCommandStubGenerator creates a CommandStubGenerator from configuration.
func NewCommandStubGenerator(config *CommandStubGeneratorConfig) *CommandStubGenerator {
	outputs := config.Outputs
	if len(outputs) == 0 {
		outputs = []string{"{{module_path}}", "{{module_path}}.pyi"}
	}
	return &CommandStubGenerator{
		name:              config.Name,
		command:           config.Command,
		env:               config.Env,
		ignoreInvalidArgs: config.IgnoreInvalidArgs,
		tools:             config.Tools,
		outputs:           outputs,
	}
}

// DefaultStubGenerator runs pybind11-stubgen through python3.
func DefaultStubGenerator() *CommandStubGenerator {
	return NewCommandStubGenerator(&CommandStubGeneratorConfig{
		Name: "pybind11-stubgen",
		Command: []string{
			"python3", "-m", "pybind11_stubgen",
			"--print-invalid-expressions-as-is",
			"--exit-code",
			"-o", "{{output}}",
			"{{module}}",
		},
		Env:               []string{"PYTHONPATH={{artifact_dir}}"},
		IgnoreInvalidArgs: []string{"--ignore-all-errors"},
		Tools: []ToolRequirement{
			{Name: "python3", Alternatives: []string{"python"}, Purpose: "Stub generator interpreter"},
		},
	})
}

// Name returns the generator name
func (g *CommandStubGenerator) Name() string {
	return g.name
}

// RequiredTools returns the tools needed for this generator
func (g *CommandStubGenerator) RequiredTools() []ToolRequirement {
	return g.tools
}

// CheckTools verifies that all required tools are available
func (g *CommandStubGenerator) CheckTools() error {
	return CheckRequiredTools(g.RequiredTools())
}

// GenerateStubs runs the configured command
func (g *CommandStubGenerator) GenerateStubs(ctx context.Context, req *StubRequest) error {
	if len(g.command) == 0 {
		return fmt.Errorf("no command configured for %s stub generator", g.name)
	}
	if err := os.MkdirAll(req.StubsDir, 0o755); err != nil {
		return fmt.Errorf("creating stubs directory: %w", err)
	}

	vars := map[string]string{
		"{{module}}":       req.Module,
		"{{module_path}}":  modulePath(req.Module),
		"{{artifact}}":     req.ArtifactPath,
		"{{artifact_dir}}": filepath.Dir(req.ArtifactPath),
		"{{output}}":       req.StubsDir,
	}

	args := expandTemplates(g.command[1:], vars)
	if req.IgnoreInvalid {
		args = append(args, expandTemplates(g.ignoreInvalidArgs, vars)...)
	}

	return runCommand(ctx, command{
		Name: g.command[0],
		Args: args,
		Dir:  req.StubsDir,
		Env:  expandTemplates(g.env, vars),
	}, req.Stream)
}

// StubsExist checks for any of the configured outputs
func (g *CommandStubGenerator) StubsExist(stubsDir, module string) bool {
	vars := map[string]string{
		"{{module}}":      module,
		"{{module_path}}": modulePath(module),
	}
	for _, rel := range expandTemplates(g.outputs, vars) {
		if _, err := os.Stat(filepath.Join(stubsDir, rel)); err == nil {
			return true
		}
	}
	return false
}

// modulePath turns a dotted module name into a relative path.
func modulePath(module string) string {
	return filepath.Join(strings.Split(module, ".")...)
}

func expandTemplates(templates []string, vars map[string]string) []string {
	out := make([]string, len(templates))
	for i, arg := range templates {
		for placeholder, value := range vars {
			arg = strings.ReplaceAll(arg, placeholder, value)
		}
		out[i] = arg
	}
	return out
}
