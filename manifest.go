package jitload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"gopkg.in/yaml.v3"
)

// ManifestNames are the file names searched by FindManifest, in order.
var ManifestNames = []string{"jitload.yaml", "jitload.yml", "jitload.hcl"}

// ModuleEntry is one module declared in a manifest. Paths are relative to
// the manifest's directory unless absolute.
type ModuleEntry struct {
	Name           string
	ProjectDir     string
	BuildDir       string
	StubsDir       string
	BuildType      string
	Toolchain      string // Toolchain name, empty for detection
	CleanBuild     bool
	StubsInvalidOK bool
	Verbose        bool
	Timeout        time.Duration
	Options        []Option // In declaration order
}

// Manifest is a project file listing the modules to build.
//
// # YAML
//
//	modules:
//	  fast_math:
//	    project_dir: native
//	    build_type: Release
//	    stubs_dir: typings
//	    cmake_options:
//	      USE_OPENMP: "ON"
//
// # HCL
//
//	module "fast_math" {
//	  project_dir = "native"
//	  build_type  = "Release"
//
//	  option "USE_OPENMP" {
//	    value = "ON"
//	  }
//	}
type Manifest struct {
	Path    string
	Modules []ModuleEntry
}

// FindManifest returns the first manifest file present in dir.
func FindManifest(dir string) (string, error) {
	for _, name := range ManifestNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", &Error{Code: EManifestInvalid, Msg: fmt.Sprintf("no manifest in %s (looked for %s)", dir, strings.Join(ManifestNames, ", "))}
}

// LoadManifest reads a YAML (.yaml, .yml) or HCL (.hcl) manifest.
func LoadManifest(path string) (*Manifest, error) {
	var (
		modules []ModuleEntry
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		modules, err = loadYAMLManifest(path)
	case ".hcl":
		modules, err = loadHCLManifest(path)
	default:
		return nil, &Error{Code: EManifestInvalid, Msg: fmt.Sprintf("unsupported manifest format %q", filepath.Ext(path))}
	}
	if err != nil {
		if _, ok := AsError(err); ok {
			return nil, err
		}
		return nil, &Error{Code: EManifestInvalid, Msg: "reading " + path, Cause: err}
	}

	seen := make(map[string]struct{}, len(modules))
	for _, m := range modules {
		if _, dup := seen[m.Name]; dup {
			return nil, &Error{Code: EManifestInvalid, Module: m.Name, Msg: fmt.Sprintf("%s: module %q declared twice", path, m.Name)}
		}
		seen[m.Name] = struct{}{}
	}
	return &Manifest{Path: path, Modules: modules}, nil
}

// Module returns the entry named name.
func (m *Manifest) Module(name string) (*ModuleEntry, bool) {
	for i := range m.Modules {
		if m.Modules[i].Name == name {
			return &m.Modules[i], true
		}
	}
	return nil, false
}

// Options converts the entry to Options, resolving paths against the
// manifest directory and the toolchain name against factory.
func (m *Manifest) Options(entry *ModuleEntry, factory *ToolchainFactory) (Options, error) {
	dir := filepath.Dir(m.Path)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	opts := Options{
		ProjectDir:     resolve(entry.ProjectDir),
		BuildDir:       resolve(entry.BuildDir),
		StubsDir:       resolve(entry.StubsDir),
		BuildType:      BuildType(entry.BuildType),
		CMakeOptions:   append([]Option(nil), entry.Options...),
		CleanBuild:     entry.CleanBuild,
		StubsInvalidOK: entry.StubsInvalidOK,
		Verbose:        entry.Verbose,
		Timeout:        entry.Timeout,
	}
	if entry.Toolchain != "" {
		toolchain, err := factory.ToolchainNamed(entry.Toolchain)
		if err != nil {
			return Options{}, &Error{Code: EManifestInvalid, Module: entry.Name, Msg: m.Path, Cause: err}
		}
		opts.Toolchain = toolchain
	}
	return opts, nil
}

type yamlManifest struct {
	Modules yaml.Node `yaml:"modules"`
}

type yamlModule struct {
	ProjectDir     string    `yaml:"project_dir"`
	BuildDir       string    `yaml:"build_dir"`
	StubsDir       string    `yaml:"stubs_dir"`
	BuildType      string    `yaml:"build_type"`
	Toolchain      string    `yaml:"toolchain"`
	CleanBuild     bool      `yaml:"clean_build"`
	StubsInvalidOK bool      `yaml:"stubs_invalid_ok"`
	Verbose        bool      `yaml:"verbose"`
	Timeout        string    `yaml:"timeout"`
	CMakeOptions   yaml.Node `yaml:"cmake_options"`
}

func loadYAMLManifest(path string) ([]ModuleEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc yamlManifest
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Modules.Kind == 0 {
		return nil, nil
	}
	if doc.Modules.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: modules must be a mapping", doc.Modules.Line)
	}

	var entries []ModuleEntry
	for i := 0; i+1 < len(doc.Modules.Content); i += 2 {
		key, value := doc.Modules.Content[i], doc.Modules.Content[i+1]
		var raw yamlModule
		if err := value.Decode(&raw); err != nil {
			return nil, fmt.Errorf("module %q: %w", key.Value, err)
		}
		entry := ModuleEntry{
			Name:           key.Value,
			ProjectDir:     raw.ProjectDir,
			BuildDir:       raw.BuildDir,
			StubsDir:       raw.StubsDir,
			BuildType:      raw.BuildType,
			Toolchain:      raw.Toolchain,
			CleanBuild:     raw.CleanBuild,
			StubsInvalidOK: raw.StubsInvalidOK,
			Verbose:        raw.Verbose,
		}
		if entry.Timeout, err = parseTimeout(raw.Timeout); err != nil {
			return nil, fmt.Errorf("module %q: %w", key.Value, err)
		}
		if entry.Options, err = yamlOptions(&raw.CMakeOptions); err != nil {
			return nil, fmt.Errorf("module %q: %w", key.Value, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// yamlOptions reads a mapping node keeping the key order.
func yamlOptions(node *yaml.Node) ([]Option, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: cmake_options must be a mapping", node.Line)
	}
	options := make([]Option, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: option %q must be a scalar", value.Line, key.Value)
		}
		options = append(options, Option{Name: key.Value, Value: value.Value})
	}
	return options, nil
}

type hclManifest struct {
	Modules []hclModule `hcl:"module,block"`
}

type hclModule struct {
	Name           string      `hcl:"name,label"`
	ProjectDir     string      `hcl:"project_dir"`
	BuildDir       string      `hcl:"build_dir,optional"`
	StubsDir       string      `hcl:"stubs_dir,optional"`
	BuildType      string      `hcl:"build_type,optional"`
	Toolchain      string      `hcl:"toolchain,optional"`
	CleanBuild     bool        `hcl:"clean_build,optional"`
	StubsInvalidOK bool        `hcl:"stubs_invalid_ok,optional"`
	Verbose        bool        `hcl:"verbose,optional"`
	Timeout        string      `hcl:"timeout,optional"`
	Options        []hclOption `hcl:"option,block"`
}

type hclOption struct {
	Name  string    `hcl:"name,label"`
	Value cty.Value `hcl:"value"`
}

func loadHCLManifest(path string) ([]ModuleEntry, error) {
	var doc hclManifest
	if err := hclsimple.DecodeFile(path, nil, &doc); err != nil {
		return nil, err
	}

	entries := make([]ModuleEntry, 0, len(doc.Modules))
	for _, raw := range doc.Modules {
		entry := ModuleEntry{
			Name:           raw.Name,
			ProjectDir:     raw.ProjectDir,
			BuildDir:       raw.BuildDir,
			StubsDir:       raw.StubsDir,
			BuildType:      raw.BuildType,
			Toolchain:      raw.Toolchain,
			CleanBuild:     raw.CleanBuild,
			StubsInvalidOK: raw.StubsInvalidOK,
			Verbose:        raw.Verbose,
		}
		var err error
		if entry.Timeout, err = parseTimeout(raw.Timeout); err != nil {
			return nil, fmt.Errorf("module %q: %w", raw.Name, err)
		}
		for _, opt := range raw.Options {
			value, err := ctyString(opt.Value)
			if err != nil {
				return nil, fmt.Errorf("module %q option %q: %w", raw.Name, opt.Name, err)
			}
			entry.Options = append(entry.Options, Option{Name: opt.Name, Value: value})
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ctyString converts a primitive HCL value to its string form.
func ctyString(v cty.Value) (string, error) {
	if v.IsNull() || !v.IsKnown() {
		return "", fmt.Errorf("value must be set")
	}
	if !v.Type().IsPrimitiveType() {
		return "", fmt.Errorf("value must be a string, number or bool, got %s", v.Type().FriendlyName())
	}
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", err
	}
	return s.AsString(), nil
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout: %w", err)
	}
	return d, nil
}
