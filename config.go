package jitload

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Environment overrides applied to every Config.
const (
	EnvForceCleanBuild     = "JITLOAD_FORCE_CLEAN_BUILD"
	EnvForceStubsInvalidOK = "JITLOAD_FORCE_STUBS_INVALID_OK"
	EnvForceVerbose        = "JITLOAD_FORCE_VERBOSE"
)

var moduleNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// prohibitedOptions are set by the orchestrator itself.
var prohibitedOptions = []*regexp.Regexp{
	regexp.MustCompile(`^JITLOAD_.*$`),
	regexp.MustCompile(`^CMAKE_CONFIGURATION_TYPES$`),
	regexp.MustCompile(`^CMAKE_BUILD_TYPE$`),
}

// Options is the user-facing, unvalidated description of a project.
type Options struct {
	// Paths
	ProjectDir string // Directory holding the build descriptor (required)
	BuildDir   string // Defaults to a per-user directory under os.TempDir()
	StubsDir   string // Empty disables stub generation

	// Build settings
	BuildType    BuildType // Defaults to RelWithDebInfo
	CMakeOptions []Option  // Passed to the configure step in order

	// Behavior
	CleanBuild     bool          // Discard the cache before the next run
	StubsInvalidOK bool          // Downgrade stub generation failures to warnings
	Verbose        bool          // Stream tool output live
	Timeout        time.Duration // Per-run timeout, zero means none

	// Collaborators
	Toolchain     Toolchain     // Defaults to detection from the project directory
	StubGenerator StubGenerator // Defaults to DefaultStubGenerator()
}

// Config is the validated, immutable description of one project.
//
// # Thread Safety
//
// A Config never changes after NewConfig returns and can be shared freely.
type Config struct {
	moduleName     string
	projectDir     string
	buildDir       string
	stubsDir       string
	buildType      BuildType
	options        []Option
	cleanBuild     bool
	stubsInvalidOK bool
	verbose        bool
	timeout        time.Duration
	toolchain      Toolchain
	stubGenerator  StubGenerator
}

// NewConfig validates opts and resolves every path to an absolute one.
//
// Validation never starts processes and never writes to disk. All failures
// are *Error values with code EInvalidConfiguration:
//   - moduleName is not a dotted identifier
//   - the project directory is missing or holds no known build descriptor
//   - the build type is unknown
//   - the build directory can't be created, or it contains the project
//   - an option name is empty, malformed or reserved
//   - an environment override has an unrecognised value
func NewConfig(moduleName string, opts Options) (*Config, error) {
	invalid := func(format string, args ...any) error {
		return &Error{Code: EInvalidConfiguration, Module: moduleName, Msg: fmt.Sprintf(format, args...)}
	}

	if !moduleNamePattern.MatchString(moduleName) {
		return nil, invalid("invalid module name %q", moduleName)
	}

	if opts.ProjectDir == "" {
		return nil, invalid("project directory is required")
	}
	projectDir, err := filepath.Abs(opts.ProjectDir)
	if err != nil {
		return nil, invalid("resolving project directory: %v", err)
	}
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		return nil, invalid("project directory %s does not exist or is not a directory", projectDir)
	}

	buildType, err := ParseBuildType(string(opts.BuildType))
	if err != nil {
		return nil, invalid("%v", err)
	}

	toolchain := opts.Toolchain
	if toolchain == nil {
		toolchain, err = DefaultToolchains().ToolchainFor(projectDir)
		if err != nil {
			return nil, invalid("%v", err)
		}
	} else if !toolchain.CanBuild(projectDir) {
		return nil, invalid("project directory %s has no %s", projectDir, toolchain.Descriptor())
	}

	buildDir := opts.BuildDir
	if buildDir == "" {
		buildDir = defaultBuildDir(moduleName, projectDir)
	}
	if buildDir, err = filepath.Abs(buildDir); err != nil {
		return nil, invalid("resolving build directory: %v", err)
	}
	if buildDir == projectDir || isWithin(projectDir, buildDir) {
		return nil, invalid("build directory %s must not contain the project directory", buildDir)
	}
	if err := checkCreatable(buildDir); err != nil {
		return nil, invalid("build directory %s cannot be created: %v", buildDir, err)
	}

	var stubsDir string
	if opts.StubsDir != "" {
		if stubsDir, err = filepath.Abs(opts.StubsDir); err != nil {
			return nil, invalid("resolving stubs directory: %v", err)
		}
	}

	if err := validateOptions(opts.CMakeOptions); err != nil {
		return nil, invalid("%v", err)
	}

	cfg := &Config{
		moduleName:     moduleName,
		projectDir:     filepath.Clean(projectDir),
		buildDir:       filepath.Clean(buildDir),
		stubsDir:       stubsDir,
		buildType:      buildType,
		options:        append([]Option(nil), opts.CMakeOptions...),
		cleanBuild:     opts.CleanBuild,
		stubsInvalidOK: opts.StubsInvalidOK,
		verbose:        opts.Verbose,
		timeout:        opts.Timeout,
		toolchain:      toolchain,
		stubGenerator:  opts.StubGenerator,
	}
	if cfg.stubGenerator == nil {
		cfg.stubGenerator = DefaultStubGenerator()
	}

	overrides := []struct {
		key    string
		target *bool
	}{
		{EnvForceCleanBuild, &cfg.cleanBuild},
		{EnvForceStubsInvalidOK, &cfg.stubsInvalidOK},
		{EnvForceVerbose, &cfg.verbose},
	}
	for _, o := range overrides {
		value, ok, err := getBoolEnv(o.key)
		if err != nil {
			return nil, invalid("%s: %v", o.key, err)
		}
		if ok {
			*o.target = value
		}
	}

	return cfg, nil
}

// ModuleName returns the module name
func (c *Config) ModuleName() string { return c.moduleName }

// ProjectDir returns the absolute project directory
func (c *Config) ProjectDir() string { return c.projectDir }

// BuildDir returns the absolute build directory
func (c *Config) BuildDir() string { return c.buildDir }

// StubsDir returns the absolute stubs directory, or "" when stubs are disabled
func (c *Config) StubsDir() string { return c.stubsDir }

// BuildType returns the build type
func (c *Config) BuildType() BuildType { return c.buildType }

// CMakeOptions returns a copy of the configure options in declaration order
func (c *Config) CMakeOptions() []Option { return append([]Option(nil), c.options...) }

// CleanBuild reports whether the cache is discarded before the next run
func (c *Config) CleanBuild() bool { return c.cleanBuild }

// StubsInvalidOK reports whether stub generation failures are tolerated
func (c *Config) StubsInvalidOK() bool { return c.stubsInvalidOK }

// Verbose reports whether tool output is streamed live
func (c *Config) Verbose() bool { return c.verbose }

// Timeout returns the per-run timeout, zero for none
func (c *Config) Timeout() time.Duration { return c.timeout }

// Toolchain returns the toolchain driving the project
func (c *Config) Toolchain() Toolchain { return c.toolchain }

// StubGenerator returns the stub generator
func (c *Config) StubGenerator() StubGenerator { return c.stubGenerator }

func validateOptions(options []Option) error {
	seen := make(map[string]struct{}, len(options))
	for _, opt := range options {
		if opt.Name == "" {
			return fmt.Errorf("option with empty name")
		}
		if strings.ContainsAny(opt.Name, "= \t\n") {
			return fmt.Errorf("invalid option name %q", opt.Name)
		}
		for _, re := range prohibitedOptions {
			if re.MatchString(opt.Name) {
				return fmt.Errorf("option %q is reserved and set automatically", opt.Name)
			}
		}
		if _, dup := seen[opt.Name]; dup {
			return fmt.Errorf("option %q given more than once", opt.Name)
		}
		seen[opt.Name] = struct{}{}
	}
	return nil
}

// checkCreatable succeeds when path is a directory or its nearest existing
// ancestor is a directory.
func checkCreatable(path string) error {
	for p := path; ; p = filepath.Dir(p) {
		info, err := os.Stat(p)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", p)
			}
			return nil
		}
		if !os.IsNotExist(err) {
			return err
		}
		if parent := filepath.Dir(p); parent == p {
			return fmt.Errorf("no existing ancestor")
		}
	}
}

// isWithin reports whether path is inside dir.
func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// defaultBuildDir is <tmp>/jitload-of-<user>/<module>_build_<tag>, where tag
// is derived from the project directory.
func defaultBuildDir(module, projectDir string) string {
	sum := blake2b.Sum256([]byte(projectDir))
	tag := base64.RawURLEncoding.EncodeToString(sum[:])[:8]
	return filepath.Join(os.TempDir(), "jitload-of-"+currentUser(), module+"_build_"+tag)
}

func currentUser() string {
	name := ""
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	if name == "" {
		name = getEnv("USER", getEnv("USERNAME", "unknown"))
	}
	// Windows usernames are DOMAIN\user
	return strings.NewReplacer(`\`, "_", "/", "_", " ", "_").Replace(name)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv returns the parsed value of key and whether it was set.
func getBoolEnv(key string) (value, ok bool, err error) {
	raw, set := os.LookupEnv(key)
	if !set || strings.TrimSpace(raw) == "" {
		return false, false, nil
	}
	value, err = parseBool(raw)
	if err != nil {
		return false, false, err
	}
	return value, true, nil
}
