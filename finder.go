package jitload

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ModuleSpec is a finder's answer: where a module can be loaded from.
type ModuleSpec struct {
	Name   string
	Origin string // Path of the compiled extension
}

// Module is a loaded module.
type Module struct {
	Name   string
	Origin string
	Handle any // Whatever the LoadFunc returned
}

// Finder resolves module names. FindSpec returns (nil, nil) to decline, so
// the next finder on the meta path is asked.
type Finder interface {
	FindSpec(ctx context.Context, name string) (*ModuleSpec, error)
}

// LoadFunc loads a module from a resolved spec.
type LoadFunc func(ctx context.Context, spec *ModuleSpec) (any, error)

// PathFinder resolves a module name to a native library in one of its search
// directories, searched in order.
type PathFinder struct {
	mu   sync.RWMutex
	dirs []string
}

// NewPathFinder creates a PathFinder with the given search directories.
func NewPathFinder(dirs ...string) *PathFinder {
	return &PathFinder{dirs: uniqueStrings(dirs)}
}

// AddDir appends dir to the search path unless it is already present.
func (p *PathFinder) AddDir(dir string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.dirs {
		if d == dir {
			return false
		}
	}
	p.dirs = append(p.dirs, dir)
	return true
}

// Dirs returns a copy of the search path.
func (p *PathFinder) Dirs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.dirs...)
}

// FindSpec returns the first library for name found in the search path.
func (p *PathFinder) FindSpec(_ context.Context, name string) (*ModuleSpec, error) {
	base := moduleBase(name)
	for _, dir := range p.Dirs() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		var matches []string
		for _, entry := range entries {
			if !entry.IsDir() && artifactMatches(entry.Name(), base) {
				matches = append(matches, entry.Name())
			}
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			return &ModuleSpec{Name: name, Origin: filepath.Join(dir, matches[0])}, nil
		}
	}
	return nil, nil
}

type buildingKey struct{}

// building reports whether ctx descends from the build of name.
func building(ctx context.Context, name string) bool {
	names, _ := ctx.Value(buildingKey{}).(map[string]struct{})
	_, ok := names[name]
	return ok
}

// withBuilding marks name as being built in the returned context.
func withBuilding(ctx context.Context, name string) context.Context {
	parent, _ := ctx.Value(buildingKey{}).(map[string]struct{})
	names := make(map[string]struct{}, len(parent)+1)
	for n := range parent {
		names[n] = struct{}{}
	}
	names[name] = struct{}{}
	return context.WithValue(ctx, buildingKey{}, names)
}

// JITFinder builds registered modules before the path finder looks for them.
//
// For a registered name it runs the pipeline, adds the artifact directory to
// the path finder's search path and then declines. Names that are not
// registered are declined immediately without any work.
//
// Concurrent lookups of one name share a single pipeline run; lookups of
// different names run independently. The shared run ignores the cancellation
// of the callers: a caller whose context ends stops waiting, the others keep
// waiting for the result. A lookup issued from inside the build of the same
// name fails with EImportCycle.
type JITFinder struct {
	registry *Registry
	runner   *Runner
	path     *PathFinder
	group    singleflight.Group
}

// NewJITFinder creates a finder building modules from registry with runner.
func NewJITFinder(registry *Registry, runner *Runner, path *PathFinder) *JITFinder {
	return &JITFinder{registry: registry, runner: runner, path: path}
}

// FindSpec ensures the module is built, then declines.
func (f *JITFinder) FindSpec(ctx context.Context, name string) (*ModuleSpec, error) {
	cfg, ok := f.registry.Lookup(name)
	if !ok {
		return nil, nil
	}
	if building(ctx, name) {
		return nil, &Error{Code: EImportCycle, Module: name, Msg: "module imported during its own build"}
	}

	// The run outlives any single caller; Config.Timeout bounds it.
	flight := f.group.DoChan(name, func() (any, error) {
		return f.runner.Run(withBuilding(context.WithoutCancel(ctx), name), cfg)
	})

	var res singleflight.Result
	select {
	case res = <-flight:
	case <-ctx.Done():
		return nil, &Error{Code: EInternal, Module: name, Msg: "import canceled while waiting for build", Cause: ctx.Err()}
	}
	LoggerFrom(ctx).Debug("jit lookup finished", "module", name, "shared", res.Shared)
	if res.Err != nil {
		return nil, res.Err
	}

	result := res.Val.(*RunResult)
	f.path.AddDir(filepath.Dir(result.ArtifactPath))
	return nil, nil
}

// ImportSystem is the module resolution context: the meta path of finders,
// the path finder with its search path, the module registry and the table of
// loaded modules.
//
// # Example
//
//	sys := jitload.NewImportSystem(jitload.NewRunner())
//	sys.InstallHook()
//	_ = sys.Registry().Register("fast_math", jitload.Options{ProjectDir: "native"})
//	mod, err := sys.Import(ctx, "fast_math")
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type ImportSystem struct {
	mu       sync.Mutex
	metaPath []Finder
	modules  map[string]*Module

	registry *Registry
	path     *PathFinder
	hook     *JITFinder
	loader   LoadFunc
}

// ImportOption configures an ImportSystem.
type ImportOption func(*ImportSystem)

// WithLoader sets the function that loads resolved modules. By default a
// module is recorded without being loaded.
func WithLoader(loader LoadFunc) ImportOption {
	return func(s *ImportSystem) {
		s.loader = loader
	}
}

// WithSearchPath sets the initial search directories of the path finder.
func WithSearchPath(dirs ...string) ImportOption {
	return func(s *ImportSystem) {
		s.path = NewPathFinder(dirs...)
	}
}

// WithRegistry shares an existing registry.
func WithRegistry(registry *Registry) ImportOption {
	return func(s *ImportSystem) {
		s.registry = registry
	}
}

// NewImportSystem creates an import system whose meta path holds only the
// path finder. A nil runner means NewRunner().
func NewImportSystem(runner *Runner, opts ...ImportOption) *ImportSystem {
	if runner == nil {
		runner = NewRunner()
	}
	s := &ImportSystem{
		modules:  make(map[string]*Module),
		registry: NewRegistry(),
		path:     NewPathFinder(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hook = NewJITFinder(s.registry, runner, s.path)
	s.metaPath = []Finder{s.path}
	return s
}

// Registry returns the module registry.
func (s *ImportSystem) Registry() *Registry {
	return s.registry
}

// SearchPath returns the path finder.
func (s *ImportSystem) SearchPath() *PathFinder {
	return s.path
}

// InstallHook puts the JIT finder at the front of the meta path. Installing
// more than once has no further effect.
func (s *ImportSystem) InstallHook() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.metaPath {
		if f == Finder(s.hook) {
			return
		}
	}
	s.metaPath = append([]Finder{s.hook}, s.metaPath...)
}

// UninstallHook removes the JIT finder from the meta path.
func (s *ImportSystem) UninstallHook() {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.metaPath[:0:0]
	for _, f := range s.metaPath {
		if f != Finder(s.hook) {
			kept = append(kept, f)
		}
	}
	s.metaPath = kept
}

// MetaPath returns a copy of the finder chain.
func (s *ImportSystem) MetaPath() []Finder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Finder(nil), s.metaPath...)
}

// Loaded returns an already imported module.
func (s *ImportSystem) Loaded(name string) (*Module, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[name]
	return m, ok
}

// Import returns the module for name, resolving and loading it on first use.
//
// The finders on the meta path are asked in order; the first spec returned
// is loaded. A finder error aborts the import.
func (s *ImportSystem) Import(ctx context.Context, name string) (*Module, error) {
	if m, ok := s.Loaded(name); ok {
		return m, nil
	}
	return s.load(ctx, name)
}

// Reload resolves and loads name again, running the finders even when the
// module is already loaded.
func (s *ImportSystem) Reload(ctx context.Context, name string) (*Module, error) {
	s.mu.Lock()
	delete(s.modules, name)
	s.mu.Unlock()
	return s.load(ctx, name)
}

func (s *ImportSystem) load(ctx context.Context, name string) (*Module, error) {
	var spec *ModuleSpec
	for _, finder := range s.MetaPath() {
		found, err := finder.FindSpec(ctx, name)
		if err != nil {
			return nil, err
		}
		if found != nil {
			spec = found
			break
		}
	}
	if spec == nil {
		return nil, &Error{Code: EModuleNotFound, Module: name, Msg: "no module named " + name}
	}

	m := &Module{Name: name, Origin: spec.Origin}
	if s.loader != nil {
		handle, err := s.loader(ctx, spec)
		if err != nil {
			return nil, &Error{Code: EInternal, Module: name, Msg: "loading " + spec.Origin, Cause: err}
		}
		m.Handle = handle
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.modules[name]; ok {
		return existing, nil
	}
	s.modules[name] = m
	LoggerFrom(ctx).Debug("module loaded", "module", name, "origin", spec.Origin)
	return m, nil
}
