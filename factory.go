package jitload

import (
	"fmt"
	"strings"
	"sync"
)

// ToolchainFactory manages the registration and selection of toolchains.
//
// # Toolchain Selection
//
// When a Config is created without an explicit toolchain, the factory:
//  1. Calls CanBuild(projectDir) on each registered toolchain in order
//  2. Uses the first toolchain that returns true
//  3. Returns an error naming the expected descriptors otherwise
//
// # Thread Safety
//
// Lookups and registration are guarded by a mutex, so a
// factory can be extended while configs are being created.
type ToolchainFactory struct {
	mu         sync.RWMutex
	toolchains []Toolchain
}

// NewToolchainFactory creates a factory with the standard toolchains
// registered in priority order: CMake, then Cargo.
//
// # Example
//
//	factory := NewToolchainFactory()
//	factory.Register(&MesonToolchain{})
//	toolchain, err := factory.ToolchainFor("./native")
func NewToolchainFactory() *ToolchainFactory {
	factory := &ToolchainFactory{}
	factory.Register(&CMakeToolchain{})
	factory.Register(&CargoToolchain{})
	return factory
}

var (
	defaultFactoryOnce sync.Once
	defaultFactory     *ToolchainFactory
)

// DefaultToolchains returns the process-wide factory used by NewConfig.
//
// Toolchains registered on it are picked up by every later NewConfig call
// without an explicit Options.Toolchain.
func DefaultToolchains() *ToolchainFactory {
	defaultFactoryOnce.Do(func() {
		defaultFactory = NewToolchainFactory()
	})
	return defaultFactory
}

// Register adds a toolchain. Toolchains are checked in registration order.
//
// # Parameters
//
//   - toolchain: The toolchain to add after the ones already registered
func (f *ToolchainFactory) Register(toolchain Toolchain) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolchains = append(f.toolchains, toolchain)
}

// ToolchainFor returns the first toolchain that can build projectDir.
//
// # Parameters
//
//   - projectDir: Directory holding the build descriptor
//
// # Returns
//
// The first registered toolchain whose CanBuild reports true. The error
// lists every descriptor that was looked for.
//
// # Example
//
//	toolchain, err := DefaultToolchains().ToolchainFor("./native")
//	if err != nil {
//	    return err // no build descriptor found in ./native (looked for CMakeLists.txt, Cargo.toml)
//	}
func (f *ToolchainFactory) ToolchainFor(projectDir string) (Toolchain, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	descriptors := make([]string, 0, len(f.toolchains))
	for _, toolchain := range f.toolchains {
		if toolchain.CanBuild(projectDir) {
			return toolchain, nil
		}
		descriptors = append(descriptors, toolchain.Descriptor())
	}

	return nil, fmt.Errorf("no build descriptor found in %s (looked for %s)", projectDir, strings.Join(descriptors, ", "))
}

// ToolchainNamed returns the registered toolchain with the given name,
// compared case-insensitively.
//
// # Parameters
//
//   - name: Toolchain name (e.g., "cmake", "Cargo")
//
// # Returns
//
// The matching toolchain, or an error for an unknown name.
//
// # Example
//
//	toolchain, err := DefaultToolchains().ToolchainNamed("cargo")
func (f *ToolchainFactory) ToolchainNamed(name string) (Toolchain, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, toolchain := range f.toolchains {
		if strings.EqualFold(toolchain.Name(), name) {
			return toolchain, nil
		}
	}
	return nil, fmt.Errorf("unknown toolchain %q", name)
}

// ListToolchains returns a copy of all registered toolchains.
//
// # Returns
//
// The toolchains in registration order. Changing the slice does not
// affect the factory.
func (f *ToolchainFactory) ListToolchains() []Toolchain {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Toolchain{}, f.toolchains...)
}
