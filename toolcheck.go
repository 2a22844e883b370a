package jitload

import (
	"fmt"
	"os"
	"strings"
)

// ToolChecker is an optional interface for toolchains and stub generators
// that can declare the binaries they run.
//
// The CLI's doctor command uses it to report missing tools before any build
// is attempted.
//
// # Example Implementation
//
//	func (t *CMakeToolchain) RequiredTools() []ToolRequirement {
//	    return []ToolRequirement{
//	        {Name: "cmake", Purpose: "CMake build system"},
//	        {Name: "ninja", Optional: true, Purpose: "Ninja Multi-Config generator"},
//	    }
//	}
//
// # Thread Safety
//
// Implementations should be thread-safe as they may be called concurrently.
type ToolChecker interface {
	// RequiredTools returns the list of tools this component needs.
	RequiredTools() []ToolRequirement

	// CheckTools returns nil if all required tools are found. Optional tools
	// don't cause errors if missing.
	CheckTools() error
}

// ToolRequirement describes an external tool dependency.
//
// # Examples
//
// Required tool:
//
//	ToolRequirement{Name: "cmake", Purpose: "CMake build system"}
//
// Tool with alternatives:
//
//	ToolRequirement{
//	    Name:         "python3",
//	    Alternatives: []string{"python"},
//	    Purpose:      "Stub generator interpreter",
//	}
type ToolRequirement struct {
	// Name is the primary tool binary name (e.g., "cmake", "cargo").
	Name string

	// Alternatives are tool names that satisfy the requirement as well.
	Alternatives []string

	// Optional tools are reported but never fail a check.
	Optional bool

	// Purpose is a human-readable description of why the tool is needed.
	Purpose string
}

// ToolStatus is the result of looking up one requirement.
type ToolStatus struct {
	Requirement ToolRequirement
	Found       string // Binary that satisfied the requirement
	Path        string // Resolved path, empty when missing
}

// Missing reports whether no binary satisfied the requirement.
func (s ToolStatus) Missing() bool {
	return s.Path == ""
}

// CheckToolAvailable checks if a tool is available in the system PATH.
//
// # Parameters
//
//   - tool: Binary name to look up (e.g., "cmake", "ninja")
//
// # Returns
//
// Returns nil if the tool is found, or an error naming it otherwise.
//
// # Example
//
//	if err := CheckToolAvailable("ninja"); err != nil {
//	    // fall back to Unix Makefiles
//	}
//
// # Thread Safety
//
// This function is thread-safe and can be called concurrently.
func CheckToolAvailable(tool string) error {
	if _, err := execLookPath(tool); err != nil {
		return fmt.Errorf("%s not found in PATH", tool)
	}
	return nil
}

// InspectTools resolves every requirement, trying alternatives in order.
//
// # Parameters
//
//   - requirements: The tools to look up, typically from RequiredTools()
//
// # Returns
//
// One ToolStatus per requirement, in the same order. Found and Path name
// the first binary that resolved; both are empty for a missing tool.
//
// # Example
//
//	for _, status := range InspectTools(toolchain.RequiredTools()) {
//	    if status.Missing() && !status.Requirement.Optional {
//	        fmt.Printf("missing %s\n", status.Requirement.Name)
//	    }
//	}
func InspectTools(requirements []ToolRequirement) []ToolStatus {
	statuses := make([]ToolStatus, 0, len(requirements))
	for _, req := range requirements {
		status := ToolStatus{Requirement: req}
		for _, name := range append([]string{req.Name}, req.Alternatives...) {
			if path, err := execLookPath(name); err == nil {
				status.Found = name
				status.Path = path
				break
			}
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// CheckRequiredTools verifies all required tools are available.
//
// # Parameters
//
//   - requirements: The tools to check; optional ones never fail the check
//
// # Returns
//
// Returns nil if every non-optional requirement resolved, otherwise an
// error naming the missing tools.
//
// # Error Format
//
// Single missing tool:
//
//	cmake (CMake build system) not found in PATH
//
// Multiple missing tools:
//
//	missing required tools: cmake (CMake build system), cargo (Rust compiler)
func CheckRequiredTools(requirements []ToolRequirement) error {
	var missingTools []string

	for _, status := range InspectTools(requirements) {
		if !status.Missing() || status.Requirement.Optional {
			continue
		}
		req := status.Requirement
		if req.Purpose != "" {
			missingTools = append(missingTools, fmt.Sprintf("%s (%s)", req.Name, req.Purpose))
		} else {
			missingTools = append(missingTools, req.Name)
		}
	}

	switch len(missingTools) {
	case 0:
		return nil
	case 1:
		return &commandNotFoundError{name: missingTools[0]}
	default:
		return fmt.Errorf("missing required tools: %s", strings.Join(missingTools, ", "))
	}
}

// binaryIdentity names a tool binary by resolved path, size and modification
// time. It never runs the binary.
func binaryIdentity(name string) (string, error) {
	path, err := execLookPath(name)
	if err != nil {
		return "", &commandNotFoundError{name: name, err: err}
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", &commandNotFoundError{name: name, err: err}
	}
	return fmt.Sprintf("%s;size=%d;mtime=%d", path, info.Size(), info.ModTime().UnixNano()), nil
}
