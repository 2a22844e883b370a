package jitload

import (
	"fmt"
	"regexp"
	"strings"
)

// MatchesPattern checks if a filename matches any of the given regex patterns.
//
// Toolchains use it to recognise their build descriptor.
//
// # Parameters
//
//   - filename: The file to check (typically just the base name)
//   - patterns: One or more regex patterns to match against
//
// # Returns
//
// Returns true if the filename matches any pattern. Invalid patterns are
// skipped.
//
// # Example
//
//	if MatchesPattern(filename, `^CMakeLists\.txt$`) {
//	    // CMake project
//	}
//
// # Thread Safety
//
// This function is thread-safe and can be called concurrently.
func MatchesPattern(filename string, patterns ...string) bool {
	for _, pattern := range patterns {
		if matched, _ := regexp.MatchString(pattern, filename); matched {
			return true
		}
	}
	return false
}

// MatchesExtension checks if a filename has any of the given extensions.
//
// # Parameters
//
//   - filename: The file to check
//   - extensions: One or more extensions (with or without leading dot)
//
// # Returns
//
// Returns true if the filename ends with any of the extensions
// (case-insensitive).
//
// # Example
//
//	if MatchesExtension(filename, ".so", ".dylib", ".dll") {
//	    // Native library
//	}
func MatchesExtension(filename string, extensions ...string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

const logRuler = "----------------------------------------------------------------"

// formatLog frames captured tool output between rulers.
//
// # Format
//
//	Build output:
//	----------------------------------------------------------------
//	[ 50%] Building CXX object ...
//	error: expected ';'
//	----------------------------------------------------------------
func formatLog(step Step, log string) string {
	title := "Tool"
	if step != "" {
		title = step.Title()
	}
	return fmt.Sprintf("%s output:\n%s\n%s\n%s", title, logRuler, strings.TrimRight(log, "\n"), logRuler)
}

// parseBool accepts the environment override spellings.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "on", "yes", "true", "y":
		return true, nil
	case "0", "off", "no", "false", "n":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q (expected 1/on/yes/true/y or 0/off/no/false/n)", s)
	}
}

// uniqueStrings returns values without duplicates, keeping the first
// occurrence.
func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var result []string
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
