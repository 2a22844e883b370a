package jitload

import "golang.org/x/mod/semver"

// Version is the orchestrator version recorded in every build state file.
const Version = "v0.4.0"

// compatibleVersion reports whether state written by version recorded can be
// reused by this orchestrator. Versions are compatible when they share the
// same major and minor version.
func compatibleVersion(recorded string) bool {
	if !semver.IsValid(recorded) {
		return false
	}
	return semver.MajorMinor(recorded) == semver.MajorMinor(Version)
}
