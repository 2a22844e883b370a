// Package jitload builds native extension modules just in time, the first
// time they are imported.
//
// A project directory holding a build descriptor (CMakeLists.txt or
// Cargo.toml) is registered under a module name. When the module is imported
// through an ImportSystem with the hook installed, the pipeline configures,
// builds and optionally generates stubs for the extension, then lets the
// default path finder load the compiled artifact. Later imports reuse the
// artifact unless the sources or the configuration changed.
//
// # Basic Usage
//
//	sys := jitload.NewImportSystem(jitload.NewRunner())
//	sys.InstallHook()
//
//	err := sys.Registry().Register("my_ext", jitload.Options{
//	    ProjectDir: "./native",
//	    BuildType:  jitload.BuildTypeRelease,
//	    StubsDir:   "./typings",
//	})
//
//	mod, err := sys.Import(ctx, "my_ext")
//
// # Architecture
//
//	ImportSystem
//	├── JITFinder (registered names only, single flight per name)
//	│   └── Runner
//	│       ├── StateCache (<build>/jitload/state.json)
//	│       ├── Toolchain (CMake, Cargo)
//	│       └── StubGenerator
//	└── PathFinder (search path of artifact directories)
//
// # Step Skipping
//
// Each step is fingerprinted. Configure depends on the toolchain identity,
// the build descriptor and the options; build adds a content hash of the
// source tree; stub generation depends on the artifact content. A step whose
// fingerprint matches the last recorded success is skipped, and a step that
// is about to run first invalidates its own record and every record after it.
//
// # Environment Overrides
//
// JITLOAD_FORCE_CLEAN_BUILD, JITLOAD_FORCE_STUBS_INVALID_OK and
// JITLOAD_FORCE_VERBOSE override the corresponding options for every module.
// Accepted values are 1, on, yes, true, y and 0, off, no, false, n.
//
// # Platform Support
//
// Linux and macOS. Windows builds use LockFileEx for the build lock and skip
// the pseudo terminal used for live verbose output.
package jitload
