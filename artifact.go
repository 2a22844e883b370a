package jitload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

var nativeLibraryExtensions = map[string]struct{}{
	".so":     {},
	".bundle": {},
	".dll":    {},
	".dylib":  {},
	".pyd":    {},
}

// stateDirName is the orchestrator's own directory inside the build directory.
const stateDirName = "jitload"

func isNativeLibrary(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := nativeLibraryExtensions[ext]
	return ok
}

// nativeSuffix is the file extension of shared libraries on this platform.
func nativeSuffix() string {
	switch runtime.GOOS {
	case platformWindows:
		return ".dll"
	case platformDarwin:
		return ".dylib"
	default:
		return ".so"
	}
}

// moduleBase returns the last component of a dotted module name; that is the
// file name the artifact carries.
func moduleBase(module string) string {
	if i := strings.LastIndexByte(module, '.'); i >= 0 {
		return module[i+1:]
	}
	return module
}

func stateDir(buildDir string) string {
	return filepath.Join(buildDir, stateDirName)
}

// locationFile is where a project may record the artifact path for bt.
func locationFile(buildDir string, bt BuildType) string {
	return filepath.Join(stateDir(buildDir), string(bt), "location.txt")
}

func descriptorExists(projectDir, descriptor string) bool {
	info, err := os.Stat(filepath.Join(projectDir, descriptor))
	return err == nil && !info.IsDir()
}

// artifactMatches reports whether filename is a native library for module.
//
// Accepted forms are <name><ext>, lib<name><ext> and <name>.<tag><ext> where
// tag is a platform or ABI tag (e.g., "cpython-312-x86_64-linux-gnu").
func artifactMatches(filename, name string) bool {
	if !isNativeLibrary(filename) {
		return false
	}
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	for _, want := range []string{name, "lib" + name} {
		if stem == want || strings.HasPrefix(stem, want+".") {
			return true
		}
	}
	return false
}

// findArtifact searches dirs (relative to buildDir) in order and returns the
// first native library named after module.
func findArtifact(buildDir string, dirs []string, module string) (string, error) {
	name := moduleBase(module)
	for _, dir := range dirs {
		full := filepath.Join(buildDir, dir)
		entries, err := os.ReadDir(full)
		if err != nil {
			continue
		}
		var candidates []string
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if artifactMatches(entry.Name(), name) {
				candidates = append(candidates, filepath.Join(full, entry.Name()))
			}
		}
		if len(candidates) > 0 {
			sort.Strings(candidates)
			return candidates[0], nil
		}
	}
	return "", fmt.Errorf("no compiled extension named %q found in %s", name, buildDir)
}

func copyFile(srcPath, destPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return err
	}

	if mkErr := os.MkdirAll(filepath.Dir(destPath), 0o755); mkErr != nil {
		return mkErr
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

// writeFileAtomic replaces path with data: write to a temp file in the same
// directory, fsync, rename.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""

	// Persist the rename itself; not supported on every platform.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
