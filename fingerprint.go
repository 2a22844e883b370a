package jitload

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// FingerprintSchema versions the fingerprint inputs. Records written under a
// different schema are never compared, they are discarded.
const FingerprintSchema = 1

var fingerprintPrefix = "v" + strconv.Itoa(FingerprintSchema) + ":"

// skippedDirs never contribute to the source tree hash.
var skippedDirs = map[string]struct{}{
	".git":        {},
	".hg":         {},
	".svn":        {},
	"__pycache__": {},
	".jitload":    {},
}

// fingerprinter accumulates length-prefixed fields into a blake2b-256 hash.
type fingerprinter struct {
	h hash.Hash
}

func newFingerprinter(kind string) *fingerprinter {
	h, _ := blake2b.New256(nil) // only fails for oversized keys
	f := &fingerprinter{h: h}
	f.field("schema", strconv.Itoa(FingerprintSchema))
	f.field("kind", kind)
	return f
}

func (f *fingerprinter) field(name, value string) {
	f.bytes([]byte(name))
	f.bytes([]byte(value))
}

func (f *fingerprinter) bytes(b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	f.h.Write(n[:])
	f.h.Write(b)
}

func (f *fingerprinter) sum() string {
	return fingerprintPrefix + hex.EncodeToString(f.h.Sum(nil))
}

// configureFingerprint covers everything the configure step reads: the
// toolchain binaries, the build descriptor, the build type, the options and
// the directories.
func configureFingerprint(cfg *Config) (string, error) {
	toolchain := cfg.Toolchain()
	identity, err := toolchain.Identity()
	if err != nil {
		return "", err
	}
	descriptor, err := os.ReadFile(filepath.Join(cfg.ProjectDir(), toolchain.Descriptor()))
	if err != nil {
		return "", errors.Wrap(err, "reading build descriptor")
	}

	f := newFingerprinter(string(StepConfigure))
	f.field("toolchain", toolchain.Name())
	f.field("identity", identity)
	f.field("descriptor", string(descriptor))
	f.field("build_type", string(cfg.BuildType()))
	f.field("module", cfg.ModuleName())
	f.field("project_dir", cfg.ProjectDir())
	f.field("build_dir", cfg.BuildDir())
	for _, opt := range cfg.CMakeOptions() {
		f.field("option", opt.Name+"="+opt.Value)
	}
	if lt, ok := toolchain.(LockfileToolchain); ok {
		path, locked := lt.Lockfile(cfg.ProjectDir(), cfg.BuildDir())
		f.field("locked", strconv.FormatBool(locked))
		if locked {
			sum, err := fileHash(path)
			if err != nil {
				return "", err
			}
			f.field("lockfile", sum)
		}
	}
	return f.sum(), nil
}

// buildFingerprint extends the configure fingerprint with a content hash of
// the source tree.
func buildFingerprint(cfg *Config, configureFP string) (string, error) {
	exclude := []string{cfg.BuildDir(), cfg.StubsDir()}
	if lt, ok := cfg.Toolchain().(LockfileToolchain); ok {
		path, _ := lt.Lockfile(cfg.ProjectDir(), cfg.BuildDir())
		exclude = append(exclude, path)
	}
	tree, err := treeHash(cfg.ProjectDir(), exclude...)
	if err != nil {
		return "", err
	}
	f := newFingerprinter(string(StepBuild))
	f.field("configure", configureFP)
	f.field("tree", tree)
	return f.sum(), nil
}

// stubFingerprint depends on the artifact content and the generator.
func stubFingerprint(cfg *Config, artifactPath string) (string, error) {
	artifact, err := fileHash(artifactPath)
	if err != nil {
		return "", err
	}
	f := newFingerprinter(string(StepStubGeneration))
	f.field("artifact", artifact)
	f.field("generator", cfg.StubGenerator().Name())
	f.field("stubs_dir", cfg.StubsDir())
	return f.sum(), nil
}

// treeHash walks root in lexical order and hashes every regular file's
// relative path, permission bits and content, and every symlink's target.
// Directories in skippedDirs and the excluded paths are not descended into;
// excluded files are left out.
func treeHash(root string, exclude ...string) (string, error) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, path := range exclude {
		if path != "" {
			excluded[filepath.Clean(path)] = struct{}{}
		}
	}

	f := newFingerprinter("tree")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := skippedDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			if _, skip := excluded[path]; skip {
				return filepath.SkipDir
			}
			return nil
		}

		if _, skip := excluded[path]; skip {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			f.field("symlink:"+rel, target)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			f.field("file:"+rel, strconv.FormatUint(uint64(info.Mode().Perm()), 8))
			if err := f.file(path, info.Size()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "hashing source tree %s", root)
	}
	return f.sum(), nil
}

// file streams a file's content into the hash, length-prefixed by size.
func (f *fingerprinter) file(path string, size int64) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(size))
	f.h.Write(n[:])
	written, err := io.Copy(f.h, in)
	if err != nil {
		return err
	}
	if written != size {
		return errors.Errorf("%s changed while hashing", path)
	}
	return nil
}

// fileHash is the content hash of a single file.
func fileHash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	f := newFingerprinter("file")
	if err := f.file(path, info.Size()); err != nil {
		return "", err
	}
	return f.sum(), nil
}
