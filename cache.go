package jitload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const stateFileName = "state.json"

// StepRecord is the last successful execution of a step.
type StepRecord struct {
	Fingerprint string    `json:"fingerprint"`
	RecordedAt  time.Time `json:"recorded_at"`
	RunID       string    `json:"run_id,omitempty"`
}

// BuildState is the persisted content of <build>/jitload/state.json.
type BuildState struct {
	SchemaVersion int                  `json:"schema_version"`
	Version       string               `json:"version"`
	Module        string               `json:"module"`
	Steps         map[Step]*StepRecord `json:"steps"`
	ArtifactPath  string               `json:"artifact_path,omitempty"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func emptyState(module string) *BuildState {
	return &BuildState{
		SchemaVersion: FingerprintSchema,
		Version:       Version,
		Module:        module,
		Steps:         make(map[Step]*StepRecord),
	}
}

// check is the outcome of one needs-decision.
type check struct {
	needed      bool
	fingerprint string
	reason      string
}

// StateCache decides which steps must run for one Config and records their
// successes.
//
// The state lives in the build directory, so it is shared by every process
// building that directory. Writes replace the whole file atomically, so a
// reader sees either the previous or the new state, never a partial one.
//
// # Thread Safety
//
// A StateCache is not safe for concurrent use. The runner holds the build
// lock while it owns one.
type StateCache struct {
	cfg   *Config
	path  string
	state *BuildState
	runID string

	stale       bool
	staleReason string

	now func() time.Time
}

// OpenStateCache loads the state for cfg.
//
// The loaded state is discarded, and the cache reports itself stale, when the
// file is unreadable or corrupt, was written under another fingerprint
// schema, by an incompatible orchestrator version or for another module, or
// when cfg requests a clean build. A missing file is an empty, fresh cache.
func OpenStateCache(cfg *Config) (*StateCache, error) {
	c := &StateCache{
		cfg:   cfg,
		path:  filepath.Join(stateDir(cfg.BuildDir()), stateFileName),
		state: emptyState(cfg.ModuleName()),
		now:   time.Now,
	}

	data, err := os.ReadFile(c.path)
	switch {
	case os.IsNotExist(err):
		// first run
	case err != nil:
		c.discard(fmt.Sprintf("state unreadable: %v", err))
	default:
		var loaded BuildState
		if err := json.Unmarshal(data, &loaded); err != nil {
			c.discard(fmt.Sprintf("state corrupt: %v", err))
		} else if loaded.SchemaVersion != FingerprintSchema {
			c.discard(fmt.Sprintf("fingerprint schema %d, want %d", loaded.SchemaVersion, FingerprintSchema))
		} else if !compatibleVersion(loaded.Version) {
			c.discard(fmt.Sprintf("written by incompatible version %q", loaded.Version))
		} else if loaded.Module != cfg.ModuleName() {
			c.discard(fmt.Sprintf("build directory belongs to module %q", loaded.Module))
		} else {
			if loaded.Steps == nil {
				loaded.Steps = make(map[Step]*StepRecord)
			}
			c.state = &loaded
		}
	}

	if cfg.CleanBuild() {
		c.discard("clean build requested")
	}
	return c, nil
}

func (c *StateCache) discard(reason string) {
	c.state = emptyState(c.cfg.ModuleName())
	if !c.stale {
		c.stale = true
		c.staleReason = reason
	}
}

// Path returns the state file path.
func (c *StateCache) Path() string {
	return c.path
}

// Stale reports whether previously persisted state was discarded on load,
// and why.
func (c *StateCache) Stale() (bool, string) {
	return c.stale, c.staleReason
}

// State returns a copy of the current state.
func (c *StateCache) State() BuildState {
	s := *c.state
	s.Steps = make(map[Step]*StepRecord, len(c.state.Steps))
	for step, rec := range c.state.Steps {
		r := *rec
		s.Steps[step] = &r
	}
	return s
}

// ArtifactPath returns the artifact recorded by the last successful build.
func (c *StateCache) ArtifactPath() string {
	return c.state.ArtifactPath
}

// NeedsConfigure reports whether the configure step must run: there is no
// record, the configure fingerprint changed, or a clean build was requested.
func (c *StateCache) NeedsConfigure() (bool, error) {
	chk, err := c.configureCheck()
	return chk.needed, err
}

// NeedsBuild reports whether the build step must run: configure must run,
// the sources changed, or the recorded artifact is gone.
func (c *StateCache) NeedsBuild() (bool, error) {
	cfgChk, err := c.configureCheck()
	if err != nil {
		return false, err
	}
	if cfgChk.needed {
		return true, nil
	}
	chk, err := c.buildCheck(cfgChk.fingerprint)
	return chk.needed, err
}

// NeedsStubGeneration reports whether stubs must be generated: a stubs
// directory is configured and there is no record, the recorded artifact
// changed or is unknown, or the stub output is missing.
func (c *StateCache) NeedsStubGeneration() (bool, error) {
	if c.cfg.StubsDir() == "" {
		return false, nil
	}
	artifact := c.state.ArtifactPath
	if artifact == "" || !fileExists(artifact) {
		return true, nil
	}
	chk, err := c.stubCheck(artifact)
	return chk.needed, err
}

func (c *StateCache) configureCheck() (check, error) {
	fp, err := configureFingerprint(c.cfg)
	if err != nil {
		return check{}, err
	}
	return c.compare(StepConfigure, fp), nil
}

func (c *StateCache) buildCheck(configureFP string) (check, error) {
	fp, err := buildFingerprint(c.cfg, configureFP)
	if err != nil {
		return check{}, err
	}
	chk := c.compare(StepBuild, fp)
	if !chk.needed && (c.state.ArtifactPath == "" || !fileExists(c.state.ArtifactPath)) {
		chk.needed = true
		chk.reason = "artifact missing"
	}
	return chk, nil
}

func (c *StateCache) stubCheck(artifact string) (check, error) {
	if c.cfg.StubsDir() == "" {
		return check{reason: "no stubs directory"}, nil
	}
	fp, err := stubFingerprint(c.cfg, artifact)
	if err != nil {
		return check{}, err
	}
	chk := c.compare(StepStubGeneration, fp)
	if !chk.needed && !c.cfg.StubGenerator().StubsExist(c.cfg.StubsDir(), c.cfg.ModuleName()) {
		chk.needed = true
		chk.reason = "stubs missing"
	}
	return chk, nil
}

func (c *StateCache) compare(step Step, fp string) check {
	rec, ok := c.state.Steps[step]
	switch {
	case !ok:
		return check{needed: true, fingerprint: fp, reason: "no record"}
	case rec.Fingerprint != fp:
		return check{needed: true, fingerprint: fp, reason: "fingerprint changed"}
	default:
		return check{fingerprint: fp, reason: "up to date"}
	}
}

// RecordSuccess stores fingerprint as the last success of step and persists
// the state.
func (c *StateCache) RecordSuccess(step Step, fingerprint string) error {
	c.state.Steps[step] = &StepRecord{
		Fingerprint: fingerprint,
		RecordedAt:  c.now().UTC(),
		RunID:       c.runID,
	}
	return c.persist()
}

// recordBuild records a build success together with its artifact.
func (c *StateCache) recordBuild(fingerprint, artifact string) error {
	c.state.ArtifactPath = artifact
	return c.RecordSuccess(StepBuild, fingerprint)
}

// Invalidate removes the record of step and of every step after it, and
// persists the state. The runner calls it before a step starts, so an
// interrupted step never leaves a success record behind.
func (c *StateCache) Invalidate(step Step) error {
	changed := false
	for _, s := range step.downstream() {
		if _, ok := c.state.Steps[s]; ok {
			delete(c.state.Steps, s)
			changed = true
		}
	}
	if step == StepConfigure || step == StepBuild {
		if c.state.ArtifactPath != "" {
			c.state.ArtifactPath = ""
			changed = true
		}
	}
	if !changed && fileExists(c.path) {
		return nil
	}
	return c.persist()
}

// Reset drops every record and persists the empty state.
func (c *StateCache) Reset() error {
	c.state = emptyState(c.cfg.ModuleName())
	return c.persist()
}

func (c *StateCache) persist() error {
	c.state.SchemaVersion = FingerprintSchema
	c.state.Version = Version
	c.state.Module = c.cfg.ModuleName()
	c.state.UpdatedAt = c.now().UTC()

	data, err := json.MarshalIndent(c.state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding build state")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return errors.Wrap(err, "creating state directory")
	}
	if err := writeFileAtomic(c.path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrap(err, "writing build state")
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
