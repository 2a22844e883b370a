package jitload

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Runner executes the build pipeline for a Config.
//
// # Steps
//
//  1. clean: when a clean build is requested or the cached state was
//     discarded, empty the build directory and reset the state
//  2. initialize: create <build>/jitload and a .gitignore
//  3. configure: run the toolchain's configure step if NeedsConfigure
//  4. build: run the toolchain's build step if NeedsBuild, then locate the
//     artifact
//  5. stub-generation: generate stubs if a stubs directory is configured and
//     NeedsStubGeneration
//
// A step that runs first invalidates its own record and every later record,
// and records its success only after it completes. The first fatal error
// ends the run.
//
// # Thread Safety
//
// A Runner is safe for concurrent use. Runs sharing a build directory are
// serialised by a file lock, across processes as well.
type Runner struct {
	logger  *slog.Logger
	console *Console
	runID   func() string
	now     func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the structured logger. Defaults to discarding.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithConsole sets the console receiving progress banners and verbose tool
// output. Defaults to none.
func WithConsole(console *Console) RunnerOption {
	return func(r *Runner) {
		r.console = console
	}
}

// NewRunner creates a Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		logger: discardLogger,
		runID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run is the state of one pipeline execution.
type run struct {
	*Runner
	cfg    *Config
	cache  *StateCache
	result *RunResult
	logger *slog.Logger
	total  int

	configureFP string
}

// Run executes the pipeline for cfg and returns the outcome of every step.
//
// On failure the returned error is an *Error and the result still lists the
// steps that ran.
func (r *Runner) Run(ctx context.Context, cfg *Config) (*RunResult, error) {
	start := r.now()
	result := &RunResult{RunID: r.runID(), Module: cfg.ModuleName()}
	logger := r.logger.With("module", cfg.ModuleName(), "run_id", result.RunID)
	ctx = ContextWithLogger(ctx, logger)

	if cfg.Timeout() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout())
		defer cancel()
	}

	finish := func(err error) (*RunResult, error) {
		result.Duration = r.now().Sub(start)
		if err != nil {
			logger.Error("pipeline failed", "error_code", GetCode(err), "duration", result.Duration)
			return result, err
		}
		logger.Info("pipeline finished", "artifact", result.ArtifactPath, "duration", result.Duration)
		r.console.Finished(result)
		return result, nil
	}

	lock, err := acquireBuildLock(ctx, cfg.BuildDir())
	if err != nil {
		return finish(&Error{Code: ELockFailed, Module: cfg.ModuleName(), Msg: "acquiring build lock", Cause: err})
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("releasing build lock", "error", err)
		}
	}()

	cache, err := OpenStateCache(cfg)
	if err != nil {
		return finish(Wrap(EInternal, "opening build state", err))
	}
	cache.runID = result.RunID
	cache.now = r.now

	steps, err := stepOrder(cfg.StubsDir() != "")
	if err != nil {
		return finish(Wrap(EInternal, "planning steps", err))
	}

	x := &run{Runner: r, cfg: cfg, cache: cache, result: result, logger: logger, total: len(steps)}
	r.console.Module(cfg)
	logger.Info("pipeline started", "build_dir", cfg.BuildDir(), "build_type", cfg.BuildType())

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return finish(&Error{Code: EInternal, Module: cfg.ModuleName(), Step: step, Msg: "run canceled", Cause: err})
		}
		if err := x.step(ctx, i+1, step); err != nil {
			return finish(err)
		}
	}
	return finish(nil)
}

func (x *run) step(ctx context.Context, index int, step Step) error {
	switch step {
	case StepClean:
		return x.clean(index)
	case StepInitialize:
		return x.initialize(index)
	case StepConfigure:
		return x.configure(ctx, index)
	case StepBuild:
		return x.build(ctx, index)
	case StepStubGeneration:
		return x.generateStubs(ctx, index)
	default:
		return Newf(EInternal, "unknown step %q", step)
	}
}

func (x *run) skip(index int, step Step, reason string) {
	x.logger.Debug("step skipped", "step", step, "reason", reason)
	x.result.record(step, StatusSkipped, 0, "")
	x.console.StepFinished(index, x.total, step, StatusSkipped, 0)
}

// begin announces step and invalidates its record before anything runs.
func (x *run) begin(index int, step Step, reason string) error {
	x.logger.Info("step started", "step", step, "reason", reason)
	x.console.StepStarted(index, x.total, step)
	if err := x.cache.Invalidate(step); err != nil {
		return &Error{Code: EInternal, Module: x.cfg.ModuleName(), Step: step, Msg: "invalidating build state", Cause: err}
	}
	return nil
}

// capture runs fn with a stream that records all output, echoing it to the
// console when verbose.
func (x *run) capture(fn func(Stream) error) (string, time.Duration, error) {
	var buf bytes.Buffer
	stream := Stream{Output: &buf}
	if x.cfg.Verbose() {
		stream.Output = io.MultiWriter(&buf, x.console.Writer())
		stream.Terminal = x.console.Terminal()
	}

	start := x.now()
	err := fn(stream)
	return buf.String(), x.now().Sub(start), err
}

func (x *run) succeeded(index int, step Step, d time.Duration, log string) {
	x.logger.Info("step finished", "step", step, "duration", d)
	x.result.record(step, StatusSucceeded, d, log)
	x.console.StepFinished(index, x.total, step, StatusSucceeded, d)
}

func (x *run) failed(index int, step Step, d time.Duration, log string, cause error) error {
	x.result.record(step, StatusFailed, d, log)
	x.console.StepFinished(index, x.total, step, StatusFailed, d)
	return stepError(x.cfg.ModuleName(), step, log, cause)
}

func (x *run) clean(index int) error {
	stale, reason := x.cache.Stale()
	if !stale {
		x.skip(index, StepClean, "state is current")
		return nil
	}

	x.logger.Info("step started", "step", StepClean, "reason", reason)
	x.console.StepStarted(index, x.total, StepClean)
	start := x.now()
	if err := cleanBuildDir(x.cfg.BuildDir()); err != nil {
		return x.failed(index, StepClean, x.now().Sub(start), "", err)
	}
	if err := x.cache.Reset(); err != nil {
		return x.failed(index, StepClean, x.now().Sub(start), "", err)
	}
	x.succeeded(index, StepClean, x.now().Sub(start), "")
	return nil
}

func (x *run) initialize(index int) error {
	start := x.now()
	if err := initializeBuildDir(x.cfg.BuildDir()); err != nil {
		return x.failed(index, StepInitialize, x.now().Sub(start), "", err)
	}
	x.logger.Debug("build directory initialized", "path", x.cfg.BuildDir())
	x.result.record(StepInitialize, StatusSucceeded, x.now().Sub(start), "")
	x.console.StepFinished(index, x.total, StepInitialize, StatusSucceeded, x.now().Sub(start))
	return nil
}

func (x *run) configure(ctx context.Context, index int) error {
	chk, err := x.cache.configureCheck()
	if err != nil {
		return x.failed(index, StepConfigure, 0, "", err)
	}
	x.configureFP = chk.fingerprint
	if !chk.needed {
		x.skip(index, StepConfigure, chk.reason)
		return nil
	}

	if err := x.begin(index, StepConfigure, chk.reason); err != nil {
		return err
	}
	log, d, err := x.capture(func(s Stream) error {
		return x.cfg.Toolchain().Configure(ctx, &ConfigureRequest{
			Module:     x.cfg.ModuleName(),
			ProjectDir: x.cfg.ProjectDir(),
			BuildDir:   x.cfg.BuildDir(),
			BuildType:  x.cfg.BuildType(),
			Options:    x.cfg.CMakeOptions(),
			Stream:     s,
		})
	})
	if err != nil {
		return x.failed(index, StepConfigure, d, log, err)
	}
	if err := x.cache.RecordSuccess(StepConfigure, chk.fingerprint); err != nil {
		return Wrap(EInternal, "recording configure", err)
	}
	x.succeeded(index, StepConfigure, d, log)
	return nil
}

func (x *run) build(ctx context.Context, index int) error {
	chk, err := x.cache.buildCheck(x.configureFP)
	if err != nil {
		return x.failed(index, StepBuild, 0, "", err)
	}
	if !chk.needed {
		x.result.ArtifactPath = x.cache.ArtifactPath()
		x.skip(index, StepBuild, chk.reason)
		return nil
	}

	var artifact string
	if err := x.begin(index, StepBuild, chk.reason); err != nil {
		return err
	}
	log, d, err := x.capture(func(s Stream) error {
		err := x.cfg.Toolchain().Build(ctx, &BuildRequest{
			Module:     x.cfg.ModuleName(),
			ProjectDir: x.cfg.ProjectDir(),
			BuildDir:   x.cfg.BuildDir(),
			BuildType:  x.cfg.BuildType(),
			Stream:     s,
		})
		if err != nil {
			return err
		}
		artifact, err = x.cfg.Toolchain().LocateArtifact(x.cfg.ModuleName(), x.cfg.BuildDir(), x.cfg.BuildType())
		return errors.Wrap(err, "locating artifact")
	})
	if err != nil {
		return x.failed(index, StepBuild, d, log, err)
	}
	if err := x.cache.recordBuild(chk.fingerprint, artifact); err != nil {
		return Wrap(EInternal, "recording build", err)
	}
	x.result.ArtifactPath = artifact
	x.succeeded(index, StepBuild, d, log)
	return nil
}

func (x *run) generateStubs(ctx context.Context, index int) error {
	artifact := x.result.ArtifactPath
	chk, err := x.cache.stubCheck(artifact)
	if err != nil {
		return x.failed(index, StepStubGeneration, 0, "", err)
	}
	if !chk.needed {
		x.skip(index, StepStubGeneration, chk.reason)
		return nil
	}

	if err := x.begin(index, StepStubGeneration, chk.reason); err != nil {
		return err
	}
	log, d, err := x.capture(func(s Stream) error {
		return x.cfg.StubGenerator().GenerateStubs(ctx, &StubRequest{
			Module:        x.cfg.ModuleName(),
			ArtifactPath:  artifact,
			StubsDir:      x.cfg.StubsDir(),
			IgnoreInvalid: x.cfg.StubsInvalidOK(),
			Stream:        s,
		})
	})
	if err != nil {
		if !x.cfg.StubsInvalidOK() {
			return x.failed(index, StepStubGeneration, d, log, err)
		}
		// The record stays invalidated so the next run tries again.
		warning := "stub generation failed, continuing without valid stubs: " + err.Error()
		x.logger.Warn("stub generation failed", "error", err, "duration", d)
		x.result.record(StepStubGeneration, StatusTolerated, d, log)
		x.result.Warnings = append(x.result.Warnings, warning)
		x.console.StepFinished(index, x.total, StepStubGeneration, StatusTolerated, d)
		x.console.Warn("%s", warning)
		return nil
	}
	if err := x.cache.RecordSuccess(StepStubGeneration, chk.fingerprint); err != nil {
		return Wrap(EInternal, "recording stub generation", err)
	}
	x.succeeded(index, StepStubGeneration, d, log)
	return nil
}

// Plan reports the decisions a run of cfg would make. It reads the state
// without taking the build lock and runs no tools.
func (r *Runner) Plan(ctx context.Context, cfg *Config) (*Plan, error) {
	cache, err := OpenStateCache(cfg)
	if err != nil {
		return nil, Wrap(EInternal, "opening build state", err)
	}
	plan := &Plan{Module: cfg.ModuleName(), ArtifactPath: cache.ArtifactPath()}
	plan.Stale, plan.StaleReason = cache.Stale()

	if plan.NeedsConfigure, err = cache.NeedsConfigure(); err != nil {
		return nil, stepError(cfg.ModuleName(), StepConfigure, "", err)
	}
	if plan.NeedsBuild, err = cache.NeedsBuild(); err != nil {
		return nil, stepError(cfg.ModuleName(), StepBuild, "", err)
	}
	if plan.NeedsStubGeneration, err = cache.NeedsStubGeneration(); err != nil {
		return nil, stepError(cfg.ModuleName(), StepStubGeneration, "", err)
	}
	LoggerFrom(ctx).Debug("plan computed", "module", cfg.ModuleName(), "up_to_date", plan.UpToDate())
	return plan, nil
}

// Clean empties the build directory of cfg and resets its state.
func (r *Runner) Clean(ctx context.Context, cfg *Config) error {
	lock, err := acquireBuildLock(ctx, cfg.BuildDir())
	if err != nil {
		return &Error{Code: ELockFailed, Module: cfg.ModuleName(), Msg: "acquiring build lock", Cause: err}
	}
	defer lock.Release()

	if err := cleanBuildDir(cfg.BuildDir()); err != nil {
		return &Error{Code: EInternal, Module: cfg.ModuleName(), Step: StepClean, Msg: "cleaning build directory", Cause: err}
	}
	r.logger.Info("build directory cleaned", "module", cfg.ModuleName(), "path", cfg.BuildDir())
	return nil
}

// cleanBuildDir removes everything in buildDir except the lock file.
func cleanBuildDir(buildDir string) error {
	entries, err := os.ReadDir(buildDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(buildDir, entry.Name())
		if entry.Name() == stateDirName && entry.IsDir() {
			if err := cleanStateDir(path); err != nil {
				return err
			}
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}
	return nil
}

func cleanStateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	lock := filepath.Base(lockPath(filepath.Dir(dir)))
	for _, entry := range entries {
		if entry.Name() == lock {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// initializeBuildDir creates the state directory and a .gitignore that keeps
// the build directory out of version control.
func initializeBuildDir(buildDir string) error {
	if err := os.MkdirAll(stateDir(buildDir), 0o755); err != nil {
		return errors.Wrap(err, "creating build directory")
	}
	gitignore := filepath.Join(buildDir, ".gitignore")
	if _, err := os.Stat(gitignore); err == nil {
		return nil
	}
	return errors.Wrap(os.WriteFile(gitignore, []byte("*\n"), 0o644), "writing .gitignore")
}
