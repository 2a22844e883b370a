package jitload

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// lockPollInterval is how often a busy build lock is retried.
var lockPollInterval = 100 * time.Millisecond

var errLockBusy = errors.New("lock held by another process")

// buildLock is an exclusive advisory lock on <build>/jitload/build.lock,
// shared with other processes building the same directory.
type buildLock struct {
	f *os.File
}

func lockPath(buildDir string) string {
	return filepath.Join(stateDir(buildDir), "build.lock")
}

// acquireBuildLock blocks until the lock is held or ctx is done.
func acquireBuildLock(ctx context.Context, buildDir string) (*buildLock, error) {
	path := lockPath(buildDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating lock directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "opening lock file")
	}

	logger := LoggerFrom(ctx)
	waited := false
	for {
		err := tryLockFile(f)
		if err == nil {
			return &buildLock{f: f}, nil
		}
		if !errors.Is(err, errLockBusy) {
			f.Close()
			return nil, errors.Wrapf(err, "locking %s", path)
		}
		if !waited {
			logger.Info("waiting for build lock", "path", path)
			waited = true
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Release unlocks and closes the lock file. The file itself stays in place.
func (l *buildLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlockErr := unlockFile(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
