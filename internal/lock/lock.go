// Package lock guards against overlapping pipeline runs.
//
// A run holds an exclusive lock for its full duration so a scheduler
// catch-up trigger or a manual invocation can never interleave with a
// still-running prior run. Two implementations exist: a pidfile lock for
// the default single-machine setup, and a Postgres advisory lock when a
// history database is configured.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrHeld is returned when another run already holds the lock.
var ErrHeld = errors.New("lock: held by another run")

// RunLock is acquired at run start and released on every exit path.
type RunLock interface {
	Acquire() error
	Release() error
}

// FileLock is a pidfile-based exclusive lock. Creation with O_EXCL is the
// atomicity primitive; a lock file whose owner process is gone is treated
// as stale and taken over.
type FileLock struct {
	path string
}

// NewFileLock creates a FileLock at path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Acquire creates the lock file, writing this process's pid into it.
// Returns ErrHeld if a live process already owns the lock.
func (l *FileLock) Acquire() error {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create lock dir: %w", err)
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(l.path)
				return fmt.Errorf("write lock file: %w", errors.Join(werr, cerr))
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lock file: %w", err)
		}

		pid, perr := l.ownerPID()
		if perr == nil && processAlive(pid) {
			return fmt.Errorf("%w (pid %d)", ErrHeld, pid)
		}
		// Stale or unreadable lock file: remove and retry once.
		if rerr := os.Remove(l.path); rerr != nil && !os.IsNotExist(rerr) {
			return fmt.Errorf("remove stale lock: %w", rerr)
		}
	}
	return ErrHeld
}

// Release removes the lock file. Releasing an unheld lock is not an error.
func (l *FileLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

func (l *FileLock) ownerPID() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive reports whether a process with the given pid exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
