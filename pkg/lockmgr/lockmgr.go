// Package lockmgr provides the single-writer advisory lock that
// serializes rebuild cycles against manual triggers and any concurrent
// daemon instance. It is the Go realization of spec.md §4.6 (Lock
// Manager), grounded on original_source/shadow/lock_manager.py, using
// golang.org/x/sys/unix.Flock in place of Python's fcntl.flock.
package lockmgr

import (
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Manager holds an advisory exclusive lock over a single file.
type Manager struct {
	path string
	file *os.File
}

// New constructs a Manager bound to path. The lock is not taken until
// Acquire is called.
func New(path string) *Manager {
	return &Manager{path: path}
}

// Path returns the lock file currently in use — the configured path, or
// the fallback path if a permission error redirected it there.
func (m *Manager) Path() string {
	return m.path
}

// Acquire takes the exclusive lock. If blocking is false (the normal
// case for a rebuild cycle that must not queue behind another), Acquire
// returns false immediately when the lock is already held elsewhere. If
// the configured lock path is not writable (a common case for an
// unprivileged self-test run), it falls back to the same filename under
// the OS temp directory, mirroring lock_manager.py's behavior.
func (m *Manager) Acquire(blocking bool) (bool, error) {
	if m.file != nil {
		return true, nil
	}

	f, err := openLockFile(m.path)
	if errors.Is(err, os.ErrPermission) {
		fallback := filepath.Join(os.TempDir(), filepath.Base(m.path))
		if fallback == os.TempDir() {
			fallback = filepath.Join(os.TempDir(), "cnc-shadow.lock")
		}
		f, err = openLockFile(fallback)
		if err == nil {
			m.path = fallback
		}
	}
	if err != nil {
		return false, err
	}

	how := unix.LOCK_EX
	if !blocking {
		how |= unix.LOCK_NB
	}

	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return false, nil
		}
		return false, err
	}

	m.file = f
	return true, nil
}

// Release drops the lock, if held. Releasing an unheld lock is a no-op.
func (m *Manager) Release() error {
	if m.file == nil {
		return nil
	}
	err := unix.Flock(int(m.file.Fd()), unix.LOCK_UN)
	closeErr := m.file.Close()
	m.file = nil
	if err != nil {
		return err
	}
	return closeErr
}

// Hold acquires the lock, runs fn if acquisition succeeded, and always
// releases afterward. It returns whether the lock was acquired and any
// error from fn or from acquisition/release.
func (m *Manager) Hold(blocking bool, fn func() error) (acquired bool, err error) {
	acquired, err = m.Acquire(blocking)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		if releaseErr := m.Release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()
	err = fn()
	return true, err
}

func openLockFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
}
