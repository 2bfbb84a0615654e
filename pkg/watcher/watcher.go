// Package watcher monitors the master program directory for changes that
// should trigger a rebuild cycle. It is the Go realization of spec.md
// §4.5 (Watcher Service), grounded on
// original_source/shadow/watcher_service.py's start/stop/poll_event
// contract, but built on fsnotify recursively watching the tree instead
// of shelling out to inotifywait.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is an opaque change notification: SHADOW only needs to know that
// something changed, not parse the kind of change, so the raw
// "path:op" string is carried through unparsed (matching the
// watched_service.py `%w%f:%e` format's role in the original).
type Event string

// Service wraps an fsnotify.Watcher recursively rooted at a directory.
type Service struct {
	dir     string
	watcher *fsnotify.Watcher
}

// New constructs a Service for dir, without starting it yet.
func New(dir string) *Service {
	return &Service{dir: dir}
}

// Start creates the watched directory if missing and begins watching it
// and every subdirectory recursively. Calling Start twice is a no-op.
func (s *Service) Start() error {
	if s.watcher != nil {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("watcher: create watched dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}

	if err := addRecursive(w, s.dir); err != nil {
		w.Close()
		return fmt.Errorf("watcher: watch %s: %w", s.dir, err)
	}

	s.watcher = w
	return nil
}

// Stop closes the underlying watcher. Calling Stop twice, or before
// Start, is a no-op.
func (s *Service) Stop() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}

// PollEvent waits up to timeout for the next filesystem event, returning
// "" if none arrives in time. A newly created directory is added to the
// watch set as it is seen, so the watch stays recursive as the tree
// grows — mirroring inotifywait's -r flag.
func (s *Service) PollEvent(timeout time.Duration) (Event, error) {
	if s.watcher == nil {
		return "", nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev, ok := <-s.watcher.Events:
		if !ok {
			return "", nil
		}
		if ev.Op&fsnotify.Create != 0 {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				_ = s.watcher.Add(ev.Name)
			}
		}
		return Event(ev.Name + ":" + ev.Op.String()), nil
	case err, ok := <-s.watcher.Errors:
		if !ok {
			return "", nil
		}
		return "", fmt.Errorf("watcher: %w", err)
	case <-timer.C:
		return "", nil
	}
}

// WatchedDir returns the root directory being watched.
func (s *Service) WatchedDir() string {
	return s.dir
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
