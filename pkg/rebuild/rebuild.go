// Package rebuild builds a FAT32 image from the master program directory
// into the inactive slot, promoting it atomically on success. It is the
// Go realization of spec.md §4.3 (Rebuild Engine), grounded on
// original_source/shadow/rebuild_engine.py.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cncworks/shadow/pkg/sysexec"
)

// Error wraps a rebuild failure. Message is the detail to surface to
// operators and, via classification, to the FSM's last_error field.
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rebuild: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("rebuild: %s", e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(message string, cause error) *Error {
	return &Error{Message: message, Cause: cause}
}

// Config is the subset of pkg/config.Config the Rebuild Engine needs.
type Config struct {
	MasterDir  string
	SlotSizeMB int
	TmpSuffix  string

	// Label is the FAT32 volume label applied by mkfs.vfat. Must be
	// 11 ASCII characters or fewer, per spec.md §4.3/§8.
	Label string
}

// Engine performs full rebuilds and dry-run diffs.
type Engine struct {
	cfg    Config
	runner sysexec.Runner
}

// New constructs an Engine. runner is typically *sysexec.ExecRunner in
// production and a *sysexec.Fake in tests. It rejects a volume label
// over 11 ASCII characters at construction, per spec.md §8.
func New(cfg Config, runner sysexec.Runner) (*Engine, error) {
	if len(cfg.Label) > 11 {
		return nil, fmt.Errorf("rebuild: volume label %q exceeds 11 ASCII characters", cfg.Label)
	}
	return &Engine{cfg: cfg, runner: runner}, nil
}

// FullRebuild truncates (or creates) the rebuild slot's temporary image,
// formats it FAT32, copies the master directory's contents in if any
// exist, fsyncs, and atomically renames it onto rebuildSlotPath. On any
// failure the temporary artifact is removed and an *Error is returned.
func (e *Engine) FullRebuild(ctx context.Context, rebuildSlotPath string) error {
	info, err := os.Stat(e.cfg.MasterDir)
	if err != nil || !info.IsDir() {
		return newError("master directory does not exist", err)
	}

	tmpPath := rebuildSlotPath + e.cfg.TmpSuffix
	e.cleanupTmp(tmpPath)

	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return newError("create temporary image failed", err)
	}
	if err := tmpFile.Close(); err != nil {
		e.cleanupTmp(tmpPath)
		return newError("create temporary image failed", err)
	}

	if err := e.runStep(ctx, tmpPath, "truncate", "truncate image failed", "-s", fmt.Sprintf("%dM", e.cfg.SlotSizeMB), tmpPath); err != nil {
		return err
	}

	if err := e.runStep(ctx, tmpPath, "mkfs.vfat", "format FAT image failed", "-F", "32", "-n", e.cfg.Label, tmpPath); err != nil {
		return err
	}

	hasContent, err := e.masterHasContent()
	if err != nil {
		e.cleanupTmp(tmpPath)
		return newError("could not inspect master directory", err)
	}
	if hasContent {
		if err := e.runStep(ctx, tmpPath, "mcopy", "copy data into FAT image failed", "-s", "-i", tmpPath, e.cfg.MasterDir+"/", "::"); err != nil {
			return err
		}
	}

	if err := fsyncPath(tmpPath); err != nil {
		e.cleanupTmp(tmpPath)
		return newError("fsync of temporary image failed", err)
	}
	dir := filepath.Dir(tmpPath)
	if dir == "" {
		dir = "."
	}
	if err := fsyncPath(dir); err != nil {
		e.cleanupTmp(tmpPath)
		return newError("fsync of slot directory failed", err)
	}

	if err := os.Rename(tmpPath, rebuildSlotPath); err != nil {
		e.cleanupTmp(tmpPath)
		return newError("promote rebuilt image failed", err)
	}

	return nil
}

// runStep resolves binary on PATH (with fallback dirs), runs it, and
// turns both a sysexec error and a non-zero exit into a rebuild *Error,
// cleaning up the temporary artifact either way.
func (e *Engine) runStep(ctx context.Context, tmpPath, binary, failMessage string, args ...string) error {
	resolved, err := sysexec.ResolveBinary(binary)
	if err != nil {
		e.cleanupTmp(tmpPath)
		return newError(failMessage, err)
	}

	result, err := e.runner.Run(ctx, resolved, args...)
	if err != nil {
		e.cleanupTmp(tmpPath)
		return newError(failMessage, err)
	}
	if !result.Succeeded() {
		e.cleanupTmp(tmpPath)
		detail := result.Stderr
		if detail == "" {
			detail = result.Stdout
		}
		if detail == "" {
			detail = "no details"
		}
		return newError(failMessage, errors.New(detail))
	}
	return nil
}

func (e *Engine) cleanupTmp(tmpPath string) {
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		// Best effort: a failed cleanup does not change the outcome the
		// caller already observed, and the next rebuild attempt will retry it.
		_ = err
	}
}

func (e *Engine) masterHasContent() (bool, error) {
	entries, err := os.ReadDir(e.cfg.MasterDir)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

func fsyncPath(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
