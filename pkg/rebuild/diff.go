package rebuild

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DiffEntry describes one file that differs between the master directory
// and a mounted slot image, in rsync itemize-changes spirit: what changed
// and where.
type DiffEntry struct {
	Path   string
	Change string // "added", "removed", "modified"
}

// DryRunDiff walks master and targetDir and reports the files that would
// change if targetDir were replaced with master's contents. Files are
// compared by relative path and size only: a file whose content changed
// but whose size did not is not reported, and modification times are not
// compared. This
// supplements original_source/shadow/rebuild_engine.py's dry_run_diff,
// which shelled out to `rsync --dry-run`; a pure-Go walk avoids adding a
// new external binary dependency for what is otherwise a read-only
// comparison, and runs equally well against a mounted slot image as a
// plain directory.
func (e *Engine) DryRunDiff(targetDir string) ([]DiffEntry, error) {
	masterFiles, err := relativeFileSizes(e.cfg.MasterDir)
	if err != nil {
		return nil, newError("could not walk master directory", err)
	}
	targetFiles, err := relativeFileSizes(targetDir)
	if err != nil {
		return nil, newError("could not walk target directory", err)
	}

	var diffs []DiffEntry
	for rel, size := range masterFiles {
		if targetSize, ok := targetFiles[rel]; !ok {
			diffs = append(diffs, DiffEntry{Path: rel, Change: "added"})
		} else if targetSize != size {
			diffs = append(diffs, DiffEntry{Path: rel, Change: "modified"})
		}
	}
	for rel := range targetFiles {
		if _, ok := masterFiles[rel]; !ok {
			diffs = append(diffs, DiffEntry{Path: rel, Change: "removed"})
		}
	}
	return diffs, nil
}

func relativeFileSizes(root string) (map[string]int64, error) {
	sizes := make(map[string]int64)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", path, err)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sizes[rel] = info.Size()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sizes, nil
}
