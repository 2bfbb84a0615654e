package sysexec

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// fallbackDirs mirrors rebuild_engine.py's _resolve_binary: when a binary
// is not on PATH (common under a minimal embedded root, or sudo's
// stripped PATH), these system directories are tried in order.
var fallbackDirs = []string{"/usr/sbin", "/sbin", "/usr/bin", "/bin"}

// ResolveBinary locates name via PATH, falling back to the well-known
// system directories a sudo environment or minimal init often omits from
// PATH. It returns an error naming every location tried.
func ResolveBinary(name string) (string, error) {
	if filepath.IsAbs(name) {
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			return name, nil
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	for _, dir := range fallbackDirs {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("sysexec: binary %q not found on PATH or in %v", name, fallbackDirs)
}
