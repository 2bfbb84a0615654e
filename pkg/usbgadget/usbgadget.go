// Package usbgadget toggles the g_mass_storage USB gadget module to hand
// the active slot's FAT32 image off to the host CNC machine. It is the
// Go realization of spec.md §4.4 (USB Manager), grounded on
// original_source/shadow/usb_manager.py.
package usbgadget

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cncworks/shadow/pkg/sysexec"
)

// Timeouts bounds how long StopExport/StartExport poll lsmod before
// giving up.
type Timeouts struct {
	StopTimeout  time.Duration
	StartTimeout time.Duration
}

// Config is the subset of pkg/config.Config the USB Manager needs.
type Config struct {
	Timeouts Timeouts
}

// Manager toggles g_mass_storage.
type Manager struct {
	cfg    Config
	runner sysexec.Runner

	// pollInterval is the lsmod poll cadence; overridable in tests so
	// they don't need to wait out real timeouts.
	pollInterval time.Duration

	// now lets tests fast-forward the deadline clock.
	now func() time.Time

	// lastErr records the cause of the most recent StopExport/StartExport
	// failure (including a refused sudo escalation) for classifyError to
	// inspect. A rebuild cycle drives the Manager from a single goroutine,
	// so this needs no synchronization of its own.
	lastErr error
}

// New constructs a Manager. runner is typically *sysexec.ExecRunner in
// production and a *sysexec.Fake in tests.
func New(cfg Config, runner sysexec.Runner) *Manager {
	return &Manager{
		cfg:          cfg,
		runner:       runner,
		pollInterval: 100 * time.Millisecond,
		now:          time.Now,
	}
}

// LastError returns the cause of the most recent StopExport/StartExport
// failure, or nil if the last call succeeded. In particular it reports
// sysexec.ErrSudoRequired when privilege escalation was refused.
func (m *Manager) LastError() error {
	return m.lastErr
}

// StopExport unloads g_mass_storage, escalating through a non-interactive
// sudo helper when not already root, and waits for lsmod to confirm it is
// gone. It returns false (not an error) on any failure, mirroring
// usb_manager.py's bool-returning contract; the caller consults LastError
// to classify a false result.
func (m *Manager) StopExport(ctx context.Context) bool {
	m.lastErr = nil
	result, err := sysexec.RunPrivileged(ctx, m.runner, "modprobe", "-r", "g_mass_storage")
	if err != nil {
		m.lastErr = err
		return false
	}
	if !result.Succeeded() {
		m.lastErr = errors.New("modprobe -r g_mass_storage: " + firstNonEmpty(result.Stderr, result.Stdout, "no details"))
		return false
	}
	ok := m.waitForModuleState(ctx, false, m.cfg.Timeouts.StopTimeout)
	if !ok && m.lastErr == nil {
		m.lastErr = errors.New("g_mass_storage still loaded after stop timeout")
	}
	return ok
}

// StartExport loads g_mass_storage pointed at activeSlotPath (read-only,
// removable), escalating through a non-interactive sudo helper when not
// already root, and waits for lsmod to confirm it is loaded.
func (m *Manager) StartExport(ctx context.Context, activeSlotPath string) bool {
	m.lastErr = nil
	if activeSlotPath == "" {
		m.lastErr = errors.New("no active slot path to export")
		return false
	}
	result, err := sysexec.RunPrivileged(ctx, m.runner, "modprobe", "g_mass_storage", "file="+activeSlotPath, "ro=1", "removable=1")
	if err != nil {
		m.lastErr = err
		return false
	}
	if !result.Succeeded() {
		m.lastErr = errors.New("modprobe g_mass_storage: " + firstNonEmpty(result.Stderr, result.Stdout, "no details"))
		return false
	}
	ok := m.waitForModuleState(ctx, true, m.cfg.Timeouts.StartTimeout)
	if !ok && m.lastErr == nil {
		m.lastErr = errors.New("g_mass_storage not loaded after start timeout")
	}
	return ok
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (m *Manager) waitForModuleState(ctx context.Context, expectLoaded bool, timeout time.Duration) bool {
	if timeout < 0 {
		timeout = 0
	}
	deadline := m.now().Add(timeout)

	for {
		if m.isMassStorageLoaded(ctx) == expectLoaded {
			return true
		}
		if m.now().After(deadline) {
			return m.isMassStorageLoaded(ctx) == expectLoaded
		}
		select {
		case <-ctx.Done():
			return m.isMassStorageLoaded(ctx) == expectLoaded
		case <-time.After(m.pollInterval):
		}
	}
}

func (m *Manager) isMassStorageLoaded(ctx context.Context) bool {
	result, err := sysexec.RunPrivileged(ctx, m.runner, "lsmod")
	if err != nil {
		if errors.Is(err, sysexec.ErrSudoRequired) {
			m.lastErr = err
		}
		return false
	}
	if !result.Succeeded() {
		return false
	}
	for _, line := range strings.Split(result.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == "g_mass_storage" {
			return true
		}
	}
	return false
}
