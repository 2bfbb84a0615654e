package shadow

import (
	"errors"
	"strings"

	"github.com/cncworks/shadow/pkg/rebuild"
	"github.com/cncworks/shadow/pkg/sysexec"
)

// Error codes from spec.md's closed taxonomy.
const (
	ErrMissingDependency = "ERR_MISSING_DEPENDENCY"
	ErrRebuildTimeout    = "ERR_REBUILD_TIMEOUT"
	ErrLockConflict      = "ERR_LOCK_CONFLICT"
	ErrUSBStopTimeout    = "ERR_USB_STOP_TIMEOUT"
	ErrUSBStartTimeout   = "ERR_USB_START_TIMEOUT"
	ErrFATInvalid        = "ERR_FAT_INVALID"
	ErrMissingSudo       = "ERR_MISSING_SUDO"
)

// usbStopError and usbStartError distinguish the two USB-toggle failure
// points so classifyError need not parse messages to tell them apart —
// the Python original did (matching "zatrzymac"/"uruchomic" substrings),
// but explicit sentinel errors are the idiomatic Go way to do the same
// dispatch original_source/shadow/shadow_manager.py does by message text.
var (
	errUSBStopFailed  = errors.New("usb export stop failed")
	errUSBStartFailed = errors.New("usb export start failed")
)

// usbFailure joins a USB-toggle sentinel with the Manager's last
// underlying cause (if any) so classifyError can tell a refused sudo
// escalation apart from a plain stop/start timeout without losing which
// direction failed.
func usbFailure(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return errors.Join(sentinel, cause)
}

// classifyError maps a rebuild-cycle failure to one of the closed error
// codes, mirroring ShadowManager._map_error_code. A *rebuild.Error is
// always ERR_REBUILD_TIMEOUT (the rebuild engine has no finer-grained
// taxonomy of its own); a refused sudo escalation is ERR_MISSING_SUDO;
// the USB sentinels above get their own codes; any other error whose
// message contains "lock" is ERR_LOCK_CONFLICT, kept for parity with the
// original's fallback matching; everything else defaults to
// ERR_REBUILD_TIMEOUT.
func classifyError(err error) string {
	var rebuildErr *rebuild.Error
	if errors.As(err, &rebuildErr) {
		return ErrRebuildTimeout
	}
	if errors.Is(err, sysexec.ErrSudoRequired) {
		return ErrMissingSudo
	}
	if errors.Is(err, errUSBStopFailed) {
		return ErrUSBStopTimeout
	}
	if errors.Is(err, errUSBStartFailed) {
		return ErrUSBStartTimeout
	}
	if strings.Contains(strings.ToLower(err.Error()), "lock") {
		return ErrLockConflict
	}
	return ErrRebuildTimeout
}
