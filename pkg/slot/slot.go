// Package slot resolves A/B slot identities, owns the active-slot marker
// file, and cleans up stale rebuild temporaries. It is the Go realization
// of spec.md §4.1 (Slot Manager).
package slot

import (
	"fmt"
	"os"
	"strings"

	"github.com/cncworks/shadow/pkg/atomicfile"
)

// Slot is one of the two A/B identities.
type Slot string

const (
	A Slot = "A"
	B Slot = "B"
)

// Valid reports whether s is A or B.
func (s Slot) Valid() bool {
	return s == A || s == B
}

// Other returns the non-s slot; only meaningful when s is valid.
func (s Slot) Other() Slot {
	if s == A {
		return B
	}
	return A
}

// Config is the subset of pkg/config.Config the Slot Manager needs.
type Config struct {
	ImageA         string
	ImageB         string
	ActiveSlotFile string
	InitialSlot    Slot
	TmpSuffix      string
}

// Manager implements spec.md §4.1.
type Manager struct {
	cfg Config
}

// New constructs a Manager from its configuration.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Normalize parses and validates a raw slot string (trimming whitespace,
// uppercasing), returning an error for anything other than "A" or "B".
func Normalize(raw string) (Slot, error) {
	s := Slot(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("slot: invalid slot value %q", raw)
	}
	return s, nil
}

// ReadActiveSlot reads the marker file, normalizing and validating its
// content. If the file is absent, it writes the configured initial slot and
// returns that.
func (m *Manager) ReadActiveSlot() (Slot, error) {
	data, err := os.ReadFile(m.cfg.ActiveSlotFile)
	if err != nil {
		if os.IsNotExist(err) {
			initial := m.cfg.InitialSlot
			if !initial.Valid() {
				initial = A
			}
			if err := m.WriteActiveSlot(initial); err != nil {
				return "", err
			}
			return initial, nil
		}
		return "", fmt.Errorf("slot: read active slot file: %w", err)
	}

	slot, err := Normalize(string(data))
	if err != nil {
		return "", fmt.Errorf("slot: marker file %s: %w", m.cfg.ActiveSlotFile, err)
	}
	return slot, nil
}

// WriteActiveSlot atomically replaces the marker file with slot followed
// by a newline.
func (m *Manager) WriteActiveSlot(s Slot) error {
	if !s.Valid() {
		return fmt.Errorf("slot: cannot write invalid slot %q", s)
	}
	return atomicfile.Write(m.cfg.ActiveSlotFile, []byte(string(s)+"\n"), 0o644)
}

// SlotPath returns the configured image path for s.
func (m *Manager) SlotPath(s Slot) (string, error) {
	switch s {
	case A:
		return m.cfg.ImageA, nil
	case B:
		return m.cfg.ImageB, nil
	default:
		return "", fmt.Errorf("slot: invalid slot %q", s)
	}
}

// RebuildSlotFor returns the non-active slot: the rebuild target.
func (m *Manager) RebuildSlotFor(active Slot) (Slot, error) {
	if !active.Valid() {
		return "", fmt.Errorf("slot: invalid active slot %q", active)
	}
	return active.Other(), nil
}

// CleanupTmpFiles removes any `<image>.<tmp-suffix>` artifacts left over
// from an interrupted rebuild. Missing files are not an error.
func (m *Manager) CleanupTmpFiles() error {
	for _, image := range []string{m.cfg.ImageA, m.cfg.ImageB} {
		tmp := image + m.cfg.TmpSuffix
		if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("slot: cleanup %s: %w", tmp, err)
		}
	}
	return nil
}

// TmpPathFor returns the temporary artifact path for slot s: its image
// path followed by the configured tmp suffix, the same path
// CleanupTmpFiles removes.
func (m *Manager) TmpPathFor(s Slot) (string, error) {
	path, err := m.SlotPath(s)
	if err != nil {
		return "", err
	}
	return path + m.cfg.TmpSuffix, nil
}
