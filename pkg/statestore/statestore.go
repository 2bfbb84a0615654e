// Package statestore persists SHADOW's FSM state as JSON, validating the
// invariants shadow_state.json must hold between rebuild cycles. It is
// the Go realization of spec.md §4.2 (State Store).
package statestore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cncworks/shadow/pkg/atomicfile"
	"github.com/cncworks/shadow/pkg/slot"
)

// FSMState is one of the states in spec.md §3's state machine.
type FSMState string

const (
	Idle           FSMState = "IDLE"
	ChangeDetected FSMState = "CHANGE_DETECTED"
	BuildSlotA     FSMState = "BUILD_SLOT_A"
	BuildSlotB     FSMState = "BUILD_SLOT_B"
	ExportStop     FSMState = "EXPORT_STOP"
	ExportStart    FSMState = "EXPORT_START"
	Ready          FSMState = "READY"
	Error          FSMState = "ERROR"
)

// ErrorInfo carries the last classified failure, if any.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// State is the full persisted shape of shadow_state.json. RebuildSlot is
// empty outside a rebuild cycle (IDLE/READY), matching
// ShadowState.rebuild_slot's Optional[str] = None in the original.
type State struct {
	FSMState       FSMState   `json:"fsm_state"`
	ActiveSlot     slot.Slot  `json:"active_slot"`
	RebuildSlot    slot.Slot  `json:"rebuild_slot,omitempty"`
	RunID          int64      `json:"run_id"`
	RebuildCounter int64      `json:"rebuild_counter"`
	LastError      *ErrorInfo `json:"last_error,omitempty"`
}

// Validate checks the invariants original_source/shadow/state_store.py
// enforces in ShadowState.__post_init__: fsm_state is one of the known
// values, active_slot is valid, rebuild_slot is valid or empty (empty
// meaning "no rebuild in flight"), and rebuild_counter tracks run_id.
func (s State) Validate() error {
	switch s.FSMState {
	case Idle, ChangeDetected, BuildSlotA, BuildSlotB, ExportStop, ExportStart, Ready, Error:
	default:
		return fmt.Errorf("statestore: invalid fsm_state %q", s.FSMState)
	}
	if !s.ActiveSlot.Valid() {
		return fmt.Errorf("statestore: invalid active_slot %q", s.ActiveSlot)
	}
	if s.RebuildSlot != "" && !s.RebuildSlot.Valid() {
		return fmt.Errorf("statestore: invalid rebuild_slot %q", s.RebuildSlot)
	}
	if s.RebuildCounter != s.RunID {
		return fmt.Errorf("statestore: rebuild_counter (%d) must equal run_id (%d)", s.RebuildCounter, s.RunID)
	}
	return nil
}

// Store loads and persists State at a fixed path.
type Store struct {
	path string
}

// New constructs a Store bound to path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads and validates the state file. It returns an error if the
// file is missing, malformed, or fails Validate.
func (st *Store) Load() (State, error) {
	var s State
	data, err := os.ReadFile(st.path)
	if err != nil {
		return s, fmt.Errorf("statestore: read %s: %w", st.path, err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("statestore: decode %s: %w", st.path, err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// LoadOrInitialize loads the state file if present and valid; otherwise it
// builds a fresh IDLE state from the given active slot, persists it, and
// returns it. This mirrors StateStore.load_or_initialize: a missing,
// corrupt, or invalid state file is not fatal at startup, it is reset.
func (st *Store) LoadOrInitialize(activeSlot slot.Slot) (State, error) {
	if s, err := st.Load(); err == nil {
		return s, nil
	}

	fresh := State{
		FSMState:       Idle,
		ActiveSlot:     activeSlot,
		RunID:          0,
		RebuildCounter: 0,
	}
	if err := st.Save(fresh); err != nil {
		return State{}, err
	}
	return fresh, nil
}

// Save validates and atomically persists s.
func (st *Store) Save(s State) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore: encode state: %w", err)
	}
	data = append(data, '\n')
	return atomicfile.Write(st.path, data, 0o644)
}
