package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cncworks/shadow/pkg/slot"
	"github.com/stretchr/testify/require"
)

func validState() State {
	return State{
		FSMState:       Ready,
		ActiveSlot:     slot.A,
		RebuildSlot:    slot.B,
		RunID:          3,
		RebuildCounter: 3,
	}
}

func TestValidateAcceptsConsistentState(t *testing.T) {
	require.NoError(t, validState().Validate())
}

func TestValidateAllowsEmptyRebuildSlot(t *testing.T) {
	s := validState()
	s.FSMState = Ready
	s.RebuildSlot = ""
	require.NoError(t, s.Validate())
}

func TestValidateRejectsGarbageRebuildSlot(t *testing.T) {
	s := validState()
	s.RebuildSlot = slot.Slot("C")
	require.Error(t, s.Validate())
}

func TestValidateRejectsCounterMismatch(t *testing.T) {
	s := validState()
	s.RebuildCounter = 4
	require.Error(t, s.Validate())
}

func TestValidateRejectsUnknownFSMState(t *testing.T) {
	s := validState()
	s.FSMState = FSMState("BOGUS")
	require.Error(t, s.Validate())
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadow_state.json")
	store := New(path)

	want := validState()
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSaveRejectsInvalidState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadow_state.json")
	store := New(path)

	bad := validState()
	bad.RebuildCounter = 99
	require.Error(t, store.Save(bad))
}

func TestLoadOrInitializeMissingFileCreatesIdle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadow_state.json")
	store := New(path)

	s, err := store.LoadOrInitialize(slot.A)
	require.NoError(t, err)
	require.Equal(t, Idle, s.FSMState)
	require.Equal(t, slot.A, s.ActiveSlot)
	require.Equal(t, slot.Slot(""), s.RebuildSlot)
	require.Equal(t, int64(0), s.RunID)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestLoadOrInitializeCorruptFileResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadow_state.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	store := New(path)

	s, err := store.LoadOrInitialize(slot.B)
	require.NoError(t, err)
	require.Equal(t, Idle, s.FSMState)
	require.Equal(t, slot.B, s.ActiveSlot)
}

func TestLoadOrInitializeExistingValidStateIsPreserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadow_state.json")
	store := New(path)
	want := validState()
	require.NoError(t, store.Save(want))

	got, err := store.LoadOrInitialize(slot.A)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
