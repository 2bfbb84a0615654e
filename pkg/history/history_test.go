package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cncworks/shadow/pkg/slot"
	"github.com/stretchr/testify/require"
)

func TestListOnEmptyLogIsEmpty(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "history.json"), 10)
	entries, err := l.List()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestAppendThenListIsNewestFirst(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "history.json"), 10)

	e1 := NewEntry()
	e1.RunID = 1
	e1.Trigger = "watch"
	e1.Result = "ok"
	e1.StartedAt = time.Unix(100, 0)

	e2 := NewEntry()
	e2.RunID = 2
	e2.Trigger = "manual"
	e2.Result = "ok"
	e2.StartedAt = time.Unix(200, 0)

	require.NoError(t, l.Append(e1))
	require.NoError(t, l.Append(e2))

	entries, err := l.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(2), entries[0].RunID, "newest entry first")
	require.Equal(t, int64(1), entries[1].RunID)
}

func TestAppendTrimsToLimit(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "history.json"), 2)

	for i := int64(1); i <= 5; i++ {
		e := NewEntry()
		e.RunID = i
		require.NoError(t, l.Append(e))
	}

	entries, err := l.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(5), entries[0].RunID)
	require.Equal(t, int64(4), entries[1].RunID)
}

func TestAppendPersistsSlotFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	l := New(path, 10)

	e := NewEntry()
	e.ActiveSlotBefore = slot.A
	e.RebuildSlot = slot.B
	e.ActiveSlotAfter = slot.B
	require.NoError(t, l.Append(e))

	reopened := New(path, 10)
	entries, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, slot.A, entries[0].ActiveSlotBefore)
	require.Equal(t, slot.B, entries[0].ActiveSlotAfter)
}

func TestZeroLimitTreatedAsOne(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "history.json"), 0)
	require.NoError(t, l.Append(NewEntry()))
	require.NoError(t, l.Append(NewEntry()))

	entries, err := l.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
