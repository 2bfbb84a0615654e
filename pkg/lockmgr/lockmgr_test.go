package lockmgr

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadow.lock")
	m := New(path)

	acquired, err := m.Acquire(false)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, m.Release())
}

func TestAcquireIsIdempotentForSameManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadow.lock")
	m := New(path)

	acquired, err := m.Acquire(false)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = m.Acquire(false)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, m.Release())
}

func TestSecondManagerFailsNonBlockingAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadow.lock")
	first := New(path)
	second := New(path)

	acquired, err := first.Acquire(false)
	require.NoError(t, err)
	require.True(t, acquired)
	defer first.Release()

	acquired, err = second.Acquire(false)
	require.NoError(t, err)
	require.False(t, acquired)
}

func TestReleaseThenReacquireSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadow.lock")
	first := New(path)
	second := New(path)

	acquired, err := first.Acquire(false)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, first.Release())

	acquired, err = second.Acquire(false)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, second.Release())
}

func TestHoldRunsFnOnlyWhenAcquired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadow.lock")
	first := New(path)
	second := New(path)

	acquired, err := first.Acquire(false)
	require.NoError(t, err)
	require.True(t, acquired)
	defer first.Release()

	ran := false
	held, err := second.Hold(false, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, held)
	require.False(t, ran)
}

func TestHoldReleasesAfterFn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadow.lock")
	m := New(path)

	held, err := m.Hold(false, func() error { return nil })
	require.NoError(t, err)
	require.True(t, held)

	other := New(path)
	acquired, err := other.Acquire(false)
	require.NoError(t, err)
	require.True(t, acquired, "lock must be released after Hold returns")
	require.NoError(t, other.Release())
}

func TestReleaseUnheldIsNoop(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "shadow.lock"))
	require.NoError(t, m.Release())
}
