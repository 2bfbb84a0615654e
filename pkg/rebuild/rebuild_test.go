package rebuild

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cncworks/shadow/pkg/sysexec"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, Config, *sysexec.Fake) {
	dir := t.TempDir()
	master := filepath.Join(dir, "master")
	require.NoError(t, os.MkdirAll(master, 0o755))

	cfg := Config{MasterDir: master, SlotSizeMB: 256, TmpSuffix: ".tmp", Label: "CNC_USB"}
	fake := sysexec.NewFake()
	engine, err := New(cfg, fake)
	require.NoError(t, err)
	return engine, cfg, fake
}

func TestNewRejectsOverlongLabel(t *testing.T) {
	cfg := Config{MasterDir: t.TempDir(), SlotSizeMB: 256, TmpSuffix: ".tmp", Label: "WAY_TOO_LONG_LABEL"}
	_, err := New(cfg, sysexec.NewFake())
	require.Error(t, err)
}

func TestFullRebuildMissingMasterDirFails(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{MasterDir: filepath.Join(dir, "nope"), SlotSizeMB: 256, TmpSuffix: ".tmp", Label: "CNC_USB"}
	engine, err := New(cfg, sysexec.NewFake())
	require.NoError(t, err)

	err = engine.FullRebuild(context.Background(), filepath.Join(dir, "slot_b.img"))
	require.Error(t, err)
}

func TestFullRebuildEmptyMasterSkipsCopyAndPromotes(t *testing.T) {
	engine, _, fake := newTestEngine(t)
	dir := t.TempDir()
	slotPath := filepath.Join(dir, "slot_b.img")

	require.NoError(t, engine.FullRebuild(context.Background(), slotPath))

	_, err := os.Stat(slotPath)
	require.NoError(t, err, "promoted image should exist")
	_, err = os.Stat(slotPath + ".tmp")
	require.True(t, os.IsNotExist(err), "temp file should be gone")

	require.Len(t, fake.Calls, 2, "truncate and mkfs.vfat only, no mcopy for empty master")
}

func TestFullRebuildWithContentRunsMcopy(t *testing.T) {
	engine, cfg, fake := newTestEngine(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.MasterDir, "part.ngc"), []byte("G01"), 0o644))

	dir := t.TempDir()
	slotPath := filepath.Join(dir, "slot_b.img")

	require.NoError(t, engine.FullRebuild(context.Background(), slotPath))
	require.Len(t, fake.Calls, 3, "truncate, mkfs.vfat, mcopy")
}

func TestFullRebuildCleansUpTmpOnCommandFailure(t *testing.T) {
	dir := t.TempDir()
	master := filepath.Join(dir, "master")
	require.NoError(t, os.MkdirAll(master, 0o755))
	cfg := Config{MasterDir: master, SlotSizeMB: 256, TmpSuffix: ".tmp", Label: "CNC_USB"}

	fake := sysexec.NewFake()
	fake.Results = []sysexec.Result{{ExitCode: 1, Stderr: "no space left"}}
	engine, err := New(cfg, fake)
	require.NoError(t, err)

	slotPath := filepath.Join(dir, "slot_b.img")
	err = engine.FullRebuild(context.Background(), slotPath)
	require.Error(t, err)

	_, statErr := os.Stat(slotPath + ".tmp")
	require.True(t, os.IsNotExist(statErr), "tmp artifact must be cleaned up on failure")
}

func TestDryRunDiffReportsAddedModifiedRemoved(t *testing.T) {
	dir := t.TempDir()
	master := filepath.Join(dir, "master")
	target := filepath.Join(dir, "target")
	require.NoError(t, os.MkdirAll(master, 0o755))
	require.NoError(t, os.MkdirAll(target, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(master, "same.ngc"), []byte("G01 X1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(target, "same.ngc"), []byte("G01 X1"), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(master, "new.ngc"), []byte("G01 X2"), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(master, "changed.ngc"), []byte("G01 X3"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(target, "changed.ngc"), []byte("G01 X999"), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(target, "stale.ngc"), []byte("G01 X4"), 0o644))

	cfg := Config{MasterDir: master, SlotSizeMB: 256, TmpSuffix: ".tmp", Label: "CNC_USB"}
	engine, err := New(cfg, sysexec.NewFake())
	require.NoError(t, err)

	diffs, err := engine.DryRunDiff(target)
	require.NoError(t, err)
	require.Len(t, diffs, 3)

	byPath := map[string]string{}
	for _, d := range diffs {
		byPath[d.Path] = d.Change
	}
	require.Equal(t, "added", byPath["new.ngc"])
	require.Equal(t, "modified", byPath["changed.ngc"])
	require.Equal(t, "removed", byPath["stale.ngc"])
}
