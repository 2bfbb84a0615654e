package selftest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cncworks/shadow/pkg/sysexec"
	"github.com/stretchr/testify/require"
)

func TestRunSelfTestRollsUpBothSections(t *testing.T) {
	dir := t.TempDir()
	env := baseEnv(t, dir)
	envFile := writeEnvFile(t, dir, env)

	lunFile := filepath.Join(dir, "lun")
	require.NoError(t, os.WriteFile(lunFile, []byte(env["CNC_USB_IMG_A"]+"\n"), 0o644))

	fake := sysexec.NewFake()
	fake.Default = sysexec.Result{ExitCode: 0, Stdout: "Module Size\ng_mass_storage 1\n"}

	result := RunSelfTest(context.Background(), fake, Options{
		EnvFile:        envFile,
		ValidateRoot:   filepath.Join(dir, "validate"),
		RuntimeLUNFile: lunFile,
	})

	require.Equal(t, "OK", result.Status)
	require.Equal(t, 0, result.Critical)
}

func TestRunSelfTestFailsWhenShadowChecksCritical(t *testing.T) {
	dir := t.TempDir()

	fake := sysexec.NewFake()
	fake.Default = sysexec.Result{ExitCode: 0}

	result := RunSelfTest(context.Background(), fake, Options{
		EnvFile:      filepath.Join(dir, "missing.env"),
		ValidateRoot: filepath.Join(dir, "validate"),
	})

	require.Equal(t, "FAILED", result.Status)
	require.Greater(t, result.Critical, 0)
}
