package sysexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSudoRefusedEscalationRecognizesPasswordPrompt(t *testing.T) {
	require.True(t, sudoRefusedEscalation(Result{ExitCode: 1, Stderr: "sudo: a password is required"}))
	require.True(t, sudoRefusedEscalation(Result{ExitCode: 1, Stderr: "sudo: a terminal is required to read the password"}))
	require.False(t, sudoRefusedEscalation(Result{ExitCode: 1, Stderr: "modprobe: FATAL: Module g_mass_storage not found"}))
}

func TestRunPrivilegedSkipsSudoWhenAlreadyRoot(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("only meaningful running as root")
	}
	f := NewFake()
	f.Results = []Result{{ExitCode: 0, Stdout: "ok"}}

	result, err := RunPrivileged(context.Background(), f, "echo", "hi")
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	require.Len(t, f.Calls, 1)
	require.NotEqual(t, "sudo", f.Calls[0].Name)
}

func TestRunPrivilegedEscalatesOrReportsErrSudoRequiredWhenNotRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("sudo escalation path only exercised when not root")
	}
	f := NewFake()
	f.Results = []Result{{ExitCode: 0, Stdout: "ok"}}

	_, sudoResolveErr := ResolveBinary("sudo")
	result, err := RunPrivileged(context.Background(), f, "echo", "hi")
	if sudoResolveErr != nil {
		require.ErrorIs(t, err, ErrSudoRequired)
		return
	}
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	require.Equal(t, "sudo", filepath.Base(f.Calls[0].Name))
}
