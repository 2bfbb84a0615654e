package selftest

import (
	"context"

	"github.com/cncworks/shadow/pkg/sysexec"
)

// Options configures a RunSelfTest invocation.
type Options struct {
	EnvFile        string
	ValidateRoot   string
	RuntimeLUNFile string
}

// RunSelfTest runs the journal and shadow-invariant check sections and
// rolls their counters up into one Result, mirroring
// original_source/cnc_control/selftest/core.py's run_selftest.
func RunSelfTest(ctx context.Context, runner sysexec.Runner, opts Options) Result {
	var result Result

	result.Journal = RunJournalChecks(ctx, runner)
	result.merge(result.Journal)

	result.Shadow = RunShadowChecks(ctx, runner, ShadowChecksConfig{
		EnvFile:        opts.EnvFile,
		ValidateRoot:   opts.ValidateRoot,
		RuntimeLUNFile: opts.RuntimeLUNFile,
	})
	result.merge(result.Shadow)

	return result
}
