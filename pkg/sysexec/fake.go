package sysexec

import (
	"context"
	"fmt"
	"strings"
)

// Call records one invocation made against a Fake.
type Call struct {
	Name string
	Args []string
}

// String renders the call the way a shell history would, for assertions
// and failure messages in tests.
func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Fake is a scriptable Runner for tests: each call to Run consumes the
// next entry in Results (in order), or falls back to Default if Results
// is exhausted. All calls are recorded in Calls for later assertions.
type Fake struct {
	Results []Result
	Errors  []error
	Default Result

	Calls []Call
	next  int
}

// NewFake constructs an empty Fake that succeeds by default.
func NewFake() *Fake {
	return &Fake{Default: Result{ExitCode: 0}}
}

// Run implements Runner.
func (f *Fake) Run(_ context.Context, name string, args ...string) (Result, error) {
	f.Calls = append(f.Calls, Call{Name: name, Args: args})

	idx := f.next
	f.next++

	var err error
	if idx < len(f.Errors) {
		err = f.Errors[idx]
	}
	if err != nil {
		return Result{}, err
	}

	if idx < len(f.Results) {
		return f.Results[idx], nil
	}
	return f.Default, nil
}

// LastCall returns the most recent recorded call, or an empty Call if
// none have happened yet.
func (f *Fake) LastCall() Call {
	if len(f.Calls) == 0 {
		return Call{}
	}
	return f.Calls[len(f.Calls)-1]
}

// CommandLines renders every recorded call as "name arg1 arg2", useful
// for a single require.Equal against an expected invocation sequence.
func (f *Fake) CommandLines() []string {
	lines := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		lines[i] = c.String()
	}
	return lines
}

// Sprint is a convenience formatter for failure messages in tests that
// assert on call sequences.
func Sprint(calls []Call) string {
	var b strings.Builder
	for _, c := range calls {
		fmt.Fprintln(&b, c.String())
	}
	return b.String()
}
