package core

import (
	"context"
	"fmt"
)

// fakeSandbox scripts sandbox behaviour per test. The run hook receives the
// case stdin and returns the report; compileFail simulates a compiler
// diagnostic.
type fakeSandbox struct {
	compileFail string
	compileErr  error
	run         func(stdin string) *RunReport
	runErr      error
	cleaned     []string
}

func (f *fakeSandbox) Compile(_ context.Context, _ Language, _ string, _, _ int) (*CompileReport, error) {
	if f.compileErr != nil {
		return nil, f.compileErr
	}
	if f.compileFail != "" {
		return &CompileReport{OK: false, Diagnostics: f.compileFail}, nil
	}
	return &CompileReport{OK: true, ArtifactID: "artifact-1"}, nil
}

func (f *fakeSandbox) Run(_ context.Context, _ Language, _ string, stdin string, _, _ int) (*RunReport, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	if f.run != nil {
		return f.run(stdin), nil
	}
	return &RunReport{Termination: TermNormal}, nil
}

func (f *fakeSandbox) Cleanup(_ context.Context, ids ...string) error {
	f.cleaned = append(f.cleaned, ids...)
	return nil
}

// echoSandbox answers every case with the given stdout.
func echoSandbox(stdout string) *fakeSandbox {
	return &fakeSandbox{run: func(string) *RunReport {
		return &RunReport{Stdout: stdout, Termination: TermNormal, WallTimeMS: 5, PeakMemoryKB: 1024}
	}}
}

// sumSandbox reads two integers from stdin and prints their sum, like the
// reference solution of the two-number problems used in tests.
func sumSandbox() *fakeSandbox {
	return &fakeSandbox{run: func(stdin string) *RunReport {
		var a, b int
		_, _ = fmt.Sscan(stdin, &a, &b)
		return &RunReport{
			Stdout:       fmt.Sprintf("%d\n", a+b),
			Termination:  TermNormal,
			WallTimeMS:   7,
			PeakMemoryKB: 2048,
		}
	}}
}
