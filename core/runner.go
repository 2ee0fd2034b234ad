package core

import (
	"context"
	"strings"
)

// ExcerptLimit bounds stdout/stderr excerpts before persistence.
const ExcerptLimit = 64 * 1024

// CaseOutcome is the runner's classification of one case execution.
type CaseOutcome struct {
	CaseID          string
	Verdict         Verdict
	PointsAwarded   int
	ExecutionTimeMS int64
	MemoryUsedKB    int64
	OutputExcerpt   string
	StderrExcerpt   string
	ExitCode        int
	Feedback        string
}

// Prepared is a compiled submission ready to run cases.
type Prepared struct {
	Language   Language
	ArtifactID string
	// CompileDiagnostics is non-empty when compilation failed; no cases
	// should run for the submission.
	CompileDiagnostics string
}

// Compiled reports whether the prepare phase produced a runnable artifact.
func (p *Prepared) Compiled() bool { return p.CompileDiagnostics == "" }

// CaseRunner grades single cases against the sandbox. It is pure with respect
// to its inputs: no I/O beyond the sandbox call, no mutation of shared state.
type CaseRunner struct {
	sandbox            Sandbox
	compileTimeLimitMS int
}

const defaultCompileTimeLimitMS = 10000

func NewCaseRunner(sandbox Sandbox, compileTimeLimitMS int) *CaseRunner {
	if compileTimeLimitMS <= 0 {
		compileTimeLimitMS = defaultCompileTimeLimitMS
	}
	return &CaseRunner{sandbox: sandbox, compileTimeLimitMS: compileTimeLimitMS}
}

// Prepare compiles source once per submission. A failed compile is a normal
// outcome (captured in CompileDiagnostics); only sandbox-side breakage is an
// error.
func (r *CaseRunner) Prepare(ctx context.Context, lang Language, source string, memoryLimitMB int) (*Prepared, error) {
	rep, err := r.sandbox.Compile(ctx, lang, source, r.compileTimeLimitMS, memoryLimitMB)
	if err != nil {
		return nil, err
	}
	p := &Prepared{Language: lang, ArtifactID: rep.ArtifactID}
	if !rep.OK {
		p.CompileDiagnostics = rep.Diagnostics
		if p.CompileDiagnostics == "" {
			p.CompileDiagnostics = "compilation failed"
		}
		p.CompileDiagnostics = truncateExcerpt(p.CompileDiagnostics)
	}
	return p, nil
}

// Run executes one case and classifies the result. Classification order:
// internal, timeout, memory, signal/exit, then output comparison.
func (r *CaseRunner) Run(ctx context.Context, p *Prepared, c JudgeCase) CaseOutcome {
	out := CaseOutcome{CaseID: c.ID}

	rep, err := r.sandbox.Run(ctx, p.Language, p.ArtifactID, c.Input, c.TimeLimitMS, c.MemoryLimitMB)
	if err != nil {
		out.Verdict = VerdictInternalError
		out.Feedback = err.Error()
		return out
	}

	out.ExecutionTimeMS = rep.WallTimeMS
	out.MemoryUsedKB = rep.PeakMemoryKB
	out.ExitCode = rep.ExitCode
	out.OutputExcerpt = truncateExcerpt(rep.Stdout)
	out.StderrExcerpt = truncateExcerpt(rep.Stderr)

	switch {
	case rep.Termination == TermInternal:
		out.Verdict = VerdictInternalError
	case rep.Termination == TermTimeout:
		out.Verdict = VerdictTimeLimitExceeded
	case rep.Termination == TermMemoryExceeded:
		out.Verdict = VerdictMemoryLimitExceeded
	case rep.Termination == TermSignal || rep.ExitCode != 0:
		out.Verdict = VerdictRuntimeError
	case OutputsMatch(rep.Stdout, c.ExpectedOutput):
		out.Verdict = VerdictAccepted
		out.PointsAwarded = c.Points
	default:
		out.Verdict = VerdictWrongAnswer
	}
	return out
}

// CompileErrorOutcome synthesizes the single case result recorded when the
// compile phase fails: the first case carries COMPILATION_ERROR and no
// further cases run.
func CompileErrorOutcome(firstCase JudgeCase, diagnostics string) CaseOutcome {
	return CaseOutcome{
		CaseID:        firstCase.ID,
		Verdict:       VerdictCompilationError,
		StderrExcerpt: truncateExcerpt(diagnostics),
	}
}

// OutputsMatch compares program output to the expectation: trailing
// whitespace is trimmed from each line on both sides, a single trailing
// newline is stripped, then the results are compared byte-wise.
func OutputsMatch(actual, expected string) bool {
	return normalizeOutput(actual) == normalizeOutput(expected)
}

func normalizeOutput(s string) string {
	s = strings.TrimSuffix(s, "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.Join(lines, "\n")
}

func truncateExcerpt(s string) string {
	if len(s) <= ExcerptLimit {
		return s
	}
	return s[:ExcerptLimit]
}

// OutcomeToResult converts a runner outcome into the persisted case row.
func OutcomeToResult(o CaseOutcome) CaseResult {
	return CaseResult{
		CaseID:          o.CaseID,
		Verdict:         o.Verdict,
		PointsAwarded:   o.PointsAwarded,
		ExecutionTimeMS: o.ExecutionTimeMS,
		MemoryUsedKB:    o.MemoryUsedKB,
		OutputExcerpt:   o.OutputExcerpt,
		StderrExcerpt:   o.StderrExcerpt,
		ExitCode:        o.ExitCode,
		Feedback:        o.Feedback,
	}
}
