package core

import (
	"fmt"
	"strings"
)

// Status is the execution state of a submission or queue item.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status admits no further normal transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Verdict classifies a submission or a single case.
type Verdict string

const (
	VerdictPending             Verdict = "PENDING"
	VerdictAccepted            Verdict = "ACCEPTED"
	VerdictWrongAnswer         Verdict = "WRONG_ANSWER"
	VerdictRuntimeError        Verdict = "RUNTIME_ERROR"
	VerdictTimeLimitExceeded   Verdict = "TIME_LIMIT_EXCEEDED"
	VerdictMemoryLimitExceeded Verdict = "MEMORY_LIMIT_EXCEEDED"
	VerdictCompilationError    Verdict = "COMPILATION_ERROR"
	VerdictInternalError       Verdict = "INTERNAL_ERROR"
)

// verdictSeverity orders verdicts least to most severe. The submission verdict
// is the maximum over its cases.
var verdictSeverity = map[Verdict]int{
	VerdictAccepted:            0,
	VerdictWrongAnswer:         1,
	VerdictRuntimeError:        2,
	VerdictTimeLimitExceeded:   3,
	VerdictMemoryLimitExceeded: 4,
	VerdictCompilationError:    5,
	VerdictInternalError:       6,
}

// ShortCircuits reports whether no further cases should run after v.
func (v Verdict) ShortCircuits() bool {
	return v == VerdictCompilationError || v == VerdictInternalError
}

// Language is a supported submission language.
type Language string

const (
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangJava       Language = "java"
	LangCpp        Language = "cpp"
	LangC          Language = "c"
	LangGo         Language = "go"
	LangRust       Language = "rust"
)

var supportedLanguages = map[Language]bool{
	LangPython:     true,
	LangJavaScript: true,
	LangTypeScript: true,
	LangJava:       true,
	LangCpp:        true,
	LangC:          true,
	LangGo:         true,
	LangRust:       true,
}

// ParseLanguage normalizes and validates a language name.
func ParseLanguage(s string) (Language, error) {
	l := Language(strings.ToLower(strings.TrimSpace(s)))
	if !supportedLanguages[l] {
		return "", fmt.Errorf("%w: unsupported language %q", ErrValidation, s)
	}
	return l, nil
}

// Aggregate reduces per-case outcomes into the submission-level totals.
// The verdict is the most severe one seen; all-accepted yields ACCEPTED.
// Outcomes after a short-circuiting verdict never change the result, so the
// dispatcher may stop early without affecting aggregation.
type Aggregate struct {
	Verdict         Verdict
	TotalPoints     int
	ExecutionTimeMS int64
	MemoryUsageKB   int64
}

// AggregateOutcomes folds case outcomes in case order.
func AggregateOutcomes(outcomes []CaseOutcome) Aggregate {
	agg := Aggregate{Verdict: VerdictAccepted}
	if len(outcomes) == 0 {
		agg.Verdict = VerdictPending
		return agg
	}
	for _, o := range outcomes {
		agg.TotalPoints += o.PointsAwarded
		if o.ExecutionTimeMS > agg.ExecutionTimeMS {
			agg.ExecutionTimeMS = o.ExecutionTimeMS
		}
		if o.MemoryUsedKB > agg.MemoryUsageKB {
			agg.MemoryUsageKB = o.MemoryUsedKB
		}
		if verdictSeverity[o.Verdict] > verdictSeverity[agg.Verdict] {
			agg.Verdict = o.Verdict
		}
		if o.Verdict.ShortCircuits() {
			break
		}
	}
	return agg
}
