package core

import "testing"

func TestAggregateAllAccepted(t *testing.T) {
	agg := AggregateOutcomes([]CaseOutcome{
		{Verdict: VerdictAccepted, PointsAwarded: 10, ExecutionTimeMS: 5, MemoryUsedKB: 100},
		{Verdict: VerdictAccepted, PointsAwarded: 10, ExecutionTimeMS: 9, MemoryUsedKB: 80},
	})
	if agg.Verdict != VerdictAccepted {
		t.Fatalf("verdict = %s, want ACCEPTED", agg.Verdict)
	}
	if agg.TotalPoints != 20 {
		t.Fatalf("total points = %d, want 20", agg.TotalPoints)
	}
	if agg.ExecutionTimeMS != 9 || agg.MemoryUsageKB != 100 {
		t.Fatalf("maxima = (%d, %d), want (9, 100)", agg.ExecutionTimeMS, agg.MemoryUsageKB)
	}
}

func TestAggregateMostSevereWins(t *testing.T) {
	tests := []struct {
		name     string
		verdicts []Verdict
		want     Verdict
	}{
		{"wa beats ac", []Verdict{VerdictAccepted, VerdictWrongAnswer, VerdictAccepted}, VerdictWrongAnswer},
		{"tle beats re", []Verdict{VerdictRuntimeError, VerdictTimeLimitExceeded}, VerdictTimeLimitExceeded},
		{"mle beats tle", []Verdict{VerdictTimeLimitExceeded, VerdictMemoryLimitExceeded}, VerdictMemoryLimitExceeded},
		{"ce beats mle", []Verdict{VerdictMemoryLimitExceeded, VerdictCompilationError}, VerdictCompilationError},
		{"ie beats everything", []Verdict{VerdictCompilationError, VerdictInternalError}, VerdictInternalError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var outcomes []CaseOutcome
			for _, v := range tc.verdicts {
				outcomes = append(outcomes, CaseOutcome{Verdict: v})
			}
			if got := AggregateOutcomes(outcomes).Verdict; got != tc.want {
				t.Fatalf("verdict = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestAggregateShortCircuitIgnoresTrailingCases(t *testing.T) {
	// Outcomes after a COMPILATION_ERROR must not change the verdict or the
	// accumulators, so stopping early and not stopping agree.
	prefix := []CaseOutcome{
		{Verdict: VerdictAccepted, PointsAwarded: 10, ExecutionTimeMS: 3},
		{Verdict: VerdictCompilationError},
	}
	extended := append(append([]CaseOutcome{}, prefix...),
		CaseOutcome{Verdict: VerdictAccepted, PointsAwarded: 10, ExecutionTimeMS: 99})

	a, b := AggregateOutcomes(prefix), AggregateOutcomes(extended)
	if a != b {
		t.Fatalf("aggregate changed after short-circuit: %+v vs %+v", a, b)
	}
	if a.Verdict != VerdictCompilationError {
		t.Fatalf("verdict = %s, want COMPILATION_ERROR", a.Verdict)
	}
}

func TestAggregateEmptyIsPending(t *testing.T) {
	if got := AggregateOutcomes(nil).Verdict; got != VerdictPending {
		t.Fatalf("verdict = %s, want PENDING", got)
	}
}

func TestParseLanguage(t *testing.T) {
	if _, err := ParseLanguage("Python"); err != nil {
		t.Fatalf("Python: %v", err)
	}
	if _, err := ParseLanguage(" rust "); err != nil {
		t.Fatalf("rust: %v", err)
	}
	if _, err := ParseLanguage("cobol"); Kind(err) != KindValidation {
		t.Fatalf("cobol: kind = %s, want VALIDATION", Kind(err))
	}
}

func TestStatusTerminal(t *testing.T) {
	for st, want := range map[Status]bool{
		StatusPending:   false,
		StatusRunning:   false,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	} {
		if st.Terminal() != want {
			t.Fatalf("%s.Terminal() = %v, want %v", st, st.Terminal(), want)
		}
	}
}
