package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// recordBus captures published events for assertions.
type recordBus struct {
	mu     sync.Mutex
	events []Event
}

func (b *recordBus) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordBus) Close() error { return nil }

func (b *recordBus) byType(eventType string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, ev := range b.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type testEnv struct {
	subs    *MemSubmissionRepository
	queue   *MemQueueRepository
	execs   *MemExecutionRepository
	catalog *MemCatalog
	bus     *recordBus
	svc     *JudgeService
	runner  *CaseRunner
}

func newTestEnv(sb Sandbox) *testEnv {
	queue := NewMemQueueRepository()
	subs := NewMemSubmissionRepository(queue)
	execs := NewMemExecutionRepository()
	catalog := NewMemCatalog()
	catalog.PutProblem("sum", MemCatalogProblem{
		Active: true,
		Cases: []JudgeCase{
			{ID: "sum/c1", Input: "1 2", ExpectedOutput: "3", Points: 10, Type: CaseSample, TimeLimitMS: 1000, MemoryLimitMB: 256},
			{ID: "sum/c2", Input: "5 5", ExpectedOutput: "10", Points: 10, Type: CaseHidden, TimeLimitMS: 1000, MemoryLimitMB: 256},
		},
	})
	bus := &recordBus{}
	runner := NewCaseRunner(sb, 0)
	svc := NewJudgeService(subs, queue, execs, catalog, runner, bus)
	return &testEnv{subs: subs, queue: queue, execs: execs, catalog: catalog, bus: bus, svc: svc, runner: runner}
}

func TestCreateSubmission(t *testing.T) {
	env := newTestEnv(sumSandbox())
	sub, err := env.svc.CreateSubmission(context.Background(), "u1", "sum", "print(sum(map(int, input().split())))", "python", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub.Status != StatusPending || sub.Result != VerdictPending {
		t.Fatalf("fresh submission state = %s/%s", sub.Status, sub.Result)
	}
	if sub.MaxPoints != 20 {
		t.Fatalf("max points = %d, want 20", sub.MaxPoints)
	}

	item, err := env.queue.FindBySubmission(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("queue item: %v", err)
	}
	if item.Status != StatusPending || item.Priority != 1 {
		t.Fatalf("queue item = %+v", item)
	}
	if got := env.bus.byType(EventSubmissionCreated); len(got) != 1 {
		t.Fatalf("submission.created events = %d, want 1", len(got))
	}
}

func TestCreateSubmissionValidation(t *testing.T) {
	env := newTestEnv(sumSandbox())
	env.catalog.PutProblem("retired", MemCatalogProblem{Active: false, Cases: []JudgeCase{{ID: "c", Points: 1}}})

	tests := []struct {
		name                      string
		problemID, code, language string
	}{
		{"empty source", "sum", "   ", "python"},
		{"oversized source", "sum", strings.Repeat("a", MaxSourceBytes+1), "python"},
		{"bad language", "sum", "code", "brainfuck"},
		{"missing problem", "nope", "code", "python"},
		{"inactive problem", "retired", "code", "python"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.CreateSubmission(context.Background(), "u1", tc.problemID, tc.code, tc.language, nil)
			if Kind(err) != KindValidation {
				t.Fatalf("kind = %s (%v), want VALIDATION", Kind(err), err)
			}
		})
	}

	// nothing got enqueued by the rejected attempts
	counts, _ := env.queue.CountByStatus(context.Background())
	if counts[StatusPending] != 0 {
		t.Fatalf("pending items = %d, want 0", counts[StatusPending])
	}
}

func TestPriorityReflectsRole(t *testing.T) {
	env := newTestEnv(sumSandbox())
	env.catalog.PutUser("boss", "admin")

	sub, err := env.svc.CreateSubmission(context.Background(), "boss", "sum", "code", "python", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	item, _ := env.queue.FindBySubmission(context.Background(), sub.ID)
	if item.Priority != 4 {
		t.Fatalf("admin priority = %d, want 4", item.Priority)
	}
}

func TestRejudgeRejectsNonTerminal(t *testing.T) {
	env := newTestEnv(sumSandbox())
	sub, _ := env.svc.CreateSubmission(context.Background(), "u1", "sum", "code", "python", nil)

	if _, err := env.svc.Rejudge(context.Background(), sub.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("rejudge pending err = %v, want ErrConflict", err)
	}

	if err := env.subs.MarkRunning(context.Background(), sub.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Rejudge(context.Background(), sub.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("rejudge running err = %v, want ErrConflict", err)
	}

	if _, err := env.svc.Rejudge(context.Background(), "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rejudge missing err = %v, want ErrNotFound", err)
	}
}

func TestRejudgeResetsTerminalSubmission(t *testing.T) {
	env := newTestEnv(sumSandbox())
	sub, _ := env.svc.CreateSubmission(context.Background(), "u1", "sum", "code", "python", nil)

	// judge it through the dispatcher path once
	judgeOnce(t, env, "w1")

	judged, _ := env.subs.FindByID(context.Background(), sub.ID)
	if judged.Status != StatusCompleted {
		t.Fatalf("precondition: status = %s", judged.Status)
	}

	reset, err := env.svc.Rejudge(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("rejudge: %v", err)
	}
	if reset.Status != StatusPending || reset.Result != VerdictPending {
		t.Fatalf("reset state = %s/%s", reset.Status, reset.Result)
	}
	if reset.TotalPoints != 0 || len(reset.CaseResults) != 0 || reset.JudgedAt != nil {
		t.Fatalf("accumulators not cleared: %+v", reset)
	}

	item, err := env.queue.FindBySubmission(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("queue item after rejudge: %v", err)
	}
	if item.Status != StatusPending || item.Priority < rejudgePriority {
		t.Fatalf("rejudge item = %+v", item)
	}

	events := env.bus.byType(EventSubmissionCreated)
	last := events[len(events)-1]
	if last.Payload["rejudge"] != true {
		t.Fatalf("rejudge marker missing: %+v", last.Payload)
	}
}

func TestRejudgeIdempotentOnTerminal(t *testing.T) {
	// Two successive rejudges (no worker in between) leave the same
	// observable state as one; the second is rejected as CONFLICT because
	// the submission is already PENDING.
	env := newTestEnv(sumSandbox())
	sub, _ := env.svc.CreateSubmission(context.Background(), "u1", "sum", "code", "python", nil)
	judgeOnce(t, env, "w1")

	first, err := env.svc.Rejudge(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("first rejudge: %v", err)
	}
	if _, err := env.svc.Rejudge(context.Background(), sub.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second rejudge err = %v, want ErrConflict", err)
	}

	after, _ := env.subs.FindByID(context.Background(), sub.ID)
	if after.Status != first.Status || after.Result != first.Result || after.TotalPoints != first.TotalPoints {
		t.Fatalf("state changed by rejected rejudge: %+v vs %+v", after, first)
	}
	item, _ := env.queue.FindBySubmission(context.Background(), sub.ID)
	if item.Status != StatusPending {
		t.Fatalf("queue item = %+v", item)
	}
}

func TestAdhocExecute(t *testing.T) {
	env := newTestEnv(echoSandbox("hello\n"))
	exec, err := env.svc.Execute(context.Background(), "print('hello')", "python", "", 0, 0)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", exec.Status)
	}
	if exec.Result == nil || exec.Result.Stdout != "hello\n" {
		t.Fatalf("result = %+v", exec.Result)
	}

	// history is queryable
	stored, err := env.svc.GetExecution(context.Background(), exec.ID)
	if err != nil || stored.Result == nil {
		t.Fatalf("stored execution: %+v %v", stored, err)
	}
	// the queue stayed empty: ad-hoc runs bypass it
	counts, _ := env.queue.CountByStatus(context.Background())
	if len(counts) != 0 {
		t.Fatalf("queue touched by ad-hoc run: %v", counts)
	}
}

func TestAdhocExecuteValidatesLimits(t *testing.T) {
	env := newTestEnv(echoSandbox("x"))
	if _, err := env.svc.Execute(context.Background(), "code", "python", "", 50, 0); Kind(err) != KindValidation {
		t.Fatalf("low time limit: kind = %s", Kind(err))
	}
	if _, err := env.svc.Execute(context.Background(), "code", "python", "", 0, 4096); Kind(err) != KindValidation {
		t.Fatalf("high memory limit: kind = %s", Kind(err))
	}
}

func TestAdhocExecuteCompileFailure(t *testing.T) {
	env := newTestEnv(&fakeSandbox{compileFail: "syntax error"})
	exec, err := env.svc.Execute(context.Background(), "broken(", "python", "", 0, 0)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", exec.Status)
	}
	if !strings.Contains(exec.Result.Stderr, "syntax error") {
		t.Fatalf("stderr = %q", exec.Result.Stderr)
	}
}
