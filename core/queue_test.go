package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func enqueueAt(t *testing.T, q QueueRepository, id, subID string, priority int, at time.Time) *QueueItem {
	t.Helper()
	item := &QueueItem{
		ID:           id,
		SubmissionID: subID,
		Priority:     priority,
		MaxRetries:   DefaultMaxRetries,
		Status:       StatusPending,
		CreatedAt:    at,
	}
	if err := q.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("enqueue %s: %v", id, err)
	}
	return item
}

func TestClaimOrderPriorityThenAge(t *testing.T) {
	// A (priority 1, t0), B (priority 5, t0+1ms), C (priority 5, t0+2ms):
	// claim order must be B, C, A.
	q := NewMemQueueRepository()
	t0 := time.Now().UTC()
	enqueueAt(t, q, "qa", "sub-a", 1, t0)
	enqueueAt(t, q, "qb", "sub-b", 5, t0.Add(time.Millisecond))
	enqueueAt(t, q, "qc", "sub-c", 5, t0.Add(2*time.Millisecond))

	var order []string
	for i := 0; i < 3; i++ {
		it, err := q.ClaimNext(context.Background(), "w1")
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		order = append(order, it.SubmissionID)
		if err := q.Complete(context.Background(), it.ID, "w1"); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	want := []string{"sub-b", "sub-c", "sub-a"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("claim order = %v, want %v", order, want)
		}
	}

	if _, err := q.ClaimNext(context.Background(), "w1"); !errors.Is(err, ErrNoPending) {
		t.Fatalf("empty claim err = %v, want ErrNoPending", err)
	}
}

func TestClaimSetsLeaseFields(t *testing.T) {
	q := NewMemQueueRepository()
	enqueueAt(t, q, "q1", "sub-1", 1, time.Now().UTC())

	it, err := q.ClaimNext(context.Background(), "w1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if it.Status != StatusRunning || it.WorkerID == nil || *it.WorkerID != "w1" ||
		it.AssignedAt == nil || it.StartedAt == nil {
		t.Fatalf("lease fields not set: %+v", it)
	}
}

func TestSingleLiveItemPerSubmission(t *testing.T) {
	q := NewMemQueueRepository()
	enqueueAt(t, q, "q1", "sub-1", 1, time.Now().UTC())

	dup := &QueueItem{ID: "q2", SubmissionID: "sub-1", Priority: 1, Status: StatusPending}
	if err := q.Enqueue(context.Background(), dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate enqueue err = %v, want ErrConflict", err)
	}
}

func TestCompleteRequiresOwnership(t *testing.T) {
	q := NewMemQueueRepository()
	enqueueAt(t, q, "q1", "sub-1", 1, time.Now().UTC())
	it, _ := q.ClaimNext(context.Background(), "w1")

	if err := q.Complete(context.Background(), it.ID, "w2"); !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("foreign complete err = %v, want ErrNotClaimed", err)
	}
	if _, err := q.Fail(context.Background(), it.ID, "w2", "boom"); !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("foreign fail err = %v, want ErrNotClaimed", err)
	}
	if err := q.Complete(context.Background(), it.ID, "w1"); err != nil {
		t.Fatalf("owner complete: %v", err)
	}
}

func TestFailRetriesThenExhausts(t *testing.T) {
	q := NewMemQueueRepository()
	enqueueAt(t, q, "q1", "sub-1", 1, time.Now().UTC())

	for attempt := 1; attempt <= DefaultMaxRetries; attempt++ {
		it, err := q.ClaimNext(context.Background(), "w1")
		if err != nil {
			t.Fatalf("claim attempt %d: %v", attempt, err)
		}
		failed, err := q.Fail(context.Background(), it.ID, "w1", "sandbox down")
		if err != nil {
			t.Fatalf("fail attempt %d: %v", attempt, err)
		}
		if failed.Status != StatusPending {
			t.Fatalf("attempt %d status = %s, want PENDING", attempt, failed.Status)
		}
		if failed.RetryCount != attempt {
			t.Fatalf("attempt %d retry count = %d", attempt, failed.RetryCount)
		}
	}

	// budget used up; next failure is terminal
	it, _ := q.ClaimNext(context.Background(), "w1")
	failed, err := q.Fail(context.Background(), it.ID, "w1", "sandbox down")
	if err != nil {
		t.Fatalf("final fail: %v", err)
	}
	if failed.Status != StatusFailed {
		t.Fatalf("final status = %s, want FAILED", failed.Status)
	}
	if failed.RetryCount > failed.MaxRetries {
		t.Fatalf("retry count %d exceeds max %d", failed.RetryCount, failed.MaxRetries)
	}
	if _, err := q.ClaimNext(context.Background(), "w1"); !errors.Is(err, ErrNoPending) {
		t.Fatalf("failed item still claimable: %v", err)
	}
}

func TestReleaseWorkerReturnsRunningItems(t *testing.T) {
	// Losing a worker with k RUNNING items returns all k to PENDING with
	// retry_count incremented.
	q := NewMemQueueRepository()
	t0 := time.Now().UTC()
	enqueueAt(t, q, "q1", "sub-1", 1, t0)
	enqueueAt(t, q, "q2", "sub-2", 1, t0.Add(time.Millisecond))
	if _, err := q.ClaimNext(context.Background(), "w1"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.ClaimNext(context.Background(), "w1"); err != nil {
		t.Fatal(err)
	}

	released, err := q.ReleaseWorker(context.Background(), "w1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(released) != 2 {
		t.Fatalf("released %d items, want 2", len(released))
	}
	for _, it := range released {
		if it.Status != StatusPending || it.WorkerID != nil || it.RetryCount != 1 {
			t.Fatalf("released item not reset: %+v", it)
		}
	}
}

func TestPurgeCompleted(t *testing.T) {
	q := NewMemQueueRepository()
	enqueueAt(t, q, "q1", "sub-1", 1, time.Now().UTC())
	it, _ := q.ClaimNext(context.Background(), "w1")
	_ = q.Complete(context.Background(), it.ID, "w1")

	n, err := q.PurgeCompleted(context.Background(), time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	if _, err := q.FindBySubmission(context.Background(), "sub-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("item survived purge: %v", err)
	}
}

func TestOldestPendingAge(t *testing.T) {
	q := NewMemQueueRepository()
	now := time.Now().UTC()
	if _, has, _ := q.OldestPendingAge(context.Background(), now); has {
		t.Fatal("empty queue reports pending age")
	}
	enqueueAt(t, q, "q1", "sub-1", 1, now.Add(-time.Minute))
	age, has, err := q.OldestPendingAge(context.Background(), now)
	if err != nil || !has {
		t.Fatalf("age lookup: %v %v", age, err)
	}
	if age < 59*time.Second {
		t.Fatalf("age = %s, want ~1m", age)
	}
}
