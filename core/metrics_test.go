package core

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestHeartbeatRoundTrip(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()

	state := NewHeartbeatState("worker-1", 4)
	state.JobStarted("sub-1")
	state.JobStarted("sub-2")
	state.JobFinished("sub-1", nil)

	hb := state.Snapshot()
	if hb.Status != "busy" || hb.RunningCount != 1 || hb.ProcessedTotal != 1 {
		t.Fatalf("snapshot = %+v", hb)
	}
	if err := SaveHeartbeat(ctx, client, hb); err != nil {
		t.Fatalf("save: %v", err)
	}

	svc := NewMetricsService(NewMemQueueRepository(), nil, client)
	got, err := svc.WorkerByID(ctx, "worker-1")
	if err != nil {
		t.Fatalf("worker by id: %v", err)
	}
	if got.WorkerID != "worker-1" || got.Concurrency != 4 || got.RunningCount != 1 {
		t.Fatalf("heartbeat = %+v", got)
	}
}

func TestHeartbeatIdleAfterAllJobsFinish(t *testing.T) {
	state := NewHeartbeatState("worker-1", 1)
	state.JobStarted("sub-1")
	state.JobFinished("sub-1", ErrSandboxInternal)
	hb := state.Snapshot()
	if hb.Status != "idle" || hb.FailedTotal != 1 || hb.LastError == "" {
		t.Fatalf("snapshot = %+v", hb)
	}
}

func TestMetricsHealthReport(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()

	queue := NewMemQueueRepository()
	subs := NewMemSubmissionRepository(queue)
	t0 := time.Now().UTC().Add(-2 * time.Minute)
	enqueueAt(t, queue, "q1", "sub-1", 1, t0)
	enqueueAt(t, queue, "q2", "sub-2", 1, t0.Add(time.Minute))
	if _, err := queue.ClaimNext(ctx, "w1"); err != nil {
		t.Fatal(err)
	}

	_ = SaveHeartbeat(ctx, client, WorkerHeartbeat{WorkerID: "w1", Status: "busy"})
	_ = SaveHeartbeat(ctx, client, WorkerHeartbeat{WorkerID: "w2", Status: "idle"})

	svc := NewMetricsService(queue, subs, client)
	report, err := svc.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Queue[StatusPending] != 1 || report.Queue[StatusRunning] != 1 {
		t.Fatalf("queue counts = %v", report.Queue)
	}
	if len(report.Workers) != 2 {
		t.Fatalf("workers = %d, want 2", len(report.Workers))
	}
	if !report.HasPending || report.OldestPendingAge < time.Minute {
		t.Fatalf("oldest pending = %v (has=%v)", report.OldestPendingAge, report.HasPending)
	}
}
