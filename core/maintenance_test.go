package core

import (
	"context"
	"testing"
	"time"
)

func TestMaintenancePassReclaimsStaleLeases(t *testing.T) {
	// A nanosecond threshold makes every RUNNING lease stale, standing in
	// for the 30 minute production default.
	env := newTestEnv(sumSandbox())
	sub, _ := env.svc.CreateSubmission(context.Background(), "u1", "sum", "code", "python", nil)
	if _, err := env.queue.ClaimNext(context.Background(), "dead-worker"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := env.subs.MarkRunning(context.Background(), sub.ID); err != nil {
		t.Fatal(err)
	}

	m := NewMaintenance(env.queue, env.subs, env.execs, env.bus, MaintenanceOptions{
		StaleThreshold: time.Nanosecond,
	})
	time.Sleep(time.Millisecond)
	m.Pass(context.Background())

	item, _ := env.queue.FindBySubmission(context.Background(), sub.ID)
	if item.Status != StatusPending || item.WorkerID != nil || item.RetryCount != 1 {
		t.Fatalf("item after pass = %+v", item)
	}
	loaded, _ := env.subs.FindByID(context.Background(), sub.ID)
	if loaded.Status != StatusPending {
		t.Fatalf("submission status = %s, want PENDING", loaded.Status)
	}
}

func TestMaintenanceFailsExhaustedItems(t *testing.T) {
	env := newTestEnv(sumSandbox())
	sub, _ := env.svc.CreateSubmission(context.Background(), "u1", "sum", "code", "python", nil)

	m := NewMaintenance(env.queue, env.subs, env.execs, env.bus, MaintenanceOptions{
		StaleThreshold: time.Nanosecond,
	})
	// Crash-loop the worker until the retry budget is gone.
	for i := 0; i <= DefaultMaxRetries; i++ {
		if _, err := env.queue.ClaimNext(context.Background(), "crashy"); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		_ = env.subs.MarkRunning(context.Background(), sub.ID)
		time.Sleep(time.Millisecond)
		m.Pass(context.Background())
	}

	item, _ := env.queue.FindBySubmission(context.Background(), sub.ID)
	if item.Status != StatusFailed {
		t.Fatalf("item status = %s, want FAILED", item.Status)
	}
	loaded, _ := env.subs.FindByID(context.Background(), sub.ID)
	if loaded.Status != StatusFailed || loaded.Result != VerdictInternalError {
		t.Fatalf("submission = %s/%s, want FAILED/INTERNAL_ERROR", loaded.Status, loaded.Result)
	}
	if n := len(env.bus.byType(EventJudgeError)); n != 1 {
		t.Fatalf("judge.error events = %d, want 1", n)
	}
}

func TestMaintenancePurgesOldExecutions(t *testing.T) {
	env := newTestEnv(echoSandbox("out"))
	if _, err := env.svc.Execute(context.Background(), "code", "python", "", 0, 0); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// a nanosecond retention window means everything already expired
	m := NewMaintenance(env.queue, env.subs, env.execs, env.bus, MaintenanceOptions{
		ExecutionRetention: time.Nanosecond,
	})
	time.Sleep(time.Millisecond)
	m.Pass(context.Background())

	execs, _ := env.execs.ListRecent(context.Background(), 10)
	if len(execs) != 0 {
		t.Fatalf("executions after purge = %d, want 0", len(execs))
	}
}

func TestMaintenanceRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(sumSandbox())
	m := NewMaintenance(env.queue, env.subs, env.execs, env.bus, MaintenanceOptions{
		Interval: 5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("maintenance loop did not stop")
	}
}
