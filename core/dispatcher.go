package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Dispatcher runs the worker pool: N long-lived workers that claim queue
// items, grade submissions through the case runner, and write outcomes back.
// Each worker processes one submission at a time, so a pool of size N yields
// at most N concurrently RUNNING items.
type Dispatcher struct {
	queue   QueueRepository
	subs    SubmissionRepository
	catalog Catalog
	runner  *CaseRunner
	bus     EventBus

	workerIDBase  string
	workers       int
	pollInterval  time.Duration
	shutdownGrace time.Duration
	heartbeat     *HeartbeatState
}

// DispatcherOptions tunes the pool; zero values take the defaults below.
type DispatcherOptions struct {
	WorkerIDBase  string
	Workers       int
	PollInterval  time.Duration
	ShutdownGrace time.Duration
	Heartbeat     *HeartbeatState
}

const (
	defaultPollInterval  = 500 * time.Millisecond
	defaultShutdownGrace = 30 * time.Second
)

func NewDispatcher(queue QueueRepository, subs SubmissionRepository,
	catalog Catalog, runner *CaseRunner, bus EventBus, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = defaultShutdownGrace
	}
	if opts.WorkerIDBase == "" {
		opts.WorkerIDBase = NewWorkerID()
	}
	return &Dispatcher{
		queue:         queue,
		subs:          subs,
		catalog:       catalog,
		runner:        runner,
		bus:           bus,
		workerIDBase:  opts.WorkerIDBase,
		workers:       opts.Workers,
		pollInterval:  opts.PollInterval,
		shutdownGrace: opts.ShutdownGrace,
		heartbeat:     opts.Heartbeat,
	}
}

// Run blocks until ctx is cancelled and all workers have drained. In-flight
// submissions get the shutdown grace period to finish; whatever is still
// RUNNING afterwards is released for another worker to retry.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		workerID := fmt.Sprintf("%s#%d", d.workerIDBase, i+1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.workerLoop(ctx, workerID)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) workerLoop(ctx context.Context, workerID string) {
	// Reclaim leases from a previous run of this worker id before pulling
	// new work.
	d.releaseOwn(workerID)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := d.queue.ClaimNext(ctx, workerID)
		if err != nil {
			if errors.Is(err, ErrNoPending) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(d.pollInterval):
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Printf("[%s] claim error: %v", workerID, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.pollInterval):
			}
			continue
		}

		// Finish the claimed submission even if shutdown begins mid-run,
		// bounded by the grace period.
		runCtx, cancel := context.WithCancel(context.Background())
		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				select {
				case <-stop:
				case <-time.After(d.shutdownGrace):
					cancel()
				}
			case <-stop:
			}
		}()
		d.process(runCtx, workerID, item)
		close(stop)
		cancel()

		if ctx.Err() != nil {
			// Leases that could not finish in time go back to the queue.
			d.releaseOwn(workerID)
			return
		}
	}
}

func (d *Dispatcher) releaseOwn(workerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	released, err := d.queue.ReleaseWorker(ctx, workerID)
	if err != nil {
		log.Printf("[%s] release on start failed: %v", workerID, err)
		return
	}
	for _, it := range released {
		settleReleasedItem(ctx, d.subs, d.bus, it)
	}
	if len(released) > 0 {
		log.Printf("[%s] released %d stale leases", workerID, len(released))
	}
}

func (d *Dispatcher) process(ctx context.Context, workerID string, item *QueueItem) {
	if d.heartbeat != nil {
		d.heartbeat.JobStarted(item.SubmissionID)
	}
	err := d.judge(ctx, workerID, item)
	if d.heartbeat != nil {
		d.heartbeat.JobFinished(item.SubmissionID, err)
	}
	if err == nil {
		return
	}

	log.Printf("[%s] submission %s failed: %v", workerID, item.SubmissionID, err)
	failed, failErr := d.queue.Fail(ctx, item.ID, workerID, err.Error())
	if failErr != nil {
		if errors.Is(failErr, ErrNotClaimed) {
			// Lease already reclaimed by maintenance; nothing to settle here.
			return
		}
		log.Printf("[%s] fail bookkeeping for %s: %v", workerID, item.ID, failErr)
		return
	}
	settleReleasedItem(ctx, d.subs, d.bus, *failed)
}

// judge runs the grading pipeline for one claimed item. Returned errors are
// system-side and trigger the retry path; user-facing verdicts always return
// nil.
func (d *Dispatcher) judge(ctx context.Context, workerID string, item *QueueItem) error {
	sub, err := d.subs.FindByID(ctx, item.SubmissionID)
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}
	if err := d.subs.MarkRunning(ctx, sub.ID); err != nil && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("mark running: %w", err)
	}

	publish(ctx, d.bus, NewEvent(EventJudgeStarted, sub.ID, map[string]any{
		"submission_id": sub.ID,
		"worker_id":     workerID,
	}))

	cases, err := d.catalog.GetCases(ctx, sub.ProblemID)
	if err != nil {
		return fmt.Errorf("load case manifest: %w", err)
	}
	if len(cases) == 0 {
		return fmt.Errorf("no cases for problem %s", sub.ProblemID)
	}

	prepared, err := d.runner.Prepare(ctx, sub.Language, sub.Code, cases[0].MemoryLimitMB)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}

	var outcomes []CaseOutcome
	compileError := ""
	if !prepared.Compiled() {
		// No further cases run; the first case carries the verdict.
		compileError = prepared.CompileDiagnostics
		outcomes = append(outcomes, CompileErrorOutcome(cases[0], compileError))
	} else {
		defer func() {
			_ = d.runner.sandbox.Cleanup(ctx, prepared.ArtifactID)
		}()
		for _, c := range cases {
			outcome := d.runner.Run(ctx, prepared, c)
			outcomes = append(outcomes, outcome)
			if outcome.Verdict.ShortCircuits() {
				break
			}
		}
	}

	agg := AggregateOutcomes(outcomes)
	results := make([]CaseResult, len(outcomes))
	for i, o := range outcomes {
		results[i] = OutcomeToResult(o)
	}

	fin := Finalization{
		Status:          StatusCompleted,
		Result:          agg.Verdict,
		TotalPoints:     agg.TotalPoints,
		ExecutionTimeMS: agg.ExecutionTimeMS,
		MemoryUsageKB:   agg.MemoryUsageKB,
		CompileError:    compileError,
		CaseResults:     results,
		JudgedAt:        time.Now().UTC(),
	}
	if err := d.subs.Finalize(ctx, sub.ID, fin); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	if err := d.queue.Complete(ctx, item.ID, workerID); err != nil {
		return fmt.Errorf("complete queue item: %w", err)
	}

	publish(ctx, d.bus, NewEvent(EventJudgeCompleted, sub.ID, map[string]any{
		"submission_id":     sub.ID,
		"result":            string(agg.Verdict),
		"total_points":      agg.TotalPoints,
		"max_points":        sub.MaxPoints,
		"execution_time_ms": agg.ExecutionTimeMS,
		"memory_usage_kb":   agg.MemoryUsageKB,
	}))
	return nil
}
