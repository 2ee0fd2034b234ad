package core

import (
	"context"
	"errors"
	"log"
	"time"
)

// Maintenance periodically reclaims abandoned work, bounds retries, purges
// old rows and reports queue health. It is the only recovery path for workers
// that crashed mid-run.
type Maintenance struct {
	queue QueueRepository
	subs  SubmissionRepository
	execs ExecutionRepository
	bus   EventBus

	interval           time.Duration
	staleThreshold     time.Duration
	queueRetention     time.Duration
	executionRetention time.Duration
	metrics            *MetricsService
}

// MaintenanceOptions tunes the loop; zero values take the defaults below.
type MaintenanceOptions struct {
	Interval           time.Duration
	StaleThreshold     time.Duration
	QueueRetention     time.Duration
	ExecutionRetention time.Duration
	Metrics            *MetricsService
}

const (
	defaultMaintenanceInterval = time.Minute
	defaultStaleThreshold      = 30 * time.Minute
	defaultQueueRetention      = 30 * 24 * time.Hour
	defaultExecutionRetention  = 7 * 24 * time.Hour
)

func NewMaintenance(queue QueueRepository, subs SubmissionRepository,
	execs ExecutionRepository, bus EventBus, opts MaintenanceOptions) *Maintenance {
	if opts.Interval <= 0 {
		opts.Interval = defaultMaintenanceInterval
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = defaultStaleThreshold
	}
	if opts.QueueRetention <= 0 {
		opts.QueueRetention = defaultQueueRetention
	}
	if opts.ExecutionRetention <= 0 {
		opts.ExecutionRetention = defaultExecutionRetention
	}
	return &Maintenance{
		queue:              queue,
		subs:               subs,
		execs:              execs,
		bus:                bus,
		interval:           opts.Interval,
		staleThreshold:     opts.StaleThreshold,
		queueRetention:     opts.QueueRetention,
		executionRetention: opts.ExecutionRetention,
		metrics:            opts.Metrics,
	}
}

// Run ticks until ctx is cancelled.
func (m *Maintenance) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Pass(ctx)
		}
	}
}

// Pass executes one maintenance sweep: stale-lease reclamation, retry
// bounding, purge, health report.
func (m *Maintenance) Pass(ctx context.Context) {
	now := time.Now().UTC()

	released, err := m.queue.ReleaseStale(ctx, now.Add(-m.staleThreshold))
	if err != nil {
		log.Printf("[maintenance] stale release failed: %v", err)
	} else {
		reclaimed, exhausted := 0, 0
		for _, it := range released {
			if settleReleasedItem(ctx, m.subs, m.bus, it) {
				exhausted++
			} else {
				reclaimed++
			}
		}
		if len(released) > 0 {
			log.Printf("[maintenance] released %d stale leases (%d reclaimed, %d failed)",
				len(released), reclaimed, exhausted)
		}
	}

	if n, err := m.queue.PurgeCompleted(ctx, now.Add(-m.queueRetention)); err != nil {
		log.Printf("[maintenance] queue purge failed: %v", err)
	} else if n > 0 {
		log.Printf("[maintenance] purged %d completed queue items", n)
	}

	if n, err := m.execs.PurgeOlderThan(ctx, now.Add(-m.executionRetention)); err != nil {
		log.Printf("[maintenance] execution purge failed: %v", err)
	} else if n > 0 {
		log.Printf("[maintenance] purged %d old executions", n)
	}

	if m.metrics != nil {
		if report, err := m.metrics.Health(ctx); err != nil {
			log.Printf("[maintenance] health report failed: %v", err)
		} else {
			log.Printf("[maintenance] health pending=%d running=%d workers=%d oldest_pending=%s",
				report.Queue[StatusPending], report.Queue[StatusRunning],
				len(report.Workers), report.OldestPendingAge)
		}
	}
}

// settleReleasedItem settles the submission side of a released queue item:
// back to PENDING when the item can retry, finalized FAILED/INTERNAL_ERROR
// when the budget is exhausted. Reports true for exhaustion.
func settleReleasedItem(ctx context.Context, subs SubmissionRepository, bus EventBus, it QueueItem) bool {
	if it.Status == StatusFailed {
		finalizeInternalFailure(ctx, subs, bus, it.SubmissionID, it.ErrorMessage)
		return true
	}
	if err := subs.MarkPending(ctx, it.SubmissionID); err != nil && !errors.Is(err, ErrConflict) {
		log.Printf("release submission %s failed: %v", it.SubmissionID, err)
	}
	return false
}

// finalizeInternalFailure records the terminal FAILED state and emits
// judge.error.
func finalizeInternalFailure(ctx context.Context, subs SubmissionRepository, bus EventBus, submissionID, msg string) {
	fin := Finalization{
		Status:   StatusFailed,
		Result:   VerdictInternalError,
		JudgedAt: time.Now().UTC(),
	}
	if err := subs.Finalize(ctx, submissionID, fin); err != nil && !errors.Is(err, ErrNotFound) {
		log.Printf("finalize failed submission %s: %v", submissionID, err)
	}
	publish(ctx, bus, NewEvent(EventJudgeError, submissionID, map[string]any{
		"submission_id": submissionID,
		"error_kind":    KindRetriesExhausted,
		"message":       msg,
	}))
}
