package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QueueItem is one schedulable unit of judge work. A submission has at most
// one live (PENDING or RUNNING) item at any moment; the migration enforces it
// with a partial unique index.
type QueueItem struct {
	ID           string            `json:"id"`
	SubmissionID string            `json:"submission_id"`
	Priority     int               `json:"priority"`
	RetryCount   int               `json:"retry_count"`
	MaxRetries   int               `json:"max_retries"`
	Status       Status            `json:"status"`
	WorkerID     *string           `json:"worker_id"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	AssignedAt   *time.Time        `json:"assigned_at"`
	StartedAt    *time.Time        `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at"`
}

// DefaultMaxRetries bounds system-side retries per queue item.
const DefaultMaxRetries = 3

// QueueRepository defines the scheduler-facing store. Its operations are the
// synchronization primitives of the engine: claims are atomic, completion and
// failure apply only for the owning worker.
type QueueRepository interface {
	Enqueue(ctx context.Context, item *QueueItem) error
	// ClaimNext atomically transitions the highest-priority PENDING item
	// (ties broken by oldest created_at) to RUNNING owned by workerID.
	// Returns ErrNoPending when the queue is empty.
	ClaimNext(ctx context.Context, workerID string) (*QueueItem, error)
	// Complete marks the item COMPLETED; ErrNotClaimed unless workerID owns it.
	Complete(ctx context.Context, itemID, workerID string) error
	// Fail records msg, bumps retry_count and either returns the item to
	// PENDING or, when the budget is exhausted, moves it to FAILED.
	// ErrNotClaimed unless workerID owns it. Returns the updated item.
	Fail(ctx context.Context, itemID, workerID, msg string) (*QueueItem, error)
	// ReleaseWorker returns every RUNNING item owned by workerID to PENDING
	// (FAILED when retries run out), bumping retry_count. Returns the items.
	ReleaseWorker(ctx context.Context, workerID string) ([]QueueItem, error)
	// ReleaseStale does the same for RUNNING items started before cutoff,
	// regardless of owner. The recovery path for crashed workers.
	ReleaseStale(ctx context.Context, cutoff time.Time) ([]QueueItem, error)
	FindBySubmission(ctx context.Context, submissionID string) (*QueueItem, error)
	FindByWorker(ctx context.Context, workerID string) ([]QueueItem, error)
	// PurgeCompleted deletes COMPLETED items older than cutoff.
	PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	// OldestPendingAge reports how long the oldest PENDING item has waited.
	OldestPendingAge(ctx context.Context, now time.Time) (time.Duration, bool, error)
}

// PgQueueRepository implements QueueRepository over postgres. Atomicity of
// ClaimNext rests on a single-row UPDATE with FOR UPDATE SKIP LOCKED, so
// concurrent workers never observe the same item.
type PgQueueRepository struct {
	db *pgxpool.Pool
}

func NewPgQueueRepository(db *pgxpool.Pool) *PgQueueRepository {
	return &PgQueueRepository{db: db}
}

const queueColumns = `id, submission_id, priority, retry_count, max_retries, status,
worker_id, error_message, metadata, created_at, updated_at, assigned_at, started_at, completed_at`

func scanQueueItem(row pgx.Row) (*QueueItem, error) {
	var it QueueItem
	if err := row.Scan(&it.ID, &it.SubmissionID, &it.Priority, &it.RetryCount,
		&it.MaxRetries, &it.Status, &it.WorkerID, &it.ErrorMessage, &it.Metadata,
		&it.CreatedAt, &it.UpdatedAt, &it.AssignedAt, &it.StartedAt,
		&it.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &it, nil
}

func (r *PgQueueRepository) Enqueue(ctx context.Context, item *QueueItem) error {
	const q = `INSERT INTO queue_items
(id, submission_id, priority, retry_count, max_retries, status, metadata)
VALUES ($1,$2,$3,0,$4,$5,$6)
RETURNING created_at, updated_at`
	return r.db.QueryRow(ctx, q, item.ID, item.SubmissionID, item.Priority,
		item.MaxRetries, item.Status, item.Metadata).
		Scan(&item.CreatedAt, &item.UpdatedAt)
}

func (r *PgQueueRepository) ClaimNext(ctx context.Context, workerID string) (*QueueItem, error) {
	const q = `UPDATE queue_items SET
status=$1, worker_id=$2, assigned_at=NOW(), started_at=NOW(), updated_at=NOW()
WHERE id = (
    SELECT id FROM queue_items
    WHERE status=$3
    ORDER BY priority DESC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + queueColumns
	it, err := scanQueueItem(r.db.QueryRow(ctx, q, StatusRunning, workerID, StatusPending))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoPending
	}
	return it, err
}

func (r *PgQueueRepository) Complete(ctx context.Context, itemID, workerID string) error {
	const q = `UPDATE queue_items SET
status=$1, completed_at=NOW(), updated_at=NOW()
WHERE id=$2 AND worker_id=$3 AND status=$4`
	ct, err := r.db.Exec(ctx, q, StatusCompleted, itemID, workerID, StatusRunning)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (r *PgQueueRepository) Fail(ctx context.Context, itemID, workerID, msg string) (*QueueItem, error) {
	// retry budget decides PENDING vs FAILED in one statement
	const q = `UPDATE queue_items SET
retry_count = LEAST(retry_count + 1, max_retries),
status       = CASE WHEN retry_count + 1 > max_retries THEN $1 ELSE $2 END,
worker_id    = NULL,
assigned_at  = NULL,
started_at   = NULL,
completed_at = CASE WHEN retry_count + 1 > max_retries THEN NOW() ELSE NULL END,
error_message=$3, updated_at=NOW()
WHERE id=$4 AND worker_id=$5 AND status=$6
RETURNING ` + queueColumns
	it, err := scanQueueItem(r.db.QueryRow(ctx, q, StatusFailed, StatusPending,
		msg, itemID, workerID, StatusRunning))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotClaimed
	}
	return it, err
}

func (r *PgQueueRepository) ReleaseWorker(ctx context.Context, workerID string) ([]QueueItem, error) {
	const q = `UPDATE queue_items SET
retry_count = LEAST(retry_count + 1, max_retries),
status       = CASE WHEN retry_count + 1 > max_retries THEN $1 ELSE $2 END,
worker_id    = NULL,
assigned_at  = NULL,
started_at   = NULL,
completed_at = CASE WHEN retry_count + 1 > max_retries THEN NOW() ELSE NULL END,
updated_at   = NOW()
WHERE worker_id=$3 AND status=$4
RETURNING ` + queueColumns
	return r.releaseQuery(ctx, q, StatusFailed, StatusPending, workerID, StatusRunning)
}

func (r *PgQueueRepository) ReleaseStale(ctx context.Context, cutoff time.Time) ([]QueueItem, error) {
	const q = `UPDATE queue_items SET
retry_count = LEAST(retry_count + 1, max_retries),
status       = CASE WHEN retry_count + 1 > max_retries THEN $1 ELSE $2 END,
worker_id    = NULL,
assigned_at  = NULL,
started_at   = NULL,
completed_at = CASE WHEN retry_count + 1 > max_retries THEN NOW() ELSE NULL END,
updated_at   = NOW()
WHERE status=$3 AND started_at < $4
RETURNING ` + queueColumns
	return r.releaseQuery(ctx, q, StatusFailed, StatusPending, StatusRunning, cutoff)
}

func (r *PgQueueRepository) releaseQuery(ctx context.Context, q string, args ...any) ([]QueueItem, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []QueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (r *PgQueueRepository) FindBySubmission(ctx context.Context, submissionID string) (*QueueItem, error) {
	const q = `SELECT ` + queueColumns + ` FROM queue_items
WHERE submission_id=$1 ORDER BY created_at DESC LIMIT 1`
	return scanQueueItem(r.db.QueryRow(ctx, q, submissionID))
}

func (r *PgQueueRepository) FindByWorker(ctx context.Context, workerID string) ([]QueueItem, error) {
	const q = `SELECT ` + queueColumns + ` FROM queue_items
WHERE worker_id=$1 ORDER BY assigned_at DESC`
	return r.releaseQuery(ctx, q, workerID)
}

func (r *PgQueueRepository) PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM queue_items WHERE status=$1 AND completed_at < $2`
	ct, err := r.db.Exec(ctx, q, StatusCompleted, cutoff)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *PgQueueRepository) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[Status]int64{}
	for rows.Next() {
		var st Status
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

func (r *PgQueueRepository) OldestPendingAge(ctx context.Context, now time.Time) (time.Duration, bool, error) {
	var oldest *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT MIN(created_at) FROM queue_items WHERE status=$1`, StatusPending).
		Scan(&oldest)
	if err != nil {
		return 0, false, err
	}
	if oldest == nil {
		return 0, false, nil
	}
	return now.Sub(*oldest), true, nil
}
