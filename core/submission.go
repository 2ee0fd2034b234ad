package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Submission is the canonical unit of judged work.
type Submission struct {
	ID              string
	ProblemID       string
	UserID          string
	Code            string
	Language        Language
	Status          Status
	Result          Verdict
	TotalPoints     int
	MaxPoints       int
	ExecutionTimeMS int64
	MemoryUsageKB   int64
	CompileError    string
	Metadata        map[string]string
	CaseResults     []CaseResult
	CreatedAt       time.Time
	UpdatedAt       time.Time
	JudgedAt        *time.Time
}

// CaseResult is one grader case outcome. Rows are immutable after insertion.
type CaseResult struct {
	CaseID          string
	Verdict         Verdict
	PointsAwarded   int
	ExecutionTimeMS int64
	MemoryUsedKB    int64
	OutputExcerpt   string
	StderrExcerpt   string
	ExitCode        int
	Feedback        string
	CreatedAt       time.Time
}

// Finalization carries everything a worker writes when a judge run ends.
type Finalization struct {
	Status          Status
	Result          Verdict
	TotalPoints     int
	ExecutionTimeMS int64
	MemoryUsageKB   int64
	CompileError    string
	CaseResults     []CaseResult
	JudgedAt        time.Time
}

// SubmissionListItem is a flattened view for list endpoints.
type SubmissionListItem struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ProblemID   string    `json:"problem_id"`
	Language    Language  `json:"language"`
	Status      Status    `json:"status"`
	Result      Verdict   `json:"result"`
	TotalPoints int       `json:"total_points"`
	MaxPoints   int       `json:"max_points"`
	CreatedAt   time.Time `json:"created_at"`
}

// SubmissionRepository defines persistence operations for submissions and
// their case results.
type SubmissionRepository interface {
	Create(ctx context.Context, sub *Submission) error
	FindByID(ctx context.Context, id string) (*Submission, error)
	// MarkRunning transitions PENDING -> RUNNING; ErrConflict otherwise.
	MarkRunning(ctx context.Context, id string) error
	// MarkPending returns a RUNNING submission to PENDING (released lease).
	MarkPending(ctx context.Context, id string) error
	// Finalize writes the terminal state and case results in one transaction.
	Finalize(ctx context.Context, id string, fin Finalization) error
	// ResetForRejudge resets a terminal submission back to PENDING, clears
	// accumulators and case results, and enqueues item atomically.
	// ErrConflict when the submission is not terminal.
	ResetForRejudge(ctx context.Context, id string, item *QueueItem) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]SubmissionListItem, error)
	ListByProblem(ctx context.Context, problemID string, limit, offset int) ([]SubmissionListItem, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

// PgSubmissionRepository is the pgx implementation.
// Expects tables `submissions` and `case_results` (see migrations).
type PgSubmissionRepository struct {
	db *pgxpool.Pool
}

func NewPgSubmissionRepository(db *pgxpool.Pool) *PgSubmissionRepository {
	return &PgSubmissionRepository{db: db}
}

const submissionColumns = `id, problem_id, user_id, code, language, status, result,
total_points, max_points, execution_time_ms, memory_usage_kb, compile_error,
metadata, created_at, updated_at, judged_at`

func scanSubmission(row pgx.Row) (*Submission, error) {
	var s Submission
	if err := row.Scan(&s.ID, &s.ProblemID, &s.UserID, &s.Code, &s.Language,
		&s.Status, &s.Result, &s.TotalPoints, &s.MaxPoints, &s.ExecutionTimeMS,
		&s.MemoryUsageKB, &s.CompileError, &s.Metadata, &s.CreatedAt,
		&s.UpdatedAt, &s.JudgedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *PgSubmissionRepository) Create(ctx context.Context, sub *Submission) error {
	const q = `INSERT INTO submissions
(id, problem_id, user_id, code, language, status, result, total_points, max_points, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,$9)
RETURNING created_at, updated_at`
	return r.db.QueryRow(ctx, q, sub.ID, sub.ProblemID, sub.UserID, sub.Code,
		sub.Language, sub.Status, sub.Result, sub.MaxPoints, sub.Metadata).
		Scan(&sub.CreatedAt, &sub.UpdatedAt)
}

func (r *PgSubmissionRepository) FindByID(ctx context.Context, id string) (*Submission, error) {
	s, err := scanSubmission(r.db.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
SELECT case_id, verdict, points_awarded, execution_time_ms, memory_used_kb,
       output_excerpt, stderr_excerpt, exit_code, feedback, created_at
FROM case_results WHERE submission_id=$1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var cr CaseResult
		if err := rows.Scan(&cr.CaseID, &cr.Verdict, &cr.PointsAwarded,
			&cr.ExecutionTimeMS, &cr.MemoryUsedKB, &cr.OutputExcerpt,
			&cr.StderrExcerpt, &cr.ExitCode, &cr.Feedback, &cr.CreatedAt); err != nil {
			return nil, err
		}
		s.CaseResults = append(s.CaseResults, cr)
	}
	return s, rows.Err()
}

func (r *PgSubmissionRepository) MarkRunning(ctx context.Context, id string) error {
	const q = `UPDATE submissions SET status=$1, updated_at=NOW()
WHERE id=$2 AND status=$3`
	ct, err := r.db.Exec(ctx, q, StatusRunning, id, StatusPending)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: submission %s is not pending", ErrConflict, id)
	}
	return nil
}

func (r *PgSubmissionRepository) MarkPending(ctx context.Context, id string) error {
	const q = `UPDATE submissions SET status=$1, updated_at=NOW()
WHERE id=$2 AND status=$3`
	ct, err := r.db.Exec(ctx, q, StatusPending, id, StatusRunning)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: submission %s is not running", ErrConflict, id)
	}
	return nil
}

func (r *PgSubmissionRepository) Finalize(ctx context.Context, id string, fin Finalization) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upd = `UPDATE submissions SET
status=$1, result=$2, total_points=$3, execution_time_ms=$4, memory_usage_kb=$5,
compile_error=$6, judged_at=$7, updated_at=NOW()
WHERE id=$8`
	ct, err := tx.Exec(ctx, upd, fin.Status, fin.Result, fin.TotalPoints,
		fin.ExecutionTimeMS, fin.MemoryUsageKB, fin.CompileError, fin.JudgedAt, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}

	const ins = `INSERT INTO case_results
(submission_id, seq, case_id, verdict, points_awarded, execution_time_ms,
 memory_used_kb, output_excerpt, stderr_excerpt, exit_code, feedback)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	for i, cr := range fin.CaseResults {
		if _, err := tx.Exec(ctx, ins, id, i, cr.CaseID, cr.Verdict,
			cr.PointsAwarded, cr.ExecutionTimeMS, cr.MemoryUsedKB,
			cr.OutputExcerpt, cr.StderrExcerpt, cr.ExitCode, cr.Feedback); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ResetForRejudge clears the judge outcome and enqueues in a single
// transaction, so a terminal submission is never observable without a live
// queue item.
func (r *PgSubmissionRepository) ResetForRejudge(ctx context.Context, id string, item *QueueItem) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upd = `UPDATE submissions SET
status=$1, result=$2, total_points=0, execution_time_ms=0, memory_usage_kb=0,
compile_error='', judged_at=NULL, updated_at=NOW()
WHERE id=$3 AND status IN ($4,$5)`
	ct, err := tx.Exec(ctx, upd, StatusPending, VerdictPending, id,
		StatusCompleted, StatusFailed)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		// distinguish missing from non-terminal
		var status Status
		err := r.db.QueryRow(ctx, `SELECT status FROM submissions WHERE id=$1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: submission %s is %s", ErrConflict, id, status)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM case_results WHERE submission_id=$1`, id); err != nil {
		return err
	}

	const ins = `INSERT INTO queue_items
(id, submission_id, priority, retry_count, max_retries, status, metadata)
VALUES ($1,$2,$3,0,$4,$5,$6)
RETURNING created_at, updated_at`
	if err := tx.QueryRow(ctx, ins, item.ID, item.SubmissionID, item.Priority,
		item.MaxRetries, item.Status, item.Metadata).
		Scan(&item.CreatedAt, &item.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const submissionListColumns = `id, user_id, problem_id, language, status, result,
total_points, max_points, created_at`

func (r *PgSubmissionRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]SubmissionListItem, error) {
	const q = `SELECT ` + submissionListColumns + ` FROM submissions
WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.list(ctx, q, userID, limit, offset)
}

func (r *PgSubmissionRepository) ListByProblem(ctx context.Context, problemID string, limit, offset int) ([]SubmissionListItem, error) {
	const q = `SELECT ` + submissionListColumns + ` FROM submissions
WHERE problem_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.list(ctx, q, problemID, limit, offset)
}

func (r *PgSubmissionRepository) list(ctx context.Context, q string, args ...any) ([]SubmissionListItem, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SubmissionListItem
	for rows.Next() {
		var v SubmissionListItem
		if err := rows.Scan(&v.ID, &v.UserID, &v.ProblemID, &v.Language,
			&v.Status, &v.Result, &v.TotalPoints, &v.MaxPoints, &v.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (r *PgSubmissionRepository) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status`)
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
