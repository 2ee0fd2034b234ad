package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExecutionResult is the raw outcome of an ad-hoc run.
type ExecutionResult struct {
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exit_code"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
	MemoryUsedKB    int64  `json:"memory_used_kb"`
}

// CodeExecution is a one-shot run with no problem association. It bypasses
// the queue and the verdict aggregation entirely.
type CodeExecution struct {
	ID            string
	Code          string
	Language      Language
	Input         string
	TimeLimitMS   int
	MemoryLimitMB int
	Status        Status
	Result        *ExecutionResult
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ExecutionRepository persists ad-hoc execution history.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *CodeExecution) error
	SetResult(ctx context.Context, id string, status Status, result *ExecutionResult) error
	FindByID(ctx context.Context, id string) (*CodeExecution, error)
	ListRecent(ctx context.Context, limit int) ([]CodeExecution, error)
	// PurgeOlderThan removes history before cutoff; the retention window is
	// shorter than the queue's.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PgCodeExecutionRepository is the pgx implementation.
type PgCodeExecutionRepository struct {
	db *pgxpool.Pool
}

func NewPgCodeExecutionRepository(db *pgxpool.Pool) *PgCodeExecutionRepository {
	return &PgCodeExecutionRepository{db: db}
}

const executionColumns = `id, code, language, input, time_limit_ms, memory_limit_mb,
status, result, created_at, updated_at`

func scanExecution(row pgx.Row) (*CodeExecution, error) {
	var e CodeExecution
	if err := row.Scan(&e.ID, &e.Code, &e.Language, &e.Input, &e.TimeLimitMS,
		&e.MemoryLimitMB, &e.Status, &e.Result, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *PgCodeExecutionRepository) Create(ctx context.Context, exec *CodeExecution) error {
	const q = `INSERT INTO code_executions
(id, code, language, input, time_limit_ms, memory_limit_mb, status)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING created_at, updated_at`
	return r.db.QueryRow(ctx, q, exec.ID, exec.Code, exec.Language, exec.Input,
		exec.TimeLimitMS, exec.MemoryLimitMB, exec.Status).
		Scan(&exec.CreatedAt, &exec.UpdatedAt)
}

func (r *PgCodeExecutionRepository) SetResult(ctx context.Context, id string, status Status, result *ExecutionResult) error {
	const q = `UPDATE code_executions SET status=$1, result=$2, updated_at=NOW() WHERE id=$3`
	ct, err := r.db.Exec(ctx, q, status, result, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgCodeExecutionRepository) FindByID(ctx context.Context, id string) (*CodeExecution, error) {
	return scanExecution(r.db.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM code_executions WHERE id=$1`, id))
}

func (r *PgCodeExecutionRepository) ListRecent(ctx context.Context, limit int) ([]CodeExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+executionColumns+` FROM code_executions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var execs []CodeExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *e)
	}
	return execs, rows.Err()
}

func (r *PgCodeExecutionRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := r.db.Exec(ctx, `DELETE FROM code_executions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
