package core

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CaseType separates publicly visible cases from hidden ones.
type CaseType string

const (
	CaseSample CaseType = "SAMPLE"
	CaseHidden CaseType = "HIDDEN"
)

// JudgeCase is one entry of a problem's case manifest. The manifest is owned
// by the catalog domain; the engine reads it by value per judge run.
type JudgeCase struct {
	ID             string
	Input          string
	ExpectedOutput string
	Points         int
	Type           CaseType
	TimeLimitMS    int
	MemoryLimitMB  int
}

// MaxPoints sums the manifest's points.
func MaxPoints(cases []JudgeCase) int {
	total := 0
	for _, c := range cases {
		total += c.Points
	}
	return total
}

// Catalog is the read contract the engine consumes from the problem/user
// domain. Nothing more than the engine needs: case manifests, problem
// liveness, and the role/difficulty inputs of priority computation.
type Catalog interface {
	GetCases(ctx context.Context, problemID string) ([]JudgeCase, error)
	ProblemExists(ctx context.Context, problemID string) (bool, error)
	ProblemIsActive(ctx context.Context, problemID string) (bool, error)
	ProblemDifficulty(ctx context.Context, problemID string) (string, error)
	UserRole(ctx context.Context, userID string) (string, error)
}

// PgCatalog reads the catalog tables directly. The catalog domain owns the
// schema; the engine only selects.
type PgCatalog struct {
	db *pgxpool.Pool
}

func NewPgCatalog(db *pgxpool.Pool) *PgCatalog {
	return &PgCatalog{db: db}
}

func (c *PgCatalog) GetCases(ctx context.Context, problemID string) ([]JudgeCase, error) {
	const q = `
SELECT id, input, expected_output, points, case_type, time_limit_ms, memory_limit_mb
FROM judge_cases WHERE problem_id=$1 ORDER BY seq`
	rows, err := c.db.Query(ctx, q, problemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cases []JudgeCase
	for rows.Next() {
		var jc JudgeCase
		if err := rows.Scan(&jc.ID, &jc.Input, &jc.ExpectedOutput, &jc.Points,
			&jc.Type, &jc.TimeLimitMS, &jc.MemoryLimitMB); err != nil {
			return nil, err
		}
		cases = append(cases, jc)
	}
	return cases, rows.Err()
}

func (c *PgCatalog) ProblemExists(ctx context.Context, problemID string) (bool, error) {
	var one int
	err := c.db.QueryRow(ctx, `SELECT 1 FROM problems WHERE id=$1`, problemID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *PgCatalog) ProblemIsActive(ctx context.Context, problemID string) (bool, error) {
	var active bool
	err := c.db.QueryRow(ctx, `SELECT is_active FROM problems WHERE id=$1`, problemID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return active, nil
}

func (c *PgCatalog) ProblemDifficulty(ctx context.Context, problemID string) (string, error) {
	var difficulty string
	err := c.db.QueryRow(ctx, `SELECT difficulty FROM problems WHERE id=$1`, problemID).Scan(&difficulty)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return difficulty, err
}

func (c *PgCatalog) UserRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := c.db.QueryRow(ctx, `SELECT role FROM users WHERE id=$1`, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return role, err
}
