package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Input validation bounds for submission creation and ad-hoc execution.
const (
	MaxSourceBytes   = 100_000
	MinAdhocTimeMS   = 100
	MaxAdhocTimeMS   = 30_000
	MinAdhocMemoryMB = 16
	MaxAdhocMemoryMB = 1024

	defaultAdhocTimeMS   = 5000
	defaultAdhocMemoryMB = 256
)

// JudgeService is the caller-facing surface of the engine: submission
// creation, rejudge, queries, and ad-hoc execution. Judging itself happens in
// the worker pool.
type JudgeService struct {
	subs    SubmissionRepository
	queue   QueueRepository
	execs   ExecutionRepository
	catalog Catalog
	runner  *CaseRunner
	bus     EventBus
}

func NewJudgeService(subs SubmissionRepository, queue QueueRepository,
	execs ExecutionRepository, catalog Catalog, runner *CaseRunner, bus EventBus) *JudgeService {
	return &JudgeService{
		subs:    subs,
		queue:   queue,
		execs:   execs,
		catalog: catalog,
		runner:  runner,
		bus:     bus,
	}
}

// CreateSubmission validates input, persists the submission with its computed
// max points, enqueues a queue item and emits submission.created.
func (s *JudgeService) CreateSubmission(ctx context.Context, userID, problemID, code, language string, metadata map[string]string) (*Submission, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: source is empty", ErrValidation)
	}
	if len(code) > MaxSourceBytes {
		return nil, fmt.Errorf("%w: source exceeds %d bytes", ErrValidation, MaxSourceBytes)
	}
	lang, err := ParseLanguage(language)
	if err != nil {
		return nil, err
	}

	exists, err := s.catalog.ProblemExists(ctx, problemID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: problem %s does not exist", ErrValidation, problemID)
	}
	active, err := s.catalog.ProblemIsActive(ctx, problemID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, fmt.Errorf("%w: problem %s is not active", ErrValidation, problemID)
	}

	cases, err := s.catalog.GetCases(ctx, problemID)
	if err != nil {
		return nil, err
	}

	sub := &Submission{
		ID:        uuid.NewString(),
		ProblemID: problemID,
		UserID:    userID,
		Code:      code,
		Language:  lang,
		Status:    StatusPending,
		Result:    VerdictPending,
		MaxPoints: MaxPoints(cases),
		Metadata:  metadata,
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, err
	}

	item := &QueueItem{
		ID:           uuid.NewString(),
		SubmissionID: sub.ID,
		Priority:     s.enqueuePriority(ctx, userID, problemID, false),
		MaxRetries:   DefaultMaxRetries,
		Status:       StatusPending,
	}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		// The submission row exists but is stranded; surface the failure so
		// the caller retries rather than silently losing the work.
		log.Printf("enqueue failed for submission %s: %v", sub.ID, err)
		return nil, err
	}

	publish(ctx, s.bus, NewEvent(EventSubmissionCreated, sub.ID, map[string]any{
		"submission_id": sub.ID,
		"user_id":       userID,
		"problem_id":    problemID,
		"language":      string(lang),
		"rejudge":       false,
	}))
	return sub, nil
}

// Rejudge resets a terminal submission and re-enqueues it at elevated
// priority. RUNNING or PENDING submissions are rejected with CONFLICT; the
// reset and the enqueue are one atomic store operation.
func (s *JudgeService) Rejudge(ctx context.Context, submissionID string) (*Submission, error) {
	sub, err := s.subs.FindByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	item := &QueueItem{
		ID:           uuid.NewString(),
		SubmissionID: sub.ID,
		Priority:     s.enqueuePriority(ctx, sub.UserID, sub.ProblemID, true),
		MaxRetries:   DefaultMaxRetries,
		Status:       StatusPending,
		Metadata:     map[string]string{"rejudge": "true"},
	}
	if err := s.subs.ResetForRejudge(ctx, sub.ID, item); err != nil {
		return nil, err
	}

	publish(ctx, s.bus, NewEvent(EventSubmissionCreated, sub.ID, map[string]any{
		"submission_id": sub.ID,
		"user_id":       sub.UserID,
		"problem_id":    sub.ProblemID,
		"language":      string(sub.Language),
		"rejudge":       true,
	}))
	return s.subs.FindByID(ctx, sub.ID)
}

func (s *JudgeService) enqueuePriority(ctx context.Context, userID, problemID string, rejudge bool) int {
	role, err := s.catalog.UserRole(ctx, userID)
	if err != nil {
		log.Printf("role lookup failed for %s: %v", userID, err)
	}
	difficulty, err := s.catalog.ProblemDifficulty(ctx, problemID)
	if err != nil {
		log.Printf("difficulty lookup failed for %s: %v", problemID, err)
	}
	return ComputePriority(PriorityInput{Role: role, Difficulty: difficulty, Rejudge: rejudge})
}

// GetSubmission loads a submission with its case results.
func (s *JudgeService) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	return s.subs.FindByID(ctx, id)
}

func (s *JudgeService) ListUserSubmissions(ctx context.Context, userID string, limit, offset int) ([]SubmissionListItem, error) {
	return s.subs.ListByUser(ctx, userID, clampLimit(limit), offset)
}

func (s *JudgeService) ListProblemSubmissions(ctx context.Context, problemID string, limit, offset int) ([]SubmissionListItem, error) {
	return s.subs.ListByProblem(ctx, problemID, clampLimit(limit), offset)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

// Execute runs code once with no problem attached: validate, persist the
// attempt, compile + run through the sandbox, store the result.
func (s *JudgeService) Execute(ctx context.Context, code, language, input string, timeLimitMS, memoryLimitMB int) (*CodeExecution, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: source is empty", ErrValidation)
	}
	if len(code) > MaxSourceBytes {
		return nil, fmt.Errorf("%w: source exceeds %d bytes", ErrValidation, MaxSourceBytes)
	}
	lang, err := ParseLanguage(language)
	if err != nil {
		return nil, err
	}
	if timeLimitMS == 0 {
		timeLimitMS = defaultAdhocTimeMS
	}
	if timeLimitMS < MinAdhocTimeMS || timeLimitMS > MaxAdhocTimeMS {
		return nil, fmt.Errorf("%w: time limit %dms out of bounds", ErrValidation, timeLimitMS)
	}
	if memoryLimitMB == 0 {
		memoryLimitMB = defaultAdhocMemoryMB
	}
	if memoryLimitMB < MinAdhocMemoryMB || memoryLimitMB > MaxAdhocMemoryMB {
		return nil, fmt.Errorf("%w: memory limit %dMB out of bounds", ErrValidation, memoryLimitMB)
	}

	exec := &CodeExecution{
		ID:            uuid.NewString(),
		Code:          code,
		Language:      lang,
		Input:         input,
		TimeLimitMS:   timeLimitMS,
		MemoryLimitMB: memoryLimitMB,
		Status:        StatusRunning,
	}
	if err := s.execs.Create(ctx, exec); err != nil {
		return nil, err
	}
	publish(ctx, s.bus, NewEvent(EventExecutionStarted, exec.ID, map[string]any{
		"execution_id": exec.ID,
		"language":     string(lang),
	}))

	result, status := s.runAdhoc(ctx, exec)
	exec.Result = result
	exec.Status = status
	exec.UpdatedAt = time.Now().UTC()
	if err := s.execs.SetResult(ctx, exec.ID, status, result); err != nil {
		return nil, err
	}

	publish(ctx, s.bus, NewEvent(EventExecutionFinished, exec.ID, map[string]any{
		"execution_id":      exec.ID,
		"status":            string(status),
		"execution_time_ms": result.ExecutionTimeMS,
		"memory_used_kb":    result.MemoryUsedKB,
	}))
	return exec, nil
}

func (s *JudgeService) runAdhoc(ctx context.Context, exec *CodeExecution) (*ExecutionResult, Status) {
	prepared, err := s.runner.Prepare(ctx, exec.Language, exec.Code, exec.MemoryLimitMB)
	if err != nil {
		return &ExecutionResult{Stderr: truncateExcerpt(err.Error()), ExitCode: -1}, StatusFailed
	}
	if !prepared.Compiled() {
		return &ExecutionResult{Stderr: prepared.CompileDiagnostics, ExitCode: -1}, StatusFailed
	}
	defer func() {
		_ = s.runner.sandbox.Cleanup(ctx, prepared.ArtifactID)
	}()

	rep, err := s.runner.sandbox.Run(ctx, exec.Language, prepared.ArtifactID,
		exec.Input, exec.TimeLimitMS, exec.MemoryLimitMB)
	if err != nil {
		return &ExecutionResult{Stderr: truncateExcerpt(err.Error()), ExitCode: -1}, StatusFailed
	}

	result := &ExecutionResult{
		Stdout:          truncateExcerpt(rep.Stdout),
		Stderr:          truncateExcerpt(rep.Stderr),
		ExitCode:        rep.ExitCode,
		ExecutionTimeMS: rep.WallTimeMS,
		MemoryUsedKB:    rep.PeakMemoryKB,
	}
	if rep.Termination == TermInternal {
		return result, StatusFailed
	}
	return result, StatusCompleted
}

// GetExecution loads one ad-hoc execution record.
func (s *JudgeService) GetExecution(ctx context.Context, id string) (*CodeExecution, error) {
	return s.execs.FindByID(ctx, id)
}

// ListRecentExecutions lists ad-hoc history, newest first.
func (s *JudgeService) ListRecentExecutions(ctx context.Context, limit int) ([]CodeExecution, error) {
	return s.execs.ListRecent(ctx, clampLimit(limit))
}
