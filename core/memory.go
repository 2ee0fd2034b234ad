package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// In-memory store implementations. They back local mode (running the engine
// without postgres) and the package tests. Semantics mirror the Pg
// implementations, including the single-live-item rule and lease ownership
// checks.

// MemSubmissionRepository keeps submissions in a mutex-guarded map.
type MemSubmissionRepository struct {
	mu    sync.Mutex
	subs  map[string]*Submission
	queue *MemQueueRepository // rejudge enqueues through the same lock
}

func NewMemSubmissionRepository(queue *MemQueueRepository) *MemSubmissionRepository {
	return &MemSubmissionRepository{
		subs:  make(map[string]*Submission),
		queue: queue,
	}
}

func (r *MemSubmissionRepository) Create(_ context.Context, sub *Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.ID]; ok {
		return fmt.Errorf("%w: submission %s exists", ErrConflict, sub.ID)
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

func (r *MemSubmissionRepository) FindByID(_ context.Context, id string) (*Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.CaseResults = append([]CaseResult(nil), s.CaseResults...)
	return &cp, nil
}

func (r *MemSubmissionRepository) MarkRunning(_ context.Context, id string) error {
	return r.transition(id, StatusPending, StatusRunning)
}

func (r *MemSubmissionRepository) MarkPending(_ context.Context, id string) error {
	return r.transition(id, StatusRunning, StatusPending)
}

func (r *MemSubmissionRepository) transition(id string, from, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != from {
		return fmt.Errorf("%w: submission %s is %s", ErrConflict, id, s.Status)
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemSubmissionRepository) Finalize(_ context.Context, id string, fin Finalization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = fin.Status
	s.Result = fin.Result
	s.TotalPoints = fin.TotalPoints
	s.ExecutionTimeMS = fin.ExecutionTimeMS
	s.MemoryUsageKB = fin.MemoryUsageKB
	s.CompileError = fin.CompileError
	s.CaseResults = append([]CaseResult(nil), fin.CaseResults...)
	judged := fin.JudgedAt
	s.JudgedAt = &judged
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemSubmissionRepository) ResetForRejudge(ctx context.Context, id string, item *QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusCompleted && s.Status != StatusFailed {
		return fmt.Errorf("%w: submission %s is %s", ErrConflict, id, s.Status)
	}
	s.Status = StatusPending
	s.Result = VerdictPending
	s.TotalPoints = 0
	s.ExecutionTimeMS = 0
	s.MemoryUsageKB = 0
	s.CompileError = ""
	s.CaseResults = nil
	s.JudgedAt = nil
	s.UpdatedAt = time.Now().UTC()
	return r.queue.Enqueue(ctx, item)
}

func (r *MemSubmissionRepository) ListByUser(_ context.Context, userID string, limit, offset int) ([]SubmissionListItem, error) {
	return r.list(func(s *Submission) bool { return s.UserID == userID }, limit, offset), nil
}

func (r *MemSubmissionRepository) ListByProblem(_ context.Context, problemID string, limit, offset int) ([]SubmissionListItem, error) {
	return r.list(func(s *Submission) bool { return s.ProblemID == problemID }, limit, offset), nil
}

func (r *MemSubmissionRepository) list(match func(*Submission) bool, limit, offset int) []SubmissionListItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*Submission
	for _, s := range r.subs {
		if match(s) {
			all = append(all, s)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	var items []SubmissionListItem
	for i := offset; i < len(all) && len(items) < limit; i++ {
		s := all[i]
		items = append(items, SubmissionListItem{
			ID:          s.ID,
			UserID:      s.UserID,
			ProblemID:   s.ProblemID,
			Language:    s.Language,
			Status:      s.Status,
			Result:      s.Result,
			TotalPoints: s.TotalPoints,
			MaxPoints:   s.MaxPoints,
			CreatedAt:   s.CreatedAt,
		})
	}
	return items
}

func (r *MemSubmissionRepository) CountByStatus(_ context.Context) (map[Status]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[Status]int64{}
	for _, s := range r.subs {
		counts[s.Status]++
	}
	return counts, nil
}

// MemQueueRepository is the in-memory queue store. Claim ordering matches the
// Pg implementation: priority descending, then created_at ascending.
type MemQueueRepository struct {
	mu    sync.Mutex
	items map[string]*QueueItem
}

func NewMemQueueRepository() *MemQueueRepository {
	return &MemQueueRepository{items: make(map[string]*QueueItem)}
}

func (r *MemQueueRepository) Enqueue(_ context.Context, item *QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items {
		if it.SubmissionID == item.SubmissionID && !it.Status.Terminal() {
			return fmt.Errorf("%w: submission %s already queued", ErrConflict, item.SubmissionID)
		}
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.MaxRetries == 0 {
		item.MaxRetries = DefaultMaxRetries
	}
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *MemQueueRepository) ClaimNext(_ context.Context, workerID string) (*QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *QueueItem
	for _, it := range r.items {
		if it.Status != StatusPending {
			continue
		}
		if best == nil ||
			it.Priority > best.Priority ||
			(it.Priority == best.Priority && it.CreatedAt.Before(best.CreatedAt)) {
			best = it
		}
	}
	if best == nil {
		return nil, ErrNoPending
	}
	now := time.Now().UTC()
	best.Status = StatusRunning
	best.WorkerID = &workerID
	best.AssignedAt = &now
	best.StartedAt = &now
	best.UpdatedAt = now
	cp := *best
	return &cp, nil
}

func (r *MemQueueRepository) Complete(_ context.Context, itemID, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[itemID]
	if !ok || it.Status != StatusRunning || it.WorkerID == nil || *it.WorkerID != workerID {
		return ErrNotClaimed
	}
	now := time.Now().UTC()
	it.Status = StatusCompleted
	it.CompletedAt = &now
	it.UpdatedAt = now
	return nil
}

func (r *MemQueueRepository) Fail(_ context.Context, itemID, workerID, msg string) (*QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[itemID]
	if !ok || it.Status != StatusRunning || it.WorkerID == nil || *it.WorkerID != workerID {
		return nil, ErrNotClaimed
	}
	it.ErrorMessage = msg
	releaseLocked(it)
	cp := *it
	return &cp, nil
}

func (r *MemQueueRepository) ReleaseWorker(_ context.Context, workerID string) ([]QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var released []QueueItem
	for _, it := range r.items {
		if it.Status == StatusRunning && it.WorkerID != nil && *it.WorkerID == workerID {
			releaseLocked(it)
			released = append(released, *it)
		}
	}
	return released, nil
}

func (r *MemQueueRepository) ReleaseStale(_ context.Context, cutoff time.Time) ([]QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var released []QueueItem
	for _, it := range r.items {
		if it.Status == StatusRunning && it.StartedAt != nil && it.StartedAt.Before(cutoff) {
			releaseLocked(it)
			released = append(released, *it)
		}
	}
	return released, nil
}

// releaseLocked bumps the retry counter and either re-pends the item or
// fails it when the budget is gone. Caller holds the lock.
func releaseLocked(it *QueueItem) {
	now := time.Now().UTC()
	exhausted := it.RetryCount+1 > it.MaxRetries
	if !exhausted {
		it.RetryCount++
	} else {
		it.RetryCount = it.MaxRetries
	}
	it.WorkerID = nil
	it.AssignedAt = nil
	it.StartedAt = nil
	if exhausted {
		it.Status = StatusFailed
		it.CompletedAt = &now
	} else {
		it.Status = StatusPending
		it.CompletedAt = nil
	}
	it.UpdatedAt = now
}

func (r *MemQueueRepository) FindBySubmission(_ context.Context, submissionID string) (*QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *QueueItem
	for _, it := range r.items {
		if it.SubmissionID != submissionID {
			continue
		}
		if latest == nil || it.CreatedAt.After(latest.CreatedAt) {
			latest = it
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *MemQueueRepository) FindByWorker(_ context.Context, workerID string) ([]QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []QueueItem
	for _, it := range r.items {
		if it.WorkerID != nil && *it.WorkerID == workerID {
			items = append(items, *it)
		}
	}
	return items, nil
}

func (r *MemQueueRepository) PurgeCompleted(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int64
	for id, it := range r.items {
		if it.Status == StatusCompleted && it.CompletedAt != nil && it.CompletedAt.Before(cutoff) {
			delete(r.items, id)
			purged++
		}
	}
	return purged, nil
}

func (r *MemQueueRepository) CountByStatus(_ context.Context) (map[Status]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[Status]int64{}
	for _, it := range r.items {
		counts[it.Status]++
	}
	return counts, nil
}

func (r *MemQueueRepository) OldestPendingAge(_ context.Context, now time.Time) (time.Duration, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *time.Time
	for _, it := range r.items {
		if it.Status != StatusPending {
			continue
		}
		t := it.CreatedAt
		if oldest == nil || t.Before(*oldest) {
			oldest = &t
		}
	}
	if oldest == nil {
		return 0, false, nil
	}
	return now.Sub(*oldest), true, nil
}

// MemExecutionRepository keeps ad-hoc execution history in memory.
type MemExecutionRepository struct {
	mu    sync.Mutex
	execs map[string]*CodeExecution
}

func NewMemExecutionRepository() *MemExecutionRepository {
	return &MemExecutionRepository{execs: make(map[string]*CodeExecution)}
}

func (r *MemExecutionRepository) Create(_ context.Context, exec *CodeExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	exec.CreatedAt = now
	exec.UpdatedAt = now
	cp := *exec
	r.execs[exec.ID] = &cp
	return nil
}

func (r *MemExecutionRepository) SetResult(_ context.Context, id string, status Status, result *ExecutionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.execs[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	e.Result = result
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemExecutionRepository) FindByID(_ context.Context, id string) (*CodeExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.execs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *MemExecutionRepository) ListRecent(_ context.Context, limit int) ([]CodeExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []CodeExecution
	for _, e := range r.execs {
		all = append(all, *e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemExecutionRepository) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int64
	for id, e := range r.execs {
		if e.CreatedAt.Before(cutoff) {
			delete(r.execs, id)
			purged++
		}
	}
	return purged, nil
}

// MemCatalogProblem is one problem in the in-memory catalog.
type MemCatalogProblem struct {
	Active     bool
	Difficulty string
	Cases      []JudgeCase
}

// MemCatalog serves case manifests and the priority read model from memory.
type MemCatalog struct {
	mu       sync.Mutex
	problems map[string]MemCatalogProblem
	roles    map[string]string
}

func NewMemCatalog() *MemCatalog {
	return &MemCatalog{
		problems: make(map[string]MemCatalogProblem),
		roles:    make(map[string]string),
	}
}

func (c *MemCatalog) PutProblem(id string, p MemCatalogProblem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.problems[id] = p
}

func (c *MemCatalog) PutUser(id, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles[id] = role
}

func (c *MemCatalog) GetCases(_ context.Context, problemID string) ([]JudgeCase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.problems[problemID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]JudgeCase(nil), p.Cases...), nil
}

func (c *MemCatalog) ProblemExists(_ context.Context, problemID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.problems[problemID]
	return ok, nil
}

func (c *MemCatalog) ProblemIsActive(_ context.Context, problemID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.problems[problemID]
	return ok && p.Active, nil
}

func (c *MemCatalog) ProblemDifficulty(_ context.Context, problemID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.problems[problemID].Difficulty, nil
}

func (c *MemCatalog) UserRole(_ context.Context, userID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roles[userID], nil
}
