package core

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	WorkerHeartbeatPrefix   = "judge:worker:heartbeat:"
	WorkerHeartbeatTTL      = 45 * time.Second
	workerHeartbeatInterval = 5 * time.Second
)

// WorkerHeartbeatKey returns the redis key for the given worker id.
func WorkerHeartbeatKey(id string) string {
	return WorkerHeartbeatPrefix + id
}

// RedisClientRaw is the minimal redis subset used for heartbeats and metrics.
type RedisClientRaw interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// NewRedisClient returns a configured go-redis client from URL
// (e.g., redis://localhost:6379/0).
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}

// WorkerHeartbeat はワーカープロセスが定期送信する稼働情報。
// JSON で redis に保存し、メトリクス API から参照する。
type WorkerHeartbeat struct {
	WorkerID       string    `json:"worker_id"`
	Hostname       string    `json:"hostname"`
	PID            int       `json:"pid"`
	Concurrency    int       `json:"concurrency"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	Status         string    `json:"status"` // idle|busy|starting
	RunningCount   int       `json:"running_count"`
	RunningJobs    []string  `json:"running_jobs,omitempty"`
	ProcessedTotal int64     `json:"processed_total"`
	FailedTotal    int64     `json:"failed_total"`
	LastError      string    `json:"last_error,omitempty"`
	NumGoroutine   int       `json:"num_goroutine"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SaveHeartbeat stores heartbeat JSON with TTL.
func SaveHeartbeat(ctx context.Context, client RedisClientRaw, hb WorkerHeartbeat) error {
	hb.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	return client.Set(ctx, WorkerHeartbeatKey(hb.WorkerID), data, WorkerHeartbeatTTL).Err()
}

// HeartbeatState は単一ワーカープロセスの集約状態を保持する。
type HeartbeatState struct {
	mu      sync.Mutex
	hb      WorkerHeartbeat
	running map[string]time.Time
}

func NewHeartbeatState(workerID string, concurrency int) *HeartbeatState {
	hostname, _ := os.Hostname()
	now := time.Now().UTC()
	return &HeartbeatState{
		hb: WorkerHeartbeat{
			WorkerID:    workerID,
			Hostname:    hostname,
			PID:         os.Getpid(),
			Concurrency: concurrency,
			Status:      "starting",
			StartedAt:   now,
			UpdatedAt:   now,
			RunningJobs: []string{},
		},
		running: make(map[string]time.Time),
	}
}

// Start は TTL 更新をバックグラウンドで行う。
func (s *HeartbeatState) Start(ctx context.Context, client RedisClientRaw) {
	s.flush(ctx, client)
	ticker := time.NewTicker(workerHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flush(ctx, client)
		}
	}
}

// JobStarted records a submission going into grading.
func (s *HeartbeatState) JobStarted(submissionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hb.Status = "busy"
	s.running[submissionID] = time.Now().UTC()
	s.updateRunningLocked()
}

// JobFinished records a grading run ending, failed or not.
func (s *HeartbeatState) JobFinished(submissionID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, submissionID)
	s.hb.ProcessedTotal++
	if err != nil {
		s.hb.FailedTotal++
		s.hb.LastError = err.Error()
	}
	if len(s.running) == 0 {
		s.hb.Status = "idle"
	}
	s.updateRunningLocked()
}

func (s *HeartbeatState) updateRunningLocked() {
	s.hb.RunningCount = len(s.running)
	s.hb.RunningJobs = s.hb.RunningJobs[:0]
	for id := range s.running {
		if len(s.hb.RunningJobs) >= 3 {
			break
		}
		s.hb.RunningJobs = append(s.hb.RunningJobs, id)
	}
}

// Snapshot returns a copy of the current heartbeat.
func (s *HeartbeatState) Snapshot() WorkerHeartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hb
}

func (s *HeartbeatState) flush(ctx context.Context, client RedisClientRaw) {
	s.mu.Lock()
	s.hb.UptimeSeconds = int64(time.Since(s.hb.StartedAt).Seconds())
	s.hb.NumGoroutine = runtime.NumGoroutine()
	hbCopy := s.hb
	s.mu.Unlock()
	_ = SaveHeartbeat(ctx, client, hbCopy)
}
