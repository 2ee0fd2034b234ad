package core

import (
	"context"
	"encoding/json"
	"time"
)

// HealthReport is the maintenance snapshot: queue counts per status, live
// workers, and the oldest pending wait.
type HealthReport struct {
	Timestamp        time.Time         `json:"timestamp"`
	Queue            map[Status]int64  `json:"queue"`
	Submissions      map[Status]int64  `json:"submissions"`
	Workers          []WorkerHeartbeat `json:"workers"`
	OldestPendingAge time.Duration     `json:"oldest_pending_age"`
	HasPending       bool              `json:"has_pending"`
}

// MetricsService merges queue counts from the store with live worker
// heartbeats from redis.
type MetricsService struct {
	queue QueueRepository
	subs  SubmissionRepository
	redis RedisClientRaw
}

func NewMetricsService(queue QueueRepository, subs SubmissionRepository, redis RedisClientRaw) *MetricsService {
	return &MetricsService{queue: queue, subs: subs, redis: redis}
}

// Health collects one full report.
func (s *MetricsService) Health(ctx context.Context) (*HealthReport, error) {
	now := time.Now().UTC()
	queueCounts, err := s.queue.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	age, hasPending, err := s.queue.OldestPendingAge(ctx, now)
	if err != nil {
		return nil, err
	}
	report := &HealthReport{
		Timestamp:        now,
		Queue:            queueCounts,
		OldestPendingAge: age,
		HasPending:       hasPending,
	}
	if s.subs != nil {
		if counts, err := s.subs.CountByStatus(ctx); err == nil {
			report.Submissions = counts
		}
	}
	if s.redis != nil {
		workers, err := s.Workers(ctx)
		if err != nil {
			return nil, err
		}
		report.Workers = workers
	}
	return report, nil
}

// Workers returns every heartbeat still alive in redis.
func (s *MetricsService) Workers(ctx context.Context) ([]WorkerHeartbeat, error) {
	iter := s.redis.Scan(ctx, 0, WorkerHeartbeatPrefix+"*", 100).Iterator()
	var res []WorkerHeartbeat
	for iter.Next(ctx) {
		val, err := s.redis.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		var hb WorkerHeartbeat
		if err := json.Unmarshal([]byte(val), &hb); err != nil {
			continue
		}
		res = append(res, hb)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// WorkerItems lists the queue items that carry the worker's id: its RUNNING
// leases and the COMPLETED items it finished. Released and failed items have
// no worker id and are not listed.
func (s *MetricsService) WorkerItems(ctx context.Context, workerID string) ([]QueueItem, error) {
	return s.queue.FindByWorker(ctx, workerID)
}

// WorkerByID returns one worker's heartbeat.
func (s *MetricsService) WorkerByID(ctx context.Context, id string) (*WorkerHeartbeat, error) {
	val, err := s.redis.Get(ctx, WorkerHeartbeatKey(id)).Result()
	if err != nil {
		return nil, err
	}
	var hb WorkerHeartbeat
	if err := json.Unmarshal([]byte(val), &hb); err != nil {
		return nil, err
	}
	return &hb, nil
}
