package core

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Event types published by the engine. For a single submission the order is
// created -> started -> (completed | error); across submissions no ordering
// is promised. Delivery is at-least-once, best-effort.
const (
	EventSubmissionCreated = "submission.created"
	EventJudgeStarted      = "judge.started"
	EventJudgeCompleted    = "judge.completed"
	EventJudgeError        = "judge.error"
	EventExecutionStarted  = "execution.started"
	EventExecutionFinished = "execution.finished"
)

// Event is one domain event envelope. CorrelationID is the submission (or
// execution) id for lifecycle events.
type Event struct {
	ID            string         `json:"event_id"`
	Type          string         `json:"event_type"`
	OccurredAt    time.Time      `json:"occurred_at"`
	CorrelationID string         `json:"correlation_id"`
	Payload       map[string]any `json:"payload"`
}

// NewEvent stamps a fresh envelope.
func NewEvent(eventType, correlationID string, payload map[string]any) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: correlationID,
		Payload:       payload,
	}
}

// EventBus fans events out to interested consumers.
type EventBus interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// LogBus is the no-broker fallback: events go to the process log only.
type LogBus struct{}

func (LogBus) Publish(_ context.Context, ev Event) error {
	data, _ := json.Marshal(ev.Payload)
	log.Printf("event %s correlation=%s payload=%s", ev.Type, ev.CorrelationID, data)
	return nil
}

func (LogBus) Close() error { return nil }

// RabbitBus publishes events to a RabbitMQ queue per event type.
type RabbitBus struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	durable bool
}

func NewRabbitBus(url string, durable bool) (*RabbitBus, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &RabbitBus{conn: conn, channel: ch, durable: durable}, nil
}

func (b *RabbitBus) Publish(ctx context.Context, ev Event) error {
	if _, err := b.channel.QueueDeclare(ev.Type, b.durable, false, false, false, nil); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.channel.PublishWithContext(ctx, "", ev.Type, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   ev.ID,
		Timestamp:   ev.OccurredAt,
		Headers:     amqp.Table{"correlation_id": ev.CorrelationID},
		Body:        body,
	})
}

func (b *RabbitBus) Close() error {
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// PgEventLog decorates a bus with an append-only event_log table. Log write
// failures do not block publication.
type PgEventLog struct {
	db   *pgxpool.Pool
	next EventBus
}

func NewPgEventLog(db *pgxpool.Pool, next EventBus) *PgEventLog {
	return &PgEventLog{db: db, next: next}
}

func (l *PgEventLog) Publish(ctx context.Context, ev Event) error {
	const q = `INSERT INTO event_log (id, event_type, correlation_id, occurred_at, payload)
VALUES ($1,$2,$3,$4,$5)`
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	if _, err := l.db.Exec(ctx, q, ev.ID, ev.Type, ev.CorrelationID, ev.OccurredAt, payload); err != nil {
		log.Printf("event log append failed for %s: %v", ev.ID, err)
	}
	return l.next.Publish(ctx, ev)
}

func (l *PgEventLog) Close() error { return l.next.Close() }

// publish is the shared fire-and-log helper; event delivery never fails a
// state transition.
func publish(ctx context.Context, bus EventBus, ev Event) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, ev); err != nil {
		log.Printf("publish %s failed: %v", ev.Type, err)
	}
}
