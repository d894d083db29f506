// Package events publishes evaluation lifecycle messages. Publishing is
// best effort: callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"english-eval-go/internal/config"
	"english-eval-go/internal/logger"
	"english-eval-go/internal/types"
)

const (
	TypeEvaluated = "evaluation.evaluated"
	TypeFailed    = "evaluation.failed"
)

// Event is the JSON body of a lifecycle message.
type Event struct {
	Type         string    `json:"type"`
	EvaluationID string    `json:"evaluation_id"`
	EmployeeID   int64     `json:"employee_id"`
	Status       string    `json:"status"`
	Stage        string    `json:"stage,omitempty"`
	Kind         string    `json:"kind,omitempty"`
	OverallScore *int      `json:"overall_score,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func Evaluated(ev types.Evaluation, report types.Report, at time.Time) Event {
	score := report.OverallScore
	return Event{
		Type:         TypeEvaluated,
		EvaluationID: ev.ID.String(),
		EmployeeID:   ev.Employee.ID,
		Status:       string(types.StatusEvaluated),
		OverallScore: &score,
		OccurredAt:   at,
	}
}

func Failed(ev types.Evaluation, stage, kind string, at time.Time) Event {
	return Event{
		Type:         TypeFailed,
		EvaluationID: ev.ID.String(),
		EmployeeID:   ev.Employee.ID,
		Status:       string(types.StatusFailed),
		Stage:        stage,
		Kind:         kind,
		OccurredAt:   at,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop drops every event. Used when events are disabled.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// RabbitMQ publishes to a durable topic exchange. The routing key is
// "<prefix>.<event type>", e.g. "evaluation.evaluation.failed".
type RabbitMQ struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	prefix   string
}

func NewRabbitMQ(cfg config.EventsConfig) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // kind
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", cfg.Exchange, err)
	}
	logger.Component("events").WithField("exchange", cfg.Exchange).Info("connected to rabbitmq")
	return &RabbitMQ{conn: conn, channel: ch, exchange: cfg.Exchange, prefix: cfg.RoutingKey}, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, e Event) error {
	msg, err := Message(e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// amqp channels are not safe for concurrent publishing
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel.PublishWithContext(ctx, r.exchange, RoutingKey(r.prefix, e.Type), false, false, msg)
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.channel.Close(); err != nil {
		_ = r.conn.Close()
		return err
	}
	return r.conn.Close()
}

// Message builds the persistent JSON publishing for e.
func Message(e Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encoding event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.EvaluationID + ":" + e.Type,
		Timestamp:    e.OccurredAt,
		Type:         e.Type,
		Body:         body,
	}, nil
}

func RoutingKey(prefix, eventType string) string {
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}

// Recorder keeps published events in memory. Tests use it.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.Err
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
