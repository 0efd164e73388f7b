// Package events publishes patient sync outcomes to Kafka so downstream
// consumers can react to roster changes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const TypeSyncCompleted = "patient.sync.completed"

// SyncCompleted is emitted after every provider sync attempt.
type SyncCompleted struct {
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider"`
	OK        bool      `json:"ok"`
	Message   string    `json:"message,omitempty"`
	Fetched   int       `json:"fetched"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Unchanged int       `json:"unchanged"`
	Failed    int       `json:"failed"`
	SyncedAt  time.Time `json:"synced_at"`
}

type Publisher interface {
	PublishSyncCompleted(ctx context.Context, ev SyncCompleted) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishSyncCompleted(context.Context, SyncCompleted) error { return nil }
func (NopPublisher) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by user id, so one user's events stay
// ordered within a partition.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher creates an asynchronous writer; delivery failures are
// logged rather than returned to the request that triggered the sync.
func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) *KafkaPublisher {
	log := logger.With().Str("component", "events").Str("topic", topic).Logger()
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error().Err(err).Int("messages", len(messages)).Msg("failed to deliver sync events")
			}
		},
	}}
}

func (p *KafkaPublisher) PublishSyncCompleted(ctx context.Context, ev SyncCompleted) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", TypeSyncCompleted, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

func encode(ev SyncCompleted) (kafka.Message, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", TypeSyncCompleted, err)
	}
	return kafka.Message{
		Key:   []byte(ev.UserID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(TypeSyncCompleted)},
		},
		Time: ev.SyncedAt,
	}, nil
}
