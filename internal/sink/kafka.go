// Package sink fans synced realtime events out to Kafka so sibling
// consumers pick them up without a second REST round trip.
package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event is the fan-out envelope.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// Kafka publishes sync events to one topic, keyed by event type.
type Kafka struct {
	writer *kafka.Writer
	log    *slog.Logger
}

func NewKafka(brokers []string, topic string, log *slog.Logger) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		log: log,
	}
}

// Publish is best effort: a failed write is logged and dropped, never
// surfaced to the sync path.
func (k *Kafka) Publish(ctx context.Context, eventType string, payload json.RawMessage) {
	ev := Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		k.log.Warn("sink encode failed", "type", eventType, "error", err)
		return
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(eventType),
		Value: data,
	}); err != nil {
		k.log.Warn("sink publish failed", "type", eventType, "error", err)
	}
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
