package repository

import (
	"context"
	"fmt"

	"ChartDesk/internal/domain/models"
	pkgkafka "ChartDesk/pkg/kafka"
)

// KafkaTickPublisher forwards verbatim ticks to the message bus.
type KafkaTickPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaTickPublisher(producer *pkgkafka.Producer, topic string) *KafkaTickPublisher {
	return &KafkaTickPublisher{producer: producer, topic: topic}
}

// PublishTick keys messages by symbol so per-symbol ordering survives
// partitioning.
func (p *KafkaTickPublisher) PublishTick(ctx context.Context, t *models.Tick) error {
	if err := p.producer.Publish(ctx, p.topic, []byte(t.Symbol), t); err != nil {
		return fmt.Errorf("publish tick %s: %w", t.Symbol, err)
	}
	return nil
}

func (p *KafkaTickPublisher) Close() error {
	return p.producer.Close()
}
