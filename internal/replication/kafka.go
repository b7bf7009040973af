package replication

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/kafka"
)

// partitionKey is shared by every envelope: all records land in one
// partition so replicas see them in the order the primary produced them.
const partitionKey = "fts-effects"

// KafkaSink publishes envelopes to a Kafka topic.
type KafkaSink struct {
	producer *kafka.Producer
}

func NewKafkaSink(producer *kafka.Producer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (k *KafkaSink) Publish(ctx context.Context, batch []Envelope) error {
	events := make([]kafka.Event, len(batch))
	for i, env := range batch {
		events[i] = kafka.Event{Key: partitionKey, Value: env}
	}
	return k.producer.PublishBatch(ctx, events)
}
