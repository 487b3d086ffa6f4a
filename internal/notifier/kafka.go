package notifier

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	log "github.com/sirupsen/logrus"
)

// KafkaPublisher writes notifications to the topic the front-end consumes.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaPublisher also drains the producer's event channel, where the
// client reports broker errors that belong to no single message.
func NewKafkaPublisher(producer *kafka.Producer, topic string) *KafkaPublisher {
	go func() {
		for ev := range producer.Events() {
			if e, ok := ev.(kafka.Error); ok {
				log.WithError(e).WithField("topic", topic).Error("Kafka producer error")
			}
		}
	}()
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish waits for the broker's delivery report or ctx.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	delivery := make(chan kafka.Event, 1)
	err := p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}, delivery)
	if err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}

	select {
	case ev := <-delivery:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %v", ev)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *KafkaPublisher) Close() {
	if left := p.producer.Flush(5000); left > 0 {
		log.WithField("pending", left).Warn("Kafka producer closed with undelivered messages")
	}
	p.producer.Close()
}

// LogPublisher stands in for Kafka when no brokers are configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, key string, value []byte) error {
	log.WithFields(log.Fields{"buyer_id": key, "message": string(value)}).Info("Notification (no broker configured)")
	return nil
}
