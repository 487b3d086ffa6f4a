package consumer

import (
	"context"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	log "github.com/sirupsen/logrus"
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, message []byte) error
}

// Source is the part of *kafka.Consumer the loop uses.
type Source interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	Poll(timeoutMs int) kafka.Event
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Close() error
}

type KafkaConsumer struct {
	consumer Source
	topic    string
	handler  MessageHandler
}

func NewKafkaConsumer(consumer Source, topic string, handler MessageHandler) (*KafkaConsumer, error) {
	if err := consumer.SubscribeTopics([]string{topic}, nil); err != nil {
		return nil, err
	}
	log.WithField("topic", topic).Info("Subscribed to Kafka topic")
	return &KafkaConsumer{consumer: consumer, topic: topic, handler: handler}, nil
}

// Start polls until ctx is done. The offset of a message is committed only
// after its handler returned nil; a failed message is redelivered after the
// next rebalance or restart.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			log.Info("Kafka consumer stopping due to context cancellation")
			return nil
		default:
			ev := c.consumer.Poll(100)
			if ev == nil {
				continue
			}

			switch e := ev.(type) {
			case *kafka.Message:
				c.handle(ctx, e)
			case kafka.Error:
				log.WithError(e).Error("Kafka error")
				if e.IsFatal() {
					return e
				}
			}
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, m *kafka.Message) {
	logCtx := log.WithFields(log.Fields{"topic": c.topic, "offset": m.TopicPartition.Offset.String()})
	if err := c.handler.HandleMessage(ctx, m.Value); err != nil {
		logCtx.WithError(err).Error("Failed to handle message")
		return
	}
	if _, err := c.consumer.CommitMessage(m); err != nil {
		logCtx.WithError(err).Warn("Failed to commit offset")
	}
}

func (c *KafkaConsumer) Close() error {
	return c.consumer.Close()
}
