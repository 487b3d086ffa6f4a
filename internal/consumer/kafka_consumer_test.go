package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu        sync.Mutex
	events    []kafka.Event
	topics    []string
	committed []string
}

func (f *fakeSource) SubscribeTopics(topics []string, _ kafka.RebalanceCb) error {
	f.topics = topics
	return nil
}

func (f *fakeSource) Poll(int) kafka.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return nil
	}
	ev := f.events[0]
	f.events = f.events[1:]
	return ev
}

func (f *fakeSource) CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, string(m.Value))
	return nil, nil
}

func (f *fakeSource) Close() error { return nil }

type handlerFunc func(ctx context.Context, message []byte) error

func (h handlerFunc) HandleMessage(ctx context.Context, message []byte) error { return h(ctx, message) }

func message(v string) *kafka.Message {
	topic := "email_captured"
	return &kafka.Message{TopicPartition: kafka.TopicPartition{Topic: &topic}, Value: []byte(v)}
}

func TestConsumerCommitsHandledMessagesOnly(t *testing.T) {
	src := &fakeSource{events: []kafka.Event{message("ok-1"), message("bad"), message("ok-2")}}
	var mu sync.Mutex
	var seen []string
	h := handlerFunc(func(_ context.Context, m []byte) error {
		mu.Lock()
		seen = append(seen, string(m))
		mu.Unlock()
		if string(m) == "bad" {
			return errors.New("store unavailable")
		}
		return nil
	})

	c, err := NewKafkaConsumer(src, "email_captured", h)
	require.NoError(t, err)
	assert.Equal(t, []string{"email_captured"}, src.topics)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Start(ctx))

	mu.Lock()
	assert.Equal(t, []string{"ok-1", "bad", "ok-2"}, seen)
	mu.Unlock()
	assert.Equal(t, []string{"ok-1", "ok-2"}, src.committed)
}

func TestConsumerStopsOnFatalError(t *testing.T) {
	src := &fakeSource{events: []kafka.Event{kafka.NewError(kafka.ErrFatal, "broker gone", true)}}
	c, err := NewKafkaConsumer(src, "email_captured", handlerFunc(func(context.Context, []byte) error { return nil }))
	require.NoError(t, err)

	err = c.Start(context.Background())
	assert.Error(t, err)
}
