package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter is the subset of kafka.Writer the sink needs.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events keyed by target user so one user's events stay
// on one partition.
type KafkaSink struct {
	writer KafkaWriter
}

func NewKafkaSink(broker, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func NewKafkaSinkWithWriter(w KafkaWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := "broadcast"
	if !e.Broadcast() {
		key = *e.TargetUserID
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: b,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
