package events

import (
	"context"
	"encoding/json"
	"strconv"

	skafka "github.com/segmentio/kafka-go"

	"rental-billing-engine/internal/logger"
)

// Writer is the subset of the kafka-go writer the producer needs
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON messages keyed by rental id, so all
// events of one rental land on the same partition in order.
type KafkaPublisher struct {
	writer Writer
}

// NewKafkaPublisher creates a publisher writing to the given broker and topic
func NewKafkaPublisher(brokerURL, topic string) *KafkaPublisher {
	w := &skafka.Writer{
		Addr:                   skafka.TCP(brokerURL),
		Topic:                  topic,
		Balancer:               &skafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w}
}

// NewKafkaPublisherWithWriter allows injecting a test writer
func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := skafka.Message{
		Key:   []byte(strconv.Itoa(int(event.RentalID))),
		Value: b,
		Headers: []skafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	logger.ExternalServiceCall("kafka", "write_message", "event_type", event.Type, "event_id", event.ID)
	err = p.writer.WriteMessages(ctx, msg)
	logger.ExternalServiceResult("kafka", "write_message", err, "event_id", event.ID)
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
