// Package kafkalog appends domain events to a Kafka topic. The write
// coordinator already detaches appends onto its side-effect pool, so Append
// can afford to wait for the delivery report within its context budget.
package kafkalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/iotflow/tierflow/internal/domain"
	"github.com/iotflow/tierflow/internal/ports"
)

type Sink struct {
	producer *kafka.Producer
	topic    string
}

func New(brokers, topic string) (*Sink, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "1",
		"retries":           3,
		"linger.ms":         5,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Sink{producer: producer, topic: topic}, nil
}

func (s *Sink) Append(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	deliveryChan := make(chan kafka.Event, 1)
	err = s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &s.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(ev.Type),
		Value: payload,
	}, deliveryChan)
	if err != nil {
		return err
	}

	select {
	case e := <-deliveryChan:
		if msg, ok := e.(*kafka.Message); ok && msg.TopicPartition.Error != nil {
			return msg.TopicPartition.Error
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) Close() error {
	s.producer.Flush(5000)
	s.producer.Close()
	return nil
}

var _ ports.EventLog = (*Sink)(nil)
