// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/logger"
)

// MessageWriter is the part of kafka.Writer the Kafka notifier needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka is a notifier which publishes events to a Kafka topic. Messages are keyed by
// resource, so all events of a resource keep their order.
type Kafka struct {
	writer MessageWriter
}

// NewKafka creates a notifier for topic on the comma separated list of brokers
func NewKafka(brokers, topic string) (*Kafka, error) {
	if brokers == "" || topic == "" {
		return nil, fmt.Errorf("kafka notifier requires brokers and topic")
	}
	logger.Default().Infof("kafka notifications to topic %s on %s", topic, brokers)
	return NewKafkaWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}), nil
}

// NewKafkaWithWriter creates a notifier with an existing writer
func NewKafkaWithWriter(writer MessageWriter) *Kafka {
	return &Kafka{writer: writer}
}

// Notify implements Notifier
func (k *Kafka) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error {
	event := NewEvent(ctx, resource, operation, payload)
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(resource),
		Value: value,
		Headers: []kafka.Header{
			{Key: "operation", Value: []byte(operation)},
			{Key: "request_id", Value: []byte(event.RequestID)},
		},
	})
	if err != nil {
		return fmt.Errorf("cannot publish %s %s to kafka: %w", operation, resource, err)
	}
	return nil
}

// Close flushes and closes the writer
func (k *Kafka) Close() error {
	return k.writer.Close()
}
