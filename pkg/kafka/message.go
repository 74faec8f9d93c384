// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kafka is a small transport layer over sarama. It reads whole
// topics from the oldest offset and publishes path-keyed records, which is
// all the alarm tree replication needs.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// CycleTime is the default cycle time for retry loops.
const CycleTime = 100 * time.Millisecond

// ErrClosed is returned by operations on a closed consumer or producer.
var ErrClosed = errors.New("kafka client is closed")

// Message represents a record of a topic. A nil Value is a tombstone.
type Message struct {
	Headers   map[string]string
	Topic     string
	Key       []byte
	Value     []byte
	Offset    int64
	Partition int32
	Timestamp time.Time
}

// IsTombstone reports whether the record deletes its key.
func (m *Message) IsTombstone() bool {
	return m.Value == nil
}

// FromConsumerMessage converts a sarama.ConsumerMessage to a Message.
func FromConsumerMessage(message *sarama.ConsumerMessage) *Message {
	if message == nil {
		return nil
	}
	m := &Message{
		Headers:   make(map[string]string, len(message.Headers)),
		Key:       message.Key,
		Value:     message.Value,
		Topic:     message.Topic,
		Partition: message.Partition,
		Offset:    message.Offset,
		Timestamp: message.Timestamp,
	}
	for _, header := range message.Headers {
		if header == nil {
			continue
		}
		m.Headers[string(header.Key)] = string(header.Value)
	}
	return m
}

// ToProducerMessage converts a Message to a sarama.ProducerMessage.
// Partition and Offset are ignored; the partitioner picks the partition
// from the key.
func ToProducerMessage(message *Message) *sarama.ProducerMessage {
	if message == nil {
		return nil
	}
	m := &sarama.ProducerMessage{
		Topic: message.Topic,
		Key:   sarama.ByteEncoder(message.Key),
	}
	// A nil encoder is written as a null value, a tombstone.
	if message.Value != nil {
		m.Value = sarama.ByteEncoder(message.Value)
	}
	m.Headers = make([]sarama.RecordHeader, 0, len(message.Headers))
	for k, v := range message.Headers {
		m.Headers = append(m.Headers, sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(v),
		})
	}
	return m
}

// Consumer reads topics from their oldest offset.
type Consumer interface {
	// Subscribe starts reading all partitions of the given topics from the
	// oldest offset.
	Subscribe(ctx context.Context, topics ...string) error
	// Poll waits up to timeout for records. It returns early with
	// ctx.Err() once ctx is done.
	Poll(ctx context.Context, timeout time.Duration) ([]*Message, error)
	Close() error
}

// Producer publishes records.
type Producer interface {
	// Send publishes one record and waits for the broker to accept it.
	Send(ctx context.Context, message *Message) error
	Close() error
}

// TransportError reports a failure of the underlying log transport.
type TransportError struct {
	Op    string
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("kafka %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("kafka %s %s: %v", e.Op, e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
