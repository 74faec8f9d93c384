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

package kafka

import (
	"context"
	"sync/atomic"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// SaramaProducer wraps a sarama.SyncProducer. The hash partitioner keeps
// all records of one key in one partition, so they stay ordered.
type SaramaProducer struct {
	producer         sarama.SyncProducer
	producedMessages atomic.Uint64
	erroredMessages  atomic.Uint64
	running          atomic.Bool
}

var _ Producer = (*SaramaProducer)(nil)

// NewProducer creates a new SaramaProducer with the given Kafka brokers.
func NewProducer(brokers []string, config *sarama.Config) (*SaramaProducer, error) {
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}

	return newProducerFrom(producer), nil
}

func newProducerFrom(producer sarama.SyncProducer) *SaramaProducer {
	p := &SaramaProducer{producer: producer}
	p.running.Store(true)
	return p
}

// Send publishes message and waits for the acknowledgement.
// Failures are returned, never retried here.
func (p *SaramaProducer) Send(ctx context.Context, message *Message) error {
	if message == nil {
		return nil
	}
	if !p.running.Load() {
		return &TransportError{Op: "send", Topic: message.Topic, Err: ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "send", Topic: message.Topic, Err: err}
	}

	partition, offset, err := p.producer.SendMessage(ToProducerMessage(message))
	if err != nil {
		p.erroredMessages.Add(1)
		zap.S().Debugf("Error while producing message: %s", err.Error())
		return &TransportError{Op: "send", Topic: message.Topic, Err: err}
	}
	p.producedMessages.Add(1)
	zap.S().Debugw("produced", "topic", message.Topic, "key", string(message.Key),
		"partition", partition, "offset", offset, "tombstone", message.IsTombstone())
	return nil
}

// Close stops the producer and returns any errors during closure.
func (p *SaramaProducer) Close() error {
	if !p.running.Swap(false) {
		return nil
	}
	return p.producer.Close()
}

// GetProducedMessages returns the count of produced and errored messages.
func (p *SaramaProducer) GetProducedMessages() (uint64, uint64) {
	return p.producedMessages.Load(), p.erroredMessages.Load()
}
