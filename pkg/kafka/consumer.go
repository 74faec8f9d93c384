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
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

const maxPollBatch = 500

// SaramaConsumer reads every partition of its topics without a consumer
// group. Offsets are never committed: each (re)attached partition starts
// again at the oldest offset, so the reader always sees the whole log.
type SaramaConsumer struct {
	client   sarama.Client
	consumer sarama.Consumer

	incomingMessages chan *Message
	consumedMessages atomic.Uint64
	running          atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Consumer = (*SaramaConsumer)(nil)

// NewConfig returns the sarama configuration shared by consumer, producer
// and admin.
func NewConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_3_0_0
	if clientID != "" {
		config.ClientID = clientID
	}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

// NewConsumer connects to the brokers.
func NewConsumer(brokers []string, config *sarama.Config) (*SaramaConsumer, error) {
	zap.S().Infof("connecting to brokers: %v", brokers)
	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, &TransportError{Op: "connect", Err: err}
	}
	zap.S().Infof("connected to brokers: %v", brokers)

	c := newConsumerFrom(consumer)
	c.client = client
	return c, nil
}

func newConsumerFrom(consumer sarama.Consumer) *SaramaConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	c := &SaramaConsumer{
		consumer:         consumer,
		incomingMessages: make(chan *Message, 100_000),
		ctx:              ctx,
		cancel:           cancel,
	}
	c.running.Store(true)
	return c
}

// Subscribe starts one reader per partition. Topics that do not exist yet
// are retried with exponential back-off until ctx is done.
func (c *SaramaConsumer) Subscribe(ctx context.Context, topics ...string) error {
	if !c.running.Load() {
		return ErrClosed
	}
	for _, topic := range topics {
		var partitions []int32
		operation := func() error {
			if c.client != nil {
				if err := c.client.RefreshMetadata(topic); err != nil {
					zap.S().Debugf("metadata for %s not available yet: %s", topic, err)
					return err
				}
			}
			var err error
			partitions, err = c.consumer.Partitions(topic)
			return err
		}
		if err := backoff.Retry(operation, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
			return &TransportError{Op: "subscribe", Topic: topic, Err: err}
		}

		zap.S().Infow("subscribing", "topic", topic, "partitions", len(partitions))
		for _, partition := range partitions {
			c.wg.Add(1)
			go c.consumePartition(topic, partition)
		}
	}
	return nil
}

// consumePartition forwards records until the consumer is closed.
// A partition consumer that fails is attached again from the oldest offset.
func (c *SaramaConsumer) consumePartition(topic string, partition int32) {
	defer c.wg.Done()
	log := zap.S().With("topic", topic, "partition", partition)

	for c.ctx.Err() == nil {
		var pc sarama.PartitionConsumer
		operation := func() error {
			var err error
			pc, err = c.consumer.ConsumePartition(topic, partition, sarama.OffsetOldest)
			if err != nil {
				log.Warnf("cannot attach partition consumer: %s", err)
			}
			return err
		}
		if err := backoff.Retry(operation, backoff.WithContext(backoff.NewExponentialBackOff(), c.ctx)); err != nil {
			return
		}
		log.Debugf("attached at oldest offset")

		c.forward(pc, log)
		if err := pc.Close(); err != nil {
			log.Debugf("closing partition consumer: %s", err)
		}
	}
}

func (c *SaramaConsumer) forward(pc sarama.PartitionConsumer, log *zap.SugaredLogger) {
	errs := pc.Errors()
	for {
		select {
		case <-c.ctx.Done():
			return
		case message, ok := <-pc.Messages():
			if !ok {
				log.Infof("partition consumer stopped, re-attaching")
				time.Sleep(CycleTime * 10)
				return
			}
			select {
			case c.incomingMessages <- FromConsumerMessage(message):
				c.consumedMessages.Add(1)
			case <-c.ctx.Done():
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warnf("partition consumer error: %s", err)
		}
	}
}

// Poll waits for the first record, then drains what is already buffered.
func (c *SaramaConsumer) Poll(ctx context.Context, timeout time.Duration) ([]*Message, error) {
	if !c.running.Load() {
		return nil, ErrClosed
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var first *Message
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrClosed
	case <-timer.C:
		return nil, nil
	case first = <-c.incomingMessages:
	}

	batch := []*Message{first}
	for len(batch) < maxPollBatch {
		select {
		case message := <-c.incomingMessages:
			batch = append(batch, message)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// GetStats returns the number of records read from the brokers.
func (c *SaramaConsumer) GetStats() uint64 {
	return c.consumedMessages.Load()
}

// IsRunning returns the run state.
func (c *SaramaConsumer) IsRunning() bool {
	return c.running.Load()
}

// Close stops all partition readers and disconnects.
func (c *SaramaConsumer) Close() error {
	if !c.running.Swap(false) {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	if err := c.consumer.Close(); err != nil {
		zap.S().Warnf("closing consumer: %s", err)
	}
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
