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

// Package memlog is an in-memory partitioned log implementing the
// kafka.Consumer and kafka.Producer interfaces. Records are partitioned
// by key hash like on a broker, so per-key ordering holds while records
// of different keys may interleave.
package memlog

import (
	"bytes"
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/united-manufacturing-hub/alarm-client/pkg/kafka"
)

const maxPollBatch = 500

type topicLog struct {
	partitions [][]*kafka.Message
	// appended keeps all records in append order for inspection.
	appended []*kafka.Message
}

// Log is a set of topics with a fixed number of partitions each.
type Log struct {
	mu         sync.Mutex
	partitions int
	topics     map[string]*topicLog
	changed    chan struct{}
	sendErr    error
}

// New creates a log whose topics have the given number of partitions.
func New(partitions int) *Log {
	if partitions < 1 {
		partitions = 1
	}
	return &Log{
		partitions: partitions,
		topics:     make(map[string]*topicLog),
		changed:    make(chan struct{}),
	}
}

// PartitionFor returns the partition a key is written to.
func (l *Log) PartitionFor(key []byte) int32 {
	return int32(xxh3.Hash(key) % uint64(l.partitions))
}

func (l *Log) topic(name string) *topicLog {
	t, ok := l.topics[name]
	if !ok {
		t = &topicLog{partitions: make([][]*kafka.Message, l.partitions)}
		l.topics[name] = t
	}
	return t
}

// Append stores a copy of message and wakes up all waiting consumers.
func (l *Log) Append(message *kafka.Message) *kafka.Message {
	stored := &kafka.Message{
		Headers:   maps.Clone(message.Headers),
		Topic:     message.Topic,
		Key:       bytes.Clone(message.Key),
		Value:     bytes.Clone(message.Value),
		Partition: l.PartitionFor(message.Key),
		Timestamp: time.Now(),
	}

	l.mu.Lock()
	t := l.topic(message.Topic)
	stored.Offset = int64(len(t.partitions[stored.Partition]))
	t.partitions[stored.Partition] = append(t.partitions[stored.Partition], stored)
	t.appended = append(t.appended, stored)
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()
	return stored
}

// Records returns all records of a topic in append order.
func (l *Log) Records(topic string) []*kafka.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.topics[topic]
	if !ok {
		return nil
	}
	return append([]*kafka.Message(nil), t.appended...)
}

// FailSends makes every following Send fail with err. Pass nil to recover.
func (l *Log) FailSends(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendErr = err
}

func (l *Log) sendError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sendErr
}

func (l *Log) wait() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.changed
}

// Producer appends to a Log.
type Producer struct {
	log    *Log
	closed atomic.Bool
}

var _ kafka.Producer = (*Producer)(nil)

// NewProducer returns a producer writing to l.
func (l *Log) NewProducer() *Producer {
	return &Producer{log: l}
}

func (p *Producer) Send(ctx context.Context, message *kafka.Message) error {
	if message == nil {
		return nil
	}
	if p.closed.Load() {
		return &kafka.TransportError{Op: "send", Topic: message.Topic, Err: kafka.ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return &kafka.TransportError{Op: "send", Topic: message.Topic, Err: err}
	}
	if err := p.log.sendError(); err != nil {
		return &kafka.TransportError{Op: "send", Topic: message.Topic, Err: err}
	}
	p.log.Append(message)
	return nil
}

func (p *Producer) Close() error {
	p.closed.Store(true)
	return nil
}

type cursor struct {
	topic     string
	partition int
}

// Consumer reads a Log from the oldest record of each partition.
type Consumer struct {
	log *Log

	mu      sync.Mutex
	topics  []string
	offsets map[cursor]int

	done      chan struct{}
	closeOnce sync.Once
}

var _ kafka.Consumer = (*Consumer)(nil)

// NewConsumer returns a consumer reading from l.
func (l *Log) NewConsumer() *Consumer {
	return &Consumer{
		log:     l,
		offsets: make(map[cursor]int),
		done:    make(chan struct{}),
	}
}

func (c *Consumer) Subscribe(_ context.Context, topics ...string) error {
	select {
	case <-c.done:
		return kafka.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		if slices.Contains(c.topics, topic) {
			continue
		}
		c.topics = append(c.topics, topic)
		for partition := 0; partition < c.log.partitions; partition++ {
			c.offsets[cursor{topic, partition}] = 0
		}
	}
	return nil
}

// Rewind moves every partition back to the oldest record, like a
// re-attached partition consumer.
func (c *Consumer) Rewind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.offsets {
		c.offsets[key] = 0
	}
}

func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) ([]*kafka.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		changed := c.log.wait()
		if batch := c.collect(); len(batch) > 0 {
			return batch, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, kafka.ErrClosed
		case <-timer.C:
			return nil, nil
		case <-changed:
		}
	}
}

// collect takes pending records round-robin across partitions, so records
// of different partitions interleave while each partition stays ordered.
func (c *Consumer) collect() []*kafka.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.mu.Lock()
	defer c.log.mu.Unlock()

	var batch []*kafka.Message
	for progress := true; progress && len(batch) < maxPollBatch; {
		progress = false
		for _, topic := range c.topics {
			t, ok := c.log.topics[topic]
			if !ok {
				continue
			}
			for partition := range t.partitions {
				key := cursor{topic, partition}
				offset := c.offsets[key]
				if offset >= len(t.partitions[partition]) {
					continue
				}
				batch = append(batch, t.partitions[partition][offset])
				c.offsets[key] = offset + 1
				progress = true
			}
		}
	}
	return batch
}

func (c *Consumer) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
