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

package memlog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/united-manufacturing-hub/alarm-client/pkg/kafka"
)

func send(t *testing.T, producer kafka.Producer, topic, key string, value []byte) {
	t.Helper()
	require.NoError(t, producer.Send(context.Background(), &kafka.Message{Topic: topic, Key: []byte(key), Value: value}))
}

func TestPerKeyOrdering(t *testing.T) {
	log := New(4)
	producer := log.NewProducer()
	for i := 0; i < 20; i++ {
		for _, key := range []string{"Accel/A", "Accel/B", "Accel/C"} {
			send(t, producer, "Accel", key, []byte(fmt.Sprint(i)))
		}
	}

	consumer := log.NewConsumer()
	require.NoError(t, consumer.Subscribe(context.Background(), "Accel"))
	batch, err := consumer.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 60)

	next := map[string]int{}
	for _, message := range batch {
		key := string(message.Key)
		assert.Equal(t, fmt.Sprint(next[key]), string(message.Value), key)
		assert.Equal(t, log.PartitionFor(message.Key), message.Partition)
		next[key]++
	}
}

func TestTombstoneAndRecords(t *testing.T) {
	log := New(1)
	producer := log.NewProducer()
	send(t, producer, "Accel", "Accel", []byte(`{}`))
	send(t, producer, "Accel", "Accel", nil)

	records := log.Records("Accel")
	require.Len(t, records, 2)
	assert.False(t, records[0].IsTombstone())
	assert.True(t, records[1].IsTombstone())
	assert.Equal(t, int64(1), records[1].Offset)
	assert.Nil(t, log.Records("Other"))
}

func TestPollWaitsForAppend(t *testing.T) {
	log := New(2)
	consumer := log.NewConsumer()
	require.NoError(t, consumer.Subscribe(context.Background(), "AccelState"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		log.Append(&kafka.Message{Topic: "AccelState", Key: []byte("Accel"), Value: []byte(`{}`)})
	}()
	batch, err := consumer.Poll(context.Background(), 5*time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	batch, err = consumer.Poll(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestPollCancelAndClose(t *testing.T) {
	log := New(1)
	consumer := log.NewConsumer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := consumer.Poll(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, consumer.Close())
	require.NoError(t, consumer.Close())
	_, err = consumer.Poll(context.Background(), time.Second)
	assert.ErrorIs(t, err, kafka.ErrClosed)
	assert.ErrorIs(t, consumer.Subscribe(context.Background(), "Accel"), kafka.ErrClosed)
}

func TestRewindReplaysEverything(t *testing.T) {
	log := New(3)
	producer := log.NewProducer()
	send(t, producer, "Accel", "Accel", []byte(`{}`))
	send(t, producer, "Accel", "Accel/Vacuum", []byte(`{}`))

	consumer := log.NewConsumer()
	require.NoError(t, consumer.Subscribe(context.Background(), "Accel", "Accel"))
	batch, err := consumer.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	consumer.Rewind()
	batch, err = consumer.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestSendFailures(t *testing.T) {
	log := New(1)
	producer := log.NewProducer()
	broken := errors.New("broker unavailable")
	log.FailSends(broken)

	err := producer.Send(context.Background(), &kafka.Message{Topic: "Accel", Key: []byte("Accel")})
	var transportErr *kafka.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.ErrorIs(t, err, broken)
	assert.Empty(t, log.Records("Accel"))

	log.FailSends(nil)
	send(t, producer, "Accel", "Accel", []byte(`{}`))

	require.NoError(t, producer.Close())
	err = producer.Send(context.Background(), &kafka.Message{Topic: "Accel", Key: []byte("Accel")})
	assert.ErrorIs(t, err, kafka.ErrClosed)
}
