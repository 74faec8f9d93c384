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

package areaview

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/client"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/model"
	"github.com/united-manufacturing-hub/alarm-client/pkg/kafka"
	"github.com/united-manufacturing-hub/alarm-client/pkg/kafka/memlog"
)

type renders struct {
	mu      sync.Mutex
	areas   [][]string
	updated [][]string
}

func (r *renders) render(areas []string, updated []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.areas = append(r.areas, areas)
	r.updated = append(r.updated, updated)
}

func (r *renders) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.areas)
}

func add(t *testing.T, parent *model.Node, child *model.Node) *model.Node {
	t.Helper()
	require.NoError(t, parent.AddChild(child))
	return child
}

func TestFlushOnlyWhenPending(t *testing.T) {
	r := &renders{}
	root := model.NewInterior("Accel")
	view := New(root, r.render)

	assert.False(t, view.Flush())

	view.ItemAdded(root)
	vacuum := add(t, root, model.NewInterior("Vacuum"))
	view.ItemAdded(vacuum)
	cooling := add(t, root, model.NewInterior("Cooling"))
	view.ItemAdded(cooling)

	assert.True(t, view.Flush())
	assert.False(t, view.Flush())
	require.Equal(t, 1, r.count())
	assert.Equal(t, []string{"Cooling", "Vacuum"}, r.areas[0])
	assert.Empty(t, r.updated[0])
}

func TestUpdatesAreCoalescedPerArea(t *testing.T) {
	r := &renders{}
	root := model.NewInterior("Accel")
	vacuum := add(t, root, model.NewInterior("Vacuum"))
	cooling := add(t, root, model.NewInterior("Cooling"))
	gauge1 := add(t, vacuum, model.NewLeaf("Gauge1"))
	gauge2 := add(t, vacuum, model.NewLeaf("Gauge2"))
	pump := add(t, cooling, model.NewLeaf("Pump"))

	view := New(root, r.render)
	view.ItemAdded(root)
	view.Flush()

	for i := 0; i < 100; i++ {
		view.ItemUpdated(gauge2)
		view.ItemUpdated(gauge1)
		view.ItemUpdated(pump)
	}
	view.ItemUpdated(root)

	require.True(t, view.Flush())
	assert.Equal(t, []string{"Vacuum", "Cooling"}, r.updated[1])
	assert.Equal(t, []string{"Cooling", "Vacuum"}, r.areas[1])

	view.ItemUpdated(pump)
	require.True(t, view.Flush())
	assert.Equal(t, []string{"Cooling"}, r.updated[2])
}

func TestRemovalReplacesList(t *testing.T) {
	r := &renders{}
	root := model.NewInterior("Accel")
	vacuum := add(t, root, model.NewInterior("Vacuum"))
	add(t, root, model.NewInterior("Cooling"))
	gauge := add(t, vacuum, model.NewLeaf("Gauge1"))
	gauge.SetLeafState(model.LeafState{Severity: model.SeverityMajor, CurrentSeverity: model.SeverityMajor})

	view := New(root, r.render)
	view.ItemAdded(root)
	view.Flush()

	gauge.DetachFromParent()
	view.ItemRemoved(gauge)
	require.True(t, view.Flush(), "removing below the level still changes the severity of its area")
	assert.Equal(t, []string{"Cooling", "Vacuum"}, r.areas[1])
	assert.Equal(t, model.SeverityOK, root.Severity())
	assert.False(t, view.Flush())

	vacuum.DetachFromParent()
	view.ItemRemoved(vacuum)
	require.True(t, view.Flush())
	assert.Equal(t, []string{"Cooling"}, r.areas[2])
}

func TestDeeperLevel(t *testing.T) {
	r := &renders{}
	root := model.NewInterior("Accel")
	vacuum := add(t, root, model.NewInterior("Vacuum"))
	section := add(t, vacuum, model.NewInterior("Section1"))
	gauge := add(t, section, model.NewLeaf("Gauge1"))
	add(t, root, model.NewLeaf("Standalone"))

	view := New(root, r.render, WithLevel(3))
	assert.Equal(t, 3, view.Level())

	view.ItemAdded(gauge)
	assert.False(t, view.Flush(), "items below the level do not change the list")

	view.ItemAdded(section)
	view.ItemUpdated(gauge)
	view.ItemUpdated(vacuum)
	require.True(t, view.Flush())
	assert.Equal(t, []string{"Section1"}, r.areas[0])
	assert.Equal(t, []string{"Section1"}, r.updated[0])
}

func TestRunFlushesPeriodically(t *testing.T) {
	r := &renders{}
	root := model.NewInterior("Accel")
	view := New(root, r.render, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		view.Run(ctx)
	}()

	view.ItemAdded(root)
	add(t, root, model.NewInterior("Vacuum"))
	view.ItemAdded(root.Child("Vacuum"))

	assert.Eventually(t, func() bool { return r.count() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFollowsReplicatedSeverity(t *testing.T) {
	log := memlog.New(1)
	config := client.DefaultConfig("Accel")
	config.PollTimeout = 10 * time.Millisecond
	c, err := client.New(config, log.NewConsumer(), log.NewProducer(),
		client.WithLogger(zaptest.NewLogger(t).Sugar()))
	require.NoError(t, err)

	r := &renders{}
	view := New(c.Root(), r.render)
	require.NoError(t, c.AddListener(view))
	require.NoError(t, c.Start())
	defer func() {
		assert.NoError(t, c.Shutdown())
	}()

	log.Append(&kafka.Message{Topic: config.ConfigTopic(), Key: []byte("Accel/Vacuum"), Value: []byte(`{}`)})
	require.Eventually(t, view.Flush, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Vacuum"}, r.areas[0])

	log.Append(&kafka.Message{
		Topic: config.StateTopic(),
		Key:   []byte("Accel/Vacuum/Gauge1"),
		Value: []byte(`{"severity":"MAJOR","message":"HIGH","value":"5.3","time":{"seconds":1700000000,"nano":0},` +
			`"current_severity":"MAJOR","current_message":"HIGH"}`),
	})
	require.Eventually(t, view.Flush, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Vacuum"}, r.updated[1])
	assert.Equal(t, model.SeverityMajor, c.Root().Severity())

	log.Append(&kafka.Message{Topic: config.ConfigTopic(), Key: []byte("Accel/Vacuum/Gauge1")})
	require.Eventually(t, view.Flush, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Vacuum"}, r.areas[2])
	assert.Equal(t, model.SeverityOK, c.Root().Severity())
}
