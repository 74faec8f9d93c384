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

// Package areaview coalesces tree notifications into a bounded rate of
// refreshes for one level of the alarm tree.
package areaview

import (
	"context"
	"slices"
	"sync"
	"time"

	goset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/client"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/model"
)

const (
	// DefaultLevel shows the children of the root.
	DefaultLevel    = 2
	DefaultInterval = 200 * time.Millisecond
)

// RenderFunc receives the names of all items on the level and the names of
// the items that were updated since the last call, in update order.
type RenderFunc func(areas []string, updated []string)

// AreaView tracks the items on one level of the tree. Notifications only
// record what changed. Run or Flush hand the result to the render function.
type AreaView struct {
	root     *model.Node
	level    int
	interval time.Duration
	render   RenderFunc
	logger   *zap.SugaredLogger

	mu           sync.Mutex
	areas        []string
	areasChanged bool
	updated      []string
	pending      goset.Set[string]
}

var _ client.Listener = (*AreaView)(nil)

// Option customises an AreaView.
type Option func(*AreaView)

// WithLevel selects the tree level, 1 being the root.
func WithLevel(level int) Option {
	return func(v *AreaView) {
		if level > 0 {
			v.level = level
		}
	}
}

// WithInterval sets the refresh interval of Run.
func WithInterval(interval time.Duration) Option {
	return func(v *AreaView) {
		if interval > 0 {
			v.interval = interval
		}
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(v *AreaView) {
		v.logger = logger
	}
}

// New creates a view below root. Register it with client.AddListener.
func New(root *model.Node, render RenderFunc, opts ...Option) *AreaView {
	v := &AreaView{
		root:     root,
		level:    DefaultLevel,
		interval: DefaultInterval,
		render:   render,
		pending:  goset.NewThreadUnsafeSet[string](),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = zap.S()
	}
	return v
}

// Level returns the tree level the view tracks.
func (v *AreaView) Level() int {
	return v.level
}

func (v *AreaView) ItemAdded(item *model.Node) {
	if depth(item) <= v.level {
		v.refreshAreas(false)
	}
}

// ItemRemoved always renders again. The item is already detached, so
// neither its level nor the area whose severity it lowered is known.
func (v *AreaView) ItemRemoved(*model.Node) {
	v.refreshAreas(true)
}

func (v *AreaView) ItemUpdated(item *model.Node) {
	area := areaOf(item, v.level)
	if area == nil {
		return
	}
	name := area.Name()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pending.Add(name) {
		v.updated = append(v.updated, name)
	}
}

func (v *AreaView) ConnectionStateChanged(bool) {}

// refreshAreas replaces the list of areas wholesale. Unless force is set,
// an unchanged list renders nothing.
func (v *AreaView) refreshAreas(force bool) {
	var areas []string
	v.root.Walk(func(node *model.Node, d int) bool {
		if d == v.level-1 {
			areas = append(areas, node.Name())
			return false
		}
		return true
	})

	v.mu.Lock()
	defer v.mu.Unlock()
	if !force && slices.Equal(v.areas, areas) {
		return
	}
	v.areas = areas
	v.areasChanged = true
}

// Flush drains everything recorded since the last call and renders it.
// It reports whether there was anything to render.
func (v *AreaView) Flush() bool {
	v.mu.Lock()
	if !v.areasChanged && len(v.updated) == 0 {
		v.mu.Unlock()
		return false
	}
	areas := slices.Clone(v.areas)
	updated := v.updated
	v.updated = nil
	v.pending.Clear()
	v.areasChanged = false
	v.mu.Unlock()

	v.render(areas, updated)
	return true
}

// Run flushes every interval until ctx is done.
func (v *AreaView) Run(ctx context.Context) {
	v.logger.Debugf("Starting area view for level %d every %s", v.level, v.interval)
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			v.logger.Debugf("Stopping area view")
			return
		case <-ticker.C:
			v.Flush()
		}
	}
}

// depth returns the level of item, 1 being the root.
func depth(item *model.Node) int {
	level := 1
	for parent := item.Parent(); parent != nil; parent = parent.Parent() {
		level++
	}
	return level
}

// areaOf returns the ancestor of item on the given level, or item itself.
// Items above the level have no area.
func areaOf(item *model.Node, level int) *model.Node {
	d := depth(item)
	if d < level {
		return nil
	}
	for ; d > level; d-- {
		item = item.Parent()
	}
	return item
}
