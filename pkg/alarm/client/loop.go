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

package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/codec"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/model"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/path"
	"github.com/united-manufacturing-hub/alarm-client/pkg/kafka"
)

const (
	prefixConfig  = "config"
	prefixState   = "state"
	prefixCommand = "command"
)

// run is the client loop. It owns the tree until ctx is cancelled.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	c.setAlive(false)
	if !c.subscribe(ctx) {
		return
	}

	for ctx.Err() == nil {
		records, err := c.consumer.Poll(ctx, c.config.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, kafka.ErrClosed) {
				c.logger.Warnf("consumer closed, stopping alarm client loop")
				break
			}
			recordErrors.WithLabelValues(c.config.Name, reasonPoll).Inc()
			c.logger.Warnf("poll failed: %s", err)
			sleep(ctx, kafka.CycleTime)
			continue
		}

		for _, record := range records {
			if ctx.Err() != nil {
				break
			}
			c.processRecord(record)
		}
		c.checkServerState()
	}
	c.logger.Debugf("alarm client loop stopped")
}

// subscribe retries until the topics are subscribed or ctx is done.
func (c *Client) subscribe(ctx context.Context) bool {
	for ctx.Err() == nil {
		err := c.consumer.Subscribe(ctx, c.config.ConfigTopic(), c.config.StateTopic())
		if err == nil {
			return true
		}
		if ctx.Err() != nil || errors.Is(err, kafka.ErrClosed) {
			return false
		}
		c.logger.Warnf("cannot subscribe, retrying: %s", err)
		sleep(ctx, kafka.CycleTime*10)
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// processRecord never panics. Any failure is logged and counted and the
// loop moves on to the next record.
func (c *Client) processRecord(record *kafka.Message) {
	key := string(record.Key)
	defer func() {
		if r := recover(); r != nil {
			recordErrors.WithLabelValues(c.config.Name, reasonPanic).Inc()
			c.logger.Errorf("panic while processing %s record %q: %v", record.Topic, key, r)
		}
	}()

	p, prefix := path.Normalize(key)
	kind := prefix
	if kind == "" {
		kind = prefixConfig
		if record.Topic == c.config.StateTopic() {
			kind = prefixState
		}
	}

	var err error
	switch kind {
	case prefixState:
		err = c.handleState(p, record)
	case prefixCommand:
		c.logger.Debugw("ignoring command record", "topic", record.Topic, "key", key)
	default:
		err = c.handleConfig(p, record)
	}
	if err != nil {
		c.logger.Warnw("skipping record", "topic", record.Topic, "key", key,
			"partition", record.Partition, "offset", record.Offset, "error", err)
	}
}

func (c *Client) splitPath(p string) ([]string, error) {
	segments, err := path.SplitCached(p)
	if err != nil {
		recordErrors.WithLabelValues(c.config.Name, reasonInvalidPath).Inc()
		return nil, err
	}
	if segments[0] != c.config.Name {
		recordErrors.WithLabelValues(c.config.Name, reasonInvalidPath).Inc()
		return nil, &path.InvalidPathError{Path: p, Reason: "not below root " + c.config.Name}
	}
	return segments, nil
}

func (c *Client) handleConfig(p string, record *kafka.Message) error {
	segments, err := c.splitPath(p)
	if err != nil {
		return err
	}

	if record.IsTombstone() {
		recordsProcessed.WithLabelValues(c.config.Name, recordKindTombstone).Inc()
		c.deleteNode(p, segments)
		return nil
	}

	recordsProcessed.WithLabelValues(c.config.Name, recordKindConfig).Inc()
	message, err := codec.DecodeConfig(record.Value)
	if err != nil {
		recordErrors.WithLabelValues(c.config.Name, reasonDecode).Inc()
		return err
	}
	if message.IsDeleteMarker() {
		c.logger.Infow("item deletion announced", "path", p, "user", message.User, "host", message.Host)
		return nil
	}
	if message.IsStateContent() {
		recordErrors.WithLabelValues(c.config.Name, reasonDecode).Inc()
		return errors.New("configuration record with state content")
	}

	c.deletedPaths.Remove(p)
	node, created, err := c.findOrCreate(segments, message.IsLeaf())
	if err != nil {
		recordErrors.WithLabelValues(c.config.Name, reasonTree).Inc()
		return err
	}
	changed := codec.ApplyConfig(node, message)
	c.notifyChanges(node, created, changed)
	return nil
}

func (c *Client) handleState(p string, record *kafka.Message) error {
	segments, err := c.splitPath(p)
	if err != nil {
		return err
	}
	if record.IsTombstone() {
		recordErrors.WithLabelValues(c.config.Name, reasonDecode).Inc()
		return errors.New("state record without content")
	}

	recordsProcessed.WithLabelValues(c.config.Name, recordKindState).Inc()
	message, err := codec.DecodeState(record.Value)
	if err != nil {
		recordErrors.WithLabelValues(c.config.Name, reasonDecode).Inc()
		return err
	}
	if !message.IsStateContent() {
		recordErrors.WithLabelValues(c.config.Name, reasonDecode).Inc()
		return errors.New("state record without severity")
	}
	if c.deletedPaths.Contains(p) {
		c.logger.Debugw("ignoring state for deleted item", "path", p)
		return nil
	}

	node, created, err := c.findOrCreate(segments, message.IsLeaf())
	if err != nil {
		recordErrors.WithLabelValues(c.config.Name, reasonTree).Inc()
		return err
	}

	c.lastState = c.now()
	c.updateModes(message.Flags())

	changed := codec.ApplyState(node, message)
	c.notifyChanges(node, created, changed)
	return nil
}

// deleteNode detaches the item at p. Unknown items are fine: the tombstone
// may be the last record of an item this replica never saw.
func (c *Client) deleteNode(p string, segments []string) {
	if len(segments) == 1 {
		c.logger.Warnw("ignoring tombstone for the root item", "path", p)
		return
	}
	c.deletedPaths.Add(p)
	node := c.root.Find(segments[1:]...)
	if node == nil {
		return
	}
	node.DetachFromParent()
	c.updateItemCount(-countItems(node))
	c.logger.Debugw("deleted item", "path", p)
	for _, l := range c.snapshotListeners() {
		l.ItemRemoved(node)
	}
	notifications.WithLabelValues(c.config.Name, notificationRemoved).Inc()
}

// findOrCreate walks down segments, creating missing items. The created
// items are returned outermost first. The root counts as created the first
// time any record refers to it.
func (c *Client) findOrCreate(segments []string, isLeaf bool) (*model.Node, []*model.Node, error) {
	var created []*model.Node
	if !c.rootAnnounced {
		created = append(created, c.root)
	}

	node := c.root
	for i, name := range segments[1:] {
		last := i == len(segments)-2
		child := node.Child(name)
		if child == nil {
			if last && isLeaf {
				child = model.NewLeaf(name)
			} else {
				child = model.NewInterior(name)
			}
			if err := node.AddChild(child); err != nil {
				return nil, created, err
			}
			created = append(created, child)
		}
		if !last && child.IsLeaf() {
			return nil, created, fmt.Errorf("expected intermediate item, found leaf %s", child.PathName())
		}
		node = child
	}
	c.rootAnnounced = true
	return node, created, nil
}

// notifyChanges sends ItemAdded for each created item, then a single
// ItemUpdated when the record changed node, whether node is new or not.
func (c *Client) notifyChanges(node *model.Node, created []*model.Node, changed bool) {
	listeners := c.snapshotListeners()
	if len(created) > 0 {
		c.updateItemCount(len(created))
		for _, item := range created {
			for _, l := range listeners {
				l.ItemAdded(item)
			}
		}
		notifications.WithLabelValues(c.config.Name, notificationAdded).Add(float64(len(created)))
	}
	if !changed {
		return
	}
	for _, l := range listeners {
		l.ItemUpdated(node)
	}
	notifications.WithLabelValues(c.config.Name, notificationUpdated).Inc()
}

func (c *Client) updateModes(flags codec.ServerFlags) {
	listeners := c.snapshotListeners()
	if c.maintenance.Swap(flags.Maintenance) != flags.Maintenance {
		c.logger.Infow("server mode changed", "maintenance", flags.Maintenance)
		for _, l := range listeners {
			if ml, ok := l.(ModeListener); ok {
				ml.ServerModeChanged(flags.Maintenance)
			}
		}
		notifications.WithLabelValues(c.config.Name, notificationMode).Inc()
	}
	if c.disableNotify.Swap(flags.DisableNotify) != flags.DisableNotify {
		c.logger.Infow("server notify mode changed", "disableNotify", flags.DisableNotify)
		for _, l := range listeners {
			if ml, ok := l.(ModeListener); ok {
				ml.DisableNotifyChanged(flags.DisableNotify)
			}
		}
		notifications.WithLabelValues(c.config.Name, notificationMode).Inc()
	}
}

// checkServerState reports a change of server liveness. The server counts
// as alive while it published state within the idle timeout.
func (c *Client) checkServerState() {
	alive := !c.lastState.IsZero() && c.now().Sub(c.lastState) <= c.config.ServerIdleTimeout
	if alive != c.alive {
		c.setAlive(alive)
	}
}

func (c *Client) setAlive(alive bool) {
	c.alive = alive
	c.serverAlive.Store(alive)
	if alive {
		serverAlive.WithLabelValues(c.config.Name).Set(1)
	} else {
		serverAlive.WithLabelValues(c.config.Name).Set(0)
	}
	c.logger.Infow("alarm server connection changed", "alive", alive)
	for _, l := range c.snapshotListeners() {
		l.ConnectionStateChanged(alive)
	}
	notifications.WithLabelValues(c.config.Name, notificationConnection).Inc()
}

func (c *Client) updateItemCount(delta int) {
	c.itemCount += delta
	knownItems.WithLabelValues(c.config.Name).Set(float64(c.itemCount))
}

func countItems(node *model.Node) int {
	count := 0
	node.Walk(func(*model.Node, int) bool {
		count++
		return true
	})
	return count
}
