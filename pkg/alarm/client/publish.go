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

	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/codec"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/model"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/path"
	"github.com/united-manufacturing-hub/alarm-client/pkg/kafka"
)

// Commands understood by the alarm server. They are published on the
// command topic with the command as key and the target path as value.
const (
	CommandAcknowledge   = "acknowledge"
	CommandUnacknowledge = "unacknowledge"
	CommandMaintenance   = "maintenance"
	CommandNormal        = "normal"
	CommandDisableNotify = "disable_notify"
	CommandEnableNotify  = "enable_notify"

	HeaderUser = "user"
	HeaderHost = "host"
)

// Publisher sends item configurations. *Client implements it.
type Publisher interface {
	SendItemConfigurationUpdate(ctx context.Context, p string, item *model.Node) error
}

var _ Publisher = (*Client)(nil)

// None of the following methods touch the local tree. Their effect shows
// once the loop reads the published record back. Transport failures are
// returned as *kafka.TransportError and are not retried.

// AddComponent publishes a new interior item below parentPath.
func (c *Client) AddComponent(ctx context.Context, parentPath, name string) error {
	p, err := path.Make(parentPath, name)
	if err != nil {
		return err
	}
	return c.SendItemConfigurationUpdate(ctx, p, model.NewInterior(name))
}

// AddLeaf publishes a new leaf below parentPath, monitoring the channel
// of the same name.
func (c *Client) AddLeaf(ctx context.Context, parentPath, name string) error {
	p, err := path.Make(parentPath, name)
	if err != nil {
		return err
	}
	return c.SendItemConfigurationUpdate(ctx, p, model.NewLeaf(name))
}

// SendItemConfigurationUpdate publishes the configuration of item for the
// path p. It is used to add, rename and reconfigure items.
func (c *Client) SendItemConfigurationUpdate(ctx context.Context, p string, item *model.Node) error {
	if _, err := c.checkPath(p); err != nil {
		return err
	}
	value, err := codec.EncodeConfig(item, c.config.Identity)
	if err != nil {
		return fmt.Errorf("cannot encode %s: %w", p, err)
	}
	return c.send(ctx, &kafka.Message{
		Topic: c.config.ConfigTopic(),
		Key:   []byte(p),
		Value: value,
	})
}

// RemoveComponent deletes item and everything below it, children first.
// Each item gets a record naming who deletes it, followed by a tombstone.
func (c *Client) RemoveComponent(ctx context.Context, item *model.Node) error {
	if err := c.checkRemoval(item.PathName()); err != nil {
		return err
	}
	for _, child := range item.Children() {
		if err := c.RemoveComponent(ctx, child); err != nil {
			return err
		}
	}
	return c.removePath(ctx, item.PathName())
}

// RemovePath deletes the item at p. Items unknown to this replica are
// still deleted, in case other replicas know them.
func (c *Client) RemovePath(ctx context.Context, p string) error {
	if err := c.checkRemoval(p); err != nil {
		return err
	}
	node, err := c.FindNode(p)
	if err != nil {
		return err
	}
	if node != nil {
		return c.RemoveComponent(ctx, node)
	}
	return c.removePath(ctx, p)
}

func (c *Client) checkRemoval(p string) error {
	segments, err := c.checkPath(p)
	if err != nil {
		return err
	}
	if len(segments) == 1 {
		return fmt.Errorf("cannot remove the root item %s", p)
	}
	return nil
}

func (c *Client) removePath(ctx context.Context, p string) error {
	if err := c.checkRemoval(p); err != nil {
		return err
	}
	marker, err := codec.EncodeDeleteMarker(c.config.Identity)
	if err != nil {
		return err
	}
	if err := c.send(ctx, &kafka.Message{Topic: c.config.ConfigTopic(), Key: []byte(p), Value: marker}); err != nil {
		return err
	}
	return c.send(ctx, &kafka.Message{Topic: c.config.ConfigTopic(), Key: []byte(p)})
}

// Acknowledge asks the alarm server to acknowledge the alarms at p and below.
func (c *Client) Acknowledge(ctx context.Context, p string) error {
	return c.sendCommand(ctx, CommandAcknowledge, p)
}

// Unacknowledge asks the alarm server to revert an acknowledgement.
func (c *Client) Unacknowledge(ctx context.Context, p string) error {
	return c.sendCommand(ctx, CommandUnacknowledge, p)
}

// SetMode asks the alarm server to enter or leave maintenance mode.
func (c *Client) SetMode(ctx context.Context, maintenance bool) error {
	command := CommandNormal
	if maintenance {
		command = CommandMaintenance
	}
	return c.sendCommand(ctx, command, c.root.Name())
}

// SetNotify asks the alarm server to disable or enable notifications.
func (c *Client) SetNotify(ctx context.Context, disable bool) error {
	command := CommandEnableNotify
	if disable {
		command = CommandDisableNotify
	}
	return c.sendCommand(ctx, command, c.root.Name())
}

func (c *Client) sendCommand(ctx context.Context, command, p string) error {
	if _, err := c.checkPath(p); err != nil {
		return err
	}
	return c.send(ctx, &kafka.Message{
		Topic: c.config.CommandTopic(),
		Key:   []byte(command),
		Value: []byte(p),
		Headers: map[string]string{
			HeaderUser: c.config.Identity.User,
			HeaderHost: c.config.Identity.Host,
		},
	})
}

func (c *Client) checkPath(p string) ([]string, error) {
	segments, err := path.SplitCached(p)
	if err != nil {
		return nil, err
	}
	if segments[0] != c.config.Name {
		return nil, &path.InvalidPathError{Path: p, Reason: "not below root " + c.config.Name}
	}
	return segments, nil
}

func (c *Client) send(ctx context.Context, message *kafka.Message) error {
	err := c.producer.Send(ctx, message)
	if err == nil {
		return nil
	}
	publishErrors.WithLabelValues(c.config.Name, message.Topic).Inc()
	c.logger.Errorf("cannot publish %q to %s: %s", message.Key, message.Topic, err)

	var transportErr *kafka.TransportError
	if errors.As(err, &transportErr) {
		return err
	}
	return &kafka.TransportError{Op: "send", Topic: message.Topic, Err: err}
}
