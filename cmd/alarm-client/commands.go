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

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/client"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/model"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/path"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/xmlconfig"
	"github.com/united-manufacturing-hub/alarm-client/pkg/kafka"
)

// withClient runs fn against a started client. With a settle period the
// client first replays the tree for that long.
func withClient(s *settings, settle time.Duration, fn func(ctx context.Context, c *client.Client) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.NewFromBrokers(s.Client)
	if err != nil {
		return err
	}
	if err := c.Start(); err != nil {
		return err
	}
	defer func() {
		if err := c.Shutdown(); err != nil {
			zap.S().Warnf("Error shutting down alarm client: %s", err)
		}
	}()

	if settle > 0 {
		zap.S().Infof("Reading alarm tree %s for %s", s.Client.Name, settle)
		timer := time.NewTimer(settle)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fn(ctx, c)
}

func newAcknowledgeCommand(s *settings, acknowledge bool) *cobra.Command {
	use, short := "unack <path>", "Revert the acknowledgement of the alarms at path"
	if acknowledge {
		use, short = "ack <path>", "Acknowledge the alarms at path and below"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(s, 0, func(ctx context.Context, c *client.Client) error {
				if acknowledge {
					return c.Acknowledge(ctx, args[0])
				}
				return c.Unacknowledge(ctx, args[0])
			})
		},
	}
}

func newAddComponentCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "add-component <parent> <name>",
		Short: "Add a component below parent",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(s, 0, func(ctx context.Context, c *client.Client) error {
				return c.AddComponent(ctx, args[0], args[1])
			})
		},
	}
}

func newAddPVCommand(s *settings) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "add-pv <parent> <name>",
		Short: "Add an alarm PV below parent",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(s, 0, func(ctx context.Context, c *client.Client) error {
				if description == "" {
					return c.AddLeaf(ctx, args[0], args[1])
				}
				p, err := path.Make(args[0], args[1])
				if err != nil {
					return err
				}
				leaf := model.NewLeaf(args[1])
				config := model.DefaultLeafConfig(args[1])
				config.Description = description
				leaf.SetLeafConfig(config)
				return c.SendItemConfigurationUpdate(ctx, p, leaf)
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "alarm description")
	return cmd
}

func newRemoveCommand(s *settings) *cobra.Command {
	var settle time.Duration
	cmd := &cobra.Command{
		Use:   "remove <path>",
		Short: "Remove the item at path and everything below it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(s, settle, func(ctx context.Context, c *client.Client) error {
				return c.RemovePath(ctx, args[0])
			})
		},
	}
	cmd.Flags().DurationVar(&settle, "settle", 2*time.Second, "time to read the tree before removing")
	return cmd
}

func newModeCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:       "mode <maintenance|normal>",
		Short:     "Switch the alarm server mode",
		ValidArgs: []string{"maintenance", "normal"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(s, 0, func(ctx context.Context, c *client.Client) error {
				return c.SetMode(ctx, args[0] == "maintenance")
			})
		},
	}
}

func newNotifyCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:       "notify <enable|disable>",
		Short:     "Enable or disable alarm notifications",
		ValidArgs: []string{"enable", "disable"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(s, 0, func(ctx context.Context, c *client.Client) error {
				return c.SetNotify(ctx, args[0] == "disable")
			})
		},
	}
}

func newImportCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.xml>",
		Short: "Publish an alarm configuration exported as XML",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			root, err := xmlconfig.LoadFile(args[0])
			if err != nil {
				return err
			}
			if root.Name() != s.Client.Name {
				zap.S().Infof("Importing into configuration %s named by %s", root.Name(), args[0])
				s.Client.Name = root.Name()
			}
			return withClient(s, 0, func(ctx context.Context, c *client.Client) error {
				count, err := xmlconfig.Publish(ctx, c, root)
				zap.S().Infow("Imported alarm configuration", "config", root.Name(), "items", count)
				return err
			})
		},
	}
}

func newTopicsCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "Create the configuration, state and command topics if missing",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := s.Client.Validate(); err != nil {
				return err
			}
			spec := func(name string, compacted bool) kafka.TopicSpec {
				return kafka.TopicSpec{
					Name:              name,
					Partitions:        s.Topics.Partitions,
					ReplicationFactor: s.Topics.ReplicationFactor,
					Compacted:         compacted,
				}
			}
			created, err := kafka.EnsureTopics(s.Client.Brokers, kafka.NewConfig(s.Client.Identity.Host),
				spec(s.Client.ConfigTopic(), true),
				spec(s.Client.StateTopic(), true),
				spec(s.Client.CommandTopic(), false),
			)
			if err != nil {
				return err
			}
			zap.S().Infow("Ensured alarm topics", "created", created)
			return nil
		},
	}
}
