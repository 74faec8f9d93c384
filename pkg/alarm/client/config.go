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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/codec"
)

const (
	DefaultStateSuffix     = "State"
	DefaultCommandSuffix   = "Command"
	DefaultPollTimeout     = 100 * time.Millisecond
	DefaultShutdownTimeout = 2 * time.Second
	// DefaultServerIdleTimeout is how long the alarm server may stay silent
	// before it is considered disconnected.
	DefaultServerIdleTimeout = 30 * time.Second
)

// Config holds everything a Client needs. Build it with DefaultConfig.
type Config struct {
	// Brokers is only used by NewFromBrokers.
	Brokers []string `yaml:"brokers"`
	// Name of the configuration, which is also the name of the root item
	// and of the configuration topic.
	Name          string `yaml:"name"`
	StateSuffix   string `yaml:"stateSuffix"`
	CommandSuffix string `yaml:"commandSuffix"`

	// Identity is written into every published configuration and command.
	Identity codec.Identity `yaml:"identity"`

	PollTimeout       time.Duration `yaml:"pollTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
	ServerIdleTimeout time.Duration `yaml:"serverIdleTimeout"`
}

// DefaultConfig returns the configuration for the named alarm tree.
func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		StateSuffix:       DefaultStateSuffix,
		CommandSuffix:     DefaultCommandSuffix,
		PollTimeout:       DefaultPollTimeout,
		ShutdownTimeout:   DefaultShutdownTimeout,
		ServerIdleTimeout: DefaultServerIdleTimeout,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("configuration name is required"))
	}
	if strings.ContainsAny(c.Name, "/\\") {
		errs = append(errs, fmt.Errorf("configuration name %q must not contain path separators", c.Name))
	}
	if c.StateSuffix == "" || c.CommandSuffix == "" {
		errs = append(errs, errors.New("state and command topic suffixes are required"))
	}
	if c.StateSuffix == c.CommandSuffix {
		errs = append(errs, errors.New("state and command topic suffixes must differ"))
	}
	if c.PollTimeout <= 0 {
		errs = append(errs, errors.New("poll timeout must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.ServerIdleTimeout <= 0 {
		errs = append(errs, errors.New("server idle timeout must be positive"))
	}
	return errors.Join(errs...)
}

// ConfigTopic carries the configuration of the tree.
func (c Config) ConfigTopic() string {
	return c.Name
}

// StateTopic carries the alarm state published by the alarm server.
func (c Config) StateTopic() string {
	return c.Name + c.StateSuffix
}

// CommandTopic carries commands for the alarm server.
func (c Config) CommandTopic() string {
	return c.Name + c.CommandSuffix
}
