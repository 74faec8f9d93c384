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

// Package client replicates an alarm tree from its configuration and state
// topics and publishes changes and commands back.
//
// The tree is only ever modified by the client loop. Writers publish a
// record and the loop applies it once it comes back from the log, exactly
// like on every other replica.
package client

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	goset "github.com/deckarep/golang-set/v2"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/model"
	"github.com/united-manufacturing-hub/alarm-client/pkg/kafka"
)

var (
	// ErrUnknownListener is returned when removing a listener that was
	// never added.
	ErrUnknownListener = errors.New("unknown listener")

	// ErrUncomparableListener is returned when adding a listener that
	// cannot be found again by RemoveListener, e.g. a struct value holding
	// a map. Register a pointer instead.
	ErrUncomparableListener = errors.New("listener is not comparable")

	// ErrInvalidState is returned for lifecycle calls that are not allowed
	// in the current state, e.g. starting a client twice.
	ErrInvalidState = errors.New("invalid client state")
)

// Lifecycle states. A stopped client cannot be started again.
const (
	StateCreated      = "created"
	StateRunning      = "running"
	StateShuttingDown = "shutting_down"
	StateStopped      = "stopped"

	eventStart    = "start"
	eventShutdown = "shutdown"
	eventStopped  = "stopped"
)

// Client keeps a local replica of one alarm tree.
type Client struct {
	config   Config
	consumer kafka.Consumer
	producer kafka.Producer
	logger   *zap.SugaredLogger
	now      func() time.Time

	root *model.Node

	// Only touched by the loop goroutine.
	rootAnnounced bool
	deletedPaths  goset.Set[string]
	itemCount     int
	lastState     time.Time
	alive         bool

	listenersMu sync.Mutex
	listeners   atomic.Pointer[[]Listener]

	maintenance   atomic.Bool
	disableNotify atomic.Bool
	serverAlive   atomic.Bool

	lifecycleMu sync.Mutex
	lifecycle   *fsm.FSM
	cancel      context.CancelFunc
	done        chan struct{}
}

// Option customises a Client.
type Option func(*Client)

// WithLogger replaces the default zap.S() based logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClock replaces time.Now for the server liveness check.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New creates a client reading from consumer and writing to producer.
// The client owns both and closes them on Shutdown.
func New(config Config, consumer kafka.Consumer, producer kafka.Producer, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	if consumer == nil || producer == nil {
		return nil, errors.New("consumer and producer are required")
	}

	c := &Client{
		config:       config,
		consumer:     consumer,
		producer:     producer,
		now:          time.Now,
		root:         model.NewInterior(config.Name),
		deletedPaths: goset.NewThreadUnsafeSet[string](),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.S()
	}
	c.logger = c.logger.With("config", config.Name)
	c.listeners.Store(&[]Listener{})

	c.lifecycle = fsm.NewFSM(
		StateCreated,
		fsm.Events{
			{Name: eventStart, Src: []string{StateCreated}, Dst: StateRunning},
			{Name: eventShutdown, Src: []string{StateRunning}, Dst: StateShuttingDown},
			{Name: eventStopped, Src: []string{StateShuttingDown}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logger.Debugf("Entering %s state for alarm client %s", e.Dst, c.config.Name)
			},
		},
	)
	return c, nil
}

// NewFromBrokers connects a sarama consumer and producer to config.Brokers.
func NewFromBrokers(config Config, opts ...Option) (*Client, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	saramaConfig := kafka.NewConfig(config.Identity.Host)
	consumer, err := kafka.NewConsumer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, err
	}
	producer, err := kafka.NewProducer(config.Brokers, saramaConfig)
	if err != nil {
		_ = consumer.Close()
		return nil, err
	}
	c, err := New(config, consumer, producer, opts...)
	if err != nil {
		_ = consumer.Close()
		_ = producer.Close()
		return nil, err
	}
	return c, nil
}

// Config returns the configuration of the client.
func (c *Client) Config() Config {
	return c.config
}

// Start launches the client loop. It is only valid on a new client.
func (c *Client) Start() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if err := c.lifecycle.Event(context.Background(), eventStart); err != nil {
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, c.lifecycle.Current())
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.logger.Infow("starting alarm client",
		"configTopic", c.config.ConfigTopic(), "stateTopic", c.config.StateTopic())
	go c.run(ctx)
	return nil
}

// Shutdown stops the loop, waiting at most the configured shutdown timeout,
// and closes consumer and producer. A loop that does not stop in time is
// logged and abandoned.
func (c *Client) Shutdown() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if err := c.lifecycle.Event(context.Background(), eventShutdown); err != nil {
		return fmt.Errorf("%w: cannot shut down from %s", ErrInvalidState, c.lifecycle.Current())
	}

	c.cancel()
	timer := time.NewTimer(c.config.ShutdownTimeout)
	select {
	case <-c.done:
		timer.Stop()
	case <-timer.C:
		c.logger.Errorf("alarm client loop did not stop within %s", c.config.ShutdownTimeout)
	}

	if err := c.consumer.Close(); err != nil {
		c.logger.Warnf("closing consumer: %s", err)
	}
	if err := c.producer.Close(); err != nil {
		c.logger.Warnf("closing producer: %s", err)
	}

	if err := c.lifecycle.Event(context.Background(), eventStopped); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidState, err)
	}
	c.logger.Infof("alarm client shut down")
	return nil
}

// State returns the lifecycle state.
func (c *Client) State() string {
	return c.lifecycle.Current()
}

// IsRunning is true between Start and Shutdown.
func (c *Client) IsRunning() bool {
	return c.lifecycle.Current() == StateRunning
}

// Root returns the root item, named after the configuration.
func (c *Client) Root() *model.Node {
	return c.root
}

// FindNode looks up the item at p. It returns nil without error when the
// item does not exist.
func (c *Client) FindNode(p string) (*model.Node, error) {
	segments, err := c.checkPath(p)
	if err != nil {
		return nil, err
	}
	return c.root.Find(segments[1:]...), nil
}

// IsServerAlive reports whether the alarm server published state recently.
func (c *Client) IsServerAlive() bool {
	return c.serverAlive.Load()
}

// IsMaintenanceMode reports the last mode published by the alarm server.
func (c *Client) IsMaintenanceMode() bool {
	return c.maintenance.Load()
}

// IsDisableNotify reports whether the alarm server has notifications off.
func (c *Client) IsDisableNotify() bool {
	return c.disableNotify.Load()
}

// AddListener registers l. It may be called at any time, also from within
// a notification.
func (c *Client) AddListener(l Listener) error {
	if !isComparable(l) {
		return fmt.Errorf("%w: %T", ErrUncomparableListener, l)
	}
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	current := *c.listeners.Load()
	updated := make([]Listener, 0, len(current)+1)
	updated = append(updated, current...)
	updated = append(updated, l)
	c.listeners.Store(&updated)
	return nil
}

// RemoveListener unregisters l.
func (c *Client) RemoveListener(l Listener) error {
	if !isComparable(l) {
		return fmt.Errorf("%w: %T", ErrUnknownListener, l)
	}
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	current := *c.listeners.Load()
	for i, existing := range current {
		if existing == l {
			updated := make([]Listener, 0, len(current)-1)
			updated = append(updated, current[:i]...)
			updated = append(updated, current[i+1:]...)
			c.listeners.Store(&updated)
			return nil
		}
	}
	return fmt.Errorf("%w: %T", ErrUnknownListener, l)
}

// isComparable reports whether l can be matched with ==.
func isComparable(l Listener) bool {
	return l != nil && reflect.TypeOf(l).Comparable()
}

func (c *Client) snapshotListeners() []Listener {
	return *c.listeners.Load()
}
