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

package client_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/client"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/codec"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/model"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/path"
	"github.com/united-manufacturing-hub/alarm-client/pkg/kafka"
	"github.com/united-manufacturing-hub/alarm-client/pkg/kafka/memlog"
)

const (
	gauge1       = "Accel/Vacuum/Gauge1"
	gauge2       = "Accel/Vacuum/Gauge2"
	gauge1Config = `{"user":"operator","host":"console1","description":"Gauge 1","pv":"SIM:GAUGE1"}`
	gauge2Config = `{"user":"operator","host":"console1","description":"Gauge 2","pv":"SIM:GAUGE2"}`
)

func leafState(severity string, extra string) string {
	return fmt.Sprintf(`{"severity":%q,"latch":true,"message":"HIGH","value":"5.3",`+
		`"time":{"seconds":1700000000,"nano":0},"current_severity":%q,"current_message":"HIGH"%s}`,
		severity, severity, extra)
}

type recorder struct {
	mu         sync.Mutex
	events     []string
	connection []bool
	modes      []string
}

func (r *recorder) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) ItemAdded(item *model.Node)   { r.record("added " + item.PathName()) }
func (r *recorder) ItemRemoved(item *model.Node) { r.record("removed " + item.Name()) }
func (r *recorder) ItemUpdated(item *model.Node) { r.record("updated " + item.PathName()) }

func (r *recorder) ConnectionStateChanged(alive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connection = append(r.connection, alive)
}

func (r *recorder) ServerModeChanged(maintenance bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes = append(r.modes, fmt.Sprintf("maintenance %t", maintenance))
}

func (r *recorder) DisableNotifyChanged(disableNotify bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes = append(r.modes, fmt.Sprintf("disableNotify %t", disableNotify))
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Removed() []string {
	var removed []string
	for _, event := range r.Events() {
		if name, ok := strings.CutPrefix(event, "removed "); ok {
			removed = append(removed, name)
		}
	}
	return removed
}

func (r *recorder) Connection() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.connection...)
}

func (r *recorder) Modes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.modes...)
}

// taggingListener is a value type that cannot be compared with ==.
type taggingListener struct {
	tags map[string]bool
}

func (t taggingListener) ItemAdded(item *model.Node)   { t.tags[item.PathName()] = true }
func (t taggingListener) ItemRemoved(item *model.Node) { delete(t.tags, item.PathName()) }
func (t taggingListener) ItemUpdated(*model.Node)      {}
func (t taggingListener) ConnectionStateChanged(bool)  {}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

var _ = Describe("Client", func() {
	var (
		topicLog *memlog.Log
		consumer *memlog.Consumer
		config   client.Config
		c        *client.Client
		rec      *recorder
		ctx      context.Context
	)

	newClient := func(opts ...client.Option) *client.Client {
		consumer = topicLog.NewConsumer()
		opts = append([]client.Option{client.WithLogger(zaptest.NewLogger(GinkgoT()).Sugar())}, opts...)
		created, err := client.New(config, consumer, topicLog.NewProducer(), opts...)
		Expect(err).NotTo(HaveOccurred())
		Expect(created.AddListener(rec)).To(Succeed())
		return created
	}

	appendRecord := func(topic, key, value string) {
		message := &kafka.Message{Topic: topic, Key: []byte(key)}
		if value != "" {
			message.Value = []byte(value)
		}
		topicLog.Append(message)
	}
	publishConfig := func(key, value string) { appendRecord(config.ConfigTopic(), key, value) }
	publishState := func(key, value string) { appendRecord(config.StateTopic(), key, value) }
	tombstone := func(key string) { appendRecord(config.ConfigTopic(), key, "") }

	findNode := func(p string) func() *model.Node {
		return func() *model.Node {
			node, err := c.FindNode(p)
			Expect(err).NotTo(HaveOccurred())
			return node
		}
	}

	BeforeEach(func() {
		topicLog = memlog.New(1)
		config = client.DefaultConfig("Accel")
		config.Identity = codec.Identity{User: "operator", Host: "console1"}
		config.PollTimeout = 20 * time.Millisecond
		config.ShutdownTimeout = time.Second
		rec = &recorder{}
		ctx = context.Background()
		c = newClient()
	})

	AfterEach(func() {
		if c.IsRunning() {
			Expect(c.Shutdown()).To(Succeed())
		}
	})

	Describe("lifecycle", func() {
		It("rejects invalid transitions", func() {
			Expect(c.State()).To(Equal(client.StateCreated))
			Expect(c.Shutdown()).To(MatchError(client.ErrInvalidState))

			Expect(c.Start()).To(Succeed())
			Expect(c.IsRunning()).To(BeTrue())
			Expect(c.Start()).To(MatchError(client.ErrInvalidState))

			Expect(c.Shutdown()).To(Succeed())
			Expect(c.State()).To(Equal(client.StateStopped))
			Expect(c.Shutdown()).To(MatchError(client.ErrInvalidState))
			Expect(c.Start()).To(MatchError(client.ErrInvalidState))
		})

		It("rejects an invalid configuration", func() {
			_, err := client.New(client.Config{}, consumer, topicLog.NewProducer())
			Expect(err).To(HaveOccurred())
		})

		It("shuts down while the loop waits in poll", func() {
			config.PollTimeout = 10 * time.Second
			c = newClient()
			Expect(c.Start()).To(Succeed())
			Eventually(rec.Connection).Should(Equal([]bool{false}))

			started := time.Now()
			Expect(c.Shutdown()).To(Succeed())
			Expect(time.Since(started)).To(BeNumerically("<", config.ShutdownTimeout))
			Expect(c.IsRunning()).To(BeFalse())
		})
	})

	Describe("replication", func() {
		BeforeEach(func() {
			Expect(c.Start()).To(Succeed())
		})

		It("creates missing items outermost first", func() {
			publishConfig(gauge1, gauge1Config)

			Eventually(rec.Events).Should(Equal([]string{
				"added Accel",
				"added Accel/Vacuum",
				"added Accel/Vacuum/Gauge1",
				"updated Accel/Vacuum/Gauge1",
			}))
			node := findNode(gauge1)()
			Expect(node.IsLeaf()).To(BeTrue())
			leaf, ok := node.LeafConfig()
			Expect(ok).To(BeTrue())
			Expect(leaf.PV).To(Equal("SIM:GAUGE1"))
			Expect(leaf.Description).To(Equal("Gauge 1"))
			Expect(leaf.Enabled).To(BeTrue())
		})

		It("reports the state of an item created by a state record", func() {
			publishConfig("Accel/Vacuum", `{}`)
			Eventually(rec.Events).Should(HaveLen(2))

			publishState(gauge1, leafState("MAJOR", ""))

			Eventually(rec.Events).Should(Equal([]string{
				"added Accel",
				"added Accel/Vacuum",
				"added Accel/Vacuum/Gauge1",
				"updated Accel/Vacuum/Gauge1",
			}))
			Expect(c.Root().Severity()).To(Equal(model.SeverityMajor))
		})

		It("announces each item once when parents arrive first", func() {
			publishConfig("Accel", `{}`)
			publishConfig("Accel/Vacuum", `{}`)
			publishConfig(gauge1, gauge1Config)
			publishConfig("Accel/Vacuum", `{}`)
			publishConfig("Accel/Marker", `{}`)

			Eventually(rec.Events).Should(Equal([]string{
				"added Accel",
				"added Accel/Vacuum",
				"added Accel/Vacuum/Gauge1",
				"updated Accel/Vacuum/Gauge1",
				"added Accel/Marker",
			}))
		})

		It("removes an item on a tombstone and keeps its parent", func() {
			publishConfig(gauge1, gauge1Config)
			tombstone(gauge1)

			Eventually(rec.Removed).Should(Equal([]string{"Gauge1"}))
			Expect(findNode(gauge1)()).To(BeNil())
			Expect(findNode("Accel/Vacuum")()).NotTo(BeNil())
		})

		It("ignores tombstones for unknown items and for the root", func() {
			tombstone("Accel/Unknown")
			tombstone("Accel")
			publishConfig("Accel/Area", `{}`)

			Eventually(rec.Events).Should(Equal([]string{"added Accel", "added Accel/Area"}))
			Consistently(rec.Removed, 100*time.Millisecond).Should(BeEmpty())
		})

		It("stays silent when records are replayed", func() {
			publishConfig(gauge1, gauge1Config)
			publishState(gauge1, leafState("MAJOR", ""))
			Eventually(rec.Events).Should(HaveLen(5))

			publishConfig(gauge1, gauge1Config)
			publishState(gauge1, leafState("MAJOR", ""))
			consumer.Rewind()
			publishConfig("Accel/Marker", `{}`)

			Eventually(rec.Events).Should(ContainElement("added Accel/Marker"))
			Expect(rec.Events()).To(Equal([]string{
				"added Accel",
				"added Accel/Vacuum",
				"added Accel/Vacuum/Gauge1",
				"updated Accel/Vacuum/Gauge1",
				"updated Accel/Vacuum/Gauge1",
				"added Accel/Marker",
			}))
		})

		It("rolls severities up to the root", func() {
			publishConfig(gauge1, gauge1Config)
			publishConfig(gauge2, gauge2Config)
			publishState(gauge1, leafState("MINOR", ""))
			publishState(gauge2, leafState("MAJOR", ""))

			Eventually(func() model.SeverityLevel { return c.Root().Severity() }).
				Should(Equal(model.SeverityMajor))
			Expect(findNode("Accel/Vacuum")().Severity()).To(Equal(model.SeverityMajor))

			publishState(gauge2, leafState("OK", ""))
			Eventually(func() model.SeverityLevel { return c.Root().Severity() }).
				Should(Equal(model.SeverityMinor))

			state, ok := findNode(gauge1)().LeafState()
			Expect(ok).To(BeTrue())
			Expect(state.Message).To(Equal("HIGH"))
			Expect(state.Value).To(Equal("5.3"))
			Expect(state.Latched).To(BeTrue())
			Expect(state.Time.Equal(time.Unix(1700000000, 0))).To(BeTrue())
		})

		It("keeps the severity reported for interior items apart", func() {
			publishConfig(gauge1, gauge1Config)
			publishState("Accel/Vacuum", `{"severity":"MAJOR"}`)

			Eventually(rec.Events).Should(ContainElement("updated Accel/Vacuum"))
			vacuum := findNode("Accel/Vacuum")()
			Expect(vacuum.ReportedSeverity()).To(Equal(model.SeverityMajor))
			Expect(vacuum.Severity()).To(Equal(model.SeverityOK))
		})

		It("skips records it cannot apply", func() {
			publishConfig("Accel/Bad", `{"pv":`)
			publishConfig("Other/Area", `{}`)
			publishConfig("Accel/Wrong", `{"severity":"MAJOR"}`)
			publishConfig(gauge1, gauge1Config)
			publishConfig(gauge1+"/Sub", `{}`)
			publishConfig("Accel/Good", `{}`)

			Eventually(rec.Events).Should(Equal([]string{
				"added Accel",
				"added Accel/Vacuum",
				"added Accel/Vacuum/Gauge1",
				"updated Accel/Vacuum/Gauge1",
				"added Accel/Good",
			}))
			Expect(findNode("Accel/Bad")()).To(BeNil())
			Expect(findNode("Accel/Wrong")()).To(BeNil())
			Expect(findNode(gauge1)().ChildCount()).To(Equal(0))
		})

		It("ignores state of deleted items until they are configured again", func() {
			publishConfig(gauge1, gauge1Config)
			tombstone(gauge1)
			Eventually(rec.Removed).Should(Equal([]string{"Gauge1"}))

			publishState(gauge1, leafState("MAJOR", ""))
			publishState("Accel", `{"severity":"MINOR"}`)
			Eventually(rec.Events).Should(ContainElement("updated Accel"))
			Expect(findNode(gauge1)()).To(BeNil())

			publishConfig(gauge1, gauge1Config)
			Eventually(findNode(gauge1)).ShouldNot(BeNil())
			publishState(gauge1, leafState("MAJOR", ""))
			Eventually(func() model.SeverityLevel { return findNode(gauge1)().Severity() }).
				Should(Equal(model.SeverityMajor))
		})

		It("applies records with a legacy key prefix", func() {
			publishConfig("config:"+gauge1, gauge1Config)
			publishConfig("state:"+gauge1, leafState("MAJOR", ""))
			publishConfig("command:"+gauge1, "acknowledge")

			Eventually(func() model.SeverityLevel { return c.Root().Severity() }).
				Should(Equal(model.SeverityMajor))
		})

		It("reports server modes to mode listeners", func() {
			publishConfig(gauge1, gauge1Config)
			publishState(gauge1, leafState("MAJOR", `,"mode":"maintenance","notify":false`))

			Eventually(rec.Modes).Should(Equal([]string{"maintenance true", "disableNotify true"}))
			Expect(c.IsMaintenanceMode()).To(BeTrue())
			Expect(c.IsDisableNotify()).To(BeTrue())

			publishState(gauge1, leafState("MAJOR", ""))
			Eventually(rec.Modes).Should(HaveLen(4))
			Expect(c.IsMaintenanceMode()).To(BeFalse())
			Expect(c.IsDisableNotify()).To(BeFalse())
		})

		It("stops notifying removed listeners", func() {
			other := &recorder{}
			Expect(c.AddListener(other)).To(Succeed())
			Expect(c.RemoveListener(rec)).To(Succeed())
			Expect(c.RemoveListener(&recorder{})).To(MatchError(client.ErrUnknownListener))

			publishConfig(gauge1, gauge1Config)
			Eventually(other.Events).Should(HaveLen(4))
			Expect(rec.Events()).To(BeEmpty())
		})

		It("refuses listeners it could not remove again", func() {
			tags := taggingListener{tags: map[string]bool{}}
			Expect(c.AddListener(tags)).To(MatchError(client.ErrUncomparableListener))
			Expect(c.RemoveListener(tags)).To(MatchError(client.ErrUnknownListener))
			Expect(c.AddListener(nil)).To(MatchError(client.ErrUncomparableListener))

			Expect(c.AddListener(&tags)).To(Succeed())
			Expect(c.RemoveListener(&tags)).To(Succeed())
		})
	})

	Describe("partitioned logs", func() {
		type record struct {
			state      bool
			key, value string
		}
		const (
			klystron       = "Accel/RF/Klystron"
			gauge3         = "Accel/Vacuum/Gauge3"
			klystronConfig = `{"description":"Klystron","pv":"SIM:KLY"}`
		)

		dumpTree := func(root *model.Node) []string {
			var lines []string
			root.Walk(func(node *model.Node, _ int) bool {
				line := node.PathName() + " " + node.Severity().String()
				if leaf, ok := node.LeafConfig(); ok {
					line += " pv=" + leaf.PV
				} else if reported := node.ReportedSeverity(); reported != model.SeverityOK {
					line += " reported=" + reported.String()
				}
				lines = append(lines, line)
				return true
			})
			return lines
		}

		replicate := func(records []record) []string {
			partitioned := memlog.New(4)
			for _, r := range records {
				message := &kafka.Message{Topic: config.ConfigTopic(), Key: []byte(r.key)}
				if r.state {
					message.Topic = config.StateTopic()
				}
				if r.value != "" {
					message.Value = []byte(r.value)
				}
				partitioned.Append(message)
			}

			replica, err := client.New(config, partitioned.NewConsumer(), partitioned.NewProducer(),
				client.WithLogger(zaptest.NewLogger(GinkgoT()).Sugar()))
			Expect(err).NotTo(HaveOccurred())
			Expect(replica.Start()).To(Succeed())
			defer func() {
				Expect(replica.Shutdown()).To(Succeed())
			}()

			tree := func() []string { return dumpTree(replica.Root()) }
			Eventually(tree).Should(HaveLen(6))
			Consistently(tree, 100*time.Millisecond).Should(HaveLen(6))
			return tree()
		}

		It("builds the same tree whatever the interleaving of paths", func() {
			configs := []record{
				{key: gauge1, value: gauge1Config},
				{key: gauge2, value: gauge2Config},
				{key: klystron, value: klystronConfig},
				{key: gauge3, value: gauge1Config},
				{key: gauge3},
			}
			states := []record{
				{state: true, key: gauge1, value: leafState("MINOR", "")},
				{state: true, key: gauge2, value: leafState("MAJOR", "")},
				{state: true, key: klystron, value: leafState("MAJOR", "")},
				{state: true, key: klystron, value: leafState("OK", "")},
				{state: true, key: "Accel/RF", value: `{"severity":"MINOR"}`},
			}

			orders := [][]record{
				append(append([]record{}, configs...), states...),
				{
					states[4], states[2], states[1], states[3], states[0],
					configs[3], configs[2], configs[4], configs[1], configs[0],
				},
				{
					configs[2], states[1], configs[3], states[2], configs[0],
					states[4], configs[4], states[3], configs[1], states[0],
				},
			}

			expected := []string{
				"Accel MAJOR",
				"Accel/RF OK reported=MINOR",
				"Accel/RF/Klystron OK pv=SIM:KLY",
				"Accel/Vacuum MAJOR",
				"Accel/Vacuum/Gauge1 MINOR pv=SIM:GAUGE1",
				"Accel/Vacuum/Gauge2 MAJOR pv=SIM:GAUGE2",
			}
			for _, order := range orders {
				Expect(replicate(order)).To(Equal(expected))
			}
		})
	})

	Describe("server liveness", func() {
		It("follows the age of the last state record", func() {
			clock := &fakeClock{now: time.Unix(1700000000, 0)}
			c = newClient(client.WithClock(clock.Now))
			Expect(c.Start()).To(Succeed())
			Eventually(rec.Connection).Should(Equal([]bool{false}))

			publishConfig(gauge1, gauge1Config)
			publishState(gauge1, leafState("MAJOR", ""))
			Eventually(rec.Connection).Should(Equal([]bool{false, true}))
			Expect(c.IsServerAlive()).To(BeTrue())

			clock.Advance(config.ServerIdleTimeout + time.Second)
			Eventually(rec.Connection).Should(Equal([]bool{false, true, false}))
			Expect(c.IsServerAlive()).To(BeFalse())
		})
	})

	Describe("publishing", func() {
		It("publishes configuration without touching the local tree", func() {
			Expect(c.AddComponent(ctx, "Accel", "Area")).To(Succeed())
			Expect(c.AddLeaf(ctx, "Accel/Area", "SIM:GAUGE3")).To(Succeed())

			records := topicLog.Records(config.ConfigTopic())
			Expect(records).To(HaveLen(2))
			Expect(string(records[0].Key)).To(Equal("Accel/Area"))
			Expect(string(records[1].Key)).To(Equal("Accel/Area/SIM:GAUGE3"))

			message, err := codec.DecodeConfig(records[1].Value)
			Expect(err).NotTo(HaveOccurred())
			Expect(message.IsLeaf()).To(BeTrue())
			Expect(*message.PV).To(Equal("SIM:GAUGE3"))
			Expect(message.User).To(Equal("operator"))
			Expect(message.Host).To(Equal("console1"))

			Expect(findNode("Accel/Area")()).To(BeNil())

			Expect(c.Start()).To(Succeed())
			Eventually(findNode("Accel/Area/SIM:GAUGE3")).ShouldNot(BeNil())
			Expect(findNode("Accel/Area/SIM:GAUGE3")().IsLeaf()).To(BeTrue())
		})

		It("publishes commands with the client identity", func() {
			Expect(c.Acknowledge(ctx, "Accel/Vacuum")).To(Succeed())
			Expect(c.Unacknowledge(ctx, "Accel/Vacuum")).To(Succeed())
			Expect(c.SetMode(ctx, true)).To(Succeed())
			Expect(c.SetMode(ctx, false)).To(Succeed())
			Expect(c.SetNotify(ctx, true)).To(Succeed())
			Expect(c.SetNotify(ctx, false)).To(Succeed())

			var commands []string
			for _, record := range topicLog.Records(config.CommandTopic()) {
				commands = append(commands, string(record.Key)+"="+string(record.Value))
				Expect(record.Headers).To(HaveKeyWithValue(client.HeaderUser, "operator"))
				Expect(record.Headers).To(HaveKeyWithValue(client.HeaderHost, "console1"))
			}
			Expect(commands).To(Equal([]string{
				"acknowledge=Accel/Vacuum",
				"unacknowledge=Accel/Vacuum",
				"maintenance=Accel",
				"normal=Accel",
				"disable_notify=Accel",
				"enable_notify=Accel",
			}))
		})

		It("rejects paths outside the tree", func() {
			Expect(c.Acknowledge(ctx, "Other/Vacuum")).To(MatchError(path.ErrInvalidPath))
			Expect(c.AddComponent(ctx, "Other", "Area")).To(MatchError(path.ErrInvalidPath))
			Expect(c.RemovePath(ctx, "Accel")).To(HaveOccurred())
			Expect(topicLog.Records(config.ConfigTopic())).To(BeEmpty())
			Expect(topicLog.Records(config.CommandTopic())).To(BeEmpty())
		})

		It("removes items children first", func() {
			Expect(c.Start()).To(Succeed())
			publishConfig(gauge1, gauge1Config)
			publishConfig(gauge2, gauge2Config)
			Eventually(findNode(gauge2)).ShouldNot(BeNil())

			Expect(c.RemovePath(ctx, "Accel/Vacuum")).To(Succeed())

			records := topicLog.Records(config.ConfigTopic())[2:]
			var keys []string
			for i, record := range records {
				keys = append(keys, string(record.Key))
				Expect(record.IsTombstone()).To(Equal(i%2 == 1))
			}
			Expect(keys).To(Equal([]string{gauge1, gauge1, gauge2, gauge2, "Accel/Vacuum", "Accel/Vacuum"}))

			Eventually(rec.Removed).Should(Equal([]string{"Gauge1", "Gauge2", "Vacuum"}))
			Expect(findNode("Accel/Vacuum")()).To(BeNil())
		})

		It("removes items this replica does not know", func() {
			Expect(c.RemovePath(ctx, "Accel/Unknown")).To(Succeed())
			Expect(topicLog.Records(config.ConfigTopic())).To(HaveLen(2))
		})

		It("returns transport errors", func() {
			topicLog.FailSends(errors.New("broker down"))
			err := c.Acknowledge(ctx, "Accel")

			var transportErr *kafka.TransportError
			Expect(errors.As(err, &transportErr)).To(BeTrue())
			Expect(transportErr.Topic).To(Equal(config.CommandTopic()))
			Expect(err).To(MatchError(ContainSubstring("broker down")))

			topicLog.FailSends(nil)
			Expect(c.Start()).To(Succeed())
			Expect(c.Shutdown()).To(Succeed())
			Expect(c.Acknowledge(ctx, "Accel")).To(MatchError(kafka.ErrClosed))
		})
	})
})
