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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "alarm"
	subsystem = "client"

	recordKindConfig    = "config"
	recordKindState     = "state"
	recordKindTombstone = "tombstone"

	reasonInvalidPath = "invalid_path"
	reasonDecode      = "decode"
	reasonTree        = "tree"
	reasonPanic       = "panic"
	reasonPoll        = "poll"

	notificationAdded      = "added"
	notificationRemoved    = "removed"
	notificationUpdated    = "updated"
	notificationConnection = "connection"
	notificationMode       = "mode"
)

var (
	recordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "records_total",
			Help:      "Records read from the configuration and state topics",
		},
		[]string{"config", "kind"},
	)

	recordErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "record_errors_total",
			Help:      "Records that were skipped because they could not be processed",
		},
		[]string{"config", "reason"},
	)

	publishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "publish_errors_total",
			Help:      "Records that could not be published",
		},
		[]string{"config", "topic"},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_total",
			Help:      "Listener notifications by type",
		},
		[]string{"config", "type"},
	)

	knownItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "items",
			Help:      "Items currently in the replicated tree",
		},
		[]string{"config"},
	)

	serverAlive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "server_alive",
			Help:      "1 while the alarm server publishes state updates",
		},
		[]string{"config"},
	)
)
