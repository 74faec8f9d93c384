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

package codec

import (
	"github.com/goccy/go-json"

	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/model"
)

const (
	// ModeMaintenance is the value of StateMessage.Mode while the alarm
	// server runs in maintenance mode.
	ModeMaintenance = "maintenance"

	deleteReason = "Deleting"
)

// TitleDetail is a guidance, display or command entry on the wire.
type TitleDetail struct {
	Title   string `json:"title"`
	Details string `json:"details"`
}

// TitleDetailDelay is an automated action on the wire.
type TitleDetailDelay struct {
	Title   string `json:"title"`
	Details string `json:"details"`
	Delay   int    `json:"delay"`
}

// ConfigMessage is a record of the configuration log.
// Pointer fields distinguish "absent" from the zero value.
type ConfigMessage struct {
	User string `json:"user,omitempty"`
	Host string `json:"host,omitempty"`

	PV           *string `json:"pv,omitempty"`
	Description  *string `json:"description,omitempty"`
	Enabled      *bool   `json:"enabled,omitempty"`
	Latching     *bool   `json:"latching,omitempty"`
	Annunciating *bool   `json:"annunciating,omitempty"`
	Delay        *int    `json:"delay,omitempty"`
	Count        *int    `json:"count,omitempty"`
	Filter       *string `json:"filter,omitempty"`

	Guidance []TitleDetail      `json:"guidance,omitempty"`
	Displays []TitleDetail      `json:"displays,omitempty"`
	Commands []TitleDetail      `json:"commands,omitempty"`
	Actions  []TitleDetailDelay `json:"actions,omitempty"`

	// Delete is set on the identification record written right before a
	// tombstone, naming who removed the item.
	Delete *string `json:"delete,omitempty"`

	// Severity never belongs into a configuration record. It is decoded
	// only to detect state records sent to the wrong topic.
	Severity json.RawMessage `json:"severity,omitempty"`
}

// Timestamp is an instant split into epoch seconds and nanoseconds.
type Timestamp struct {
	Seconds int64 `json:"seconds"`
	Nano    int64 `json:"nano"`
}

// StateMessage is a record of the state log.
type StateMessage struct {
	Severity        *model.SeverityLevel `json:"severity,omitempty"`
	Latch           bool                 `json:"latch,omitempty"`
	Message         *string              `json:"message,omitempty"`
	Value           *string              `json:"value,omitempty"`
	Time            *Timestamp           `json:"time,omitempty"`
	CurrentSeverity *model.SeverityLevel `json:"current_severity,omitempty"`
	CurrentMessage  *string              `json:"current_message,omitempty"`

	Mode   string `json:"mode,omitempty"`
	Notify *bool  `json:"notify,omitempty"`
}

// Identity names the user and host behind a published change.
type Identity struct {
	User string `json:"user" yaml:"user"`
	Host string `json:"host" yaml:"host"`
}

// ServerFlags are the server-wide modes carried on every state record.
type ServerFlags struct {
	Maintenance   bool
	DisableNotify bool
}
