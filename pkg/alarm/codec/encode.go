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

// EncodeConfig renders the configuration of node. Leaf settings are only
// written for leaves, and only where they differ from the defaults.
// The description is always present on a leaf so readers recognise it.
func EncodeConfig(node *model.Node, identity Identity) ([]byte, error) {
	config := node.Config()
	message := ConfigMessage{
		User:     identity.User,
		Host:     identity.Host,
		Guidance: fromTitleDetails(config.Guidance),
		Displays: fromTitleDetails(config.Displays),
		Commands: fromTitleDetails(config.Commands),
		Actions:  fromTitleDetailDelays(config.Actions),
	}

	if leaf, ok := node.LeafConfig(); ok {
		description := leaf.Description
		message.Description = &description
		if leaf.PV != "" {
			pv := leaf.PV
			message.PV = &pv
		}
		if !leaf.Enabled {
			message.Enabled = new(bool)
		}
		if !leaf.Latching {
			message.Latching = new(bool)
		}
		if !leaf.Annunciating {
			message.Annunciating = new(bool)
		}
		if leaf.Delay > 0 {
			delay := leaf.Delay
			message.Delay = &delay
		}
		if leaf.Count > 0 {
			count := leaf.Count
			message.Count = &count
		}
		if leaf.Filter != "" {
			filter := leaf.Filter
			message.Filter = &filter
		}
	}

	return json.Marshal(message)
}

// EncodeState renders the alarm state of a leaf as the alarm server
// publishes it.
func EncodeState(state model.LeafState, flags ServerFlags) ([]byte, error) {
	severity := state.Severity
	current := state.CurrentSeverity
	message := StateMessage{
		Severity:        &severity,
		Latch:           state.Latched,
		Message:         &state.Message,
		Value:           &state.Value,
		Time:            &Timestamp{Seconds: state.Time.Unix(), Nano: int64(state.Time.Nanosecond())},
		CurrentSeverity: &current,
		CurrentMessage:  &state.CurrentMessage,
	}
	applyFlags(&message, flags)
	return json.Marshal(message)
}

// EncodeNodeState renders the severity of an interior node.
func EncodeNodeState(severity model.SeverityLevel, flags ServerFlags) ([]byte, error) {
	message := StateMessage{Severity: &severity}
	applyFlags(&message, flags)
	return json.Marshal(message)
}

// EncodeDeleteMarker renders the record that identifies who removes an
// item. It is published right before the tombstone.
func EncodeDeleteMarker(identity Identity) ([]byte, error) {
	reason := deleteReason
	return json.Marshal(ConfigMessage{
		User:   identity.User,
		Host:   identity.Host,
		Delete: &reason,
	})
}

func applyFlags(message *StateMessage, flags ServerFlags) {
	if flags.Maintenance {
		message.Mode = ModeMaintenance
	}
	if flags.DisableNotify {
		message.Notify = new(bool)
	}
}

func fromTitleDetails(entries []model.TitleDetail) []TitleDetail {
	if len(entries) == 0 {
		return nil
	}
	result := make([]TitleDetail, len(entries))
	for i, entry := range entries {
		result[i] = TitleDetail{Title: entry.Title, Details: entry.Detail}
	}
	return result
}

func fromTitleDetailDelays(entries []model.TitleDetailDelay) []TitleDetailDelay {
	if len(entries) == 0 {
		return nil
	}
	result := make([]TitleDetailDelay, len(entries))
	for i, entry := range entries {
		result[i] = TitleDetailDelay{Title: entry.Title, Details: entry.Detail, Delay: entry.Delay}
	}
	return result
}
