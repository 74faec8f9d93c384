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

// Package codec translates between the JSON records of the configuration
// and state logs and the nodes of an alarm tree.
package codec

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/model"
)

// ErrEmptyPayload is returned when a decoder is handed a tombstone.
var ErrEmptyPayload = errors.New("empty payload")

// DecodeError reports a record payload that could not be parsed.
type DecodeError struct {
	// Kind is "config" or "state".
	Kind string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %s payload: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeConfig parses a configuration record.
func DecodeConfig(data []byte) (*ConfigMessage, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Kind: "config", Err: ErrEmptyPayload}
	}
	var message ConfigMessage
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, &DecodeError{Kind: "config", Err: err}
	}
	return &message, nil
}

// DecodeState parses a state record. Unknown severity names are errors.
func DecodeState(data []byte) (*StateMessage, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Kind: "state", Err: ErrEmptyPayload}
	}
	var message StateMessage
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, &DecodeError{Kind: "state", Err: err}
	}
	return &message, nil
}

// IsLeaf reports whether the record describes a leaf. Leaf configuration
// names the monitored channel or carries a description.
func (m *ConfigMessage) IsLeaf() bool {
	return m.PV != nil || m.Description != nil
}

// IsDeleteMarker reports whether the record only identifies who is about
// to delete the item. Such records carry no configuration.
func (m *ConfigMessage) IsDeleteMarker() bool {
	return m.Delete != nil
}

// IsStateContent reports whether a configuration record carries alarm
// state instead.
func (m *ConfigMessage) IsStateContent() bool {
	return len(m.Severity) > 0
}

// IsLeaf reports whether the record carries the full alarm state of a leaf.
func (m *StateMessage) IsLeaf() bool {
	return m.CurrentSeverity != nil
}

// IsStateContent reports whether the record carries a severity at all.
// Records without one only announce server modes.
func (m *StateMessage) IsStateContent() bool {
	return m.Severity != nil
}

// Maintenance reports whether the server is in maintenance mode.
func (m *StateMessage) Maintenance() bool {
	return m.Mode == ModeMaintenance
}

// DisableNotify reports whether the server has notifications disabled.
func (m *StateMessage) DisableNotify() bool {
	return m.Notify != nil && !*m.Notify
}

// Flags returns the server modes carried by the record.
func (m *StateMessage) Flags() ServerFlags {
	return ServerFlags{Maintenance: m.Maintenance(), DisableNotify: m.DisableNotify()}
}

// ApplyConfig copies the record onto node and reports whether anything
// changed. Absent lists reset to empty. Leaf settings are only touched
// when both the node and the record are leaves; absent booleans mean true.
func ApplyConfig(node *model.Node, message *ConfigMessage) bool {
	changed := node.SetConfig(model.ItemConfig{
		Guidance: toTitleDetails(message.Guidance),
		Displays: patchDisplays(toTitleDetails(message.Displays)),
		Commands: toTitleDetails(message.Commands),
		Actions:  toTitleDetailDelays(message.Actions),
	})

	if !node.IsLeaf() || !message.IsLeaf() {
		return changed
	}

	config := model.LeafConfig{
		PV:           node.Name(),
		Description:  stringOr(message.Description, ""),
		Enabled:      boolOr(message.Enabled, true),
		Latching:     boolOr(message.Latching, true),
		Annunciating: boolOr(message.Annunciating, true),
		Delay:        intOr(message.Delay, 0),
		Count:        intOr(message.Count, 0),
		Filter:       stringOr(message.Filter, ""),
	}
	if message.PV != nil && *message.PV != "" {
		config.PV = *message.PV
	}
	return node.SetLeafConfig(config) || changed
}

// ApplyState copies the record onto node and reports whether anything
// changed. A leaf only accepts a complete alarm state. An interior node
// takes the severity as reported by the server.
func ApplyState(node *model.Node, message *StateMessage) bool {
	if message.Severity == nil {
		return false
	}
	if !node.IsLeaf() {
		return node.SetReportedSeverity(*message.Severity)
	}
	if message.CurrentSeverity == nil || message.Message == nil || message.Value == nil ||
		message.CurrentMessage == nil || message.Time == nil {
		return false
	}
	return node.SetLeafState(model.LeafState{
		Severity:        *message.Severity,
		Message:         *message.Message,
		Value:           *message.Value,
		Time:            time.Unix(message.Time.Seconds, message.Time.Nano),
		CurrentSeverity: *message.CurrentSeverity,
		CurrentMessage:  *message.CurrentMessage,
		Latched:         message.Latch,
	})
}

// patchDisplays removes the legacy "opi:" prefix from display links.
func patchDisplays(displays []model.TitleDetail) []model.TitleDetail {
	for i, display := range displays {
		if strings.HasPrefix(display.Detail, "opi:") {
			zap.S().Debugf("Removing 'opi:' prefix from display link %q", display.Detail)
			displays[i].Detail = strings.TrimPrefix(display.Detail, "opi:")
		}
	}
	return displays
}

func toTitleDetails(entries []TitleDetail) []model.TitleDetail {
	if len(entries) == 0 {
		return nil
	}
	result := make([]model.TitleDetail, len(entries))
	for i, entry := range entries {
		result[i] = model.TitleDetail{Title: entry.Title, Detail: entry.Details}
	}
	return result
}

func toTitleDetailDelays(entries []TitleDetailDelay) []model.TitleDetailDelay {
	if len(entries) == 0 {
		return nil
	}
	result := make([]model.TitleDetailDelay, len(entries))
	for i, entry := range entries {
		result[i] = model.TitleDetailDelay{Title: entry.Title, Detail: entry.Details, Delay: entry.Delay}
	}
	return result
}

func stringOr(value *string, fallback string) string {
	if value == nil {
		return fallback
	}
	return *value
}

func boolOr(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func intOr(value *int, fallback int) int {
	if value == nil {
		return fallback
	}
	return *value
}
