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

package model

import (
	"slices"
	"time"
)

// TitleDetail is a guidance entry, display link or command.
type TitleDetail struct {
	Title  string
	Detail string
}

// TitleDetailDelay is an automated action that fires after Delay seconds.
type TitleDetailDelay struct {
	Title  string
	Detail string
	Delay  int
}

// ItemConfig is the configuration shared by leaves and interior nodes.
type ItemConfig struct {
	Guidance []TitleDetail
	Displays []TitleDetail
	Commands []TitleDetail
	Actions  []TitleDetailDelay
}

// Equal compares all lists element by element. Nil and empty are equal.
func (c ItemConfig) Equal(other ItemConfig) bool {
	return slices.Equal(c.Guidance, other.Guidance) &&
		slices.Equal(c.Displays, other.Displays) &&
		slices.Equal(c.Commands, other.Commands) &&
		slices.Equal(c.Actions, other.Actions)
}

func (c ItemConfig) clone() ItemConfig {
	return ItemConfig{
		Guidance: slices.Clone(c.Guidance),
		Displays: slices.Clone(c.Displays),
		Commands: slices.Clone(c.Commands),
		Actions:  slices.Clone(c.Actions),
	}
}

// LeafConfig is the static configuration of a monitored channel.
type LeafConfig struct {
	PV           string
	Description  string
	Enabled      bool
	Latching     bool
	Annunciating bool
	// Delay in seconds before an alarm is indicated.
	Delay int
	// Count of alarms within Delay that trigger an indication.
	Count  int
	Filter string
}

// DefaultLeafConfig is what a leaf looks like before any configuration
// has been received.
func DefaultLeafConfig(pv string) LeafConfig {
	return LeafConfig{
		PV:           pv,
		Enabled:      true,
		Latching:     true,
		Annunciating: true,
	}
}

// LeafState is the alarm state of a leaf as published by the alarm server.
type LeafState struct {
	// Severity is the alarm severity, possibly latched or acknowledged.
	Severity SeverityLevel
	Message  string
	Value    string
	Time     time.Time
	// CurrentSeverity is the severity of the channel right now.
	CurrentSeverity SeverityLevel
	CurrentMessage  string
	Latched         bool
}

// Equal compares states, using time.Time.Equal for the timestamp.
func (s LeafState) Equal(other LeafState) bool {
	return s.Severity == other.Severity &&
		s.Message == other.Message &&
		s.Value == other.Value &&
		s.Time.Equal(other.Time) &&
		s.CurrentSeverity == other.CurrentSeverity &&
		s.CurrentMessage == other.CurrentMessage &&
		s.Latched == other.Latched
}
