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
	"fmt"
	"strings"
)

// SeverityLevel is totally ordered; a higher value is more severe.
// Acknowledged severities rank below every active one.
type SeverityLevel int

const (
	SeverityOK SeverityLevel = iota
	SeverityMinorAck
	SeverityMajorAck
	SeverityInvalidAck
	SeverityUndefinedAck
	SeverityMinor
	SeverityMajor
	SeverityInvalid
	SeverityUndefined
)

var severityNames = [...]string{
	SeverityOK:           "OK",
	SeverityMinorAck:     "MINOR_ACK",
	SeverityMajorAck:     "MAJOR_ACK",
	SeverityInvalidAck:   "INVALID_ACK",
	SeverityUndefinedAck: "UNDEFINED_ACK",
	SeverityMinor:        "MINOR",
	SeverityMajor:        "MAJOR",
	SeverityInvalid:      "INVALID",
	SeverityUndefined:    "UNDEFINED",
}

func (s SeverityLevel) String() string {
	if s < SeverityOK || s > SeverityUndefined {
		return fmt.Sprintf("SeverityLevel(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity accepts the wire names, case-insensitive.
func ParseSeverity(name string) (SeverityLevel, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range severityNames {
		if n == upper {
			return SeverityLevel(i), nil
		}
	}
	return SeverityUndefined, fmt.Errorf("unknown severity level %q", name)
}

// IsActive is true for alarms that have not been acknowledged.
func (s SeverityLevel) IsActive() bool {
	return s >= SeverityMinor
}

// Acknowledged returns the acknowledged variant of an active severity.
func (s SeverityLevel) Acknowledged() SeverityLevel {
	switch s {
	case SeverityMinor:
		return SeverityMinorAck
	case SeverityMajor:
		return SeverityMajorAck
	case SeverityInvalid:
		return SeverityInvalidAck
	case SeverityUndefined:
		return SeverityUndefinedAck
	default:
		return s
	}
}

func (s SeverityLevel) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SeverityLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b SeverityLevel) SeverityLevel {
	if a > b {
		return a
	}
	return b
}
