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
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/united-manufacturing-hub/umh-utils/env"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/areaview"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/client"
)

type topicSettings struct {
	Partitions        int32 `yaml:"partitions"`
	ReplicationFactor int16 `yaml:"replicationFactor"`
}

// settings are read from the environment, then from the optional YAML
// file, then from command line flags. Later sources win.
type settings struct {
	Client      client.Config `yaml:"client"`
	HTTPPort    int           `yaml:"httpPort"`
	MetricsPort int           `yaml:"metricsPort"`
	HealthPort  int           `yaml:"healthPort"`
	AreaLevel   int           `yaml:"areaLevel"`
	Topics      topicSettings `yaml:"topics"`
}

func settingsFromEnv() (settings, error) {
	var errs []error
	str := func(key, fallback string) string {
		value, err := env.GetAsString(key, false, fallback)
		errs = append(errs, err)
		return value
	}
	num := func(key string, fallback int) int {
		value, err := env.GetAsInt(key, false, fallback)
		errs = append(errs, err)
		return value
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	config := client.DefaultConfig(str("ALARM_CONFIG", "Accelerator"))
	config.Brokers = splitBrokers(str("KAFKA_BROKERS", "localhost:9092"))
	config.Identity.User = str("ALARM_USER", os.Getenv("USER"))
	config.Identity.Host = str("ALARM_HOST", hostname)

	s := settings{
		Client:      config,
		HTTPPort:    num("HTTP_PORT", 8080),
		MetricsPort: num("METRICS_PORT", 2112),
		HealthPort:  num("HEALTH_PORT", 8086),
		AreaLevel:   num("AREA_LEVEL", areaview.DefaultLevel),
		Topics: topicSettings{
			Partitions:        int32(num("TOPIC_PARTITIONS", 1)),
			ReplicationFactor: int16(num("TOPIC_REPLICATION_FACTOR", 1)),
		},
	}
	return s, errors.Join(errs...)
}

// loadSettings applies filename, if set, on top of the environment.
func loadSettings(filename string) (settings, error) {
	s, err := settingsFromEnv()
	if err != nil {
		return s, err
	}
	if filename == "" {
		return s, nil
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return s, fmt.Errorf("cannot read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("cannot parse settings %s: %w", filename, err)
	}
	return s, nil
}

func splitBrokers(value string) []string {
	var brokers []string
	for _, broker := range strings.Split(value, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
