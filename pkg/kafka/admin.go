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

package kafka

import (
	"errors"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// TopicSpec describes a topic to create.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	// Compacted topics keep the latest record per key, and tombstones
	// eventually remove the key.
	Compacted bool
}

func (s TopicSpec) detail() *sarama.TopicDetail {
	partitions := s.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	replication := s.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}
	detail := &sarama.TopicDetail{
		NumPartitions:     partitions,
		ReplicationFactor: replication,
		ConfigEntries:     map[string]*string{},
	}
	if s.Compacted {
		policy := "compact"
		detail.ConfigEntries["cleanup.policy"] = &policy
	}
	return detail
}

// EnsureTopics creates the topics that do not exist yet and returns the
// names it created.
func EnsureTopics(brokers []string, config *sarama.Config, specs ...TopicSpec) ([]string, error) {
	admin, err := sarama.NewClusterAdmin(brokers, config)
	if err != nil {
		return nil, &TransportError{Op: "admin", Err: err}
	}
	defer func() {
		if err := admin.Close(); err != nil {
			zap.S().Warnf("closing cluster admin: %s", err)
		}
	}()

	existing, err := admin.ListTopics()
	if err != nil {
		return nil, &TransportError{Op: "list topics", Err: err}
	}

	var created []string
	for _, spec := range specs {
		if _, ok := existing[spec.Name]; ok {
			zap.S().Debugf("[CACHED] Topic %s exists", spec.Name)
			continue
		}
		err = admin.CreateTopic(spec.Name, spec.detail(), false)
		if errors.Is(err, sarama.ErrTopicAlreadyExists) {
			continue
		}
		if err != nil {
			zap.S().Errorf("Failed to create Topic %s : %s", spec.Name, err)
			return created, &TransportError{Op: "create topic", Topic: spec.Name, Err: err}
		}
		zap.S().Infof("Created topic %s", spec.Name)
		created = append(created, spec.Name)
	}
	return created, nil
}
