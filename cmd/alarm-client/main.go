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
	"os"

	"github.com/spf13/cobra"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"
)

func main() {
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	log := logger.New(logLevel)

	if err := newRootCommand(&settings{}).Execute(); err != nil {
		zap.S().Errorf("%s", err)
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

type flags struct {
	configPath string
	name       string
	brokers    []string
	user       string
	host       string
}

func newRootCommand(s *settings) *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "alarm-client",
		Short:         "Replicate, inspect and edit alarm trees stored in Kafka",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := loadSettings(f.configPath)
			if err != nil {
				return err
			}
			f.apply(cmd, &loaded)
			*s = loaded
			zap.S().Debugw("Loaded settings", "config", s.Client.Name, "brokers", s.Client.Brokers)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "path to a YAML settings file")
	pf.StringVarP(&f.name, "name", "n", "", "name of the alarm configuration (ALARM_CONFIG)")
	pf.StringSliceVarP(&f.brokers, "brokers", "b", nil, "Kafka brokers (KAFKA_BROKERS)")
	pf.StringVar(&f.user, "user", "", "user named in published changes (ALARM_USER)")
	pf.StringVar(&f.host, "host", "", "host named in published changes (ALARM_HOST)")

	root.AddCommand(
		newServeCommand(s),
		newAcknowledgeCommand(s, true),
		newAcknowledgeCommand(s, false),
		newAddComponentCommand(s),
		newAddPVCommand(s),
		newRemoveCommand(s),
		newModeCommand(s),
		newNotifyCommand(s),
		newImportCommand(s),
		newTopicsCommand(s),
	)
	return root
}

// apply copies the flags the user set onto s.
func (f *flags) apply(cmd *cobra.Command, s *settings) {
	changed := cmd.Flags().Changed
	if changed("name") {
		s.Client.Name = f.name
	}
	if changed("brokers") {
		s.Client.Brokers = f.brokers
	}
	if changed("user") {
		s.Client.Identity.User = f.user
	}
	if changed("host") {
		s.Client.Identity.Host = f.host
	}
}
