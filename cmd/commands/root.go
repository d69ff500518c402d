/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package commands

import (
	"os"

	"github.com/spf13/cobra"

	sharedutil "github.com/numaproj/keyflow/pkg/shared/util"
)

const CLIName = "keyflow"

var configFile string

var rootCmd = &cobra.Command{
	Use:   CLIName,
	Short: "keyflow runs keyed stream processing applications",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.HelpFunc()(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", sharedutil.LookupEnvStringOr("KEYFLOW_CONFIG", ""), "Path of the configuration file, defaults to /etc/keyflow/keyflow.yaml when it exists.")
	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewCheckpointsCommand())
	rootCmd.AddCommand(NewVersionCommand())
}

// Execute runs the root command and exits with a non zero status on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
