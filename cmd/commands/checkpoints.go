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
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/numaproj/keyflow/pkg/app"
	"github.com/numaproj/keyflow/pkg/checkpoint"
	"github.com/numaproj/keyflow/pkg/checkpoint/store"
	"github.com/numaproj/keyflow/pkg/shared/config"
	"github.com/numaproj/keyflow/pkg/shared/logging"
)

func NewCheckpointsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect the checkpoints of an application",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}
	command.AddCommand(newCheckpointsListCommand())
	command.AddCommand(newCheckpointsShowCommand())
	return command
}

func openStore(ctx context.Context) (store.StateStore, config.Config, error) {
	g, err := config.LoadConfig(configFile, func(error) {})
	if err != nil {
		return nil, config.Config{}, err
	}
	cfg := g.Get()
	s, err := app.NewStateStore(ctx, cfg.Store)
	if err != nil {
		return nil, cfg, err
	}
	return s, cfg, nil
}

func appOrDefault(appID string, cfg config.Config) (string, error) {
	if appID == "" {
		appID = cfg.App
	}
	if appID == "" {
		return "", fmt.Errorf("no application, use --app or set app in the configuration")
	}
	return appID, nil
}

func newCheckpointsListCommand() *cobra.Command {
	var appID string
	command := &cobra.Command{
		Use:   "list",
		Short: "List the checkpointed instances of an application",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(logging.WithLogger(cmd.Context(), logging.NewLogger()), 30*time.Second)
			defer cancel()
			s, cfg, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			if appID, err = appOrDefault(appID, cfg); err != nil {
				return err
			}
			ids, err := s.ListKeys(ctx, appID)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id.UnitType, id.Key)
			}
			return nil
		},
	}
	command.Flags().StringVar(&appID, "app", "", "Application id, defaults to the app of the configuration.")
	return command
}

func newCheckpointsShowCommand() *cobra.Command {
	var appID string
	command := &cobra.Command{
		Use:   "show UNIT_TYPE KEY",
		Short: "Print the checkpoint of one instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(logging.WithLogger(cmd.Context(), logging.NewLogger()), 30*time.Second)
			defer cancel()
			s, cfg, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			if appID, err = appOrDefault(appID, cfg); err != nil {
				return err
			}
			id := store.ID{AppID: appID, UnitType: args[0], Key: args[1]}
			data, err := s.Fetch(ctx, id)
			if err != nil {
				return err
			}
			r, err := checkpoint.DecodeRecord(data, id)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(struct {
				ID       string          `json:"id"`
				Version  uint64          `json:"version"`
				Checksum string          `json:"checksum"`
				State    json.RawMessage `json:"state"`
			}{
				ID:       id.Encode(),
				Version:  r.Version,
				Checksum: fmt.Sprintf("%016x", r.Checksum),
				State:    stateJSON(r.State),
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	command.Flags().StringVar(&appID, "app", "", "Application id, defaults to the app of the configuration.")
	return command
}

// stateJSON returns the state as is when it is JSON, quoted otherwise.
func stateJSON(state []byte) json.RawMessage {
	if json.Valid(state) {
		return state
	}
	quoted, _ := json.Marshal(state)
	return quoted
}
