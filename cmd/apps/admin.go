// Copyright 2024 The cutout.io Authors
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

package apps

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"cutout.io/cutout/pkg/log"
	"cutout.io/cutout/pkg/models"
	"cutout.io/cutout/pkg/utils/config"
	"cutout.io/cutout/pkg/utils/database"
	"cutout.io/cutout/pkg/version"
	"cutout.io/cutout/pkg/worker"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

func NewMigrateCmd() *cobra.Command {
	options := database.NewDefaultOptions()
	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "migrate database schema",
		SilenceUsage: true,
		Version:      version.Get().String(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Parse(cmd.Flags()); err != nil {
				return err
			}
			if err := models.MigrateDatabase(options); err != nil {
				return err
			}
			log.Info("database migrated", "database", options.Database)
			return nil
		},
	}
	options.RegistFlags("database", cmd.Flags())
	return cmd
}

// NewCollectCmd runs a single metrics aggregation cycle.
func NewCollectCmd() *cobra.Command {
	options := worker.DefaultOptions()
	cmd := &cobra.Command{
		Use:          "collect",
		Short:        "aggregate pending metric events into a snapshot",
		SilenceUsage: true,
		Version:      version.Get().String(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Parse(cmd.Flags()); err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx = logr.NewContext(ctx, log.LogrLogger)

			deps, err := worker.PrepareDependencies(ctx, options)
			if err != nil {
				return err
			}
			snapshot, err := deps.NewAggregator(options).Collect(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snapshot)
		},
	}
	options.RegistFlags("", cmd.Flags())
	return cmd
}

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "print the default worker configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return config.GenerateConfig(cmd.OutOrStdout(), worker.DefaultOptions())
		},
	})
	return cmd
}
