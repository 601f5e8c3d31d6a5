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
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"cutout.io/cutout/pkg/cutout"
	"cutout.io/cutout/pkg/log"
	"cutout.io/cutout/pkg/utils/config"
	"cutout.io/cutout/pkg/version"
	"cutout.io/cutout/pkg/worker"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type submitOptions struct {
	File        string
	Name        string
	Description string
	OwnerID     uint
}

func NewSubmitCmd() *cobra.Command {
	options := worker.DefaultOptions()
	submit := &submitOptions{}
	cmd := &cobra.Command{
		Use:          "submit",
		Short:        "validate, create and submit a cutout job",
		SilenceUsage: true,
		Version:      version.Get().String(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Parse(cmd.Flags()); err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runSubmit(logr.NewContext(ctx, log.LogrLogger), cmd.OutOrStdout(), options, submit)
		},
	}
	cmd.Flags().StringVarP(&submit.File, "file", "f", "", "job config file")
	cmd.Flags().StringVar(&submit.Name, "name", "", "job name")
	cmd.Flags().StringVar(&submit.Description, "description", "", "job description")
	cmd.Flags().UintVar(&submit.OwnerID, "owner", 0, "id of the owning user, 0 for none")
	_ = cmd.MarkFlagRequired("file")
	options.RegistFlags("", cmd.Flags())
	return cmd
}

func readJobConfig(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return cfg, nil
}

func runSubmit(ctx context.Context, w io.Writer, options *worker.Options, submit *submitOptions) error {
	cfg, err := readJobConfig(submit.File)
	if err != nil {
		return err
	}
	deps, err := worker.PrepareDependencies(ctx, options)
	if err != nil {
		return err
	}
	svc, err := deps.NewService(options)
	if err != nil {
		return err
	}
	req := cutout.CreateJobRequest{
		Name:        submit.Name,
		Description: submit.Description,
		Config:      cfg,
	}
	if submit.OwnerID != 0 {
		req.OwnerID = &submit.OwnerID
	}
	job, err := svc.CreateJob(ctx, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(job)
}

func NewRevokeCmd() *cobra.Command {
	options := worker.DefaultOptions()
	cmd := &cobra.Command{
		Use:          "revoke <job-id>",
		Short:        "revoke a job and delete it with its files",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		Version:      version.Get().String(),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			svc, err := deps.NewService(options)
			if err != nil {
				return err
			}
			if err := svc.DeleteJob(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deletion of job %s submitted\n", args[0])
			return nil
		},
	}
	options.RegistFlags("", cmd.Flags())
	return cmd
}
