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

package workflow

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"cutout.io/cutout/pkg/cutout/config"
	"cutout.io/cutout/pkg/log"
)

// Cutter produces the cutout files of a job into the outdir of its config.
type Cutter interface {
	Cut(ctx context.Context, jobID string, cfg config.Document) error
}

// ExecCutter runs an external command with the path of a YAML copy of the job
// config as its last argument. Output of the command goes to the job logfile.
type ExecCutter struct {
	Command string
	Args    []string
}

func NewExecCutter(options *Options) *ExecCutter {
	return &ExecCutter{Command: options.CutterCommand, Args: options.CutterArgs}
}

func (c *ExecCutter) Cut(ctx context.Context, jobID string, cfg config.Document) error {
	log := log.FromContextOrDiscard(ctx).WithValues("job", jobID)

	content, err := cfg.YAML()
	if err != nil {
		return err
	}
	cfgfile, err := os.CreateTemp("", "cutout-"+jobID+"-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(cfgfile.Name())
	if _, err := cfgfile.Write(content); err != nil {
		cfgfile.Close()
		return err
	}
	if err := cfgfile.Close(); err != nil {
		return err
	}

	logfile, err := os.OpenFile(cfg.String(config.KeyLogfile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer logfile.Close()

	args := append(append([]string{}, c.Args...), cfgfile.Name())
	cmd := exec.CommandContext(ctx, c.Command, args...)
	cmd.Dir = cfg.String(config.KeyOutdir)
	cmd.Stdout = logfile
	cmd.Stderr = logfile

	log.Info("running cutter", "command", c.Command, "args", args)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("cutter %s: %w", c.Command, err)
	}
	return nil
}
