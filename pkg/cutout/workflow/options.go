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
	"cutout.io/cutout/pkg/utils"
	"github.com/spf13/pflag"
)

type Options struct {
	ScratchDir    string   `json:"scratchDir" description:"local directory cutter output is written to" validate:"required"`
	CutterCommand string   `json:"cutterCommand" description:"command run to generate the cutouts of a job" validate:"required"`
	CutterArgs    []string `json:"cutterArgs" description:"arguments put before the config file path"`
}

func NewDefaultOptions() *Options {
	return &Options{
		ScratchDir:    "/scratch",
		CutterCommand: "cutout-cutter",
		CutterArgs:    []string{"--config"},
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.ScratchDir, utils.JoinFlagName(prefix, "scratch-dir"), o.ScratchDir, "local directory cutter output is written to")
	fs.StringVar(&o.CutterCommand, utils.JoinFlagName(prefix, "cutter-command"), o.CutterCommand, "command run to generate the cutouts of a job")
	fs.StringSliceVar(&o.CutterArgs, utils.JoinFlagName(prefix, "cutter-args"), o.CutterArgs, "arguments put before the config file path")
}
