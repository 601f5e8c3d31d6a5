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

package cutout

import (
	"cutout.io/cutout/pkg/cutout/metrics"
	"cutout.io/cutout/pkg/cutout/revoke"
	"cutout.io/cutout/pkg/cutout/workflow"
	"cutout.io/cutout/pkg/utils"
	"github.com/spf13/pflag"
)

type Options struct {
	Defaults string            `json:"defaults" description:"yaml file with the default job config"`
	Workflow *workflow.Options `json:"workflow"`
	Revoke   *revoke.Options   `json:"revoke"`
	Metrics  *metrics.Options  `json:"metrics"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Workflow: workflow.NewDefaultOptions(),
		Revoke:   revoke.NewDefaultOptions(),
		Metrics:  metrics.NewDefaultOptions(),
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Defaults, utils.JoinFlagName(prefix, "defaults"), o.Defaults, "yaml file with the default job config")
	o.Workflow.RegistFlags(utils.JoinFlagName(prefix, "workflow"), fs)
	o.Revoke.RegistFlags(utils.JoinFlagName(prefix, "revoke"), fs)
	o.Metrics.RegistFlags(utils.JoinFlagName(prefix, "metrics"), fs)
}
