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
	"time"

	"cutout.io/cutout/pkg/utils"
	"github.com/spf13/pflag"
)

const (
	DefaultStepTimeout         = time.Hour
	DefaultResultTTL           = 24 * time.Hour
	DefaultRevokeCheckInterval = time.Second
)

type Options struct {
	Concurrency         int           `json:"concurrency" description:"max tasks a server runs at the same time" validate:"min=1"`
	StepTimeout         time.Duration `json:"stepTimeout" description:"timeout of a step that sets none"`
	RetryInterval       time.Duration `json:"retryInterval" description:"wait between two attempts of a step"`
	ResultTTL           time.Duration `json:"resultTTL" description:"how long task and step states are kept"`
	RevokeCheckInterval time.Duration `json:"revokeCheckInterval" description:"how often a running step checks whether it was revoked"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Concurrency:         5,
		StepTimeout:         DefaultStepTimeout,
		RetryInterval:       5 * time.Second,
		ResultTTL:           DefaultResultTTL,
		RevokeCheckInterval: DefaultRevokeCheckInterval,
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.IntVar(&o.Concurrency, utils.JoinFlagName(prefix, "concurrency"), o.Concurrency, "max tasks a server runs at the same time")
	fs.DurationVar(&o.StepTimeout, utils.JoinFlagName(prefix, "step-timeout"), o.StepTimeout, "timeout of a step that sets none")
	fs.DurationVar(&o.RetryInterval, utils.JoinFlagName(prefix, "retry-interval"), o.RetryInterval, "wait between two attempts of a step")
	fs.DurationVar(&o.ResultTTL, utils.JoinFlagName(prefix, "result-ttl"), o.ResultTTL, "how long task and step states are kept")
	fs.DurationVar(&o.RevokeCheckInterval, utils.JoinFlagName(prefix, "revoke-check-interval"), o.RevokeCheckInterval, "how often a running step checks whether it was revoked")
}
