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

package worker

import (
	"cutout.io/cutout/pkg/cutout"
	"cutout.io/cutout/pkg/utils"
	"cutout.io/cutout/pkg/utils/database"
	"cutout.io/cutout/pkg/utils/exporter"
	"cutout.io/cutout/pkg/utils/objectstore"
	"cutout.io/cutout/pkg/utils/redis"
	"cutout.io/cutout/pkg/utils/workflow"
	"github.com/spf13/pflag"
)

type Options struct {
	LogLevel    string               `json:"loglevel"`
	Database    *database.Options    `json:"database"`
	Redis       *redis.Options       `json:"redis" description:"redis backing the task queue"`
	ObjectStore *objectstore.Options `json:"objectstore" description:"storage of the job files"`
	Workflow    *workflow.Options    `json:"workflow"`
	Exporter    *exporter.Options    `json:"exporter"`
	Cutout      *cutout.Options      `json:"cutout"`
}

func DefaultOptions() *Options {
	return &Options{
		LogLevel:    "info",
		Database:    database.NewDefaultOptions(),
		Redis:       redis.NewDefaultOptions(),
		ObjectStore: objectstore.NewDefaultOptions(),
		Workflow:    workflow.NewDefaultOptions(),
		Exporter:    exporter.NewDefaultOptions(),
		Cutout:      cutout.NewDefaultOptions(),
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.LogLevel, utils.JoinFlagName(prefix, "loglevel"), o.LogLevel, "log level")
	o.Database.RegistFlags(utils.JoinFlagName(prefix, "database"), fs)
	o.Redis.RegistFlags(utils.JoinFlagName(prefix, "redis"), fs)
	o.ObjectStore.RegistFlags(utils.JoinFlagName(prefix, "objectstore"), fs)
	o.Workflow.RegistFlags(utils.JoinFlagName(prefix, "workflow"), fs)
	o.Exporter.RegistFlags(utils.JoinFlagName(prefix, "exporter"), fs)
	o.Cutout.RegistFlags(utils.JoinFlagName(prefix, "cutout"), fs)
}
