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
	"context"

	"cutout.io/cutout/pkg/cutout"
	"cutout.io/cutout/pkg/cutout/jobstate"
	"cutout.io/cutout/pkg/cutout/metrics"
	cutoutworkflow "cutout.io/cutout/pkg/cutout/workflow"
	"cutout.io/cutout/pkg/jobstore"
	"cutout.io/cutout/pkg/log"
	"cutout.io/cutout/pkg/utils/config"
	"cutout.io/cutout/pkg/utils/database"
	"cutout.io/cutout/pkg/utils/exporter"
	"cutout.io/cutout/pkg/utils/objectstore"
	"cutout.io/cutout/pkg/utils/pprof"
	"cutout.io/cutout/pkg/utils/redis"
	"cutout.io/cutout/pkg/utils/workflow"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

const CronLockName = "crontask-client-lock"

type Dependencies struct {
	Redis    *redis.Client
	Database *database.Database
	Store    *jobstore.GormStore
	Objects  objectstore.Interface
}

func PrepareDependencies(ctx context.Context, options *Options) (*Dependencies, error) {
	// logger
	log.SetLevel(options.LogLevel)

	if err := config.Validate(options); err != nil {
		return nil, err
	}
	// redis
	rediscli, err := redis.NewClient(options.Redis)
	if err != nil {
		return nil, err
	}
	// database
	databasecli, err := database.NewDatabase(options.Database)
	if err != nil {
		return nil, err
	}
	// object store
	objects, err := objectstore.New(ctx, options.ObjectStore)
	if err != nil {
		return nil, err
	}
	return &Dependencies{
		Redis:    rediscli,
		Database: databasecli,
		Store:    jobstore.NewGormStore(databasecli.DB()),
		Objects:  objects,
	}, nil
}

// NewService creates the job service submitting to the task queue of deps.
func (d *Dependencies) NewService(options *Options) (*cutout.Service, error) {
	client := workflow.NewClientFromRedisClient(d.Redis.Client, options.Workflow)
	return cutout.NewService(d.Store, client, d.Objects, options.Cutout)
}

func (d *Dependencies) NewAggregator(options *Options) *metrics.Aggregator {
	lock := d.Redis.NewMutex(metrics.LockName, options.Cutout.Metrics.LockExpiry)
	return metrics.NewAggregator(d.Store, lock, options.Cutout.Metrics)
}

func (d *Dependencies) pingDatabase(ctx context.Context) error {
	sqldb, err := d.Database.DB().DB()
	if err != nil {
		return err
	}
	return sqldb.PingContext(ctx)
}

func Run(ctx context.Context, options *Options) error {
	ctx = logr.NewContext(ctx, log.LogrLogger)
	deps, err := PrepareDependencies(ctx, options)
	if err != nil {
		return err
	}
	svc, err := deps.NewService(options)
	if err != nil {
		return err
	}

	server := workflow.NewServerFromRedisClient(deps.Redis.Client, options.Workflow)
	p := NewProcessorContext(ctx, server, deps.Redis.NewMutex(CronLockName, 0))
	taskers := []Tasker{
		// job workflow steps
		cutoutworkflow.NewTasker(
			deps.Store,
			jobstate.NewMachine(deps.Store),
			deps.Objects,
			cutoutworkflow.NewExecCutter(options.Cutout.Workflow),
			options.Cutout.Workflow,
		),
		// job deletion steps
		svc.Revoker(),
		// periodic metrics collection
		deps.NewAggregator(options),
	}
	if err := p.RegisterTasker(taskers...); err != nil {
		return err
	}

	exporterHandler := exporter.NewHandler(metrics.NewSnapshotCollector(deps.Store))
	exporterHandler.AddHealthCheck("redis", deps.Redis.Ping)
	exporterHandler.AddHealthCheck("database", deps.pingDatabase)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return pprof.Run(ctx)
	})
	eg.Go(func() error {
		return exporterHandler.Run(ctx, options.Exporter)
	})
	eg.Go(func() error {
		return p.Run(ctx)
	})
	return eg.Wait()
}
