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

// Package metrics turns the job and file events into usage snapshots.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cutout.io/cutout/pkg/jobstore"
	"cutout.io/cutout/pkg/log"
	"cutout.io/cutout/pkg/models"
	"cutout.io/cutout/pkg/utils"
	engine "cutout.io/cutout/pkg/utils/workflow"
	"github.com/spf13/pflag"
)

var ErrCollecting = errors.New("metrics collection already running")

const (
	TaskGroup       = "metrics"
	StepCollect     = "Collect metrics"
	FunctionCollect = "cutout-collect-metrics"
	LockName        = "cutout-metrics-collect"
)

type Options struct {
	Interval   time.Duration `json:"interval" description:"period of the metrics collection"`
	LockExpiry time.Duration `json:"lockExpiry" description:"expiry of the collection lock"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Interval:   time.Hour,
		LockExpiry: 5 * time.Minute,
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.DurationVar(&o.Interval, utils.JoinFlagName(prefix, "interval"), o.Interval, "period of the metrics collection")
	fs.DurationVar(&o.LockExpiry, utils.JoinFlagName(prefix, "lock-expiry"), o.LockExpiry, "expiry of the collection lock")
}

// Locker is a lock shared by all processes running collections.
type Locker interface {
	TryLock(ctx context.Context) (func(), error)
}

type Aggregator struct {
	store   jobstore.EventStore
	lock    Locker
	options *Options
	local   sync.Mutex
}

// NewAggregator creates an aggregator, lock may be nil when a single process
// runs collections.
func NewAggregator(store jobstore.EventStore, lock Locker, options *Options) *Aggregator {
	if options == nil {
		options = NewDefaultOptions()
	}
	return &Aggregator{store: store, lock: lock, options: options}
}

// Collect computes a snapshot from the events recorded since the last one,
// stores it and deletes the events it consumed. Events recorded meanwhile are
// left for the next collection.
func (a *Aggregator) Collect(ctx context.Context) (*models.Metric, error) {
	log := log.FromContextOrDiscard(ctx)

	if !a.local.TryLock() {
		return nil, ErrCollecting
	}
	defer a.local.Unlock()
	if a.lock != nil {
		unlock, err := a.lock.TryLock(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCollecting, err)
		}
		defer unlock()
	}

	jobEvents, err := a.store.ListJobEvents(ctx)
	if err != nil {
		return nil, err
	}
	fileEvents, err := a.store.ListFileEvents(ctx)
	if err != nil {
		return nil, err
	}
	filesTotal, filesSize, err := a.store.FileTotals(ctx)
	if err != nil {
		return nil, err
	}
	users, err := a.store.CountUsers(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := Compute(jobEvents, fileEvents, filesTotal, filesSize, users)

	jobEventIDs := make([]uint, 0, len(jobEvents))
	for _, e := range jobEvents {
		jobEventIDs = append(jobEventIDs, e.ID)
	}
	fileEventIDs := make([]uint, 0, len(fileEvents))
	for _, e := range fileEvents {
		fileEventIDs = append(fileEventIDs, e.ID)
	}
	if err := a.store.SaveSnapshot(ctx, snapshot, jobEventIDs, fileEventIDs); err != nil {
		return nil, err
	}
	log.Info("collected metrics", "jobsRun", snapshot.JobsRun, "usersActive", snapshot.UsersActive, "filesAdded", snapshot.JobFilesAdded)
	return snapshot, nil
}

// Compute builds a snapshot. Active users are the distinct known owners of
// the job events, only job files count as added files.
func Compute(jobEvents []models.JobMetric, fileEvents []models.FileMetric, filesTotal, filesSize, users int64) *models.Metric {
	snapshot := &models.Metric{
		JobsRun:       int64(len(jobEvents)),
		UsersCount:    users,
		JobFilesTotal: filesTotal,
		JobFilesSize:  filesSize,
	}
	owners := map[uint]struct{}{}
	for _, e := range jobEvents {
		switch e.Status {
		case models.JobStatusSuccess:
			snapshot.JobsSuccess++
		case models.JobStatusFailure:
			snapshot.JobsFailure++
		}
		if e.OwnerID != nil {
			owners[*e.OwnerID] = struct{}{}
		}
	}
	snapshot.UsersActive = int64(len(owners))
	for _, e := range fileEvents {
		if e.FileType != models.FileTypeJob {
			continue
		}
		snapshot.JobFilesAdded++
		snapshot.JobFilesAddedSize += e.Size
	}
	return snapshot
}

func (a *Aggregator) ProvideFuntions() map[string]interface{} {
	return map[string]interface{}{
		FunctionCollect: a.collect,
	}
}

func (a *Aggregator) Crontasks() map[string]engine.Task {
	return map[string]engine.Task{
		"@every " + a.options.Interval.String(): {
			Name:  "collect-metrics",
			Group: TaskGroup,
			Steps: []engine.Step{engine.Unit(StepCollect, FunctionCollect)},
		},
	}
}

func (a *Aggregator) collect(ctx context.Context) error {
	_, err := a.Collect(ctx)
	if errors.Is(err, ErrCollecting) {
		log.FromContextOrDiscard(ctx).Info("skip metrics collection", "reason", err.Error())
		return nil
	}
	return err
}
