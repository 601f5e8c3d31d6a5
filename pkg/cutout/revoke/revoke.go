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

// Package revoke stops the running workflow of a job and deletes jobs.
package revoke

import (
	"context"
	"errors"
	"fmt"
	"time"

	cutouterrors "cutout.io/cutout/pkg/cutout/errors"
	"cutout.io/cutout/pkg/cutout/workflow"
	"cutout.io/cutout/pkg/jobstore"
	"cutout.io/cutout/pkg/log"
	"cutout.io/cutout/pkg/utils"
	"cutout.io/cutout/pkg/utils/objectstore"
	engine "cutout.io/cutout/pkg/utils/workflow"
	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/util/wait"
)

type Options struct {
	Interval time.Duration `json:"interval" description:"wait between two checks of the revoked tasks"`
	Timeout  time.Duration `json:"timeout" description:"give up waiting for revoked tasks after"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Interval: 5 * time.Second,
		Timeout:  120 * time.Second,
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.DurationVar(&o.Interval, utils.JoinFlagName(prefix, "interval"), o.Interval, "wait between two checks of the revoked tasks")
	fs.DurationVar(&o.Timeout, utils.JoinFlagName(prefix, "timeout"), o.Timeout, "give up waiting for revoked tasks after")
}

type Broker interface {
	workflow.TaskSubmitter
	Status(ctx context.Context, id string) (engine.TaskStatusCode, error)
	Terminate(ctx context.Context, id string, signal engine.Signal) error
}

type Controller struct {
	store   jobstore.JobStore
	broker  Broker
	objects objectstore.Interface
	options *Options
}

func NewController(store jobstore.JobStore, broker Broker, objects objectstore.Interface, options *Options) *Controller {
	if options == nil {
		options = NewDefaultOptions()
	}
	return &Controller{store: store, broker: broker, objects: objects, options: options}
}

// Revoke kills the tasks of the job and waits until none of them is active
// any more, or until the timeout. Tasks still active then are only logged.
// The job status is left as is.
func (c *Controller) Revoke(ctx context.Context, jobID string) error {
	log := log.FromContextOrDiscard(ctx).WithValues("job", jobID)

	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return cutouterrors.NewNotFoundError(cutouterrors.EntityJob, fmt.Sprintf("job %s not found", jobID))
		}
		return err
	}
	ids := job.TaskIDList()
	log.Info("revoking job", "taskIDs", ids)

	// one at a time, the cutout step runs under the job id
	for _, id := range utils.UniqueStrings(append([]string{jobID}, ids...)) {
		if err := c.broker.Terminate(ctx, id, engine.SignalKill); err != nil {
			log.Error(err, "terminate task", "taskID", id)
		}
	}

	active := []string{}
	err = wait.PollUntilContextTimeout(ctx, c.options.Interval, c.options.Timeout, true, func(ctx context.Context) (bool, error) {
		active = c.activeTasks(ctx, ids)
		return len(active) == 0, nil
	})
	switch {
	case err == nil:
		log.Info("job revoked")
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case wait.Interrupted(err):
		log.Info("tasks still active after revocation timeout, ignoring", "taskIDs", active, "timeout", c.options.Timeout)
		return nil
	default:
		return err
	}
}

func (c *Controller) activeTasks(ctx context.Context, ids []string) []string {
	log := log.FromContextOrDiscard(ctx)
	active := []string{}
	for _, id := range ids {
		status, err := c.broker.Status(ctx, id)
		if err != nil {
			log.Error(err, "lookup task status", "taskID", id)
			active = append(active, id)
			continue
		}
		if status.IsActive() {
			log.Info("waiting for task to stop", "taskID", id, "status", status)
			active = append(active, id)
		}
	}
	return active
}
