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

package revoke

import (
	"context"
	"errors"

	cutouterrors "cutout.io/cutout/pkg/cutout/errors"
	"cutout.io/cutout/pkg/cutout/workflow"
	"cutout.io/cutout/pkg/jobstore"
	"cutout.io/cutout/pkg/log"
	engine "cutout.io/cutout/pkg/utils/workflow"
)

const TaskGroup = "deletions"

const (
	StepRevokeJob      = "Revoke Job"
	StepDeleteJobFiles = "Delete Job Files"
	StepDeleteJob      = "Delete Job"
)

const (
	FunctionRevokeJob      = "cutout-revoke-job"
	FunctionDeleteJobFiles = "cutout-delete-job-files"
	FunctionDeleteJob      = "cutout-delete-job"
)

func (c *Controller) ProvideFuntions() map[string]interface{} {
	return map[string]interface{}{
		FunctionRevokeJob:      c.RevokeJob,
		FunctionDeleteJobFiles: c.DeleteJobFiles,
		FunctionDeleteJob:      c.DeleteJob,
	}
}

// SubmitDeletion deletes the job in the background: its tasks are revoked
// first, then its files and its record are removed.
func (c *Controller) SubmitDeletion(ctx context.Context, jobID string) error {
	if _, err := c.store.Get(ctx, jobID); err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return cutouterrors.NewNotFoundError(cutouterrors.EntityJob, "job "+jobID+" not found")
		}
		return err
	}
	_, err := c.broker.SubmitTask(ctx, engine.Task{
		Name:  jobID,
		Group: TaskGroup,
		Steps: []engine.Step{
			engine.Unit(StepRevokeJob, FunctionRevokeJob, jobID),
			engine.Unit(StepDeleteJobFiles, FunctionDeleteJobFiles, jobID),
			engine.Unit(StepDeleteJob, FunctionDeleteJob, jobID),
		},
	})
	return err
}

// RevokeJob never fails the deletion, a job that cannot be revoked is still
// deleted.
func (c *Controller) RevokeJob(ctx context.Context, jobID string) error {
	if err := c.Revoke(ctx, jobID); err != nil {
		log.FromContextOrDiscard(ctx).Error(err, "revoke job", "job", jobID)
	}
	return nil
}

func (c *Controller) DeleteJobFiles(ctx context.Context, jobID string) error {
	return c.objects.DeleteFolder(ctx, workflow.JobPrefix(jobID))
}

func (c *Controller) DeleteJob(ctx context.Context, jobID string) error {
	err := c.store.Delete(ctx, jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		return nil
	}
	return err
}
