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

// Package workflow launches the workflow of a cutout job and provides the
// functions its steps run on the workers.
package workflow

import (
	"context"
	"fmt"
	"path"

	"cutout.io/cutout/pkg/cutout/config"
	cutouterrors "cutout.io/cutout/pkg/cutout/errors"
	"cutout.io/cutout/pkg/cutout/jobstate"
	"cutout.io/cutout/pkg/jobstore"
	"cutout.io/cutout/pkg/log"
	"cutout.io/cutout/pkg/models"
	engine "cutout.io/cutout/pkg/utils/workflow"
)

const TaskGroup = "jobs"

const (
	StepInit         = "Workflow Init"
	StepGenerate     = "Generate cutouts"
	StepComplete     = "Workflow Complete"
	StepErrorHandler = "Workflow Job Error Handler"
)

const (
	FunctionInit         = "cutout-workflow-init"
	FunctionGenerate     = "cutout-generate"
	FunctionComplete     = "cutout-workflow-complete"
	FunctionErrorHandler = "cutout-workflow-error"
)

// JobPrefix is the object store folder of the job's files.
func JobPrefix(jobID string) string {
	return path.Join("jobs", jobID) + "/"
}

type TaskSubmitter interface {
	SubmitTask(ctx context.Context, task engine.Task) ([]string, error)
}

type Orchestrator struct {
	machine *jobstate.Machine
	store   jobstore.JobStore
	client  TaskSubmitter
}

func NewOrchestrator(machine *jobstate.Machine, store jobstore.JobStore, client TaskSubmitter) *Orchestrator {
	return &Orchestrator{machine: machine, store: store, client: client}
}

// NewJobTask builds the workflow of a job. The cutout step runs under the job
// id so a revocation can reach it without looking up its task id.
func NewJobTask(jobID string, cfg config.Document) engine.Task {
	onerror := engine.Unit(StepErrorHandler, FunctionErrorHandler, jobID)
	return engine.Task{
		Name:  jobID,
		Group: TaskGroup,
		Steps: []engine.Step{
			engine.Sequence("cutout",
				engine.Unit(StepInit, FunctionInit, jobID, cfg),
				engine.Unit(StepGenerate, FunctionGenerate, jobID, cfg).WithID(jobID),
				engine.Unit(StepComplete, FunctionComplete, jobID),
			),
		},
		OnError: &onerror,
	}
}

// Submit starts the job and hands its workflow to the workers without waiting
// for it. The task ids are stored before submission.
func (o *Orchestrator) Submit(ctx context.Context, jobID string, cfg config.Document) error {
	log := log.FromContextOrDiscard(ctx).WithValues("job", jobID)

	if err := o.machine.Update(ctx, jobID, models.JobStatusStarted, ""); err != nil {
		return o.fail(ctx, jobID, err)
	}
	task := NewJobTask(jobID, cfg)
	ids := engine.Freeze(&task)
	if err := o.store.SetTaskIDs(ctx, jobID, ids); err != nil {
		return o.fail(ctx, jobID, err)
	}
	if _, err := o.client.SubmitTask(ctx, task); err != nil {
		return o.fail(ctx, jobID, err)
	}
	log.Info("workflow submitted", "taskIDs", ids)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, jobID string, err error) error {
	msg := fmt.Sprintf("Failed to launch workflow: %v", err)
	log := log.FromContextOrDiscard(ctx).WithValues("job", jobID)
	log.Error(err, "launch workflow")
	if uerr := o.machine.Update(ctx, jobID, models.JobStatusFailure, msg); uerr != nil {
		log.Error(uerr, "mark job failed")
	}
	return cutouterrors.NewSubmissionError(cutouterrors.EntityJob, msg, err)
}
