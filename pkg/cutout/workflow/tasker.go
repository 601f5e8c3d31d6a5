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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cutout.io/cutout/pkg/cutout/config"
	"cutout.io/cutout/pkg/cutout/jobstate"
	"cutout.io/cutout/pkg/jobstore"
	"cutout.io/cutout/pkg/log"
	"cutout.io/cutout/pkg/models"
	"cutout.io/cutout/pkg/utils/objectstore"
	engine "cutout.io/cutout/pkg/utils/workflow"
	"cutout.io/cutout/pkg/version"
	"gopkg.in/yaml.v3"
)

const logfileName = "cutout.log"

// Tasker provides the functions run by the steps of a job workflow.
type Tasker struct {
	store   jobstore.Store
	machine *jobstate.Machine
	objects objectstore.Interface
	cutter  Cutter
	options *Options
}

func NewTasker(store jobstore.Store, machine *jobstate.Machine, objects objectstore.Interface, cutter Cutter, options *Options) *Tasker {
	if options == nil {
		options = NewDefaultOptions()
	}
	return &Tasker{store: store, machine: machine, objects: objects, cutter: cutter, options: options}
}

func (t *Tasker) ProvideFuntions() map[string]interface{} {
	return map[string]interface{}{
		FunctionInit:         t.Init,
		FunctionGenerate:     t.Generate,
		FunctionComplete:     t.Complete,
		FunctionErrorHandler: t.HandleError,
	}
}

type provenance struct {
	CutoutService struct {
		Version string `yaml:"version"`
	} `yaml:"cutout_service"`
	Job struct {
		Time string `yaml:"time"`
		UUID string `yaml:"uuid"`
	} `yaml:"job"`
}

// Init stores the job config and a provenance record next to the job files.
func (t *Tasker) Init(ctx context.Context, jobID string, cfg config.Document) error {
	t.machine.Begin(jobID, StepInit)
	defer t.machine.End(jobID, StepInit)

	if err := t.machine.Update(ctx, jobID, models.JobStatusStarted, ""); err != nil {
		return err
	}
	content, err := cfg.YAML()
	if err != nil {
		return err
	}
	if err := t.put(ctx, path.Join(JobPrefix(jobID), "config.yaml"), content); err != nil {
		return err
	}

	meta := provenance{}
	meta.CutoutService.Version = version.Get().GitVersion
	meta.Job.Time = time.Now().UTC().Format("2006-01-02T15:04:05Z")
	meta.Job.UUID = jobID
	content, err = yaml.Marshal(meta)
	if err != nil {
		return err
	}
	return t.put(ctx, path.Join(JobPrefix(jobID), "meta.yaml"), content)
}

func (t *Tasker) put(ctx context.Context, key string, content []byte) error {
	return t.objects.Put(ctx, key, bytes.NewReader(content), int64(len(content)))
}

// Generate runs the cutter into the job's scratch directory and publishes
// what it produced.
func (t *Tasker) Generate(ctx context.Context, jobID string, cfg config.Document) error {
	t.machine.Begin(jobID, StepGenerate)
	defer t.machine.End(jobID, StepGenerate)

	outdir := t.outdir(jobID)
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return err
	}
	cfg = cfg.Clone()
	cfg[config.KeyOutdir] = outdir
	cfg[config.KeyLogfile] = filepath.Join(outdir, logfileName)

	if err := t.cutter.Cut(ctx, jobID, cfg); err != nil {
		return err
	}
	if err := t.uploadJobFiles(ctx, jobID); err != nil {
		return err
	}
	return t.discoverFiles(ctx, jobID)
}

// Complete publishes the remaining job files, then marks the job successful
// and records it for the metrics. A job that already ended keeps its status.
func (t *Tasker) Complete(ctx context.Context, jobID string) error {
	log := log.FromContextOrDiscard(ctx).WithValues("job", jobID)

	if err := t.uploadJobFiles(ctx, jobID); err != nil {
		return err
	}
	if err := t.discoverFiles(ctx, jobID); err != nil {
		return err
	}
	if err := t.machine.Update(ctx, jobID, models.JobStatusSuccess, ""); err != nil {
		if errors.Is(err, jobstate.ErrTerminalState) {
			log.Info("job already finished, status kept")
			return nil
		}
		return err
	}
	log.Info("workflow completed successfully")

	job, err := t.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return t.store.RecordJobEvent(ctx, &models.JobMetric{
		Status:  models.JobStatusSuccess,
		OwnerID: job.OwnerID,
		Config:  job.Config,
	})
}

// HandleError runs once for a failed workflow. The job gets the failure as
// error info unless an earlier step already recorded one.
func (t *Tasker) HandleError(ctx context.Context, req engine.ErrorRequest, jobID string) error {
	log := log.FromContextOrDiscard(ctx).WithValues("job", jobID)
	args, _ := json.Marshal(req.Args)
	log.Error(errors.New(req.Error), "workflow error", "taskID", req.TaskID, "step", req.Name, "args", string(args))

	job, err := t.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			log.Info("job no longer exists")
			return nil
		}
		return err
	}
	if job.Status == models.JobStatusSuccess {
		log.Info("job already succeeded, failure not recorded")
		return nil
	}
	if err := t.store.RecordJobEvent(ctx, &models.JobMetric{
		Status:  models.JobStatusFailure,
		OwnerID: job.OwnerID,
		Config:  job.Config,
	}); err != nil {
		log.Error(err, "record failure metric")
	}
	if job.ErrorInfo != "" {
		log.Info("job already has error info", "errorInfo", job.ErrorInfo)
		return nil
	}
	err = t.machine.Update(ctx, jobID, models.JobStatusFailure, fmt.Sprintf("System Error: %s", req.Error))
	if errors.Is(err, jobstate.ErrTerminalState) {
		return nil
	}
	return err
}

func (t *Tasker) outdir(jobID string) string {
	return filepath.Join(t.options.ScratchDir, jobID)
}

// uploadJobFiles copies the job's scratch directory to its object store folder.
func (t *Tasker) uploadJobFiles(ctx context.Context, jobID string) error {
	dir := t.outdir(jobID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return t.objects.StoreFolder(ctx, dir, JobPrefix(jobID))
}

// discoverFiles records every object of the job folder not known yet, with a
// file metric event for each of them.
func (t *Tasker) discoverFiles(ctx context.Context, jobID string) error {
	log := log.FromContextOrDiscard(ctx).WithValues("job", jobID)

	job, err := t.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	prefix := JobPrefix(jobID)
	objects, err := t.objects.List(ctx, prefix)
	if err != nil {
		return err
	}
	added := 0
	for _, obj := range objects {
		file := &models.JobFile{
			JobUUID: jobID,
			Path:    strings.TrimPrefix(obj.Key, prefix),
			Size:    obj.Size,
		}
		created, err := t.store.CreateFile(ctx, file)
		if err != nil {
			return err
		}
		if !created {
			continue
		}
		added++
		if err := t.store.RecordFileEvent(ctx, &models.FileMetric{
			Size:     obj.Size,
			OwnerID:  job.OwnerID,
			FileType: models.FileTypeJob,
		}); err != nil {
			return err
		}
	}
	log.V(1).Info("discovered job files", "total", len(objects), "added", added)
	return nil
}
