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

// Package cutout creates and deletes cutout jobs.
package cutout

import (
	"context"
	"encoding/json"
	"errors"

	"cutout.io/cutout/pkg/cutout/config"
	cutouterrors "cutout.io/cutout/pkg/cutout/errors"
	"cutout.io/cutout/pkg/cutout/jobstate"
	"cutout.io/cutout/pkg/cutout/revoke"
	"cutout.io/cutout/pkg/cutout/workflow"
	"cutout.io/cutout/pkg/jobstore"
	"cutout.io/cutout/pkg/log"
	"cutout.io/cutout/pkg/models"
	"cutout.io/cutout/pkg/utils/objectstore"
	"gorm.io/datatypes"
)

type CreateJobRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	OwnerID     *uint                  `json:"ownerID,omitempty"`
	Config      map[string]interface{} `json:"config"`
}

type Service struct {
	store        jobstore.Store
	defaults     map[string]interface{}
	orchestrator *workflow.Orchestrator
	revoker      *revoke.Controller
}

func NewService(store jobstore.Store, broker revoke.Broker, objects objectstore.Interface, options *Options) (*Service, error) {
	if options == nil {
		options = NewDefaultOptions()
	}
	defaults, err := config.LoadDefaults(options.Defaults)
	if err != nil {
		return nil, err
	}
	machine := jobstate.NewMachine(store)
	return &Service{
		store:        store,
		defaults:     defaults,
		orchestrator: workflow.NewOrchestrator(machine, store, broker),
		revoker:      revoke.NewController(store, broker, objects, options.Revoke),
	}, nil
}

// CreateJob validates the config, stores the job and launches its workflow.
// A job whose config is rejected or whose workflow cannot be launched is not
// kept.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*models.Job, error) {
	log := log.FromContextOrDiscard(ctx)

	res := config.Process(req.Config, s.defaults)
	for _, warning := range res.Warnings {
		log.Info(warning)
	}
	if !res.OK() {
		log.Info("invalid config", "message", res.Message)
		return nil, &cutouterrors.DomainError{
			ErrorType:  cutouterrors.ErrInvalidArgument,
			Entity:     cutouterrors.EntityJob,
			Message:    res.Message,
			WrappedErr: res.Err,
		}
	}
	content, err := json.Marshal(res.Config)
	if err != nil {
		return nil, cutouterrors.NewInternalError(cutouterrors.EntityJob, "encode config", err)
	}

	job := &models.Job{
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     req.OwnerID,
		Config:      datatypes.JSON(content),
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, cutouterrors.NewInternalError(cutouterrors.EntityJob, "create job", err)
	}
	log = log.WithValues("job", job.UUID)
	if err := s.orchestrator.Submit(ctx, job.UUID, res.Config); err != nil {
		if derr := s.store.Delete(ctx, job.UUID); derr != nil {
			log.Error(derr, "delete job after failed submission")
		}
		return nil, err
	}
	log.Info("job created")
	return s.store.Get(ctx, job.UUID)
}

// DeleteJob revokes and deletes the job in the background.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	return s.revoker.SubmitDeletion(ctx, id)
}

func (s *Service) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return nil, cutouterrors.NewNotFoundError(cutouterrors.EntityJob, "job "+id+" not found")
		}
		return nil, err
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context, opts jobstore.ListOptions) ([]models.Job, error) {
	return s.store.List(ctx, opts)
}

// Revoker serves the deletion steps on the workers.
func (s *Service) Revoker() *revoke.Controller {
	return s.revoker
}
