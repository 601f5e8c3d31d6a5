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

// Package jobstore persists jobs, their files and the transient metric events.
package jobstore

import (
	"context"
	"errors"

	"cutout.io/cutout/pkg/models"
)

var (
	ErrNotFound      = errors.New("job not found")
	ErrTerminalState = errors.New("job is in a terminal state")
)

type ListOptions struct {
	OwnerID  *uint
	Statuses []models.JobStatus
	Limit    int
}

type JobStore interface {
	Get(ctx context.Context, id string) (*models.Job, error)
	Create(ctx context.Context, job *models.Job) error
	// Update writes name, description and config. Status, error info and task
	// ids have their own writers.
	Update(ctx context.Context, job *models.Job) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]models.Job, error)

	// Transition sets the status of a non terminal job. errorInfo is only
	// written when the job has none yet.
	Transition(ctx context.Context, id string, status models.JobStatus, errorInfo string) error
	SetTaskIDs(ctx context.Context, id string, ids []string) error

	ListFiles(ctx context.Context, id string) ([]models.JobFile, error)
	// CreateFile returns false when the job already has a file at that path.
	CreateFile(ctx context.Context, file *models.JobFile) (bool, error)
}

type EventStore interface {
	RecordJobEvent(ctx context.Context, event *models.JobMetric) error
	RecordFileEvent(ctx context.Context, event *models.FileMetric) error
	ListJobEvents(ctx context.Context) ([]models.JobMetric, error)
	ListFileEvents(ctx context.Context) ([]models.FileMetric, error)
	FileTotals(ctx context.Context) (count int64, size int64, err error)
	CountUsers(ctx context.Context) (int64, error)
	// SaveSnapshot stores the snapshot and deletes the given events in one transaction.
	SaveSnapshot(ctx context.Context, snapshot *models.Metric, jobEventIDs, fileEventIDs []uint) error
	LatestSnapshot(ctx context.Context) (*models.Metric, error)
}

type Store interface {
	JobStore
	EventStore
}
