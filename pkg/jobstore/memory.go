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

package jobstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"cutout.io/cutout/pkg/models"
	"gorm.io/datatypes"
)

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu         sync.Mutex
	jobs       map[string]models.Job
	files      map[string][]models.JobFile
	users      []models.User
	jobEvents  []models.JobMetric
	fileEvents []models.FileMetric
	snapshots  []models.Metric
	nextID     uint
}

var _ Store = &MemoryStore{}

func NewMemoryStore(users ...models.User) *MemoryStore {
	return &MemoryStore{
		jobs:  map[string]models.Job{},
		files: map[string][]models.JobFile{},
		users: users,
	}
}

func (s *MemoryStore) id() uint {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	job.Files = append([]models.JobFile{}, s.files[id]...)
	return &job, nil
}

func (s *MemoryStore) Create(ctx context.Context, job *models.Job) error {
	prepareJob(job)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	job.CreatedAt, job.UpdatedAt = now, now
	stored := *job
	stored.Files = nil
	s.jobs[job.UUID] = stored
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[job.UUID]
	if !ok {
		return ErrNotFound
	}
	stored.Name = job.Name
	stored.Description = job.Description
	stored.Config = job.Config
	stored.UpdatedAt = time.Now()
	s.jobs[job.UUID] = stored
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	delete(s.files, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := []models.Job{}
	for _, job := range s.jobs {
		if opts.OwnerID != nil && (job.OwnerID == nil || *job.OwnerID != *opts.OwnerID) {
			continue
		}
		if len(opts.Statuses) > 0 && !containsStatus(opts.Statuses, job.Status) {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if opts.Limit > 0 && len(jobs) > opts.Limit {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

func containsStatus(statuses []models.JobStatus, status models.JobStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s *MemoryStore) Transition(ctx context.Context, id string, status models.JobStatus, errorInfo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.IsTerminal() {
		return ErrTerminalState
	}
	job.Status = status
	if job.ErrorInfo == "" {
		job.ErrorInfo = errorInfo
	}
	job.UpdatedAt = time.Now()
	s.jobs[id] = job
	return nil
}

func (s *MemoryStore) SetTaskIDs(ctx context.Context, id string, ids []string) error {
	content, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.TaskIDs = datatypes.JSON(content)
	s.jobs[id] = job
	return nil
}

func (s *MemoryStore) ListFiles(ctx context.Context, id string) ([]models.JobFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := append([]models.JobFile{}, s.files[id]...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (s *MemoryStore) CreateFile(ctx context.Context, file *models.JobFile) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[file.JobUUID]; !ok {
		return false, ErrNotFound
	}
	for _, existing := range s.files[file.JobUUID] {
		if existing.Path == file.Path {
			return false, nil
		}
	}
	file.ID = s.id()
	s.files[file.JobUUID] = append(s.files[file.JobUUID], *file)
	return true, nil
}

func (s *MemoryStore) RecordJobEvent(ctx context.Context, event *models.JobMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.ID = s.id()
	event.CreatedAt = time.Now()
	s.jobEvents = append(s.jobEvents, *event)
	return nil
}

func (s *MemoryStore) RecordFileEvent(ctx context.Context, event *models.FileMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.ID = s.id()
	event.CreatedAt = time.Now()
	if event.FileType == "" {
		event.FileType = models.FileTypeJob
	}
	s.fileEvents = append(s.fileEvents, *event)
	return nil
}

func (s *MemoryStore) ListJobEvents(ctx context.Context) ([]models.JobMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.JobMetric{}, s.jobEvents...), nil
}

func (s *MemoryStore) ListFileEvents(ctx context.Context) ([]models.FileMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.FileMetric{}, s.fileEvents...), nil
}

func (s *MemoryStore) FileTotals(ctx context.Context) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count, size int64
	for _, files := range s.files {
		for _, f := range files {
			count++
			size += f.Size
		}
	}
	return count, size, nil
}

func (s *MemoryStore) CountUsers(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.users)), nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, snapshot *models.Metric, jobEventIDs, fileEventIDs []uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot.ID = s.id()
	snapshot.CreatedAt = time.Now()
	s.snapshots = append(s.snapshots, *snapshot)

	consumed := map[uint]bool{}
	for _, id := range jobEventIDs {
		consumed[id] = true
	}
	for _, id := range fileEventIDs {
		consumed[id] = true
	}
	jobEvents := s.jobEvents[:0]
	for _, e := range s.jobEvents {
		if !consumed[e.ID] {
			jobEvents = append(jobEvents, e)
		}
	}
	s.jobEvents = jobEvents
	fileEvents := s.fileEvents[:0]
	for _, e := range s.fileEvents {
		if !consumed[e.ID] {
			fileEvents = append(fileEvents, e)
		}
	}
	s.fileEvents = fileEvents
	return nil
}

func (s *MemoryStore) LatestSnapshot(ctx context.Context) (*models.Metric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return nil, nil
	}
	latest := s.snapshots[len(s.snapshots)-1]
	return &latest, nil
}
