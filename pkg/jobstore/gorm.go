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
	"errors"

	"cutout.io/cutout/pkg/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var terminalStatuses = []models.JobStatus{
	models.JobStatusSuccess, models.JobStatusFailure, models.JobStatusRevoked,
}

type GormStore struct {
	db *gorm.DB
}

var _ Store = &GormStore{}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.Job, error) {
	job := &models.Job{}
	if err := s.db.WithContext(ctx).First(job, "uuid = ?", id).Error; err != nil {
		return nil, convertError(err)
	}
	return job, nil
}

func (s *GormStore) Create(ctx context.Context, job *models.Job) error {
	prepareJob(job)
	return s.db.WithContext(ctx).Create(job).Error
}

func prepareJob(job *models.Job) {
	if job.UUID == "" {
		job.UUID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if len(job.TaskIDs) == 0 {
		job.TaskIDs = datatypes.JSON("[]")
	}
	if len(job.Config) == 0 {
		job.Config = datatypes.JSON("{}")
	}
}

func (s *GormStore) Update(ctx context.Context, job *models.Job) error {
	result := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("uuid = ?", job.UUID).
		Select("name", "description", "config").
		Updates(job)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := s.Get(ctx, job.UUID); err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_uuid = ?", id).Delete(&models.JobFile{}).Error; err != nil {
			return err
		}
		result := tx.Where("uuid = ?", id).Delete(&models.Job{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *GormStore) List(ctx context.Context, opts ListOptions) ([]models.Job, error) {
	query := s.db.WithContext(ctx).Model(&models.Job{})
	if opts.OwnerID != nil {
		query = query.Where("owner_id = ?", *opts.OwnerID)
	}
	if len(opts.Statuses) > 0 {
		query = query.Where("status IN ?", opts.Statuses)
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	jobs := []models.Job{}
	if err := query.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// Transition is a single conditional update, concurrent callers need no lock.
func (s *GormStore) Transition(ctx context.Context, id string, status models.JobStatus, errorInfo string) error {
	result := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("uuid = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(map[string]interface{}{
			"status":     status,
			"error_info": gorm.Expr("CASE WHEN error_info = '' THEN ? ELSE error_info END", errorInfo),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return ErrTerminalState
	}
	// the row matched but nothing changed
	return nil
}

func (s *GormStore) SetTaskIDs(ctx context.Context, id string, ids []string) error {
	content, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&models.Job{}).Where("uuid = ?", id).Update("task_ids", datatypes.JSON(content))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListFiles(ctx context.Context, id string) ([]models.JobFile, error) {
	files := []models.JobFile{}
	if err := s.db.WithContext(ctx).Where("job_uuid = ?", id).Order("path").Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

func (s *GormStore) CreateFile(ctx context.Context, file *models.JobFile) (bool, error) {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(file)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) RecordJobEvent(ctx context.Context, event *models.JobMetric) error {
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *GormStore) RecordFileEvent(ctx context.Context, event *models.FileMetric) error {
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *GormStore) ListJobEvents(ctx context.Context) ([]models.JobMetric, error) {
	events := []models.JobMetric{}
	if err := s.db.WithContext(ctx).Order("id").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (s *GormStore) ListFileEvents(ctx context.Context) ([]models.FileMetric, error) {
	events := []models.FileMetric{}
	if err := s.db.WithContext(ctx).Order("id").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (s *GormStore) FileTotals(ctx context.Context) (int64, int64, error) {
	totals := struct {
		Count int64
		Size  int64
	}{}
	err := s.db.WithContext(ctx).Model(&models.JobFile{}).
		Select("COUNT(*) AS count, COALESCE(SUM(size), 0) AS size").
		Scan(&totals).Error
	return totals.Count, totals.Size, err
}

func (s *GormStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error
	return count, err
}

func (s *GormStore) SaveSnapshot(ctx context.Context, snapshot *models.Metric, jobEventIDs, fileEventIDs []uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(snapshot).Error; err != nil {
			return err
		}
		if len(jobEventIDs) > 0 {
			if err := tx.Delete(&models.JobMetric{}, jobEventIDs).Error; err != nil {
				return err
			}
		}
		if len(fileEventIDs) > 0 {
			if err := tx.Delete(&models.FileMetric{}, fileEventIDs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) LatestSnapshot(ctx context.Context) (*models.Metric, error) {
	snapshot := &models.Metric{}
	if err := s.db.WithContext(ctx).Order("id DESC").First(snapshot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return snapshot, nil
}

func convertError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
