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

package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	JobTableName     = "jobs"
	JobFileTableName = "job_files"
)

// JobStatus uses the task broker's state names.
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusStarted JobStatus = "STARTED"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailure JobStatus = "FAILURE"
	JobStatusRetry   JobStatus = "RETRY"
	JobStatusRevoked JobStatus = "REVOKED"
)

var jobStatuses = []JobStatus{
	JobStatusPending, JobStatusStarted, JobStatusSuccess,
	JobStatusFailure, JobStatusRetry, JobStatusRevoked,
}

func JobStatusFromString(s string) (JobStatus, bool) {
	for _, status := range jobStatuses {
		if string(status) == s {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no transition is allowed out of the status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusFailure, JobStatusRevoked:
		return true
	}
	return false
}

type Job struct {
	UUID        string         `gorm:"type:varchar(36);primaryKey" json:"uuid"`
	Name        string         `gorm:"type:text" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	OwnerID     *uint          `gorm:"index" json:"ownerID,omitempty"`
	Owner       *User          `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Config      datatypes.JSON `json:"config"`
	Status      JobStatus      `gorm:"type:varchar(10);index;default:PENDING" json:"status"`
	ErrorInfo   string         `gorm:"type:text" json:"errorInfo"`
	TaskIDs     datatypes.JSON `json:"taskIDs"`
	CreatedAt   time.Time      `json:"created"`
	UpdatedAt   time.Time      `json:"modified"`
	Files       []JobFile      `gorm:"foreignKey:JobUUID;constraint:OnDelete:CASCADE" json:"files,omitempty"`
}

func (Job) TableName() string {
	return JobTableName
}

// TaskIDList decodes the stored task ids, keeping their order.
func (j *Job) TaskIDList() []string {
	ids := []string{}
	if len(j.TaskIDs) == 0 {
		return ids
	}
	_ = json.Unmarshal(j.TaskIDs, &ids)
	return ids
}

func (j *Job) ConfigMap() map[string]interface{} {
	cfg := map[string]interface{}{}
	if len(j.Config) == 0 {
		return cfg
	}
	_ = json.Unmarshal(j.Config, &cfg)
	return cfg
}

type JobFile struct {
	ID      uint   `gorm:"primarykey" json:"id"`
	JobUUID string `gorm:"type:varchar(36);uniqueIndex:uniq_job_file_path;not null" json:"jobUUID"`
	Path    string `gorm:"type:varchar(767);uniqueIndex:uniq_job_file_path;not null" json:"path"`
	Size    int64  `json:"size"`
}

func (JobFile) TableName() string {
	return JobFileTableName
}
