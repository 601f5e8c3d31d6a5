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
	"time"

	"gorm.io/datatypes"
)

// JobMetric and FileMetric are transient events, only the metrics aggregator
// reads and deletes them.

type JobMetric struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	Status    JobStatus      `gorm:"type:varchar(10)" json:"status"`
	OwnerID   *uint          `json:"ownerID,omitempty"`
	Config    datatypes.JSON `json:"config"`
	CreatedAt time.Time      `json:"createdAt"`
}

type FileType string

const (
	FileTypeJob FileType = "job"
)

type FileMetric struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Size      int64     `json:"size"`
	OwnerID   *uint     `json:"ownerID,omitempty"`
	FileType  FileType  `gorm:"type:varchar(10);default:job" json:"fileType"`
	CreatedAt time.Time `json:"createdAt"`
}

// Metric is one aggregated snapshot, never updated once written.
type Metric struct {
	ID                uint      `gorm:"primarykey" json:"id"`
	JobsRun           int64     `json:"jobsRun"`
	JobsSuccess       int64     `json:"jobsSuccess"`
	JobsFailure       int64     `json:"jobsFailure"`
	UsersCount        int64     `json:"usersCount"`
	UsersActive       int64     `json:"usersActive"`
	JobFilesAdded     int64     `json:"jobFilesAdded"`
	JobFilesAddedSize int64     `json:"jobFilesAddedSize"`
	JobFilesTotal     int64     `json:"jobFilesTotal"`
	JobFilesSize      int64     `json:"jobFilesSize"`
	CreatedAt         time.Time `json:"createdAt"`
}
