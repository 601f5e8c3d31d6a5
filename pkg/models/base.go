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
	"errors"

	"cutout.io/cutout/pkg/utils/database"
	"gorm.io/gorm"
)

func MigrateDatabase(opts *database.Options) error {
	db, err := database.NewDatabase(opts)
	if err != nil {
		return err
	}
	return MigrateModels(db.DB())
}

func MigrateModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Job{},
		&JobFile{},
		// transient metric events
		&JobMetric{},
		&FileMetric{},
		// metric snapshots
		&Metric{},
	)
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
